package queue

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Flow is a tree of jobs enqueued together.
// A node with children runs its handler once, after every child is terminal.
type Flow struct {
	JobType  string
	Payload  any
	Options  []EnqueueOption
	Children []Flow
}

// FlowNode mirrors a Flow with the IDs assigned to each job
type FlowNode struct {
	ID       uuid.UUID  `json:"id"`
	JobType  string     `json:"job_type"`
	Children []FlowNode `json:"children,omitempty"`
}

// EnqueueFlow validates the whole tree and persists it atomically.
// Parents are stored before their children so the store can register each
// child under its parent within the same call.
func (e *Enqueuer) EnqueueFlow(ctx context.Context, flow Flow) (FlowNode, error) {
	var jobs []*Job
	var defs []Definition

	node, err := e.buildFlow(flow, nil, &jobs, &defs, "root")
	if err != nil {
		return FlowNode{}, err
	}

	if err := e.repo.CreateJobs(ctx, jobs); err != nil {
		return FlowNode{}, fmt.Errorf("failed to create flow %q with %d jobs: %w", flow.JobType, len(jobs), err)
	}

	for _, d := range defs {
		d.Queue().enqueued.Add(1)
	}
	return node, nil
}

func (e *Enqueuer) buildFlow(f Flow, parentID *uuid.UUID, jobs *[]*Job, defs *[]Definition, path string) (FlowNode, error) {
	def, err := e.reg.Definition(f.JobType)
	if err != nil {
		return FlowNode{}, fmt.Errorf("flow node %s: %w", path, err)
	}

	opts := f.Options
	if parentID != nil {
		opts = append(append([]EnqueueOption(nil), f.Options...), WithParent(*parentID))
	}

	job, err := e.buildJob(def, f.Payload, opts)
	if err != nil {
		return FlowNode{}, fmt.Errorf("flow node %s (%s): %w", path, f.JobType, err)
	}
	if len(f.Children) > 0 {
		job.Status = StatusWaitingChildren
	}

	*jobs = append(*jobs, job)
	*defs = append(*defs, def)

	node := FlowNode{ID: job.ID, JobType: job.Type}
	for i, child := range f.Children {
		cn, err := e.buildFlow(child, &job.ID, jobs, defs, fmt.Sprintf("%s.%d", path, i))
		if err != nil {
			return FlowNode{}, err
		}
		node.Children = append(node.Children, cn)
	}
	return node, nil
}
