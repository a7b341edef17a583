package queue

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Inspector exposes read access to jobs and queues plus manual retry
type Inspector struct {
	repo InspectorRepository
	reg  *Registry
}

// NewInspector creates a new Inspector
func NewInspector(repo InspectorRepository, reg *Registry) (*Inspector, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}
	if reg == nil {
		return nil, ErrRegistryNil
	}
	return &Inspector{repo: repo, reg: reg}, nil
}

// GetJob returns a job by ID or ErrJobNotFound
func (i *Inspector) GetJob(ctx context.Context, id uuid.UUID) (*Job, error) {
	return i.repo.GetJob(ctx, id)
}

// QueueStats returns per-status counts for a registered queue
func (i *Inspector) QueueStats(ctx context.Context, name string) (QueueStats, error) {
	if _, err := i.reg.Queue(name); err != nil {
		return QueueStats{}, err
	}
	return i.repo.QueueStats(ctx, name)
}

// AllQueueStats returns stats for every registered queue, sorted by name
func (i *Inspector) AllQueueStats(ctx context.Context) ([]QueueStats, error) {
	names := i.reg.QueueNames()
	out := make([]QueueStats, 0, len(names))
	for _, name := range names {
		s, err := i.repo.QueueStats(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("failed to get stats of queue %q: %w", name, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// ListJobs returns jobs matching filter in enqueue order
func (i *Inspector) ListJobs(ctx context.Context, filter ListFilter) ([]*Job, error) {
	if filter.Queue != "" {
		if _, err := i.reg.Queue(filter.Queue); err != nil {
			return nil, err
		}
	}
	return i.repo.ListJobs(ctx, filter)
}

// ChildJobs returns every child of parentID in enqueue order, or ErrJobNotFound
func (i *Inspector) ChildJobs(ctx context.Context, parentID uuid.UUID) ([]*Job, error) {
	return i.repo.ChildJobs(ctx, parentID)
}

// ChildResults returns the outcome of every child of parentID.
// It returns ErrChildrenPending when any child is not terminal yet.
func (i *Inspector) ChildResults(ctx context.Context, parentID uuid.UUID) (map[uuid.UUID]ChildResult, error) {
	children, err := i.repo.ChildJobs(ctx, parentID)
	if err != nil {
		return nil, err
	}
	return collectChildResults(children)
}

// RetryJob moves a failed job back to waiting with a fresh attempt budget
func (i *Inspector) RetryJob(ctx context.Context, id uuid.UUID) error {
	if err := i.repo.RetryFailedJob(ctx, id); err != nil {
		return err
	}
	if job, err := i.repo.GetJob(ctx, id); err == nil {
		if q, err := i.reg.Queue(job.Queue); err == nil {
			q.retried.Add(1)
		}
	}
	return nil
}

// Registry returns the registry the inspector validates queue names against
func (i *Inspector) Registry() *Registry {
	return i.reg
}
