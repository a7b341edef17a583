package mongostore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/jobkit/pkg/queue"
)

// jobDocument is the stored form of queue.Job. Ids are kept as strings so
// documents stay readable in the shell. BSON dates have millisecond precision.
type jobDocument struct {
	ID              string          `bson:"_id"`
	Seq             int64           `bson:"seq"`
	Type            string          `bson:"type"`
	Queue           string          `bson:"queue"`
	Payload         string          `bson:"payload,omitempty"`
	Status          string          `bson:"status"`
	Priority        int             `bson:"priority"`
	Attempt         int             `bson:"attempt"`
	MaxAttempts     int             `bson:"max_attempts"`
	Backoff         queue.Backoff   `bson:"backoff"`
	ParentID        string          `bson:"parent_id,omitempty"`
	ChildCount      int             `bson:"child_count"`
	PendingChildren int             `bson:"pending_children"`
	ChildrenAt      *time.Time      `bson:"children_at,omitempty"`
	RunAt           time.Time       `bson:"run_at"`
	Result          string          `bson:"result,omitempty"`
	Error           *queue.JobError `bson:"error,omitempty"`
	Schedule        string          `bson:"schedule"`
	LockedBy        string          `bson:"locked_by,omitempty"`
	LockedUntil     *time.Time      `bson:"locked_until,omitempty"`
	CreatedAt       time.Time       `bson:"created_at"`
	StartedAt       *time.Time      `bson:"started_at,omitempty"`
	FinishedAt      *time.Time      `bson:"finished_at,omitempty"`
}

func newDocument(j *queue.Job, seq int64) jobDocument {
	d := jobDocument{
		ID:          j.ID.String(),
		Seq:         seq,
		Type:        j.Type,
		Queue:       j.Queue,
		Payload:     string(j.Payload),
		Status:      string(j.Status),
		Priority:    int(j.Priority),
		Attempt:     j.Attempt,
		MaxAttempts: j.MaxAttempts,
		Backoff:     j.Backoff,
		RunAt:       j.RunAt.UTC(),
		Schedule:    j.Schedule,
		CreatedAt:   j.CreatedAt.UTC(),
	}
	if j.ParentID != nil {
		d.ParentID = j.ParentID.String()
	}
	return d
}

func (d jobDocument) job() (*queue.Job, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid job id %q: %w", d.ID, err)
	}

	j := &queue.Job{
		ID:              id,
		Type:            d.Type,
		Queue:           d.Queue,
		Status:          queue.JobStatus(d.Status),
		Priority:        queue.Priority(d.Priority),
		Attempt:         d.Attempt,
		MaxAttempts:     d.MaxAttempts,
		Backoff:         d.Backoff,
		ChildCount:      d.ChildCount,
		PendingChildren: d.PendingChildren,
		RunAt:           d.RunAt,
		Error:           d.Error,
		Schedule:        d.Schedule,
		LockedUntil:     d.LockedUntil,
		CreatedAt:       d.CreatedAt,
		StartedAt:       d.StartedAt,
		FinishedAt:      d.FinishedAt,
	}
	if d.Payload != "" {
		j.Payload = json.RawMessage(d.Payload)
	}
	if d.Result != "" {
		j.Result = json.RawMessage(d.Result)
	}
	if d.ParentID != "" {
		p, err := uuid.Parse(d.ParentID)
		if err != nil {
			return nil, fmt.Errorf("invalid parent id %q: %w", d.ParentID, err)
		}
		j.ParentID = &p
	}
	if d.LockedBy != "" {
		l, err := uuid.Parse(d.LockedBy)
		if err != nil {
			return nil, fmt.Errorf("invalid lease token %q: %w", d.LockedBy, err)
		}
		j.LockedBy = &l
	}
	return j, nil
}
