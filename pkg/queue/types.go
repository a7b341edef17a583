package queue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the lifecycle state of a job
type JobStatus string

const (
	StatusWaiting         JobStatus = "waiting"
	StatusDelayed         JobStatus = "delayed"
	StatusActive          JobStatus = "active"
	StatusWaitingChildren JobStatus = "waiting_children"
	StatusCompleted       JobStatus = "completed"
	StatusFailed          JobStatus = "failed"
)

// Terminal reports whether no further transitions are possible from the status
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is one of the known statuses
func (s JobStatus) Valid() bool {
	switch s {
	case StatusWaiting, StatusDelayed, StatusActive, StatusWaitingChildren, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Priority orders jobs inside a queue. Lower value runs first.
type Priority int

// Priority constants
const (
	PriorityMin      Priority = 0
	PriorityCritical Priority = 1
	PriorityHigh     Priority = 5
	PriorityDefault  Priority = 10
	PriorityLow      Priority = 50
	PriorityMax      Priority = 1000
)

// Valid checks if the priority is within valid range
func (p Priority) Valid() bool {
	return p >= PriorityMin && p <= PriorityMax
}

// Error kinds recorded in JobError.Kind
const (
	ErrorKindHandler         = "handler"
	ErrorKindNonRetryable    = "non_retryable"
	ErrorKindLeaseExpired    = "lease_expired"
	ErrorKindHandlerNotFound = "handler_not_found"
	ErrorKindPanic           = "panic"
)

// JobError is the structured failure recorded on a job
type JobError struct {
	Kind    string    `json:"kind" bson:"kind"`
	Message string    `json:"message" bson:"message"`
	Attempt int       `json:"attempt" bson:"attempt"`
	At      time.Time `json:"at" bson:"at"`
}

func (e *JobError) Error() string {
	return e.Kind + ": " + e.Message
}

// Job is a single unit of work persisted in storage.
// Retries reuse the same ID and increment Attempt.
type Job struct {
	ID              uuid.UUID       `json:"id"`
	Type            string          `json:"type"`
	Queue           string          `json:"queue"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	Status          JobStatus       `json:"status"`
	Priority        Priority        `json:"priority"`
	Attempt         int             `json:"attempt"`
	MaxAttempts     int             `json:"max_attempts"`
	Backoff         Backoff         `json:"backoff"`
	ParentID        *uuid.UUID      `json:"parent_id,omitempty"`
	ChildCount      int             `json:"child_count"`
	PendingChildren int             `json:"pending_children"`
	RunAt           time.Time       `json:"run_at"`
	Result          json.RawMessage `json:"result,omitempty"`
	Error           *JobError       `json:"error,omitempty"`
	Schedule        string          `json:"schedule,omitempty"`
	LockedBy        *uuid.UUID      `json:"locked_by,omitempty"`
	LockedUntil     *time.Time      `json:"locked_until,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	FinishedAt      *time.Time      `json:"finished_at,omitempty"`
}

// Clone returns a deep copy so storage internals never leak to callers
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	if j.Payload != nil {
		c.Payload = append(json.RawMessage(nil), j.Payload...)
	}
	if j.Result != nil {
		c.Result = append(json.RawMessage(nil), j.Result...)
	}
	if j.Error != nil {
		e := *j.Error
		c.Error = &e
	}
	if j.ParentID != nil {
		p := *j.ParentID
		c.ParentID = &p
	}
	if j.LockedBy != nil {
		l := *j.LockedBy
		c.LockedBy = &l
	}
	if j.LockedUntil != nil {
		t := *j.LockedUntil
		c.LockedUntil = &t
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}

// QueueStats is a point-in-time count of jobs per status in one queue
type QueueStats struct {
	Queue           string `json:"queue"`
	Waiting         int64  `json:"waiting"`
	Delayed         int64  `json:"delayed"`
	Active          int64  `json:"active"`
	WaitingChildren int64  `json:"waiting_children"`
	Completed       int64  `json:"completed"`
	Failed          int64  `json:"failed"`
}

// Pending is the number of jobs eligible or soon eligible for leasing
func (s QueueStats) Pending() int64 {
	return s.Waiting + s.Delayed
}

// MarshalJSON adds the derived pending count to the stored counters
func (s QueueStats) MarshalJSON() ([]byte, error) {
	type counters QueueStats
	return json.Marshal(struct {
		counters
		Pending int64 `json:"pending"`
	}{counters(s), s.Pending()})
}

// ListFilter narrows ListJobs results. Zero values mean "any".
type ListFilter struct {
	Queue    string
	Status   JobStatus
	ParentID *uuid.UUID
	Limit    int
	Offset   int
}

// ChildResult is what a parent sees for one of its children
type ChildResult struct {
	Type   string          `json:"type"`
	Status JobStatus       `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *JobError       `json:"error,omitempty"`
}

// Failed reports whether the child ended in failure
func (r ChildResult) Failed() bool {
	return r.Status == StatusFailed
}
