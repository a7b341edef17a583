package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EnqueuerRepository persists new jobs.
//
// CreateJobs must be atomic: either every job is stored or none is.
// For each job with a ParentID the store checks the parent exists and is not
// terminal, then increments its ChildCount and PendingChildren in the same step.
// Parents that are part of the same call are visible to their children.
type EnqueuerRepository interface {
	CreateJobs(ctx context.Context, jobs []*Job) error
}

// WorkerRepository defines the storage operations a worker pool needs.
// Every transition out of active is fenced by the lease token minted at claim.
type WorkerRepository interface {
	// ClaimJob leases the next eligible job of queue, ordered by priority,
	// then RunAt, then enqueue order. It returns ErrNoJobToClaim when nothing is due.
	ClaimJob(ctx context.Context, queue string, token uuid.UUID, lockDuration time.Duration) (*Job, error)

	// ExtendLock pushes LockedUntil forward for a running job
	ExtendLock(ctx context.Context, id, token uuid.UUID, d time.Duration) error

	// CompleteJob stores the result and resolves the parent, if any
	CompleteJob(ctx context.Context, id, token uuid.UUID, result json.RawMessage) error

	// RetryJob records the error and schedules the job to run again at runAt
	RetryJob(ctx context.Context, id, token uuid.UUID, jobErr JobError, runAt time.Time) error

	// FailJob marks the job as terminally failed and resolves the parent, if any
	FailJob(ctx context.Context, id, token uuid.UUID, jobErr JobError) error

	// WaitForChildren parks the job until its pending children are terminal and
	// refunds the current attempt. It reports false when no child is pending,
	// in which case the job is left active under the same lease.
	WaitForChildren(ctx context.Context, id, token uuid.UUID) (bool, error)

	// ChildJobs returns every child registered under parentID
	ChildJobs(ctx context.Context, parentID uuid.UUID) ([]*Job, error)
}

// MaintenanceRepository defines the storage operations the janitor needs
type MaintenanceRepository interface {
	// RecoverExpiredLeases returns abandoned active jobs to waiting, or fails
	// them with ErrorKindLeaseExpired when no attempts remain.
	RecoverExpiredLeases(ctx context.Context, now time.Time) (int, error)

	// PurgeJobs deletes finished jobs of queue in status that finished before
	// olderThan, or that fall outside the newest keep jobs. Zero disables a limit.
	// Children of non-terminal parents are never deleted.
	PurgeJobs(ctx context.Context, queue string, status JobStatus, olderThan time.Time, keep int) (int, error)
}

// InspectorRepository defines the read side used for introspection
type InspectorRepository interface {
	GetJob(ctx context.Context, id uuid.UUID) (*Job, error)
	ChildJobs(ctx context.Context, parentID uuid.UUID) ([]*Job, error)
	QueueStats(ctx context.Context, queue string) (QueueStats, error)
	ListJobs(ctx context.Context, filter ListFilter) ([]*Job, error)

	// RetryFailedJob moves a failed job back to waiting with a fresh attempt budget
	RetryFailedJob(ctx context.Context, id uuid.UUID) error
}

// SchedulerRepository defines the storage operations the recurring scheduler needs
type SchedulerRepository interface {
	CreateJobs(ctx context.Context, jobs []*Job) error

	// GetPendingJobBySchedule returns the non-terminal job produced by the named
	// schedule, or ErrJobNotFound.
	GetPendingJobBySchedule(ctx context.Context, schedule string) (*Job, error)
}

// Storage is implemented by every backend: memory, PostgreSQL, Redis and MongoDB
type Storage interface {
	EnqueuerRepository
	WorkerRepository
	MaintenanceRepository
	InspectorRepository
	SchedulerRepository
}
