package queue

import (
	"errors"
	"fmt"
)

// Common errors
var (
	// ErrRepositoryNil is returned when a nil repository is provided
	ErrRepositoryNil = errors.New("repository cannot be nil")

	// ErrRegistryNil is returned when a nil registry is provided
	ErrRegistryNil = errors.New("registry cannot be nil")

	// ErrPayloadNil is returned when attempting to enqueue a nil payload
	ErrPayloadNil = errors.New("payload cannot be nil")

	// ErrValidation is returned when a payload does not match its job definition.
	// Such jobs are never persisted.
	ErrValidation = errors.New("payload validation failed")

	// ErrConfiguration marks programming errors: unknown queues or job types,
	// duplicate registrations. These are never retried.
	ErrConfiguration = errors.New("job queue misconfigured")

	// ErrUnknownQueue is returned when a queue name is not registered
	ErrUnknownQueue = errors.New("unknown queue")

	// ErrUnknownJobType is returned when a job type has no definition
	ErrUnknownJobType = errors.New("unknown job type")

	// ErrJobTypeRegistered is returned when a job type is defined twice
	ErrJobTypeRegistered = errors.New("job type already registered")

	// ErrQueueConflict is returned when a queue is registered twice with different config
	ErrQueueConflict = errors.New("queue already registered with different config")

	// ErrInvalidPriority is returned when priority is outside valid range
	ErrInvalidPriority = errors.New("priority must be between 0 and 1000")

	// ErrNoItemsToEnqueue is returned when batch enqueue is called with empty items
	ErrNoItemsToEnqueue = errors.New("no items to enqueue")

	// ErrShutdownTimeout is returned by Worker.Stop when handlers outlive the shutdown timeout
	ErrShutdownTimeout = errors.New("worker shutdown timed out")

	// ErrJobNotFound is returned when a job does not exist in storage
	ErrJobNotFound = errors.New("job not found")

	// ErrJobExists is returned when a job with the same ID is already stored
	ErrJobExists = errors.New("job already exists")

	// ErrNoJobToClaim is returned by storage when nothing is eligible for leasing
	ErrNoJobToClaim = errors.New("no job to claim")

	// ErrLeaseLost is returned when a transition presents a stale lease token
	ErrLeaseLost = errors.New("job lease lost")

	// ErrLeaseExpired is recorded when an active job stops heartbeating
	ErrLeaseExpired = errors.New("job lease expired")

	// ErrParentNotFound is returned when a child references a missing parent
	ErrParentNotFound = errors.New("parent job not found")

	// ErrParentFinished is returned when a child is added to a terminal parent
	ErrParentFinished = errors.New("parent job already finished")

	// ErrChildrenPending is returned when child results are read before all children finished
	ErrChildrenPending = errors.New("child jobs still pending")

	// ErrWaitForChildren is returned by a handler to park its job until children finish
	ErrWaitForChildren = errors.New("waiting for child jobs")

	// ErrNoPendingChildren is recorded when a handler waits for children but none are pending
	ErrNoPendingChildren = errors.New("waiting for children with none pending")

	// ErrJobNotFailed is returned when retrying a job that is not in failed state
	ErrJobNotFailed = errors.New("job is not in failed state")

	// ErrHandlerNotFound is returned when no definition is registered for a leased job
	ErrHandlerNotFound = errors.New("no handler registered for job type")

	// ErrNoQueues is returned when a worker has nothing to serve
	ErrNoQueues = errors.New("no queues to process")

	// ErrInvalidSchedule is returned when schedule format is invalid
	ErrInvalidSchedule = errors.New("invalid schedule format")

	// ErrGateNil is returned when a scheduler is built without an environment gate
	ErrGateNil = errors.New("scheduler gate cannot be nil")

	// ErrSchedulerNotConfigured is returned when scheduler has no entries
	ErrSchedulerNotConfigured = errors.New("scheduler has no registered entries")

	// ErrFailedToGetNextJob is returned when fetching next job fails
	ErrFailedToGetNextJob = errors.New("failed to get next job from storage")

	// ErrFailedToUpdateJobStatus is returned when job status update fails
	ErrFailedToUpdateJobStatus = errors.New("failed to update job status")
)

// NonRetryableError wraps a handler error that must not be retried
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string {
	return "non-retryable: " + e.Err.Error()
}

func (e *NonRetryableError) Unwrap() error {
	return e.Err
}

// NonRetryable marks err as terminal: the job fails without using its remaining attempts.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

// IsNonRetryable reports whether err, or anything it wraps, is a NonRetryableError
func IsNonRetryable(err error) bool {
	var nr *NonRetryableError
	return errors.As(err, &nr)
}

// WaitForChildren is returned from a handler once it has enqueued its children.
// The job is parked and re-leased after every child reaches a terminal state.
func WaitForChildren() error {
	return ErrWaitForChildren
}

func configError(err error, format string, args ...any) error {
	return errors.Join(ErrConfiguration, err, fmt.Errorf(format, args...))
}
