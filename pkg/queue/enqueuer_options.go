package queue

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// EnqueuerOption is a functional option for configuring an Enqueuer
type EnqueuerOption func(*enqueuerOptions)

type enqueuerOptions struct {
	logger *slog.Logger
	now    func() time.Time
}

// WithEnqueuerLogger sets the logger for the enqueuer
func WithEnqueuerLogger(logger *slog.Logger) EnqueuerOption {
	return func(o *enqueuerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithEnqueuerClock overrides the time source used to compute RunAt
func WithEnqueuerClock(now func() time.Time) EnqueuerOption {
	return func(o *enqueuerOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// EnqueueOption is a functional option for a single enqueue call.
// Values set here win over the definition and queue defaults.
type EnqueueOption func(*enqueueOptions)

type enqueueOptions struct {
	id       uuid.UUID
	priority *Priority
	attempts int
	delay    time.Duration
	runAt    *time.Time
	parentID *uuid.UUID
	schedule string
}

// WithJobID sets the job ID instead of generating one.
// Enqueueing an ID that already exists fails with ErrJobExists.
func WithJobID(id uuid.UUID) EnqueueOption {
	return func(o *enqueueOptions) {
		if id != uuid.Nil {
			o.id = id
		}
	}
}

// WithPriority sets the priority for the job. Lower value runs first.
// Values outside 0..1000 make the enqueue fail with ErrInvalidPriority.
func WithPriority(priority Priority) EnqueueOption {
	return func(o *enqueueOptions) {
		o.priority = &priority
	}
}

// WithAttempts sets the maximum number of attempts, including the first run
func WithAttempts(n int) EnqueueOption {
	return func(o *enqueueOptions) {
		if n > 0 {
			o.attempts = n
		}
	}
}

// WithDelay sets a delay before the job can be leased
func WithDelay(delay time.Duration) EnqueueOption {
	return func(o *enqueueOptions) {
		if delay > 0 {
			o.delay = delay
		}
	}
}

// WithRunAt sets a specific time for the job to become eligible
func WithRunAt(runAt time.Time) EnqueueOption {
	return func(o *enqueueOptions) {
		o.runAt = &runAt
	}
}

// WithParent registers the job as a child of parentID.
// The parent must exist and not be finished.
func WithParent(parentID uuid.UUID) EnqueueOption {
	return func(o *enqueueOptions) {
		if parentID != uuid.Nil {
			o.parentID = &parentID
		}
	}
}

// withSchedule tags the job with the recurring entry that produced it
func withSchedule(name string) EnqueueOption {
	return func(o *enqueueOptions) {
		o.schedule = name
	}
}
