package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/jobkit/pkg/logger"
)

// Enqueuer validates payloads against their job definitions and persists jobs
type Enqueuer struct {
	repo   EnqueuerRepository
	reg    *Registry
	logger *slog.Logger
	now    func() time.Time
}

// NewEnqueuer creates a new Enqueuer
func NewEnqueuer(repo EnqueuerRepository, reg *Registry, opts ...EnqueuerOption) (*Enqueuer, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}
	if reg == nil {
		return nil, ErrRegistryNil
	}

	options := &enqueuerOptions{
		logger: slog.Default(),
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(options)
	}

	return &Enqueuer{
		repo:   repo,
		reg:    reg,
		logger: options.logger,
		now:    options.now,
	}, nil
}

// Registry returns the registry the enqueuer resolves job types against
func (e *Enqueuer) Registry() *Registry {
	return e.reg
}

// Enqueue validates payload against the definition of jobType and persists a new job.
// The returned ID is only handed out once the job is durably stored.
func (e *Enqueuer) Enqueue(ctx context.Context, jobType string, payload any, opts ...EnqueueOption) (uuid.UUID, error) {
	def, err := e.reg.Definition(jobType)
	if err != nil {
		return uuid.Nil, err
	}

	job, err := e.buildJob(def, payload, opts)
	if err != nil {
		return uuid.Nil, err
	}

	if err := e.repo.CreateJobs(ctx, []*Job{job}); err != nil {
		return uuid.Nil, fmt.Errorf("failed to create job %q in queue %q: %w", job.Type, job.Queue, err)
	}

	def.Queue().enqueued.Add(1)

	e.logger.DebugContext(ctx, "job enqueued",
		logger.JobID(job.ID.String()),
		logger.JobType(job.Type),
		logger.Queue(job.Queue),
		slog.String("status", string(job.Status)),
		slog.Time("run_at", job.RunAt))

	return job.ID, nil
}

// BatchItem is one payload of an EnqueueBatch call
type BatchItem struct {
	Payload any
	Options []EnqueueOption
}

// EnqueueBatch validates every item before persisting any of them,
// then stores them all in one atomic call.
func (e *Enqueuer) EnqueueBatch(ctx context.Context, jobType string, items ...BatchItem) ([]uuid.UUID, error) {
	if len(items) == 0 {
		return nil, ErrNoItemsToEnqueue
	}

	def, err := e.reg.Definition(jobType)
	if err != nil {
		return nil, err
	}

	jobs := make([]*Job, 0, len(items))
	var errs []error
	for i, item := range items {
		job, err := e.buildJob(def, item.Payload, item.Options)
		if err != nil {
			errs = append(errs, fmt.Errorf("item %d: %w", i, err))
			continue
		}
		jobs = append(jobs, job)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	if err := e.repo.CreateJobs(ctx, jobs); err != nil {
		return nil, fmt.Errorf("failed to create %d jobs of type %q: %w", len(jobs), jobType, err)
	}

	def.Queue().enqueued.Add(int64(len(jobs)))

	ids := make([]uuid.UUID, len(jobs))
	for i, j := range jobs {
		ids[i] = j.ID
	}
	return ids, nil
}

// buildJob validates the payload and resolves enqueue option > definition > queue defaults
func (e *Enqueuer) buildJob(def Definition, payload any, opts []EnqueueOption) (*Job, error) {
	raw, err := def.Validate(payload)
	if err != nil {
		return nil, err
	}

	options := &enqueueOptions{}
	for _, opt := range opts {
		opt(options)
	}

	priority := def.Priority()
	if options.priority != nil {
		if !options.priority.Valid() {
			return nil, errors.Join(ErrValidation, ErrInvalidPriority)
		}
		priority = *options.priority
	}

	attempts := def.Attempts()
	if options.attempts > 0 {
		attempts = options.attempts
	}

	now := e.now()
	runAt := now
	if options.runAt != nil {
		runAt = *options.runAt
	} else if options.delay > 0 {
		runAt = now.Add(options.delay)
	}

	status := StatusWaiting
	if runAt.After(now) {
		status = StatusDelayed
	}

	id := options.id
	if id == uuid.Nil {
		id = uuid.New()
	}

	return &Job{
		ID:          id,
		Type:        def.JobType(),
		Queue:       def.Queue().Name(),
		Payload:     json.RawMessage(raw),
		Status:      status,
		Priority:    priority,
		MaxAttempts: attempts,
		Backoff:     def.Backoff(),
		ParentID:    options.parentID,
		RunAt:       runAt,
		Schedule:    options.schedule,
		CreatedAt:   now,
	}, nil
}
