package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/jobkit/pkg/logger"
)

// Worker processes jobs from one or more queues.
// Each queue gets its own pool bounded by the queue's concurrency.
type Worker struct {
	repo     WorkerRepository
	reg      *Registry
	pools    map[string]*pool
	queues   []string
	workerID uuid.UUID
	wg       sync.WaitGroup
	mu       sync.RWMutex
	stopMu   sync.Mutex // Protects stopping state and WaitGroup operations

	// Configuration
	pullInterval    time.Duration
	lockTimeout     time.Duration
	shutdownTimeout time.Duration
	logger          *slog.Logger

	// State management
	ctx      context.Context
	cancel   context.CancelFunc
	stopping atomic.Bool
}

// NewWorker creates a worker serving the given queues of reg
func NewWorker(repo WorkerRepository, reg *Registry, opts ...WorkerOption) (*Worker, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}
	if reg == nil {
		return nil, ErrRegistryNil
	}

	options := &workerOptions{
		pullInterval: time.Second,
		lockTimeout:  5 * time.Minute,
		logger:       slog.Default(),
	}

	for _, opt := range opts {
		opt(options)
	}

	queues := options.queues
	if len(queues) == 0 {
		queues = reg.QueueNames()
	}
	if len(queues) == 0 {
		return nil, ErrNoQueues
	}

	pools := make(map[string]*pool, len(queues))
	for _, name := range queues {
		q, err := reg.Queue(name)
		if err != nil {
			return nil, err
		}
		pools[name] = newPool(q)
	}

	return &Worker{
		repo:            repo,
		reg:             reg,
		pools:           pools,
		queues:          queues,
		workerID:        uuid.New(),
		pullInterval:    options.pullInterval,
		lockTimeout:     options.lockTimeout,
		shutdownTimeout: options.shutdownTimeout,
		logger:          options.logger,
	}, nil
}

// Start begins processing jobs in the background
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.cancel != nil {
		w.mu.Unlock()
		return fmt.Errorf("worker already started")
	}

	w.ctx, w.cancel = context.WithCancel(ctx)
	w.mu.Unlock()

	// Reset stopping flag
	w.stopping.Store(false)

	for _, name := range w.queues {
		p := w.pools[name]
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.loop(p)
		}()
	}

	w.logger.Info("worker started",
		logger.WorkerID(w.workerID.String()),
		slog.Any("queues", w.queues))

	return nil
}

// Stop gracefully shuts down the worker.
// Running handlers are never cancelled; Stop waits for them to return, up to
// the shutdown timeout when one is set.
func (w *Worker) Stop() error {
	w.mu.Lock()
	if w.cancel == nil {
		w.mu.Unlock()
		return fmt.Errorf("worker not started")
	}

	// Use stopMu to synchronize with pool loops
	w.stopMu.Lock()
	w.stopping.Store(true)
	w.stopMu.Unlock()

	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()

	cancel()

	w.logger.Info("worker stopping, waiting for active jobs to complete",
		logger.WorkerID(w.workerID.String()))

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	var timeout <-chan time.Time
	if w.shutdownTimeout > 0 {
		timer := time.NewTimer(w.shutdownTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-done:
	case <-timeout:
		w.logger.Warn("worker shutdown timed out, running jobs will be recovered after lease expiry",
			logger.WorkerID(w.workerID.String()),
			logger.Duration(w.shutdownTimeout.String()))
		return ErrShutdownTimeout
	}

	w.logger.Info("worker stopped",
		logger.WorkerID(w.workerID.String()))

	return nil
}

// Run starts the worker and returns a function suitable for errgroup
func (w *Worker) Run(ctx context.Context) func() error {
	return func() error {
		if err := w.Start(ctx); err != nil {
			return err
		}

		<-ctx.Done()

		return w.Stop()
	}
}

// Pause stops leasing new jobs from queue. Running jobs are not affected.
func (w *Worker) Pause(queue string) error {
	p, ok := w.pools[queue]
	if !ok {
		return configError(ErrUnknownQueue, "worker does not serve queue %q", queue)
	}
	p.paused.Store(true)
	w.logger.Info("queue paused", logger.WorkerID(w.workerID.String()), logger.Queue(queue))
	return nil
}

// Resume re-enables leasing for a paused queue
func (w *Worker) Resume(queue string) error {
	p, ok := w.pools[queue]
	if !ok {
		return configError(ErrUnknownQueue, "worker does not serve queue %q", queue)
	}
	p.paused.Store(false)
	p.signal()
	w.logger.Info("queue resumed", logger.WorkerID(w.workerID.String()), logger.Queue(queue))
	return nil
}

// Paused reports whether queue is paused on this worker
func (w *Worker) Paused(queue string) bool {
	p, ok := w.pools[queue]
	return ok && p.paused.Load()
}

// Wake makes the pools look for due jobs immediately instead of waiting for the next tick
func (w *Worker) Wake() {
	for _, p := range w.pools {
		p.signal()
	}
}

// processJob executes a leased job and records its outcome
func (w *Worker) processJob(p *pool, job *Job, token uuid.UUID) error {
	start := time.Now()
	// Outcome transitions must land even while the worker shuts down
	ctx := context.WithoutCancel(w.ctx)

	log := w.logger.With(
		logger.WorkerID(w.workerID.String()),
		logger.JobID(job.ID.String()),
		logger.JobType(job.Type),
		logger.Queue(job.Queue),
		logger.Attempt(job.Attempt))

	def, err := w.reg.Definition(job.Type)
	if err != nil {
		return w.handleMissingHandler(ctx, p, job, token, log)
	}

	log.Debug("job leased", slog.Int("max_attempts", job.MaxAttempts))

	// A handler that waits after its children already finished runs once more
	// in place. Waiting again with nothing pending counts as a failed attempt.
	for rerun := false; ; rerun = true {
		result, panicked, execErr := w.execute(def, job, token, log)
		duration := time.Since(start)

		switch {
		case execErr == nil:
			if err := w.repo.CompleteJob(ctx, job.ID, token, result); err != nil {
				return w.transitionError("completed", job, err)
			}
			p.queue.completed.Add(1)
			log.Info("job completed", logger.Duration(duration))
			return nil

		case errors.Is(execErr, ErrWaitForChildren):
			waiting, err := w.repo.WaitForChildren(ctx, job.ID, token)
			if err != nil {
				return w.transitionError("waiting_children", job, err)
			}
			if waiting {
				log.Debug("job waiting for children", logger.Duration(duration))
				return nil
			}
			if rerun {
				return w.handleJobFailure(ctx, p, job, token, ErrNoPendingChildren, false, duration, log)
			}
			if job, err = w.refreshChildren(ctx, job); err != nil {
				return err
			}
			log.Debug("children already finished, running job again", slog.Int("children", job.ChildCount))
			continue
		}

		return w.handleJobFailure(ctx, p, job, token, execErr, panicked, duration, log)
	}
}

// refreshChildren returns a copy of job with the child count seen by storage
func (w *Worker) refreshChildren(ctx context.Context, job *Job) (*Job, error) {
	children, err := w.repo.ChildJobs(ctx, job.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load children of job %s: %w", job.ID, err)
	}
	fresh := job.Clone()
	fresh.ChildCount = len(children)
	fresh.PendingChildren = 0
	return fresh, nil
}

// execute runs the handler with heartbeat and panic recovery
func (w *Worker) execute(def Definition, job *Job, token uuid.UUID, log *slog.Logger) (result json.RawMessage, panicked bool, err error) {
	// Detached from the worker context so graceful shutdown lets handlers finish
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if t := def.Timeout(); t > 0 {
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}

	ctx = withJob(ctx, newJobInfo(job), log, func(ctx context.Context) ([]*Job, error) {
		return w.repo.ChildJobs(ctx, job.ID)
	})

	stopHeartbeat := w.heartbeat(ctx, cancel, job.ID, token, log)
	defer stopHeartbeat()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in handler: %v", r)
			panicked = true
			log.Error("handler panicked",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()

	result, err = def.Handle(ctx, job.Payload)
	return result, false, err
}

// heartbeat extends the lease every lockTimeout/3 while the handler runs.
// Losing the lease cancels the handler context.
func (w *Worker) heartbeat(ctx context.Context, cancel context.CancelFunc, id, token uuid.UUID, log *slog.Logger) func() {
	interval := w.lockTimeout / 3
	if interval <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	var once sync.Once
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := w.repo.ExtendLock(context.WithoutCancel(ctx), id, token, w.lockTimeout)
				if errors.Is(err, ErrLeaseLost) || errors.Is(err, ErrJobNotFound) {
					log.Warn("job lease lost, cancelling handler", logger.Error(err))
					cancel()
					return
				}
				if err != nil {
					log.Error("failed to extend job lease", logger.Error(err))
				}
			}
		}
	}()

	return func() { once.Do(func() { close(done) }) }
}

// handleMissingHandler fails jobs whose type has no definition in this process.
// Retries cannot help until the definition is deployed.
func (w *Worker) handleMissingHandler(ctx context.Context, p *pool, job *Job, token uuid.UUID, log *slog.Logger) error {
	log.Error("no handler registered for job type")

	jobErr := JobError{
		Kind:    ErrorKindHandlerNotFound,
		Message: ErrHandlerNotFound.Error() + ": " + job.Type,
		Attempt: job.Attempt,
		At:      time.Now(),
	}
	if err := w.repo.FailJob(ctx, job.ID, token, jobErr); err != nil {
		return w.transitionError("failed", job, err)
	}
	p.queue.failed.Add(1)
	return nil
}

// handleJobFailure decides between retry and terminal failure.
// Non-retryable errors and exhausted attempts fail the job; everything else is
// rescheduled after the job's backoff delay.
func (w *Worker) handleJobFailure(ctx context.Context, p *pool, job *Job, token uuid.UUID, execErr error, panicked bool, duration time.Duration, log *slog.Logger) error {
	kind := ErrorKindHandler
	switch {
	case IsNonRetryable(execErr):
		kind = ErrorKindNonRetryable
	case panicked:
		kind = ErrorKindPanic
	}

	now := time.Now()
	jobErr := JobError{
		Kind:    kind,
		Message: execErr.Error(),
		Attempt: job.Attempt,
		At:      now,
	}

	if kind == ErrorKindNonRetryable || job.Attempt >= job.MaxAttempts {
		if err := w.repo.FailJob(ctx, job.ID, token, jobErr); err != nil {
			return w.transitionError("failed", job, err)
		}
		p.queue.failed.Add(1)
		log.Error("job failed",
			slog.String("kind", kind),
			slog.Int("max_attempts", job.MaxAttempts),
			logger.Duration(duration),
			logger.Error(execErr))
		return nil
	}

	delay := NextDelay(job.Attempt, job.Backoff)
	if err := w.repo.RetryJob(ctx, job.ID, token, jobErr, now.Add(delay)); err != nil {
		return w.transitionError("retry", job, err)
	}
	p.queue.retried.Add(1)
	log.Warn("job failed, will retry",
		slog.String("kind", kind),
		slog.Duration("retry_in", delay),
		logger.Duration(duration),
		logger.Error(execErr))
	return nil
}

func (w *Worker) transitionError(to string, job *Job, err error) error {
	if errors.Is(err, ErrLeaseLost) {
		return fmt.Errorf("job %s lost its lease before moving to %s: %w", job.ID, to, err)
	}
	return errors.Join(ErrFailedToUpdateJobStatus, fmt.Errorf("job %s to %s: %w", job.ID, to, err))
}

// WorkerInfo returns information about the worker
func (w *Worker) WorkerInfo() (id string, hostname string, pid int) {
	hostname, _ = os.Hostname()
	return w.workerID.String(), hostname, os.Getpid()
}
