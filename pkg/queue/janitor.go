package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/dmitrymomot/jobkit/pkg/logger"
)

// Janitor recovers jobs from crashed workers and enforces queue retention
type Janitor struct {
	repo     MaintenanceRepository
	reg      *Registry
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// JanitorOption is a functional option for configuring a janitor
type JanitorOption func(*Janitor)

// WithJanitorInterval sets how often maintenance runs
func WithJanitorInterval(d time.Duration) JanitorOption {
	return func(j *Janitor) {
		if d > 0 {
			j.interval = d
		}
	}
}

// WithJanitorLogger sets the logger for the janitor
func WithJanitorLogger(logger *slog.Logger) JanitorOption {
	return func(j *Janitor) {
		if logger != nil {
			j.logger = logger
		}
	}
}

// WithJanitorClock overrides the time source
func WithJanitorClock(now func() time.Time) JanitorOption {
	return func(j *Janitor) {
		if now != nil {
			j.now = now
		}
	}
}

// NewJanitor creates a janitor for every queue in reg
func NewJanitor(repo MaintenanceRepository, reg *Registry, opts ...JanitorOption) (*Janitor, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}
	if reg == nil {
		return nil, ErrRegistryNil
	}

	j := &Janitor{
		repo:     repo,
		reg:      reg,
		interval: 30 * time.Second,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

// Start runs maintenance immediately and then on every interval until ctx is done
func (j *Janitor) Start(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("janitor shutting down")
			return ctx.Err()
		case <-ticker.C:
			j.RunOnce(ctx)
		}
	}
}

// Run returns a function suitable for errgroup
func (j *Janitor) Run(ctx context.Context) func() error {
	return func() error {
		if err := j.Start(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	}
}

// RunOnce performs a single maintenance pass and reports how many jobs
// were recovered and purged. Errors are logged, not returned.
func (j *Janitor) RunOnce(ctx context.Context) (recovered, purged int) {
	now := j.now()

	n, err := j.repo.RecoverExpiredLeases(ctx, now)
	if err != nil {
		j.logger.Error("failed to recover expired leases", logger.Error(err))
	} else if n > 0 {
		j.logger.Warn("recovered jobs with expired leases", slog.Int("count", n))
	}
	recovered = n

	for _, q := range j.reg.Queues() {
		r := q.Retention()
		purged += j.purge(ctx, q.Name(), StatusCompleted, now, r.CompletedAge, r.CompletedCount)
		purged += j.purge(ctx, q.Name(), StatusFailed, now, r.FailedAge, r.FailedCount)
	}
	return recovered, purged
}

func (j *Janitor) purge(ctx context.Context, queue string, status JobStatus, now time.Time, age time.Duration, keep int) int {
	if age <= 0 && keep <= 0 {
		return 0
	}

	var olderThan time.Time
	if age > 0 {
		olderThan = now.Add(-age)
	}

	n, err := j.repo.PurgeJobs(ctx, queue, status, olderThan, keep)
	if err != nil {
		j.logger.Error("failed to purge jobs",
			logger.Queue(queue),
			slog.String("status", string(status)),
			logger.Error(err))
		return 0
	}
	if n > 0 {
		j.logger.Debug("purged finished jobs",
			logger.Queue(queue),
			slog.String("status", string(status)),
			slog.Int("count", n))
	}
	return n
}
