package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/jobkit/pkg/logger"
)

// Gate decides whether this process may register recurring jobs.
// It is computed once at startup; environment.Gate implements it.
type Gate interface {
	ShouldRegisterRecurring() bool
}

// scheduleNamespace derives deterministic job IDs for recurring occurrences,
// so two processes scheduling the same occurrence collide on insert.
var scheduleNamespace = uuid.MustParse("5c1f0a8e-3b7d-4d8e-9c47-6a2f1e9b0d35")

// Scheduler turns recurring entries into delayed jobs
type Scheduler struct {
	repo     SchedulerRepository
	enq      *Enqueuer
	gate     Gate
	entries  map[string]*scheduledEntry
	mu       sync.RWMutex
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// scheduledEntry holds configuration for a recurring job
type scheduledEntry struct {
	name            string
	jobType         string
	schedule        Schedule
	payload         any
	opts            []EnqueueOption
	lastScheduledAt *time.Time // Track when we last created an occurrence
}

// Entry describes a registered recurring job
type Entry struct {
	Name            string     `json:"name"`
	JobType         string     `json:"job_type"`
	Schedule        string     `json:"schedule"`
	LastScheduledAt *time.Time `json:"last_scheduled_at,omitempty"`
}

// NewScheduler creates a recurring job scheduler
func NewScheduler(repo SchedulerRepository, enq *Enqueuer, gate Gate, opts ...SchedulerOption) (*Scheduler, error) {
	if repo == nil || enq == nil {
		return nil, ErrRepositoryNil
	}
	if gate == nil {
		return nil, ErrGateNil
	}

	options := &schedulerOptions{
		checkInterval: 30 * time.Second,
		logger:        slog.Default(),
		now:           time.Now,
	}

	for _, opt := range opts {
		opt(options)
	}

	return &Scheduler{
		repo:     repo,
		enq:      enq,
		gate:     gate,
		entries:  make(map[string]*scheduledEntry),
		interval: options.checkInterval,
		logger:   options.logger,
		now:      options.now,
	}, nil
}

// RegisterRecurring registers jobType on a cron expression, named after the job type.
// It is a no-op when the gate is closed.
func (s *Scheduler) RegisterRecurring(jobType, cronExpr string, payload any, opts ...EnqueueOption) error {
	if !s.gate.ShouldRegisterRecurring() {
		s.logger.Debug("recurring job registration skipped by environment gate",
			logger.JobType(jobType),
			slog.String("cron", cronExpr))
		return nil
	}

	schedule, err := Cron(cronExpr)
	if err != nil {
		return err
	}
	return s.Register(jobType, jobType, schedule, payload, opts...)
}

// Register adds or replaces the recurring entry name.
// The payload is validated now so a broken entry fails at startup.
// It is a no-op when the gate is closed.
func (s *Scheduler) Register(name, jobType string, schedule Schedule, payload any, opts ...EnqueueOption) error {
	if !s.gate.ShouldRegisterRecurring() {
		s.logger.Debug("recurring job registration skipped by environment gate",
			slog.String("schedule", name),
			logger.JobType(jobType))
		return nil
	}

	if strings.TrimSpace(name) == "" {
		return configError(ErrInvalidSchedule, "schedule name cannot be empty")
	}
	if schedule == nil {
		return configError(ErrInvalidSchedule, "schedule %q is nil", name)
	}

	def, err := s.enq.Registry().Definition(jobType)
	if err != nil {
		return err
	}
	if _, err := def.Validate(payload); err != nil {
		return fmt.Errorf("schedule %q: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, replaced := s.entries[name]
	s.entries[name] = &scheduledEntry{
		name:     name,
		jobType:  jobType,
		schedule: schedule,
		payload:  payload,
		opts:     opts,
	}

	s.logger.Info("registered recurring job",
		slog.String("schedule", name),
		logger.JobType(jobType),
		slog.String("every", schedule.String()),
		slog.Bool("replaced", replaced))

	return nil
}

// Start begins the scheduler's periodic entry checking
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.RLock()
	entryCount := len(s.entries)
	s.mu.RUnlock()

	if entryCount == 0 {
		return ErrSchedulerNotConfigured
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Check immediately on start
	s.checkEntries(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler shutting down")
			return ctx.Err()
		case <-ticker.C:
			s.checkEntries(ctx)
		}
	}
}

// Run returns a function suitable for errgroup.
// A scheduler without entries, for example behind a closed gate, just waits for ctx.
func (s *Scheduler) Run(ctx context.Context) func() error {
	return func() error {
		err := s.Start(ctx)
		if errors.Is(err, ErrSchedulerNotConfigured) {
			s.logger.Info("scheduler has no recurring entries, idling")
			<-ctx.Done()
			return nil
		}
		if err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	}
}

// checkEntries creates the next occurrence of every entry without a pending job
func (s *Scheduler) checkEntries(ctx context.Context) {
	s.mu.RLock()
	entries := make([]*scheduledEntry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	now := s.now()

	for _, e := range entries {
		if err := s.scheduleIfNeeded(ctx, e, now); err != nil {
			s.logger.Error("failed to schedule recurring job",
				slog.String("schedule", e.name),
				logger.JobType(e.jobType),
				logger.Error(err))
		}
	}
}

// scheduleIfNeeded creates the next occurrence unless one is already pending in storage
func (s *Scheduler) scheduleIfNeeded(ctx context.Context, e *scheduledEntry, now time.Time) error {
	existing, err := s.repo.GetPendingJobBySchedule(ctx, e.name)
	if err == nil && existing != nil {
		s.updateEntryState(e.name, existing.RunAt)
		s.logger.Debug("recurring job already pending",
			slog.String("schedule", e.name),
			slog.Time("scheduled_for", existing.RunAt))
		return nil
	}
	if err != nil && !errors.Is(err, ErrJobNotFound) {
		return fmt.Errorf("failed to look up pending job: %w", err)
	}

	runAt := s.nextRun(e, now)
	id := uuid.NewSHA1(scheduleNamespace, []byte(e.name+"@"+runAt.UTC().Format(time.RFC3339Nano)))

	opts := append(slices.Clone(e.opts), WithRunAt(runAt), WithJobID(id), withSchedule(e.name))
	if _, err := s.enq.Enqueue(ctx, e.jobType, e.payload, opts...); err != nil {
		if errors.Is(err, ErrJobExists) {
			// Another process created this occurrence first
			s.updateEntryState(e.name, runAt)
			return nil
		}
		return fmt.Errorf("failed to create recurring job: %w", err)
	}

	s.updateEntryState(e.name, runAt)
	s.logger.Info("created recurring job",
		slog.String("schedule", e.name),
		logger.JobType(e.jobType),
		slog.Time("scheduled_for", runAt))

	return nil
}

// nextRun returns the first occurrence after now that is also after the last one created
func (s *Scheduler) nextRun(e *scheduledEntry, now time.Time) time.Time {
	s.mu.RLock()
	last := e.lastScheduledAt
	s.mu.RUnlock()

	next := e.schedule.Next(now)
	if last != nil && !next.After(*last) {
		next = e.schedule.Next(*last)
	}
	return next
}

// updateEntryState records the RunAt of the latest known occurrence
func (s *Scheduler) updateEntryState(name string, scheduledAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[name]; ok {
		e.lastScheduledAt = &scheduledAt
	}
}

// Remove removes a recurring entry. Already created occurrences stay in storage.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, name)

	s.logger.Info("removed recurring job",
		slog.String("schedule", name))
}

// Entries returns all registered entries sorted by name
func (s *Scheduler) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		entry := Entry{
			Name:     e.name,
			JobType:  e.jobType,
			Schedule: e.schedule.String(),
		}
		if e.lastScheduledAt != nil {
			t := *e.lastScheduledAt
			entry.LastScheduledAt = &t
		}
		out = append(out, entry)
	}
	slices.SortFunc(out, func(a, b Entry) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out
}
