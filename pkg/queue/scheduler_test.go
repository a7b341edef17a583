package queue_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobkit/pkg/queue"
)

func newTestScheduler(t *testing.T, repo queue.SchedulerRepository, enq *queue.Enqueuer, gate queue.Gate, opts ...queue.SchedulerOption) *queue.Scheduler {
	t.Helper()

	opts = append([]queue.SchedulerOption{
		queue.WithCheckInterval(10 * time.Millisecond),
		queue.WithSchedulerLogger(discardLogger()),
	}, opts...)

	s, err := queue.NewScheduler(repo, enq, gate, opts...)
	require.NoError(t, err)
	return s
}

// runScheduler starts s in the background and stops it on cleanup
func runScheduler(t *testing.T, s *queue.Scheduler) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx)() }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func scheduledJobs(t *testing.T, store *queue.MemoryStorage, queueName string) []*queue.Job {
	t.Helper()

	jobs, err := store.ListJobs(context.Background(), queue.ListFilter{Queue: queueName})
	require.NoError(t, err)
	return jobs
}

func TestNewScheduler(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, map[string]queue.QueueConfig{"default": {}})

	_, err := queue.NewScheduler(nil, env.enq, staticGate(true))
	assert.ErrorIs(t, err, queue.ErrRepositoryNil)

	_, err = queue.NewScheduler(env.store, nil, staticGate(true))
	assert.ErrorIs(t, err, queue.ErrRepositoryNil)

	_, err = queue.NewScheduler(env.store, env.enq, nil)
	assert.ErrorIs(t, err, queue.ErrGateNil)
}

func TestScheduler_Register(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, map[string]queue.QueueConfig{"email": {}})
	queue.MustDefine(env.reg, "send-email", "email", sendEmail)
	valid := emailPayload{To: "ops@example.com"}

	tests := []struct {
		name    string
		run     func(s *queue.Scheduler) error
		wantErr error
	}{
		{
			name: "invalid cron expression",
			run: func(s *queue.Scheduler) error {
				return s.RegisterRecurring("send-email", "every tuesday", valid)
			},
			wantErr: queue.ErrInvalidSchedule,
		},
		{
			name: "unknown job type",
			run: func(s *queue.Scheduler) error {
				return s.RegisterRecurring("missing", "0 * * * *", valid)
			},
			wantErr: queue.ErrUnknownJobType,
		},
		{
			name: "invalid payload",
			run: func(s *queue.Scheduler) error {
				return s.RegisterRecurring("send-email", "0 * * * *", emailPayload{To: "broken"})
			},
			wantErr: queue.ErrValidation,
		},
		{
			name: "empty name",
			run: func(s *queue.Scheduler) error {
				return s.Register(" ", "send-email", queue.Hourly(), valid)
			},
			wantErr: queue.ErrInvalidSchedule,
		},
		{
			name: "nil schedule",
			run: func(s *queue.Scheduler) error {
				return s.Register("digest", "send-email", nil, valid)
			},
			wantErr: queue.ErrInvalidSchedule,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := newTestScheduler(t, env.store, env.enq, staticGate(true))
			err := tt.run(s)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, s.Entries())
		})
	}

	t.Run("re-registering replaces the entry", func(t *testing.T) {
		t.Parallel()

		s := newTestScheduler(t, env.store, env.enq, staticGate(true))
		require.NoError(t, s.RegisterRecurring("send-email", "0 * * * *", valid))
		require.NoError(t, s.RegisterRecurring("send-email", "@daily", valid))

		entries := s.Entries()
		require.Len(t, entries, 1)
		assert.Equal(t, "send-email", entries[0].Name)
		assert.Equal(t, "cron @daily", entries[0].Schedule)

		s.Remove("send-email")
		assert.Empty(t, s.Entries())
	})
}

func TestScheduler_ClosedGate(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, map[string]queue.QueueConfig{"email": {}})
	queue.MustDefine(env.reg, "send-email", "email", sendEmail)

	s := newTestScheduler(t, env.store, env.enq, staticGate(false))

	// Even an invalid expression is ignored behind a closed gate
	require.NoError(t, s.RegisterRecurring("send-email", "not a cron", emailPayload{To: "ops@example.com"}))
	require.NoError(t, s.Register("digest", "send-email", queue.Hourly(), emailPayload{To: "ops@example.com"}))
	assert.Empty(t, s.Entries())

	err := s.Start(context.Background())
	assert.ErrorIs(t, err, queue.ErrSchedulerNotConfigured)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.NoError(t, s.Run(ctx)(), "run idles until the context ends")
	assert.Empty(t, scheduledJobs(t, env.store, "email"))
}

func TestScheduler_CreatesSingleOccurrence(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, map[string]queue.QueueConfig{"email": {}})
	queue.MustDefine(env.reg, "send-email", "email", sendEmail)

	s := newTestScheduler(t, env.store, env.enq, staticGate(true))
	require.NoError(t, s.Register("digest", "send-email", queue.EveryInterval(time.Hour), emailPayload{To: "ops@example.com"}))
	runScheduler(t, s)

	require.Eventually(t, func() bool {
		return len(scheduledJobs(t, env.store, "email")) == 1
	}, time.Second, 5*time.Millisecond)

	// Several more ticks must not add duplicates while the occurrence is pending
	time.Sleep(50 * time.Millisecond)
	jobs := scheduledJobs(t, env.store, "email")
	require.Len(t, jobs, 1)

	job := jobs[0]
	assert.Equal(t, "digest", job.Schedule)
	assert.Equal(t, "send-email", job.Type)
	assert.Equal(t, queue.StatusDelayed, job.Status)
	assert.WithinDuration(t, time.Now().Add(time.Hour), job.RunAt, 5*time.Second)

	entries := s.Entries()
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].LastScheduledAt)
	assert.Equal(t, job.RunAt, *entries[0].LastScheduledAt)
}

func TestScheduler_NextOccurrenceAfterCompletion(t *testing.T) {
	t.Parallel()

	base := time.Now().Truncate(time.Second)
	reg := queue.NewRegistry()
	_, err := reg.RegisterQueue("email", queue.QueueConfig{})
	require.NoError(t, err)
	queue.MustDefine(reg, "send-email", "email", sendEmail)

	// The store lives two hours ahead so the first occurrence can be leased
	store := queue.NewMemoryStorage(queue.WithMemoryClock(func() time.Time { return base.Add(2 * time.Hour) }))
	enq, err := queue.NewEnqueuer(store, reg, queue.WithEnqueuerLogger(discardLogger()))
	require.NoError(t, err)

	s := newTestScheduler(t, store, enq, staticGate(true), queue.WithSchedulerClock(func() time.Time { return base }))
	require.NoError(t, s.Register("digest", "send-email", queue.EveryInterval(time.Hour), emailPayload{To: "ops@example.com"}))
	runScheduler(t, s)

	require.Eventually(t, func() bool {
		return len(scheduledJobs(t, store, "email")) == 1
	}, time.Second, 5*time.Millisecond)

	first, token := claim(t, store, "email")
	assert.Equal(t, base.Add(time.Hour), first.RunAt)
	require.NoError(t, store.CompleteJob(context.Background(), first.ID, token, nil))

	var second *queue.Job
	require.Eventually(t, func() bool {
		j, err := store.GetPendingJobBySchedule(context.Background(), "digest")
		if err != nil {
			return false
		}
		second = j
		return true
	}, time.Second, 5*time.Millisecond)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, base.Add(2*time.Hour), second.RunAt)
}

// racingRepo never sees pending jobs, as when two processes check at the same instant
type racingRepo struct {
	*queue.MemoryStorage
}

func (r racingRepo) GetPendingJobBySchedule(context.Context, string) (*queue.Job, error) {
	return nil, queue.ErrJobNotFound
}

func TestScheduler_DeduplicatesAcrossProcesses(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, map[string]queue.QueueConfig{"email": {}})
	queue.MustDefine(env.reg, "send-email", "email", sendEmail)

	base := time.Now().Truncate(time.Second)
	clock := queue.WithSchedulerClock(func() time.Time { return base })

	// Only the check on start runs, so every scheduler targets the same occurrence
	var wg sync.WaitGroup
	for range 3 {
		s := newTestScheduler(t, racingRepo{env.store}, env.enq, staticGate(true), clock, queue.WithCheckInterval(time.Hour))
		require.NoError(t, s.RegisterRecurring("send-email", "@hourly", emailPayload{To: "ops@example.com"}))

		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()
			_ = s.Run(ctx)()
		}()
	}
	wg.Wait()

	jobs := scheduledJobs(t, env.store, "email")
	require.Len(t, jobs, 1)
	assert.Equal(t, "send-email", jobs[0].Schedule)
}
