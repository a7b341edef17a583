package redisstore_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobkit/pkg/queue"
	"github.com/dmitrymomot/jobkit/pkg/queue/redisstore"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var base = time.Date(2025, 3, 7, 10, 0, 0, 0, time.UTC)

func newStore(t *testing.T) (*redisstore.Store, *fakeClock, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clock := &fakeClock{now: base}
	store, err := redisstore.New(client, redisstore.WithClock(clock.Now), redisstore.WithKeyPrefix("{test}"))
	require.NoError(t, err)
	return store, clock, client
}

func newJob(queueName string, priority queue.Priority, runAt time.Time) *queue.Job {
	return &queue.Job{
		ID:          uuid.New(),
		Type:        "test",
		Queue:       queueName,
		Payload:     json.RawMessage(`{"n":1}`),
		Status:      queue.StatusWaiting,
		Priority:    priority,
		MaxAttempts: 2,
		Backoff:     queue.FixedBackoff(time.Second),
		RunAt:       runAt,
		CreatedAt:   runAt,
	}
}

func claim(t *testing.T, store *redisstore.Store, queueName string) (*queue.Job, uuid.UUID) {
	t.Helper()

	token := uuid.New()
	job, err := store.ClaimJob(context.Background(), queueName, token, time.Minute)
	require.NoError(t, err)
	return job, token
}

func TestNew(t *testing.T) {
	t.Parallel()

	_, err := redisstore.New(nil)
	assert.ErrorIs(t, err, redisstore.ErrClientNil)

	cluster := redis.NewClusterClient(&redis.ClusterOptions{Addrs: []string{"127.0.0.1:1"}})
	t.Cleanup(func() { _ = cluster.Close() })

	tests := []struct {
		name    string
		prefix  string
		wantErr bool
	}{
		{name: "default prefix", prefix: ""},
		{name: "tagged prefix", prefix: "app:{jobs}"},
		{name: "untagged prefix", prefix: "jobkit", wantErr: true},
		{name: "empty tag", prefix: "{}jobkit", wantErr: true},
		{name: "unclosed tag", prefix: "{jobkit", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := redisstore.New(cluster, redisstore.WithKeyPrefix(tt.prefix))
			if tt.wantErr {
				assert.ErrorIs(t, err, redisstore.ErrPrefixNotHashTagged)
				return
			}
			assert.NoError(t, err)
		})
	}
}

// scriptKeys records the KEYS of every script call made through a client
type scriptKeys struct {
	mu   sync.Mutex
	keys [][]string
}

func (h *scriptKeys) DialHook(next redis.DialHook) redis.DialHook { return next }

func (h *scriptKeys) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func (h *scriptKeys) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		args := cmd.Args()
		if name := cmd.Name(); (name == "evalsha" || name == "eval") && len(args) > 2 {
			n, _ := args[2].(int)
			keys := make([]string, 0, n)
			for _, k := range args[3 : 3+n] {
				keys = append(keys, k.(string))
			}
			h.mu.Lock()
			h.keys = append(h.keys, keys)
			h.mu.Unlock()
		}
		return next(ctx, cmd)
	}
}

func TestStore_ScriptsDeclareKeys(t *testing.T) {
	t.Parallel()

	store, clock, client := newStore(t)
	hook := &scriptKeys{}
	client.AddHook(hook)
	ctx := context.Background()

	job := newJob("reports", queue.PriorityDefault, base)
	require.NoError(t, store.CreateJobs(ctx, []*queue.Job{job}))
	leased, token := claim(t, store, "reports")
	require.NoError(t, store.ExtendLock(ctx, leased.ID, token, time.Minute))
	_, err := store.WaitForChildren(ctx, leased.ID, token)
	require.NoError(t, err)
	require.NoError(t, store.CompleteJob(ctx, leased.ID, token, nil))
	clock.Advance(time.Hour)
	_, err = store.RecoverExpiredLeases(ctx, clock.Now())
	require.NoError(t, err)
	_, err = store.PurgeJobs(ctx, "reports", queue.StatusCompleted, clock.Now(), 0)
	require.NoError(t, err)

	hook.mu.Lock()
	defer hook.mu.Unlock()
	require.NotEmpty(t, hook.keys)
	for _, keys := range hook.keys {
		require.NotEmpty(t, keys, "script called without keys")
		for _, k := range keys {
			assert.Truef(t, strings.HasPrefix(k, "{test}:"), "key %q is outside the hash tag", k)
		}
	}
}

func TestConnect(t *testing.T) {
	t.Parallel()

	_, err := redisstore.Connect(context.Background(), redisstore.Config{})
	assert.ErrorIs(t, err, redisstore.ErrEmptyConnectionURL)

	_, err = redisstore.Connect(context.Background(), redisstore.Config{ConnectionURL: "not a url"})
	assert.ErrorIs(t, err, redisstore.ErrFailedToParseRedisConnString)

	mr := miniredis.RunT(t)
	client, err := redisstore.Connect(context.Background(), redisstore.Config{
		ConnectionURL: "redis://" + mr.Addr() + "/0",
		RetryAttempts: 1,
	})
	require.NoError(t, err)
	defer client.Close()
	assert.NoError(t, redisstore.Healthcheck(client)(context.Background()))
}

func TestStore_ClaimOrder(t *testing.T) {
	t.Parallel()

	store, clock, _ := newStore(t)
	ctx := context.Background()

	a := newJob("email", queue.PriorityDefault, base.Add(-2*time.Second))
	b := newJob("email", queue.PriorityHigh, base.Add(-time.Second))
	c := newJob("email", queue.PriorityDefault, base.Add(-3*time.Second))
	d := newJob("email", queue.PriorityDefault, base.Add(-3*time.Second))
	later := newJob("email", queue.PriorityCritical, base.Add(time.Hour))
	other := newJob("reports", queue.PriorityCritical, base.Add(-time.Hour))
	require.NoError(t, store.CreateJobs(ctx, []*queue.Job{a, b, c, d, later, other}))

	stats, err := store.QueueStats(ctx, "email")
	require.NoError(t, err)
	assert.Equal(t, queue.QueueStats{Queue: "email", Waiting: 4, Delayed: 1}, stats)

	for _, want := range []*queue.Job{b, c, d, a} {
		job, _ := claim(t, store, "email")
		assert.Equal(t, want.ID, job.ID)
		assert.Equal(t, queue.StatusActive, job.Status)
		assert.Equal(t, 1, job.Attempt)
	}

	_, err = store.ClaimJob(ctx, "email", uuid.New(), time.Minute)
	assert.ErrorIs(t, err, queue.ErrNoJobToClaim)

	clock.Advance(2 * time.Hour)
	job, _ := claim(t, store, "email")
	assert.Equal(t, later.ID, job.ID)
	assert.True(t, job.RunAt.Equal(later.RunAt))
	assert.JSONEq(t, `{"n":1}`, string(job.Payload))
	assert.Equal(t, queue.FixedBackoff(time.Second), job.Backoff)
}

func TestStore_CreateJobs(t *testing.T) {
	t.Parallel()

	store, _, _ := newStore(t)
	ctx := context.Background()

	assert.ErrorIs(t, store.CreateJobs(ctx, nil), queue.ErrNoItemsToEnqueue)

	job := newJob("email", queue.PriorityDefault, base)
	require.NoError(t, store.CreateJobs(ctx, []*queue.Job{job}))
	assert.ErrorIs(t, store.CreateJobs(ctx, []*queue.Job{job}), queue.ErrJobExists)

	// A bad child rolls back the whole batch
	fresh := newJob("email", queue.PriorityDefault, base)
	orphan := newJob("email", queue.PriorityDefault, base)
	missing := uuid.New()
	orphan.ParentID = &missing
	assert.ErrorIs(t, store.CreateJobs(ctx, []*queue.Job{fresh, orphan}), queue.ErrParentNotFound)

	_, err := store.GetJob(ctx, fresh.ID)
	assert.ErrorIs(t, err, queue.ErrJobNotFound)
}

func TestStore_LeaseFencing(t *testing.T) {
	t.Parallel()

	store, _, _ := newStore(t)
	ctx := context.Background()

	job := newJob("email", queue.PriorityDefault, base)
	require.NoError(t, store.CreateJobs(ctx, []*queue.Job{job}))
	claimed, token := claim(t, store, "email")

	stale := uuid.New()
	assert.ErrorIs(t, store.ExtendLock(ctx, claimed.ID, stale, time.Minute), queue.ErrLeaseLost)
	assert.ErrorIs(t, store.CompleteJob(ctx, claimed.ID, stale, nil), queue.ErrLeaseLost)
	assert.ErrorIs(t, store.FailJob(ctx, uuid.New(), token, queue.JobError{}), queue.ErrJobNotFound)

	require.NoError(t, store.ExtendLock(ctx, claimed.ID, token, 2*time.Minute))
	got, err := store.GetJob(ctx, claimed.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LockedUntil)
	assert.True(t, got.LockedUntil.Equal(base.Add(2*time.Minute)))
	assert.Equal(t, token, *got.LockedBy)

	require.NoError(t, store.CompleteJob(ctx, claimed.ID, token, json.RawMessage(`{"ok":true}`)))
	assert.ErrorIs(t, store.CompleteJob(ctx, claimed.ID, token, nil), queue.ErrLeaseLost)

	got, err = store.GetJob(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusCompleted, got.Status)
	assert.JSONEq(t, `{"ok":true}`, string(got.Result))
	assert.Nil(t, got.LockedBy)
	require.NotNil(t, got.FinishedAt)
	assert.True(t, got.FinishedAt.Equal(base))
}

func TestStore_RetryJob(t *testing.T) {
	t.Parallel()

	store, clock, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateJobs(ctx, []*queue.Job{newJob("email", queue.PriorityDefault, base)}))
	job, token := claim(t, store, "email")

	jobErr := queue.JobError{Kind: queue.ErrorKindHandler, Message: "smtp down", Attempt: 1, At: base}
	require.NoError(t, store.RetryJob(ctx, job.ID, token, jobErr, base.Add(time.Minute)))

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusDelayed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, "smtp down", got.Error.Message)

	_, err = store.ClaimJob(ctx, "email", uuid.New(), time.Minute)
	assert.ErrorIs(t, err, queue.ErrNoJobToClaim)

	clock.Advance(time.Minute)
	again, token := claim(t, store, "email")
	assert.Equal(t, job.ID, again.ID)
	assert.Equal(t, 2, again.Attempt)

	require.NoError(t, store.FailJob(ctx, again.ID, token, jobErr))
	stats, err := store.QueueStats(ctx, "email")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Failed)

	require.NoError(t, store.RetryFailedJob(ctx, job.ID))
	assert.ErrorIs(t, store.RetryFailedJob(ctx, job.ID), queue.ErrJobNotFailed)
	assert.ErrorIs(t, store.RetryFailedJob(ctx, uuid.New()), queue.ErrJobNotFound)

	got, err = store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusWaiting, got.Status)
	assert.Zero(t, got.Attempt)
	assert.Nil(t, got.FinishedAt)
}

func TestStore_FanIn(t *testing.T) {
	t.Parallel()

	store, _, _ := newStore(t)
	ctx := context.Background()

	parent := newJob("reports", queue.PriorityLow, base)
	require.NoError(t, store.CreateJobs(ctx, []*queue.Job{parent}))
	_, ptoken := claim(t, store, "reports")

	c1 := newJob("reports", queue.PriorityHigh, base)
	c2 := newJob("reports", queue.PriorityHigh, base)
	c1.ParentID, c2.ParentID = &parent.ID, &parent.ID
	require.NoError(t, store.CreateJobs(ctx, []*queue.Job{c1, c2}))

	waiting, err := store.WaitForChildren(ctx, parent.ID, ptoken)
	require.NoError(t, err)
	assert.True(t, waiting)

	got, err := store.GetJob(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusWaitingChildren, got.Status)
	assert.Equal(t, 2, got.ChildCount)
	assert.Equal(t, 2, got.PendingChildren)
	assert.Zero(t, got.Attempt)

	first, t1 := claim(t, store, "reports")
	require.NoError(t, store.CompleteJob(ctx, first.ID, t1, json.RawMessage(`1`)))
	second, t2 := claim(t, store, "reports")
	require.NoError(t, store.FailJob(ctx, second.ID, t2, queue.JobError{Kind: queue.ErrorKindHandler, Message: "x"}))

	got, err = store.GetJob(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusWaiting, got.Status)
	assert.Zero(t, got.PendingChildren)

	children, err := store.ChildJobs(ctx, parent.ID)
	require.NoError(t, err)
	require.Len(t, children, 2)
	assert.Equal(t, c1.ID, children[0].ID)
	assert.Equal(t, c2.ID, children[1].ID)

	_, err = store.ChildJobs(ctx, uuid.New())
	assert.ErrorIs(t, err, queue.ErrJobNotFound)

	resumed, rtoken := claim(t, store, "reports")
	assert.Equal(t, parent.ID, resumed.ID)
	assert.Equal(t, 1, resumed.Attempt)

	waiting, err = store.WaitForChildren(ctx, resumed.ID, rtoken)
	require.NoError(t, err)
	assert.False(t, waiting, "no pending children leaves the parent leased")

	got, err = store.GetJob(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusActive, got.Status)
	assert.Equal(t, 1, got.Attempt)
	require.NoError(t, store.CompleteJob(ctx, parent.ID, rtoken, json.RawMessage(`{"ok":true}`)))

	_, err = store.WaitForChildren(ctx, parent.ID, rtoken)
	assert.ErrorIs(t, err, queue.ErrLeaseLost)
}

func TestStore_FlowBatch(t *testing.T) {
	t.Parallel()

	store, _, _ := newStore(t)
	ctx := context.Background()

	parent := newJob("reports", queue.PriorityDefault, base)
	parent.Status = queue.StatusWaitingChildren
	child := newJob("reports", queue.PriorityDefault, base)
	child.ParentID = &parent.ID
	require.NoError(t, store.CreateJobs(ctx, []*queue.Job{parent, child}))

	stats, err := store.QueueStats(ctx, "reports")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.WaitingChildren)
	assert.Equal(t, int64(1), stats.Waiting)

	job, token := claim(t, store, "reports")
	require.Equal(t, child.ID, job.ID)
	require.NoError(t, store.CompleteJob(ctx, job.ID, token, nil))

	job, _ = claim(t, store, "reports")
	assert.Equal(t, parent.ID, job.ID)

	listed, err := store.ListJobs(ctx, queue.ListFilter{ParentID: &parent.ID})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, queue.StatusCompleted, listed[0].Status)

	listed, err = store.ListJobs(ctx, queue.ListFilter{Queue: "reports", Status: queue.StatusActive})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, parent.ID, listed[0].ID)

	listed, err = store.ListJobs(ctx, queue.ListFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, child.ID, listed[0].ID)
}

func TestStore_RecoverExpiredLeases(t *testing.T) {
	t.Parallel()

	store, _, _ := newStore(t)
	ctx := context.Background()

	parent := newJob("reports", queue.PriorityLow, base)
	parent.Status = queue.StatusWaitingChildren
	retryable := newJob("reports", queue.PriorityDefault, base)
	exhausted := newJob("reports", queue.PriorityDefault, base)
	exhausted.MaxAttempts = 1
	exhausted.ParentID = &parent.ID
	require.NoError(t, store.CreateJobs(ctx, []*queue.Job{parent, retryable, exhausted}))

	_, err := store.ClaimJob(ctx, "reports", uuid.New(), time.Second)
	require.NoError(t, err)
	_, err = store.ClaimJob(ctx, "reports", uuid.New(), time.Second)
	require.NoError(t, err)

	n, err := store.RecoverExpiredLeases(ctx, base.Add(500*time.Millisecond))
	require.NoError(t, err)
	assert.Zero(t, n, "leases are still valid")

	n, err = store.RecoverExpiredLeases(ctx, base.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := store.GetJob(ctx, retryable.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusWaiting, got.Status)
	assert.Nil(t, got.LockedBy)
	require.NotNil(t, got.Error)
	assert.Equal(t, queue.ErrorKindLeaseExpired, got.Error.Kind)
	assert.Equal(t, 1, got.Error.Attempt)
	assert.True(t, got.Error.At.Equal(base.Add(time.Minute)))

	got, err = store.GetJob(ctx, exhausted.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusFailed, got.Status)

	got, err = store.GetJob(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusWaiting, got.Status, "the failed child resolves its parent")
}

func TestStore_PurgeJobs(t *testing.T) {
	t.Parallel()

	store, clock, _ := newStore(t)
	ctx := context.Background()

	var ids []uuid.UUID
	for range 3 {
		job := newJob("email", queue.PriorityDefault, base)
		require.NoError(t, store.CreateJobs(ctx, []*queue.Job{job}))
		claimed, token := claim(t, store, "email")
		require.NoError(t, store.CompleteJob(ctx, claimed.ID, token, nil))
		ids = append(ids, claimed.ID)
		clock.Advance(time.Minute)
	}

	n, err := store.PurgeJobs(ctx, "email", queue.StatusActive, time.Time{}, 0)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = store.PurgeJobs(ctx, "email", queue.StatusCompleted, time.Time{}, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = store.GetJob(ctx, ids[0])
	assert.ErrorIs(t, err, queue.ErrJobNotFound)

	n, err = store.PurgeJobs(ctx, "email", queue.StatusCompleted, base.Add(90*time.Second), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stats, err := store.QueueStats(ctx, "email")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Completed)

	jobs, err := store.ListJobs(ctx, queue.ListFilter{Queue: "email"})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, ids[2], jobs[0].ID)
}

func TestStore_GetPendingJobBySchedule(t *testing.T) {
	t.Parallel()

	store, _, _ := newStore(t)
	ctx := context.Background()

	_, err := store.GetPendingJobBySchedule(ctx, "digest")
	assert.ErrorIs(t, err, queue.ErrJobNotFound)

	job := newJob("email", queue.PriorityDefault, base)
	job.Schedule = "digest"
	require.NoError(t, store.CreateJobs(ctx, []*queue.Job{job}))

	pending, err := store.GetPendingJobBySchedule(ctx, "digest")
	require.NoError(t, err)
	assert.Equal(t, job.ID, pending.ID)

	claimed, token := claim(t, store, "email")
	require.NoError(t, store.CompleteJob(ctx, claimed.ID, token, nil))

	_, err = store.GetPendingJobBySchedule(ctx, "digest")
	assert.ErrorIs(t, err, queue.ErrJobNotFound)
}

func TestStore_WithWorker(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store, err := redisstore.New(client)
	require.NoError(t, err)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := queue.NewRegistry()
	_, err = reg.RegisterQueue("math", queue.QueueConfig{Concurrency: 2})
	require.NoError(t, err)

	type input struct {
		N int `json:"n"`
	}
	type output struct {
		Square int `json:"square"`
	}
	square := queue.MustDefine(reg, "square", "math", func(_ context.Context, in input) (output, error) {
		return output{Square: in.N * in.N}, nil
	})

	enq, err := queue.NewEnqueuer(store, reg, queue.WithEnqueuerLogger(log))
	require.NoError(t, err)
	id, err := square.Enqueue(context.Background(), enq, input{N: 7})
	require.NoError(t, err)

	w, err := queue.NewWorker(store, reg, queue.WithPullInterval(10*time.Millisecond), queue.WithWorkerLogger(log))
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop() })

	var job *queue.Job
	require.Eventually(t, func() bool {
		job, err = store.GetJob(context.Background(), id)
		return err == nil && job.Status == queue.StatusCompleted
	}, 3*time.Second, 10*time.Millisecond)
	assert.JSONEq(t, `{"square":49}`, string(job.Result))
}
