package queue_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobkit/pkg/queue"
)

func TestInspector(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t, map[string]queue.QueueConfig{"email": {}, "reports": {}})

	ins, err := queue.NewInspector(env.store, env.reg)
	require.NoError(t, err)
	assert.Same(t, env.reg, ins.Registry())

	parent := newJob("reports", "report", queue.PriorityDefault)
	parent.Status = queue.StatusWaitingChildren
	ok := newJob("reports", "report-part", queue.PriorityDefault)
	bad := newJob("reports", "report-part", queue.PriorityDefault)
	ok.ParentID = &parent.ID
	bad.ParentID = &parent.ID
	require.NoError(t, env.store.CreateJobs(ctx, []*queue.Job{parent, ok, bad}))

	t.Run("child results pending", func(t *testing.T) {
		_, err := ins.ChildResults(ctx, parent.ID)
		assert.ErrorIs(t, err, queue.ErrChildrenPending)
	})

	c1, t1 := claim(t, env.store, "reports")
	require.Equal(t, ok.ID, c1.ID)
	require.NoError(t, env.store.CompleteJob(ctx, c1.ID, t1, json.RawMessage(`{"rows":3}`)))
	c2, t2 := claim(t, env.store, "reports")
	require.Equal(t, bad.ID, c2.ID)
	require.NoError(t, env.store.FailJob(ctx, c2.ID, t2, queue.JobError{Kind: queue.ErrorKindHandler, Message: "timeout"}))

	t.Run("child results", func(t *testing.T) {
		results, err := ins.ChildResults(ctx, parent.ID)
		require.NoError(t, err)
		require.Len(t, results, 2)

		assert.Equal(t, queue.StatusCompleted, results[ok.ID].Status)
		assert.JSONEq(t, `{"rows":3}`, string(results[ok.ID].Result))
		assert.True(t, results[bad.ID].Failed())
		assert.Equal(t, "timeout", results[bad.ID].Error.Message)
		assert.Equal(t, []uuid.UUID{bad.ID}, queue.FailedChildren(results))

		type rows struct {
			Rows int `json:"rows"`
		}
		decoded, err := queue.DecodeChildResults[rows](results)
		require.NoError(t, err)
		assert.Equal(t, map[uuid.UUID]rows{ok.ID: {Rows: 3}}, decoded)
	})

	t.Run("child jobs", func(t *testing.T) {
		children, err := ins.ChildJobs(ctx, parent.ID)
		require.NoError(t, err)
		require.Len(t, children, 2)
		assert.Equal(t, ok.ID, children[0].ID)
		assert.Equal(t, queue.StatusCompleted, children[0].Status)

		_, err = ins.ChildJobs(ctx, uuid.New())
		assert.ErrorIs(t, err, queue.ErrJobNotFound)
	})

	t.Run("stats", func(t *testing.T) {
		stats, err := ins.QueueStats(ctx, "reports")
		require.NoError(t, err)
		assert.Equal(t, int64(1), stats.Waiting)
		assert.Equal(t, int64(1), stats.Completed)
		assert.Equal(t, int64(1), stats.Failed)

		_, err = ins.QueueStats(ctx, "missing")
		assert.ErrorIs(t, err, queue.ErrUnknownQueue)

		all, err := ins.AllQueueStats(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, "email", all[0].Queue)
		assert.Equal(t, "reports", all[1].Queue)
	})

	t.Run("list", func(t *testing.T) {
		jobs, err := ins.ListJobs(ctx, queue.ListFilter{ParentID: &parent.ID})
		require.NoError(t, err)
		require.Len(t, jobs, 2)
		assert.Equal(t, ok.ID, jobs[0].ID)

		_, err = ins.ListJobs(ctx, queue.ListFilter{Queue: "missing"})
		assert.ErrorIs(t, err, queue.ErrUnknownQueue)
	})

	t.Run("get", func(t *testing.T) {
		job, err := ins.GetJob(ctx, parent.ID)
		require.NoError(t, err)
		assert.Equal(t, queue.StatusWaiting, job.Status)

		_, err = ins.GetJob(ctx, uuid.New())
		assert.ErrorIs(t, err, queue.ErrJobNotFound)
	})
}

func TestInspector_RetryJob(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t, map[string]queue.QueueConfig{"email": {}})
	ins, err := queue.NewInspector(env.store, env.reg)
	require.NoError(t, err)

	require.NoError(t, env.store.CreateJobs(ctx, []*queue.Job{newJob("email", "test", queue.PriorityDefault)}))
	job, token := claim(t, env.store, "email")

	assert.ErrorIs(t, ins.RetryJob(ctx, job.ID), queue.ErrJobNotFailed)

	require.NoError(t, env.store.FailJob(ctx, job.ID, token, queue.JobError{Kind: queue.ErrorKindHandler, Message: "x"}))
	require.NoError(t, ins.RetryJob(ctx, job.ID))

	got, err := ins.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusWaiting, got.Status)
	assert.Equal(t, 0, got.Attempt)

	q, err := env.reg.Queue("email")
	require.NoError(t, err)
	assert.Equal(t, int64(1), q.Counters().Retried)
}

func TestQueueStats_JSON(t *testing.T) {
	t.Parallel()

	out, err := json.Marshal(queue.QueueStats{Queue: "email", Waiting: 2, Delayed: 3, Active: 1, Failed: 4})
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"queue": "email",
		"waiting": 2,
		"delayed": 3,
		"active": 1,
		"waiting_children": 0,
		"completed": 0,
		"failed": 4,
		"pending": 5
	}`, string(out))

	var back queue.QueueStats
	require.NoError(t, json.Unmarshal(out, &back))
	assert.Equal(t, int64(5), back.Pending())
}

func TestNewInspector(t *testing.T) {
	t.Parallel()

	_, err := queue.NewInspector(nil, queue.NewRegistry())
	assert.ErrorIs(t, err, queue.ErrRepositoryNil)

	_, err = queue.NewInspector(queue.NewMemoryStorage(), nil)
	assert.ErrorIs(t, err, queue.ErrRegistryNil)
}
