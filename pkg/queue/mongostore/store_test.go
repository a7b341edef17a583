package mongostore_test

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/dmitrymomot/jobkit/pkg/queue"
	"github.com/dmitrymomot/jobkit/pkg/queue/mongostore"
)

func newStore(t *testing.T) *mongostore.Store {
	t.Helper()

	store, _ := newStoreDB(t)
	return store
}

// newStoreDB connects to MONGODB_TEST_URL and gives every test its own database
func newStoreDB(t *testing.T) (*mongostore.Store, *mongo.Database) {
	t.Helper()

	url := os.Getenv("MONGODB_TEST_URL")
	if url == "" {
		t.Skip("MONGODB_TEST_URL is not set")
	}

	ctx := context.Background()
	client, err := mongostore.Connect(ctx, mongostore.Config{
		ConnectionURL: url,
		RetryAttempts: 1,
		RetryInterval: time.Millisecond,
	})
	require.NoError(t, err)
	require.NoError(t, mongostore.Healthcheck(client)(ctx))

	db := client.Database("jobkit_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
	t.Cleanup(func() {
		_ = db.Drop(context.Background())
		_ = client.Disconnect(context.Background())
	})

	store, err := mongostore.New(db)
	require.NoError(t, err)
	require.NoError(t, store.EnsureIndexes(ctx))
	return store, db
}

func newJob(priority queue.Priority) *queue.Job {
	now := time.Now().Add(-time.Second).Truncate(time.Millisecond)
	return &queue.Job{
		ID:          uuid.New(),
		Type:        "test",
		Queue:       "default",
		Payload:     json.RawMessage(`{"n":1}`),
		Status:      queue.StatusWaiting,
		Priority:    priority,
		MaxAttempts: 2,
		Backoff:     queue.FixedBackoff(time.Second),
		RunAt:       now,
		CreatedAt:   now,
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	_, err := mongostore.New(nil)
	assert.ErrorIs(t, err, mongostore.ErrDatabaseNil)
}

func TestConnect_EmptyConnectionURL(t *testing.T) {
	t.Parallel()

	_, err := mongostore.Connect(context.Background(), mongostore.Config{})
	assert.ErrorIs(t, err, mongostore.ErrEmptyConnectionURL)
}

func TestStore_Lifecycle(t *testing.T) {
	t.Parallel()
	store := newStore(t)
	ctx := context.Background()

	low := newJob(queue.PriorityLow)
	high := newJob(queue.PriorityHigh)
	require.NoError(t, store.CreateJobs(ctx, []*queue.Job{low, high}))

	err := store.CreateJobs(ctx, []*queue.Job{low})
	assert.ErrorIs(t, err, queue.ErrJobExists)

	token := uuid.New()
	claimed, err := store.ClaimJob(ctx, "default", token, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, high.ID, claimed.ID)
	assert.Equal(t, queue.StatusActive, claimed.Status)
	assert.Equal(t, 1, claimed.Attempt)
	require.NotNil(t, claimed.LockedBy)
	assert.Equal(t, token, *claimed.LockedBy)

	assert.ErrorIs(t, store.ExtendLock(ctx, high.ID, uuid.New(), time.Minute), queue.ErrLeaseLost)
	assert.ErrorIs(t, store.ExtendLock(ctx, uuid.New(), token, time.Minute), queue.ErrJobNotFound)
	require.NoError(t, store.ExtendLock(ctx, high.ID, token, time.Minute))

	require.NoError(t, store.CompleteJob(ctx, high.ID, token, json.RawMessage(`{"ok":true}`)))
	assert.ErrorIs(t, store.CompleteJob(ctx, high.ID, token, nil), queue.ErrLeaseLost)

	done, err := store.GetJob(ctx, high.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusCompleted, done.Status)
	assert.JSONEq(t, `{"ok":true}`, string(done.Result))
	assert.Nil(t, done.LockedBy)
	assert.NotNil(t, done.FinishedAt)

	token = uuid.New()
	claimed, err = store.ClaimJob(ctx, "default", token, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, low.ID, claimed.ID)

	jobErr := queue.JobError{Kind: queue.ErrorKindHandler, Message: "boom", Attempt: 1, At: time.Now()}
	require.NoError(t, store.RetryJob(ctx, low.ID, token, jobErr, time.Now().Add(time.Hour)))

	_, err = store.ClaimJob(ctx, "default", uuid.New(), time.Minute)
	assert.ErrorIs(t, err, queue.ErrNoJobToClaim)

	delayed, err := store.GetJob(ctx, low.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusDelayed, delayed.Status)
	require.NotNil(t, delayed.Error)
	assert.Equal(t, "boom", delayed.Error.Message)

	stats, err := store.QueueStats(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Completed)
	assert.Equal(t, int64(1), stats.Delayed)

	_, err = store.GetJob(ctx, uuid.New())
	assert.ErrorIs(t, err, queue.ErrJobNotFound)
}

func TestStore_FanIn(t *testing.T) {
	t.Parallel()
	store := newStore(t)
	ctx := context.Background()

	parent := newJob(queue.PriorityLow)
	require.NoError(t, store.CreateJobs(ctx, []*queue.Job{parent}))

	token := uuid.New()
	_, err := store.ClaimJob(ctx, "default", token, time.Minute)
	require.NoError(t, err)

	a, b := newJob(queue.PriorityHigh), newJob(queue.PriorityHigh)
	a.ParentID, b.ParentID = &parent.ID, &parent.ID
	require.NoError(t, store.CreateJobs(ctx, []*queue.Job{a, b}))

	waiting, err := store.WaitForChildren(ctx, parent.ID, token)
	require.NoError(t, err)
	assert.True(t, waiting)

	parked, err := store.GetJob(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusWaitingChildren, parked.Status)
	assert.Equal(t, 0, parked.Attempt)
	assert.Equal(t, 2, parked.ChildCount)
	assert.Equal(t, 2, parked.PendingChildren)

	for range 2 {
		tok := uuid.New()
		child, err := store.ClaimJob(ctx, "default", tok, time.Minute)
		require.NoError(t, err)
		require.NoError(t, store.FailJob(ctx, child.ID, tok, queue.JobError{Kind: queue.ErrorKindNonRetryable, Message: "no"}))
	}

	woken, err := store.GetJob(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusWaiting, woken.Status)
	assert.Equal(t, 0, woken.PendingChildren)

	children, err := store.ChildJobs(ctx, parent.ID)
	require.NoError(t, err)
	require.Len(t, children, 2)
	assert.Equal(t, a.ID, children[0].ID)

	require.NoError(t, store.RetryFailedJob(ctx, a.ID))
	reopened, err := store.GetJob(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, reopened.PendingChildren)

	assert.ErrorIs(t, store.RetryFailedJob(ctx, parent.ID), queue.ErrJobNotFailed)

	orphan := newJob(queue.PriorityLow)
	missing := uuid.New()
	orphan.ParentID = &missing
	assert.ErrorIs(t, store.CreateJobs(ctx, []*queue.Job{orphan}), queue.ErrParentNotFound)
}

func TestStore_WaitWithoutPendingChildren(t *testing.T) {
	t.Parallel()
	store := newStore(t)
	ctx := context.Background()

	job := newJob(queue.PriorityDefault)
	require.NoError(t, store.CreateJobs(ctx, []*queue.Job{job}))
	token := uuid.New()
	_, err := store.ClaimJob(ctx, "default", token, time.Minute)
	require.NoError(t, err)

	waiting, err := store.WaitForChildren(ctx, job.ID, token)
	require.NoError(t, err)
	assert.False(t, waiting)

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusActive, got.Status)
	assert.Equal(t, 1, got.Attempt)

	_, err = store.WaitForChildren(ctx, job.ID, uuid.New())
	assert.ErrorIs(t, err, queue.ErrLeaseLost)
	require.NoError(t, store.CompleteJob(ctx, job.ID, token, nil))
}

func TestStore_ReconcileStaleParentCounters(t *testing.T) {
	t.Parallel()
	store, db := newStoreDB(t)
	jobs := db.Collection(mongostore.DefaultCollection)
	ctx := context.Background()

	parent := newJob(queue.PriorityLow)
	require.NoError(t, store.CreateJobs(ctx, []*queue.Job{parent}))
	ptoken := uuid.New()
	_, err := store.ClaimJob(ctx, "default", ptoken, time.Minute)
	require.NoError(t, err)

	child := newJob(queue.PriorityHigh)
	child.ParentID = &parent.ID
	require.NoError(t, store.CreateJobs(ctx, []*queue.Job{child}))

	waiting, err := store.WaitForChildren(ctx, parent.ID, ptoken)
	require.NoError(t, err)
	require.True(t, waiting)

	// The child finishes but the process dies before its parent is updated
	ctoken := uuid.New()
	_, err = store.ClaimJob(ctx, "default", ctoken, time.Minute)
	require.NoError(t, err)
	_, err = jobs.UpdateOne(ctx, bson.M{"_id": child.ID.String()}, bson.M{
		"$set":   bson.M{"status": string(queue.StatusCompleted), "finished_at": time.Now().UTC()},
		"$unset": bson.M{"locked_by": "", "locked_until": ""},
	})
	require.NoError(t, err)

	// A counter raised for a child that was never inserted
	_, err = jobs.UpdateOne(ctx, bson.M{"_id": parent.ID.String()},
		bson.M{"$inc": bson.M{"child_count": 1, "pending_children": 1}})
	require.NoError(t, err)

	stuck, err := store.GetJob(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusWaitingChildren, stuck.Status)
	assert.Equal(t, 2, stuck.PendingChildren)

	// Recently touched parents are left alone
	_, err = store.RecoverExpiredLeases(ctx, time.Now())
	require.NoError(t, err)
	stuck, err = store.GetJob(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusWaitingChildren, stuck.Status)

	_, err = store.RecoverExpiredLeases(ctx, time.Now().Add(2*time.Minute))
	require.NoError(t, err)

	released, err := store.GetJob(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusWaiting, released.Status)
	assert.Zero(t, released.PendingChildren)

	resumed := uuid.New()
	leased, err := store.ClaimJob(ctx, "default", resumed, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, parent.ID, leased.ID)
}

func TestStore_ReconcileKeepsParentsWithLiveChildren(t *testing.T) {
	t.Parallel()
	store := newStore(t)
	ctx := context.Background()

	parent := newJob(queue.PriorityLow)
	require.NoError(t, store.CreateJobs(ctx, []*queue.Job{parent}))
	ptoken := uuid.New()
	_, err := store.ClaimJob(ctx, "default", ptoken, time.Minute)
	require.NoError(t, err)

	child := newJob(queue.PriorityHigh)
	child.ParentID = &parent.ID
	require.NoError(t, store.CreateJobs(ctx, []*queue.Job{child}))
	waiting, err := store.WaitForChildren(ctx, parent.ID, ptoken)
	require.NoError(t, err)
	require.True(t, waiting)

	_, err = store.RecoverExpiredLeases(ctx, time.Now().Add(2*time.Minute))
	require.NoError(t, err)

	got, err := store.GetJob(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusWaitingChildren, got.Status)
	assert.Equal(t, 1, got.PendingChildren)
}

func TestStore_Maintenance(t *testing.T) {
	t.Parallel()
	store := newStore(t)
	ctx := context.Background()

	job := newJob(queue.PriorityDefault)
	job.MaxAttempts = 1
	job.Schedule = "nightly"
	require.NoError(t, store.CreateJobs(ctx, []*queue.Job{job}))

	pending, err := store.GetPendingJobBySchedule(ctx, "nightly")
	require.NoError(t, err)
	assert.Equal(t, job.ID, pending.ID)

	_, err = store.ClaimJob(ctx, "default", uuid.New(), time.Millisecond)
	require.NoError(t, err)

	n, err := store.RecoverExpiredLeases(ctx, time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	failed, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusFailed, failed.Status)
	require.NotNil(t, failed.Error)
	assert.Equal(t, queue.ErrorKindLeaseExpired, failed.Error.Kind)

	_, err = store.GetPendingJobBySchedule(ctx, "nightly")
	assert.ErrorIs(t, err, queue.ErrJobNotFound)

	purged, err := store.PurgeJobs(ctx, "default", queue.StatusFailed, time.Time{}, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, purged)

	purged, err = store.PurgeJobs(ctx, "default", queue.StatusFailed, time.Now().Add(time.Minute), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	jobs, err := store.ListJobs(ctx, queue.ListFilter{Queue: "default"})
	require.NoError(t, err)
	assert.Empty(t, jobs)
}
