package queue_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobkit/pkg/queue"
	"github.com/dmitrymomot/jobkit/pkg/validator"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type emailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
}

func (p emailPayload) Validate() error {
	return validator.Apply(
		validator.RequiredString("to", p.To),
		validator.ValidEmail("to", p.To),
	)
}

type numberPayload struct {
	N int `json:"n"`
}

type testEnv struct {
	reg   *queue.Registry
	store *queue.MemoryStorage
	enq   *queue.Enqueuer
}

// newTestEnv registers the given queues with fast retries and wires an
// enqueuer over a fresh memory store
func newTestEnv(t *testing.T, queues map[string]queue.QueueConfig) *testEnv {
	t.Helper()

	reg := queue.NewRegistry(queue.WithDefaults(queue.Defaults{
		Backoff: queue.FixedBackoff(10 * time.Millisecond),
	}))
	require.NoError(t, reg.RegisterQueues(queues))

	store := queue.NewMemoryStorage()
	enq, err := queue.NewEnqueuer(store, reg, queue.WithEnqueuerLogger(discardLogger()))
	require.NoError(t, err)

	return &testEnv{reg: reg, store: store, enq: enq}
}

func (e *testEnv) startWorker(t *testing.T, opts ...queue.WorkerOption) *queue.Worker {
	t.Helper()

	opts = append([]queue.WorkerOption{
		queue.WithPullInterval(10 * time.Millisecond),
		queue.WithWorkerLogger(discardLogger()),
	}, opts...)

	w, err := queue.NewWorker(e.store, e.reg, opts...)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop() })
	return w
}

func waitForStatus(t *testing.T, store *queue.MemoryStorage, id uuid.UUID, status queue.JobStatus) *queue.Job {
	t.Helper()

	var job *queue.Job
	require.Eventually(t, func() bool {
		j, err := store.GetJob(context.Background(), id)
		if err != nil {
			return false
		}
		job = j
		return j.Status == status
	}, 3*time.Second, 5*time.Millisecond, "job %s never reached %s", id, status)
	return job
}

// newJob builds a job ready to be stored directly, bypassing the enqueuer
func newJob(queueName, jobType string, priority queue.Priority) *queue.Job {
	now := time.Now()
	return &queue.Job{
		ID:          uuid.New(),
		Type:        jobType,
		Queue:       queueName,
		Payload:     []byte(`{}`),
		Status:      queue.StatusWaiting,
		Priority:    priority,
		MaxAttempts: 3,
		Backoff:     queue.FixedBackoff(time.Second),
		RunAt:       now.Add(-time.Second),
		CreatedAt:   now,
	}
}

// claim leases the next job of queueName and returns it with its lease token
func claim(t *testing.T, repo queue.WorkerRepository, queueName string) (*queue.Job, uuid.UUID) {
	t.Helper()

	token := uuid.New()
	job, err := repo.ClaimJob(context.Background(), queueName, token, time.Minute)
	require.NoError(t, err)
	return job, token
}

type staticGate bool

func (g staticGate) ShouldRegisterRecurring() bool { return bool(g) }
