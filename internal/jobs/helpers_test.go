package jobs_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobkit/internal/jobs"
	"github.com/dmitrymomot/jobkit/pkg/artifact"
	"github.com/dmitrymomot/jobkit/pkg/email"
	"github.com/dmitrymomot/jobkit/pkg/queue"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// MockSender is a mock implementation of email.Sender
type MockSender struct {
	mock.Mock
}

func (m *MockSender) Send(ctx context.Context, msg email.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

// memorySource serves transactions from a map and can be told to fail
type memorySource struct {
	mu   sync.Mutex
	txs  map[uuid.UUID]jobs.Transaction
	fail error
}

func newMemorySource(txs ...jobs.Transaction) *memorySource {
	s := &memorySource{txs: make(map[uuid.UUID]jobs.Transaction)}
	for _, tx := range txs {
		s.txs[tx.ID] = tx
	}
	return s
}

func (s *memorySource) TransactionsForExport(ctx context.Context, teamID uuid.UUID, ids []uuid.UUID) ([]jobs.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fail != nil {
		return nil, s.fail
	}
	var out []jobs.Transaction
	for _, id := range ids {
		if tx, ok := s.txs[id]; ok {
			out = append(out, tx)
		}
	}
	return out, nil
}

type testEnv struct {
	reg       *queue.Registry
	store     *queue.MemoryStorage
	enq       *queue.Enqueuer
	artifacts *artifact.LocalStorage
	dir       string
	sender    *MockSender
	source    *memorySource
	catalog   *jobs.Catalog
}

// newTestEnv wires the catalogue over a memory store with fast retries
func newTestEnv(t *testing.T, source *memorySource, chunkSize int) *testEnv {
	t.Helper()

	reg := queue.NewRegistry(queue.WithDefaults(queue.Defaults{
		Backoff: queue.FixedBackoff(10 * time.Millisecond),
	}))
	require.NoError(t, reg.RegisterQueues(map[string]queue.QueueConfig{
		jobs.QueueEmails:      {Concurrency: 1, Attempts: 3},
		jobs.QueueExports:     {Concurrency: 2, Attempts: 3},
		jobs.QueueMaintenance: {Concurrency: 1, Attempts: 1},
	}))

	store := queue.NewMemoryStorage()
	enq, err := queue.NewEnqueuer(store, reg, queue.WithEnqueuerLogger(discardLogger()))
	require.NoError(t, err)

	dir := t.TempDir()
	artifacts, err := artifact.NewLocalStorage(dir, "https://files.example.com")
	require.NoError(t, err)

	sender := new(MockSender)
	catalog, err := jobs.Register(reg, jobs.Deps{
		Enqueuer:     enq,
		Sender:       sender,
		Artifacts:    artifacts,
		Transactions: source,
		ChunkSize:    chunkSize,
	})
	require.NoError(t, err)

	return &testEnv{
		reg:       reg,
		store:     store,
		enq:       enq,
		artifacts: artifacts,
		dir:       dir,
		sender:    sender,
		source:    source,
		catalog:   catalog,
	}
}

func (e *testEnv) startWorker(t *testing.T) {
	t.Helper()

	w, err := queue.NewWorker(e.store, e.reg,
		queue.WithPullInterval(10*time.Millisecond),
		queue.WithWorkerLogger(discardLogger()),
	)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop() })
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
	}, 5*time.Second, 5*time.Millisecond, "job %s never reached %s", id, status)
	return job
}

var errLedgerDown = errors.New("ledger unavailable")
