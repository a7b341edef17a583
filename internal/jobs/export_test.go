package jobs_test

import (
	"archive/zip"
	"context"
	"encoding/csv"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobkit/internal/jobs"
	"github.com/dmitrymomot/jobkit/pkg/email"
	"github.com/dmitrymomot/jobkit/pkg/queue"
	"github.com/dmitrymomot/jobkit/pkg/validator"
)

func sampleTransactions(n int) []jobs.Transaction {
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	txs := make([]jobs.Transaction, n)
	for i := range txs {
		txs[i] = jobs.Transaction{
			ID:       uuid.New(),
			Date:     base.AddDate(0, 0, i),
			Name:     "Payment",
			Amount:   1234.5,
			Currency: "USD",
			Tags:     []string{"q1", "clients"},
		}
	}
	return txs
}

func ids(txs []jobs.Transaction) []uuid.UUID {
	out := make([]uuid.UUID, len(txs))
	for i, tx := range txs {
		out[i] = tx.ID
	}
	return out
}

func readArchive(t *testing.T, path string) [][]string {
	t.Helper()

	zr, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer zr.Close()

	require.Len(t, zr.File, 1)
	assert.Equal(t, "transactions.csv", zr.File[0].Name)

	f, err := zr.File[0].Open()
	require.NoError(t, err)
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return records
}

func TestExportTransactions_FanOutFanIn(t *testing.T) {
	t.Parallel()

	txs := sampleTransactions(5)
	env := newTestEnv(t, newMemorySource(txs...), 2)
	env.sender.On("Send", mock.Anything, mock.MatchedBy(func(m email.Message) bool {
		return m.To == "owner@example.com" && m.Tag == "export-ready"
	})).Return(nil).Once()

	teamID := uuid.New()
	id, err := env.catalog.ExportTransactions.Enqueue(context.Background(), env.enq, jobs.ExportTransactions{
		TeamID:         teamID,
		Locale:         "en",
		DateFormat:     "2006-01-02",
		TransactionIDs: ids(txs),
		NotifyEmail:    "owner@example.com",
	})
	require.NoError(t, err)

	env.startWorker(t)
	job := waitForStatus(t, env.store, id, queue.StatusCompleted)

	var res jobs.ExportResult
	require.NoError(t, json.Unmarshal(job.Result, &res))
	assert.Equal(t, 5, res.Transactions)
	assert.Equal(t, 3, res.Chunks)
	assert.Equal(t, "exports/"+teamID.String()+"/export-"+id.String()+".zip", res.Key)
	assert.Equal(t, "https://files.example.com/"+res.Key, res.URL)
	assert.Equal(t, 3, job.ChildCount)
	assert.Equal(t, 0, job.PendingChildren)
	assert.Equal(t, 1, job.Attempt, "waiting for children refunds the attempt")

	children, err := env.store.ChildJobs(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, children, 3)
	for _, c := range children {
		assert.Equal(t, jobs.TypeExportChunk, c.Type)
		assert.Equal(t, queue.StatusCompleted, c.Status)
	}

	records := readArchive(t, filepath.Join(env.dir, filepath.FromSlash(res.Key)))
	require.Len(t, records, 6)
	assert.Equal(t, "ID", records[0][0])
	assert.Equal(t, "Tags", records[0][len(records[0])-1])

	// newest first
	assert.Equal(t, txs[4].ID.String(), records[1][0])
	assert.Equal(t, "2025-03-05", records[1][1])
	assert.Equal(t, txs[0].ID.String(), records[5][0])
	assert.Equal(t, "1,234.5", records[1][4])
	assert.Equal(t, "USD", records[1][5])
	assert.Equal(t, "q1, clients", records[1][18])

	notifyID := uuid.NewSHA1(id, []byte("notify"))
	waitForStatus(t, env.store, notifyID, queue.StatusCompleted)
	env.sender.AssertExpectations(t)
}

func TestExportTransactions_ChunkFailure(t *testing.T) {
	t.Parallel()

	txs := sampleTransactions(3)
	source := newMemorySource(txs...)
	source.fail = queue.NonRetryable(errLedgerDown)
	env := newTestEnv(t, source, 2)

	id, err := env.catalog.ExportTransactions.Enqueue(context.Background(), env.enq, jobs.ExportTransactions{
		TeamID:         uuid.New(),
		Locale:         "en",
		TransactionIDs: ids(txs),
	})
	require.NoError(t, err)

	env.startWorker(t)
	job := waitForStatus(t, env.store, id, queue.StatusFailed)

	require.NotNil(t, job.Error)
	assert.Contains(t, job.Error.Message, "2 of 2 export chunks failed")

	objects, err := env.artifacts.List(context.Background(), jobs.ExportPrefix)
	require.NoError(t, err)
	assert.Empty(t, objects)
	env.sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestExportTransactions_NothingFound(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, newMemorySource(), 10)

	id, err := env.catalog.ExportTransactions.Enqueue(context.Background(), env.enq, jobs.ExportTransactions{
		TeamID:         uuid.New(),
		Locale:         "de-DE",
		TransactionIDs: []uuid.UUID{uuid.New()},
	})
	require.NoError(t, err)

	env.startWorker(t)
	job := waitForStatus(t, env.store, id, queue.StatusFailed)
	require.NotNil(t, job.Error)
	assert.Contains(t, job.Error.Message, jobs.ErrNoTransactions.Error())
	assert.Equal(t, 1, job.Attempt, "non-retryable failures are not retried")
}

func TestExportTransactions_Validate(t *testing.T) {
	t.Parallel()

	valid := jobs.ExportTransactions{
		TeamID:         uuid.New(),
		Locale:         "sv-SE",
		TransactionIDs: []uuid.UUID{uuid.New()},
	}

	tests := []struct {
		name   string
		mutate func(*jobs.ExportTransactions)
		field  string
	}{
		{name: "valid", mutate: func(*jobs.ExportTransactions) {}},
		{name: "missing team", mutate: func(p *jobs.ExportTransactions) { p.TeamID = uuid.Nil }, field: "team_id"},
		{name: "missing locale", mutate: func(p *jobs.ExportTransactions) { p.Locale = "" }, field: "locale"},
		{name: "bad locale", mutate: func(p *jobs.ExportTransactions) { p.Locale = "not a locale!" }, field: "locale"},
		{name: "no transactions", mutate: func(p *jobs.ExportTransactions) { p.TransactionIDs = nil }, field: "transaction_ids"},
		{name: "bad notify email", mutate: func(p *jobs.ExportTransactions) { p.NotifyEmail = "nope" }, field: "notify_email"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p := valid
			tt.mutate(&p)
			err := p.Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, validator.ExtractValidationErrors(err).Has(tt.field))
		})
	}
}

func TestExportTransactions_RejectedAtEnqueue(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, newMemorySource(), 0)

	_, err := env.enq.Enqueue(context.Background(), jobs.TypeExportTransactions, map[string]any{
		"team_id":         uuid.New(),
		"locale":          "en",
		"transaction_ids": []uuid.UUID{},
	})
	assert.ErrorIs(t, err, queue.ErrValidation)

	stats, err := env.store.QueueStats(context.Background(), jobs.QueueExports)
	require.NoError(t, err)
	assert.Zero(t, stats.Pending())
}

func TestSyntheticTransactions(t *testing.T) {
	t.Parallel()

	src := jobs.SyntheticTransactions{}
	want := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}

	first, err := src.TransactionsForExport(context.Background(), uuid.New(), want)
	require.NoError(t, err)
	second, err := src.TransactionsForExport(context.Background(), uuid.New(), want)
	require.NoError(t, err)

	require.Len(t, first, 3)
	for i := range first {
		assert.Equal(t, want[i], first[i].ID)
		assert.Equal(t, first[i].Amount, second[i].Amount)
		assert.Equal(t, first[i].Date, second[i].Date)
		assert.NotEmpty(t, first[i].Currency)
	}
}
