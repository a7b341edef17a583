package jobs

import (
	"errors"
	"time"

	"github.com/dmitrymomot/jobkit/pkg/artifact"
	"github.com/dmitrymomot/jobkit/pkg/email"
	"github.com/dmitrymomot/jobkit/pkg/queue"
)

// Queue names used by the catalogue
const (
	QueueEmails      = "emails"
	QueueExports     = "exports"
	QueueMaintenance = "maintenance"
)

// Job types
const (
	TypeSendEmail          = "send-email"
	TypeExportTransactions = "export-transactions"
	TypeExportChunk        = "export-transactions-chunk"
	TypeCleanupExports     = "cleanup-exports"
)

// DefaultChunkSize is how many transactions one export chunk loads
const DefaultChunkSize = 250

var (
	ErrSenderNil       = errors.New("email sender cannot be nil")
	ErrArtifactsNil    = errors.New("artifact storage cannot be nil")
	ErrTransactionsNil = errors.New("transaction source cannot be nil")
	ErrEnqueuerNil     = errors.New("enqueuer cannot be nil")
)

// Deps are the collaborators the handlers call into.
type Deps struct {
	Enqueuer     *queue.Enqueuer
	Sender       email.Sender
	Artifacts    artifact.Storage
	Transactions TransactionSource
	ChunkSize    int
	Now          func() time.Time
}

// Catalog holds the typed definitions registered by Register.
type Catalog struct {
	SendEmail          *queue.JobDefinition[SendEmail, queue.NoResult]
	ExportTransactions *queue.JobDefinition[ExportTransactions, ExportResult]
	ExportChunk        *queue.JobDefinition[ExportChunk, ChunkResult]
	CleanupExports     *queue.JobDefinition[CleanupExports, CleanupResult]
}

// Queues returns the built-in queue layout, used when no topology file is given.
func Queues() map[string]queue.QueueConfig {
	return map[string]queue.QueueConfig{
		QueueEmails: {
			Concurrency: 4,
			Attempts:    5,
			Backoff:     queue.ExponentialBackoff(5*time.Second, 10*time.Minute),
		},
		QueueExports: {
			Concurrency: 2,
			Attempts:    3,
		},
		QueueMaintenance: {
			Concurrency: 1,
			Attempts:    1,
		},
	}
}

// Register defines every catalogue job on reg. The queues must already be registered.
func Register(reg *queue.Registry, deps Deps) (*Catalog, error) {
	switch {
	case deps.Enqueuer == nil:
		return nil, ErrEnqueuerNil
	case deps.Sender == nil:
		return nil, ErrSenderNil
	case deps.Artifacts == nil:
		return nil, ErrArtifactsNil
	case deps.Transactions == nil:
		return nil, ErrTransactionsNil
	}
	if deps.ChunkSize <= 0 {
		deps.ChunkSize = DefaultChunkSize
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	var (
		c   Catalog
		err error
	)

	mail := &mailer{sender: deps.Sender}
	if c.SendEmail, err = queue.Define(reg, TypeSendEmail, QueueEmails, mail.handle,
		queue.WithJobTimeout(30*time.Second),
	); err != nil {
		return nil, err
	}

	exp := &exporter{
		enq:       deps.Enqueuer,
		artifacts: deps.Artifacts,
		source:    deps.Transactions,
		chunkSize: deps.ChunkSize,
		now:       deps.Now,
	}
	if c.ExportTransactions, err = queue.Define(reg, TypeExportTransactions, QueueExports, exp.handle,
		queue.WithJobPriority(queue.PriorityCritical),
		queue.WithJobAttempts(3),
		queue.WithJobTimeout(10*time.Minute),
	); err != nil {
		return nil, err
	}
	if c.ExportChunk, err = queue.Define(reg, TypeExportChunk, QueueExports, exp.loadChunk,
		queue.WithJobTimeout(2*time.Minute),
	); err != nil {
		return nil, err
	}

	cl := &cleaner{artifacts: deps.Artifacts, now: deps.Now}
	if c.CleanupExports, err = queue.Define(reg, TypeCleanupExports, QueueMaintenance, cl.handle); err != nil {
		return nil, err
	}

	return &c, nil
}

// RegisterSchedules adds the catalogue's recurring jobs to s.
// The scheduler's gate decides whether they are actually registered.
func RegisterSchedules(s *queue.Scheduler) error {
	return s.RegisterRecurring(TypeCleanupExports, "0 3 * * *", CleanupExports{
		Prefix:      ExportPrefix,
		MaxAgeHours: 7 * 24,
	})
}
