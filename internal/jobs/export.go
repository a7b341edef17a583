package jobs

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/language"

	"github.com/dmitrymomot/jobkit/pkg/artifact"
	"github.com/dmitrymomot/jobkit/pkg/logger"
	"github.com/dmitrymomot/jobkit/pkg/queue"
	"github.com/dmitrymomot/jobkit/pkg/validator"
)

// ExportPrefix is the artifact key prefix of every export archive
const ExportPrefix = "exports"

// MaxExportTransactions bounds a single export request
const MaxExportTransactions = 50000

// DefaultDateLayout formats the Date column when the payload sets none
const DefaultDateLayout = "Jan 02, 2006"

// ErrNoTransactions is returned when none of the requested transactions exist
var ErrNoTransactions = errors.New("no transactions found for export")

// ExportTransactions is the payload of the export-transactions job.
// DateFormat is a Go time layout.
type ExportTransactions struct {
	TeamID         uuid.UUID   `json:"team_id"`
	Locale         string      `json:"locale"`
	DateFormat     string      `json:"date_format,omitempty"`
	TransactionIDs []uuid.UUID `json:"transaction_ids"`
	NotifyEmail    string      `json:"notify_email,omitempty"`
}

// Validate checks ids, locale and the optional notification address
func (p ExportTransactions) Validate() error {
	rules := []validator.Rule{
		validator.RequiredUUID("team_id", p.TeamID),
		validator.RequiredString("locale", p.Locale),
		validLocale("locale", p.Locale),
		validator.RequiredItems("transaction_ids", p.TransactionIDs),
		validator.MaxItems("transaction_ids", p.TransactionIDs, MaxExportTransactions),
	}
	if p.NotifyEmail != "" {
		rules = append(rules, validator.ValidEmail("notify_email", p.NotifyEmail))
	}
	return validator.Apply(rules...)
}

func validLocale(field, value string) validator.Rule {
	return validator.Rule{
		Check: func() bool {
			if value == "" {
				return true
			}
			_, err := language.Parse(value)
			return err == nil
		},
		Error: validator.ValidationError{
			Field:          field,
			Message:        "must be a valid language tag",
			TranslationKey: "validation.locale",
		},
	}
}

// ExportResult is stored on the parent job once the archive is uploaded.
type ExportResult struct {
	Key          string `json:"key"`
	URL          string `json:"url"`
	Size         int64  `json:"size"`
	Transactions int    `json:"transactions"`
	Chunks       int    `json:"chunks"`
}

// ExportChunk is the payload of one export-transactions-chunk child.
type ExportChunk struct {
	TeamID         uuid.UUID   `json:"team_id"`
	Index          int         `json:"index"`
	TransactionIDs []uuid.UUID `json:"transaction_ids"`
}

// Validate checks the chunk carries ids
func (p ExportChunk) Validate() error {
	return validator.Apply(
		validator.RequiredUUID("team_id", p.TeamID),
		validator.Min("index", p.Index, 0),
		validator.RequiredItems("transaction_ids", p.TransactionIDs),
	)
}

// ChunkResult carries the transactions loaded by one chunk.
type ChunkResult struct {
	Index        int           `json:"index"`
	Transactions []Transaction `json:"transactions"`
}

type exporter struct {
	enq       *queue.Enqueuer
	artifacts artifact.Storage
	source    TransactionSource
	chunkSize int
	now       func() time.Time
}

// handle runs twice: first it fans out one chunk per chunkSize ids and parks,
// then, once every chunk is terminal, it assembles and uploads the archive.
func (e *exporter) handle(ctx context.Context, p ExportTransactions) (ExportResult, error) {
	info, ok := queue.JobFromContext(ctx)
	if !ok {
		return ExportResult{}, queue.NonRetryable(errors.New("export must run inside a worker"))
	}
	if info.ChildCount == 0 {
		return ExportResult{}, e.fanOut(ctx, info, p)
	}

	results, err := queue.ChildResults(ctx)
	if errors.Is(err, queue.ErrChildrenPending) {
		return ExportResult{}, queue.WaitForChildren()
	}
	if err != nil {
		return ExportResult{}, err
	}
	if failed := queue.FailedChildren(results); len(failed) > 0 {
		return ExportResult{}, queue.NonRetryable(fmt.Errorf("%d of %d export chunks failed", len(failed), len(results)))
	}

	chunks, err := queue.DecodeChildResults[ChunkResult](results)
	if err != nil {
		return ExportResult{}, queue.NonRetryable(err)
	}
	txs := mergeChunks(chunks)
	if len(txs) == 0 {
		return ExportResult{}, queue.NonRetryable(ErrNoTransactions)
	}

	rows, err := formatRows(txs, p.Locale, p.DateFormat)
	if err != nil {
		return ExportResult{}, queue.NonRetryable(err)
	}
	archive, err := buildArchive(rows, e.now())
	if err != nil {
		return ExportResult{}, err
	}

	obj, err := e.artifacts.Put(ctx, exportKey(p.TeamID, info.ID), bytes.NewReader(archive), "application/zip")
	if err != nil {
		return ExportResult{}, fmt.Errorf("failed to upload export: %w", err)
	}

	if p.NotifyEmail != "" {
		if err := e.notify(ctx, info.ID, p.NotifyEmail, obj); err != nil {
			return ExportResult{}, err
		}
	}

	queue.LoggerFromContext(ctx).InfoContext(ctx, "transaction export completed",
		logger.Event("export.completed"),
		slog.String("team_id", p.TeamID.String()),
		slog.String("key", obj.Key),
		slog.Int("transactions", len(txs)),
		slog.Int("chunks", len(chunks)))

	return ExportResult{
		Key:          obj.Key,
		URL:          obj.URL,
		Size:         obj.Size,
		Transactions: len(txs),
		Chunks:       len(chunks),
	}, nil
}

// fanOut enqueues the chunks with ids derived from the parent,
// so a crashed first run cannot create a second set.
func (e *exporter) fanOut(ctx context.Context, info queue.JobInfo, p ExportTransactions) error {
	ids := slices.Clone(p.TransactionIDs)
	var items []queue.BatchItem
	for i, part := range slices.Collect(slices.Chunk(ids, e.chunkSize)) {
		items = append(items, queue.BatchItem{
			Payload: ExportChunk{TeamID: p.TeamID, Index: i, TransactionIDs: part},
			Options: []queue.EnqueueOption{
				queue.WithParent(info.ID),
				queue.WithJobID(uuid.NewSHA1(info.ID, fmt.Appendf(nil, "chunk-%d", i))),
			},
		})
	}

	if _, err := e.enq.EnqueueBatch(ctx, TypeExportChunk, items...); err != nil && !errors.Is(err, queue.ErrJobExists) {
		return fmt.Errorf("failed to enqueue export chunks: %w", err)
	}

	queue.LoggerFromContext(ctx).InfoContext(ctx, "transaction export split into chunks",
		logger.Event("export.fanout"),
		slog.Int("chunks", len(items)),
		slog.Int("transactions", len(ids)))

	return queue.WaitForChildren()
}

func (e *exporter) loadChunk(ctx context.Context, p ExportChunk) (ChunkResult, error) {
	txs, err := e.source.TransactionsForExport(ctx, p.TeamID, p.TransactionIDs)
	if err != nil {
		return ChunkResult{}, fmt.Errorf("failed to load chunk %d: %w", p.Index, err)
	}
	return ChunkResult{Index: p.Index, Transactions: txs}, nil
}

func (e *exporter) notify(ctx context.Context, exportID uuid.UUID, to string, obj *artifact.Object) error {
	_, err := e.enq.Enqueue(ctx, TypeSendEmail, SendEmail{
		To:       to,
		Subject:  "Your transaction export is ready",
		BodyHTML: fmt.Sprintf(`<p>Your export is ready: <a href="%[1]s">%[1]s</a></p>`, html.EscapeString(obj.URL)),
		Tag:      "export-ready",
	}, queue.WithJobID(uuid.NewSHA1(exportID, []byte("notify"))))
	if err != nil && !errors.Is(err, queue.ErrJobExists) {
		return fmt.Errorf("failed to enqueue export notification: %w", err)
	}
	return nil
}

// mergeChunks flattens chunk results in chunk order, newest transaction first
func mergeChunks(chunks map[uuid.UUID]ChunkResult) []Transaction {
	ordered := make([]ChunkResult, 0, len(chunks))
	for _, c := range chunks {
		ordered = append(ordered, c)
	}
	slices.SortFunc(ordered, func(a, b ChunkResult) int { return cmp.Compare(a.Index, b.Index) })

	var txs []Transaction
	for _, c := range ordered {
		txs = append(txs, c.Transactions...)
	}
	slices.SortStableFunc(txs, func(a, b Transaction) int { return b.Date.Compare(a.Date) })
	return txs
}

func exportKey(teamID, jobID uuid.UUID) string {
	return fmt.Sprintf("%s/%s/export-%s.zip", ExportPrefix, teamID, jobID)
}
