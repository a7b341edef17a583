package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/dmitrymomot/jobkit/pkg/logger"
)

// JobInfo describes the job a handler is running
type JobInfo struct {
	ID          uuid.UUID
	Type        string
	Queue       string
	Attempt     int
	MaxAttempts int
	ParentID    *uuid.UUID
	ChildCount  int
	Schedule    string
}

type (
	jobInfoKey   struct{}
	jobLoggerKey struct{}
	childrenKey  struct{}
)

// childLoader fetches child jobs lazily for ChildResults
type childLoader func(ctx context.Context) ([]*Job, error)

func newJobInfo(j *Job) JobInfo {
	info := JobInfo{
		ID:          j.ID,
		Type:        j.Type,
		Queue:       j.Queue,
		Attempt:     j.Attempt,
		MaxAttempts: j.MaxAttempts,
		ChildCount:  j.ChildCount,
		Schedule:    j.Schedule,
	}
	if j.ParentID != nil {
		p := *j.ParentID
		info.ParentID = &p
	}
	return info
}

func withJob(ctx context.Context, info JobInfo, log *slog.Logger, children childLoader) context.Context {
	ctx = context.WithValue(ctx, jobInfoKey{}, info)
	ctx = context.WithValue(ctx, jobLoggerKey{}, log)
	return context.WithValue(ctx, childrenKey{}, children)
}

// JobFromContext returns the running job's info
func JobFromContext(ctx context.Context) (JobInfo, bool) {
	info, ok := ctx.Value(jobInfoKey{}).(JobInfo)
	return info, ok
}

// LoggerFromContext returns the logger scoped to the running job,
// or slog.Default outside a handler.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(jobLoggerKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}

// ChildResults returns the outcome of every child of the running job keyed by child ID.
// Failed children are included with their error. It returns ErrChildrenPending
// when any child has not reached a terminal state yet.
func ChildResults(ctx context.Context) (map[uuid.UUID]ChildResult, error) {
	load, ok := ctx.Value(childrenKey{}).(childLoader)
	if !ok || load == nil {
		return map[uuid.UUID]ChildResult{}, nil
	}
	children, err := load(ctx)
	if err != nil {
		return nil, err
	}
	return collectChildResults(children)
}

// DecodeChildResults decodes the result of each completed child into T.
// Failed children are skipped; inspect ChildResults to handle them.
func DecodeChildResults[T any](results map[uuid.UUID]ChildResult) (map[uuid.UUID]T, error) {
	out := make(map[uuid.UUID]T, len(results))
	for id, r := range results {
		if r.Status != StatusCompleted {
			continue
		}
		var v T
		if len(r.Result) > 0 {
			if err := json.Unmarshal(r.Result, &v); err != nil {
				return nil, fmt.Errorf("failed to decode result of child %s: %w", id, err)
			}
		}
		out[id] = v
	}
	return out, nil
}

// LogExtractor stamps job attributes onto records logged with a handler context.
// Register it with logger.WithContextExtractors.
func LogExtractor(ctx context.Context) (slog.Attr, bool) {
	info, ok := JobFromContext(ctx)
	if !ok {
		return slog.Attr{}, false
	}
	return logger.Group("job",
		logger.JobID(info.ID.String()),
		logger.JobType(info.Type),
		logger.Queue(info.Queue),
		logger.Attempt(info.Attempt),
	), true
}
