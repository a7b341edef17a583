package redisstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/jobkit/pkg/queue"
)

// rank orders waiting jobs of equal priority by run_at, then enqueue order.
// The job id is the fixed-width suffix the claim script cuts back out.
func rank(runAt time.Time, seq int64, id uuid.UUID) string {
	return fmt.Sprintf("%020d:%020d:%s", max(runAt.UnixMicro(), 0), seq, id)
}

func micros(t time.Time) string {
	return strconv.FormatInt(t.UnixMicro(), 10)
}

func parseMicros(s string) (time.Time, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMicro(n).UTC(), nil
}

// encodeJob flattens a new job into hash field/value pairs
func encodeJob(job *queue.Job, seq int64) ([]any, error) {
	backoff, err := json.Marshal(job.Backoff)
	if err != nil {
		return nil, fmt.Errorf("failed to encode backoff: %w", err)
	}

	fields := []any{
		"id", job.ID.String(),
		"type", job.Type,
		"queue", job.Queue,
		"status", string(job.Status),
		"priority", strconv.Itoa(int(job.Priority)),
		"attempt", strconv.Itoa(job.Attempt),
		"max_attempts", strconv.Itoa(job.MaxAttempts),
		"backoff", string(backoff),
		"run_at", micros(job.RunAt),
		"created_at", micros(job.CreatedAt),
		"schedule", job.Schedule,
		"seq", strconv.FormatInt(seq, 10),
		"rank", rank(job.RunAt, seq, job.ID),
	}
	if len(job.Payload) > 0 {
		fields = append(fields, "payload", string(job.Payload))
	}
	if job.ParentID != nil {
		fields = append(fields, "parent_id", job.ParentID.String())
	}
	return fields, nil
}

// decodeJob rebuilds a job from HGETALL output
func decodeJob(h map[string]string) (*queue.Job, error) {
	var (
		j    queue.Job
		errs []error
	)

	parseInt := func(field string) int {
		v, ok := h[field]
		if !ok || v == "" {
			return 0
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
		}
		return n
	}
	parseTime := func(field string) *time.Time {
		v, ok := h[field]
		if !ok || v == "" {
			return nil
		}
		t, err := parseMicros(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
			return nil
		}
		return &t
	}
	parseUUID := func(field string) *uuid.UUID {
		v, ok := h[field]
		if !ok || v == "" {
			return nil
		}
		id, err := uuid.Parse(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
			return nil
		}
		return &id
	}

	if id := parseUUID("id"); id != nil {
		j.ID = *id
	}
	j.Type = h["type"]
	j.Queue = h["queue"]
	j.Status = queue.JobStatus(h["status"])
	j.Priority = queue.Priority(parseInt("priority"))
	j.Attempt = parseInt("attempt")
	j.MaxAttempts = parseInt("max_attempts")
	j.ChildCount = parseInt("child_count")
	j.PendingChildren = parseInt("pending_children")
	j.Schedule = h["schedule"]
	j.ParentID = parseUUID("parent_id")
	j.LockedBy = parseUUID("locked_by")
	j.LockedUntil = parseTime("locked_until")
	j.StartedAt = parseTime("started_at")
	j.FinishedAt = parseTime("finished_at")
	if t := parseTime("run_at"); t != nil {
		j.RunAt = *t
	}
	if t := parseTime("created_at"); t != nil {
		j.CreatedAt = *t
	}

	if v := h["payload"]; v != "" {
		j.Payload = json.RawMessage(v)
	}
	if v := h["result"]; v != "" {
		j.Result = json.RawMessage(v)
	}
	if v := h["backoff"]; v != "" {
		if err := json.Unmarshal([]byte(v), &j.Backoff); err != nil {
			errs = append(errs, fmt.Errorf("backoff: %w", err))
		}
	}
	if v := h["error"]; v != "" {
		j.Error = &queue.JobError{}
		if err := json.Unmarshal([]byte(v), j.Error); err != nil {
			errs = append(errs, fmt.Errorf("error: %w", err))
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(append([]error{ErrCorruptJob}, errs...)...)
	}
	return &j, nil
}
