package pgstore

import (
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/jobkit/pkg/queue"
)

// scanJob reads one row selected with jobColumns
func scanJob(row pgx.Row) (*queue.Job, error) {
	var (
		j        queue.Job
		status   string
		priority int
		payload  []byte
		backoff  []byte
		result   []byte
		jobErr   []byte
	)

	err := row.Scan(
		&j.ID, &j.Type, &j.Queue, &payload, &status, &priority, &j.Attempt, &j.MaxAttempts, &backoff,
		&j.ParentID, &j.ChildCount, &j.PendingChildren, &j.RunAt, &result, &jobErr, &j.Schedule,
		&j.LockedBy, &j.LockedUntil, &j.CreatedAt, &j.StartedAt, &j.FinishedAt,
	)
	if err != nil {
		return nil, err
	}

	j.Status = queue.JobStatus(status)
	j.Priority = queue.Priority(priority)
	if len(payload) > 0 {
		j.Payload = json.RawMessage(payload)
	}
	if len(result) > 0 {
		j.Result = json.RawMessage(result)
	}
	if len(backoff) > 0 {
		if err := json.Unmarshal(backoff, &j.Backoff); err != nil {
			return nil, fmt.Errorf("failed to decode backoff of job %s: %w", j.ID, err)
		}
	}
	if len(jobErr) > 0 {
		j.Error = &queue.JobError{}
		if err := json.Unmarshal(jobErr, j.Error); err != nil {
			return nil, fmt.Errorf("failed to decode error of job %s: %w", j.ID, err)
		}
	}
	return &j, nil
}

func collectJobs(rows pgx.Rows) ([]*queue.Job, error) {
	defer rows.Close()

	out := []*queue.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read jobs: %w", err)
	}
	return out, nil
}
