package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/jobkit/pkg/queue"
)

// Store implements queue.Storage on a single PostgreSQL table.
// Claims use FOR UPDATE SKIP LOCKED so any number of workers can poll the
// same queue; parent counters are updated under the parent's row lock.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

var _ queue.Storage = (*Store)(nil)

// Option configures a Store
type Option func(*Store)

// WithClock overrides the time source used for run_at and lease arithmetic
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a Store on top of an already migrated pool
func New(pool *pgxpool.Pool, opts ...Option) (*Store, error) {
	if pool == nil {
		return nil, ErrPoolNil
	}
	s := &Store{pool: pool, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// rowQuerier is satisfied by both the pool and a transaction
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const jobColumns = `id, type, queue, payload, status, priority, attempt, max_attempts, backoff,
	parent_id, child_count, pending_children, run_at, result, error, schedule,
	locked_by, locked_until, created_at, started_at, finished_at`

const terminal = `('completed', 'failed')`

// CreateJobs implements queue.EnqueuerRepository
func (s *Store) CreateJobs(ctx context.Context, jobs []*queue.Job) error {
	if len(jobs) == 0 {
		return queue.ErrNoItemsToEnqueue
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, job := range jobs {
			if job == nil {
				return errors.New("job cannot be nil")
			}
			if job.ParentID != nil {
				if err := lockParent(ctx, tx, *job.ParentID); err != nil {
					return err
				}
			}
			if err := insertJob(ctx, tx, job); err != nil {
				return err
			}
			if job.ParentID != nil {
				if _, err := tx.Exec(ctx, `UPDATE jobkit_jobs
					SET child_count = child_count + 1, pending_children = pending_children + 1
					WHERE id = $1`, *job.ParentID); err != nil {
					return fmt.Errorf("failed to register child: %w", err)
				}
			}
		}
		return nil
	})
}

func lockParent(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	var status string
	err := tx.QueryRow(ctx, `SELECT status FROM jobkit_jobs WHERE id = $1 FOR UPDATE`, id).Scan(&status)
	if isNotFound(err) {
		return fmt.Errorf("%w: %s", queue.ErrParentNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("failed to lock parent job: %w", err)
	}
	if queue.JobStatus(status).Terminal() {
		return fmt.Errorf("%w: %s is %s", queue.ErrParentFinished, id, status)
	}
	return nil
}

func insertJob(ctx context.Context, tx pgx.Tx, job *queue.Job) error {
	backoff, err := json.Marshal(job.Backoff)
	if err != nil {
		return fmt.Errorf("failed to encode backoff: %w", err)
	}

	_, err = tx.Exec(ctx, `INSERT INTO jobkit_jobs
		(id, type, queue, payload, status, priority, attempt, max_attempts, backoff,
		 parent_id, run_at, schedule, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		job.ID, job.Type, job.Queue, nullJSON(job.Payload), string(job.Status), int(job.Priority),
		job.Attempt, job.MaxAttempts, backoff, job.ParentID, job.RunAt, job.Schedule, job.CreatedAt,
	)
	if isDuplicateKey(err) {
		return fmt.Errorf("%w: %s", queue.ErrJobExists, job.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

// ClaimJob implements queue.WorkerRepository
func (s *Store) ClaimJob(ctx context.Context, queueName string, token uuid.UUID, lockDuration time.Duration) (*queue.Job, error) {
	now := s.now()
	row := s.pool.QueryRow(ctx, `UPDATE jobkit_jobs
		SET status = 'active', attempt = attempt + 1, locked_by = $2, locked_until = $4, started_at = $3
		WHERE id = (
			SELECT id FROM jobkit_jobs
			WHERE queue = $1 AND status IN ('waiting', 'delayed') AND run_at <= $3
			ORDER BY priority, run_at, seq
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns,
		queueName, token, now, now.Add(lockDuration),
	)

	job, err := scanJob(row)
	if isNotFound(err) {
		return nil, queue.ErrNoJobToClaim
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	return job, nil
}

// ExtendLock implements queue.WorkerRepository
func (s *Store) ExtendLock(ctx context.Context, id, token uuid.UUID, d time.Duration) error {
	tag, err := s.pool.Exec(ctx, `UPDATE jobkit_jobs SET locked_until = $3
		WHERE id = $1 AND status = 'active' AND locked_by = $2`,
		id, token, s.now().Add(d))
	if err != nil {
		return fmt.Errorf("failed to extend lock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.leaseError(ctx, s.pool, id)
	}
	return nil
}

// CompleteJob implements queue.WorkerRepository
func (s *Store) CompleteJob(ctx context.Context, id, token uuid.UUID, result json.RawMessage) error {
	now := s.now()
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var parentID *uuid.UUID
		err := tx.QueryRow(ctx, `UPDATE jobkit_jobs
			SET status = 'completed', result = $3, finished_at = $4, locked_by = NULL, locked_until = NULL
			WHERE id = $1 AND status = 'active' AND locked_by = $2
			RETURNING parent_id`,
			id, token, nullJSON(result), now).Scan(&parentID)
		if isNotFound(err) {
			return s.leaseError(ctx, tx, id)
		}
		if err != nil {
			return fmt.Errorf("failed to complete job: %w", err)
		}
		return resolveParent(ctx, tx, parentID, now)
	})
}

// RetryJob implements queue.WorkerRepository
func (s *Store) RetryJob(ctx context.Context, id, token uuid.UUID, jobErr queue.JobError, runAt time.Time) error {
	encoded, err := json.Marshal(jobErr)
	if err != nil {
		return fmt.Errorf("failed to encode job error: %w", err)
	}

	status := queue.StatusWaiting
	if runAt.After(s.now()) {
		status = queue.StatusDelayed
	}

	tag, err := s.pool.Exec(ctx, `UPDATE jobkit_jobs
		SET status = $3, error = $4, run_at = $5, locked_by = NULL, locked_until = NULL
		WHERE id = $1 AND status = 'active' AND locked_by = $2`,
		id, token, string(status), encoded, runAt)
	if err != nil {
		return fmt.Errorf("failed to retry job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.leaseError(ctx, s.pool, id)
	}
	return nil
}

// FailJob implements queue.WorkerRepository
func (s *Store) FailJob(ctx context.Context, id, token uuid.UUID, jobErr queue.JobError) error {
	encoded, err := json.Marshal(jobErr)
	if err != nil {
		return fmt.Errorf("failed to encode job error: %w", err)
	}

	now := s.now()
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var parentID *uuid.UUID
		err := tx.QueryRow(ctx, `UPDATE jobkit_jobs
			SET status = 'failed', error = $3, finished_at = $4, locked_by = NULL, locked_until = NULL
			WHERE id = $1 AND status = 'active' AND locked_by = $2
			RETURNING parent_id`,
			id, token, encoded, now).Scan(&parentID)
		if isNotFound(err) {
			return s.leaseError(ctx, tx, id)
		}
		if err != nil {
			return fmt.Errorf("failed to fail job: %w", err)
		}
		return resolveParent(ctx, tx, parentID, now)
	})
}

// WaitForChildren implements queue.WorkerRepository
func (s *Store) WaitForChildren(ctx context.Context, id, token uuid.UUID) (bool, error) {
	var waiting bool
	err := s.pool.QueryRow(ctx, `WITH target AS (
			SELECT id, pending_children FROM jobkit_jobs
			WHERE id = $1 AND status = 'active' AND locked_by = $2
			FOR UPDATE
		), parked AS (
			UPDATE jobkit_jobs j
			SET attempt = GREATEST(j.attempt - 1, 0), locked_by = NULL, locked_until = NULL,
				status = 'waiting_children'
			FROM target t
			WHERE j.id = t.id AND t.pending_children > 0
			RETURNING j.id
		)
		SELECT EXISTS (SELECT 1 FROM parked) FROM target`,
		id, token).Scan(&waiting)
	if isNotFound(err) {
		return false, s.leaseError(ctx, s.pool, id)
	}
	if err != nil {
		return false, fmt.Errorf("failed to park job: %w", err)
	}
	return waiting, nil
}

// ChildJobs implements queue.WorkerRepository and queue.InspectorRepository
func (s *Store) ChildJobs(ctx context.Context, parentID uuid.UUID) ([]*queue.Job, error) {
	if _, err := s.GetJob(ctx, parentID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `SELECT `+jobColumns+` FROM jobkit_jobs
		WHERE parent_id = $1 ORDER BY seq`, parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list child jobs: %w", err)
	}
	return collectJobs(rows)
}

// RecoverExpiredLeases implements queue.MaintenanceRepository
func (s *Store) RecoverExpiredLeases(ctx context.Context, now time.Time) (int, error) {
	var recovered int
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		const setError = `error = jsonb_build_object('kind', $2::text, 'message', $3::text, 'attempt', attempt, 'at', $1::timestamptz),
			locked_by = NULL, locked_until = NULL`

		tag, err := tx.Exec(ctx, `UPDATE jobkit_jobs SET status = 'waiting', `+setError+`
			WHERE status = 'active' AND locked_until < $1 AND attempt < max_attempts`,
			now, queue.ErrorKindLeaseExpired, queue.ErrLeaseExpired.Error())
		if err != nil {
			return fmt.Errorf("failed to recover leases: %w", err)
		}
		recovered = int(tag.RowsAffected())

		rows, err := tx.Query(ctx, `UPDATE jobkit_jobs SET status = 'failed', finished_at = $1, `+setError+`
			WHERE status = 'active' AND locked_until < $1 AND attempt >= max_attempts
			RETURNING parent_id`,
			now, queue.ErrorKindLeaseExpired, queue.ErrLeaseExpired.Error())
		if err != nil {
			return fmt.Errorf("failed to fail expired jobs: %w", err)
		}
		parents, err := pgx.CollectRows(rows, pgx.RowTo[*uuid.UUID])
		if err != nil {
			return fmt.Errorf("failed to fail expired jobs: %w", err)
		}
		recovered += len(parents)

		for _, p := range parents {
			if err := resolveParent(ctx, tx, p, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return recovered, nil
}

// PurgeJobs implements queue.MaintenanceRepository
func (s *Store) PurgeJobs(ctx context.Context, queueName string, status queue.JobStatus, olderThan time.Time, keep int) (int, error) {
	if !status.Terminal() {
		return 0, nil
	}

	var cutoff *time.Time
	if !olderThan.IsZero() {
		cutoff = &olderThan
	}

	tag, err := s.pool.Exec(ctx, `WITH ranked AS (
			SELECT j.id, COALESCE(j.finished_at, j.created_at) AS done_at,
				row_number() OVER (ORDER BY COALESCE(j.finished_at, j.created_at) DESC) AS rn
			FROM jobkit_jobs j
			WHERE j.queue = $1 AND j.status = $2
				AND NOT EXISTS (
					SELECT 1 FROM jobkit_jobs p
					WHERE p.id = j.parent_id AND p.status NOT IN `+terminal+`
				)
		)
		DELETE FROM jobkit_jobs WHERE id IN (
			SELECT id FROM ranked
			WHERE ($3 > 0 AND rn > $3) OR ($4::timestamptz IS NOT NULL AND done_at < $4)
		)`,
		queueName, string(status), keep, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// GetJob implements queue.InspectorRepository
func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*queue.Job, error) {
	job, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobkit_jobs WHERE id = $1`, id))
	if isNotFound(err) {
		return nil, queue.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// QueueStats implements queue.InspectorRepository
func (s *Store) QueueStats(ctx context.Context, queueName string) (queue.QueueStats, error) {
	stats := queue.QueueStats{Queue: queueName}

	rows, err := s.pool.Query(ctx, `SELECT status, count(*) FROM jobkit_jobs WHERE queue = $1 GROUP BY status`, queueName)
	if err != nil {
		return stats, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return stats, fmt.Errorf("failed to count jobs: %w", err)
		}
		addCount(&stats, queue.JobStatus(status), n)
	}
	return stats, rows.Err()
}

// ListJobs implements queue.InspectorRepository
func (s *Store) ListJobs(ctx context.Context, filter queue.ListFilter) ([]*queue.Job, error) {
	var (
		where []string
		args  []any
	)
	if filter.Queue != "" {
		args = append(args, filter.Queue)
		where = append(where, fmt.Sprintf("queue = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.ParentID != nil {
		args = append(args, *filter.ParentID)
		where = append(where, fmt.Sprintf("parent_id = $%d", len(args)))
	}

	var b strings.Builder
	b.WriteString(`SELECT ` + jobColumns + ` FROM jobkit_jobs`)
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY seq")
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		fmt.Fprintf(&b, " OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return collectJobs(rows)
}

// RetryFailedJob implements queue.InspectorRepository
func (s *Store) RetryFailedJob(ctx context.Context, id uuid.UUID) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var (
			status   string
			parentID *uuid.UUID
		)
		err := tx.QueryRow(ctx, `SELECT status, parent_id FROM jobkit_jobs WHERE id = $1 FOR UPDATE`, id).Scan(&status, &parentID)
		if isNotFound(err) {
			return queue.ErrJobNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load job: %w", err)
		}
		if queue.JobStatus(status) != queue.StatusFailed {
			return fmt.Errorf("%w: %s is %s", queue.ErrJobNotFailed, id, status)
		}

		if _, err := tx.Exec(ctx, `UPDATE jobkit_jobs
			SET status = 'waiting', attempt = 0, run_at = $2, finished_at = NULL
			WHERE id = $1`, id, s.now()); err != nil {
			return fmt.Errorf("failed to retry job: %w", err)
		}

		if parentID != nil {
			if _, err := tx.Exec(ctx, `UPDATE jobkit_jobs SET pending_children = pending_children + 1
				WHERE id = $1 AND status NOT IN `+terminal, *parentID); err != nil {
				return fmt.Errorf("failed to reopen parent: %w", err)
			}
		}
		return nil
	})
}

// GetPendingJobBySchedule implements queue.SchedulerRepository
func (s *Store) GetPendingJobBySchedule(ctx context.Context, schedule string) (*queue.Job, error) {
	job, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobkit_jobs
		WHERE schedule = $1 AND status NOT IN `+terminal+`
		ORDER BY seq LIMIT 1`, schedule))
	if isNotFound(err) {
		return nil, queue.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scheduled job: %w", err)
	}
	return job, nil
}

// resolveParent decrements the parent's pending counter and wakes it on zero.
// The UPDATE reads pre-update values, so pending_children <= 1 means it reaches zero.
func resolveParent(ctx context.Context, tx pgx.Tx, parentID *uuid.UUID, now time.Time) error {
	if parentID == nil {
		return nil
	}
	_, err := tx.Exec(ctx, `UPDATE jobkit_jobs SET
			pending_children = GREATEST(pending_children - 1, 0),
			status = CASE
				WHEN pending_children <= 1 AND status = 'waiting_children'
					THEN CASE WHEN run_at > $2 THEN 'delayed' ELSE 'waiting' END
				ELSE status
			END
		WHERE id = $1`, *parentID, now)
	if err != nil {
		return fmt.Errorf("failed to resolve parent job: %w", err)
	}
	return nil
}

// leaseError tells a missing job from a stale lease after a fenced update matched nothing
func (s *Store) leaseError(ctx context.Context, q rowQuerier, id uuid.UUID) error {
	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM jobkit_jobs WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check job: %w", err)
	}
	if !exists {
		return queue.ErrJobNotFound
	}
	return queue.ErrLeaseLost
}

func addCount(stats *queue.QueueStats, status queue.JobStatus, n int64) {
	switch status {
	case queue.StatusWaiting:
		stats.Waiting += n
	case queue.StatusDelayed:
		stats.Delayed += n
	case queue.StatusActive:
		stats.Active += n
	case queue.StatusWaitingChildren:
		stats.WaitingChildren += n
	case queue.StatusCompleted:
		stats.Completed += n
	case queue.StatusFailed:
		stats.Failed += n
	}
}

func nullJSON(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
