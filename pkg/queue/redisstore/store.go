package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/jobkit/pkg/queue"
)

// DefaultKeyPrefix is a hash tag, so every key lands in one cluster slot
const DefaultKeyPrefix = "{jobkit}"

// Store implements queue.Storage on Redis.
// Each state transition is a single Lua script, so it is atomic on the server.
type Store struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

var _ queue.Storage = (*Store)(nil)

// Option configures a Store
type Option func(*Store)

// WithKeyPrefix namespaces all keys written by the store
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithClock overrides the time source used for run_at and lease arithmetic
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a Store using client
func New(client redis.UniversalClient, opts ...Option) (*Store, error) {
	if client == nil {
		return nil, ErrClientNil
	}
	s := &Store{client: client, prefix: DefaultKeyPrefix, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	// Scripts reach keys they derive from job fields, which must share a slot
	if _, ok := client.(*redis.ClusterClient); ok && !hashTagged(s.prefix) {
		return nil, fmt.Errorf("%w: %q", ErrPrefixNotHashTagged, s.prefix)
	}
	return s, nil
}

// hashTagged reports whether prefix carries a non-empty {tag}, which Redis
// Cluster hashes in place of the whole key
func hashTagged(prefix string) bool {
	_, rest, ok := strings.Cut(prefix, "{")
	if !ok {
		return false
	}
	end := strings.IndexByte(rest, '}')
	return end > 0
}

func (s *Store) jobKey(id string) string { return s.prefix + ":job:" + id }

func (s *Store) leasesKey() string { return s.prefix + ":leases" }

// leaseKeys are the keys a lease transition script is routed by
func (s *Store) leaseKeys(id uuid.UUID) []string {
	return []string{s.jobKey(id.String()), s.leasesKey()}
}

func (s *Store) queueKey(queueName, set string) string {
	return s.prefix + ":q:" + queueName + ":" + set
}

// CreateJobs implements queue.EnqueuerRepository
func (s *Store) CreateJobs(ctx context.Context, jobs []*queue.Job) error {
	if len(jobs) == 0 {
		return queue.ErrNoItemsToEnqueue
	}
	if slices.Contains(jobs, nil) {
		return errors.New("job cannot be nil")
	}

	last, err := s.client.IncrBy(ctx, s.prefix+":seq", int64(len(jobs))).Result()
	if err != nil {
		return fmt.Errorf("failed to reserve sequence: %w", err)
	}
	first := last - int64(len(jobs)) + 1
	now := s.now()

	args := []any{s.prefix, len(jobs)}
	for i, job := range jobs {
		seq := first + int64(i)

		stored := *job
		if stored.Status == "" || stored.Status == queue.StatusWaiting || stored.Status == queue.StatusDelayed {
			stored.Status = queue.StatusWaiting
			if stored.RunAt.After(now) {
				stored.Status = queue.StatusDelayed
			}
		}

		fields, err := encodeJob(&stored, seq)
		if err != nil {
			return err
		}
		parent := ""
		if job.ParentID != nil {
			parent = job.ParentID.String()
		}

		args = append(args,
			job.ID.String(), parent, job.Queue, string(stored.Status),
			strconv.Itoa(int(job.Priority)), rank(job.RunAt, seq, job.ID), micros(job.RunAt),
			strconv.FormatInt(seq, 10), job.Schedule, len(fields)/2,
		)
		args = append(args, fields...)
	}

	res, err := createScript.Run(ctx, s.client, []string{s.prefix + ":seq", s.prefix + ":jobs"}, args...).Text()
	if err != nil {
		return fmt.Errorf("failed to create jobs: %w", err)
	}

	code, ref, _ := strings.Cut(res, ":")
	switch code {
	case "ok":
		return nil
	case "exists":
		return fmt.Errorf("%w: %s", queue.ErrJobExists, ref)
	case "parent_not_found":
		return fmt.Errorf("%w: %s", queue.ErrParentNotFound, ref)
	case "parent_finished":
		return fmt.Errorf("%w: %s", queue.ErrParentFinished, ref)
	}
	return fmt.Errorf("unexpected create result %q", res)
}

// ClaimJob implements queue.WorkerRepository
func (s *Store) ClaimJob(ctx context.Context, queueName string, token uuid.UUID, lockDuration time.Duration) (*queue.Job, error) {
	now := s.now()
	id, err := claimScript.Run(ctx, s.client,
		[]string{s.queueKey(queueName, "waiting"), s.queueKey(queueName, "delayed"), s.queueKey(queueName, "active"), s.leasesKey()},
		s.prefix, micros(now), queueName, token.String(), micros(now.Add(lockDuration)),
	).Text()
	if errors.Is(err, redis.Nil) {
		return nil, queue.ErrNoJobToClaim
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	return s.getJob(ctx, id)
}

// ExtendLock implements queue.WorkerRepository
func (s *Store) ExtendLock(ctx context.Context, id, token uuid.UUID, d time.Duration) error {
	res, err := extendScript.Run(ctx, s.client, s.leaseKeys(id),
		s.prefix, id.String(), token.String(), micros(s.now().Add(d)),
	).Text()
	return leaseResult(res, err, "extend lock")
}

// CompleteJob implements queue.WorkerRepository
func (s *Store) CompleteJob(ctx context.Context, id, token uuid.UUID, result json.RawMessage) error {
	res, err := completeScript.Run(ctx, s.client, s.leaseKeys(id),
		s.prefix, id.String(), token.String(), micros(s.now()), string(result),
	).Text()
	return leaseResult(res, err, "complete job")
}

// RetryJob implements queue.WorkerRepository
func (s *Store) RetryJob(ctx context.Context, id, token uuid.UUID, jobErr queue.JobError, runAt time.Time) error {
	encoded, err := json.Marshal(jobErr)
	if err != nil {
		return fmt.Errorf("failed to encode job error: %w", err)
	}

	seq, err := s.client.HGet(ctx, s.jobKey(id.String()), "seq").Int64()
	if errors.Is(err, redis.Nil) {
		return queue.ErrJobNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to retry job: %w", err)
	}

	res, err := retryScript.Run(ctx, s.client, s.leaseKeys(id),
		s.prefix, id.String(), token.String(), micros(s.now()), string(encoded),
		micros(runAt), rank(runAt, seq, id),
	).Text()
	return leaseResult(res, err, "retry job")
}

// FailJob implements queue.WorkerRepository
func (s *Store) FailJob(ctx context.Context, id, token uuid.UUID, jobErr queue.JobError) error {
	encoded, err := json.Marshal(jobErr)
	if err != nil {
		return fmt.Errorf("failed to encode job error: %w", err)
	}

	res, err := failScript.Run(ctx, s.client, s.leaseKeys(id),
		s.prefix, id.String(), token.String(), micros(s.now()), string(encoded),
	).Text()
	return leaseResult(res, err, "fail job")
}

// WaitForChildren implements queue.WorkerRepository
func (s *Store) WaitForChildren(ctx context.Context, id, token uuid.UUID) (bool, error) {
	res, err := waitScript.Run(ctx, s.client, s.leaseKeys(id), s.prefix, id.String(), token.String()).Text()
	switch {
	case err != nil:
		return false, fmt.Errorf("failed to park job: %w", err)
	case res == "waiting":
		return true, nil
	case res == "ready":
		return false, nil
	}
	return false, leaseResult(res, nil, "park job")
}

// ChildJobs implements queue.WorkerRepository and queue.InspectorRepository
func (s *Store) ChildJobs(ctx context.Context, parentID uuid.UUID) ([]*queue.Job, error) {
	n, err := s.client.Exists(ctx, s.jobKey(parentID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get parent job: %w", err)
	}
	if n == 0 {
		return nil, queue.ErrJobNotFound
	}

	ids, err := s.client.ZRange(ctx, s.prefix+":children:"+parentID.String(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list child jobs: %w", err)
	}
	return s.loadJobs(ctx, ids)
}

// RecoverExpiredLeases implements queue.MaintenanceRepository
func (s *Store) RecoverExpiredLeases(ctx context.Context, now time.Time) (int, error) {
	kind, _ := json.Marshal(queue.ErrorKindLeaseExpired)
	msg, _ := json.Marshal(queue.ErrLeaseExpired.Error())
	at, err := json.Marshal(now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to encode recovery time: %w", err)
	}
	head := fmt.Sprintf(`{"kind":%s,"message":%s,"at":%s,"attempt":`, kind, msg, at)

	n, err := recoverScript.Run(ctx, s.client, []string{s.leasesKey()}, s.prefix, micros(now), head).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to recover leases: %w", err)
	}
	return n, nil
}

// PurgeJobs implements queue.MaintenanceRepository
func (s *Store) PurgeJobs(ctx context.Context, queueName string, status queue.JobStatus, olderThan time.Time, keep int) (int, error) {
	if !status.Terminal() {
		return 0, nil
	}

	// Newest first so keep retains the most recent jobs
	finished, err := s.client.ZRevRangeWithScores(ctx, s.queueKey(queueName, string(status)), 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list finished jobs: %w", err)
	}

	ids := make([]string, len(finished))
	for i, z := range finished {
		ids[i], _ = z.Member.(string)
	}
	hashes, err := s.loadHashes(ctx, ids)
	if err != nil {
		return 0, err
	}

	cutoff := olderThan.UnixMicro()
	purged, kept := 0, 0
	for i, z := range finished {
		protected, err := s.protected(ctx, hashes[i])
		if err != nil {
			return purged, err
		}
		if protected {
			continue
		}

		tooMany := keep > 0 && kept >= keep
		tooOld := !olderThan.IsZero() && int64(z.Score) < cutoff
		kept++
		if !tooMany && !tooOld {
			continue
		}

		n, err := purgeScript.Run(ctx, s.client, []string{s.jobKey(ids[i])}, s.prefix, ids[i], string(status)).Int()
		if err != nil {
			return purged, fmt.Errorf("failed to purge job: %w", err)
		}
		purged += n
	}
	return purged, nil
}

// protected reports whether h is a child of a parent that still needs it
func (s *Store) protected(ctx context.Context, h map[string]string) (bool, error) {
	parent := h["parent_id"]
	if parent == "" {
		return false, nil
	}
	status, err := s.client.HGet(ctx, s.jobKey(parent), "status").Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check parent job: %w", err)
	}
	return !queue.JobStatus(status).Terminal(), nil
}

// GetJob implements queue.InspectorRepository
func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*queue.Job, error) {
	return s.getJob(ctx, id.String())
}

// QueueStats implements queue.InspectorRepository
func (s *Store) QueueStats(ctx context.Context, queueName string) (queue.QueueStats, error) {
	stats := queue.QueueStats{Queue: queueName}

	pipe := s.client.Pipeline()
	waiting := pipe.ZCard(ctx, s.queueKey(queueName, "waiting"))
	delayed := pipe.ZCard(ctx, s.queueKey(queueName, "delayed"))
	active := pipe.ZCard(ctx, s.queueKey(queueName, "active"))
	children := pipe.ZCard(ctx, s.queueKey(queueName, "children"))
	completed := pipe.ZCard(ctx, s.queueKey(queueName, "completed"))
	failed := pipe.ZCard(ctx, s.queueKey(queueName, "failed"))
	if _, err := pipe.Exec(ctx); err != nil {
		return stats, fmt.Errorf("failed to count jobs: %w", err)
	}

	stats.Waiting = waiting.Val()
	stats.Delayed = delayed.Val()
	stats.Active = active.Val()
	stats.WaitingChildren = children.Val()
	stats.Completed = completed.Val()
	stats.Failed = failed.Val()
	return stats, nil
}

// ListJobs implements queue.InspectorRepository
func (s *Store) ListJobs(ctx context.Context, filter queue.ListFilter) ([]*queue.Job, error) {
	index := s.prefix + ":jobs"
	switch {
	case filter.ParentID != nil:
		index = s.prefix + ":children:" + filter.ParentID.String()
	case filter.Queue != "":
		index = s.queueKey(filter.Queue, "all")
	}

	ids, err := s.client.ZRange(ctx, index, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	jobs, err := s.loadJobs(ctx, ids)
	if err != nil {
		return nil, err
	}

	jobs = slices.DeleteFunc(jobs, func(j *queue.Job) bool {
		return (filter.Queue != "" && j.Queue != filter.Queue) ||
			(filter.Status != "" && j.Status != filter.Status)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(jobs) {
			return []*queue.Job{}, nil
		}
		jobs = jobs[filter.Offset:]
	}
	if filter.Limit > 0 && len(jobs) > filter.Limit {
		jobs = jobs[:filter.Limit]
	}
	return jobs, nil
}

// RetryFailedJob implements queue.InspectorRepository
func (s *Store) RetryFailedJob(ctx context.Context, id uuid.UUID) error {
	seq, err := s.client.HGet(ctx, s.jobKey(id.String()), "seq").Int64()
	if errors.Is(err, redis.Nil) {
		return queue.ErrJobNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to retry job: %w", err)
	}

	now := s.now()
	res, err := retryFailedScript.Run(ctx, s.client, []string{s.jobKey(id.String())},
		s.prefix, id.String(), micros(now), rank(now, seq, id),
	).Text()
	if err != nil {
		return fmt.Errorf("failed to retry job: %w", err)
	}

	code, status, _ := strings.Cut(res, ":")
	switch code {
	case "ok":
		return nil
	case "not_found":
		return queue.ErrJobNotFound
	case "not_failed":
		return fmt.Errorf("%w: %s is %s", queue.ErrJobNotFailed, id, status)
	}
	return fmt.Errorf("unexpected retry result %q", res)
}

// GetPendingJobBySchedule implements queue.SchedulerRepository
func (s *Store) GetPendingJobBySchedule(ctx context.Context, schedule string) (*queue.Job, error) {
	ids, err := s.client.SMembers(ctx, s.prefix+":schedule:"+schedule).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get scheduled job: %w", err)
	}
	hashes, err := s.loadHashes(ctx, ids)
	if err != nil {
		return nil, err
	}

	var (
		best    map[string]string
		bestSeq int64
	)
	for _, h := range hashes {
		if len(h) == 0 || queue.JobStatus(h["status"]).Terminal() {
			continue
		}
		seq, _ := strconv.ParseInt(h["seq"], 10, 64)
		if best == nil || seq < bestSeq {
			best, bestSeq = h, seq
		}
	}
	if best == nil {
		return nil, queue.ErrJobNotFound
	}
	return decodeJob(best)
}

func (s *Store) getJob(ctx context.Context, id string) (*queue.Job, error) {
	h, err := s.client.HGetAll(ctx, s.jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	if len(h) == 0 {
		return nil, queue.ErrJobNotFound
	}
	return decodeJob(h)
}

// loadHashes fetches job hashes in one round trip, keeping the order of ids.
// Missing jobs come back as empty maps.
func (s *Store) loadHashes(ctx context.Context, ids []string) ([]map[string]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.jobKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to load jobs: %w", err)
	}

	out := make([]map[string]string, len(ids))
	for i, cmd := range cmds {
		out[i] = cmd.Val()
	}
	return out, nil
}

func (s *Store) loadJobs(ctx context.Context, ids []string) ([]*queue.Job, error) {
	hashes, err := s.loadHashes(ctx, ids)
	if err != nil {
		return nil, err
	}

	jobs := make([]*queue.Job, 0, len(hashes))
	for _, h := range hashes {
		if len(h) == 0 {
			continue
		}
		job, err := decodeJob(h)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// leaseResult maps the status returned by a fenced script to an error
func leaseResult(res string, err error, op string) error {
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	switch res {
	case "ok":
		return nil
	case "not_found":
		return queue.ErrJobNotFound
	case "lease_lost":
		return queue.ErrLeaseLost
	}
	return fmt.Errorf("failed to %s: unexpected result %q", op, res)
}
