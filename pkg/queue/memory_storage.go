package queue

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStorage implements Storage for testing and local development.
// A single mutex makes every transition atomic.
type MemoryStorage struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]*memJob

	// Indexes for efficient queries
	byQueue  map[string][]uuid.UUID
	children map[uuid.UUID][]uuid.UUID

	seq uint64
	now func() time.Time
}

type memJob struct {
	*Job
	seq uint64
}

// MemoryOption configures a MemoryStorage
type MemoryOption func(*MemoryStorage)

// WithMemoryClock overrides the time source, mostly for tests
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(ms *MemoryStorage) {
		if now != nil {
			ms.now = now
		}
	}
}

// NewMemoryStorage creates a new in-memory storage implementation
func NewMemoryStorage(opts ...MemoryOption) *MemoryStorage {
	ms := &MemoryStorage{
		jobs:     make(map[uuid.UUID]*memJob),
		byQueue:  make(map[string][]uuid.UUID),
		children: make(map[uuid.UUID][]uuid.UUID),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(ms)
	}
	return ms
}

// CreateJobs implements EnqueuerRepository and SchedulerRepository
func (ms *MemoryStorage) CreateJobs(ctx context.Context, jobs []*Job) error {
	if len(jobs) == 0 {
		return ErrNoItemsToEnqueue
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	// Validate the whole batch before touching any state
	batch := make(map[uuid.UUID]*Job, len(jobs))
	for _, job := range jobs {
		if job == nil {
			return errors.New("job cannot be nil")
		}
		if _, exists := ms.jobs[job.ID]; exists {
			return fmt.Errorf("%w: %s", ErrJobExists, job.ID)
		}
		if _, exists := batch[job.ID]; exists {
			return fmt.Errorf("%w: %s", ErrJobExists, job.ID)
		}
		if job.ParentID != nil {
			if _, inBatch := batch[*job.ParentID]; !inBatch {
				parent, ok := ms.jobs[*job.ParentID]
				if !ok {
					return fmt.Errorf("%w: %s", ErrParentNotFound, *job.ParentID)
				}
				if parent.Status.Terminal() {
					return fmt.Errorf("%w: %s is %s", ErrParentFinished, parent.ID, parent.Status)
				}
			}
		}
		batch[job.ID] = job
	}

	for _, job := range jobs {
		ms.seq++
		stored := &memJob{Job: job.Clone(), seq: ms.seq}
		stored.ChildCount = 0
		stored.PendingChildren = 0
		ms.jobs[job.ID] = stored
		ms.byQueue[job.Queue] = append(ms.byQueue[job.Queue], job.ID)

		if job.ParentID != nil {
			parent := ms.jobs[*job.ParentID]
			parent.ChildCount++
			parent.PendingChildren++
			ms.children[parent.ID] = append(ms.children[parent.ID], job.ID)
		}
	}

	return nil
}

// ClaimJob implements WorkerRepository
func (ms *MemoryStorage) ClaimJob(ctx context.Context, queue string, token uuid.UUID, lockDuration time.Duration) (*Job, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := ms.now()
	var best *memJob

	for _, id := range ms.byQueue[queue] {
		j := ms.jobs[id]
		if j.Status != StatusWaiting && j.Status != StatusDelayed {
			continue
		}
		if j.RunAt.After(now) {
			continue
		}
		if best == nil || claimOrder(j, best) < 0 {
			best = j
		}
	}

	if best == nil {
		return nil, ErrNoJobToClaim
	}

	lockUntil := now.Add(lockDuration)
	tok := token
	best.Status = StatusActive
	best.Attempt++
	best.LockedBy = &tok
	best.LockedUntil = &lockUntil
	best.StartedAt = &now

	return best.Clone(), nil
}

// claimOrder sorts by priority, then RunAt, then enqueue order
func claimOrder(a, b *memJob) int {
	if c := cmp.Compare(a.Priority, b.Priority); c != 0 {
		return c
	}
	if c := a.RunAt.Compare(b.RunAt); c != 0 {
		return c
	}
	return cmp.Compare(a.seq, b.seq)
}

// ExtendLock implements WorkerRepository
func (ms *MemoryStorage) ExtendLock(ctx context.Context, id, token uuid.UUID, d time.Duration) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	j, err := ms.leased(id, token)
	if err != nil {
		return err
	}

	lockUntil := ms.now().Add(d)
	j.LockedUntil = &lockUntil
	return nil
}

// CompleteJob implements WorkerRepository
func (ms *MemoryStorage) CompleteJob(ctx context.Context, id, token uuid.UUID, result json.RawMessage) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	j, err := ms.leased(id, token)
	if err != nil {
		return err
	}

	now := ms.now()
	j.Status = StatusCompleted
	j.Result = append(json.RawMessage(nil), result...)
	j.FinishedAt = &now
	j.releaseLease()

	ms.resolveParent(j, now)
	return nil
}

// RetryJob implements WorkerRepository
func (ms *MemoryStorage) RetryJob(ctx context.Context, id, token uuid.UUID, jobErr JobError, runAt time.Time) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	j, err := ms.leased(id, token)
	if err != nil {
		return err
	}

	j.Error = &jobErr
	j.RunAt = runAt
	j.Status = StatusWaiting
	if runAt.After(ms.now()) {
		j.Status = StatusDelayed
	}
	j.releaseLease()
	return nil
}

// FailJob implements WorkerRepository
func (ms *MemoryStorage) FailJob(ctx context.Context, id, token uuid.UUID, jobErr JobError) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	j, err := ms.leased(id, token)
	if err != nil {
		return err
	}

	now := ms.now()
	j.Status = StatusFailed
	j.Error = &jobErr
	j.FinishedAt = &now
	j.releaseLease()

	ms.resolveParent(j, now)
	return nil
}

// WaitForChildren implements WorkerRepository
func (ms *MemoryStorage) WaitForChildren(ctx context.Context, id, token uuid.UUID) (bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	j, err := ms.leased(id, token)
	if err != nil {
		return false, err
	}

	if j.PendingChildren == 0 {
		return false, nil
	}

	j.Attempt = max(j.Attempt-1, 0)
	j.releaseLease()
	j.Status = StatusWaitingChildren
	return true, nil
}

// ChildJobs implements WorkerRepository and InspectorRepository
func (ms *MemoryStorage) ChildJobs(ctx context.Context, parentID uuid.UUID) ([]*Job, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	if _, ok := ms.jobs[parentID]; !ok {
		return nil, ErrJobNotFound
	}

	ids := ms.children[parentID]
	out := make([]*Job, 0, len(ids))
	for _, id := range ids {
		if c, ok := ms.jobs[id]; ok {
			out = append(out, c.Clone())
		}
	}
	return out, nil
}

// RecoverExpiredLeases implements MaintenanceRepository
func (ms *MemoryStorage) RecoverExpiredLeases(ctx context.Context, now time.Time) (int, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	recovered := 0
	for _, j := range ms.jobs {
		if j.Status != StatusActive || j.LockedUntil == nil || !j.LockedUntil.Before(now) {
			continue
		}

		j.Error = &JobError{
			Kind:    ErrorKindLeaseExpired,
			Message: ErrLeaseExpired.Error(),
			Attempt: j.Attempt,
			At:      now,
		}
		j.releaseLease()

		if j.Attempt < j.MaxAttempts {
			j.Status = StatusWaiting
		} else {
			j.Status = StatusFailed
			j.FinishedAt = &now
			ms.resolveParent(j, now)
		}
		recovered++
	}
	return recovered, nil
}

// PurgeJobs implements MaintenanceRepository
func (ms *MemoryStorage) PurgeJobs(ctx context.Context, queue string, status JobStatus, olderThan time.Time, keep int) (int, error) {
	if !status.Terminal() {
		return 0, nil
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	var candidates []*memJob
	for _, id := range ms.byQueue[queue] {
		j := ms.jobs[id]
		if j.Status != status || ms.protected(j) {
			continue
		}
		candidates = append(candidates, j)
	}

	// Newest first so keep retains the most recent jobs
	slices.SortFunc(candidates, func(a, b *memJob) int {
		return finishedAt(b).Compare(finishedAt(a))
	})

	purged := 0
	for i, j := range candidates {
		tooMany := keep > 0 && i >= keep
		tooOld := !olderThan.IsZero() && finishedAt(j).Before(olderThan)
		if !tooMany && !tooOld {
			continue
		}
		ms.remove(j)
		purged++
	}
	return purged, nil
}

// GetJob implements InspectorRepository
func (ms *MemoryStorage) GetJob(ctx context.Context, id uuid.UUID) (*Job, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	j, ok := ms.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return j.Clone(), nil
}

// QueueStats implements InspectorRepository
func (ms *MemoryStorage) QueueStats(ctx context.Context, queue string) (QueueStats, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	stats := QueueStats{Queue: queue}
	for _, id := range ms.byQueue[queue] {
		switch ms.jobs[id].Status {
		case StatusWaiting:
			stats.Waiting++
		case StatusDelayed:
			stats.Delayed++
		case StatusActive:
			stats.Active++
		case StatusWaitingChildren:
			stats.WaitingChildren++
		case StatusCompleted:
			stats.Completed++
		case StatusFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

// ListJobs implements InspectorRepository
func (ms *MemoryStorage) ListJobs(ctx context.Context, filter ListFilter) ([]*Job, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var matched []*memJob
	for _, j := range ms.jobs {
		if filter.Queue != "" && j.Queue != filter.Queue {
			continue
		}
		if filter.Status != "" && j.Status != filter.Status {
			continue
		}
		if filter.ParentID != nil && (j.ParentID == nil || *j.ParentID != *filter.ParentID) {
			continue
		}
		matched = append(matched, j)
	}

	slices.SortFunc(matched, func(a, b *memJob) int {
		return cmp.Compare(a.seq, b.seq)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []*Job{}, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}

	out := make([]*Job, len(matched))
	for i, j := range matched {
		out[i] = j.Clone()
	}
	return out, nil
}

// RetryFailedJob implements InspectorRepository
func (ms *MemoryStorage) RetryFailedJob(ctx context.Context, id uuid.UUID) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	j, ok := ms.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if j.Status != StatusFailed {
		return fmt.Errorf("%w: %s is %s", ErrJobNotFailed, id, j.Status)
	}

	j.Status = StatusWaiting
	j.Attempt = 0
	j.RunAt = ms.now()
	j.FinishedAt = nil

	if j.ParentID != nil {
		if p, ok := ms.jobs[*j.ParentID]; ok && !p.Status.Terminal() {
			p.PendingChildren++
		}
	}
	return nil
}

// GetPendingJobBySchedule implements SchedulerRepository
func (ms *MemoryStorage) GetPendingJobBySchedule(ctx context.Context, schedule string) (*Job, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	for _, j := range ms.jobs {
		if j.Schedule == schedule && !j.Status.Terminal() {
			return j.Clone(), nil
		}
	}
	return nil, ErrJobNotFound
}

// Helper methods

// leased returns the active job held by token
func (ms *MemoryStorage) leased(id, token uuid.UUID) (*memJob, error) {
	j, ok := ms.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	if j.Status != StatusActive || j.LockedBy == nil || *j.LockedBy != token {
		return nil, ErrLeaseLost
	}
	return j, nil
}

// resolveParent decrements the parent's pending counter and wakes it on zero
func (ms *MemoryStorage) resolveParent(child *memJob, now time.Time) {
	if child.ParentID == nil {
		return
	}
	p, ok := ms.jobs[*child.ParentID]
	if !ok {
		return
	}
	if p.PendingChildren > 0 {
		p.PendingChildren--
	}
	if p.PendingChildren == 0 && p.Status == StatusWaitingChildren {
		p.Status = StatusWaiting
		if p.RunAt.After(now) {
			p.Status = StatusDelayed
		}
	}
}

// protected reports whether j is a child of a parent that still needs it
func (ms *MemoryStorage) protected(j *memJob) bool {
	if j.ParentID == nil {
		return false
	}
	p, ok := ms.jobs[*j.ParentID]
	return ok && !p.Status.Terminal()
}

func (ms *MemoryStorage) remove(j *memJob) {
	delete(ms.jobs, j.ID)
	delete(ms.children, j.ID)
	ms.byQueue[j.Queue] = slices.DeleteFunc(ms.byQueue[j.Queue], func(id uuid.UUID) bool {
		return id == j.ID
	})
	if j.ParentID != nil {
		ms.children[*j.ParentID] = slices.DeleteFunc(ms.children[*j.ParentID], func(id uuid.UUID) bool {
			return id == j.ID
		})
	}
}

func (j *memJob) releaseLease() {
	j.LockedBy = nil
	j.LockedUntil = nil
}

func finishedAt(j *memJob) time.Time {
	if j.FinishedAt != nil {
		return *j.FinishedAt
	}
	return j.CreatedAt
}
