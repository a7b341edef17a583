package mongostore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/dmitrymomot/jobkit/pkg/queue"
)

// DefaultCollection is the jobs collection used when none is configured
const DefaultCollection = "jobs"

// reconcileGrace is how long a parent must go without new children before
// its pending counter is checked against the children actually stored
const reconcileGrace = time.Minute

var terminal = bson.A{string(queue.StatusCompleted), string(queue.StatusFailed)}

// Store implements queue.Storage on MongoDB.
//
// Single-job transitions are one FindOneAndUpdate filtered by status and
// lease token. Parent counters move with $inc; a parent is woken by a second
// conditional update once its counter reaches zero. Counters are always raised
// before a child exists and lowered after it finishes, so a crash between the
// two writes can only leave a counter too high. RecoverExpiredLeases recounts
// the live children of such parents and releases them.
type Store struct {
	jobs     *mongo.Collection
	counters *mongo.Collection
	now      func() time.Time
}

var _ queue.Storage = (*Store)(nil)

// Option configures a Store
type Option func(*storeOptions)

type storeOptions struct {
	collection string
	now        func() time.Time
}

// WithCollection sets the jobs collection name. Sequence counters live in "<name>_counters".
func WithCollection(name string) Option {
	return func(o *storeOptions) {
		if name != "" {
			o.collection = name
		}
	}
}

// WithClock overrides the time source used for run_at and lease arithmetic
func WithClock(now func() time.Time) Option {
	return func(o *storeOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// New creates a Store in db. Call EnsureIndexes once at startup.
func New(db *mongo.Database, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, ErrDatabaseNil
	}
	o := storeOptions{collection: DefaultCollection, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Store{
		jobs:     db.Collection(o.collection),
		counters: db.Collection(o.collection + "_counters"),
		now:      o.now,
	}, nil
}

// EnsureIndexes creates the indexes the claim, fan-in and maintenance queries rely on
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.jobs.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "queue", Value: 1}, {Key: "status", Value: 1}, {Key: "priority", Value: 1}, {Key: "run_at", Value: 1}, {Key: "seq", Value: 1}}},
		{Keys: bson.D{{Key: "parent_id", Value: 1}, {Key: "seq", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "locked_until", Value: 1}}},
		{Keys: bson.D{{Key: "schedule", Value: 1}, {Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "seq", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create job indexes: %w", err)
	}
	return nil
}

// CreateJobs implements queue.EnqueuerRepository.
// Parents outside the batch are claimed first with a conditional $inc; any
// failure afterwards rolls those increments back before returning.
func (s *Store) CreateJobs(ctx context.Context, jobs []*queue.Job) error {
	if len(jobs) == 0 {
		return queue.ErrNoItemsToEnqueue
	}

	first, err := s.reserveSeq(ctx, len(jobs))
	if err != nil {
		return err
	}
	now := s.now().UTC()

	docs := make([]jobDocument, len(jobs))
	index := make(map[string]int, len(jobs))
	external := map[string]int{}
	var externalOrder []string

	for i, job := range jobs {
		if job == nil {
			return errors.New("job cannot be nil")
		}
		id := job.ID.String()
		if _, dup := index[id]; dup {
			return fmt.Errorf("%w: %s", queue.ErrJobExists, id)
		}
		docs[i] = newDocument(job, first+int64(i))

		if job.ParentID != nil {
			pid := job.ParentID.String()
			if pi, inBatch := index[pid]; inBatch {
				docs[pi].ChildCount++
				docs[pi].PendingChildren++
				docs[pi].ChildrenAt = &now
			} else {
				if external[pid] == 0 {
					externalOrder = append(externalOrder, pid)
				}
				external[pid]++
			}
		}
		index[id] = i
	}

	var claimed []string
	rollback := func() {
		undo := context.WithoutCancel(ctx)
		for _, pid := range claimed {
			for range external[pid] {
				_ = s.resolveParent(undo, pid)
			}
			_, _ = s.jobs.UpdateOne(undo, bson.M{"_id": pid}, bson.M{"$inc": bson.M{"child_count": -external[pid]}})
		}
	}

	for _, pid := range externalOrder {
		n := external[pid]
		res, err := s.jobs.UpdateOne(ctx,
			bson.M{"_id": pid, "status": bson.M{"$nin": terminal}},
			bson.M{
				"$inc": bson.M{"child_count": n, "pending_children": n},
				"$set": bson.M{"children_at": now},
			},
		)
		if err != nil {
			rollback()
			return fmt.Errorf("failed to register children: %w", err)
		}
		if res.MatchedCount == 0 {
			rollback()
			return s.parentError(ctx, pid)
		}
		claimed = append(claimed, pid)
	}

	if _, err := s.jobs.InsertMany(ctx, docs); err != nil {
		ids := make(bson.A, 0, len(docs))
		for _, d := range docs {
			ids = append(ids, d.ID)
		}
		if mongo.IsDuplicateKeyError(err) {
			// Ordered inserts stop at the duplicate; drop whatever got in before it
			_, _ = s.jobs.DeleteMany(context.WithoutCancel(ctx), bson.M{"_id": bson.M{"$in": ids}, "seq": bson.M{"$gte": first}})
			rollback()
			return fmt.Errorf("%w: %v", queue.ErrJobExists, err)
		}
		rollback()
		return fmt.Errorf("failed to insert jobs: %w", err)
	}
	return nil
}

func (s *Store) parentError(ctx context.Context, pid string) error {
	var doc jobDocument
	err := s.jobs.FindOne(ctx, bson.M{"_id": pid}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("%w: %s", queue.ErrParentNotFound, pid)
	}
	if err != nil {
		return fmt.Errorf("failed to load parent job: %w", err)
	}
	return fmt.Errorf("%w: %s is %s", queue.ErrParentFinished, pid, doc.Status)
}

// reserveSeq allocates n consecutive enqueue sequence numbers and returns the first
func (s *Store) reserveSeq(ctx context.Context, n int) (int64, error) {
	var counter struct {
		Value int64 `bson:"value"`
	}
	err := s.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": "seq"},
		bson.M{"$inc": bson.M{"value": int64(n)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return 0, fmt.Errorf("failed to reserve sequence: %w", err)
	}
	return counter.Value - int64(n) + 1, nil
}

// ClaimJob implements queue.WorkerRepository
func (s *Store) ClaimJob(ctx context.Context, queueName string, token uuid.UUID, lockDuration time.Duration) (*queue.Job, error) {
	now := s.now().UTC()

	var doc jobDocument
	err := s.jobs.FindOneAndUpdate(ctx,
		bson.M{
			"queue":  queueName,
			"status": bson.M{"$in": bson.A{string(queue.StatusWaiting), string(queue.StatusDelayed)}},
			"run_at": bson.M{"$lte": now},
		},
		bson.M{
			"$set": bson.M{
				"status":       string(queue.StatusActive),
				"locked_by":    token.String(),
				"locked_until": now.Add(lockDuration),
				"started_at":   now,
			},
			"$inc": bson.M{"attempt": 1},
		},
		options.FindOneAndUpdate().
			SetSort(bson.D{{Key: "priority", Value: 1}, {Key: "run_at", Value: 1}, {Key: "seq", Value: 1}}).
			SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, queue.ErrNoJobToClaim
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	return doc.job()
}

func leasedFilter(id, token uuid.UUID) bson.M {
	return bson.M{
		"_id":       id.String(),
		"status":    string(queue.StatusActive),
		"locked_by": token.String(),
	}
}

var releaseLease = bson.M{"locked_by": "", "locked_until": ""}

// ExtendLock implements queue.WorkerRepository
func (s *Store) ExtendLock(ctx context.Context, id, token uuid.UUID, d time.Duration) error {
	res, err := s.jobs.UpdateOne(ctx, leasedFilter(id, token),
		bson.M{"$set": bson.M{"locked_until": s.now().UTC().Add(d)}})
	if err != nil {
		return fmt.Errorf("failed to extend lock: %w", err)
	}
	if res.MatchedCount == 0 {
		return s.leaseError(ctx, id)
	}
	return nil
}

// CompleteJob implements queue.WorkerRepository
func (s *Store) CompleteJob(ctx context.Context, id, token uuid.UUID, result json.RawMessage) error {
	set := bson.M{
		"status":      string(queue.StatusCompleted),
		"finished_at": s.now().UTC(),
	}
	unset := bson.M{"locked_by": "", "locked_until": "", "result": ""}
	if len(result) > 0 {
		set["result"] = string(result)
		delete(unset, "result")
	}
	return s.finish(ctx, id, token, bson.M{"$set": set, "$unset": unset})
}

// FailJob implements queue.WorkerRepository
func (s *Store) FailJob(ctx context.Context, id, token uuid.UUID, jobErr queue.JobError) error {
	return s.finish(ctx, id, token, bson.M{
		"$set": bson.M{
			"status":      string(queue.StatusFailed),
			"error":       jobErr,
			"finished_at": s.now().UTC(),
		},
		"$unset": releaseLease,
	})
}

// finish applies a terminal transition and resolves the parent
func (s *Store) finish(ctx context.Context, id, token uuid.UUID, update bson.M) error {
	var doc jobDocument
	err := s.jobs.FindOneAndUpdate(ctx, leasedFilter(id, token), update).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return s.leaseError(ctx, id)
	}
	if err != nil {
		return fmt.Errorf("failed to finish job: %w", err)
	}
	if doc.ParentID == "" {
		return nil
	}
	return s.resolveParent(context.WithoutCancel(ctx), doc.ParentID)
}

// RetryJob implements queue.WorkerRepository
func (s *Store) RetryJob(ctx context.Context, id, token uuid.UUID, jobErr queue.JobError, runAt time.Time) error {
	status := queue.StatusWaiting
	if runAt.After(s.now()) {
		status = queue.StatusDelayed
	}

	res, err := s.jobs.UpdateOne(ctx, leasedFilter(id, token), bson.M{
		"$set": bson.M{
			"status": string(status),
			"error":  jobErr,
			"run_at": runAt.UTC(),
		},
		"$unset": releaseLease,
	})
	if err != nil {
		return fmt.Errorf("failed to retry job: %w", err)
	}
	if res.MatchedCount == 0 {
		return s.leaseError(ctx, id)
	}
	return nil
}

// WaitForChildren implements queue.WorkerRepository.
// The job is parked only while its counter shows a pending child; otherwise it
// stays leased and the caller decides what happens next.
func (s *Store) WaitForChildren(ctx context.Context, id, token uuid.UUID) (bool, error) {
	filter := leasedFilter(id, token)
	filter["pending_children"] = bson.M{"$gt": 0}

	res, err := s.jobs.UpdateOne(ctx, filter, bson.M{
		"$set":   bson.M{"status": string(queue.StatusWaitingChildren)},
		"$inc":   bson.M{"attempt": -1},
		"$unset": releaseLease,
	})
	if err != nil {
		return false, fmt.Errorf("failed to park job: %w", err)
	}
	if res.MatchedCount == 0 {
		n, err := s.jobs.CountDocuments(ctx, leasedFilter(id, token))
		if err != nil {
			return false, fmt.Errorf("failed to check job lease: %w", err)
		}
		if n == 0 {
			return false, s.leaseError(ctx, id)
		}
		return false, nil
	}

	// The last child may have finished between the two updates
	if err := s.wakeParent(ctx, id.String()); err != nil {
		return true, err
	}
	return true, nil
}

// ChildJobs implements queue.WorkerRepository and queue.InspectorRepository
func (s *Store) ChildJobs(ctx context.Context, parentID uuid.UUID) ([]*queue.Job, error) {
	n, err := s.jobs.CountDocuments(ctx, bson.M{"_id": parentID.String()})
	if err != nil {
		return nil, fmt.Errorf("failed to get parent job: %w", err)
	}
	if n == 0 {
		return nil, queue.ErrJobNotFound
	}
	return s.find(ctx, bson.M{"parent_id": parentID.String()}, options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}))
}

// RecoverExpiredLeases implements queue.MaintenanceRepository
func (s *Store) RecoverExpiredLeases(ctx context.Context, now time.Time) (int, error) {
	now = now.UTC()
	expired, err := s.find(ctx, bson.M{
		"status":       string(queue.StatusActive),
		"locked_until": bson.M{"$lt": now},
	}, nil)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, job := range expired {
		jobErr := queue.JobError{
			Kind:    queue.ErrorKindLeaseExpired,
			Message: queue.ErrLeaseExpired.Error(),
			Attempt: job.Attempt,
			At:      now,
		}
		set := bson.M{"status": string(queue.StatusWaiting), "error": jobErr}
		exhausted := job.Attempt >= job.MaxAttempts
		if exhausted {
			set = bson.M{"status": string(queue.StatusFailed), "error": jobErr, "finished_at": now}
		}

		filter := bson.M{
			"_id":          job.ID.String(),
			"status":       string(queue.StatusActive),
			"locked_until": bson.M{"$lt": now},
		}
		res, err := s.jobs.UpdateOne(ctx, filter, bson.M{"$set": set, "$unset": releaseLease})
		if err != nil {
			return recovered, fmt.Errorf("failed to recover lease: %w", err)
		}
		if res.ModifiedCount == 0 {
			continue
		}
		recovered++

		if exhausted && job.ParentID != nil {
			if err := s.resolveParent(ctx, job.ParentID.String()); err != nil {
				return recovered, err
			}
		}
	}

	if err := s.reconcileParents(ctx, now); err != nil {
		return recovered, err
	}
	return recovered, nil
}

// reconcileParents repairs parents left in waiting_children by a crash between
// a child write and its parent update. A parent whose counter is still
// positive but which has no live child gets its counter reset, and every
// parent with a zero counter is woken.
func (s *Store) reconcileParents(ctx context.Context, now time.Time) error {
	cur, err := s.jobs.Find(ctx, bson.M{"status": string(queue.StatusWaitingChildren)},
		options.Find().SetProjection(bson.M{"_id": 1, "pending_children": 1, "child_count": 1, "children_at": 1}))
	if err != nil {
		return fmt.Errorf("failed to list waiting parents: %w", err)
	}
	var parents []jobDocument
	if err := cur.All(ctx, &parents); err != nil {
		return fmt.Errorf("failed to decode waiting parents: %w", err)
	}

	for _, p := range parents {
		if p.PendingChildren > 0 {
			if p.ChildrenAt != nil && p.ChildrenAt.After(now.Add(-reconcileGrace)) {
				continue
			}
			live, err := s.jobs.CountDocuments(ctx, bson.M{"parent_id": p.ID, "status": bson.M{"$nin": terminal}})
			if err != nil {
				return fmt.Errorf("failed to count live children: %w", err)
			}
			if live > 0 {
				continue
			}
			// Matched on the observed counters so a concurrent enqueue wins
			if _, err := s.jobs.UpdateOne(ctx, bson.M{
				"_id":              p.ID,
				"status":           string(queue.StatusWaitingChildren),
				"pending_children": p.PendingChildren,
				"child_count":      p.ChildCount,
			}, bson.M{"$set": bson.M{"pending_children": 0}}); err != nil {
				return fmt.Errorf("failed to reset parent counter: %w", err)
			}
		}
		if err := s.wakeParent(ctx, p.ID); err != nil {
			return err
		}
	}
	return nil
}

// PurgeJobs implements queue.MaintenanceRepository
func (s *Store) PurgeJobs(ctx context.Context, queueName string, status queue.JobStatus, olderThan time.Time, keep int) (int, error) {
	if !status.Terminal() {
		return 0, nil
	}

	// Newest first so keep retains the most recent jobs
	candidates, err := s.find(ctx, bson.M{"queue": queueName, "status": string(status)},
		options.Find().SetSort(bson.D{{Key: "finished_at", Value: -1}, {Key: "seq", Value: -1}}))
	if err != nil {
		return 0, err
	}

	protected, err := s.activeParents(ctx, candidates)
	if err != nil {
		return 0, err
	}

	var doomed bson.A
	kept := 0
	for _, job := range candidates {
		if job.ParentID != nil && protected[*job.ParentID] {
			continue
		}
		tooMany := keep > 0 && kept >= keep
		tooOld := !olderThan.IsZero() && finishedAt(job).Before(olderThan)
		kept++
		if tooMany || tooOld {
			doomed = append(doomed, job.ID.String())
		}
	}
	if len(doomed) == 0 {
		return 0, nil
	}

	res, err := s.jobs.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": doomed}, "status": string(status)})
	if err != nil {
		return 0, fmt.Errorf("failed to purge jobs: %w", err)
	}
	return int(res.DeletedCount), nil
}

// activeParents returns the parents of jobs that are not terminal yet
func (s *Store) activeParents(ctx context.Context, jobs []*queue.Job) (map[uuid.UUID]bool, error) {
	var ids bson.A
	for _, j := range jobs {
		if j.ParentID != nil {
			ids = append(ids, j.ParentID.String())
		}
	}
	out := map[uuid.UUID]bool{}
	if len(ids) == 0 {
		return out, nil
	}

	parents, err := s.find(ctx, bson.M{"_id": bson.M{"$in": ids}, "status": bson.M{"$nin": terminal}}, nil)
	if err != nil {
		return nil, err
	}
	for _, p := range parents {
		out[p.ID] = true
	}
	return out, nil
}

// GetJob implements queue.InspectorRepository
func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*queue.Job, error) {
	var doc jobDocument
	err := s.jobs.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, queue.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return doc.job()
}

// QueueStats implements queue.InspectorRepository
func (s *Store) QueueStats(ctx context.Context, queueName string) (queue.QueueStats, error) {
	stats := queue.QueueStats{Queue: queueName}

	cursor, err := s.jobs.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"queue": queueName}}},
		{{Key: "$group", Value: bson.M{"_id": "$status", "n": bson.M{"$sum": 1}}}},
	})
	if err != nil {
		return stats, fmt.Errorf("failed to count jobs: %w", err)
	}

	var groups []struct {
		Status string `bson:"_id"`
		N      int64  `bson:"n"`
	}
	if err := cursor.All(ctx, &groups); err != nil {
		return stats, fmt.Errorf("failed to count jobs: %w", err)
	}

	for _, g := range groups {
		switch queue.JobStatus(g.Status) {
		case queue.StatusWaiting:
			stats.Waiting = g.N
		case queue.StatusDelayed:
			stats.Delayed = g.N
		case queue.StatusActive:
			stats.Active = g.N
		case queue.StatusWaitingChildren:
			stats.WaitingChildren = g.N
		case queue.StatusCompleted:
			stats.Completed = g.N
		case queue.StatusFailed:
			stats.Failed = g.N
		}
	}
	return stats, nil
}

// ListJobs implements queue.InspectorRepository
func (s *Store) ListJobs(ctx context.Context, filter queue.ListFilter) ([]*queue.Job, error) {
	q := bson.M{}
	if filter.Queue != "" {
		q["queue"] = filter.Queue
	}
	if filter.Status != "" {
		q["status"] = string(filter.Status)
	}
	if filter.ParentID != nil {
		q["parent_id"] = filter.ParentID.String()
	}

	opts := options.Find().SetSort(bson.D{{Key: "seq", Value: 1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}
	if filter.Offset > 0 {
		opts.SetSkip(int64(filter.Offset))
	}
	return s.find(ctx, q, opts)
}

// RetryFailedJob implements queue.InspectorRepository
func (s *Store) RetryFailedJob(ctx context.Context, id uuid.UUID) error {
	var doc jobDocument
	err := s.jobs.FindOneAndUpdate(ctx,
		bson.M{"_id": id.String(), "status": string(queue.StatusFailed)},
		bson.M{
			"$set": bson.M{
				"status":  string(queue.StatusWaiting),
				"attempt": 0,
				"run_at":  s.now().UTC(),
			},
			"$unset": bson.M{"finished_at": ""},
		},
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		job, err := s.GetJob(ctx, id)
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: %s is %s", queue.ErrJobNotFailed, id, job.Status)
	}
	if err != nil {
		return fmt.Errorf("failed to retry job: %w", err)
	}

	if doc.ParentID != "" {
		if _, err := s.jobs.UpdateOne(ctx,
			bson.M{"_id": doc.ParentID, "status": bson.M{"$nin": terminal}},
			bson.M{"$inc": bson.M{"pending_children": 1}},
		); err != nil {
			return fmt.Errorf("failed to reopen parent: %w", err)
		}
	}
	return nil
}

// GetPendingJobBySchedule implements queue.SchedulerRepository
func (s *Store) GetPendingJobBySchedule(ctx context.Context, schedule string) (*queue.Job, error) {
	var doc jobDocument
	err := s.jobs.FindOne(ctx,
		bson.M{"schedule": schedule, "status": bson.M{"$nin": terminal}},
		options.FindOne().SetSort(bson.D{{Key: "seq", Value: 1}}),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, queue.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scheduled job: %w", err)
	}
	return doc.job()
}

// resolveParent decrements the parent's pending counter and wakes it on zero
func (s *Store) resolveParent(ctx context.Context, parentID string) error {
	if _, err := s.jobs.UpdateOne(ctx,
		bson.M{"_id": parentID, "pending_children": bson.M{"$gt": 0}},
		bson.M{"$inc": bson.M{"pending_children": -1}},
	); err != nil {
		return fmt.Errorf("failed to resolve parent job: %w", err)
	}
	return s.wakeParent(ctx, parentID)
}

// wakeParent moves a waiting_children parent with no pending children back to the queue
func (s *Store) wakeParent(ctx context.Context, parentID string) error {
	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			"status": bson.M{"$cond": bson.A{
				bson.M{"$gt": bson.A{"$run_at", s.now().UTC()}},
				string(queue.StatusDelayed),
				string(queue.StatusWaiting),
			}},
		}}},
	}
	if _, err := s.jobs.UpdateOne(ctx, bson.M{
		"_id":              parentID,
		"status":           string(queue.StatusWaitingChildren),
		"pending_children": bson.M{"$lte": 0},
	}, update); err != nil {
		return fmt.Errorf("failed to wake parent job: %w", err)
	}
	return nil
}

// leaseError tells a missing job from a stale lease after a fenced update matched nothing
func (s *Store) leaseError(ctx context.Context, id uuid.UUID) error {
	n, err := s.jobs.CountDocuments(ctx, bson.M{"_id": id.String()})
	if err != nil {
		return fmt.Errorf("failed to check job: %w", err)
	}
	if n == 0 {
		return queue.ErrJobNotFound
	}
	return queue.ErrLeaseLost
}

func (s *Store) find(ctx context.Context, filter bson.M, opts *options.FindOptionsBuilder) ([]*queue.Job, error) {
	var lister []options.Lister[options.FindOptions]
	if opts != nil {
		lister = append(lister, opts)
	}

	cursor, err := s.jobs.Find(ctx, filter, lister...)
	if err != nil {
		return nil, fmt.Errorf("failed to find jobs: %w", err)
	}

	var docs []jobDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to read jobs: %w", err)
	}

	jobs := make([]*queue.Job, 0, len(docs))
	for _, d := range docs {
		job, err := d.job()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func finishedAt(j *queue.Job) time.Time {
	if j.FinishedAt != nil {
		return *j.FinishedAt
	}
	return j.CreatedAt
}
