// Package queue provides durable background job processing: named queues,
// typed job definitions, per-queue worker pools, retries with backoff,
// parent/child fan-out and fan-in, and gated recurring jobs.
//
// The package is organised around a few components that share one Registry.
// The Registry holds queues with their defaults and the job definitions keyed
// by job type. The Enqueuer validates payloads and persists jobs, batches and
// flows. A Worker runs one pool per queue, bounded by the queue's concurrency.
// The Scheduler creates occurrences of recurring entries behind an environment
// gate. The Janitor recovers expired leases and applies queue retention, and
// the Inspector gives read access to jobs, queue stats and child results.
//
// Components talk to storage only through small repository interfaces. The
// package ships MemoryStorage; the pgstore, redisstore and mongostore
// subpackages implement the same Storage interface on real databases.
//
// # Job lifecycle
//
// A job is created waiting (or delayed when RunAt is in the future, or
// waiting_children when it is a flow parent). A worker leases it, which moves
// it to active, increments Attempt and mints a lease token. The handler
// outcome then moves it to completed, failed, back to delayed for a retry, or
// to waiting_children when the handler returns ErrWaitForChildren. Every
// transition out of active must present the lease token.
//
// Configuration is merged as enqueue option > definition > queue > global
// defaults. Lower Priority values run first.
//
// # Usage
//
//	reg := queue.NewRegistry()
//	_, _ = reg.RegisterQueue("email", queue.QueueConfig{Concurrency: 4})
//
//	type Welcome struct {
//		UserID int64 `json:"user_id"`
//	}
//
//	welcome := queue.MustDefine(reg, "send-welcome", "email",
//		func(ctx context.Context, p Welcome) (queue.NoResult, error) {
//			queue.LoggerFromContext(ctx).Info("sending welcome email")
//			return queue.NoResult{}, nil
//		},
//		queue.WithJobAttempts(5),
//	)
//
//	store := queue.NewMemoryStorage()
//	enq, _ := queue.NewEnqueuer(store, reg)
//	id, err := welcome.Enqueue(ctx, enq, Welcome{UserID: 42}, queue.WithDelay(time.Minute))
//
//	w, _ := queue.NewWorker(store, reg)
//	g.Go(w.Run(ctx))
//
// # Fan-out and fan-in
//
// A handler can enqueue children with WithParent(JobFromContext(ctx).ID) and
// return WaitForChildren(). The job is parked without holding a worker slot
// and leased again once every child is terminal, at which point
// ChildResults(ctx) returns each child's result or error. EnqueueFlow stores
// a whole tree at once.
//
// Returning WaitForChildren() while no child is pending runs the handler once
// more under the same lease, so children that finished before the parent
// parked are picked up. If it waits again, the attempt counts as failed with
// ErrNoPendingChildren.
package queue
