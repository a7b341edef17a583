// Package mongostore implements queue.Storage on MongoDB using mongo-driver/v2.
//
// Each job is one document in the jobs collection. Leasing is a single
// FindOneAndUpdate sorted by priority, run_at and enqueue sequence, and every
// transition out of active filters on the lease token, so a worker that lost
// its lease cannot overwrite the job.
//
// MongoDB transactions need a replica set, so the store does without them.
// Parent counters move with $inc and the parent is woken by a second
// conditional update. RecoverExpiredLeases also wakes any parent whose
// counter reached zero without the follow-up update running.
//
// # Usage
//
//	cfg, err := config.Load[mongostore.Config]()
//	if err != nil {
//		return err
//	}
//	client, err := mongostore.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	store, err := mongostore.New(client.Database(cfg.Database), mongostore.WithCollection(cfg.Collection))
//	if err != nil {
//		return err
//	}
//	if err := store.EnsureIndexes(ctx); err != nil {
//		return err
//	}
//
// Times are stored as BSON dates and lose precision below one millisecond.
package mongostore
