// Package pgstore implements queue.Storage on PostgreSQL using pgx/v5.
//
// Jobs live in a single jobkit_jobs table created by the embedded goose
// migrations. Workers lease jobs with UPDATE ... FOR UPDATE SKIP LOCKED, and
// every transition out of active is fenced by the lease token, so a worker
// whose lease expired cannot overwrite the outcome of the next holder.
// Completing or failing a child decrements its parent's pending counter under
// the parent's row lock and moves the parent back to waiting once it hits zero.
//
// # Usage
//
//	cfg, err := config.Load[pgstore.Config]()
//	if err != nil {
//		return err
//	}
//
//	pool, err := pgstore.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer pool.Close()
//
//	if err := pgstore.Migrate(ctx, pool, cfg, slog.Default()); err != nil {
//		return err
//	}
//
//	store, err := pgstore.New(pool)
//	if err != nil {
//		return err
//	}
//	worker, err := queue.NewWorker(store, registry)
//
// # Configuration
//
// Config is populated from PG_* environment variables. PG_CONN_URL is required.
// Connect retries RetryAttempts times, waiting RetryInterval multiplied by the
// attempt number between tries.
package pgstore
