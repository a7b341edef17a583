// Package redisstore implements queue.Storage on Redis using go-redis/v9.
//
// A job is a hash; queues are a handful of sorted sets per status. Every state
// transition runs as one Lua script, which gives the same atomicity the SQL
// store gets from transactions: claiming promotes due delayed jobs and leases
// the head of the waiting set, and completing or failing a child decrements
// the parent's pending counter in the same script.
//
// Waiting jobs are scored by priority and share a fixed-width member of
// run_at, enqueue sequence and id, so ties resolve by run time, then by
// enqueue order.
//
// # Usage
//
//	cfg, err := config.Load[redisstore.Config]()
//	if err != nil {
//		return err
//	}
//	client, err := redisstore.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	store, err := redisstore.New(client, redisstore.WithKeyPrefix(cfg.KeyPrefix))
//
// All keys share the configured prefix. The default "{jobkit}" is a hash tag,
// so on Redis Cluster every key lands in the same slot. Each script call
// passes the keys it is routed by, and New rejects a cluster client whose
// prefix carries no hash tag.
package redisstore
