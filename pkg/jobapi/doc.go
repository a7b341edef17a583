// Package jobapi exposes job submission and introspection over HTTP.
//
// Routes:
//
//	POST /jobs                    submit {type, payload, delay_ms, priority, parent_id}, 202 {"job_id": ...}
//	GET  /jobs/{id}               one job
//	GET  /jobs/{id}/children      children of a job in enqueue order
//	POST /jobs/{id}/retry         move a failed job back to waiting
//	GET  /queues                  registered queues with config, counters and stats
//	GET  /queues/{name}/stats     per-status counts
//	GET  /queues/{name}/jobs      jobs of a queue, ?status=&limit=&offset=
//	GET  /health/live             liveness probe
//	GET  /health/ready            readiness probe running the configured checks
//
// Every response except the probes uses the JSONResponse envelope. Payload
// validation failures are returned as 400 with per-field messages in
// error.details; unknown job types and queues are 404.
//
// # Usage
//
//	api, err := jobapi.New(enq, inspector,
//		jobapi.WithLogger(log),
//		jobapi.WithEnvironment(env),
//		jobapi.WithHealthchecks(pgstore.Healthcheck(pool)),
//	)
//	if err != nil {
//		return err
//	}
//	srv := jobapi.NewServer(cfg, log)
//	return srv.Run(ctx, api.Handler())
package jobapi
