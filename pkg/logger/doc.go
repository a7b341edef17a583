// Package logger builds *slog.Logger instances for jobkit processes and
// provides attribute helpers that keep key names consistent across the
// queue, the storage drivers and the HTTP API.
//
// New applies Option values over a JSON, info-level default. WithEnvironment
// selects a per-environment preset (text and debug in development and test,
// JSON and info in staging and production) and WithConfig lets LOG_LEVEL and
// LOG_FORMAT override it.
//
// Context extractors attach values carried by the context of each log call:
//
//	log := logger.New(
//		logger.WithEnvironment("production", "jobkit"),
//		logger.WithContextExtractors(queue.LogExtractor, jobapi.LoggerExtractor()),
//	)
//	log.InfoContext(ctx, "export ready", logger.JobID(id))
//
// Inside a job handler the record then carries job_id, job_type, queue and
// attempt without the handler passing them.
//
// Error, Errors, JobID, ParentID and RequestID return an empty attribute for
// nil input, which slog drops.
package logger
