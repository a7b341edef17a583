// Package environment carries the application environment (development,
// staging, production, test) through configuration, context.Context and HTTP
// requests, and derives the recurring-job Gate from it.
//
// The environment is read once from APP_ENV through Config and normalized with
// Parse, which accepts the usual short spellings ("prod", "dev", "stage").
//
// # Scheduler gate
//
// Horizontally scaled workers must not each register the same recurring jobs
// from non-production replicas. NewGate computes the decision once at startup:
//
//	gate := environment.NewGate(cfg.Environment())
//	sched, err := queue.NewScheduler(store, enq, gate)
//
// By default only Production is allowed. WithRecurringEnvironments widens it,
// for example to exercise schedules on staging:
//
//	gate := environment.NewGate(env, environment.WithRecurringEnvironments(
//	    environment.Production, environment.Staging,
//	))
//
// # Context
//
// Middleware attaches the environment to every request context; FromContext and
// the IsProduction/IsStaging/IsDevelopment predicates read it back. Logs carry
// the environment as a static attribute set by logger.WithEnvironment.
package environment
