package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/jobkit/internal/jobs"
	"github.com/dmitrymomot/jobkit/pkg/artifact"
	"github.com/dmitrymomot/jobkit/pkg/email"
	"github.com/dmitrymomot/jobkit/pkg/environment"
	"github.com/dmitrymomot/jobkit/pkg/jobapi"
	"github.com/dmitrymomot/jobkit/pkg/logger"
	"github.com/dmitrymomot/jobkit/pkg/queue"
)

// Options are the already-built collaborators Build wires together.
type Options struct {
	Logger       *slog.Logger
	Env          environment.Environment
	Queue        queue.Config
	API          jobapi.Config
	Topology     *queue.Topology // nil uses jobs.Queues
	Store        queue.Storage
	Sender       email.Sender
	Artifacts    artifact.Storage
	Transactions jobs.TransactionSource
	Healthchecks []func(context.Context) error
	Closers      []func(context.Context) error
	Migrate      func(context.Context) error
}

// App is the assembled job system of one process.
type App struct {
	Log       *slog.Logger
	Env       environment.Environment
	Registry  *queue.Registry
	Store     queue.Storage
	Enqueuer  *queue.Enqueuer
	Inspector *queue.Inspector
	Catalog   *jobs.Catalog

	queueCfg queue.Config
	apiCfg   jobapi.Config
	checks   []func(context.Context) error
	closers  []func(context.Context) error
	migrate  func(context.Context) error
}

// Build registers the queues and job catalogue over opts.Store
func Build(opts Options) (*App, error) {
	if opts.Store == nil {
		return nil, ErrStoreNil
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Transactions == nil {
		opts.Transactions = jobs.SyntheticTransactions{}
	}

	var (
		reg *queue.Registry
		err error
	)
	if opts.Topology != nil {
		reg, err = queue.NewRegistryFromTopology(opts.Topology)
	} else {
		reg = queue.NewRegistry()
		err = reg.RegisterQueues(jobs.Queues())
	}
	if err != nil {
		return nil, err
	}

	enq, err := queue.NewEnqueuer(opts.Store, reg, queue.WithEnqueuerLogger(opts.Logger))
	if err != nil {
		return nil, err
	}
	insp, err := queue.NewInspector(opts.Store, reg)
	if err != nil {
		return nil, err
	}

	catalog, err := jobs.Register(reg, jobs.Deps{
		Enqueuer:     enq,
		Sender:       opts.Sender,
		Artifacts:    opts.Artifacts,
		Transactions: opts.Transactions,
	})
	if err != nil {
		return nil, err
	}

	return &App{
		Log:       opts.Logger,
		Env:       opts.Env,
		Registry:  reg,
		Store:     opts.Store,
		Enqueuer:  enq,
		Inspector: insp,
		Catalog:   catalog,
		queueCfg:  opts.Queue,
		apiCfg:    opts.API,
		checks:    opts.Healthchecks,
		closers:   opts.Closers,
		migrate:   opts.Migrate,
	}, nil
}

// Handler returns the HTTP job API
func (a *App) Handler() (http.Handler, error) {
	api, err := jobapi.New(a.Enqueuer, a.Inspector,
		jobapi.WithConfig(a.apiCfg),
		jobapi.WithLogger(a.Log),
		jobapi.WithEnvironment(a.Env),
		jobapi.WithHealthchecks(a.checks...),
	)
	if err != nil {
		return nil, err
	}
	return api.Handler(), nil
}

// RunOptions tune RunWorker.
type RunOptions struct {
	Queues []string // empty serves every registered queue
	Serve  bool     // also serve the HTTP API
	// RecurringEnvs widens the environments allowed to schedule recurring jobs
	RecurringEnvs []environment.Environment
}

// RunWorker runs the worker pools, janitor, scheduler and optionally the
// HTTP API until ctx is cancelled or one of them fails.
func (a *App) RunWorker(ctx context.Context, opts RunOptions) error {
	worker, err := queue.NewWorker(a.Store, a.Registry,
		queue.WithWorkerConfig(a.queueCfg),
		queue.WithQueues(opts.Queues...),
		queue.WithWorkerLogger(a.Log),
	)
	if err != nil {
		return err
	}

	janitor, err := queue.NewJanitor(a.Store, a.Registry,
		queue.WithJanitorInterval(a.queueCfg.JanitorInterval),
		queue.WithJanitorLogger(a.Log),
	)
	if err != nil {
		return err
	}

	var gateOpts []environment.GateOption
	if len(opts.RecurringEnvs) > 0 {
		gateOpts = append(gateOpts, environment.WithRecurringEnvironments(opts.RecurringEnvs...))
	}
	gate := environment.NewGate(a.Env, gateOpts...)
	scheduler, err := queue.NewScheduler(a.Store, a.Enqueuer, gate,
		queue.WithCheckInterval(a.queueCfg.SchedulerTick),
		queue.WithSchedulerLogger(a.Log),
	)
	if err != nil {
		return err
	}
	if err := jobs.RegisterSchedules(scheduler); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(worker.Run(gctx))
	g.Go(janitor.Run(gctx))
	g.Go(scheduler.Run(gctx))

	if opts.Serve {
		handler, err := a.Handler()
		if err != nil {
			return err
		}
		srv := jobapi.NewServer(a.apiCfg, a.Log)
		g.Go(func() error { return srv.Run(gctx, handler) })
	}

	a.Log.InfoContext(ctx, "job system running",
		logger.Component("worker"),
		slog.String("env", a.Env.String()),
		slog.Bool("recurring", gate.ShouldRegisterRecurring()),
		slog.Bool("api", opts.Serve))

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Migrate applies storage migrations, when the driver has any
func (a *App) Migrate(ctx context.Context) error {
	if a.migrate == nil {
		return ErrNotMigratable
	}
	return a.migrate(ctx)
}

// Close releases storage connections
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
