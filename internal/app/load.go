package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/dmitrymomot/jobkit/pkg/artifact"
	"github.com/dmitrymomot/jobkit/pkg/config"
	"github.com/dmitrymomot/jobkit/pkg/email"
	"github.com/dmitrymomot/jobkit/pkg/environment"
	"github.com/dmitrymomot/jobkit/pkg/jobapi"
	"github.com/dmitrymomot/jobkit/pkg/logger"
	"github.com/dmitrymomot/jobkit/pkg/queue"
)

// Load reads every setting from the environment (and .env), connects the
// selected storage backend and builds the App.
func Load(ctx context.Context) (*App, error) {
	var (
		appCfg   Config
		envCfg   environment.Config
		queueCfg queue.Config
		apiCfg   jobapi.Config
		mailCfg  email.Config
		artCfg   artifact.Config
		logCfg   logger.Config
	)
	for _, err := range []error{
		config.Load(&appCfg),
		config.Load(&envCfg),
		config.Load(&queueCfg),
		config.Load(&apiCfg),
		config.Load(&mailCfg),
		config.Load(&artCfg),
		config.Load(&logCfg),
	} {
		if err != nil {
			return nil, err
		}
	}

	env := envCfg.Environment()
	log := NewLogger(env, appCfg.Service, logCfg)

	topo, err := loadTopology(queueCfg.TopologyFile, log)
	if err != nil {
		return nil, err
	}

	backend, err := openStore(ctx, appCfg.StoreDriver, log)
	if err != nil {
		return nil, err
	}

	sender, err := email.New(mailCfg)
	if err != nil {
		return nil, errors.Join(err, backend.close(ctx))
	}
	artifacts, err := artifact.New(ctx, artCfg)
	if err != nil {
		return nil, errors.Join(err, backend.close(ctx))
	}

	a, err := Build(Options{
		Logger:       log,
		Env:          env,
		Queue:        queueCfg,
		API:          apiCfg,
		Topology:     topo,
		Store:        backend.store,
		Sender:       sender,
		Artifacts:    artifacts,
		Healthchecks: backend.checks,
		Closers:      backend.closers,
		Migrate:      backend.migrate,
	})
	if err != nil {
		return nil, errors.Join(err, backend.close(ctx))
	}
	return a, nil
}

// NewLogger builds the process logger. Job and request attributes are
// pulled from the context of each log call.
func NewLogger(env environment.Environment, service string, cfg logger.Config) *slog.Logger {
	return logger.New(
		logger.WithEnvironment(env.String(), service),
		logger.WithConfig(cfg),
		logger.WithContextExtractors(
			queue.LogExtractor,
			jobapi.LoggerExtractor(),
		),
	)
}

// loadTopology reads the queue topology file. A missing file falls back to
// the built-in queue layout.
func loadTopology(path string, log *slog.Logger) (*queue.Topology, error) {
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		log.Info("queue topology file not found, using built-in queues", slog.String("path", path))
		return nil, nil
	}

	var topo queue.Topology
	if err := config.LoadYAML(path, &topo); err != nil {
		return nil, fmt.Errorf("failed to load queue topology: %w", err)
	}
	return &topo, nil
}
