package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dmitrymomot/jobkit/pkg/config"
	"github.com/dmitrymomot/jobkit/pkg/logger"
	"github.com/dmitrymomot/jobkit/pkg/queue"
	"github.com/dmitrymomot/jobkit/pkg/queue/mongostore"
	"github.com/dmitrymomot/jobkit/pkg/queue/pgstore"
	"github.com/dmitrymomot/jobkit/pkg/queue/redisstore"
)

// backend is an opened storage driver with its lifecycle hooks
type backend struct {
	store   queue.Storage
	checks  []func(context.Context) error
	closers []func(context.Context) error
	migrate func(context.Context) error
}

func (b *backend) close(ctx context.Context) error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// openStore connects the storage driver selected by name
func openStore(ctx context.Context, driver string, log *slog.Logger) (*backend, error) {
	log = log.With(logger.Component("storage"), slog.String("driver", driver))

	switch driver {
	case "", DriverMemory:
		log.Warn("using in-memory job storage, jobs are lost on restart")
		return &backend{store: queue.NewMemoryStorage()}, nil

	case DriverPostgres:
		var cfg pgstore.Config
		if err := config.Load(&cfg); err != nil {
			return nil, err
		}
		pool, err := pgstore.Connect(ctx, cfg)
		if err != nil {
			return nil, err
		}
		store, err := pgstore.New(pool)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return &backend{
			store:  store,
			checks: []func(context.Context) error{pgstore.Healthcheck(pool)},
			closers: []func(context.Context) error{func(context.Context) error {
				pool.Close()
				return nil
			}},
			migrate: func(ctx context.Context) error {
				return pgstore.Migrate(ctx, pool, cfg, log)
			},
		}, nil

	case DriverRedis:
		var cfg redisstore.Config
		if err := config.Load(&cfg); err != nil {
			return nil, err
		}
		client, err := redisstore.Connect(ctx, cfg)
		if err != nil {
			return nil, err
		}
		store, err := redisstore.New(client, redisstore.WithKeyPrefix(cfg.KeyPrefix))
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		return &backend{
			store:   store,
			checks:  []func(context.Context) error{redisstore.Healthcheck(client)},
			closers: []func(context.Context) error{func(context.Context) error { return client.Close() }},
		}, nil

	case DriverMongo:
		var cfg mongostore.Config
		if err := config.Load(&cfg); err != nil {
			return nil, err
		}
		client, err := mongostore.Connect(ctx, cfg)
		if err != nil {
			return nil, err
		}
		disconnect := func(ctx context.Context) error { return client.Disconnect(ctx) }
		store, err := mongostore.New(client.Database(cfg.Database), mongostore.WithCollection(cfg.Collection))
		if err != nil {
			return nil, errors.Join(err, disconnect(ctx))
		}
		if err := store.EnsureIndexes(ctx); err != nil {
			return nil, errors.Join(err, disconnect(ctx))
		}
		return &backend{
			store:   store,
			checks:  []func(context.Context) error{mongostore.Healthcheck(client)},
			closers: []func(context.Context) error{disconnect},
			migrate: store.EnsureIndexes,
		}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
}
