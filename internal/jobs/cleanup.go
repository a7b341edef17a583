package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmitrymomot/jobkit/pkg/artifact"
	"github.com/dmitrymomot/jobkit/pkg/logger"
	"github.com/dmitrymomot/jobkit/pkg/queue"
	"github.com/dmitrymomot/jobkit/pkg/validator"
)

// CleanupExports is the payload of the recurring cleanup-exports job.
type CleanupExports struct {
	Prefix      string `json:"prefix"`
	MaxAgeHours int    `json:"max_age_hours"`
}

// Validate requires a prefix and an age of at least one hour
func (p CleanupExports) Validate() error {
	return validator.Apply(
		validator.RequiredString("prefix", p.Prefix),
		validator.Min("max_age_hours", p.MaxAgeHours, 1),
	)
}

// CleanupResult reports what one cleanup run removed.
type CleanupResult struct {
	Scanned int `json:"scanned"`
	Deleted int `json:"deleted"`
}

type cleaner struct {
	artifacts artifact.Storage
	now       func() time.Time
}

func (c *cleaner) handle(ctx context.Context, p CleanupExports) (CleanupResult, error) {
	objects, err := c.artifacts.List(ctx, p.Prefix)
	if err != nil {
		return CleanupResult{}, fmt.Errorf("failed to list artifacts: %w", err)
	}

	cutoff := c.now().Add(-time.Duration(p.MaxAgeHours) * time.Hour)
	res := CleanupResult{Scanned: len(objects)}

	var errs []error
	for _, obj := range artifact.OlderThan(objects, cutoff) {
		if err := c.artifacts.Delete(ctx, obj.Key); err != nil {
			if errors.Is(err, artifact.ErrNotFound) {
				continue
			}
			errs = append(errs, err)
			continue
		}
		res.Deleted++
	}

	log := queue.LoggerFromContext(ctx)
	if len(errs) > 0 {
		log.WarnContext(ctx, "some expired artifacts were not deleted",
			logger.Event("artifacts.cleanup"),
			logger.Errors(errs...))
		return res, errors.Join(errs...)
	}

	log.InfoContext(ctx, "expired artifacts deleted",
		logger.Event("artifacts.cleanup"),
		slog.String("prefix", p.Prefix),
		slog.Int("scanned", res.Scanned),
		slog.Int("deleted", res.Deleted))
	return res, nil
}
