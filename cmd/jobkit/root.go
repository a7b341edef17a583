package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dmitrymomot/jobkit/internal/app"
)

// loader builds the application for one command invocation
type loader func(ctx context.Context) (*app.App, error)

func newRootCmd(load loader) *cobra.Command {
	root := &cobra.Command{
		Use:           "jobkit",
		Short:         "Durable background job processing",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		workerCmd(load),
		enqueueCmd(load),
		jobCmd(load),
		jobsCmd(load),
		statsCmd(load),
		retryCmd(load),
		migrateCmd(load),
	)
	return root
}

// withApp loads the application, runs fn and releases storage connections
func withApp(cmd *cobra.Command, load loader, fn func(*app.App) error) (err error) {
	a, err := load(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	defer func() {
		err = errors.Join(err, a.Close(context.WithoutCancel(cmd.Context())))
	}()
	return fn(a)
}

func parseJobID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid job id %q: %w", s, err)
	}
	return id, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
