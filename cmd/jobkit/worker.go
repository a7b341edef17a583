package main

import (
	"github.com/spf13/cobra"

	"github.com/dmitrymomot/jobkit/internal/app"
	"github.com/dmitrymomot/jobkit/pkg/environment"
)

func workerCmd(load loader) *cobra.Command {
	var (
		queues    []string
		serve     bool
		recurring []string
	)

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Process jobs until interrupted",
		Long: "Runs the worker pools, the janitor and the recurring job scheduler.\n" +
			"The HTTP job API is served alongside unless --api=false.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := app.RunOptions{Queues: queues, Serve: serve}
			for _, e := range recurring {
				opts.RecurringEnvs = append(opts.RecurringEnvs, environment.Parse(e))
			}
			return withApp(cmd, load, func(a *app.App) error {
				return a.RunWorker(cmd.Context(), opts)
			})
		},
	}

	cmd.Flags().StringSliceVar(&queues, "queues", nil, "queues to serve (default all registered)")
	cmd.Flags().BoolVar(&serve, "api", true, "serve the HTTP job API")
	cmd.Flags().StringSliceVar(&recurring, "recurring-envs", nil, "environments allowed to schedule recurring jobs (default production)")
	return cmd
}
