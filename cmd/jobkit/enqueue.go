package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/jobkit/internal/app"
	"github.com/dmitrymomot/jobkit/pkg/queue"
)

func enqueueCmd(load loader) *cobra.Command {
	var (
		delay    time.Duration
		priority int
		parent   string
		jobID    string
	)

	cmd := &cobra.Command{
		Use:   "enqueue <type> <payload-json>",
		Short: "Submit a job",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := json.RawMessage(args[1])
			if !json.Valid(payload) {
				return fmt.Errorf("payload is not valid JSON")
			}

			var opts []queue.EnqueueOption
			if delay > 0 {
				opts = append(opts, queue.WithDelay(delay))
			}
			if cmd.Flags().Changed("priority") {
				opts = append(opts, queue.WithPriority(queue.Priority(priority)))
			}
			if parent != "" {
				id, err := parseJobID(parent)
				if err != nil {
					return err
				}
				opts = append(opts, queue.WithParent(id))
			}
			if jobID != "" {
				id, err := parseJobID(jobID)
				if err != nil {
					return err
				}
				opts = append(opts, queue.WithJobID(id))
			}

			return withApp(cmd, load, func(a *app.App) error {
				id, err := a.Enqueuer.Enqueue(cmd.Context(), args[0], payload, opts...)
				if err != nil {
					return fmt.Errorf("failed to enqueue job: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), id)
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&delay, "delay", 0, "run no earlier than this long from now")
	cmd.Flags().IntVar(&priority, "priority", 0, "priority override, 0 (highest) to 1000")
	cmd.Flags().StringVar(&parent, "parent", "", "parent job id; the parent waits for this job")
	cmd.Flags().StringVar(&jobID, "id", "", "explicit job id for idempotent submission")
	return cmd
}
