package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/jobkit/internal/app"
	"github.com/dmitrymomot/jobkit/pkg/queue"
)

func jobCmd(load loader) *cobra.Command {
	var children bool

	cmd := &cobra.Command{
		Use:   "job <id>",
		Short: "Show a job as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, load, func(a *app.App) error {
				if children {
					jobs, err := a.Inspector.ChildJobs(cmd.Context(), id)
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), jobs)
				}
				job, err := a.Inspector.GetJob(cmd.Context(), id)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), job)
			})
		},
	}

	cmd.Flags().BoolVar(&children, "children", false, "show the job's children instead")
	return cmd
}

func jobsCmd(load loader) *cobra.Command {
	var filter queue.ListFilter
	var status string

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List jobs in enqueue order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter.Status = queue.JobStatus(status)
			return withApp(cmd, load, func(a *app.App) error {
				jobs, err := a.Inspector.ListJobs(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if len(jobs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No jobs found.")
					return nil
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tTYPE\tQUEUE\tSTATUS\tATTEMPT\tCREATED")
				for _, j := range jobs {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t%s\n",
						j.ID, j.Type, j.Queue, j.Status, j.Attempt, j.MaxAttempts,
						j.CreatedAt.Format(time.RFC3339))
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().StringVar(&filter.Queue, "queue", "", "only jobs of this queue")
	cmd.Flags().StringVar(&status, "status", "", "only jobs in this status (waiting, delayed, active, waiting_children, completed, failed)")
	cmd.Flags().IntVar(&filter.Limit, "limit", 50, "maximum number of jobs")
	cmd.Flags().IntVar(&filter.Offset, "offset", 0, "number of jobs to skip")
	return cmd
}

func statsCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "stats [queue]",
		Short: "Show job counts per status",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, load, func(a *app.App) error {
				var stats []queue.QueueStats
				if len(args) == 1 {
					s, err := a.Inspector.QueueStats(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					stats = append(stats, s)
				} else {
					all, err := a.Inspector.AllQueueStats(cmd.Context())
					if err != nil {
						return err
					}
					stats = all
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', tabwriter.AlignRight)
				fmt.Fprintln(w, "QUEUE\tWAITING\tDELAYED\tACTIVE\tCHILDREN\tCOMPLETED\tFAILED\t")
				for _, s := range stats {
					fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t\n",
						s.Queue, s.Waiting, s.Delayed, s.Active, s.WaitingChildren, s.Completed, s.Failed)
				}
				return w.Flush()
			})
		},
	}
}

func retryCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <id>",
		Short: "Move a failed job back to waiting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, load, func(a *app.App) error {
				if err := a.Inspector.RetryJob(cmd.Context(), id); err != nil {
					return fmt.Errorf("failed to retry job: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %s moved back to waiting.\n", id)
				return nil
			})
		},
	}
}
