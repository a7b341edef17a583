package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/jobkit/internal/app"
)

func migrateCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply storage migrations (postgres tables, mongo indexes)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, load, func(a *app.App) error {
				if err := a.Migrate(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Storage is up to date.")
				return nil
			})
		},
	}
}
