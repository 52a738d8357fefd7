package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rpattn/casefeed/internal/db"
)

func migrateCommand(rt *session) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			version, err := db.RunMigrations(rt.cfg.Database)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "database at version %d\n", version)
			return nil
		},
	}
}
