package main

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/rpattn/casefeed/internal/fetch"
)

func fetchCommand(rt *session) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch",
		Short: "Discover new upstream files and ingest them",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := rt.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			var summary fetch.Summary
			err = a.Drain(ctx, func(ctx context.Context) error {
				var runErr error
				summary, runErr = a.Coordinator.Run(ctx)
				return runErr
			})
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(summary)
		},
	}
}
