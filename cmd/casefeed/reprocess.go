package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func reprocessCommand(rt *session) *cobra.Command {
	return &cobra.Command{
		Use:   "reprocess",
		Short: "Resubmit every file that has not been loaded",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := rt.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			pending, err := a.Registry.ListPending(ctx)
			if err != nil {
				return err
			}
			err = a.Drain(ctx, func(ctx context.Context) error {
				for _, file := range pending {
					if _, err := a.Dispatcher.Submit(ctx, file.ID); err != nil {
						return err
					}
				}
				return nil
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "resubmitted %d files\n", len(pending))
			return nil
		},
	}
}
