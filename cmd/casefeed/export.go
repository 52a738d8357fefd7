package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rpattn/casefeed/internal/domain"
)

func exportCommand(rt *session) *cobra.Command {
	var country string

	cmd := &cobra.Command{
		Use:   "export <out.csv>",
		Short: "Write loaded observations to a CSV file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := rt.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			target := args[0]
			tmp, err := os.CreateTemp(filepath.Dir(target), ".export-*.csv")
			if err != nil {
				return fmt.Errorf("create temp export file: %w", err)
			}
			defer os.Remove(tmp.Name())

			rows, err := a.Export.WriteCSV(ctx, tmp, domain.ObservationFilter{CountryRegion: country})
			if err != nil {
				_ = tmp.Close()
				return err
			}
			if err := tmp.Close(); err != nil {
				return fmt.Errorf("close export file: %w", err)
			}
			if err := os.Rename(tmp.Name(), target); err != nil {
				return fmt.Errorf("promote export file: %w", err)
			}
			rt.log.Info("export written", "path", target, "rows", rows)
			return nil
		},
	}
	cmd.Flags().StringVar(&country, "country", "", "Only export this country or region")
	return cmd
}
