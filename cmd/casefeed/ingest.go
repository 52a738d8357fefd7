package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rpattn/casefeed/internal/domain"
	"github.com/rpattn/casefeed/internal/registry"
)

func ingestCommand(rt *session) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <file.csv>...",
		Short: "Register local files and ingest them synchronously",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := rt.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("failed to read %s: %w", path, err)
				}

				file, err := a.Registry.Register(ctx, registry.RegisterRequest{
					Name:       filepath.Base(path),
					SourcePath: path,
					Data:       data,
				})
				if errors.Is(err, domain.ErrDuplicateContent) {
					rt.log.Info("file already registered", "path", path, "file_id", file.ID, "processed", file.Processed)
				} else if err != nil {
					return err
				}

				result, err := a.Pipeline.Run(ctx, file.ID)
				if err != nil {
					return fmt.Errorf("failed to ingest %s: %w", path, err)
				}
				if err := enc.Encode(result); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
