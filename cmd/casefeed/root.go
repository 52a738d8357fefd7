package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rpattn/casefeed/internal/app"
	"github.com/rpattn/casefeed/internal/config"
	"github.com/rpattn/casefeed/internal/platform/logger"
)

// session is the state shared by subcommands once the root has loaded it.
type session struct {
	configDir string
	logMode   string

	cfg config.Config
	log *logger.Logger
}

// open connects every backend; callers must Close the returned app.
func (r *session) open(ctx context.Context) (*app.App, error) {
	return app.New(ctx, r.cfg, r.log)
}

// RootCommand creates and returns the root command
func RootCommand() *cobra.Command {
	rt := &session{}

	rootCmd := &cobra.Command{
		Use:           "casefeed",
		Short:         "Daily case report ingestion",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&rt.configDir, "config", ".", "Directory containing config.yaml")
	rootCmd.PersistentFlags().StringVar(&rt.logMode, "log-mode", "", "Log mode (dev or prod), overrides log.mode")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(rt.configDir)
		if err != nil {
			return err
		}
		if rt.logMode != "" {
			cfg.Log.Mode = rt.logMode
		}
		log, err := logger.New(cfg.Log.Mode)
		if err != nil {
			return fmt.Errorf("failed to build logger: %w", err)
		}
		rt.cfg = cfg
		rt.log = log
		return nil
	}
	rootCmd.PersistentPostRun = func(*cobra.Command, []string) {
		if rt.log != nil {
			rt.log.Sync()
		}
	}

	rootCmd.AddCommand(
		serveCommand(rt),
		fetchCommand(rt),
		ingestCommand(rt),
		reprocessCommand(rt),
		exportCommand(rt),
		migrateCommand(rt),
	)
	return rootCmd
}
