package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func serveCommand(rt *session) *cobra.Command {
	var fetchInterval time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and ingestion workers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := rt.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			server := &http.Server{
				Addr:         rt.cfg.HTTP.Addr,
				Handler:      a.Handler(),
				ReadTimeout:  15 * time.Second,
				WriteTimeout: 5 * time.Minute,
				IdleTimeout:  60 * time.Second,
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return a.Queue.Start(gctx)
			})
			g.Go(func() error {
				rt.log.Info("Starting HTTP server", "addr", server.Addr)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				rt.log.Info("Shutting down server")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			})
			if fetchInterval > 0 {
				g.Go(func() error {
					ticker := time.NewTicker(fetchInterval)
					defer ticker.Stop()
					for {
						if _, err := a.Coordinator.Run(gctx); err != nil && gctx.Err() == nil {
							rt.log.Error("scheduled fetch failed", "error", err)
						}
						select {
						case <-gctx.Done():
							return nil
						case <-ticker.C:
						}
					}
				})
			}

			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			rt.log.Info("Server exited")
			return nil
		},
	}
	cmd.Flags().DurationVar(&fetchInterval, "fetch-interval", 0, "Run a fetch pass on this interval (0 disables)")
	return cmd
}
