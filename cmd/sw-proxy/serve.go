package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kevohmutwiri9-creator/Klaus/pkg/logging"
	"github.com/kevohmutwiri9-creator/Klaus/pkg/proxy"
	"github.com/kevohmutwiri9-creator/Klaus/pkg/worker"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Install the current version and start the proxy",
		Long: `Installs a worker for the manifest version, activates it, and serves every
request through it until interrupted. A periodic wake trigger sweeps the
dynamic partition every SW_SWEEP_INTERVAL.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			registration := worker.NewRegistration(a.cfg.SkipWaiting, a.background)
			if _, err := a.install(ctx, registration); err != nil {
				return err
			}

			srv := proxy.New(proxy.Config{
				Addr:           a.cfg.Addr,
				AllowedOrigins: a.cfg.CORSOrigins,
				RequestTimeout: a.cfg.RequestTimeout,
			}, registration, a.latency)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(srv.Start)
			g.Go(func() error {
				runSweeper(gctx, registration, a.cfg.SweepInterval)
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				a.logger.Info().Msg("Shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					a.logger.Warn().Err(err).Msg("Graceful shutdown incomplete")
				}
				if err := a.background.WaitContext(shutdownCtx); err != nil {
					a.logger.Warn().Err(err).Msg("Background tasks still running at exit")
				}
				return nil
			})
			return g.Wait()
		},
	}
}

// runSweeper is the host wake trigger: it delivers the cache-sweep sync
// tag to the active worker every interval until ctx ends.
func runSweeper(ctx context.Context, registration *worker.Registration, interval time.Duration) {
	if interval <= 0 {
		return
	}

	logger := logging.NewLogger("sweeper")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := registration.Sync(ctx, worker.SyncCacheSweep); err != nil {
				logger.Warn().Err(err).Msg("Periodic sweep failed")
			}
		}
	}
}
