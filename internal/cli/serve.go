package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/eutopia/collabdash/internal/app"
	"github.com/eutopia/collabdash/internal/dashboard"
	"github.com/eutopia/collabdash/internal/server"
)

func newServeCmd(state *rootState) *cobra.Command {
	var (
		addr    string
		verbose bool
		warm    bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the dashboard API",
		Long: `Serves the dashboard panels as JSON over HTTP until interrupted.

Queries go through the Redis cache. When Redis is unreachable the server keeps
answering from the warehouse.`,
		Example: `  collabdash serve
  collabdash serve --addr 0.0.0.0:8050 --verbose`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := state.cfg
			if cmd.Flags().Changed("addr") {
				cfg.Dashboard.Addr = addr
			}
			if cmd.Flags().Changed("verbose") {
				cfg.Dashboard.Verbose = verbose
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := state.openApp(ctx, cfg, state.logger)
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := a.Close(); closeErr != nil {
					state.logger.Warn().Err(closeErr).Msg("closing runtime")
				}
			}()

			return runServer(ctx, a, state.logger, warm)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides dashboard.addr)")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "log cache hits, misses and fallbacks")
	cmd.Flags().BoolVar(&warm, "warm", true, "load the filter lists into the cache at startup")

	return cmd
}

// runServer serves a until ctx ends. With warm set, the filter panels are
// loaded once in the background so the first page view hits the cache.
func runServer(ctx context.Context, a *app.App, logger zerolog.Logger, warm bool) error {
	cfg := a.Config()
	exec := a.Executor()
	svc := dashboard.NewService(exec, dashboard.WithRecommender(dashboard.NewRecommendationClient(
		cfg.Recommendation.URL,
		time.Duration(cfg.Recommendation.TimeoutSeconds)*time.Second,
	)))

	srv := server.New(cfg.Dashboard.Addr, server.Deps{
		Panels: svc,
		Stats:  exec.Stats,
		Health: a.Ping,
	}, logger, server.WithShutdownTimeout(time.Duration(cfg.Dashboard.ShutdownSeconds)*time.Second))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(gctx)
	})
	if warm {
		g.Go(func() error {
			warmFilters(gctx, svc, logger)
			return nil
		})
	}
	return g.Wait()
}

func warmFilters(ctx context.Context, loader server.PanelLoader, logger zerolog.Logger) {
	start := time.Now()
	unavailable := 0
	for _, id := range dashboard.FilterPanels() {
		panel, err := loader.Load(ctx, id, dashboard.Params{})
		if err != nil || panel.Unavailable {
			unavailable++
		}
	}
	logger.Info().
		Str("component", "cli").
		Str("operation", "warm_filters").
		Int("unavailable", unavailable).
		Int64("duration_ms", time.Since(start).Milliseconds()).
		Msg("filter lists loaded")
}
