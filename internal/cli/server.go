package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"quiz-room-service/internal/app"
	"quiz-room-service/internal/config"
	"quiz-room-service/internal/gateway"
	"quiz-room-service/internal/identity"
	"quiz-room-service/internal/logging"
	"quiz-room-service/internal/metrics"
	transport "quiz-room-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz room server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return err
	}
	log := logging.New(cfg.Log.Level, cfg.Log.Pretty)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	clk := clock.New()
	store, closeStore, err := openStore(ctx, cfg, clk, log)
	if err != nil {
		return err
	}
	defer closeStore()

	feed, closeFeed, err := openFeed(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeFeed()

	identities, err := identity.New(cfg.Auth.SigningKey, config.TTLDuration(cfg.Auth.TokenTTL, 24*time.Hour))
	if err != nil {
		return err
	}

	engine := app.NewEngine(store, app.WithClock(clk), app.WithRules(rulesFrom(cfg)))
	gw := gateway.New(ctx, engine, feed,
		gateway.WithClock(clk),
		gateway.WithIdentities(identities),
		gateway.WithMetrics(metrics.New(clk)),
		gateway.WithLogger(log),
	)
	defer gw.Close()

	router := transport.NewRouter(gw, transport.RouterConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Metrics:        cfg.Server.Metrics,
		WS: transport.WSConfig{
			RatePerSecond: cfg.Server.RatePerSecond,
			Burst:         cfg.Server.RateBurst,
		},
	}, log)

	server := &http.Server{
		Addr:              ":" + finalPort,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
	}

	sweeper := app.NewSweeper(store, clk, config.TTLDuration(cfg.Retention.Horizon, 24*time.Hour), log)
	interval := config.TTLDuration(cfg.Retention.Interval, time.Hour)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("port", finalPort).Str("store", cfg.Store.Driver).Str("realtime", cfg.Realtime.Driver).Msg("starting quiz room service")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return sweeper.Run(gctx, interval)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
