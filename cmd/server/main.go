package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/feedwire/feedwire/internal/config"
	"github.com/feedwire/feedwire/internal/identity"
	"github.com/feedwire/feedwire/internal/notify"
	"github.com/feedwire/feedwire/internal/pipeline"
	"github.com/feedwire/feedwire/internal/profile"
	"github.com/feedwire/feedwire/internal/registry"
	"github.com/feedwire/feedwire/internal/server"
	"github.com/feedwire/feedwire/internal/store"
	"github.com/feedwire/feedwire/internal/ws"
)

var (
	cfgFile string
	verbose bool
)

func setupLogger(verbose bool, logCfg *config.LoggingConfig) (*zap.Logger, error) {
	var zapConfig zap.Config
	if verbose {
		zapConfig = zap.NewDevelopmentConfig()
	} else {
		zapConfig = zap.NewProductionConfig()
		zapConfig.DisableStacktrace = true
	}

	if logCfg != nil && logCfg.Level != "" {
		var level zapcore.Level
		if err := level.UnmarshalText([]byte(logCfg.Level)); err == nil {
			zapConfig.Level = zap.NewAtomicLevelAt(level)
		}
	}

	return zapConfig.Build()
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "feedwire",
		Short: "Realtime feed update server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", os.Getenv("FEEDWIRE_CONFIG"), "config file path (or set FEEDWIRE_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	logger, err := setupLogger(verbose, &cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.String("port", cfg.Server.Port),
		zap.String("identityBaseURL", cfg.Identity.BaseURL),
		zap.Duration("pollInterval", cfg.Pipeline.PollInterval),
		zap.Int("localCacheSize", cfg.Cache.LocalSize),
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Storage
	pg, err := store.NewPostgres(runCtx, cfg.Postgres.DSN, logger)
	if err != nil {
		logger.Error("connecting to postgres", zap.Error(err))
		return err
	}
	defer pg.Close()

	// Profile cache layers
	shared, err := profile.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		logger.Error("connecting to redis", zap.Error(err))
		return err
	}
	defer shared.Close()

	origin := identity.NewClient(
		cfg.Identity.BaseURL,
		cfg.Identity.RatePerSecond,
		time.Duration(cfg.Identity.TimeoutSec)*time.Second,
		time.Duration(cfg.Identity.RetryDelaySec)*time.Second,
		cfg.Identity.RetryCount,
		logger,
	)

	profiles := profile.NewCache(shared, origin, profile.Options{
		LocalSize:     cfg.Cache.LocalSize,
		LocalTTL:      cfg.Cache.LocalTTL,
		SharedTTL:     cfg.Cache.SharedTTL,
		BatchChunk:    cfg.Cache.BatchChunk,
		LatencyWindow: cfg.Cache.LatencyWindow,
	}, logger)

	// Connection tracking and delivery
	reg := registry.New()
	hub := ws.NewHub(reg, cfg.Pipeline.SendBuffer, logger)
	go hub.Run(runCtx)

	dispatcher := pipeline.NewDispatcher(profiles, pg, pg, reg, hub, logger)

	// Operator alerting for mode degradation
	notifyCfg := notify.LoadConfig()
	if err := notifyCfg.Validate(); err != nil {
		logger.Error("invalid notification config", zap.Error(err))
		return err
	}
	alerter := notify.New(notifyCfg, logger)

	supervisor := pipeline.NewSupervisor(pg, dispatcher, pipeline.Options{
		PollInterval:  cfg.Pipeline.PollInterval,
		PushRetryBase: cfg.Pipeline.PushRetryBase,
		PushRetryMax:  cfg.Pipeline.PushRetryMax,
		OnModeChange: func(from, to pipeline.Mode) {
			if runCtx.Err() != nil {
				return // shutting down, not a degradation
			}
			alertCtx, alertCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer alertCancel()

			switch {
			case from == pipeline.ModePush && to == pipeline.ModePoll:
				_ = alerter.PipelineDegraded(alertCtx, string(from), string(to))
			case to == pipeline.ModeStopped && from != pipeline.ModeStopped:
				_ = alerter.PipelineStopped(alertCtx, "change sources stopped")
			}
		},
	}, logger)

	if err := supervisor.Start(runCtx); err != nil {
		logger.Error("starting change pipeline", zap.Error(err))
		return err
	}
	defer supervisor.Stop()

	logger.Info("change pipeline started", zap.String("mode", string(supervisor.Mode())))

	// HTTP surface
	srv := server.NewServer(hub, reg, supervisor, dispatcher, profiles, logger)
	router := server.NewRouter(srv, logger)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server...")

	// Stop accepting events before draining connections.
	cancel()
	supervisor.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		return err
	}

	logger.Info("server stopped")
	return nil
}
