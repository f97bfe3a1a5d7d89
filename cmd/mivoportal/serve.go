package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goodtune/mivoportal/internal/config"
	"github.com/goodtune/mivoportal/internal/i18n"
	"github.com/goodtune/mivoportal/internal/metrics"
	"github.com/goodtune/mivoportal/internal/qrauth"
	"github.com/goodtune/mivoportal/internal/server"
	"github.com/goodtune/mivoportal/internal/status"
	"github.com/goodtune/mivoportal/internal/storage"
	"github.com/goodtune/mivoportal/internal/storage/bolt"
	"github.com/goodtune/mivoportal/internal/storage/redis"
	"github.com/goodtune/mivoportal/internal/systemd"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the portal runtime server",
	Long:  `Start the portal runtime HTTP server and the metrics endpoint.`,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting mivoportal")

	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().
		Str("type", cfg.Storage.Type).
		Str("path", cfg.Storage.Path).
		Msg("Storage initialized")

	janitor := storage.NewJanitor(store.ScanLogs(), cfg.Logging.ScanLogRetentionDays, logger)
	janitor.Start()

	locales, err := i18n.NewLoader(cfg.I18n.LocalesDir, cfg.I18n.CacheSize, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize locale loader: %w", err)
	}

	fetchTimeout, _ := config.Duration(cfg.Status.FetchTimeout, 10*time.Second)
	pageCfg := status.PageConfig{
		APIBaseURL: cfg.Portal.APIBaseURL,
		APISession: cfg.Portal.APISession,
		DebugMode:  cfg.Portal.DebugMode,
	}

	var fetcher status.Fetcher
	if pageCfg.APIBaseURL != "" {
		fetcher = status.NewClient(pageCfg, fetchTimeout, logger)
		logger.Info().Str("api", pageCfg.APIBaseURL).Msg("Remote status API configured")
	} else {
		logger.Info().Msg("No status API configured, views use injected data only")
	}

	facing, _ := qrauth.ParseFacing(cfg.QR.DefaultFacing)
	tick, _ := config.Duration(cfg.Status.TickInterval, time.Second)
	readTimeout, _ := config.Duration(cfg.Server.ReadTimeout, 15*time.Second)
	writeTimeout, _ := config.Duration(cfg.Server.WriteTimeout, 15*time.Second)

	portalServer := server.NewServer(server.Config{
		ListenAddr:      fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.HTTPPort),
		ReadTimeout:     readTimeout,
		WriteTimeout:    writeTimeout,
		FetchTimeout:    fetchTimeout,
		TickInterval:    tick,
		MaxUploadBytes:  cfg.Server.MaxUploadBytes,
		ScanRateLimit:   cfg.Server.ScanRateLimit,
		DefaultLanguage: cfg.I18n.DefaultLanguage,
		PageConfig:      pageCfg,
		Capture: qrauth.CaptureConfig{
			Facing:  facing,
			FPS:     cfg.QR.FPS,
			BoxSize: cfg.QR.BoxSize,
		},
	}, store, locales, fetcher, logger)

	if sdListeners.Portal != nil {
		portalServer.SetListener(sdListeners.Portal)
	}
	if err := portalServer.Start(); err != nil {
		return fmt.Errorf("failed to start portal server: %w", err)
	}

	var metricsServer *metrics.Server
	if cfg.Server.MetricsPort > 0 || sdListeners.Metrics != nil {
		metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MetricsPort)
		metricsServer = metrics.NewServer(metricsAddr, logger)
		if sdListeners.Metrics != nil {
			metricsServer.SetListener(sdListeners.Metrics)
		}
		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	logger.Info().
		Str("portal", fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.HTTPPort)).
		Int("metrics_port", cfg.Server.MetricsPort).
		Msg("mivoportal startup complete")

	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	}
	_ = systemd.NotifyStatus("serving portal runtime")

	watchdogStop := make(chan struct{})
	go systemd.RunWatchdog(watchdogStop)

	// SIGHUP drops cached locale catalogs so edited files are picked up.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range sigChan {
		if sig == syscall.SIGHUP {
			locales.Invalidate()
			logger.Info().Msg("SIGHUP received, locale cache cleared")
			continue
		}
		logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received, gracefully stopping...")
		break
	}

	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}
	close(watchdogStop)

	shutdownTimeout, _ := config.Duration(cfg.Server.ShutdownTimeout, 10*time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := portalServer.Stop(ctx); err != nil {
		logger.Error().Err(err).Msg("Error stopping portal server")
	}
	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Error stopping metrics server")
		}
	}
	janitor.Stop()

	logger.Info().Msg("mivoportal stopped")
	return nil
}

func openStorage(cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Type {
	case "", "bolt":
		return bolt.Open(cfg.Path)
	case "redis":
		return redis.Open(cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}
