package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/scribblesense/scribblesense/internal/auth"
	"github.com/scribblesense/scribblesense/internal/capture"
	"github.com/scribblesense/scribblesense/internal/catalog"
	"github.com/scribblesense/scribblesense/internal/metrics"
	"github.com/scribblesense/scribblesense/internal/profile"
	"github.com/scribblesense/scribblesense/internal/server"
	"github.com/scribblesense/scribblesense/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.Int("http_port", cfg.HTTP.Port),
		slog.String("http_address", cfg.HTTP.Address),
		slog.String("ocr_provider", cfg.Services.OCR.Provider),
		slog.String("speech_provider", cfg.Services.Speech.Provider),
		slog.String("grammar_provider", cfg.Services.Grammar.Provider),
		slog.Int("max_recording", cfg.Capture.MaxRecording),
		slog.Bool("auth_enabled", cfg.Auth.Enabled),
		slog.String("log_level", cfg.Logging.Level),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize Prometheus metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appMetrics := metrics.NewMetrics(registry)
	logger.Info("Prometheus metrics initialized")

	svc, err := buildServices(ctx, cfg.Services, appMetrics, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	var (
		activity *store.ActivityStore
		profiles profile.Store
	)
	observers := []capture.Observer{appMetrics}
	if cfg.Store.Path != "" {
		activity, err = store.Open(cfg.Store.Path, logger)
		if err != nil {
			return err
		}
		defer activity.Close()
		observers = append(observers, activity)
		profiles = activity
	} else {
		logger.Warn("No store path configured, profiles are kept in memory")
	}

	resources, err := loadCatalog()
	if err != nil {
		return err
	}

	verifier, err := newVerifier()
	if err != nil {
		return err
	}

	sessions, err := capture.NewManager(logger, capture.Config{
		MaxRecording:   time.Duration(cfg.Capture.MaxRecording) * time.Second,
		SessionTimeout: time.Duration(cfg.Capture.SessionTimeout) * time.Second,
		CanvasWidth:    cfg.Capture.CanvasWidth,
		CanvasHeight:   cfg.Capture.CanvasHeight,
		Sources:        capture.PushSources(cfg.Capture.MaxUploadBytes),
		Processor:      &capture.ServiceProcessor{Speech: svc.speech, OCR: svc.ocr},
		Observers:      observers,
	})
	if err != nil {
		return fmt.Errorf("failed to create capture manager: %w", err)
	}
	defer sessions.Close()
	appMetrics.ObserveActiveRecordings(sessions.GetActiveSessionCount)
	logger.Info("Capture manager initialized",
		slog.Int("max_recording", cfg.Capture.MaxRecording),
		slog.Int("session_timeout", cfg.Capture.SessionTimeout),
	)

	httpServer, err := server.NewHTTPServer(logger, server.Dependencies{
		Config:   cfg,
		Sessions: sessions,
		OCR:      svc.ocr,
		Speech:   svc.speech,
		Grammar:  svc.grammar,
		Catalog:  resources,
		Activity: activity,
		Profiles: profiles,
		Auth:     verifier,
		Metrics:  appMetrics,
		Gatherer: registry,
		Clients:  svc.clients,
	})
	if err != nil {
		return err
	}

	if err := httpServer.Start(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Catalog.Path != "" && cfg.Catalog.Watch {
		g.Go(func() error {
			return catalog.Watch(gctx, resources, cfg.Catalog.Path, logger)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Starting graceful shutdown...")

		// Stop HTTP server first (stop accepting new requests)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Stop(shutdownCtx); err != nil {
			return fmt.Errorf("error stopping HTTP server: %w", err)
		}
		return nil
	})

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("http_address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
	)

	err = g.Wait()

	stats := sessions.Stats()
	logger.Info("Final session statistics",
		slog.Int("active_recordings", sessions.GetActiveSessionCount()),
		slog.Int("saved", stats[capture.StatusSaved]),
		slog.Int("errors", stats[capture.StatusError]),
	)
	logger.Info("Service stopped")
	return err
}

// loadCatalog returns the configured catalog file or the built-in one.
func loadCatalog() (*catalog.Catalog, error) {
	if cfg.Catalog.Path == "" {
		return catalog.Default(), nil
	}
	c, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return nil, err
	}
	logger.Info("Resource catalog loaded",
		slog.String("path", cfg.Catalog.Path),
		slog.Int("resources", c.Len()),
	)
	return c, nil
}

func newVerifier() (*auth.Verifier, error) {
	ac := auth.Config{
		Enabled:    cfg.Auth.Enabled,
		HMACSecret: cfg.Auth.HMACSecret,
		Issuer:     cfg.Auth.Issuer,
	}
	if cfg.Auth.Enabled && cfg.Auth.PublicKeyPath != "" {
		pem, err := os.ReadFile(cfg.Auth.PublicKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read auth public key: %w", err)
		}
		ac.PublicKeyPEM = pem
	}
	return auth.NewVerifier(ac)
}
