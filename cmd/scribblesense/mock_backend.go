package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/scribblesense/scribblesense/internal/mockapi"
)

var (
	mockAddr    string
	mockLatency time.Duration
	mockReject  bool
)

var mockBackendCmd = &cobra.Command{
	Use:   "mock-backend",
	Short: "Run canned OCR, speech and grammar services for development",
	Long: `Serves /api/ocr, /api/transcribe and /api/grammar/check with canned
answers. The default configuration points the upload clients at it.`,
	Args: cobra.NoArgs,
	RunE: runMockBackend,
}

func init() {
	mockBackendCmd.Flags().StringVar(&mockAddr, "addr", ":8090", "Listen address")
	mockBackendCmd.Flags().DurationVar(&mockLatency, "latency", 2*time.Second, "Simulated processing time")
	mockBackendCmd.Flags().BoolVar(&mockReject, "reject", false, "Answer every request with success=false")
}

func runMockBackend(cmd *cobra.Command, args []string) error {
	backend := mockapi.New(mockapi.Config{
		Latency:        mockLatency,
		MaxUploadBytes: cfg.Capture.MaxUploadBytes,
		Reject:         mockReject,
	}, logger)

	srv := &http.Server{
		Addr:              mockAddr,
		Handler:           backend.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Mock backend listening",
			slog.String("address", mockAddr),
			slog.Duration("latency", mockLatency),
			slog.Bool("reject", mockReject),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("mock backend: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	logger.Info("Stopping mock backend...")
	return srv.Shutdown(shutdownCtx)
}
