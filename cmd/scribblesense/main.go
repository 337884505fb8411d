package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/scribblesense/scribblesense/internal/config"
)

const (
	serviceName    = "scribblesense"
	serviceVersion = "1.0.0"
)

var (
	configPath string
	envFiles   []string
	logLevel   string

	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "scribblesense",
	Short: "ScribbleSense - handwriting, speech and grammar practice backend",
	Long: `ScribbleSense captures handwriting and speech, sends them to the OCR and
speech-to-text services, checks grammar and serves learning resources.

Run "scribblesense serve" to start the HTTP API.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadDotEnv(envFiles...); err != nil {
			return err
		}

		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if logLevel != "" {
			loaded.Logging.Level = logLevel
			if err := loaded.Logging.Validate(); err != nil {
				return err
			}
		}

		cfg = loaded
		logger = initLogger(cfg.Logging)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (defaults apply when empty)")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "Env files to load (default .env)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the log level (debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd, ocrCmd, grammarCmd, resourcesCmd, mockBackendCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
