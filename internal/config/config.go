package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Services ServicesConfig `yaml:"services"`
	Capture  CaptureConfig  `yaml:"capture"`
	Auth     AuthConfig     `yaml:"auth"`
	Catalog  CatalogConfig  `yaml:"catalog"`
	Store    StoreConfig    `yaml:"store"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port           int      `yaml:"port"`
	Address        string   `yaml:"address"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// ServicesConfig groups the remote services the capture flow calls into
type ServicesConfig struct {
	OCR     ServiceConfig `yaml:"ocr"`
	Speech  ServiceConfig `yaml:"speech"`
	Grammar ServiceConfig `yaml:"grammar"`
}

// ServiceConfig describes one remote service.
//
// Provider selects the client implementation: "http" posts to Endpoint,
// "openai" (speech only) and "gemini" (grammar only) use vendor SDKs,
// "rules" (grammar only) runs the offline corrector.
type ServiceConfig struct {
	Provider      string `yaml:"provider"`
	Endpoint      string `yaml:"endpoint"`
	APIKey        string `yaml:"api_key"`
	Model         string `yaml:"model"`
	Timeout       int    `yaml:"timeout"` // seconds, 0 = no client timeout
	MaxConcurrent int    `yaml:"max_concurrent"`
}

// CaptureConfig contains capture session parameters
type CaptureConfig struct {
	MaxRecording   int   `yaml:"max_recording"`   // seconds
	SessionTimeout int   `yaml:"session_timeout"` // seconds
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`
	SampleRate     int   `yaml:"sample_rate"` // microphone capture
	CanvasWidth    int   `yaml:"canvas_width"`
	CanvasHeight   int   `yaml:"canvas_height"`
}

// AuthConfig contains identity provider token verification settings
type AuthConfig struct {
	Enabled       bool   `yaml:"enabled"`
	HMACSecret    string `yaml:"hmac_secret"`
	PublicKeyPath string `yaml:"public_key_path"`
	Issuer        string `yaml:"issuer"`
}

// CatalogConfig points at an optional resource catalog file
type CatalogConfig struct {
	Path  string `yaml:"path"`
	Watch bool   `yaml:"watch"`
}

// StoreConfig contains activity store settings
type StoreConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns a configuration that runs locally against the mock backend
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Port:    8080,
			Address: "0.0.0.0",
		},
		Services: ServicesConfig{
			OCR: ServiceConfig{
				Provider:      "http",
				Endpoint:      "http://localhost:8090/api/ocr",
				MaxConcurrent: 10,
			},
			Speech: ServiceConfig{
				Provider:      "http",
				Endpoint:      "http://localhost:8090/api/transcribe",
				MaxConcurrent: 10,
			},
			Grammar: ServiceConfig{
				Provider:      "rules",
				MaxConcurrent: 10,
			},
		},
		Capture: CaptureConfig{
			MaxRecording:   30,
			SessionTimeout: 600,
			MaxUploadBytes: 10 << 20,
			SampleRate:     16000,
			CanvasWidth:    400,
			CanvasHeight:   300,
		},
		Store: StoreConfig{
			Path: "data/activity.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads and parses the configuration file on top of Default.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	config.applyEnvOverrides()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Services.OCR.validate("ocr", "http"); err != nil {
		return fmt.Errorf("services config: %w", err)
	}

	if err := c.Services.Speech.validate("speech", "http", "openai"); err != nil {
		return fmt.Errorf("services config: %w", err)
	}

	if err := c.Services.Grammar.validate("grammar", "http", "gemini", "rules"); err != nil {
		return fmt.Errorf("services config: %w", err)
	}

	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture config: %w", err)
	}

	if err := c.Auth.Validate(); err != nil {
		return fmt.Errorf("auth config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Port < 1 || h.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", h.Port)
	}

	if h.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	return nil
}

func (s *ServiceConfig) validate(name string, providers ...string) error {
	supported := false
	for _, p := range providers {
		if s.Provider == p {
			supported = true
			break
		}
	}
	if !supported {
		return fmt.Errorf("%s.provider must be one of %v, got '%s'", name, providers, s.Provider)
	}

	switch s.Provider {
	case "http":
		if s.Endpoint == "" {
			return fmt.Errorf("%s.endpoint cannot be empty for the http provider", name)
		}
	case "openai", "gemini":
		if s.APIKey == "" {
			return fmt.Errorf("%s.api_key cannot be empty for the %s provider", name, s.Provider)
		}
	}

	if s.Timeout < 0 {
		return fmt.Errorf("%s.timeout cannot be negative, got %d", name, s.Timeout)
	}

	if s.MaxConcurrent < 1 {
		return fmt.Errorf("%s.max_concurrent must be at least 1, got %d", name, s.MaxConcurrent)
	}

	return nil
}

// Validate validates capture configuration
func (c *CaptureConfig) Validate() error {
	if c.MaxRecording < 1 || c.MaxRecording > 30 {
		return fmt.Errorf("max_recording must be between 1 and 30 seconds, got %d", c.MaxRecording)
	}

	if c.SessionTimeout < 1 {
		return fmt.Errorf("session_timeout must be at least 1 second, got %d", c.SessionTimeout)
	}

	if c.MaxUploadBytes < 1024 {
		return fmt.Errorf("max_upload_bytes must be at least 1024, got %d", c.MaxUploadBytes)
	}

	if c.SampleRate < 8000 || c.SampleRate > 48000 {
		return fmt.Errorf("sample_rate must be between 8000 and 48000 Hz, got %d", c.SampleRate)
	}

	if c.CanvasWidth < 1 || c.CanvasHeight < 1 {
		return fmt.Errorf("canvas dimensions must be positive, got %dx%d", c.CanvasWidth, c.CanvasHeight)
	}

	return nil
}

// Validate validates auth configuration
func (a *AuthConfig) Validate() error {
	if !a.Enabled {
		return nil
	}

	if a.HMACSecret == "" && a.PublicKeyPath == "" {
		return fmt.Errorf("hmac_secret or public_key_path is required when auth is enabled")
	}

	if a.HMACSecret != "" && a.PublicKeyPath != "" {
		return fmt.Errorf("hmac_secret and public_key_path are mutually exclusive")
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetTimeoutDuration returns the client timeout as a time.Duration
func (s *ServiceConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(s.Timeout) * time.Second
}

// GetMaxRecordingDuration returns the recording limit as a time.Duration
func (c *CaptureConfig) GetMaxRecordingDuration() time.Duration {
	return time.Duration(c.MaxRecording) * time.Second
}

// GetSessionTimeoutDuration returns the session expiry as a time.Duration
func (c *CaptureConfig) GetSessionTimeoutDuration() time.Duration {
	return time.Duration(c.SessionTimeout) * time.Second
}
