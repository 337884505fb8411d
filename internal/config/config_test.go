package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(c *Config)
		expectError bool
		errorMsg    string
	}{
		{
			name:        "valid default configuration",
			mutate:      func(c *Config) {},
			expectError: false,
		},
		{
			name: "invalid http port",
			mutate: func(c *Config) {
				c.HTTP.Port = 70000
			},
			expectError: true,
			errorMsg:    "port must be between 1 and 65535",
		},
		{
			name: "http provider without endpoint",
			mutate: func(c *Config) {
				c.Services.OCR.Endpoint = ""
			},
			expectError: true,
			errorMsg:    "ocr.endpoint cannot be empty",
		},
		{
			name: "unsupported ocr provider",
			mutate: func(c *Config) {
				c.Services.OCR.Provider = "gemini"
			},
			expectError: true,
			errorMsg:    "ocr.provider must be one of",
		},
		{
			name: "openai speech without key",
			mutate: func(c *Config) {
				c.Services.Speech.Provider = "openai"
			},
			expectError: true,
			errorMsg:    "speech.api_key cannot be empty",
		},
		{
			name: "gemini grammar with key",
			mutate: func(c *Config) {
				c.Services.Grammar.Provider = "gemini"
				c.Services.Grammar.APIKey = "key"
			},
			expectError: false,
		},
		{
			name: "recording limit above thirty seconds",
			mutate: func(c *Config) {
				c.Capture.MaxRecording = 31
			},
			expectError: true,
			errorMsg:    "max_recording must be between 1 and 30",
		},
		{
			name: "auth enabled without key material",
			mutate: func(c *Config) {
				c.Auth.Enabled = true
			},
			expectError: true,
			errorMsg:    "hmac_secret or public_key_path is required",
		},
		{
			name: "invalid log level",
			mutate: func(c *Config) {
				c.Logging.Level = "verbose"
			},
			expectError: true,
			errorMsg:    "level must be one of",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error containing '%s', got '%s'", tt.errorMsg, err.Error())
				}
			} else if err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

func TestConfigLoad(t *testing.T) {
	tests := []struct {
		name        string
		configYAML  string
		expectError bool
		check       func(t *testing.T, c *Config)
	}{
		{
			name: "partial file keeps defaults",
			configYAML: `
http:
  port: 9000
services:
  grammar:
    provider: http
    endpoint: https://grammar.example.com/check
logging:
  level: debug
  format: json
`,
			check: func(t *testing.T, c *Config) {
				if c.HTTP.Port != 9000 {
					t.Errorf("Expected port 9000, got %d", c.HTTP.Port)
				}
				if c.HTTP.Address != "0.0.0.0" {
					t.Errorf("Expected default address, got %q", c.HTTP.Address)
				}
				if c.Services.Grammar.Endpoint != "https://grammar.example.com/check" {
					t.Errorf("Unexpected grammar endpoint %q", c.Services.Grammar.Endpoint)
				}
				if c.Capture.MaxRecording != 30 {
					t.Errorf("Expected default max recording 30, got %d", c.Capture.MaxRecording)
				}
			},
		},
		{
			name:        "invalid yaml",
			configYAML:  "http: [port",
			expectError: true,
		},
		{
			name: "invalid values",
			configYAML: `
capture:
  max_recording: 0
`,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tempDir := t.TempDir()
			configPath := filepath.Join(tempDir, "config.yaml")
			if err := os.WriteFile(configPath, []byte(tt.configYAML), 0644); err != nil {
				t.Fatalf("Failed to write config file: %v", err)
			}

			cfg, err := Load(configPath)
			if tt.expectError {
				if err == nil {
					t.Error("Expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			tt.check(t, cfg)
		})
	}
}

func TestConfigLoadNonexistentFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("Expected error for nonexistent file")
	}
}

func TestConfigLoadWithoutFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load with empty path failed: %v", err)
	}
	if cfg.Services.Grammar.Provider != "rules" {
		t.Errorf("Expected rules grammar provider by default, got %q", cfg.Services.Grammar.Provider)
	}
}

func TestDurationHelpers(t *testing.T) {
	capture := CaptureConfig{MaxRecording: 30, SessionTimeout: 600}
	if got := capture.GetMaxRecordingDuration(); got != 30*time.Second {
		t.Errorf("Expected 30s, got %v", got)
	}
	if got := capture.GetSessionTimeoutDuration(); got != 10*time.Minute {
		t.Errorf("Expected 10m, got %v", got)
	}

	svc := ServiceConfig{}
	if got := svc.GetTimeoutDuration(); got != 0 {
		t.Errorf("Expected zero timeout by default, got %v", got)
	}
}
