package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are not an error; with no arguments ".env" is tried.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}

	existing := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}

	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("failed to load env files %v: %w", existing, err)
	}
	return nil
}

// applyEnvOverrides layers environment variables over file values.
// Vendor keys only fill in keys that the file left empty.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SCRIBBLESENSE_HTTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.HTTP.Port = port
		}
	}
	if v := os.Getenv("SCRIBBLESENSE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}

	if v := os.Getenv("SCRIBBLESENSE_OCR_ENDPOINT"); v != "" {
		c.Services.OCR.Endpoint = v
	}
	if v := os.Getenv("SCRIBBLESENSE_SPEECH_ENDPOINT"); v != "" {
		c.Services.Speech.Endpoint = v
	}
	if v := os.Getenv("SCRIBBLESENSE_GRAMMAR_ENDPOINT"); v != "" {
		c.Services.Grammar.Endpoint = v
	}
	if v := os.Getenv("SCRIBBLESENSE_SERVICE_API_KEY"); v != "" {
		for _, svc := range []*ServiceConfig{&c.Services.OCR, &c.Services.Speech, &c.Services.Grammar} {
			if svc.Provider == "http" && svc.APIKey == "" {
				svc.APIKey = v
			}
		}
	}

	if v := os.Getenv("OPENAI_API_KEY"); v != "" && c.Services.Speech.Provider == "openai" && c.Services.Speech.APIKey == "" {
		c.Services.Speech.APIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" && c.Services.Grammar.Provider == "gemini" && c.Services.Grammar.APIKey == "" {
		c.Services.Grammar.APIKey = v
	}

	if v := os.Getenv("SCRIBBLESENSE_AUTH_SECRET"); v != "" {
		c.Auth.HMACSecret = v
	}
}
