// Package config provides configuration loading and validation for the ScribbleSense service.
// It handles YAML-based configuration layered over defaults, .env files and
// environment overrides, with per-section validation.
package config
