// Package config loads the client configuration file and the remote
// settings document that drives per-item analysis behavior.
// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the on-device client configuration.
type Config struct {
	// BaseURL is the API gateway endpoint, without trailing slash.
	BaseURL string `yaml:"base_url"`
	// APIKey is sent as the x-api-key header on every request.
	APIKey string `yaml:"api_key"`
	// ConfigBucket holds the settings document and sample photos.
	ConfigBucket string `yaml:"config_bucket"`
	// DataDir is the root for the database, key material and images.
	DataDir string `yaml:"data_dir"`

	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxRetry       int           `yaml:"max_retry"`
}

// Load reads the YAML configuration at path and applies defaults.
// R05PMJ_BASE_URL and R05PMJ_API_KEY environment variables override the
// file values when set.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if v := os.Getenv("R05PMJ_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("R05PMJ_API_KEY"); v != "" {
		cfg.APIKey = v
	}

	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 32 * time.Second
	}
	if cfg.MaxRetry <= 0 {
		cfg.MaxRetry = 3
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("config %s: base_url is required", path)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("config %s: api_key is required", path)
	}
	return &cfg, nil
}
