// keypears - federated encrypted password vault
// Copyright (C) 2025 keypears
//
// This file is part of keypears.
//
// keypears is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// keypears is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with keypears. If not, see <https://www.gnu.org/licenses/>.

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// LoaderOptions configures the configuration loader.
type LoaderOptions struct {
	// ConfigDir is the directory containing config files (default: ./config).
	ConfigDir string
	// Environment overrides automatic environment detection.
	Environment string
	// SkipValidation disables configuration validation.
	SkipValidation bool
}

// Load reads `.env`, picks `<env>.yaml` from the config directory with
// a fallback to `default.yaml`, applies env substitution and
// overrides, then validates.
func Load(opts ...LoaderOptions) (*Config, error) {
	options := LoaderOptions{ConfigDir: "config"}
	if len(opts) > 0 {
		options = opts[0]
		if options.ConfigDir == "" {
			options.ConfigDir = "config"
		}
	}

	// Best effort; a missing .env file is not an error.
	_ = godotenv.Load()

	env := options.Environment
	if env == "" {
		env = GetEnvironment()
	}

	cfg, err := loadConfigFile(filepath.Join(options.ConfigDir, env+".yaml"))
	if err != nil {
		cfg, err = loadConfigFile(filepath.Join(options.ConfigDir, "default.yaml"))
		if err != nil {
			cfg = Default()
		}
	}

	if cfg.Environment == "" {
		cfg.Environment = env
	}
	substituteEnvVars(cfg)
	applyEnvironmentOverrides(cfg)

	if !options.SkipValidation {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("configuration validation failed: %w", err)
		}
	}
	return cfg, nil
}

// MustLoad loads configuration or panics on error.
func MustLoad(opts ...LoaderOptions) *Config {
	cfg, err := Load(opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

func loadConfigFile(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}
	return LoadFromFile(path)
}

// GetEnvironment returns the current environment from KEYPEARS_ENV or
// defaults to development.
func GetEnvironment() string {
	env := os.Getenv("KEYPEARS_ENV")
	if env == "" {
		env = os.Getenv("ENVIRONMENT")
	}
	if env == "" {
		env = "development"
	}
	return strings.ToLower(env)
}

// IsProduction reports whether the server runs in production.
func IsProduction() bool {
	return GetEnvironment() == "production"
}

// applyEnvironmentOverrides overrides config with environment
// variables (highest priority).
func applyEnvironmentOverrides(cfg *Config) {
	if addr := os.Getenv("KEYPEARS_LISTEN_ADDR"); addr != "" {
		cfg.Server.ListenAddr = addr
	}
	if domain := os.Getenv("KEYPEARS_DOMAIN"); domain != "" {
		cfg.Server.Domain = domain
	}
	if host := os.Getenv("KEYPEARS_DB_HOST"); host != "" {
		cfg.Database.Host = host
	}
	if password := os.Getenv("KEYPEARS_DB_PASSWORD"); password != "" {
		cfg.Database.Password = password
	}
	if level := os.Getenv("KEYPEARS_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	switch os.Getenv("KEYPEARS_METRICS_ENABLED") {
	case "true":
		cfg.Metrics.Enabled = true
	case "false":
		cfg.Metrics.Enabled = false
	}
}
