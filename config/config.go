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

// Package config loads and validates the server configuration from
// YAML files with environment overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML accepts "24h" style strings as
// well as integer seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var seconds int64
	if err := value.Decode(&seconds); err == nil {
		*d = Duration(time.Duration(seconds) * time.Second)
		return nil
	}

	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the root configuration structure.
type Config struct {
	Environment string            `yaml:"environment" json:"environment"`
	Server      *ServerConfig     `yaml:"server" json:"server"`
	Database    *DatabaseConfig   `yaml:"database" json:"database"`
	Pow         *PowConfig        `yaml:"pow" json:"pow"`
	Federation  *FederationConfig `yaml:"federation" json:"federation"`
	Logging     *LoggingConfig    `yaml:"logging" json:"logging"`
	Metrics     *MetricsConfig    `yaml:"metrics" json:"metrics"`
}

// ServerConfig covers the API listener and the hosted domains.
type ServerConfig struct {
	ListenAddr      string   `yaml:"listen_addr" json:"listen_addr"`
	Domain          string   `yaml:"domain" json:"domain"`
	AcceptedDomains []string `yaml:"accepted_domains" json:"accepted_domains"`
	SessionTTL      Duration `yaml:"session_ttl" json:"session_ttl"`
}

// DatabaseConfig covers the PostgreSQL connection. InMemory switches
// the whole store to the in-process implementation for development.
type DatabaseConfig struct {
	InMemory bool   `yaml:"in_memory" json:"in_memory"`
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	User     string `yaml:"user" json:"user"`
	Password string `yaml:"password" json:"password"`
	Database string `yaml:"database" json:"database"`
	SSLMode  string `yaml:"ssl_mode" json:"ssl_mode"`
}

// PowConfig covers proof-of-work issuance.
type PowConfig struct {
	RegistrationDifficulty int64 `yaml:"registration_difficulty" json:"registration_difficulty"`
}

// FederationConfig maps counterparty domains to server URLs.
type FederationConfig struct {
	Endpoints map[string]string `yaml:"endpoints" json:"endpoints"`
}

// LoggingConfig covers the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// MetricsConfig covers the Prometheus listener.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr" json:"addr"`
}

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	setDefaults(cfg)
	return cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	setDefaults(cfg)
	return cfg
}

// setDefaults fills in defaults for anything the file left out.
func setDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	if cfg.Server == nil {
		cfg.Server = &ServerConfig{}
	}
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":4273"
	}
	if cfg.Server.Domain == "" {
		cfg.Server.Domain = "localhost"
	}
	if len(cfg.Server.AcceptedDomains) == 0 {
		cfg.Server.AcceptedDomains = []string{cfg.Server.Domain}
	}
	if cfg.Server.SessionTTL == 0 {
		cfg.Server.SessionTTL = Duration(24 * time.Hour)
	}

	if cfg.Database == nil {
		cfg.Database = &DatabaseConfig{}
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "keypears"
	}
	if cfg.Database.Database == "" {
		cfg.Database.Database = "keypears"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}

	if cfg.Pow == nil {
		cfg.Pow = &PowConfig{}
	}
	if cfg.Pow.RegistrationDifficulty == 0 {
		cfg.Pow.RegistrationDifficulty = 1024
	}

	if cfg.Federation == nil {
		cfg.Federation = &FederationConfig{}
	}

	if cfg.Logging == nil {
		cfg.Logging = &LoggingConfig{}
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Metrics == nil {
		cfg.Metrics = &MetricsConfig{}
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9273"
	}
}

// Validate reports configuration errors that must stop startup.
func (c *Config) Validate() error {
	if c.Server.Domain == "" {
		return fmt.Errorf("server.domain is required")
	}
	if !contains(c.Server.AcceptedDomains, c.Server.Domain) {
		return fmt.Errorf("server.domain %q must be in server.accepted_domains", c.Server.Domain)
	}
	if c.Server.SessionTTL.Std() < time.Minute {
		return fmt.Errorf("server.session_ttl %s is too short", c.Server.SessionTTL.Std())
	}
	if c.Pow.RegistrationDifficulty < 256 {
		return fmt.Errorf("pow.registration_difficulty must be at least 256")
	}
	if !c.Database.InMemory && c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	return nil
}

func contains(list []string, item string) bool {
	for _, candidate := range list {
		if candidate == item {
			return true
		}
	}
	return false
}
