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
	"os"
	"regexp"
)

// envVarPattern matches ${VAR} or ${VAR:default}
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// SubstituteEnvVars replaces ${VAR} or ${VAR:default} with environment
// variable values.
func SubstituteEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		parts := envVarPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultValue := ""
		if len(parts) > 2 {
			defaultValue = parts[2]
		}

		value := os.Getenv(varName)
		if value == "" {
			return defaultValue
		}
		return value
	})
}

// substituteEnvVars walks the string-valued fields of the config.
func substituteEnvVars(cfg *Config) {
	if cfg == nil {
		return
	}

	cfg.Server.ListenAddr = SubstituteEnvVars(cfg.Server.ListenAddr)
	cfg.Server.Domain = SubstituteEnvVars(cfg.Server.Domain)
	for i, domain := range cfg.Server.AcceptedDomains {
		cfg.Server.AcceptedDomains[i] = SubstituteEnvVars(domain)
	}

	cfg.Database.Host = SubstituteEnvVars(cfg.Database.Host)
	cfg.Database.User = SubstituteEnvVars(cfg.Database.User)
	cfg.Database.Password = SubstituteEnvVars(cfg.Database.Password)
	cfg.Database.Database = SubstituteEnvVars(cfg.Database.Database)
	cfg.Database.SSLMode = SubstituteEnvVars(cfg.Database.SSLMode)

	for domain, url := range cfg.Federation.Endpoints {
		cfg.Federation.Endpoints[domain] = SubstituteEnvVars(url)
	}

	cfg.Logging.Level = SubstituteEnvVars(cfg.Logging.Level)
	cfg.Logging.Format = SubstituteEnvVars(cfg.Logging.Format)
	cfg.Metrics.Addr = SubstituteEnvVars(cfg.Metrics.Addr)
}
