/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"github.com/tomoncle/datamanager/utils"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides read by LoadConfig, for example
// DATAMANAGER_CONNECTION_HOST.
const EnvPrefix = "DATAMANAGER"

// LoadConfig reads a YAML (or any viper-supported) file and applies
// environment overrides on top of DefaultConfig. An empty path loads
// defaults and environment only.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setConfigDefaults(v, DefaultConfig())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

func setConfigDefaults(v *viper.Viper, cfg *Config) {
	c := cfg.ConnectionConfig
	defaults := map[string]interface{}{
		"connection.type":                  c.Type,
		"connection.host":                  c.Host,
		"connection.port":                  c.Port,
		"connection.username":              c.Username,
		"connection.password":              c.Password,
		"connection.dbname":                c.DBName,
		"connection.sslmode":               c.SSLMode,
		"connection.max_idle_conns":        c.MaxIdleConns,
		"connection.max_open_conns":        c.MaxOpenConns,
		"connection.conn_max_lifetime":     c.ConnMaxLifetime,
		"connection.conn_max_idle_time":    c.ConnMaxIdleTime,
		"connection.connect_timeout":       c.ConnectTimeout,
		"connection.read_timeout":          c.ReadTimeout,
		"connection.write_timeout":         c.WriteTimeout,
		"connection.enable_reconnect":      c.EnableReconnect,
		"connection.reconnect_interval":    c.ReconnectInterval,
		"connection.max_reconnect_tries":   c.MaxReconnectTries,
		"connection.health_check_interval": c.HealthCheckInterval,
		"connection.enable_query_log":      c.EnableQueryLog,
		"connection.slow_query_time":       c.SlowQueryTime,
		"log.level":                        cfg.LogConfig.Level,
		"log.format":                       cfg.LogConfig.Format,
		"log.backend":                      cfg.LogConfig.Backend,
	}
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
}

// WriteConfig serializes cfg as YAML at path, creating directories as needed.
func WriteConfig(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: config cannot be nil", ErrInvalidArgument)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// NewLoggerFromConfig builds the Logger selected by cfg.
func NewLoggerFromConfig(cfg LogConfig) (Logger, error) {
	switch strings.ToLower(cfg.Backend) {
	case "zap":
		zcfg := zap.NewProductionConfig()
		if strings.ToLower(cfg.Format) != "json" {
			zcfg = zap.NewDevelopmentConfig()
		}
		level, err := zap.ParseAtomicLevel(strings.ToLower(orDefault(cfg.Level, "info")))
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		zcfg.Level = level
		zl, err := zcfg.Build()
		if err != nil {
			return nil, fmt.Errorf("failed to build zap logger: %w", err)
		}
		return NewZapLogger(zl.Named("datamanager")), nil
	case "", "logrus":
		utils.ConfigureConsoleLogFormat(cfg.Format)
		l := NewDefaultLogger(defaultLoggerName)
		utils.SetLoggerLevel(defaultLoggerName, orDefault(cfg.Level, "info"))
		return l, nil
	default:
		return nil, fmt.Errorf("%w: unsupported log backend %q", ErrInvalidArgument, cfg.Backend)
	}
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
