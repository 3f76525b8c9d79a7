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
	"context"
	"database/sql"
	"time"

	"github.com/uptrace/bun"
)

// AbstractDatabaseManager defines the operations for managing a database
// connection, opening sessions, and reporting health.
type AbstractDatabaseManager interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Reconnect(ctx context.Context) error
	Ping(ctx context.Context) error
	HealthCheck(ctx context.Context) *HealthStatus
	GetDB() *bun.DB
	GetSQLDB() *sql.DB
	GetStats() *DBStats
	SetLogger(logger Logger)
	NewSession(opts ...SessionOption) (*Session, error)
}

// HealthStatus holds the result of a health check against the database.
type HealthStatus struct {
	Healthy       bool          `json:"healthy"`
	Connected     bool          `json:"connected"`
	ResponseTime  time.Duration `json:"response_time"`
	ActiveConns   int           `json:"active_conns"`
	IdleConns     int           `json:"idle_conns"`
	MaxOpenConns  int           `json:"max_open_conns"`
	LastError     string        `json:"last_error,omitempty"`
	LastCheckTime time.Time     `json:"last_check_time"`
}

// DBStats mirrors database/sql stats returned by the manager.
type DBStats struct {
	MaxOpenConns      int           `json:"max_open_conns"`
	OpenConns         int           `json:"open_conns"`
	InUse             int           `json:"in_use"`
	Idle              int           `json:"idle"`
	WaitCount         int64         `json:"wait_count"`
	WaitDuration      time.Duration `json:"wait_duration"`
	MaxIdleClosed     int64         `json:"max_idle_closed"`
	MaxIdleTimeClosed int64         `json:"max_idle_time_closed"`
	MaxLifetimeClosed int64         `json:"max_lifetime_closed"`
}

// ConnectionConfig describes how to connect to a database and tune its pool.
type ConnectionConfig struct {
	Type                string        `mapstructure:"type" yaml:"type" json:"type" validate:"required,oneof=mysql postgres postgresql sqlite sqlite3"` // postgres, mysql, sqlite
	Host                string        `mapstructure:"host" yaml:"host" json:"host"`
	Port                int           `mapstructure:"port" yaml:"port" json:"port" validate:"min=0,max=65535"`
	Username            string        `mapstructure:"username" yaml:"username" json:"username"`
	Password            string        `mapstructure:"password" yaml:"password,omitempty" json:"-"`
	DBName              string        `mapstructure:"dbname" yaml:"dbname" json:"dbname"`
	SSLMode             string        `mapstructure:"sslmode" yaml:"sslmode,omitempty" json:"sslmode" validate:"omitempty,oneof=disable allow prefer require verify-ca verify-full"`
	MaxIdleConns        int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns" json:"max_idle_conns" validate:"min=0"`
	MaxOpenConns        int           `mapstructure:"max_open_conns" yaml:"max_open_conns" json:"max_open_conns" validate:"min=0"`
	ConnMaxLifetime     time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime" json:"conn_max_lifetime" validate:"min=0"`
	ConnMaxIdleTime     time.Duration `mapstructure:"conn_max_idle_time" yaml:"conn_max_idle_time" json:"conn_max_idle_time"`
	ConnectTimeout      time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout" json:"connect_timeout"`
	ReadTimeout         time.Duration `mapstructure:"read_timeout" yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout        time.Duration `mapstructure:"write_timeout" yaml:"write_timeout" json:"write_timeout"`
	EnableReconnect     bool          `mapstructure:"enable_reconnect" yaml:"enable_reconnect" json:"enable_reconnect"`
	ReconnectInterval   time.Duration `mapstructure:"reconnect_interval" yaml:"reconnect_interval" json:"reconnect_interval"`
	MaxReconnectTries   int           `mapstructure:"max_reconnect_tries" yaml:"max_reconnect_tries" json:"max_reconnect_tries" validate:"min=0"`
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval" yaml:"health_check_interval" json:"health_check_interval"`
	EnableQueryLog      bool          `mapstructure:"enable_query_log" yaml:"enable_query_log" json:"enable_query_log"`
	SlowQueryTime       time.Duration `mapstructure:"slow_query_time" yaml:"slow_query_time" json:"slow_query_time" validate:"min=0"`
}

// LogConfig selects the logger backend and verbosity.
type LogConfig struct {
	Level   string `mapstructure:"level" yaml:"level" json:"level"`
	Format  string `mapstructure:"format" yaml:"format" json:"format"`    // text, json
	Backend string `mapstructure:"backend" yaml:"backend" json:"backend"` // logrus, zap
}

// Config aggregates connection and logging settings.
type Config struct {
	ConnectionConfig ConnectionConfig `mapstructure:"connection" yaml:"connection" json:"connection"`
	LogConfig        LogConfig        `mapstructure:"log" yaml:"log" json:"log"`
}

// DefaultConnectionConfig returns a connection config with sensible defaults.
func DefaultConnectionConfig() *ConnectionConfig {
	return &ConnectionConfig{
		MaxIdleConns:        10,
		MaxOpenConns:        100,
		ConnMaxLifetime:     time.Hour,
		ConnMaxIdleTime:     time.Minute * 30,
		ConnectTimeout:      time.Second * 10,
		ReadTimeout:         time.Second * 30,
		WriteTimeout:        time.Second * 30,
		EnableReconnect:     true,
		ReconnectInterval:   time.Second * 5,
		MaxReconnectTries:   3,
		HealthCheckInterval: time.Minute * 5,
		EnableQueryLog:      false,
		SlowQueryTime:       time.Second * 2,
	}
}

// DefaultConfig returns a Config for a local SQLite file.
func DefaultConfig() *Config {
	conn := DefaultConnectionConfig()
	conn.Type = "sqlite"
	conn.DBName = "datamanager"
	return &Config{
		ConnectionConfig: *conn,
		LogConfig:        LogConfig{Level: "info", Format: "text", Backend: "logrus"},
	}
}
