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
	"fmt"
	"sort"
	"time"

	"github.com/tomoncle/datamanager/utils"
	"github.com/uptrace/bun"
)

var supportedDatabaseTypes = map[string]bool{
	"mysql":      true,
	"postgres":   true,
	"postgresql": true,
	"sqlite":     true,
	"sqlite3":    true,
}

// BaseDatabaseFactory builds a database manager from configuration and
// hands out sessions on it.
type BaseDatabaseFactory struct {
	manager AbstractDatabaseManager
	logger  Logger
	options []ManagerOption
}

// NewDatabaseFactory returns a factory using the global logger. opts are
// passed to every manager it creates.
func NewDatabaseFactory(opts ...ManagerOption) *BaseDatabaseFactory {
	return &BaseDatabaseFactory{
		logger:  GetLogger(),
		options: opts,
	}
}

// CreateFromConfig validates cfg, applies DB_* environment overrides and
// creates the manager. It does not connect.
func (f *BaseDatabaseFactory) CreateFromConfig(cfg *ConnectionConfig) (AbstractDatabaseManager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: database configuration cannot be empty", ErrInvalidArgument)
	}
	if !supportedDatabaseTypes[cfg.Type] {
		names := make([]string, 0, len(supportedDatabaseTypes))
		for t := range supportedDatabaseTypes {
			names = append(names, t)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("unsupported database type: %s, supported types: %v", cfg.Type, names)
	}

	f.overrideFromEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := append([]ManagerOption{WithManagerLogger(f.logger)}, f.options...)
	f.manager = NewDatabaseManager(cfg, opts...)
	return f.manager, nil
}

// CreateFromFile loads path with LoadConfig and creates the manager.
func (f *BaseDatabaseFactory) CreateFromFile(path string) (AbstractDatabaseManager, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return f.CreateFromConfig(&cfg.ConnectionConfig)
}

// overrideFromEnv lets deployment secrets and pool sizes come from DB_*
// variables. Durations are given in seconds.
func (f *BaseDatabaseFactory) overrideFromEnv(cfg *ConnectionConfig) {
	cfg.Host = utils.EnvDefaultString("DB_HOST", cfg.Host)
	cfg.Port = utils.EnvDefaultInt("DB_PORT", cfg.Port)
	cfg.Username = utils.EnvDefaultString("DB_USERNAME", cfg.Username)
	cfg.Password = utils.EnvDefaultString("DB_PASSWORD", cfg.Password)
	cfg.DBName = utils.EnvDefaultString("DB_NAME", cfg.DBName)
	cfg.SSLMode = utils.EnvDefaultString("DB_SSLMODE", cfg.SSLMode)

	cfg.MaxIdleConns = utils.EnvDefaultInt("DB_MAX_IDLE_CONNS", cfg.MaxIdleConns)
	cfg.MaxOpenConns = utils.EnvDefaultInt("DB_MAX_OPEN_CONNS", cfg.MaxOpenConns)
	cfg.ConnMaxLifetime = utils.EnvDefaultSeconds("DB_CONN_MAX_LIFETIME", cfg.ConnMaxLifetime)

	cfg.EnableReconnect = utils.EnvDefaultBool("DB_ENABLE_RECONNECT", cfg.EnableReconnect)
	cfg.ReconnectInterval = utils.EnvDefaultSeconds("DB_RECONNECT_INTERVAL", cfg.ReconnectInterval)

	cfg.EnableQueryLog = utils.EnvDefaultBool("DB_ENABLE_QUERY_LOG", cfg.EnableQueryLog)
	cfg.SlowQueryTime = utils.EnvDefaultSeconds("DB_SLOW_QUERY_TIME", cfg.SlowQueryTime)
}

// InitializeDatabase connects and, when createTables is set, creates the
// tables of every registered model that does not exist yet.
func (f *BaseDatabaseFactory) InitializeDatabase(ctx context.Context, createTables bool) error {
	if f.manager == nil {
		return fmt.Errorf("database manager not created: %w", ErrNotConnected)
	}
	if err := f.manager.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if createTables {
		if err := CreateRegisteredTables(ctx, f.manager.GetDB()); err != nil {
			return err
		}
	}
	f.logger.Info("Database initialization completed")
	return nil
}

func (f *BaseDatabaseFactory) GetManager() AbstractDatabaseManager {
	return f.manager
}

// GetDB returns the Bun database instance, or nil if not initialized.
func (f *BaseDatabaseFactory) GetDB() *bun.DB {
	if f.manager == nil {
		return nil
	}
	return f.manager.GetDB()
}

// NewSession opens a session on the managed connection.
func (f *BaseDatabaseFactory) NewSession(opts ...SessionOption) (*Session, error) {
	if f.manager == nil {
		return nil, ErrNotConnected
	}
	return f.manager.NewSession(opts...)
}

func (f *BaseDatabaseFactory) SetLogger(logger Logger) {
	f.logger = logger
	if f.manager != nil {
		f.manager.SetLogger(logger)
	}
}

func (f *BaseDatabaseFactory) Close() error {
	if f.manager == nil {
		return nil
	}
	return f.manager.Disconnect()
}

func (f *BaseDatabaseFactory) GetHealthStatus(ctx context.Context) *HealthStatus {
	if f.manager == nil {
		return &HealthStatus{
			LastError:     "Database manager not initialized",
			LastCheckTime: time.Now(),
		}
	}
	return f.manager.HealthCheck(ctx)
}

func (f *BaseDatabaseFactory) GetStats() *DBStats {
	if f.manager == nil {
		return &DBStats{}
	}
	return f.manager.GetStats()
}
