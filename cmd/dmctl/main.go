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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/tomoncle/datamanager/database"
	"github.com/tomoncle/datamanager/utils"
)

type app struct {
	ConfigPath string
	OutFormat  string // "json" | "text"
	Timeout    time.Duration
}

func (a *app) print(v any, text string) {
	if a.OutFormat == "json" {
		b, _ := json.MarshalIndent(v, "", "  ")
		fmt.Println(string(b))
		return
	}
	fmt.Println(text)
}

// connect loads the configuration and returns a connected manager. The
// factory applies DB_* overrides and validates before connecting.
func (a *app) connect(ctx context.Context) (database.AbstractDatabaseManager, error) {
	cfg, err := database.LoadConfig(a.ConfigPath)
	if err != nil {
		return nil, err
	}
	logger, err := database.NewLoggerFromConfig(cfg.LogConfig)
	if err != nil {
		return nil, err
	}
	database.InitLogger(logger)

	dm, err := database.NewDatabaseFactory().CreateFromConfig(&cfg.ConnectionConfig)
	if err != nil {
		return nil, err
	}
	if err := dm.Connect(ctx); err != nil {
		return nil, err
	}
	return dm, nil
}

func main() {
	// a local .env supplies DATAMANAGER_* and DB_* defaults; real env wins
	_ = godotenv.Load(".env")

	a := &app{
		ConfigPath: utils.EnvDefaultString("DATAMANAGER_CONFIG", ""),
		OutFormat:  utils.EnvDefaultString("DATAMANAGER_OUT", "text"),
		Timeout:    utils.EnvDefaultSeconds("DATAMANAGER_TIMEOUT", 30*time.Second),
	}

	root := &cobra.Command{
		Use:           "dmctl",
		Short:         "Inspect and configure datamanager databases",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if a.OutFormat != "json" && a.OutFormat != "text" {
				return fmt.Errorf("--out must be json or text, got %q", a.OutFormat)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&a.ConfigPath, "config", "c", a.ConfigPath, "config file (env DATAMANAGER_CONFIG)")
	root.PersistentFlags().StringVar(&a.OutFormat, "out", a.OutFormat, "output format: json|text")
	root.PersistentFlags().DurationVar(&a.Timeout, "timeout", a.Timeout, "connect and query timeout")

	pingCmd := &cobra.Command{
		Use:   "ping",
		Short: "Connect to the configured database and ping it",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), a.Timeout)
			defer cancel()
			dm, err := a.connect(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = dm.Disconnect() }()

			start := time.Now()
			if err := dm.Ping(ctx); err != nil {
				return fmt.Errorf("ping failed: %w", err)
			}
			elapsed := time.Since(start)
			a.print(map[string]any{"ok": true, "elapsed": elapsed.String()}, "ok "+elapsed.String())
			return nil
		},
	}

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Run a health check and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), a.Timeout)
			defer cancel()
			dm, err := a.connect(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = dm.Disconnect() }()

			status := dm.HealthCheck(ctx)
			a.print(status, fmt.Sprintf("healthy=%t connected=%t response=%s open=%d idle=%d",
				status.Healthy, status.Connected, status.ResponseTime, status.ActiveConns, status.IdleConns))
			if !status.Healthy {
				return fmt.Errorf("database unhealthy: %s", status.LastError)
			}
			return nil
		},
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Print connection pool statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), a.Timeout)
			defer cancel()
			dm, err := a.connect(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = dm.Disconnect() }()

			stats := dm.GetStats()
			a.print(stats, fmt.Sprintf("max_open=%d open=%d in_use=%d idle=%d wait=%d",
				stats.MaxOpenConns, stats.OpenConns, stats.InUse, stats.Idle, stats.WaitCount))
			return nil
		},
	}

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
	}

	var force bool
	configInitCmd := &cobra.Command{
		Use:   "init <path>",
		Short: "Write the effective configuration (defaults plus environment) as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists, use --force to overwrite", path)
			}
			cfg, err := database.LoadConfig("")
			if err != nil {
				return err
			}
			if err := database.WriteConfig(path, cfg); err != nil {
				return err
			}
			a.print(map[string]any{"written": path}, "wrote "+path)
			return nil
		},
	}
	configInitCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	configShowCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := database.LoadConfig(a.ConfigPath)
			if err != nil {
				return err
			}
			c := cfg.ConnectionConfig
			a.print(cfg, fmt.Sprintf("type=%s host=%s port=%d dbname=%s log=%s/%s",
				c.Type, c.Host, c.Port, c.DBName, cfg.LogConfig.Backend, cfg.LogConfig.Level))
			return nil
		},
	}

	configCmd.AddCommand(configInitCmd, configShowCmd)
	root.AddCommand(pingCmd, healthCmd, statsCmd, configCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
