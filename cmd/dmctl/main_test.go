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
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomoncle/datamanager/database"
)

func writeMemoryConfig(t *testing.T) string {
	t.Helper()
	cfg := database.DefaultConfig()
	cfg.ConnectionConfig.DBName = "file:dmctl_test?mode=memory&cache=shared"
	cfg.ConnectionConfig.HealthCheckInterval = 0
	path := filepath.Join(t.TempDir(), "datamanager.yaml")
	require.NoError(t, database.WriteConfig(path, cfg))
	return path
}

func TestConnect(t *testing.T) {
	ctx := context.Background()
	a := &app{ConfigPath: writeMemoryConfig(t), OutFormat: "text"}

	dm, err := a.connect(ctx)
	require.NoError(t, err)
	defer func() { _ = dm.Disconnect() }()

	assert.NoError(t, dm.Ping(ctx))
	assert.True(t, dm.HealthCheck(ctx).Healthy)
}

func TestConnectAppliesEnvOverrides(t *testing.T) {
	t.Setenv("DB_PORT", "70000")
	a := &app{ConfigPath: writeMemoryConfig(t), OutFormat: "text"}

	_, err := a.connect(context.Background())
	require.ErrorIs(t, err, database.ErrInvalidArgument)
	assert.ErrorContains(t, err, "port must be at most 65535")
}

func TestConnectRejectsInvalidConfig(t *testing.T) {
	cfg := database.DefaultConfig()
	cfg.ConnectionConfig.SSLMode = "sometimes"
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, database.WriteConfig(path, cfg))

	_, err := (&app{ConfigPath: path}).connect(context.Background())
	assert.ErrorIs(t, err, database.ErrInvalidArgument)
}
