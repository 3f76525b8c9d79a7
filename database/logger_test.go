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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapLoggerLevelsAndFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewZapLogger(zap.New(core))

	l.Debug("debug", "session", "abc")
	l.SetLevel(LogLevelWarn)
	l.Info("dropped")
	l.Warn("warned", "error", errors.New("boom"), "rows", 3)

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "debug", entries[0].Message)
	assert.Equal(t, "abc", entries[0].ContextMap()["session"])
	assert.Equal(t, "warned", entries[1].Message)
	assert.Equal(t, "boom", entries[1].ContextMap()["error"])
	assert.EqualValues(t, 3, entries[1].ContextMap()["rows"])
}

func TestNilZapLoggerIsSafe(t *testing.T) {
	assert.NotPanics(t, func() { NewZapLogger(nil).Error("nothing") })
}

func TestLogrusFieldsIgnoreDanglingKey(t *testing.T) {
	fields := toLogrusFields([]interface{}{"a", 1, "b"})
	assert.Len(t, fields, 1)
	assert.Equal(t, 1, fields["a"])
}

func TestGetLoggerDefaultsToLogrus(t *testing.T) {
	assert.NotNil(t, GetLogger())
	assert.Same(t, GetLogger(), GetLogger())
	assert.Equal(t, "WARN", LogLevelWarn.String())
}
