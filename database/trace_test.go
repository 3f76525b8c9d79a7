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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecordingTracer(t *testing.T) (*tracetest.SpanRecorder, SessionOption) {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return rec, WithTracer(tp.Tracer("datamanager-test"))
}

func spanAttr(span sdktrace.ReadOnlySpan, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestSaveChangesSpan(t *testing.T) {
	ctx := context.Background()
	rec, opt := newRecordingTracer(t)
	db := newTestDB(t, (*Product)(nil))
	s := newTestSession(t, db, opt)

	n, err := s.SaveChanges(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, rec.Ended(), "no span without pending changes")

	require.NoError(t, s.Add(ctx, &Product{Name: "a"}))
	require.NoError(t, s.Add(ctx, &Product{Name: "b"}))
	_, err = s.SaveChanges(ctx)
	require.NoError(t, err)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	span := spans[0]
	assert.Equal(t, "Session.SaveChanges", span.Name())
	assert.Equal(t, codes.Unset, span.Status().Code)

	id, ok := spanAttr(span, "session.id")
	require.True(t, ok)
	assert.Equal(t, s.ID(), id.AsString())
	pending, _ := spanAttr(span, "session.pending")
	assert.Equal(t, int64(2), pending.AsInt64())
	affected, _ := spanAttr(span, "session.affected")
	assert.Equal(t, int64(2), affected.AsInt64())
}

func TestSaveChangesSpanRecordsError(t *testing.T) {
	ctx := context.Background()
	rec, opt := newRecordingTracer(t)
	db := newTestDB(t, (*Product)(nil))
	s := newTestSession(t, db, opt)

	require.NoError(t, s.Add(ctx, &Product{Name: "dup"}))
	require.NoError(t, s.Add(ctx, &Product{Name: "dup"}))
	_, err := s.SaveChanges(ctx)
	require.Error(t, err)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	require.NotEmpty(t, spans[0].Events())
	assert.Equal(t, "exception", spans[0].Events()[0].Name)
}
