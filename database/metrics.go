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
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/uptrace/bun"
)

// Metrics holds the Prometheus collectors for queries and commits.
type Metrics struct {
	queries       *prometheus.CounterVec
	queryDuration *prometheus.HistogramVec
	saves         *prometheus.CounterVec
	saveDuration  prometheus.Histogram
	rowsAffected  prometheus.Counter
}

// NewPrometheusMetrics creates the collectors and registers them on reg.
func NewPrometheusMetrics(reg prometheus.Registerer, serviceName string) *Metrics {
	labels := prometheus.Labels{"service": serviceName}
	m := &Metrics{
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "datamanager_queries_total",
			Help:        "Total SQL statements executed.",
			ConstLabels: labels,
		}, []string{"operation", "status"}),
		queryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "datamanager_query_duration_seconds",
			Help:        "SQL statement latency.",
			Buckets:     []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			ConstLabels: labels,
		}, []string{"operation"}),
		saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "datamanager_save_changes_total",
			Help:        "Total SaveChanges calls that reached the database.",
			ConstLabels: labels,
		}, []string{"status"}),
		saveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "datamanager_save_changes_duration_seconds",
			Help:        "SaveChanges transaction latency.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: labels,
		}),
		rowsAffected: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "datamanager_rows_affected_total",
			Help:        "Rows written by committed SaveChanges calls.",
			ConstLabels: labels,
		}),
	}
	reg.MustRegister(m.queries, m.queryDuration, m.saves, m.saveDuration, m.rowsAffected)
	return m
}

func (m *Metrics) observeSave(err error, affected int, d time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.saves.WithLabelValues(status).Inc()
	m.saveDuration.Observe(d.Seconds())
	if err == nil {
		m.rowsAffected.Add(float64(affected))
	}
}

// QueryHook returns a Bun hook feeding the query collectors.
func (m *Metrics) QueryHook() bun.QueryHook {
	return &metricsQueryHook{m: m}
}

type metricsQueryHook struct {
	m *Metrics
}

var _ bun.QueryHook = (*metricsQueryHook)(nil)

func (h *metricsQueryHook) BeforeQuery(ctx context.Context, event *bun.QueryEvent) context.Context {
	return ctx
}

func (h *metricsQueryHook) AfterQuery(ctx context.Context, event *bun.QueryEvent) {
	op := event.Operation()
	status := "success"
	if event.Err != nil && !errors.Is(event.Err, sql.ErrNoRows) {
		status = "failure"
	}
	h.m.queries.WithLabelValues(op, status).Inc()
	h.m.queryDuration.WithLabelValues(op).Observe(time.Since(event.StartTime).Seconds())
}
