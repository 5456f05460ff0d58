// Copyright (C) 2025 ATensAI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides metrics and instrumentation for the fusion
// engine.
//
// # Description
//
// This package implements Prometheus metrics for monitoring diagnostic
// query processing. Metrics include:
//   - Query counters (by intent, status)
//   - Query latency histograms
//   - Active session gauge
//   - Evidence retrieval counters (by source)
//   - Cluster rebuild counters (by outcome)
//   - Fallback response counters (by backend)
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint. Use with Prometheus +
// Grafana for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics
const metricsNamespace = "atensai"

// Subsystem for fusion engine metrics
const fusionSubsystem = "fusion"

// FusionMetrics holds all Prometheus metrics for the diagnostic engine.
// Initialize once at startup via InitMetrics().
type FusionMetrics struct {
	// QueriesTotal counts diagnostic queries by intent and status.
	// Labels: intent (diagnostic, synthesis, unclassified), status (success, error)
	QueriesTotal *prometheus.CounterVec

	// QueryDurationSeconds measures end-to-end query turn latency.
	// Labels: intent
	QueryDurationSeconds *prometheus.HistogramVec

	// ActiveSessions tracks live diagnostic sessions.
	ActiveSessions prometheus.Gauge

	// EvidenceRetrievedTotal counts evidence items returned per source.
	// Labels: source (case, document, cluster_pattern)
	EvidenceRetrievedTotal *prometheus.CounterVec

	// RetrievalTimeoutsTotal counts retrieval legs that hit their deadline.
	// Labels: source
	RetrievalTimeoutsTotal *prometheus.CounterVec

	// ClusterRebuildsTotal counts rebuild attempts by outcome.
	// Labels: status (success, failure, throttled)
	ClusterRebuildsTotal *prometheus.CounterVec

	// FallbackResponsesTotal counts answers served by a non-preferred
	// backend. Labels: backend
	FallbackResponsesTotal *prometheus.CounterVec
}

// DefaultMetrics is the singleton instance of FusionMetrics.
// Initialized by InitMetrics().
var DefaultMetrics *FusionMetrics

// InitMetrics creates and registers all Prometheus metrics. Call once at
// application startup; a second call panics on duplicate registration.
func InitMetrics() *FusionMetrics {
	DefaultMetrics = &FusionMetrics{
		QueriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: fusionSubsystem,
				Name:      "queries_total",
				Help:      "Total diagnostic queries by intent and status",
			},
			[]string{"intent", "status"},
		),

		QueryDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: fusionSubsystem,
				Name:      "query_duration_seconds",
				Help:      "End-to-end query turn duration in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"intent"},
		),

		ActiveSessions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: fusionSubsystem,
				Name:      "active_sessions",
				Help:      "Number of live diagnostic sessions",
			},
		),

		EvidenceRetrievedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: fusionSubsystem,
				Name:      "evidence_retrieved_total",
				Help:      "Total evidence items returned by source",
			},
			[]string{"source"},
		),

		RetrievalTimeoutsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: fusionSubsystem,
				Name:      "retrieval_timeouts_total",
				Help:      "Total retrieval legs that exceeded their deadline",
			},
			[]string{"source"},
		),

		ClusterRebuildsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: fusionSubsystem,
				Name:      "cluster_rebuilds_total",
				Help:      "Total cluster index rebuild attempts by outcome",
			},
			[]string{"status"},
		),

		FallbackResponsesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: fusionSubsystem,
				Name:      "fallback_responses_total",
				Help:      "Total responses served by a non-preferred backend",
			},
			[]string{"backend"},
		),
	}

	return DefaultMetrics
}

// RecordQuery records a completed query turn. All helper methods accept a
// nil receiver so unmetered deployments and tests can skip InitMetrics.
func (m *FusionMetrics) RecordQuery(intent string, success bool, seconds float64) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	m.QueriesTotal.WithLabelValues(intent, status).Inc()
	m.QueryDurationSeconds.WithLabelValues(intent).Observe(seconds)
}

// RecordEvidence records the evidence items returned for one turn.
func (m *FusionMetrics) RecordEvidence(source string, count int) {
	if m == nil {
		return
	}
	if count > 0 {
		m.EvidenceRetrievedTotal.WithLabelValues(source).Add(float64(count))
	}
}

// RecordRetrievalTimeout records one retrieval leg that hit its deadline.
func (m *FusionMetrics) RecordRetrievalTimeout(source string) {
	if m == nil {
		return
	}
	m.RetrievalTimeoutsTotal.WithLabelValues(source).Inc()
}

// RecordRebuild records one cluster rebuild attempt.
func (m *FusionMetrics) RecordRebuild(status string) {
	if m == nil {
		return
	}
	m.ClusterRebuildsTotal.WithLabelValues(status).Inc()
}

// RecordFallback records a response served by a fallback backend.
func (m *FusionMetrics) RecordFallback(backend string) {
	if m == nil {
		return
	}
	m.FallbackResponsesTotal.WithLabelValues(backend).Inc()
}

// SetActiveSessions updates the live session gauge.
func (m *FusionMetrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}
