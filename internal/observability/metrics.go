// Copyright (C) 2026 Tau Assistant Project (maintainers@tau-assistant.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides the daemon's Prometheus metrics and
// OpenTelemetry tracer wiring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "tau_daemon"

// Metrics holds every Prometheus collector the daemon records against.
// Build one with NewMetrics at startup; it is safe for concurrent use
// via prometheus's own internal locking.
type Metrics struct {
	// RPCRequestsTotal counts handled requests by method and outcome
	// ("ok", "recoverable_error", "protocol_error").
	RPCRequestsTotal *prometheus.CounterVec

	// RPCDurationSeconds measures handler latency by method.
	RPCDurationSeconds *prometheus.HistogramVec

	// ConnectedClients tracks the number of live websocket connections.
	ConnectedClients prometheus.Gauge

	// ActiveSubagents tracks subagents currently running.
	ActiveSubagents prometheus.Gauge

	// TaskOperationsTotal counts task-store mutations by operation
	// ("spawn", "complete", "respawn").
	TaskOperationsTotal *prometheus.CounterVec

	// ExtensionToolCallsTotal counts tool_call round-trips by extension
	// and outcome ("ok", "timeout", "error").
	ExtensionToolCallsTotal *prometheus.CounterVec

	// LockContentionTotal counts lock acquisitions that had to wait.
	LockContentionTotal *prometheus.CounterVec

	// HeartbeatTicksTotal counts liveness broadcasts sent.
	HeartbeatTicksTotal prometheus.Counter
}

// NewMetrics registers every collector against reg. Pass
// prometheus.NewRegistry() for an isolated registry (tests) or
// prometheus.DefaultRegisterer for the process-wide default.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RPCRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "rpc_requests_total",
				Help:      "Total RPC requests handled, by method and outcome",
			},
			[]string{"method", "outcome"},
		),
		RPCDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "rpc_duration_seconds",
				Help:      "RPC handler latency in seconds, by method",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		ConnectedClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "connected_clients",
			Help:      "Number of currently connected RPC clients",
		}),
		ActiveSubagents: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "active_subagents",
			Help:      "Number of currently running subagents",
		}),
		TaskOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "task_operations_total",
				Help:      "Total task-store mutations, by operation",
			},
			[]string{"operation"},
		),
		ExtensionToolCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "extension_tool_calls_total",
				Help:      "Total extension tool calls, by extension and outcome",
			},
			[]string{"extension", "outcome"},
		),
		LockContentionTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "lock_contention_total",
				Help:      "Total lock acquisitions that had to wait, by path",
			},
			[]string{"path"},
		),
		HeartbeatTicksTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "heartbeat_ticks_total",
			Help:      "Total daemon.heartbeat broadcasts sent",
		}),
	}
}

// RecordRPC records one handled RPC call.
func (m *Metrics) RecordRPC(method, outcome string, seconds float64) {
	m.RPCRequestsTotal.WithLabelValues(method, outcome).Inc()
	m.RPCDurationSeconds.WithLabelValues(method).Observe(seconds)
}

// Handler serves the registry's collected metrics in the Prometheus
// exposition format, for mounting at GET /metrics.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
