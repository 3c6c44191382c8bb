// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the chat relay.
//
// # Description
//
// Metrics cover the life of a relayed chat stream:
//   - Request and error counters by endpoint
//   - Time to first chunk and total stream duration
//   - Chunks relayed and active streams
//   - Retrieval latency and history messages dropped by the context window
//
// Metrics are exposed on /metrics.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "askdiscord"

const relaySubsystem = "relay"

// Endpoint labels a relay entry point.
type Endpoint string

const (
	// EndpointRAGStream is POST /api/chat.
	EndpointRAGStream Endpoint = "rag_stream"

	// EndpointDirectStream is POST /api/chat/direct.
	EndpointDirectStream Endpoint = "direct_stream"

	// EndpointWebSocket is GET /api/chat/ws.
	EndpointWebSocket Endpoint = "ws"
)

// ErrorCode categorizes a failed request.
type ErrorCode string

const (
	ErrorCodeValidation   ErrorCode = "validation"
	ErrorCodePromptTooBig ErrorCode = "prompt_too_large"
	ErrorCodeRetrieval    ErrorCode = "retrieval"
	ErrorCodeUpstreamAPI  ErrorCode = "upstream_api"
	ErrorCodeTransport    ErrorCode = "transport"
	ErrorCodeStreamDecode ErrorCode = "stream_decode"
	ErrorCodeInternal     ErrorCode = "internal"
)

// RelayMetrics holds every metric the relay records.
type RelayMetrics struct {
	// Labels: endpoint, status (success, error)
	RequestsTotal *prometheus.CounterVec

	// Labels: endpoint, error_code
	ErrorsTotal *prometheus.CounterVec

	// Labels: endpoint
	ActiveStreams *prometheus.GaugeVec

	// Labels: endpoint
	TimeToFirstChunkSeconds *prometheus.HistogramVec

	// Labels: endpoint, status
	StreamDurationSeconds *prometheus.HistogramVec

	// Labels: endpoint
	ChunksTotal *prometheus.CounterVec

	// Labels: status
	RetrievalDurationSeconds *prometheus.HistogramVec

	// Labels: endpoint
	DroppedMessagesTotal *prometheus.CounterVec

	// Labels: endpoint
	ClientDisconnectsTotal *prometheus.CounterVec
}

// NewMetrics creates the relay metrics and registers them with reg.
//
// # Inputs
//
//   - reg: Registerer to use. nil registers nothing, which is useful for
//     callers that only need the collectors.
//
// # Limitations
//
//   - Panics on duplicate registration with the same registerer.
func NewMetrics(reg prometheus.Registerer) *RelayMetrics {
	factory := promauto.With(reg)
	return &RelayMetrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: relaySubsystem,
				Name:      "requests_total",
				Help:      "Total chat requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),
		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: relaySubsystem,
				Name:      "errors_total",
				Help:      "Total chat errors by endpoint and error code",
			},
			[]string{"endpoint", "error_code"},
		),
		ActiveStreams: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: relaySubsystem,
				Name:      "active_streams",
				Help:      "Number of completion streams currently being relayed",
			},
			[]string{"endpoint"},
		),
		TimeToFirstChunkSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: relaySubsystem,
				Name:      "time_to_first_chunk_seconds",
				Help:      "Time from request to first relayed chunk in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"endpoint"},
		),
		StreamDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: relaySubsystem,
				Name:      "stream_duration_seconds",
				Help:      "Total relay duration in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"endpoint", "status"},
		),
		ChunksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: relaySubsystem,
				Name:      "chunks_total",
				Help:      "Total text chunks written to clients",
			},
			[]string{"endpoint"},
		),
		RetrievalDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: relaySubsystem,
				Name:      "retrieval_duration_seconds",
				Help:      "Vector search latency in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"status"},
		),
		DroppedMessagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: relaySubsystem,
				Name:      "context_dropped_messages_total",
				Help:      "History messages left out of the context window",
			},
			[]string{"endpoint"},
		),
		ClientDisconnectsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: relaySubsystem,
				Name:      "client_disconnects_total",
				Help:      "Clients that went away mid-stream",
			},
			[]string{"endpoint"},
		),
	}
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordRequest records a finished request.
func (m *RelayMetrics) RecordRequest(endpoint Endpoint, success bool) {
	m.RequestsTotal.WithLabelValues(string(endpoint), statusLabel(success)).Inc()
}

// RecordError records a categorized failure.
func (m *RelayMetrics) RecordError(endpoint Endpoint, code ErrorCode) {
	m.ErrorsTotal.WithLabelValues(string(endpoint), string(code)).Inc()
}

// StreamStarted increments the active streams gauge.
func (m *RelayMetrics) StreamStarted(endpoint Endpoint) {
	m.ActiveStreams.WithLabelValues(string(endpoint)).Inc()
}

// StreamEnded decrements the active streams gauge and records how long the
// stream ran.
func (m *RelayMetrics) StreamEnded(endpoint Endpoint, elapsed time.Duration, success bool) {
	m.ActiveStreams.WithLabelValues(string(endpoint)).Dec()
	m.StreamDurationSeconds.WithLabelValues(string(endpoint), statusLabel(success)).Observe(elapsed.Seconds())
}

// RecordFirstChunk records the latency to the first relayed chunk.
func (m *RelayMetrics) RecordFirstChunk(endpoint Endpoint, elapsed time.Duration) {
	m.TimeToFirstChunkSeconds.WithLabelValues(string(endpoint)).Observe(elapsed.Seconds())
}

// RecordChunks adds n relayed chunks.
func (m *RelayMetrics) RecordChunks(endpoint Endpoint, n int) {
	if n > 0 {
		m.ChunksTotal.WithLabelValues(string(endpoint)).Add(float64(n))
	}
}

// RecordRetrieval records one vector search. It matches the relay's
// retrieval observer signature apart from the ignored document count.
func (m *RelayMetrics) RecordRetrieval(elapsed time.Duration, _ int, err error) {
	m.RetrievalDurationSeconds.WithLabelValues(statusLabel(err == nil)).Observe(elapsed.Seconds())
}

// RecordDropped adds history messages that did not fit the window.
func (m *RelayMetrics) RecordDropped(endpoint Endpoint, n int) {
	if n > 0 {
		m.DroppedMessagesTotal.WithLabelValues(string(endpoint)).Add(float64(n))
	}
}

// RecordClientDisconnect increments the client disconnect counter.
func (m *RelayMetrics) RecordClientDisconnect(endpoint Endpoint) {
	m.ClientDisconnectsTotal.WithLabelValues(string(endpoint)).Inc()
}
