// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestMetrics registers the metrics on a private registry so tests do
// not collide on the global one.
func newTestMetrics(t *testing.T) (*RelayMetrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewMetrics(reg), reg
}

func TestNewMetrics_RegistersCollectors(t *testing.T) {
	m, reg := newTestMetrics(t)
	m.RecordRequest(EndpointRAGStream, true)
	m.StreamStarted(EndpointRAGStream)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["askdiscord_relay_requests_total"])
	assert.True(t, names["askdiscord_relay_active_streams"])
}

func TestNewMetrics_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)
	assert.Panics(t, func() { NewMetrics(reg) })
}

func TestNewMetrics_NilRegisterer(t *testing.T) {
	assert.NotPanics(t, func() {
		NewMetrics(nil).RecordRequest(EndpointDirectStream, false)
	})
}

func TestRecordRequest(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordRequest(EndpointRAGStream, true)
	m.RecordRequest(EndpointRAGStream, true)
	m.RecordRequest(EndpointRAGStream, false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("rag_stream", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("rag_stream", "error")))
}

func TestRecordError(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordError(EndpointRAGStream, ErrorCodeRetrieval)
	m.RecordError(EndpointWebSocket, ErrorCodeUpstreamAPI)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("rag_stream", "retrieval")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("ws", "upstream_api")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.ErrorsTotal))
}

func TestStreamLifecycle(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.StreamStarted(EndpointRAGStream)
	m.StreamStarted(EndpointRAGStream)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ActiveStreams.WithLabelValues("rag_stream")))

	m.StreamEnded(EndpointRAGStream, 2*time.Second, true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveStreams.WithLabelValues("rag_stream")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.StreamDurationSeconds))
}

func TestRecordChunksAndDropped_IgnoreZero(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordChunks(EndpointDirectStream, 0)
	m.RecordDropped(EndpointDirectStream, 0)
	assert.Equal(t, 0, testutil.CollectAndCount(m.ChunksTotal))
	assert.Equal(t, 0, testutil.CollectAndCount(m.DroppedMessagesTotal))

	m.RecordChunks(EndpointDirectStream, 7)
	m.RecordDropped(EndpointDirectStream, 3)
	assert.Equal(t, 7.0, testutil.ToFloat64(m.ChunksTotal.WithLabelValues("direct_stream")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.DroppedMessagesTotal.WithLabelValues("direct_stream")))
}

func TestRecordRetrieval_StatusLabel(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordRetrieval(100*time.Millisecond, 4, nil)
	m.RecordRetrieval(time.Second, 0, errors.New("search down"))

	assert.Equal(t, 2, testutil.CollectAndCount(m.RetrievalDurationSeconds))
}

func TestRecordFirstChunkAndDisconnect(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordFirstChunk(EndpointWebSocket, 300*time.Millisecond)
	m.RecordClientDisconnect(EndpointWebSocket)

	assert.Equal(t, 1, testutil.CollectAndCount(m.TimeToFirstChunkSeconds))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ClientDisconnectsTotal.WithLabelValues("ws")))
}
