// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thenextblock/ask-discord-ui/pkg/tokenizer"
	"github.com/thenextblock/ask-discord-ui/services/llm"
	"github.com/thenextblock/ask-discord-ui/services/orchestrator/contextwindow"
	"github.com/thenextblock/ask-discord-ui/services/orchestrator/datatypes"
	"github.com/thenextblock/ask-discord-ui/services/orchestrator/handlers"
	"github.com/thenextblock/ask-discord-ui/services/orchestrator/observability"
	"github.com/thenextblock/ask-discord-ui/services/orchestrator/services"
)

type noRelay struct{}

func (noRelay) Stream(context.Context, services.Turn) (*llm.Stream, error) {
	return nil, &llm.TransportError{StatusCode: http.StatusBadGateway}
}

func (noRelay) StreamDirect(context.Context, services.Turn) (*llm.Stream, error) {
	return nil, &llm.TransportError{StatusCode: http.StatusBadGateway}
}

type staticLister []string

func (s staticLister) ListModels(context.Context, string) ([]string, error) { return s, nil }

type oneToken struct{}

func (oneToken) Encode(string) []int { return []int{0} }
func (oneToken) Close() error        { return nil }

func setupTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	factory := tokenizer.FactoryFunc(func() (tokenizer.Tokenizer, error) { return oneToken{}, nil })
	chat := handlers.NewChatHandler(noRelay{}, contextwindow.New(0), factory,
		datatypes.ChatDefaults{Model: datatypes.ModelGPT4, MaxDocs: 10}, metrics)

	router := gin.New()
	SetupRoutes(router, chat, staticLister{"gpt-4"}, reg)
	return router
}

func TestSetupRoutes_Registered(t *testing.T) {
	router := setupTestRouter(t)

	want := map[string]bool{
		"GET /health":           false,
		"GET /metrics":          false,
		"POST /api/chat":        false,
		"POST /api/chat/direct": false,
		"GET /api/chat/ws":      false,
		"GET /api/models":       false,
	}
	for _, r := range router.Routes() {
		key := r.Method + " " + r.Path
		if _, ok := want[key]; ok {
			want[key] = true
		}
	}
	for route, found := range want {
		assert.True(t, found, "route %s not registered", route)
	}
}

func TestSetupRoutes_MetricsExposeRelayCounters(t *testing.T) {
	router := setupTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/chat",
		strings.NewReader(`{"messages":[{"role":"user","content":"hi"}]}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusInternalServerError, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `askdiscord_relay_errors_total{endpoint="rag_stream",error_code="transport"} 1`)
}

func TestSetupRoutes_Models(t *testing.T) {
	router := setupTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/models", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"id":"gpt-4"`)
}

func TestSetupRoutes_NoMetricsWithoutGatherer(t *testing.T) {
	gin.SetMode(gin.TestMode)
	chat := handlers.NewChatHandler(noRelay{}, nil, nil, datatypes.ChatDefaults{}, nil)
	router := gin.New()
	SetupRoutes(router, chat, staticLister{}, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
