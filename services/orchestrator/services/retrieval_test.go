// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thenextblock/ask-discord-ui/services/orchestrator/datatypes"
)

// newSearchServer returns a fake search service that records the decoded
// request and answers with status and body.
func newSearchServer(t *testing.T, status int, body string) (*httptest.Server, *datatypes.RetrievalRequest, *atomic.Int32) {
	t.Helper()
	var got datatypes.RetrievalRequest
	calls := &atomic.Int32{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/search/", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server, &got, calls
}

func TestSearchClient_Retrieve_Success(t *testing.T) {
	body := `{"data":{"vector":[{"pageContent":"Lido is a liquid staking protocol.","metadata":{"channel":"Lido"}},{"pageContent":"stETH rebases daily."}],"report":{"took":12}}}`
	server, got, calls := newSearchServer(t, http.StatusOK, body)

	client := NewSearchClient(server.URL+"/", nil)
	req := datatypes.NewRetrievalRequest("What is Lido?", []string{"Lido"}, 5, "gpt-4")

	result, err := client.Retrieve(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, "What is Lido?", got.Question)
	assert.Equal(t, datatypes.DefaultCollection, got.Collection)
	assert.Equal(t, []string{"Lido"}, got.Filters)
	assert.Equal(t, 5, got.MaxDocs)
	assert.Equal(t, "gpt-4", got.Model)
	assert.NotNil(t, got.Messages)
	assert.Empty(t, got.Messages)

	require.Len(t, result.Documents, 2)
	assert.Equal(t, "Lido is a liquid staking protocol.", result.Documents[0].PageContent)
	assert.Equal(t, "stETH rebases daily.", result.Documents[1].PageContent)
	assert.NotNil(t, result.Report)
}

func TestSearchClient_Retrieve_ZeroDocuments(t *testing.T) {
	server, _, _ := newSearchServer(t, http.StatusOK, `{"data":{"vector":[]}}`)

	result, err := NewSearchClient(server.URL, nil).Retrieve(context.Background(),
		datatypes.NewRetrievalRequest("anything?", nil, 3, "gpt-4"))
	require.NoError(t, err)
	assert.Empty(t, result.Documents)
	assert.Equal(t, "", ContextText(result.Documents))
}

func TestSearchClient_Retrieve_FailureStatus(t *testing.T) {
	server, _, calls := newSearchServer(t, http.StatusServiceUnavailable, "index warming up")

	_, err := NewSearchClient(server.URL, nil).Retrieve(context.Background(),
		datatypes.NewRetrievalRequest("q", nil, 3, "gpt-4"))

	var re *RetrievalError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, http.StatusServiceUnavailable, re.StatusCode)
	assert.Equal(t, "Service Unavailable", re.Status)
	assert.Equal(t, "index warming up", re.Message)
	assert.True(t, IsRetrievalError(err))
	assert.Equal(t, int32(1), calls.Load(), "retrieval must not retry")
}

func TestSearchClient_Retrieve_MalformedBody(t *testing.T) {
	server, _, _ := newSearchServer(t, http.StatusOK, `{"data":`)

	_, err := NewSearchClient(server.URL, nil).Retrieve(context.Background(),
		datatypes.NewRetrievalRequest("q", nil, 3, "gpt-4"))
	var re *RetrievalError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, http.StatusOK, re.StatusCode)
	var syntaxErr *json.SyntaxError
	assert.True(t, errors.As(err, &syntaxErr))
}

func TestSearchClient_Retrieve_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := NewSearchClient(url, nil).Retrieve(context.Background(),
		datatypes.NewRetrievalRequest("q", nil, 3, "gpt-4"))

	var re *RetrievalError
	require.True(t, errors.As(err, &re))
	assert.Zero(t, re.StatusCode)
	require.Error(t, re.Err)
	assert.Contains(t, err.Error(), "retrieval request failed")
}

func TestSearchClient_Retrieve_Preconditions(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()
	client := NewSearchClient(server.URL, nil)

	tests := []struct {
		name string
		req  *datatypes.RetrievalRequest
	}{
		{"nil request", nil},
		{"empty question", datatypes.NewRetrievalRequest("  ", nil, 3, "gpt-4")},
		{"zero maxdocs", datatypes.NewRetrievalRequest("q", nil, 0, "gpt-4")},
		{"negative maxdocs", datatypes.NewRetrievalRequest("q", nil, -2, "gpt-4")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.Retrieve(context.Background(), tt.req)
			var ve *ValidationError
			assert.True(t, errors.As(err, &ve))
		})
	}
	assert.Equal(t, int32(0), calls.Load())
}

func TestSearchClient_Retrieve_Canceled(t *testing.T) {
	server, _, _ := newSearchServer(t, http.StatusOK, `{"data":{"vector":[]}}`)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewSearchClient(server.URL, nil).Retrieve(ctx, datatypes.NewRetrievalRequest("q", nil, 3, "gpt-4"))
	assert.ErrorIs(t, err, context.Canceled)
}
