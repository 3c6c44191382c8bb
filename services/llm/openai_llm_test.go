// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/awnumar/memguard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thenextblock/ask-discord-ui/services/orchestrator/datatypes"
)

// =============================================================================
// Test Helpers
// =============================================================================

type capturedRequest struct {
	Path    string
	Query   string
	Header  http.Header
	Payload map[string]any
}

func newCompletionServer(t *testing.T, status int, body string) (*httptest.Server, *capturedRequest) {
	t.Helper()
	captured := &capturedRequest{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.Path = r.URL.Path
		captured.Query = r.URL.RawQuery
		captured.Header = r.Header.Clone()
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &captured.Payload)

		if status == http.StatusOK {
			w.Header().Set("Content-Type", "text/event-stream")
		} else {
			w.Header().Set("Content-Type", "application/json")
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server, captured
}

func testMessages() []datatypes.Message {
	return []datatypes.Message{
		{Role: datatypes.RoleSystem, Content: "be brief"},
		{Role: datatypes.RoleUser, Content: "hi"},
	}
}

// =============================================================================
// Construction Tests
// =============================================================================

func TestNewOpenAIClient_Defaults(t *testing.T) {
	c, err := NewOpenAIClient(OpenAIConfig{})
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenAI, c.cfg.Provider)
	assert.Equal(t, DefaultHost, c.cfg.Host)
	assert.Equal(t, DefaultMaxTokens, c.cfg.MaxTokens)
}

func TestNewOpenAIClient_AzureDefaults(t *testing.T) {
	c, err := NewOpenAIClient(OpenAIConfig{Provider: ProviderAzure, Host: "https://res.openai.azure.com/"})
	require.NoError(t, err)
	assert.Equal(t, "https://res.openai.azure.com", c.cfg.Host)
	assert.Equal(t, DefaultAzureAPIVersion, c.cfg.APIVersion)
}

func TestNewOpenAIClient_Rejects(t *testing.T) {
	_, err := NewOpenAIClient(OpenAIConfig{Provider: "bedrock"})
	assert.Error(t, err)

	_, err = NewOpenAIClient(OpenAIConfig{Provider: ProviderAzure})
	assert.Error(t, err)

	_, err = NewOpenAIClient(OpenAIConfig{Host: "not a url"})
	assert.Error(t, err)
}

// =============================================================================
// ChatStream Tests
// =============================================================================

func TestChatStream_OpenAIRequestShape(t *testing.T) {
	server, captured := newCompletionServer(t, http.StatusOK, deltaEvent("Hello")+finishEvent())
	c, err := NewOpenAIClient(OpenAIConfig{Host: server.URL, Organization: "org-1"})
	require.NoError(t, err)

	s, err := c.ChatStream(context.Background(), CompletionRequest{
		Model:       "gpt-4",
		Messages:    testMessages(),
		Temperature: 0,
		APIKey:      "sk-user",
	})
	require.NoError(t, err)

	chunks, err := collect(s)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, []string{"Hello"}, chunks)

	assert.Equal(t, "/v1/chat/completions", captured.Path)
	assert.Equal(t, "Bearer sk-user", captured.Header.Get("Authorization"))
	assert.Equal(t, "org-1", captured.Header.Get("OpenAI-Organization"))
	assert.Equal(t, "gpt-4", captured.Payload["model"])
	assert.Equal(t, true, captured.Payload["stream"])
	assert.Equal(t, float64(DefaultMaxTokens), captured.Payload["max_tokens"])
	assert.Equal(t, float64(0), captured.Payload["temperature"], "zero temperature must be sent")

	msgs, ok := captured.Payload["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "hi", msgs[1].(map[string]any)["content"])
}

func TestChatStream_AzureRequestShape(t *testing.T) {
	server, captured := newCompletionServer(t, http.StatusOK, finishEvent())
	c, err := NewOpenAIClient(OpenAIConfig{
		Provider:     ProviderAzure,
		Host:         server.URL,
		Deployment:   "chat-deploy",
		Organization: "ignored",
	})
	require.NoError(t, err)

	s, err := c.ChatStream(context.Background(), CompletionRequest{Model: "gpt-4", Messages: testMessages(), APIKey: "az-key"})
	require.NoError(t, err)
	_, err = collect(s)
	assert.ErrorIs(t, err, io.EOF)

	assert.Equal(t, "/openai/deployments/chat-deploy/chat/completions", captured.Path)
	assert.Equal(t, "api-version="+DefaultAzureAPIVersion, captured.Query)
	assert.Equal(t, "az-key", captured.Header.Get("api-key"))
	assert.Empty(t, captured.Header.Get("Authorization"))
	assert.Empty(t, captured.Header.Get("OpenAI-Organization"))
	_, hasModel := captured.Payload["model"]
	assert.False(t, hasModel, "azure requests carry no model field")
}

func TestChatStream_DefaultKeyFromEnclave(t *testing.T) {
	server, captured := newCompletionServer(t, http.StatusOK, finishEvent())
	c, err := NewOpenAIClient(OpenAIConfig{
		Host:       server.URL,
		DefaultKey: memguard.NewEnclave([]byte("sk-server")),
	})
	require.NoError(t, err)

	s, err := c.ChatStream(context.Background(), CompletionRequest{Model: "gpt-4", Messages: testMessages()})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	assert.Equal(t, "Bearer sk-server", captured.Header.Get("Authorization"))
}

func TestChatStream_NoKey(t *testing.T) {
	c, err := NewOpenAIClient(OpenAIConfig{})
	require.NoError(t, err)

	_, err = c.ChatStream(context.Background(), CompletionRequest{Model: "gpt-4", Messages: testMessages()})
	assert.ErrorIs(t, err, ErrNoAPIKey)
}

func TestChatStream_StructuredError(t *testing.T) {
	body := `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","param":null,"code":"invalid_api_key"}}`
	server, _ := newCompletionServer(t, http.StatusUnauthorized, body)
	c, err := NewOpenAIClient(OpenAIConfig{Host: server.URL})
	require.NoError(t, err)

	_, err = c.ChatStream(context.Background(), CompletionRequest{Model: "gpt-4", Messages: testMessages(), APIKey: "bad"})

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "Incorrect API key provided", apiErr.Message)
	assert.Equal(t, "invalid_request_error", apiErr.Type)
	assert.Equal(t, "invalid_api_key", apiErr.Code)
	assert.Empty(t, apiErr.Param)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}

func TestChatStream_UnstructuredError(t *testing.T) {
	server, _ := newCompletionServer(t, http.StatusBadGateway, "<html>upstream down</html>")
	c, err := NewOpenAIClient(OpenAIConfig{Host: server.URL})
	require.NoError(t, err)

	_, err = c.ChatStream(context.Background(), CompletionRequest{Model: "gpt-4", Messages: testMessages(), APIKey: "k"})

	var transportErr *TransportError
	require.True(t, errors.As(err, &transportErr))
	assert.Equal(t, http.StatusBadGateway, transportErr.StatusCode)
	assert.Contains(t, transportErr.Body, "upstream down")
	assert.False(t, IsAPIError(err))
}

func TestChatStream_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	c, err := NewOpenAIClient(OpenAIConfig{Host: url})
	require.NoError(t, err)

	_, err = c.ChatStream(context.Background(), CompletionRequest{Model: "gpt-4", Messages: testMessages(), APIKey: "k"})
	var transportErr *TransportError
	assert.True(t, errors.As(err, &transportErr))
}

// =============================================================================
// ListModels Tests
// =============================================================================

func TestListModels(t *testing.T) {
	var gotAuth, gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[{"id":"gpt-4","object":"model"},{"id":"whisper-1","object":"model"}]}`))
	}))
	defer server.Close()

	c, err := NewOpenAIClient(OpenAIConfig{Host: server.URL})
	require.NoError(t, err)

	ids, err := c.ListModels(context.Background(), "sk-list")
	require.NoError(t, err)
	assert.Equal(t, []string{"gpt-4", "whisper-1"}, ids)
	assert.Equal(t, "Bearer sk-list", gotAuth)
	assert.Equal(t, "/v1/models", gotPath)
}

func TestListModels_APIError(t *testing.T) {
	server, _ := newCompletionServer(t, http.StatusUnauthorized,
		`{"error":{"message":"bad key","type":"invalid_request_error","code":"invalid_api_key"}}`)
	c, err := NewOpenAIClient(OpenAIConfig{Host: server.URL})
	require.NoError(t, err)

	_, err = c.ListModels(context.Background(), "bad")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "bad key", apiErr.Message)
}
