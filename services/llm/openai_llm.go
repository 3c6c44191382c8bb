// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/awnumar/memguard"
	"github.com/sashabaranov/go-openai"
	"github.com/thenextblock/ask-discord-ui/services/orchestrator/datatypes"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("askdiscord.llm.openai")

// Provider selects the wire dialect of the completion API.
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderAzure  Provider = "azure"
)

const (
	DefaultHost            = "https://api.openai.com"
	DefaultAzureAPIVersion = "2023-03-15-preview"
	DefaultMaxTokens       = 1000

	// maxErrorBodyBytes bounds how much of a failed response is read.
	maxErrorBodyBytes = 1 << 20
)

// ErrNoAPIKey means neither the request nor the server supplied a key.
var ErrNoAPIKey = errors.New("no API key configured")

// OpenAIConfig configures an OpenAIClient.
//
// # Fields
//
//   - Provider: "openai" (default) or "azure".
//   - Host: API origin, e.g. https://api.openai.com or the Azure resource URL.
//   - APIVersion: Azure api-version query parameter.
//   - Organization: Sent as OpenAI-Organization in openai mode when set.
//   - Deployment: Azure deployment name. Empty falls back to the model ID.
//   - DefaultKey: Server-side key, sealed in memory. May be nil.
//   - MaxTokens: Completion cap when the request does not set one.
//   - HTTPClient: Transport. Must not set a total timeout, since streams
//     are long lived; nil uses a client without one.
type OpenAIConfig struct {
	Provider     Provider
	Host         string
	APIVersion   string
	Organization string
	Deployment   string
	DefaultKey   *memguard.Enclave
	MaxTokens    int
	HTTPClient   *http.Client
}

// OpenAIClient streams chat completions from OpenAI or Azure OpenAI.
//
// # Description
//
// The request is sent with plain net/http so the response body can be
// decoded event by event by Stream; go-openai supplies the wire types and
// error envelope, and backs ListModels.
//
// # Thread Safety
//
// Safe for concurrent use.
type OpenAIClient struct {
	cfg        OpenAIConfig
	httpClient *http.Client
}

// completionBody is the JSON body of a streamed chat completion request.
type completionBody struct {
	Model       string                         `json:"model,omitempty"`
	Messages    []openai.ChatCompletionMessage `json:"messages"`
	MaxTokens   int                            `json:"max_tokens"`
	Temperature float32                        `json:"temperature"`
	Stream      bool                           `json:"stream"`
}

// NewOpenAIClient validates cfg and applies defaults.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	switch cfg.Provider {
	case "":
		cfg.Provider = ProviderOpenAI
	case ProviderOpenAI, ProviderAzure:
	default:
		return nil, fmt.Errorf("unknown completion provider %q", cfg.Provider)
	}
	if cfg.Host == "" {
		if cfg.Provider == ProviderAzure {
			return nil, fmt.Errorf("azure provider requires a host")
		}
		cfg.Host = DefaultHost
	}
	cfg.Host = strings.TrimSuffix(cfg.Host, "/")
	if _, err := url.ParseRequestURI(cfg.Host); err != nil {
		return nil, fmt.Errorf("invalid completion host %q: %w", cfg.Host, err)
	}
	if cfg.Provider == ProviderAzure && cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAzureAPIVersion
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	slog.Info("Initializing completion client",
		"provider", cfg.Provider,
		"host", cfg.Host,
		"default_key_present", cfg.DefaultKey != nil,
	)
	return &OpenAIClient{cfg: cfg, httpClient: httpClient}, nil
}

// ChatStream implements CompletionClient.
func (o *OpenAIClient) ChatStream(ctx context.Context, req CompletionRequest) (*Stream, error) {
	ctx, span := tracer.Start(ctx, "OpenAIClient.ChatStream", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.provider", string(o.cfg.Provider)),
		attribute.String("llm.model", req.Model),
		attribute.Int("llm.messages", len(req.Messages)),
	)

	key, err := o.resolveKey(req.APIKey)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "no api key")
		return nil, err
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = o.cfg.MaxTokens
	}
	body := completionBody{
		Messages:    toOpenAIMessages(req.Messages),
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		Stream:      true,
	}
	if o.cfg.Provider == ProviderOpenAI {
		body.Model = req.Model
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal completion request: %w", err)
	}

	endpoint := o.completionsURL(req.Model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create completion request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	o.setAuth(httpReq.Header, key)

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &TransportError{Err: err}
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		raw, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		if readErr != nil {
			slog.Warn("Failed to read completion error body", "error", readErr)
		}
		callErr := decodeErrorBody(resp.StatusCode, raw)
		span.RecordError(callErr)
		span.SetStatus(codes.Error, "non-200 response")
		slog.Warn("Completion API returned an error",
			"status_code", resp.StatusCode,
			"structured", IsAPIError(callErr),
		)
		return nil, callErr
	}

	return NewStream(ctx, resp.Body), nil
}

// ListModels implements ModelLister using the go-openai client.
func (o *OpenAIClient) ListModels(ctx context.Context, apiKey string) ([]string, error) {
	key, err := o.resolveKey(apiKey)
	if err != nil {
		return nil, err
	}

	var cfg openai.ClientConfig
	if o.cfg.Provider == ProviderAzure {
		cfg = openai.DefaultAzureConfig(key, o.cfg.Host)
		cfg.APIVersion = o.cfg.APIVersion
	} else {
		cfg = openai.DefaultConfig(key)
		cfg.BaseURL = o.cfg.Host + "/v1"
		cfg.OrgID = o.cfg.Organization
	}
	cfg.HTTPClient = o.httpClient

	list, err := openai.NewClientWithConfig(cfg).ListModels(ctx)
	if err != nil {
		return nil, convertClientError(err)
	}

	ids := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

// =============================================================================
// Helpers
// =============================================================================

func (o *OpenAIClient) completionsURL(model string) string {
	if o.cfg.Provider == ProviderAzure {
		deployment := o.cfg.Deployment
		if deployment == "" {
			deployment = model
		}
		return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
			o.cfg.Host, url.PathEscape(deployment), url.QueryEscape(o.cfg.APIVersion))
	}
	return o.cfg.Host + "/v1/chat/completions"
}

func (o *OpenAIClient) setAuth(h http.Header, key string) {
	if o.cfg.Provider == ProviderAzure {
		h.Set("api-key", key)
		return
	}
	h.Set("Authorization", "Bearer "+key)
	if o.cfg.Organization != "" {
		h.Set("OpenAI-Organization", o.cfg.Organization)
	}
}

// resolveKey prefers the caller's key and falls back to the sealed default.
func (o *OpenAIClient) resolveKey(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	if o.cfg.DefaultKey == nil {
		return "", ErrNoAPIKey
	}
	buf, err := o.cfg.DefaultKey.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open default API key: %w", err)
	}
	defer buf.Destroy()
	return string(buf.Bytes()), nil
}

// decodeErrorBody turns a non-200 body into *APIError when it carries the
// provider's error envelope, and *TransportError otherwise.
func decodeErrorBody(status int, raw []byte) error {
	var envelope openai.ErrorResponse
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error != nil && envelope.Error.Message != "" {
		apiErr := &APIError{
			Message:    envelope.Error.Message,
			Type:       envelope.Error.Type,
			Code:       envelope.Error.Code,
			StatusCode: status,
		}
		if envelope.Error.Param != nil {
			apiErr.Param = *envelope.Error.Param
		}
		return apiErr
	}
	return &TransportError{StatusCode: status, Body: string(raw)}
}

// convertClientError maps go-openai client errors onto this package's types.
func convertClientError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		out := &APIError{
			Message:    apiErr.Message,
			Type:       apiErr.Type,
			Code:       apiErr.Code,
			StatusCode: apiErr.HTTPStatusCode,
		}
		if apiErr.Param != nil {
			out.Param = *apiErr.Param
		}
		return out
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &TransportError{StatusCode: reqErr.HTTPStatusCode, Err: reqErr}
	}
	return &TransportError{Err: err}
}

func toOpenAIMessages(msgs []datatypes.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(msgs))
	for i, m := range msgs {
		out[i] = openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content}
	}
	return out
}

var (
	_ CompletionClient = (*OpenAIClient)(nil)
	_ ModelLister      = (*OpenAIClient)(nil)
)
