// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package services provides the business logic of the chat relay.
//
// This package contains the pieces between the HTTP handlers and the
// external collaborators:
//   - Retrievers that fetch context documents for a question
//   - The prompt assembler that folds those documents into an instruction
//   - The relay that chains retrieval, prompt and completion for one turn
//
// Services are designed to be:
//   - Testable: Dependencies are injected via constructors
//   - Traceable: All methods accept context for distributed tracing
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/thenextblock/ask-discord-ui/services/orchestrator/datatypes"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// retrievalTracer is the OpenTelemetry tracer for retrieval operations.
var retrievalTracer = otel.Tracer("askdiscord.orchestrator.services.retrieval")

// Compile-time interface implementation check.
var _ Retriever = (*SearchClient)(nil)

// =============================================================================
// Interfaces
// =============================================================================

// Retriever fetches context documents for a single question.
//
// # Description
//
// Retriever abstracts the vector search backend so the relay can be tested
// without a running search service. Exactly one Retrieve call is made per
// chat turn.
//
// # Errors
//
//   - *ValidationError: the request violated a precondition; no call was made.
//   - *RetrievalError: the backend answered with a failure status, could
//     not be reached, or sent a body that does not decode. Err holds the
//     cause for the last two.
type Retriever interface {
	Retrieve(ctx context.Context, req *datatypes.RetrievalRequest) (*datatypes.RetrievalResult, error)
}

// =============================================================================
// HTTP Search Client
// =============================================================================

// SearchClient calls the QA-chain vector search service over HTTP.
//
// # Description
//
// Posts the retrieval request as JSON to {baseURL}/search/ and decodes
// documents from data.vector. Non-2xx responses become *RetrievalError.
// There is no retry: a failed retrieval fails the turn.
//
// # Thread Safety
//
// Safe for concurrent use.
type SearchClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewSearchClient creates a client for the search service at baseURL.
// A nil httpClient uses one with a 30 second timeout.
func NewSearchClient(baseURL string, httpClient *http.Client) *SearchClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &SearchClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
	}
}

// Retrieve implements Retriever.
//
// # Inputs
//
//   - ctx: Context for cancellation and tracing.
//   - req: Request with a non-empty Question and MaxDocs > 0.
//
// # Outputs
//
//   - *datatypes.RetrievalResult: Documents in the order the service ranked them.
//   - error: See Retriever.
func (c *SearchClient) Retrieve(ctx context.Context, req *datatypes.RetrievalRequest) (*datatypes.RetrievalResult, error) {
	ctx, span := retrievalTracer.Start(ctx, "SearchClient.Retrieve", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	if err := validateRetrievalRequest(req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request")
		return nil, err
	}

	searchURL := c.baseURL + "/search/"
	span.SetAttributes(
		attribute.String("retrieval.url", searchURL),
		attribute.String("retrieval.collection", req.Collection),
		attribute.Int("retrieval.max_docs", req.MaxDocs),
		attribute.Int("retrieval.filters", len(req.Filters)),
	)

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal retrieval request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, searchURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return nil, &RetrievalError{Message: "retrieval request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		return nil, &RetrievalError{StatusCode: resp.StatusCode, Status: http.StatusText(resp.StatusCode), Message: "failed to read retrieval response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		retrievalErr := &RetrievalError{
			StatusCode: resp.StatusCode,
			Status:     http.StatusText(resp.StatusCode),
			Message:    string(body),
		}
		span.SetAttributes(attribute.Int("retrieval.status_code", resp.StatusCode))
		span.RecordError(retrievalErr)
		span.SetStatus(codes.Error, "non-2xx response")
		return nil, retrievalErr
	}

	var decoded datatypes.RetrievalResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decode failed")
		return nil, &RetrievalError{StatusCode: resp.StatusCode, Status: http.StatusText(resp.StatusCode), Message: "failed to parse retrieval response", Err: err}
	}

	if decoded.Data.Report != nil {
		slog.Debug("Retrieval report", "report", decoded.Data.Report)
	}
	span.SetAttributes(attribute.Int("retrieval.documents", len(decoded.Data.Vector)))

	return &datatypes.RetrievalResult{
		Documents: decoded.Data.Vector,
		Report:    decoded.Data.Report,
	}, nil
}

func validateRetrievalRequest(req *datatypes.RetrievalRequest) error {
	if req == nil {
		return &ValidationError{Field: "request", Reason: "is nil"}
	}
	if strings.TrimSpace(req.Question) == "" {
		return &ValidationError{Field: "question", Reason: "is required"}
	}
	if req.MaxDocs <= 0 {
		return &ValidationError{Field: "maxdocs", Reason: "must be positive"}
	}
	return nil
}

// =============================================================================
// Error Types
// =============================================================================

// RetrievalError is a retrieval backend failure.
//
// # Fields
//
//   - StatusCode: HTTP status code from the backend, zero when no response
//     arrived.
//   - Status: Standard status text for StatusCode.
//   - Message: Response body for failure statuses, otherwise a description.
//   - Err: Underlying transport or decode error, if any.
type RetrievalError struct {
	StatusCode int
	Status     string
	Message    string
	Err        error
}

// Error implements the error interface for RetrievalError.
func (e *RetrievalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("retrieval error (status %d %s): %s", e.StatusCode, e.Status, e.Message)
}

func (e *RetrievalError) Unwrap() error {
	return e.Err
}

// IsRetrievalError reports whether err wraps a *RetrievalError.
func IsRetrievalError(err error) bool {
	var re *RetrievalError
	return errors.As(err, &re)
}

// ValidationError is a retrieval precondition failure.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid retrieval request: %s %s", e.Field, e.Reason)
}
