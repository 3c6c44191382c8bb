// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/thenextblock/ask-discord-ui/services/llm"
	"github.com/thenextblock/ask-discord-ui/services/orchestrator/contextwindow"
	"github.com/thenextblock/ask-discord-ui/services/orchestrator/observability"
	"github.com/thenextblock/ask-discord-ui/services/orchestrator/services"
)

// ErrorMessageHeader carries the provider's error message next to the 500
// status, since the reason phrase cannot be customized.
const ErrorMessageHeader = "X-Error-Message"

// requestError wraps a rejected request body.
type requestError struct {
	err error
}

func (e *requestError) Error() string { return e.err.Error() }
func (e *requestError) Unwrap() error { return e.err }

// errorResponse is how a failure before the first chunk is reported.
type errorResponse struct {
	Status int
	Code   observability.ErrorCode

	// Body is sent as text/plain, or as {"error": Body} when JSON is set.
	Body string
	JSON bool

	// Header, when set, is copied into ErrorMessageHeader.
	Header string
}

// classifyError maps a pre-stream failure to its response.
//
// # Description
//
// This is the single place errors from the context window, the retriever
// and the completion client are turned into status codes:
//
//	rejected body / validation   -> 400 {"error": ...}
//	prompt too large             -> 500 "prompt exceeds model token limit"
//	provider error (*APIError)   -> 500 with the provider message
//	retrieval / transport errors -> 500, empty body
func classifyError(err error) errorResponse {
	var (
		reqErr       *requestError
		validErr     *services.ValidationError
		apiErr       *llm.APIError
		retrievalErr *services.RetrievalError
		transportErr *llm.TransportError
	)

	switch {
	case errors.As(err, &reqErr):
		return errorResponse{Status: http.StatusBadRequest, Code: observability.ErrorCodeValidation, Body: reqErr.Error(), JSON: true}
	case errors.As(err, &validErr), errors.Is(err, contextwindow.ErrNoMessages):
		return errorResponse{Status: http.StatusBadRequest, Code: observability.ErrorCodeValidation, Body: err.Error(), JSON: true}
	case errors.Is(err, contextwindow.ErrPromptTooLarge):
		return errorResponse{Status: http.StatusInternalServerError, Code: observability.ErrorCodePromptTooBig, Body: contextwindow.ErrPromptTooLarge.Error()}
	case errors.As(err, &apiErr):
		return errorResponse{Status: http.StatusInternalServerError, Code: observability.ErrorCodeUpstreamAPI, Body: apiErr.Message, Header: headerSafe(apiErr.Message)}
	case errors.Is(err, llm.ErrNoAPIKey):
		return errorResponse{Status: http.StatusInternalServerError, Code: observability.ErrorCodeUpstreamAPI, Body: llm.ErrNoAPIKey.Error(), Header: llm.ErrNoAPIKey.Error()}
	case errors.As(err, &retrievalErr):
		return errorResponse{Status: http.StatusInternalServerError, Code: observability.ErrorCodeRetrieval}
	case errors.As(err, &transportErr):
		return errorResponse{Status: http.StatusInternalServerError, Code: observability.ErrorCodeTransport}
	default:
		return errorResponse{Status: http.StatusInternalServerError, Code: observability.ErrorCodeInternal}
	}
}

// writeError reports a failure that happened before any chunk was sent.
func writeError(c *gin.Context, err error) errorResponse {
	resp := classifyError(err)
	if resp.Status >= http.StatusInternalServerError {
		slog.Error("Chat request failed", "code", resp.Code, "error", err)
	} else {
		slog.Warn("Rejected chat request", "error", err)
	}

	switch {
	case resp.JSON:
		c.AbortWithStatusJSON(resp.Status, gin.H{"error": resp.Body})
	case resp.Body != "":
		if resp.Header != "" {
			c.Header(ErrorMessageHeader, resp.Header)
		}
		c.Data(resp.Status, "text/plain; charset=utf-8", []byte(resp.Body))
		c.Abort()
	default:
		c.AbortWithStatus(resp.Status)
	}
	return resp
}

// isStreamBroken reports whether a mid-stream error means the upstream
// stream cannot be trusted and the client connection must be dropped.
func isStreamBroken(err error) bool {
	return llm.IsStreamDecodeError(err) || errors.Is(err, llm.ErrStreamTruncated)
}

// abortConnection drops the client connection without terminating the
// chunked body, so the caller sees a truncated response instead of a
// clean end. When the writer refuses to be hijacked the handler is
// aborted with http.ErrAbortHandler, which net/http answers by closing
// the connection. Recovery middleware must re-panic that value, see
// middleware.Recovery.
func abortConnection(c *gin.Context) {
	c.Abort()
	if hijacker, ok := c.Writer.(http.Hijacker); ok {
		conn, _, err := hijacker.Hijack()
		if err == nil {
			_ = conn.Close()
			return
		}
		slog.Debug("Failed to hijack connection", "error", err)
	}
	panic(http.ErrAbortHandler)
}

func headerSafe(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\r' || r == '\n' {
			return ' '
		}
		return r
	}, s)
}
