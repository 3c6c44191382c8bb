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
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/thenextblock/ask-discord-ui/pkg/tokenizer"
	"github.com/thenextblock/ask-discord-ui/services/llm"
	"github.com/thenextblock/ask-discord-ui/services/orchestrator/contextwindow"
	"github.com/thenextblock/ask-discord-ui/services/orchestrator/datatypes"
	"github.com/thenextblock/ask-discord-ui/services/orchestrator/observability"
	"github.com/thenextblock/ask-discord-ui/services/orchestrator/services"
)

// Relay starts completion streams for a prepared turn.
type Relay interface {
	Stream(ctx context.Context, turn services.Turn) (*llm.Stream, error)
	StreamDirect(ctx context.Context, turn services.Turn) (*llm.Stream, error)
}

var _ Relay = (*services.ChatRelay)(nil)

// ChatHandler serves the chat endpoints.
//
// # Description
//
// Every request goes through the same steps: decode and validate the body,
// fill server defaults, trim the history to the model's token budget, start
// the completion stream, then copy chunks to the client as they arrive.
// Errors before the first chunk become status codes (see classifyError);
// a broken upstream stream after that drops the connection.
//
// # Thread Safety
//
// Safe for concurrent use.
type ChatHandler struct {
	relay    Relay
	window   *contextwindow.Builder
	tokens   tokenizer.Factory
	defaults datatypes.ChatDefaults
	metrics  *observability.RelayMetrics
}

// NewChatHandler creates a ChatHandler. A nil metrics records into
// unregistered collectors.
func NewChatHandler(relay Relay, window *contextwindow.Builder, tokens tokenizer.Factory,
	defaults datatypes.ChatDefaults, metrics *observability.RelayMetrics) *ChatHandler {

	if window == nil {
		window = contextwindow.New(0)
	}
	if metrics == nil {
		metrics = observability.NewMetrics(nil)
	}
	return &ChatHandler{
		relay:    relay,
		window:   window,
		tokens:   tokens,
		defaults: defaults,
		metrics:  metrics,
	}
}

// HandleChat serves POST /api/chat, the retrieval-augmented path.
func (h *ChatHandler) HandleChat() gin.HandlerFunc {
	return func(c *gin.Context) {
		h.serve(c, observability.EndpointRAGStream, h.relay.Stream)
	}
}

// HandleDirectChat serves POST /api/chat/direct, which sends the trimmed
// history without retrieval.
func (h *ChatHandler) HandleDirectChat() gin.HandlerFunc {
	return func(c *gin.Context) {
		h.serve(c, observability.EndpointDirectStream, h.relay.StreamDirect)
	}
}

type startFunc func(ctx context.Context, turn services.Turn) (*llm.Stream, error)

func (h *ChatHandler) serve(c *gin.Context, endpoint observability.Endpoint, start startFunc) {
	began := time.Now()

	var body datatypes.ChatBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.fail(c, endpoint, &requestError{err: errors.New("invalid request body")})
		slog.Warn("Failed to parse the chat request", "error", err)
		return
	}

	turn, err := h.prepareTurn(&body, endpoint)
	if err != nil {
		h.fail(c, endpoint, err)
		return
	}

	stream, err := start(c.Request.Context(), turn)
	if err != nil {
		h.fail(c, endpoint, err)
		return
	}
	defer stream.Close()

	writer, err := NewChunkWriter(c.Writer)
	if err != nil {
		h.fail(c, endpoint, err)
		return
	}

	h.metrics.StreamStarted(endpoint)
	writer.Start()
	outcome := h.pump(endpoint, stream, writer, began)
	h.metrics.StreamEnded(endpoint, time.Since(began), outcome == streamCompleted)
	h.metrics.RecordRequest(endpoint, outcome == streamCompleted)
	if outcome == streamBroken {
		abortConnection(c)
	}
}

// prepareTurn applies defaults, validates and fits the history into the
// model's budget.
func (h *ChatHandler) prepareTurn(body *datatypes.ChatBody, endpoint observability.Endpoint) (services.Turn, error) {
	body.ApplyDefaults(h.defaults)
	if err := body.Validate(); err != nil {
		return services.Turn{}, &requestError{err: err}
	}

	window, err := h.window.BuildWithFactory(h.tokens, body.Prompt, body.Messages, body.Model.TokenLimit)
	if err != nil {
		return services.Turn{}, err
	}
	h.metrics.RecordDropped(endpoint, window.Dropped)
	slog.Debug("Built context window",
		"model", body.Model.ID,
		"kept", len(window.Messages),
		"dropped", window.Dropped,
		"tokens", window.TotalTokens(),
		"key_present", body.Key != "")

	return services.Turn{
		Model:        body.Model,
		SystemPrompt: body.Prompt,
		Messages:     window.Messages,
		Temperature:  body.TemperatureOr(h.defaults.Temperature),
		MaxDocs:      body.DocCount(),
		Channels:     body.SavedChannels,
		APIKey:       body.Key,
	}, nil
}

// streamOutcome is how a pumped stream ended.
type streamOutcome int

const (
	streamCompleted streamOutcome = iota
	// streamGone means the client left; nothing more can be sent.
	streamGone
	// streamBroken means the upstream failed after chunks may have been
	// sent; the client connection has to be dropped.
	streamBroken
)

// pump copies chunks until the stream ends.
func (h *ChatHandler) pump(endpoint observability.Endpoint, stream *llm.Stream, writer ChunkWriter, began time.Time) streamOutcome {
	chunks := 0
	defer func() { h.metrics.RecordChunks(endpoint, chunks) }()

	for {
		text, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return streamCompleted
		}
		if err != nil {
			switch {
			case isStreamBroken(err):
				slog.Error("Completion stream broke mid-response", "error", err, "chunks", chunks)
				h.metrics.RecordError(endpoint, observability.ErrorCodeStreamDecode)
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				slog.Info("Client went away mid-stream", "chunks", chunks)
				h.metrics.RecordClientDisconnect(endpoint)
				return streamGone
			default:
				slog.Error("Completion stream failed", "error", err, "chunks", chunks)
				h.metrics.RecordError(endpoint, observability.ErrorCodeTransport)
			}
			return streamBroken
		}

		if chunks == 0 {
			h.metrics.RecordFirstChunk(endpoint, time.Since(began))
		}
		if err := writer.WriteChunk(text); err != nil {
			slog.Info("Failed to write chunk, client disconnected", "error", err)
			h.metrics.RecordClientDisconnect(endpoint)
			return streamGone
		}
		chunks++
	}
}

func (h *ChatHandler) fail(c *gin.Context, endpoint observability.Endpoint, err error) {
	resp := writeError(c, err)
	h.metrics.RecordError(endpoint, resp.Code)
	h.metrics.RecordRequest(endpoint, false)
}
