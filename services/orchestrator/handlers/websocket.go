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
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/thenextblock/ask-discord-ui/services/orchestrator/datatypes"
	"github.com/thenextblock/ask-discord-ui/services/orchestrator/observability"
)

// WSFrame is a control frame sent to websocket clients. Answer text is
// sent as plain text frames.
type WSFrame struct {
	Done  bool   `json:"done,omitempty"`
	Error string `json:"error,omitempty"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
}

func sendJSON(ws *websocket.Conn, v interface{}) error {
	err := ws.WriteJSON(v)
	if err != nil {
		slog.Warn("Failed to write WebSocket JSON", "error", err)
	}
	return err
}

// HandleChatWebSocket serves GET /api/chat/ws.
//
// # Description
//
// Each inbound text frame is a chat body, handled like POST /api/chat.
// Chunks go back as text frames, followed by {"done":true}. A failure
// before the first chunk is reported as {"error": ...} and the connection
// stays open for the next question. A broken upstream stream drops the
// connection. Closing the socket cancels the upstream request.
func (h *ChatHandler) HandleChatWebSocket() gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("failed to upgrade the websocket", "error", err)
			return
		}
		defer ws.Close()

		sessionID := uuid.New().String()
		slog.Info("Websocket client connected", "sessionID", sessionID)

		// The hijacked connection is no longer watched by net/http, so the
		// reader goroutine owns disconnect detection and cancels ctx.
		ctx, cancel := context.WithCancel(c.Request.Context())
		defer cancel()
		frames := readFrames(ctx, cancel, ws, sessionID)

		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-frames:
				if !ok {
					return
				}
				if !h.serveFrame(ctx, ws, raw) {
					return
				}
			}
		}
	}
}

// readFrames reads inbound messages until the client goes away, then
// cancels the connection context. Reading continues while a frame is being
// answered so a close frame stops the upstream request mid-stream.
func readFrames(ctx context.Context, cancel context.CancelFunc, ws *websocket.Conn, sessionID string) <-chan []byte {
	frames := make(chan []byte)
	go func() {
		defer close(frames)
		defer cancel()
		for {
			_, raw, err := ws.ReadMessage()
			if err != nil {
				slog.Info("Websocket client disconnected", "sessionID", sessionID, "error", err.Error())
				return
			}
			select {
			case frames <- raw:
			case <-ctx.Done():
				return
			}
		}
	}()
	return frames
}

// serveFrame answers one question. It returns false when the connection
// must be dropped.
func (h *ChatHandler) serveFrame(ctx context.Context, ws *websocket.Conn, raw []byte) bool {
	const endpoint = observability.EndpointWebSocket
	began := time.Now()

	var body datatypes.ChatBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return h.sendFailure(ws, &requestError{err: errors.New("invalid request body")})
	}
	turn, err := h.prepareTurn(&body, endpoint)
	if err != nil {
		return h.sendFailure(ws, err)
	}

	stream, err := h.relay.Stream(ctx, turn)
	if err != nil {
		return h.sendFailure(ws, err)
	}
	defer stream.Close()

	h.metrics.StreamStarted(endpoint)
	chunks := 0
	success := false
	defer func() {
		h.metrics.RecordChunks(endpoint, chunks)
		h.metrics.StreamEnded(endpoint, time.Since(began), success)
		h.metrics.RecordRequest(endpoint, success)
	}()

	for {
		text, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			success = true
			return sendJSON(ws, WSFrame{Done: true}) == nil
		}
		if err != nil {
			switch {
			case isStreamBroken(err):
				h.metrics.RecordError(endpoint, observability.ErrorCodeStreamDecode)
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				h.metrics.RecordClientDisconnect(endpoint)
			default:
				h.metrics.RecordError(endpoint, observability.ErrorCodeTransport)
			}
			slog.Error("Websocket stream ended abnormally", "error", err, "chunks", chunks)
			return false
		}
		if chunks == 0 {
			h.metrics.RecordFirstChunk(endpoint, time.Since(began))
		}
		if err := ws.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
			h.metrics.RecordClientDisconnect(endpoint)
			return false
		}
		chunks++
	}
}

func (h *ChatHandler) sendFailure(ws *websocket.Conn, err error) bool {
	resp := classifyError(err)
	h.metrics.RecordError(observability.EndpointWebSocket, resp.Code)
	h.metrics.RecordRequest(observability.EndpointWebSocket, false)
	slog.Warn("Websocket chat request failed", "code", resp.Code, "error", err)

	msg := resp.Body
	if msg == "" {
		msg = http.StatusText(resp.Status)
	}
	return sendJSON(ws, WSFrame{Error: msg}) == nil
}
