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
	"fmt"
	"io"
	"net/http"
)

// ChunkWriter writes relayed text to an HTTP response as it arrives.
//
// # Description
//
// The body is plain text. Each chunk is written verbatim and flushed
// immediately, so chunk boundaries are not preserved on the wire but
// order and content are.
//
// # Thread Safety
//
// Not safe for concurrent use. One writer per response.
type ChunkWriter interface {
	// Start sends the 200 status and streaming headers.
	Start()

	// WriteChunk writes and flushes one chunk.
	WriteChunk(text string) error

	// Started reports whether headers have been sent.
	Started() bool
}

type chunkWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

// NewChunkWriter creates a ChunkWriter.
//
// # Outputs
//
//   - error: Non-nil if w does not implement http.Flusher.
func NewChunkWriter(w http.ResponseWriter) (ChunkWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	return &chunkWriter{w: w, flusher: flusher}, nil
}

func (cw *chunkWriter) Start() {
	if cw.started {
		return
	}
	SetStreamHeaders(cw.w)
	cw.w.WriteHeader(http.StatusOK)
	cw.flusher.Flush()
	cw.started = true
}

func (cw *chunkWriter) WriteChunk(text string) error {
	if !cw.started {
		cw.Start()
	}
	if _, err := io.WriteString(cw.w, text); err != nil {
		return err
	}
	cw.flusher.Flush()
	return nil
}

func (cw *chunkWriter) Started() bool {
	return cw.started
}

// SetStreamHeaders sets the headers of a streamed text response. Proxies
// are told not to buffer.
func SetStreamHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
}
