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
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/sashabaranov/go-openai"
)

// doneSentinel is the data payload OpenAI sends after the last event.
const doneSentinel = "[DONE]"

// StreamState is the lifecycle position of a completion stream.
type StreamState int

const (
	// StreamIdle means no chunk has been produced yet.
	StreamIdle StreamState = iota
	// StreamStreaming means at least one chunk has been produced.
	StreamStreaming
	// StreamCompleted means the provider signalled a finish reason.
	StreamCompleted
	// StreamFailed means the stream ended with an error.
	StreamFailed
)

func (s StreamState) String() string {
	switch s {
	case StreamIdle:
		return "idle"
	case StreamStreaming:
		return "streaming"
	case StreamCompleted:
		return "completed"
	case StreamFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Stream relays text deltas from a completion event stream.
//
// # Description
//
// Stream is pull based: each Recv reads upstream events only until the next
// non-empty delta, so the provider is never read faster than the caller
// consumes. The state machine is
//
//	Idle -> Streaming -> Completed | Failed
//	Idle -> Completed | Failed
//
// Once terminal, Recv keeps returning the same result: io.EOF after
// completion, the failure otherwise. The upstream body is closed as soon as
// the stream becomes terminal.
//
// # Thread Safety
//
// Not safe for concurrent use. Cancel the context to abort a Recv that is
// blocked on the provider.
type Stream struct {
	ctx     context.Context
	body    io.Closer
	decoder *EventDecoder

	state     StreamState
	err       error
	chunks    int
	closeOnce sync.Once
}

// NewStream wraps an event-stream body. The body is closed when the stream
// terminates or on Close.
func NewStream(ctx context.Context, body io.ReadCloser) *Stream {
	return &Stream{
		ctx:     ctx,
		body:    body,
		decoder: NewEventDecoder(body),
	}
}

// State returns the current lifecycle state.
func (s *Stream) State() StreamState {
	return s.state
}

// Chunks returns the number of chunks produced so far.
func (s *Stream) Chunks() int {
	return s.chunks
}

// Recv returns the next text chunk.
//
// # Outputs
//
//   - string: Non-empty delta text, in provider order.
//   - error: io.EOF after completion, *StreamDecodeError for malformed
//     events, ErrStreamTruncated when the body ends without a finish
//     signal, the context error on cancellation, or *TransportError for
//     read failures.
func (s *Stream) Recv() (string, error) {
	switch s.state {
	case StreamCompleted:
		return "", io.EOF
	case StreamFailed:
		return "", s.err
	}

	for {
		if err := s.ctx.Err(); err != nil {
			return "", s.fail(err)
		}

		ev, err := s.decoder.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", s.fail(ErrStreamTruncated)
			}
			if ctxErr := s.ctx.Err(); ctxErr != nil {
				return "", s.fail(ctxErr)
			}
			return "", s.fail(&TransportError{Err: err})
		}

		if strings.TrimSpace(ev.Data) == doneSentinel {
			s.complete()
			return "", io.EOF
		}

		var chunk openai.ChatCompletionStreamResponse
		if err := json.Unmarshal([]byte(ev.Data), &chunk); err != nil {
			return "", s.fail(&StreamDecodeError{Data: ev.Data, Err: err})
		}

		// A null, empty or choiceless payload decodes without error but
		// carries no choices array at all.
		if chunk.Choices == nil {
			return "", s.fail(&StreamDecodeError{Data: ev.Data, Err: errMissingChoices})
		}
		// Azure sends prompt filter results with an empty choices array.
		if len(chunk.Choices) == 0 {
			continue
		}

		choice := chunk.Choices[0]
		if choice.FinishReason != "" {
			slog.Debug("Completion stream finished",
				"finish_reason", string(choice.FinishReason),
				"chunks", s.chunks)
			s.complete()
			return "", io.EOF
		}

		if choice.Delta.Content == "" {
			continue
		}
		s.state = StreamStreaming
		s.chunks++
		return choice.Delta.Content, nil
	}
}

// Close releases the upstream body. Closing a stream that has not
// terminated marks it failed with context.Canceled.
func (s *Stream) Close() error {
	if s.state == StreamIdle || s.state == StreamStreaming {
		s.state = StreamFailed
		s.err = context.Canceled
	}
	return s.closeBody()
}

func (s *Stream) complete() {
	s.state = StreamCompleted
	_ = s.closeBody()
}

func (s *Stream) fail(err error) error {
	s.state = StreamFailed
	s.err = err
	_ = s.closeBody()
	return err
}

func (s *Stream) closeBody() error {
	var err error
	s.closeOnce.Do(func() {
		if s.body != nil {
			err = s.body.Close()
		}
	})
	return err
}
