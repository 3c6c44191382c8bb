// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/thenextblock/ask-discord-ui/services/llm"
	"github.com/thenextblock/ask-discord-ui/services/orchestrator/datatypes"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var relayTracer = otel.Tracer("askdiscord.orchestrator.services.relay")

// Turn is one chat turn after the history has been trimmed to fit.
type Turn struct {
	Model        datatypes.ModelDescriptor
	SystemPrompt string
	Messages     []datatypes.Message
	Temperature  float32
	MaxDocs      int
	Channels     []string
	APIKey       string
}

// RetrievalObserver is told how each retrieval went.
type RetrievalObserver func(elapsed time.Duration, documents int, err error)

// ChatRelay chains retrieval, prompt assembly and completion for one turn.
//
// # Description
//
// The steps run strictly in sequence. The stream returned by Stream is
// already past the provider's 200 response, so any error before it is
// returned means nothing has been sent to the caller yet.
//
// # Thread Safety
//
// Safe for concurrent use if the retriever and completion client are.
type ChatRelay struct {
	retriever Retriever
	completer llm.CompletionClient
	observe   RetrievalObserver
}

// NewChatRelay creates a relay. observe may be nil.
func NewChatRelay(retriever Retriever, completer llm.CompletionClient, observe RetrievalObserver) *ChatRelay {
	return &ChatRelay{retriever: retriever, completer: completer, observe: observe}
}

// Stream runs the retrieval-augmented path.
//
// # Description
//
// The newest message of the turn is the question. Exactly one retrieval is
// made for it; the documents are folded into a single augmented user
// message, and the completion request carries only the system prompt and
// that message.
//
// # Outputs
//
//   - *llm.Stream: Delta stream; the caller must drain or Close it.
//   - error: From the retriever or completion client, unchanged in type.
func (r *ChatRelay) Stream(ctx context.Context, turn Turn) (*llm.Stream, error) {
	ctx, span := relayTracer.Start(ctx, "ChatRelay.Stream")
	defer span.End()

	if len(turn.Messages) == 0 {
		err := &ValidationError{Field: "messages", Reason: "is empty"}
		span.RecordError(err)
		span.SetStatus(codes.Error, "no messages")
		return nil, err
	}
	question := turn.Messages[len(turn.Messages)-1].Content
	span.SetAttributes(
		attribute.String("chat.model", turn.Model.ID),
		attribute.Int("chat.max_docs", turn.MaxDocs),
	)

	start := time.Now()
	result, err := r.retriever.Retrieve(ctx, datatypes.NewRetrievalRequest(question, turn.Channels, turn.MaxDocs, turn.Model.ID))
	docs := 0
	if result != nil {
		docs = len(result.Documents)
	}
	if r.observe != nil {
		r.observe(time.Since(start), docs, err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "retrieval failed")
		return nil, fmt.Errorf("retrieve context: %w", err)
	}
	span.SetAttributes(attribute.Int("chat.documents", docs))
	slog.Debug("Retrieved context", "documents", docs, "max_docs", turn.MaxDocs)

	prompt := AssemblePrompt(ContextText(result.Documents), question)
	stream, err := r.completer.ChatStream(ctx, llm.CompletionRequest{
		Model: turn.Model.ID,
		Messages: []datatypes.Message{
			{Role: datatypes.RoleSystem, Content: turn.SystemPrompt},
			{Role: datatypes.RoleUser, Content: prompt},
		},
		Temperature: turn.Temperature,
		APIKey:      turn.APIKey,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		return nil, fmt.Errorf("start completion: %w", err)
	}
	return stream, nil
}

// StreamDirect sends the system prompt and the trimmed history to the
// completion API without retrieval.
func (r *ChatRelay) StreamDirect(ctx context.Context, turn Turn) (*llm.Stream, error) {
	ctx, span := relayTracer.Start(ctx, "ChatRelay.StreamDirect")
	defer span.End()

	messages := make([]datatypes.Message, 0, len(turn.Messages)+1)
	messages = append(messages, datatypes.Message{Role: datatypes.RoleSystem, Content: turn.SystemPrompt})
	messages = append(messages, turn.Messages...)

	stream, err := r.completer.ChatStream(ctx, llm.CompletionRequest{
		Model:       turn.Model.ID,
		Messages:    messages,
		Temperature: turn.Temperature,
		APIKey:      turn.APIKey,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		return nil, fmt.Errorf("start completion: %w", err)
	}
	return stream, nil
}
