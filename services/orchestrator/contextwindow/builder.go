// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package contextwindow trims conversation history to a model's token budget.
//
// # Description
//
// The budget is the model's token limit minus a reserve held back for the
// completion. The system prompt is always charged first; messages are then
// admitted newest to oldest until the next one would overflow, and
// everything older than that point is dropped. The result is always a
// contiguous suffix of the history in its original order.
//
// # Invariant
//
//	tokens(system) + sum(tokens(kept)) + Reserve <= tokenLimit
package contextwindow

import (
	"errors"
	"fmt"

	"github.com/thenextblock/ask-discord-ui/pkg/tokenizer"
	"github.com/thenextblock/ask-discord-ui/services/orchestrator/datatypes"
)

// DefaultReserve is the number of tokens held back for the completion.
const DefaultReserve = 1000

var (
	// ErrPromptTooLarge means not even the newest message fits next to the
	// system prompt and reserve.
	ErrPromptTooLarge = errors.New("prompt exceeds model token limit")

	// ErrNoMessages means the history was empty.
	ErrNoMessages = errors.New("conversation has no messages")
)

// Window is the trimmed history plus the token accounting behind it.
type Window struct {
	// Messages is the kept suffix of the history, oldest first.
	Messages []datatypes.Message

	// PromptTokens is the token count of the system prompt.
	PromptTokens int

	// MessageTokens is the total token count of Messages.
	MessageTokens int

	// Dropped is the number of older messages that did not fit.
	Dropped int
}

// TotalTokens returns the tokens charged against the budget, excluding the
// reserve.
func (w Window) TotalTokens() int {
	return w.PromptTokens + w.MessageTokens
}

// Builder computes context windows.
//
// The zero value uses DefaultReserve.
type Builder struct {
	// Reserve is the number of tokens kept free for the completion.
	// Zero selects DefaultReserve; use a negative value for no reserve.
	Reserve int
}

// New returns a Builder with the given reserve.
func New(reserve int) *Builder {
	return &Builder{Reserve: reserve}
}

func (b *Builder) reserve() int {
	switch {
	case b == nil || b.Reserve == 0:
		return DefaultReserve
	case b.Reserve < 0:
		return 0
	default:
		return b.Reserve
	}
}

// Build trims history to fit tokenLimit.
//
// # Inputs
//
//   - tok: Tokenizer used for all counts. Build does not close it.
//   - systemPrompt: Charged against the budget before any message.
//   - history: Conversation, oldest first. Not modified.
//   - tokenLimit: The model's combined prompt and completion limit.
//
// # Outputs
//
//   - Window: The kept suffix and its token counts.
//   - error: ErrNoMessages for an empty history, ErrPromptTooLarge when
//     the newest message does not fit.
func (b *Builder) Build(tok tokenizer.Tokenizer, systemPrompt string, history []datatypes.Message, tokenLimit int) (Window, error) {
	if len(history) == 0 {
		return Window{}, ErrNoMessages
	}
	reserve := b.reserve()

	w := Window{PromptTokens: tokenizer.Count(tok, systemPrompt)}
	running := w.PromptTokens
	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		n := tokenizer.Count(tok, history[i].Content)
		if running+n+reserve > tokenLimit {
			break
		}
		running += n
		start = i
	}

	if start == len(history) {
		return Window{PromptTokens: w.PromptTokens, Dropped: len(history)},
			fmt.Errorf("%w: limit %d, reserve %d, system prompt %d tokens",
				ErrPromptTooLarge, tokenLimit, reserve, w.PromptTokens)
	}

	w.Messages = append([]datatypes.Message(nil), history[start:]...)
	w.MessageTokens = running - w.PromptTokens
	w.Dropped = start
	return w, nil
}

// BuildWithFactory acquires a tokenizer from factory for the duration of
// the call and releases it on every path.
func (b *Builder) BuildWithFactory(factory tokenizer.Factory, systemPrompt string, history []datatypes.Message, tokenLimit int) (Window, error) {
	tok, err := factory.New()
	if err != nil {
		return Window{}, fmt.Errorf("acquire tokenizer: %w", err)
	}
	defer tok.Close()

	return b.Build(tok, systemPrompt, history, tokenLimit)
}
