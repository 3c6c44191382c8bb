// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides data structures for the chat relay.
//
// This file contains the chat request body and conversation message types.
// Retrieval types live in retrieval.go and the model catalog in models.go.
package datatypes

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// MaxMessageContentBytes is the maximum size of a single message content.
	MaxMessageContentBytes = 32 * 1024

	// MaxMessagesPerRequest is the maximum number of messages in a request.
	MaxMessagesPerRequest = 100

	// MaxDocsLimit is the largest document count a caller may request.
	MaxDocsLimit = 500

	// DefaultMaxDocs is used when the request does not carry maxDocs.
	DefaultMaxDocs = 10
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// chatValidate is the validator instance for chat datatypes.
var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()
	_ = chatValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes checks byte length, not rune count.
func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxMessageContentBytes
}

// =============================================================================
// Messages
// =============================================================================

// Role is the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single conversation turn.
type Message struct {
	Role    Role   `json:"role" validate:"required,oneof=system user assistant"`
	Content string `json:"content" validate:"maxbytes"`
}

// =============================================================================
// MaxDocs
// =============================================================================

// MaxDocs is the number of documents to retrieve. The browser UI keeps the
// value as a string, so both `"10"` and `10` are accepted on the wire.
type MaxDocs int

// UnmarshalJSON decodes a JSON number or a string holding a base-10 integer.
func (m *MaxDocs) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("maxDocs: %w", err)
		}
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return fmt.Errorf("maxDocs: %q is not an integer", s)
		}
		*m = MaxDocs(n)
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("maxDocs: %w", err)
	}
	*m = MaxDocs(n)
	return nil
}

// =============================================================================
// Chat Request
// =============================================================================

// ChatBody is the request body of the chat endpoints.
//
// # Fields
//
//   - Model: Target model. Limits missing from the body come from the catalog.
//   - Messages: Conversation history, oldest first. The last entry is the
//     question used for retrieval.
//   - Key: Caller's API key. Empty means use the server default.
//   - Prompt: System prompt. Empty means use the server default.
//   - Temperature: Sampling temperature in [0, 2]. Nil means server default.
//   - MaxDocs: Documents to retrieve, 1..500. Nil means DefaultMaxDocs.
//   - SavedChannels: Channel filters forwarded to the search service.
//
// # Examples
//
//	body := ChatBody{
//	    Model:    ModelDescriptor{ID: "gpt-4"},
//	    Messages: []Message{{Role: RoleUser, Content: "What is Lido?"}},
//	}
//	body.ApplyDefaults(defaults)
//	if err := body.Validate(); err != nil { ... }
type ChatBody struct {
	Model         ModelDescriptor `json:"model"`
	Messages      []Message       `json:"messages" validate:"required,min=1,max=100,dive"`
	Key           string          `json:"key"`
	Prompt        string          `json:"prompt" validate:"maxbytes"`
	Temperature   *float32        `json:"temperature" validate:"omitempty,gte=0,lte=2"`
	MaxDocs       *MaxDocs        `json:"maxDocs" validate:"omitempty,gte=1,lte=500"`
	SavedChannels []string        `json:"savedChannels" validate:"omitempty,max=200,dive,max=200"`
}

// ChatDefaults are the server-side values used for fields the caller left out.
type ChatDefaults struct {
	Model        string
	SystemPrompt string
	Temperature  float32
	MaxDocs      int
}

// ApplyDefaults fills empty fields from d and completes the model
// descriptor from the catalog.
func (b *ChatBody) ApplyDefaults(d ChatDefaults) {
	if b.Model.ID == "" {
		b.Model.ID = d.Model
	}
	b.Model = b.Model.Resolve()
	if strings.TrimSpace(b.Prompt) == "" {
		b.Prompt = d.SystemPrompt
	}
	if b.Temperature == nil {
		t := d.Temperature
		b.Temperature = &t
	}
	if b.MaxDocs == nil {
		n := MaxDocs(d.MaxDocs)
		if n <= 0 {
			n = DefaultMaxDocs
		}
		b.MaxDocs = &n
	}
}

// Validate runs the struct validation rules. Nested structs such as the
// model descriptor are validated as well.
func (b *ChatBody) Validate() error {
	return chatValidate.Struct(b)
}

// DocCount returns the requested document count, or zero when unset.
func (b *ChatBody) DocCount() int {
	if b.MaxDocs == nil {
		return 0
	}
	return int(*b.MaxDocs)
}

// TemperatureOr returns the request temperature, or def when unset.
func (b *ChatBody) TemperatureOr(def float32) float32 {
	if b.Temperature == nil {
		return def
	}
	return *b.Temperature
}
