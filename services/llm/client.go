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

	"github.com/thenextblock/ask-discord-ui/services/orchestrator/datatypes"
)

// CompletionRequest is one streamed chat completion call.
type CompletionRequest struct {
	// Model is the provider model ID. Azure deployments ignore it unless no
	// deployment is configured.
	Model       string
	Messages    []datatypes.Message
	Temperature float32

	// MaxTokens caps the completion. Zero selects the client default.
	MaxTokens int

	// APIKey overrides the server default key when non-empty.
	APIKey string
}

// CompletionClient starts streamed chat completions.
type CompletionClient interface {
	// ChatStream sends req and returns the delta stream once the provider
	// has answered 200. Errors before that point are *APIError,
	// *TransportError or the context error.
	ChatStream(ctx context.Context, req CompletionRequest) (*Stream, error)
}

// ModelLister lists the models a key has access to.
type ModelLister interface {
	ListModels(ctx context.Context, apiKey string) ([]string, error)
}
