// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import "github.com/tmc/langchaingo/schema"

// DefaultCollection is the vector collection holding the indexed Discord
// history.
const DefaultCollection = "discord"

// RetrievalRequest is the body sent to the vector search service.
//
// Messages is always sent as an empty array; retrieval is driven by the
// latest question only.
type RetrievalRequest struct {
	Messages   []Message `json:"messages"`
	Question   string    `json:"question"`
	Collection string    `json:"collection"`
	Filters    []string  `json:"filters"`
	MaxDocs    int       `json:"maxdocs"`
	Model      string    `json:"model"`
}

// NewRetrievalRequest builds the request for one chat turn.
func NewRetrievalRequest(question string, channels []string, maxDocs int, model string) *RetrievalRequest {
	if channels == nil {
		channels = []string{}
	}
	return &RetrievalRequest{
		Messages:   []Message{},
		Question:   question,
		Collection: DefaultCollection,
		Filters:    channels,
		MaxDocs:    maxDocs,
		Model:      model,
	}
}

// RetrievalResponse is the wire shape returned by the search service.
type RetrievalResponse struct {
	Data struct {
		Vector []schema.Document `json:"vector"`
		Report any               `json:"report,omitempty"`
	} `json:"data"`
}

// RetrievalResult holds the documents for one turn. It is consumed
// immediately by the prompt assembler and never stored.
type RetrievalResult struct {
	Documents []schema.Document
	Report    any
}
