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

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// =============================================================================
// Model Catalog
// =============================================================================

// Known model identifiers.
const (
	ModelGPT35Turbo = "gpt-3.5-turbo"
	ModelGPT4       = "gpt-4"
	ModelGPT432K    = "gpt-4-32k"
)

// ModelDescriptor identifies a completion model and its limits.
//
// # Fields
//
//   - ID: Provider model identifier, sent upstream in openai mode.
//   - Name: Display name for the UI.
//   - MaxLength: Maximum prompt length in characters, enforced by the UI.
//   - TokenLimit: Maximum tokens for prompt plus completion.
type ModelDescriptor struct {
	ID         string `json:"id" validate:"required"`
	Name       string `json:"name"`
	MaxLength  int    `json:"maxLength" validate:"gte=0"`
	TokenLimit int    `json:"tokenLimit" validate:"gt=0"`
}

// UnmarshalJSON accepts either the full descriptor object or a bare model
// ID string. Missing limits are filled in from the catalog by Resolve.
func (m *ModelDescriptor) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return fmt.Errorf("model: %w", err)
		}
		*m = ModelDescriptor{ID: id}
		return nil
	}
	type plain ModelDescriptor
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("model: %w", err)
	}
	*m = ModelDescriptor(p)
	return nil
}

// catalog lists the models the service knows limits for.
var catalog = map[string]ModelDescriptor{
	ModelGPT35Turbo: {ID: ModelGPT35Turbo, Name: "GPT-3.5", MaxLength: 12000, TokenLimit: 4000},
	ModelGPT4:       {ID: ModelGPT4, Name: "GPT-4", MaxLength: 24000, TokenLimit: 8000},
	ModelGPT432K:    {ID: ModelGPT432K, Name: "GPT-4-32K", MaxLength: 96000, TokenLimit: 32000},
}

// CatalogModels returns every catalog entry ordered by ID.
func CatalogModels() []ModelDescriptor {
	out := make([]ModelDescriptor, 0, len(catalog))
	for _, m := range catalog {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Resolve fills zero-valued fields from the catalog entry with the same ID.
// Values supplied by the caller win. Unknown IDs are returned unchanged.
func (m ModelDescriptor) Resolve() ModelDescriptor {
	known, ok := catalog[m.ID]
	if !ok {
		return m
	}
	if m.Name == "" {
		m.Name = known.Name
	}
	if m.MaxLength == 0 {
		m.MaxLength = known.MaxLength
	}
	if m.TokenLimit == 0 {
		m.TokenLimit = known.TokenLimit
	}
	return m
}
