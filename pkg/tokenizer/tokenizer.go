// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tokenizer counts tokens the way the completion models do.
//
// # Description
//
// A Tokenizer is a scoped resource: callers acquire one from a Factory at
// the start of a unit of work and must Close it on every exit path,
// including failures. The usual shape is:
//
//	tok, err := factory.New()
//	if err != nil {
//	    return err
//	}
//	defer tok.Close()
//
// # Thread Safety
//
// A Tokenizer handle belongs to one goroutine. Factories are safe for
// concurrent use.
package tokenizer

import "errors"

// ErrClosed is returned when a Factory is used after Shutdown.
var ErrClosed = errors.New("tokenizer: factory closed")

// =============================================================================
// Interfaces
// =============================================================================

// Tokenizer converts text to the token sequence a model would see.
type Tokenizer interface {
	// Encode returns the token IDs for text. Encoding an empty string
	// returns an empty slice. A closed Tokenizer returns nil.
	Encode(text string) []int

	// Close releases the handle. Close is idempotent.
	Close() error
}

// Factory hands out Tokenizer handles.
type Factory interface {
	New() (Tokenizer, error)
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func() (Tokenizer, error)

// New calls f.
func (f FactoryFunc) New() (Tokenizer, error) {
	return f()
}

// =============================================================================
// Helpers
// =============================================================================

// Count returns the number of tokens in text.
func Count(t Tokenizer, text string) int {
	return len(t.Encode(text))
}
