// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tokenizer

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	tiktoken "github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

func init() {
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

// DefaultEncoding is the BPE encoding used by the gpt-3.5 and gpt-4 families.
const DefaultEncoding = "cl100k_base"

// TiktokenFactory loads a BPE encoding once and hands out handles to it.
//
// # Description
//
// Loading the rank table is the expensive part of tiktoken, so the factory
// loads it lazily on the first New and shares the immutable table between
// handles. The tables are read from the embedded offline loader. A failed
// load is not cached, so the next New tries again. Each handle still has to
// be closed; Active reports how many are outstanding, which makes leaks
// visible in tests and logs.
//
// # Thread Safety
//
// Safe for concurrent use.
type TiktokenFactory struct {
	encoding string

	mu  sync.Mutex
	enc *tiktoken.Tiktoken

	active atomic.Int64
	closed atomic.Bool
}

// NewTiktokenFactory returns a factory for the named encoding. An empty
// name selects DefaultEncoding.
func NewTiktokenFactory(encoding string) *TiktokenFactory {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	return &TiktokenFactory{encoding: encoding}
}

// New acquires a tokenizer handle.
func (f *TiktokenFactory) New() (Tokenizer, error) {
	if f.closed.Load() {
		return nil, ErrClosed
	}
	enc, err := f.load()
	if err != nil {
		return nil, err
	}
	f.active.Add(1)
	return &tiktokenHandle{enc: enc, factory: f}, nil
}

func (f *TiktokenFactory) load() (*tiktoken.Tiktoken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enc != nil {
		return f.enc, nil
	}
	enc, err := tiktoken.GetEncoding(f.encoding)
	if err != nil {
		slog.Warn("Failed to load tokenizer encoding", "encoding", f.encoding, "error", err)
		return nil, fmt.Errorf("tokenizer: get encoding %q: %w", f.encoding, err)
	}
	slog.Debug("Loaded tokenizer encoding", "encoding", f.encoding)
	f.enc = enc
	return enc, nil
}

// Active returns the number of handles acquired and not yet closed.
func (f *TiktokenFactory) Active() int64 {
	return f.active.Load()
}

// Shutdown stops the factory from handing out new handles. Handles already
// acquired keep working until closed.
func (f *TiktokenFactory) Shutdown() {
	if f.closed.CompareAndSwap(false, true) {
		if n := f.active.Load(); n > 0 {
			slog.Warn("Tokenizer factory shut down with open handles", "active", n)
		}
	}
}

// tiktokenHandle is a single scoped use of the shared encoding.
type tiktokenHandle struct {
	enc     *tiktoken.Tiktoken
	factory *TiktokenFactory
	closed  bool
}

func (h *tiktokenHandle) Encode(text string) []int {
	if h.closed {
		return nil
	}
	return h.enc.Encode(text, nil, nil)
}

func (h *tiktokenHandle) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true
	h.factory.active.Add(-1)
	return nil
}

var (
	_ Factory   = (*TiktokenFactory)(nil)
	_ Tokenizer = (*tiktokenHandle)(nil)
)
