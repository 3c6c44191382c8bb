// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeAll(t *testing.T, r io.Reader) []Event {
	t.Helper()
	d := NewEventDecoder(r)
	var out []Event
	for {
		ev, err := d.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, ev)
	}
}

func TestEventDecoder_BasicEvents(t *testing.T) {
	body := "data: {\"a\":1}\n\ndata: {\"a\":2}\n\n"
	events := decodeAll(t, strings.NewReader(body))

	require.Len(t, events, 2)
	assert.Equal(t, `{"a":1}`, events[0].Data)
	assert.Equal(t, `{"a":2}`, events[1].Data)
	assert.Empty(t, events[0].Name)
}

func TestEventDecoder_LineEndings(t *testing.T) {
	for name, body := range map[string]string{
		"lf":   "data: x\n\ndata: y\n\n",
		"crlf": "data: x\r\n\r\ndata: y\r\n\r\n",
		"cr":   "data: x\r\rdata: y\r\r",
	} {
		t.Run(name, func(t *testing.T) {
			events := decodeAll(t, strings.NewReader(body))
			require.Len(t, events, 2)
			assert.Equal(t, "x", events[0].Data)
			assert.Equal(t, "y", events[1].Data)
		})
	}
}

func TestEventDecoder_SplitAcrossReads(t *testing.T) {
	body := "event: delta\r\ndata: hel\r\ndata: lo\r\nid: 7\r\n\r\n"
	events := decodeAll(t, iotest.OneByteReader(strings.NewReader(body)))

	require.Len(t, events, 1)
	assert.Equal(t, "delta", events[0].Name)
	assert.Equal(t, "hel\nlo", events[0].Data)
	assert.Equal(t, "7", events[0].ID)
}

func TestEventDecoder_CommentsAndUnknownFields(t *testing.T) {
	body := ": keep-alive\nfoo: bar\ndata:no-space\nretry: 3000\n\n"
	events := decodeAll(t, strings.NewReader(body))

	require.Len(t, events, 1)
	assert.Equal(t, "no-space", events[0].Data)
	assert.Equal(t, 3000, events[0].Retry)
}

func TestEventDecoder_BlankLinesWithoutDataAreSkipped(t *testing.T) {
	body := "\n\nevent: ping\n\ndata: x\n\n"
	events := decodeAll(t, strings.NewReader(body))

	require.Len(t, events, 1)
	assert.Equal(t, "x", events[0].Data)
	assert.Empty(t, events[0].Name, "event name must reset after an empty dispatch")
}

func TestEventDecoder_UnterminatedEventIsDiscarded(t *testing.T) {
	events := decodeAll(t, strings.NewReader("data: a\n\ndata: b"))
	require.Len(t, events, 1)
	assert.Equal(t, "a", events[0].Data)
}

func TestEventDecoder_ByteOrderMark(t *testing.T) {
	events := decodeAll(t, strings.NewReader("\uFEFFdata: a\n\n"))
	require.Len(t, events, 1)
	assert.Equal(t, "a", events[0].Data)
}

func TestEventDecoder_IDPersistsAcrossEvents(t *testing.T) {
	events := decodeAll(t, strings.NewReader("id: 1\ndata: a\n\ndata: b\n\n"))
	require.Len(t, events, 2)
	assert.Equal(t, "1", events[1].ID)
}

func TestEventDecoder_ReadErrorIsReturned(t *testing.T) {
	boom := errors.New("connection reset")
	d := NewEventDecoder(io.MultiReader(strings.NewReader("data: a\n\n"), iotest.ErrReader(boom)))

	ev, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, "a", ev.Data)

	_, err = d.Next()
	assert.ErrorIs(t, err, boom)
}
