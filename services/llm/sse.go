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
	"bufio"
	"bytes"
	"io"
	"strconv"
	"strings"
)

// maxEventLineBytes bounds a single line of the event stream.
const maxEventLineBytes = 1 << 20

// Event is one dispatched Server-Sent Event.
//
// # Fields
//
//   - Name: Value of the "event" field; empty means the default "message".
//   - Data: Joined "data" lines, without the trailing newline.
//   - ID: Last event ID seen on the stream so far.
//   - Retry: Reconnection delay in milliseconds sent with this event, or 0.
type Event struct {
	Name  string
	Data  string
	ID    string
	Retry int
}

// EventDecoder incrementally parses a text/event-stream body.
//
// # Description
//
// Lines may end in "\n", "\r\n" or "\r". Lines starting with ":" are
// comments and ignored. An event is dispatched at a blank line when at
// least one "data" field was seen; a trailing event that is not closed by
// a blank line before EOF is discarded.
//
// # Thread Safety
//
// Not safe for concurrent use. One decoder belongs to one stream.
type EventDecoder struct {
	scanner *bufio.Scanner
	lastID  string
	started bool
}

// NewEventDecoder returns a decoder reading from r.
func NewEventDecoder(r io.Reader) *EventDecoder {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 4096), maxEventLineBytes)
	s.Split(scanEventLines)
	return &EventDecoder{scanner: s}
}

// Next blocks until the next event is complete. It returns io.EOF when the
// body ends and the underlying read error otherwise.
func (d *EventDecoder) Next() (Event, error) {
	var (
		data    strings.Builder
		hasData bool
		name    string
		retry   int
	)

	for d.scanner.Scan() {
		line := d.scanner.Text()
		if !d.started {
			line = strings.TrimPrefix(line, "\uFEFF")
			d.started = true
		}

		if line == "" {
			if !hasData {
				name, retry = "", 0
				continue
			}
			return Event{
				Name:  name,
				Data:  strings.TrimSuffix(data.String(), "\n"),
				ID:    d.lastID,
				Retry: retry,
			}, nil
		}
		if line[0] == ':' {
			continue
		}

		field, value, found := strings.Cut(line, ":")
		if found {
			value = strings.TrimPrefix(value, " ")
		}
		switch field {
		case "event":
			name = value
		case "data":
			data.WriteString(value)
			data.WriteByte('\n')
			hasData = true
		case "id":
			if !strings.ContainsRune(value, 0) {
				d.lastID = value
			}
		case "retry":
			if isDigits(value) {
				if n, err := strconv.Atoi(value); err == nil {
					retry = n
				}
			}
		}
	}

	if err := d.scanner.Err(); err != nil {
		return Event{}, err
	}
	return Event{}, io.EOF
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// scanEventLines is a bufio.SplitFunc that accepts LF, CRLF and lone CR
// line endings.
func scanEventLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		if data[i] == '\n' {
			return i + 1, data[:i], nil
		}
		if i+1 < len(data) {
			if data[i+1] == '\n' {
				return i + 2, data[:i], nil
			}
			return i + 1, data[:i], nil
		}
		if atEOF {
			return i + 1, data[:i], nil
		}
		// A trailing CR may be the first half of CRLF.
		return 0, nil, nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
