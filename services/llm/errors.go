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
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

// APIError is a structured error returned by the completion provider.
//
// # Description
//
// Produced when the provider answers with a non-200 status and a body of
// the form {"error": {"message", "type", "param", "code"}}. Message is the
// human-readable text and is safe to show to the caller.
//
// # Fields
//
//   - Message: Provider's error message (e.g. "Incorrect API key provided").
//   - Type: Error category (e.g. "invalid_request_error").
//   - Param: Offending parameter, empty when not reported.
//   - Code: Provider error code; may be a string, number or nil.
//   - StatusCode: HTTP status of the provider response.
type APIError struct {
	Message    string
	Type       string
	Param      string
	Code       any
	StatusCode int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("completion api error (status %d, type %s): %s", e.StatusCode, e.Type, e.Message)
}

// TransportError covers provider failures without a structured body:
// connection errors, or non-200 responses whose body is not an error
// object.
type TransportError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("completion transport error: %v", e.Err)
	}
	return fmt.Sprintf("completion transport error (status %d): %s", e.StatusCode, e.Body)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// StreamDecodeError means an event payload in the completion stream was
// not valid JSON or had no choices array. The stream is failed and no
// further chunks are produced.
type StreamDecodeError struct {
	Data string
	Err  error
}

func (e *StreamDecodeError) Error() string {
	return fmt.Sprintf("completion stream decode error: %v", e.Err)
}

func (e *StreamDecodeError) Unwrap() error {
	return e.Err
}

// ErrStreamTruncated means the provider closed the event stream without a
// finish signal.
var ErrStreamTruncated = errors.New("completion stream ended before finish")

var errMissingChoices = errors.New("event has no choices array")

// =============================================================================
// Helpers
// =============================================================================

// IsAPIError reports whether err wraps an *APIError.
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

// IsStreamDecodeError reports whether err wraps a *StreamDecodeError.
func IsStreamDecodeError(err error) bool {
	var decodeErr *StreamDecodeError
	return errors.As(err, &decodeErr)
}
