// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the relay service.
//
// # Request Flow
//
//	Request
//	   │
//	   ▼
//	Recovery (500 on panic, re-panics http.ErrAbortHandler)
//	   │
//	   ▼
//	RequestID
//	   │
//	   ├─► Reuse a sane "X-Request-ID" header or mint a UUID
//	   │
//	   ├─► Store it in the Gin context and echo it in the response
//	   │
//	   └─► AccessLog records method, path, status and latency
//	           │
//	           ▼
//	       Handler (retrieves via GetRequestID)
package middleware

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestIDHeader is read from requests and set on responses.
const RequestIDHeader = "X-Request-ID"

// requestIDKey is the Gin context key for the request ID.
const requestIDKey = "askdiscord_request_id"

// maxRequestIDLength bounds caller-supplied IDs.
const maxRequestIDLength = 128

// RequestID assigns every request an ID.
//
// # Description
//
// A caller-supplied X-Request-ID is kept when it is non-empty, printable
// ASCII and at most 128 bytes; otherwise a random UUID is generated.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if !validRequestID(id) {
			id = uuid.New().String()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// GetRequestID returns the ID assigned by RequestID, or "" when the
// middleware did not run.
func GetRequestID(c *gin.Context) string {
	if v, ok := c.Get(requestIDKey); ok {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// AccessLog logs one line per request with slog.
func AccessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Info("Handled request",
			"request_id", GetRequestID(c),
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"latency", time.Since(start),
		)
	}
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}
