// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/thenextblock/ask-discord-ui/services/llm"
	"github.com/thenextblock/ask-discord-ui/services/orchestrator/datatypes"
)

// APIKeyHeader lets the UI list models for its own key.
const APIKeyHeader = "X-Api-Key"

// HandleListModels serves GET /api/models: the catalog models the
// provider reports as available for the caller's key, or the server key
// when the header is absent.
func HandleListModels(lister llm.ModelLister) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(APIKeyHeader)
		ids, err := lister.ListModels(c.Request.Context(), key)
		if err != nil {
			writeError(c, err)
			return
		}

		available := make(map[string]bool, len(ids))
		for _, id := range ids {
			available[id] = true
		}
		models := make([]datatypes.ModelDescriptor, 0)
		for _, m := range datatypes.CatalogModels() {
			if available[m.ID] {
				models = append(models, m)
			}
		}

		slog.Debug("Listed models", "available", len(ids), "returned", len(models), "key_present", key != "")
		c.JSON(http.StatusOK, models)
	}
}

// HandleHealth serves GET /health.
func HandleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
