// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/thenextblock/ask-discord-ui/services/llm"
	"github.com/thenextblock/ask-discord-ui/services/orchestrator/handlers"
)

// SetupRoutes registers every endpoint of the relay. A nil gatherer
// leaves /metrics unregistered.
func SetupRoutes(router *gin.Engine, chat *handlers.ChatHandler, lister llm.ModelLister,
	gatherer prometheus.Gatherer) {

	router.GET("/health", handlers.HandleHealth())
	if gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	api := router.Group("/api")
	{
		api.POST("/chat", chat.HandleChat())
		api.POST("/chat/direct", chat.HandleDirectChat())
		api.GET("/chat/ws", chat.HandleChatWebSocket())
		api.GET("/models", handlers.HandleListModels(lister))
	}
}
