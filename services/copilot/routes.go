// Copyright (C) 2025 LTM Analytics (engineering@ltm-analytics.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package copilot

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all copilot routes with the router.
//
// Description:
//
//	Registers the /v1/copilot/* endpoints with the given Gin router
//	group. The group should already carry any required middleware.
//
// Endpoints:
//
//	POST /v1/copilot/chat - Run the pipeline for one message
//	GET  /v1/copilot/providers - Generation backend status
//	GET  /v1/copilot/health - Health check
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	copilot := rg.Group("/copilot")
	{
		copilot.POST("/chat", handlers.HandleChat)
		copilot.GET("/providers", handlers.HandleProviders)
		copilot.GET("/health", handlers.HandleHealth)
	}
}
