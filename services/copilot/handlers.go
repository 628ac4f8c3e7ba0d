// Copyright (C) 2025 LTM Analytics (engineering@ltm-analytics.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package copilot

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ltm-analytics/riskmind/services/copilot/datatypes"
	"github.com/ltm-analytics/riskmind/services/copilot/providers"
)

// maxHistoryTurns bounds the history a single request may carry.
const maxHistoryTurns = 100

// ChatRequest is the body of POST /v1/copilot/chat.
type ChatRequest struct {
	Message string              `json:"message" binding:"required"`
	History []datatypes.Message `json:"history"`
}

// ProvidersResponse is the body of GET /v1/copilot/providers.
type ProvidersResponse struct {
	Providers []providers.ProviderStatus `json:"providers"`
}

// HealthResponse is the body of GET /v1/copilot/health.
type HealthResponse struct {
	Status   string `json:"status"`
	Backends int    `json:"backends"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Handlers holds the HTTP handlers for the copilot service.
type Handlers struct {
	svc *Service
}

// NewHandlers creates the handler set.
func NewHandlers(svc *Service) *Handlers {
	if svc == nil {
		panic("copilot: nil service")
	}
	return &Handlers{svc: svc}
}

// HandleChat handles POST /v1/copilot/chat.
//
// Description:
//
//	Runs the full pipeline for one message and returns the ChatResponse.
//	The pipeline converts its own failures into an error-provider
//	response, so this handler only rejects malformed requests.
//
// Response:
//
//	200 OK: datatypes.ChatResponse
//	400 Bad Request: missing message or oversized history
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleChat(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.svc.logger.With(slog.String("request_id", requestID))

	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "message is required",
			Code:  "INVALID_REQUEST",
		})
		return
	}
	if len(req.History) > maxHistoryTurns {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "history too long",
			Code:  "HISTORY_TOO_LONG",
		})
		return
	}

	resp := h.svc.pipeline.Run(c.Request.Context(), req.Message, req.History)

	logger.Info("chat handled",
		slog.String("provider", resp.Provider),
		slog.String("output_shape", string(resp.OutputShape)),
		slog.Bool("clarify", resp.ClarificationNeeded))
	c.JSON(http.StatusOK, resp)
}

// HandleProviders handles GET /v1/copilot/providers.
//
// Response:
//
//	200 OK: ProvidersResponse with backends in fallback order, the
//	deterministic mock floor last.
func (h *Handlers) HandleProviders(c *gin.Context) {
	c.JSON(http.StatusOK, ProvidersResponse{Providers: h.svc.chain.Status()})
}

// HandleHealth handles GET /v1/copilot/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:   "ok",
		Backends: h.svc.chain.Len(),
	})
}

// getOrCreateRequestID returns the caller-supplied X-Request-ID or mints
// one, and echoes it on the response.
func getOrCreateRequestID(c *gin.Context) string {
	id := c.GetHeader("X-Request-ID")
	if id == "" {
		id = uuid.NewString()
	}
	c.Header("X-Request-ID", id)
	return id
}
