// Copyright (C) 2025 LTM Analytics (engineering@ltm-analytics.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package copilot

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/ltm-analytics/riskmind/services/copilot/datatypes"
	"github.com/ltm-analytics/riskmind/services/copilot/intent"
	"github.com/ltm-analytics/riskmind/services/copilot/pipeline"
	"github.com/ltm-analytics/riskmind/services/copilot/providers"
	"github.com/ltm-analytics/riskmind/services/copilot/resolver"
	"github.com/ltm-analytics/riskmind/services/copilot/retrieval"
	"github.com/ltm-analytics/riskmind/services/copilot/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubDataStore struct{}

func (stubDataStore) Snapshot(_ context.Context) (*datatypes.Snapshot, error) {
	return &datatypes.Snapshot{
		Policies: []datatypes.Policy{{PolicyNumber: "COMM-2024-001", Premium: 100000}},
	}, nil
}

func (stubDataStore) ExecutePlan(_ context.Context, _ datatypes.QueryPlan) ([]*store.QueryResult, error) {
	return nil, nil
}

type stubSearcher struct{}

func (stubSearcher) SearchGuidelines(_ context.Context, _ string, _ int) ([]retrieval.Result, error) {
	return nil, nil
}

func (stubSearcher) SearchCases(_ context.Context, _ string, _ int) ([]retrieval.Result, error) {
	return nil, nil
}

func newTestRouter() *gin.Engine {
	chain := providers.NewChain(nil, nil) // no backends: mock floor serves
	p := pipeline.New(pipeline.Options{
		Router:   intent.NewRouter(nil),
		Resolver: resolver.New(resolver.Options{}),
		Store:    stubDataStore{},
		Searcher: stubSearcher{},
		Chain:    chain,
	})
	handlers := NewHandlers(NewService(p, chain, nil))

	router := gin.New()
	RegisterRoutes(router.Group("/v1"), handlers)
	return router
}

func TestHandleChat_OK(t *testing.T) {
	router := newTestRouter()

	body, _ := json.Marshal(ChatRequest{Message: "hello"})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/copilot/chat", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body = %s", w.Code, w.Body.String())
	}

	var resp datatypes.ChatResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if resp.Provider != "mock" {
		t.Errorf("provider = %q, want mock with no backends configured", resp.Provider)
	}
	if resp.Text == "" {
		t.Error("empty response text")
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
}

func TestHandleChat_EchoesRequestID(t *testing.T) {
	router := newTestRouter()

	body, _ := json.Marshal(ChatRequest{Message: "hello"})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/copilot/chat", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", "req-42")
	router.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "req-42" {
		t.Errorf("X-Request-ID = %q, want the caller's value echoed", got)
	}
}

func TestHandleChat_RejectsMissingMessage(t *testing.T) {
	router := newTestRouter()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/copilot/chat", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad error body: %v", err)
	}
	if resp.Code != "INVALID_REQUEST" {
		t.Errorf("code = %q, want INVALID_REQUEST", resp.Code)
	}
}

func TestHandleChat_RejectsOversizedHistory(t *testing.T) {
	router := newTestRouter()

	history := make([]datatypes.Message, maxHistoryTurns+1)
	for i := range history {
		history[i] = datatypes.Message{Role: datatypes.RoleUser, Content: "turn"}
	}
	body, _ := json.Marshal(ChatRequest{Message: "hello", History: history})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/copilot/chat", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestHandleProviders_ListsMockFloor(t *testing.T) {
	router := newTestRouter()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/copilot/providers", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp ProvidersResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if len(resp.Providers) != 1 || resp.Providers[0].Name != providers.ProviderMock {
		t.Errorf("providers = %+v, want only the mock floor", resp.Providers)
	}
}

func TestHandleHealth(t *testing.T) {
	router := newTestRouter()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/copilot/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if resp.Status != "ok" || resp.Backends != 0 {
		t.Errorf("health = %+v", resp)
	}
}
