// Copyright (C) 2025 ATensAI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jidemobell/atensaiknowledgebase-sub000/services/fusion/belief"
	"github.com/jidemobell/atensaiknowledgebase-sub000/services/fusion/cluster"
	"github.com/jidemobell/atensaiknowledgebase-sub000/services/fusion/config"
	"github.com/jidemobell/atensaiknowledgebase-sub000/services/fusion/datatypes"
	"github.com/jidemobell/atensaiknowledgebase-sub000/services/fusion/handlers"
	"github.com/jidemobell/atensaiknowledgebase-sub000/services/fusion/retrieval"
	"github.com/jidemobell/atensaiknowledgebase-sub000/services/fusion/router"
	"github.com/jidemobell/atensaiknowledgebase-sub000/services/fusion/routes"
	"github.com/jidemobell/atensaiknowledgebase-sub000/services/fusion/sessionstore"
	"github.com/jidemobell/atensaiknowledgebase-sub000/services/fusion/store"
	"github.com/jidemobell/atensaiknowledgebase-sub000/services/fusion/synthesis"
	"github.com/jidemobell/atensaiknowledgebase-sub000/services/fusion/vectorizer"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type env struct {
	router *gin.Engine
	deps   handlers.Deps
	clock  *fakeClock
}

func newEnv(t *testing.T) *env {
	t.Helper()
	cfg := &config.Config{
		Port:             "0",
		VectorDim:        256,
		TopK:             5,
		RetrievalTimeout: 2 * time.Second,
		NarrowThreshold:  500,
		ClusterK:         4,
		ClusterMaxIter:   50,
		SessionWindow:    30 * time.Minute,
		SweepInterval:    time.Minute,
	}
	vec := vectorizer.New(cfg.VectorDim)
	cases := store.NewMemoryCaseStore(vec)
	chunks := store.NewMemoryChunkStore(vec)
	rebuilder := cluster.NewRebuilder(cases, cfg.ClusterK, cfg.ClusterMaxIter)
	clock := newFakeClock()

	deps := handlers.Deps{
		Config:     cfg,
		Vectorizer: vec,
		Cases:      cases,
		Chunks:     chunks,
		Retriever: &retrieval.Retriever{
			Cases:           cases,
			Chunks:          chunks,
			Clusters:        rebuilder,
			CaseCount:       cases.Len,
			NarrowThreshold: cfg.NarrowThreshold,
			Timeout:         cfg.RetrievalTimeout,
		},
		Tracker:   belief.NewTracker(belief.DefaultConfig()),
		Sessions:  sessionstore.New(cfg.SessionWindow, clock),
		Engine:    synthesis.NewEngine(3, cfg.TopK),
		Router:    router.New(nil),
		Rebuilder: rebuilder,
	}

	r := gin.New()
	routes.SetupRoutes(r, deps)
	return &env{router: r, deps: deps, clock: clock}
}

func (e *env) seedKafkaCase(t *testing.T) {
	t.Helper()
	err := e.deps.Cases.Add(datatypes.Case{
		ID:               "c1",
		Title:            "kafka consumer group timeout",
		Description:      "consumers dropped from the group after broker restart, lag climbing",
		AffectedServices: []string{"payments"},
		SymptomTags:      []string{"kafka", "consumer", "timeout", "lag"},
		ResolutionSteps:  []string{"increase session.timeout.ms", "restart consumer group"},
		Confidence:       0.9,
		CreatedAt:        time.Now(),
	}, "")
	require.NoError(t, err)
}

func (e *env) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *env) query(t *testing.T, req datatypes.QueryRequest) datatypes.QueryResponse {
	t.Helper()
	w := e.do(t, http.MethodPost, "/query", req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp datatypes.QueryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

// A first query against an empty knowledge base must answer honestly: no
// hypotheses, zero confidence, but a created session ready for more turns.
func TestQuery_EmptyKnowledgeBaseReportsInsufficientData(t *testing.T) {
	e := newEnv(t)

	resp := e.query(t, datatypes.QueryRequest{Query: "kafka consumers keep timing out"})

	assert.NotEmpty(t, resp.SessionId)
	assert.Empty(t, resp.Hypotheses)
	assert.Zero(t, resp.Confidence)
	assert.Contains(t, resp.Response, "enough information")

	w := e.do(t, http.MethodGet, "/session/"+resp.SessionId, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var sess datatypes.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sess))
	assert.Equal(t, 1, sess.TurnCount)
	assert.Equal(t, datatypes.BeliefNoHypotheses, sess.State)
}

// A matching case must yield a hypothesis whose confidence grows as later
// turns reinforce it.
func TestQuery_MatchingCaseBuildsConfidenceAcrossTurns(t *testing.T) {
	e := newEnv(t)
	e.seedKafkaCase(t)

	first := e.query(t, datatypes.QueryRequest{Query: "kafka consumer group keeps timing out with lag"})
	require.NotEmpty(t, first.Hypotheses)
	assert.Equal(t, "kafka consumer group timeout", first.Hypotheses[0].Cause)
	assert.Greater(t, first.Confidence, 0.0)
	assert.Contains(t, first.Response, "increase session.timeout.ms")

	second := e.query(t, datatypes.QueryRequest{
		Query:     "still seeing kafka consumer timeout and growing lag",
		SessionId: first.SessionId,
	})
	assert.Equal(t, first.SessionId, second.SessionId)
	assert.GreaterOrEqual(t, second.Confidence, first.Confidence)

	w := e.do(t, http.MethodGet, "/session/"+first.SessionId, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var sess datatypes.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sess))
	assert.Equal(t, 2, sess.TurnCount)
	assert.NotEmpty(t, sess.EvidenceHistory)
}

type downBackend struct{}

func (downBackend) Name() string                     { return "primary" }
func (downBackend) Healthy(ctx context.Context) bool { return false }
func (downBackend) Render(ctx context.Context, q string, c synthesis.Composition) (string, error) {
	return "", nil
}

// With the preferred backend down the query must still succeed, flagged as
// degraded, and the session must still be updated.
func TestQuery_BackendUnavailabilityDegradesButNeverFails(t *testing.T) {
	e := newEnv(t)
	e.seedKafkaCase(t)
	e.deps.Router = router.NewWithChains(map[router.Intent][]synthesis.Backend{
		router.IntentDiagnostic:   {downBackend{}, synthesis.TemplateBackend{}, synthesis.AckBackend{}},
		router.IntentSynthesis:    {downBackend{}, synthesis.TemplateBackend{}, synthesis.AckBackend{}},
		router.IntentUnclassified: {downBackend{}, synthesis.TemplateBackend{}, synthesis.AckBackend{}},
	})
	r := gin.New()
	routes.SetupRoutes(r, e.deps)
	e.router = r

	resp := e.query(t, datatypes.QueryRequest{Query: "kafka consumer timeout again"})

	assert.True(t, resp.Degraded)
	assert.Equal(t, "template", resp.Backend)
	assert.NotEmpty(t, resp.Response)

	w := e.do(t, http.MethodGet, "/session/"+resp.SessionId, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// The down backend also surfaces on the health endpoint.
	w = e.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var h datatypes.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &h))
	assert.Equal(t, "degraded", h.Status)
	assert.Equal(t, []string{"primary"}, h.DegradedBackends)
}

// A session idle past its window is gone; reusing its ID starts fresh.
func TestQuery_ExpiredSessionStartsOver(t *testing.T) {
	e := newEnv(t)
	e.seedKafkaCase(t)

	first := e.query(t, datatypes.QueryRequest{Query: "kafka consumer timeout"})

	e.clock.Advance(31 * time.Minute)

	w := e.do(t, http.MethodGet, "/session/"+first.SessionId, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	second := e.query(t, datatypes.QueryRequest{
		Query:     "kafka consumer timeout",
		SessionId: first.SessionId,
	})
	assert.Equal(t, first.SessionId, second.SessionId)

	w = e.do(t, http.MethodGet, "/session/"+first.SessionId, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var sess datatypes.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sess))
	assert.Equal(t, 1, sess.TurnCount, "expired session must restart from turn one")
}

func TestQuery_MissingQueryFieldRejected(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, http.MethodPost, "/query", map[string]string{"session_id": "s1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSession_DeleteThenNotFound(t *testing.T) {
	e := newEnv(t)
	resp := e.query(t, datatypes.QueryRequest{Query: "anything at all"})

	w := e.do(t, http.MethodDelete, "/session/"+resp.SessionId, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = e.do(t, http.MethodDelete, "/session/"+resp.SessionId, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(t, http.MethodGet, "/session/"+resp.SessionId, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessions_ListSummaries(t *testing.T) {
	e := newEnv(t)
	e.query(t, datatypes.QueryRequest{Query: "first session"})
	e.query(t, datatypes.QueryRequest{Query: "second session"})

	w := e.do(t, http.MethodGet, "/sessions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var out struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, 2, out.Count)
}

func TestIngest_CaseLifecycle(t *testing.T) {
	e := newEnv(t)

	req := datatypes.IngestCaseRequest{
		ID:          "c100",
		Title:       "tls certificate expired on gateway",
		SymptomTags: []string{"tls", "handshake"},
	}
	w := e.do(t, http.MethodPost, "/v1/cases", req)
	assert.Equal(t, http.StatusCreated, w.Code)

	w = e.do(t, http.MethodPost, "/v1/cases", req)
	assert.Equal(t, http.StatusConflict, w.Code)

	resp := e.query(t, datatypes.QueryRequest{Query: "tls handshake failures on the gateway"})
	require.NotEmpty(t, resp.Evidence)
	assert.Equal(t, "case", resp.Evidence[0].Source)
}

func TestIngest_DocumentLifecycle(t *testing.T) {
	e := newEnv(t)

	doc := datatypes.IngestDocumentRequest{
		ID:   "runbook-1",
		Text: "When disk pressure evicts pods, check node ephemeral storage and clear image cache.",
	}
	w := e.do(t, http.MethodPost, "/v1/documents", doc)
	assert.Equal(t, http.StatusCreated, w.Code)

	resp := e.query(t, datatypes.QueryRequest{Query: "pods evicted due to disk pressure on a node"})
	require.NotEmpty(t, resp.Evidence)
	assert.Equal(t, "document", resp.Evidence[0].Source)

	w = e.do(t, http.MethodDelete, "/v1/documents/runbook-1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = e.do(t, http.MethodDelete, "/v1/documents/runbook-1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdmin_RebuildAcceptedThenThrottled(t *testing.T) {
	e := newEnv(t)
	e.seedKafkaCase(t)

	w := e.do(t, http.MethodPost, "/admin/rebuild-clusters", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)

	// The trigger limiter allows one rebuild per window.
	w = e.do(t, http.MethodPost, "/admin/rebuild-clusters", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestAdmin_RefitVectorizerBumpsVersion(t *testing.T) {
	e := newEnv(t)
	e.seedKafkaCase(t)
	before := e.deps.Vectorizer.Version()

	w := e.do(t, http.MethodPost, "/admin/refit-vectorizer", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Greater(t, e.deps.Vectorizer.Version(), before)

	// Queries keep working against the refit vectorizer.
	resp := e.query(t, datatypes.QueryRequest{Query: "kafka consumer timeout"})
	assert.NotEmpty(t, resp.Evidence)
}

func TestHealth_ReportsVersions(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var h datatypes.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &h))
	assert.Equal(t, "healthy", h.Status)
	assert.EqualValues(t, 1, h.VectorizerVersion)
	assert.Zero(t, h.ClusterIndexVersion)
}
