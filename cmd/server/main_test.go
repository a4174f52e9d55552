package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tutorly/backend/internal/auth"
	"github.com/tutorly/backend/internal/gamification"
	"github.com/tutorly/backend/internal/middleware"
	"github.com/tutorly/backend/internal/models"
	"github.com/tutorly/backend/internal/storage/memory"
)

const testServiceKey = "internal-test-key"

type testServer struct {
	router http.Handler
	tokens *auth.Tokens
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := memory.New()
	store.SeedDefaults(time.Now())

	reg := prometheus.NewRegistry()
	svc := gamification.NewService(store, nil, gamification.WithMetrics(gamification.NewMetrics(reg)))

	hash, err := auth.HashServiceKey(testServiceKey)
	require.NoError(t, err)

	tokens := auth.NewTokens("router-test-secret-0123456789")
	return &testServer{
		router: newRouter(gamification.NewHandler(svc, nil), tokens, auth.NewServiceKey(hash), reg),
		tokens: tokens,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) bearer(t *testing.T, userID uuid.UUID) http.Header {
	t.Helper()
	token, err := s.tokens.Issue(userID, time.Hour)
	require.NoError(t, err)
	return http.Header{"Authorization": {"Bearer " + token}}
}

func TestRouterAuth(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusUnauthorized, s.do(t, "GET", "/api/v1/gamification/me", nil, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(t, "POST", "/internal/v1/events", nil, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(t, "POST", "/internal/v1/events", nil,
		http.Header{middleware.ServiceKeyHeader: {"wrong"}}).Code)

	health := s.do(t, "GET", "/health", nil, nil)
	assert.Equal(t, http.StatusOK, health.Code)
	assert.JSONEq(t, `{"status":"ok"}`, health.Body.String())
}

func TestRouterEventThenSummary(t *testing.T) {
	s := newTestServer(t)
	userID := uuid.New()
	service := http.Header{middleware.ServiceKeyHeader: {testServiceKey}}

	rec := s.do(t, "POST", "/internal/v1/events", map[string]string{
		"user_id":      userID.String(),
		"event":        "lesson_completed",
		"reference_id": "lesson-1",
	}, service)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var report gamification.ActivityReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.NotNil(t, report.Award)
	assert.Empty(t, report.Failed)

	rec = s.do(t, "GET", "/api/v1/gamification/me", nil, s.bearer(t, userID))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var summary models.SummaryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, report.Award.UserXP.TotalXP, summary.TotalXP)
	assert.Positive(t, summary.TotalXP)

	rec = s.do(t, "GET", "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tutorly_gamification_xp_awarded_total")
}
