package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Harshitk-cp/voicebridge/internal/config"
	"github.com/Harshitk-cp/voicebridge/internal/metrics"
	"github.com/Harshitk-cp/voicebridge/internal/webrtc"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T) *HTTPServer {
	t.Helper()
	cfg := &config.Config{}
	cfg.Service.Version = "1.2.3"
	cfg.Signaling.Role = config.RoleMaster

	registry := webrtc.NewRegistry(zap.NewNop())
	t.Cleanup(registry.CloseAll)

	return NewHTTPServer(cfg, registry, metrics.NewNoopCollector(), zap.NewNop())
}

func testRouter(s *HTTPServer) *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/health", s.healthHandler).Methods(http.MethodGet)
	router.HandleFunc("/stats", s.statsHandler).Methods(http.MethodGet)
	return router
}

func TestHealthHandler(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	testRouter(s).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "UP", resp.Status)
	assert.Equal(t, "1.2.3", resp.Version)
	assert.Equal(t, config.RoleMaster, resp.Role)
}

func TestStatsHandlerEmptyRegistry(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	testRouter(s).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp StatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Zero(t, resp.SessionCount)
	assert.Empty(t, resp.Sessions)
}
