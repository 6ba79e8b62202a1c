package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/Harshitk-cp/voicebridge/internal/config"
	"github.com/Harshitk-cp/voicebridge/internal/metrics"
	"github.com/Harshitk-cp/voicebridge/internal/model"
	"github.com/Harshitk-cp/voicebridge/internal/webrtc"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Role      string    `json:"role"`
	Uptime    string    `json:"uptime"`
}

// StatsResponse represents the session stats response
type StatsResponse struct {
	SessionCount int                     `json:"session_count"`
	Sessions     []model.SessionSnapshot `json:"sessions"`
}

// HTTPServer represents the HTTP server
type HTTPServer struct {
	config    *config.Config
	registry  *webrtc.Registry
	collector metrics.Collector
	logger    *zap.Logger
	server    *http.Server
	startTime time.Time
}

// NewHTTPServer creates a new HTTP server
func NewHTTPServer(cfg *config.Config, registry *webrtc.Registry, collector metrics.Collector, logger *zap.Logger) *HTTPServer {
	return &HTTPServer{
		config:    cfg,
		registry:  registry,
		collector: collector,
		logger:    logger,
		startTime: time.Now(),
	}
}

// Start starts the HTTP server. It blocks until the server exits.
func (s *HTTPServer) Start() error {
	router := mux.NewRouter()
	router.HandleFunc("/health", s.healthHandler).Methods(http.MethodGet)
	router.HandleFunc("/ready", s.readyHandler).Methods(http.MethodGet)
	router.HandleFunc("/stats", s.statsHandler).Methods(http.MethodGet)
	router.Handle("/metrics", s.collector.Handler()).Methods(http.MethodGet)

	s.server = &http.Server{
		Addr:         s.config.HTTP.Address,
		Handler:      router,
		ReadTimeout:  s.config.HTTP.ReadTimeout,
		WriteTimeout: s.config.HTTP.WriteTimeout,
	}

	s.logger.Info("starting HTTP server", zap.String("address", s.config.HTTP.Address))
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server
func (s *HTTPServer) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.config.HTTP.ShutdownTimeout)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// healthHandler handles health check requests
func (s *HTTPServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "UP",
		Timestamp: time.Now(),
		Version:   s.config.Service.Version,
		Role:      s.config.Signaling.Role,
		Uptime:    time.Since(s.startTime).String(),
	}
	writeJSON(w, http.StatusOK, resp)
}

// readyHandler reports readiness once at least the relay link is expected
func (s *HTTPServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "READY"})
}

// statsHandler exposes per-session counters
func (s *HTTPServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	snapshots := s.registry.Snapshots()
	writeJSON(w, http.StatusOK, StatsResponse{
		SessionCount: len(snapshots),
		Sessions:     snapshots,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
