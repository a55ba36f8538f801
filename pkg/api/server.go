// Package api provides the HTTP surface over the hybrid cache: store,
// load, eviction, stats, health, and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dscache/dscache/internal/metrics"
	"github.com/dscache/dscache/internal/store"
	cacheerrors "github.com/dscache/dscache/pkg/errors"
	"github.com/dscache/dscache/pkg/health"
	"github.com/dscache/dscache/pkg/types"
)

// Config configures the API server.
type Config struct {
	// Address to bind the server to (e.g. "localhost:8080").
	Address string `yaml:"address"`

	// ReadTimeout is the maximum duration for reading a request.
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the maximum duration to wait for the next request.
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		Address:      "localhost:8080",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Server exposes a HybridCache over HTTP.
type Server struct {
	httpServer *http.Server
	cache      *store.HybridCache
	checker    *health.Checker
	logger     zerolog.Logger
	config     Config
}

// NewServer creates the API server. The metrics recorder may be nil, in
// which case /metrics serves the process default registry.
func NewServer(cfg Config, cache *store.HybridCache, checker *health.Checker, recorder *metrics.Recorder, logger zerolog.Logger) *Server {
	s := &Server{
		cache:   cache,
		checker: checker,
		logger:  logger.With().Str("component", "api").Logger(),
		config:  cfg,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /v1/sessions/{sid}", s.handleDescribeSession)
	mux.HandleFunc("PUT /v1/sessions/{sid}/items/{key}", s.handleStore)
	mux.HandleFunc("GET /v1/sessions/{sid}/items/{key}", s.handleLoad)
	mux.HandleFunc("POST /v1/sessions/{sid}/touch", s.handleTouch)
	mux.HandleFunc("DELETE /v1/sessions/{sid}", s.handleEvict)
	mux.HandleFunc("GET /v1/stats", s.handleStats)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", recorder.Handler())

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Handler returns the configured handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins serving. It blocks until the listener fails or Stop is
// called.
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.config.Address).Msg("api server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type sessionResponse struct {
	SessionID string `json:"session_id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusCreated, sessionResponse{SessionID: uuid.NewString()})
}

func (s *Server) handleDescribeSession(w http.ResponseWriter, r *http.Request) {
	info, ok := s.cache.DescribeSession(r.PathValue("sid"))
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// handleStore accepts either a columnar table (application/json body
// holding the table document) or an opaque blob (any other content
// type, raw body bytes).
func (s *Server) handleStore(w http.ResponseWriter, r *http.Request) {
	sid, key := r.PathValue("sid"), r.PathValue("key")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unreadable request body"})
		return
	}

	// Parameters such as a charset must not demote a table to a blob.
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	var value types.Value
	if mediaType == "application/json" {
		var table types.Table
		if err := json.Unmarshal(body, &table); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid table document"})
			return
		}
		value = &table
	} else {
		value = types.Blob(body)
	}

	if err := s.cache.Store(r.Context(), sid, key, value); err != nil {
		s.logger.Error().Str("session", sid).Str("key", key).Err(err).Msg("store failed")
		status := http.StatusInternalServerError
		if cacheerrors.IsSerialization(err) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, errorResponse{Error: err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	sid, key := r.PathValue("sid"), r.PathValue("key")

	value, ok, err := s.cache.Load(r.Context(), sid, key)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
		return
	}

	switch v := value.(type) {
	case *types.Table:
		writeJSON(w, http.StatusOK, v)
	case types.Blob:
		w.Header().Set("Content-Type", "application/octet-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(v)
	default:
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "unknown value kind"})
	}
}

func (s *Server) handleTouch(w http.ResponseWriter, r *http.Request) {
	s.cache.Touch(r.Context(), r.PathValue("sid"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEvict(w http.ResponseWriter, r *http.Request) {
	s.cache.EvictSession(r.PathValue("sid"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cache.Stats())
}

// handleHealth reports 200 even when the service is degraded: the
// memory tier still serves, so the process should not be restarted.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.checker.Check(r.Context()))
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
