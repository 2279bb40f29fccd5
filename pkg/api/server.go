// Package api provides the HTTP control surface for the tracer: trace
// lifecycle, collection, hint flags and health monitoring
package api

import (
	"context"
	"encoding/json"
	stderr "errors"
	"net/http"
	"strings"
	"time"

	"github.com/pagetrace/pagetrace/internal/hint"
	"github.com/pagetrace/pagetrace/pkg/errors"
	"github.com/pagetrace/pagetrace/pkg/health"
	"github.com/pagetrace/pagetrace/pkg/types"
	"github.com/pagetrace/pagetrace/pkg/utils"
)

// RecorderControl is the slice of the recorder the control plane drives.
type RecorderControl interface {
	Setup(pids []int32, capacity int) error
	Start()
	Stop()
	Reset()
	Collect(pids []int32, capacity int) ([]types.TargetFootprint, error)
	Stats() types.RecorderStats
}

// Server exposes the tracer control plane over HTTP
type Server struct {
	httpServer    *http.Server
	recorder      RecorderControl
	hints         *hint.Hints
	uploader      types.FootprintUploader
	healthTracker *health.Tracker
	logger        *utils.Logger
	config        ServerConfig
}

// ServerConfig configures the API server
type ServerConfig struct {
	// Address to bind the server to (e.g., "localhost:8080")
	Address string `yaml:"address" json:"address"`

	// ReadTimeout is the maximum duration for reading the entire request
	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout"`

	// WriteTimeout is the maximum duration for writing the response
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`

	// IdleTimeout is the maximum duration to wait for the next request
	IdleTimeout time.Duration `yaml:"idle_timeout" json:"idle_timeout"`

	// UploadTimeout bounds a single collect-and-export call
	UploadTimeout time.Duration `yaml:"upload_timeout" json:"upload_timeout"`
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:       "localhost:8080",
		ReadTimeout:   10 * time.Second,
		WriteTimeout:  30 * time.Second,
		IdleTimeout:   60 * time.Second,
		UploadTimeout: 30 * time.Second,
	}
}

// Option customizes a Server beyond its required dependencies.
type Option func(*Server)

// WithUploader attaches a footprint uploader, enabling export on collect.
func WithUploader(u types.FootprintUploader) Option {
	return func(s *Server) { s.uploader = u }
}

// WithHealthTracker attaches a health tracker backing the health endpoints.
func WithHealthTracker(t *health.Tracker) Option {
	return func(s *Server) { s.healthTracker = t }
}

// WithLogger overrides the default logger.
func WithLogger(l *utils.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer creates a new control-plane server
func NewServer(config ServerConfig, recorder RecorderControl, hints *hint.Hints, opts ...Option) *Server {
	s := &Server{
		recorder: recorder,
		hints:    hints,
		logger:   utils.DefaultLogger(),
		config:   config,
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()

	// Trace lifecycle
	mux.HandleFunc("/setup", s.handleSetup)
	mux.HandleFunc("/start", s.handleStart)
	mux.HandleFunc("/stop", s.handleStop)
	mux.HandleFunc("/reset", s.handleReset)
	mux.HandleFunc("/collect", s.handleCollect)

	// Hint flags
	mux.HandleFunc("/hint", s.handleHint)

	// Health endpoints
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/components", s.handleHealthComponents)
	mux.HandleFunc("/health/live", s.handleLiveness)
	mux.HandleFunc("/health/ready", s.handleReadiness)

	// Info and stats
	mux.HandleFunc("/info", s.handleInfo)
	mux.HandleFunc("/stats", s.handleStats)

	s.httpServer = &http.Server{
		Addr:         config.Address,
		Handler:      s.loggingMiddleware(mux),
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return s
}

// Handler returns the server's HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("Starting control API on %s", s.config.Address)
	return s.httpServer.ListenAndServe()
}

// StartBackground starts the server in a background goroutine
func (s *Server) StartBackground() {
	go func() {
		if err := s.Start(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Control API error: %v", err)
		}
	}()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down control API")
	return s.httpServer.Shutdown(ctx)
}

// Trace lifecycle handlers

type setupRequest struct {
	PIDs     []int32 `json:"pids"`
	Capacity int     `json:"capacity"`
}

func (s *Server) handleSetup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req setupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if err := s.recorder.Setup(req.PIDs, req.Capacity); err != nil {
		s.respondTraceError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"targets":  len(req.PIDs),
		"capacity": req.Capacity,
	})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	s.recorder.Start()
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "enabled": true})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	s.recorder.Stop()
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "enabled": false})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	s.recorder.Reset()
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"status": "ok"})
}

type collectRequest struct {
	PIDs     []int32 `json:"pids"`
	Capacity int     `json:"capacity"`
	Export   bool    `json:"export,omitempty"`
	Session  string  `json:"session,omitempty"`
}

type collectResponse struct {
	Footprints []types.TargetFootprint `json:"footprints"`
	Exported   bool                    `json:"exported"`
	Session    string                  `json:"session,omitempty"`
}

func (s *Server) handleCollect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req collectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if req.Export && s.uploader == nil {
		s.respondTraceError(w, errors.NewError(errors.ErrCodeInvalidState,
			"export requested but no uploader is configured").
			WithComponent("api").
			WithOperation("collect"))
		return
	}

	footprints, err := s.recorder.Collect(req.PIDs, req.Capacity)
	if err != nil {
		s.respondTraceError(w, err)
		return
	}

	resp := collectResponse{Footprints: footprints}
	if req.Export {
		session := req.Session
		if session == "" {
			session = time.Now().UTC().Format("20060102T150405Z")
		}
		ctx, cancel := context.WithTimeout(r.Context(), s.config.UploadTimeout)
		defer cancel()
		if err := s.uploader.Upload(ctx, session, footprints); err != nil {
			s.respondTraceError(w, err)
			return
		}
		resp.Exported = true
		resp.Session = session
	}

	s.respondJSON(w, http.StatusOK, resp)
}

// Hint handlers

func (s *Server) handleHint(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.respondJSON(w, http.StatusOK, s.hints.Snapshot())
	case http.MethodPut:
		var state hint.State
		if err := json.NewDecoder(r.Body).Decode(&state); err != nil {
			s.respondError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
			return
		}
		if err := s.hints.Apply(state); err != nil {
			s.respondTraceError(w, err)
			return
		}
		s.respondJSON(w, http.StatusOK, s.hints.Snapshot())
	default:
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// Health handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if s.healthTracker == nil {
		s.respondJSON(w, http.StatusOK, map[string]interface{}{
			"status": "healthy",
			"note":   "Health tracking not configured",
		})
		return
	}

	overallHealth := s.healthTracker.GetOverallHealth()
	components := s.healthTracker.GetAllComponents()

	response := map[string]interface{}{
		"status":     overallHealth.String(),
		"timestamp":  time.Now(),
		"components": len(components),
	}

	statusCode := http.StatusOK
	switch overallHealth {
	case health.StateUnavailable:
		statusCode = http.StatusServiceUnavailable
	case health.StateDegraded, health.StateCaptureOnly:
		statusCode = http.StatusPartialContent
	}

	s.respondJSON(w, statusCode, response)
}

func (s *Server) handleHealthComponents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if s.healthTracker == nil {
		s.respondError(w, http.StatusServiceUnavailable, "Health tracking not configured")
		return
	}

	s.respondJSON(w, http.StatusOK, s.healthTracker.GetAllComponents())
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"alive":     true,
		"timestamp": time.Now(),
	})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if s.healthTracker == nil {
		s.respondJSON(w, http.StatusOK, map[string]interface{}{
			"ready":     true,
			"timestamp": time.Now(),
			"note":      "Health tracking not configured",
		})
		return
	}

	overallHealth := s.healthTracker.GetOverallHealth()
	ready := overallHealth != health.StateUnavailable

	statusCode := http.StatusOK
	if !ready {
		statusCode = http.StatusServiceUnavailable
	}

	s.respondJSON(w, statusCode, map[string]interface{}{
		"ready":     ready,
		"status":    overallHealth.String(),
		"timestamp": time.Now(),
	})
}

// Info and stats

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"service":   "pagetrace",
		"version":   "0.2.0",
		"timestamp": time.Now(),
		"export":    s.uploader != nil,
		"endpoints": []string{
			"/setup",
			"/start",
			"/stop",
			"/reset",
			"/collect",
			"/hint",
			"/health",
			"/health/components",
			"/health/live",
			"/health/ready",
			"/info",
			"/stats",
		},
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"recorder":  s.recorder.Stats(),
		"hint":      s.hints.Snapshot(),
		"timestamp": time.Now(),
	})
}

// Middleware

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("API: %s %s completed in %v", r.Method, r.URL.Path, time.Since(start))
	})
}

// Helper methods

func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Error encoding JSON response: %v", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, statusCode int, message string) {
	s.respondJSON(w, statusCode, map[string]interface{}{
		"error":     message,
		"timestamp": time.Now(),
	})
}

// respondTraceError maps a tracer error onto its HTTP status, keeping the
// error code in the body so callers can dispatch on it.
func (s *Server) respondTraceError(w http.ResponseWriter, err error) {
	var traceErr *errors.TraceError
	if !stderr.As(err, &traceErr) {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	statusCode := traceErr.HTTPStatus
	if statusCode == 0 {
		statusCode = errors.GetDefaultHTTPStatus(traceErr.Code)
	}

	if traceErr.Fatal {
		s.logger.Error("Contract violation surfaced to API: %v", traceErr)
	}

	s.respondJSON(w, statusCode, map[string]interface{}{
		"error":     strings.TrimSpace(traceErr.Message),
		"code":      string(traceErr.Code),
		"timestamp": time.Now(),
	})
}
