package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aicca-ai/aicca/internal/llm"
	"github.com/aicca-ai/aicca/internal/storage"
	"github.com/aicca-ai/aicca/internal/telemetry"
	"github.com/aicca-ai/aicca/internal/tools"
	"github.com/aicca-ai/aicca/internal/ws"
)

// Server is the HTTP and websocket surface.
type Server struct {
	cfg       *Config
	mux       *http.ServeMux
	server    *http.Server
	logger    *slog.Logger
	metrics   *telemetry.Metrics
	registry  *ws.Registry
	gateway   *ws.Gateway
	runner    *tools.AsyncRunner
	store     storage.FileStore
	upgrader  websocket.Upgrader
	startTime time.Time
}

// ServerOption configures the Server.
type ServerOption func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

// WithMetrics sets the metrics collector and enables the metrics endpoint.
func WithMetrics(m *telemetry.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// NewServer creates the HTTP server over the session registry, gateway,
// async tool runner, and artifact store.
func NewServer(cfg *Config, registry *ws.Registry, gateway *ws.Gateway, runner *tools.AsyncRunner, store storage.FileStore, opts ...ServerOption) *Server {
	s := &Server{
		cfg:      cfg,
		logger:   slog.Default(),
		registry: registry,
		gateway:  gateway,
		runner:   runner,
		store:    store,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser clients connect cross-origin in every deployment seen
			// so far; auth happens at the API-key layer.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /ws/connections", s.handleConnections)
	mux.HandleFunc("GET /ws/{client_id}", s.handleWebsocket)
	mux.HandleFunc("POST /api/tools/execute", s.handleToolExecute)
	mux.HandleFunc("GET /api/tools/executions/{id}", s.handleToolExecutionStatus)
	mux.HandleFunc("GET /api/files/{id}", s.handleFileDownload)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	s.mux = mux
	return s
}

// Handler returns the HTTP handler for use with httptest or custom servers.
func (s *Server) Handler() http.Handler {
	return s.authMiddleware(s.mux)
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.authMiddleware(s.mux),
	}
	s.logger.Info("server starting", "addr", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		if s.cfg.APIKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get("X-API-Key")
		if key == "" {
			auth := r.Header.Get("Authorization")
			if strings.HasPrefix(auth, "Bearer ") {
				key = auth[7:]
			}
		}
		// Browsers cannot set headers on websocket dials; allow the key as a
		// query parameter there.
		if key == "" && strings.HasPrefix(r.URL.Path, "/ws/") {
			key = r.URL.Query().Get("api_key")
		}

		if key != s.cfg.APIKey {
			writeError(w, http.StatusUnauthorized, "unauthorized", "Missing or invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"uptime":   time.Since(s.startTime).String(),
		"sessions": s.registry.Count(),
	})
}

func (s *Server) handleConnections(w http.ResponseWriter, _ *http.Request) {
	infos := s.registry.Snapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"totalConnections": len(infos),
		"connections":      infos,
	})
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	clientID := r.PathValue("client_id")
	if clientID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "Missing client id")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "client_id", clientID, "error", err)
		return
	}

	go s.gateway.HandleConnection(context.Background(), clientID, ws.NewGorillaConn(conn))
}

type toolExecuteRequest struct {
	ToolName   string         `json:"toolName"`
	Parameters map[string]any `json:"parameters"`
	WebhookURL string         `json:"webhookUrl,omitempty"`
}

func (s *Server) handleToolExecute(w http.ResponseWriter, r *http.Request) {
	var req toolExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if req.ToolName == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "toolName is required")
		return
	}

	exec, err := s.runner.Submit(llm.ToolCall{Name: req.ToolName, Input: req.Parameters}, req.WebhookURL)
	if err != nil {
		if errors.Is(err, tools.ErrAtCapacity) {
			writeError(w, http.StatusTooManyRequests, "at_capacity", "Too many concurrent executions")
			return
		}
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, exec)
}

func (s *Server) handleToolExecutionStatus(w http.ResponseWriter, r *http.Request) {
	exec, ok := s.runner.Status(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "Unknown execution id")
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (s *Server) handleFileDownload(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	rc, meta, err := s.store.Open(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrFileNotFound) {
			writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("File %q not found", id))
			return
		}
		s.logger.Error("file open failed", "file_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to open file")
		return
	}
	defer func() { _ = rc.Close() }()

	if meta.MimeType != "" {
		w.Header().Set("Content-Type", meta.MimeType)
	}
	if meta.Name != "" {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", meta.Name))
	}
	if meta.Size > 0 {
		w.Header().Set("Content-Length", fmt.Sprintf("%d", meta.Size))
	}
	if _, err := io.Copy(w, rc); err != nil {
		s.logger.Warn("file download interrupted", "file_id", id, "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"error":   code,
		"message": message,
	})
}
