// Package api implements the HTTP conversation entry point used by a
// chat UI.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/cors"

	"github.com/nugget/charmbot/internal/buildinfo"
	"github.com/nugget/charmbot/internal/connwatch"
	"github.com/nugget/charmbot/internal/session"
)

// maxBodyBytes caps a chat request body.
const maxBodyBytes = 64 << 10

// Sessions is the conversation surface the server exposes.
type Sessions interface {
	Turn(ctx context.Context, id, message string) (*session.Reply, error)
	Get(id string) (*session.Snapshot, error)
	End(id string) error
	Len() int
}

// writeJSON encodes v as JSON to w, logging any errors at debug level.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Health reports the reachability of downstream services.
type Health interface {
	Status() []connwatch.Status
	Ready() bool
}

// Option configures a Server.
type Option func(*Server)

// WithRateLimit limits chat requests per client IP. A non-positive rate
// disables limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(s *Server) {
		if perSecond > 0 {
			s.limiter = newIPLimiter(perSecond, burst)
		}
	}
}

// WithAllowedOrigins enables CORS for a browser chat UI served from
// another origin.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) { s.origins = origins }
}

// WithModel sets the model name reported by /v1/version.
func WithModel(model string) Option {
	return func(s *Server) { s.model = model }
}

// WithHealth adds dependency status to /health. When any dependency is
// down the endpoint answers 503.
func WithHealth(h Health) Option {
	return func(s *Server) { s.health = h }
}

// Server is the HTTP API server.
type Server struct {
	address  string
	port     int
	sessions Sessions
	limiter  *ipLimiter
	origins  []string
	model    string
	health   Health
	logger   *slog.Logger
}

// NewServer creates a new API server.
func NewServer(address string, port int, sessions Sessions, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		address:  address,
		port:     port,
		sessions: sessions,
		logger:   logger.With("component", "api"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns the routed and wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	var chat http.Handler = http.HandlerFunc(s.handleChat)
	if s.limiter != nil {
		chat = s.limiter.middleware(chat, func(w http.ResponseWriter) {
			w.Header().Set("Retry-After", "1")
			s.errorResponse(w, http.StatusTooManyRequests, "rate limit exceeded")
		})
	}
	mux.Handle("POST /v1/chat", chat)

	mux.HandleFunc("GET /v1/sessions/{id}", s.handleSessionGet)
	mux.HandleFunc("DELETE /v1/sessions/{id}", s.handleSessionDelete)

	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleRoot)

	var h http.Handler = s.withLogging(mux)
	if len(s.origins) > 0 {
		h = cors.New(cors.Options{
			AllowedOrigins: s.origins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type"},
		}).Handler(h)
	}
	return h
}

// shutdownTimeout bounds the drain of in-flight requests.
const shutdownTimeout = 15 * time.Second

// Start serves HTTP until ctx is cancelled, then drains in-flight
// requests. Request contexts derive from ctx, so running turns are
// cancelled and answer with the fallback reply.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// A turn may chain many completions.
		WriteTimeout: 10 * time.Minute,
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
	}
	if s.limiter != nil {
		go s.limiter.run(ctx)
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down API server")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(sctx)
}

// statusRecorder captures the response code for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "Charmbot",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	info := buildinfo.Info()
	if s.model != "" {
		info["model"] = s.model
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, info, s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":   "healthy",
		"sessions": s.sessions.Len(),
	}
	code := http.StatusOK
	if s.health != nil {
		body["services"] = s.health.Status()
		if !s.health.Ready() {
			body["status"] = "degraded"
			code = http.StatusServiceUnavailable
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, body, s.logger)
}

// ChatRequest is the body of POST /v1/chat.
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

// ChatResponse is the reply to one customer message.
type ChatResponse struct {
	Reply      string `json:"reply"`
	SessionID  string `json:"session_id"`
	Outcome    string `json:"outcome"`
	Iterations int    `json:"iterations"`
}

// handleChat runs one customer turn.
// POST /v1/chat {"message": "my pizza was late", "session_id": "..."}
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.errorResponse(w, http.StatusBadRequest, "message is required")
		return
	}

	reply, err := s.sessions.Turn(r.Context(), req.SessionID, req.Message)
	switch {
	case errors.Is(err, session.ErrNotFound):
		s.errorResponse(w, http.StatusNotFound, "session not found")
		return
	case errors.Is(err, session.ErrEmptyMessage):
		s.errorResponse(w, http.StatusBadRequest, "message is required")
		return
	case err != nil:
		s.logger.Error("turn failed", "session", req.SessionID, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "turn failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, ChatResponse{
		Reply:      reply.Reply,
		SessionID:  reply.SessionID,
		Outcome:    string(reply.Outcome),
		Iterations: reply.Iterations,
	}, s.logger)
}

func (s *Server) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	snap, err := s.sessions.Get(r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, http.StatusNotFound, "session not found")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, snap, s.logger)
}

func (s *Server) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.End(r.PathValue("id")); err != nil {
		s.errorResponse(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	}, s.logger)
}
