package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"fieldsync/internal/config"
	"fieldsync/internal/health"
	"fieldsync/internal/logging"
	"fieldsync/internal/metrics"
	"fieldsync/internal/models"
	"fieldsync/internal/queue"
	"fieldsync/internal/worker"

	"github.com/rs/zerolog"
)

const maxBodyBytes = 1 << 20

// QueueFacade is the part of the queue service exposed over HTTP.
type QueueFacade interface {
	Enqueue(ctx context.Context, item *models.QueueItem) error
	Snapshot() queue.Snapshot
	Retry(ctx context.Context, localIDs []string) (worker.BatchResult, error)
	ClearCompleted(ctx context.Context) (int, error)
}

type HealthReporter interface {
	Snapshot() health.Snapshot
}

type BatchCountdown interface {
	Countdown() time.Duration
}

type DeviceControl interface {
	SetOnline(online bool)
	SetForeground(foreground bool)
	Online() bool
	Foreground() bool
}

// Deps are the collaborators the HTTP handlers call into.
type Deps struct {
	Queue     QueueFacade
	Health    HealthReporter
	Countdown BatchCountdown
	Device    DeviceControl
	Taxonomy  *models.Taxonomy
}

// HTTPServer exposes the queue facade to local producers and the CLI.
type HTTPServer struct {
	cfg    config.APIConfig
	deps   Deps
	server *http.Server
	auth   *HTTPAuth
	logger *zerolog.Logger
	now    func() time.Time
}

func NewHTTPServer(cfg config.APIConfig, deps Deps, logger *zerolog.Logger) *HTTPServer {
	srv := &HTTPServer{
		cfg:    cfg,
		deps:   deps,
		auth:   NewHTTPAuth(cfg),
		logger: logging.Component(logger, "api"),
		now:    time.Now,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/queue", srv.handleEnqueue)
	mux.HandleFunc("GET /api/v1/queue", srv.handleQueue)
	mux.HandleFunc("POST /api/v1/queue/retry", srv.handleRetry)
	mux.HandleFunc("DELETE /api/v1/queue/completed", srv.handleClearCompleted)
	mux.HandleFunc("GET /api/v1/queue/export", srv.handleExport)
	mux.HandleFunc("GET /api/v1/health", srv.handleHealth)
	mux.HandleFunc("GET /api/v1/actions", srv.handleActions)
	mux.HandleFunc("POST /api/v1/device", srv.handleDevice)

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.loggingMiddleware(srv.auth.Wrap(mux)),
		ReadHeaderTimeout: 5 * time.Second,
		// Manual retries block until the pass finishes.
		WriteTimeout: 5 * time.Minute,
	}

	return srv
}

// Handler returns the fully wrapped handler, used by tests and embedding.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		info := &requestInfo{id: requestID(r), client: clientKeyUnknown}
		w.Header().Set(requestIDHeader, info.id)
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		req := r.WithContext(context.WithValue(r.Context(), ctxKey{}, info))
		next.ServeHTTP(recorder, req)

		metrics.IncHTTP(endpointLabel(req))
		s.logger.Info().
			Str("request_id", info.id).
			Str("client", info.client).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

// endpointLabel keeps metric cardinality bounded to the known routes.
func endpointLabel(r *http.Request) string {
	if r.Pattern != "" {
		return r.Pattern
	}
	return "unmatched"
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
