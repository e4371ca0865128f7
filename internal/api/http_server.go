package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"courtslot/internal/config"
	"courtslot/internal/logging"
	"courtslot/internal/metrics"
	"courtslot/internal/session"

	"github.com/rs/zerolog"
)

// HTTPServer exposes booking sessions over JSON.
type HTTPServer struct {
	cfg      config.APIConfig
	sessions *session.Manager
	server   *http.Server
	auth     *HTTPAuth
	log      *zerolog.Logger
	probes   []probe
}

// Probe checks a dependency for /healthz.
type Probe func(ctx context.Context) error

type probe struct {
	name  string
	check Probe
}

func NewHTTPServer(cfg config.APIConfig, sessions *session.Manager, logger *zerolog.Logger) *HTTPServer {
	mux := http.NewServeMux()
	srv := &HTTPServer{
		cfg:      cfg,
		sessions: sessions,
		auth:     NewHTTPAuth(cfg),
		log:      logging.Component(logger, "http"),
	}

	srv.route(mux, "POST /api/v1/sessions", "open_session", srv.handleOpen)
	srv.route(mux, "GET /api/v1/sessions/{id}", "get_session", srv.handleGet)
	srv.route(mux, "DELETE /api/v1/sessions/{id}", "close_session", srv.handleClose)
	srv.route(mux, "PUT /api/v1/sessions/{id}/courts", "select_courts", srv.handleSelectCourts)
	srv.route(mux, "PUT /api/v1/sessions/{id}/date", "select_date", srv.handleSelectDate)
	srv.route(mux, "POST /api/v1/sessions/{id}/slots/toggle", "toggle_slot", srv.handleToggle)
	srv.route(mux, "POST /api/v1/sessions/{id}/refresh", "refresh", srv.handleRefresh)
	srv.route(mux, "POST /api/v1/sessions/{id}/submit", "submit", srv.handleSubmit)
	srv.route(mux, "GET /api/v1/sessions/{id}/export.xlsx", "export", srv.handleExport)
	srv.route(mux, "GET /api/v1/recovery/{bookingId}", "recovery", srv.handleRecovery)
	srv.route(mux, "GET /healthz", "healthz", srv.handleHealth)

	handler := loggingMiddleware(srv.log, srv.auth.Wrap(mux))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		// a submit runs the availability check and the hold call back to back
		WriteTimeout: 30 * time.Second,
	}

	return srv
}

func (s *HTTPServer) route(mux *http.ServeMux, pattern, name string, h http.HandlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		metrics.IncHTTP(name)
		h(w, r)
	})
}

// AddProbe registers a dependency check reported by /healthz.
func (s *HTTPServer) AddProbe(name string, check Probe) {
	s.probes = append(s.probes, probe{name: name, check: check})
}

// Handler returns the full middleware chain.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
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

func loggingMiddleware(logger *zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		ev := logger.Info()
		if recorder.status >= http.StatusInternalServerError {
			ev = logger.Warn()
		}
		ev.Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

// bearerToken extracts the caller's backend token from the Authorization header.
func bearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func decodeJSON(r *http.Request, out any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
