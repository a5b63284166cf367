package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"evcal/internal/calendar"
	"evcal/internal/config"
	"evcal/internal/dateparse"
	"evcal/internal/ics"
	appLog "evcal/internal/log"
	"evcal/internal/model"
	"evcal/internal/schedule"
)

// maxBodyBytes bounds JSON and ICS request bodies.
const maxBodyBytes = 4 << 20

// Server exposes one calendar controller over HTTP.
//
// The controller is single-threaded; every handler touching it holds mu
// for the whole operation.
type Server struct {
	cfg *config.Config
	mux *http.ServeMux

	mu   sync.Mutex
	ctrl *calendar.Controller

	parser   *dateparse.Parser
	fetcher  *ics.Fetcher
	gatherer prometheus.Gatherer
	now      func() time.Time
}

// NewServer constructs a Server. A nil gatherer serves the default
// Prometheus registry on /metrics.
func NewServer(cfg *config.Config, ctrl *calendar.Controller, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		cfg:      cfg,
		mux:      http.NewServeMux(),
		ctrl:     ctrl,
		parser:   dateparse.New(ctrl.Location()),
		fetcher:  ics.NewFetcher(cfg.ImportCacheDir),
		gatherer: gatherer,
		now:      time.Now,
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty credentials mean "off", not "anyone".
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="evcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	s.mux.HandleFunc("GET /calendar", s.handleCalendarPage)
	s.mux.HandleFunc("GET /calendar.ics", s.handleExport)

	s.mux.HandleFunc("GET /api/view", s.handleView)
	s.mux.HandleFunc("POST /api/navigate", s.handleNavigate)
	s.mux.HandleFunc("POST /api/view/toggle", s.handleToggle)
	s.mux.HandleFunc("POST /api/goto", s.handleGoTo)
	s.mux.HandleFunc("POST /api/day", s.handleOpenDay)
	s.mux.HandleFunc("DELETE /api/day", s.handleCloseDay)

	s.mux.HandleFunc("GET /api/events", s.handleListEvents)
	s.mux.HandleFunc("POST /api/events", s.handleCreateEvent)
	s.mux.HandleFunc("PUT /api/events/{id}", s.handleEditEvent)
	s.mux.HandleFunc("DELETE /api/events/{id}", s.handleDeleteEvent)
	s.mux.HandleFunc("POST /api/events/{id}/move", s.handleMoveEvent)
	s.mux.HandleFunc("GET /api/events/{id}/gcal", s.handleGoogleLink)

	s.mux.HandleFunc("POST /api/import", s.handleImport)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// ListenAndServe runs the server on cfg.Listen until ctx is cancelled and
// then shuts it down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	appLog.Info("HTTP server stopped")
	return nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(body).Decode(v)
	if errors.Is(err, io.EOF) {
		return errors.New("request body is empty")
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

type errResp struct {
	Error   string `json:"error"`
	Warning string `json:"warning,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errResp{Error: msg})
}

// writeCalendarError maps controller errors onto status codes. Conflicts
// carry the user-facing warning.
func writeCalendarError(w http.ResponseWriter, err error, warning string) {
	switch {
	case errors.Is(err, calendar.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, calendar.ErrConflict):
		writeJSON(w, http.StatusConflict, errResp{Error: err.Error(), Warning: warning})
	case errors.Is(err, calendar.ErrEmptyTitle),
		errors.Is(err, calendar.ErrNoDaySelected),
		errors.Is(err, model.ErrInvalidTime),
		errors.Is(err, schedule.ErrInvalidRule),
		errors.Is(err, dateparse.ErrUnrecognized):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		appLog.Error("calendar operation failed", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
