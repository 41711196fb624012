package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/quake-alert-service/internal/pipeline"
)

// Poller runs a single poll cycle on demand.
type Poller interface {
	RunCycle(ctx context.Context) (pipeline.CycleSummary, error)
}

// Server exposes health, readiness, metrics, and the manual poll trigger.
type Server struct {
	httpServer *http.Server
	poller     Poller
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics and
// POST /poll routes. pollTimeout is the longest a cycle may take; the write
// timeout is sized to fit it.
func NewServer(addr string, ready sharedobs.ReadinessChecker, poller Poller, pollTimeout time.Duration, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: pollTimeout + 10*time.Second,
			IdleTimeout:  60 * time.Second,
		},
		poller: poller,
		logger: logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("POST /poll", s.handlePoll)

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

// handlePoll runs one cycle and answers in plain text. The cycle is detached
// from the request so a disconnecting client cannot interrupt dispatch
// before the ledger is written.
func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	summary, err := s.poller.RunCycle(context.WithoutCancel(r.Context()))
	switch {
	case errors.Is(err, pipeline.ErrCycleInProgress):
		writeText(w, http.StatusConflict, err.Error())
	case err != nil:
		s.logger.Error("poll cycle failed", "error", err, "cycle_id", summary.CycleID)
		writeText(w, http.StatusInternalServerError, err.Error())
	default:
		writeText(w, http.StatusOK, fmt.Sprintf("Processed scan. alerts sent: %d", summary.AlertsSent))
	}
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
