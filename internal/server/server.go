// Package server exposes the agent's HTTP reporting and control surface.
package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/arbiterhq/arbiter/internal/engine"
	"github.com/arbiterhq/arbiter/internal/journal"
	"github.com/arbiterhq/arbiter/internal/logger"
	"github.com/arbiterhq/arbiter/internal/metrics"
	"github.com/arbiterhq/arbiter/internal/version"
	"github.com/arbiterhq/arbiter/pkg/errors"
)

// Server serves status, positions, journaled orders, Prometheus metrics and
// the manual evaluation trigger. It is read-mostly: the only mutating
// endpoint schedules an evaluation cycle on the engine's own lane, so the
// serialization guarantee holds for manual triggers too.
type Server struct {
	engine  *engine.Engine
	journal *journal.Journal
	logger  *logger.Logger
	router  *mux.Router

	httpServer *http.Server
	listener   net.Listener
}

// NewServer builds the HTTP server and its routes.
func NewServer(eng *engine.Engine, jrnl *journal.Journal, m *metrics.Metrics, log *logger.Logger) *Server {
	s := &Server{
		engine:  eng,
		journal: jrnl,
		logger:  log,
		router:  mux.NewRouter(),
	}

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/api/status", s.handleStatus).Methods("GET")
	s.router.HandleFunc("/api/positions", s.handlePositions).Methods("GET")
	s.router.HandleFunc("/api/orders", s.handleOrders).Methods("GET")
	s.router.HandleFunc("/api/evaluate/{symbol}", s.handleEvaluate).Methods("POST")
	s.router.Handle("/metrics", m.Handler()).Methods("GET")

	return s
}

// Handler returns the route handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins serving on the given address. Passing ":0" picks a free port.
func (s *Server) Start(address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return errors.Wrapf(errors.ErrCodeEngineInitFailed, err, "failed to listen on %s", address)
	}

	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != http.ErrServerClosed {
			s.logger.Error("http server error", zap.Error(err))
		}
	}()

	s.logger.Info("http server listening", zap.String("address", s.Address()))

	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	return s.httpServer.Shutdown(ctx)
}

// Address returns the bound listen address.
func (s *Server) Address() string {
	if s.listener == nil {
		return ""
	}

	return s.listener.Addr().String()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.GetVersion(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Status())
}

func (s *Server) handlePositions(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Tracker().Positions())
}

// handleOrders serves journaled orders, newest first. Optional query
// parameters: symbol, limit.
func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			s.writeError(w, http.StatusBadRequest, errors.Newf(errors.ErrCodeInvalidParameter, "invalid limit %q", raw))

			return
		}

		limit = parsed
	}

	orders, err := s.journal.Orders(symbol, limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)

		return
	}

	s.writeJSON(w, http.StatusOK, orders)
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]

	if err := s.engine.EvaluateNow(r.Context(), symbol); err != nil {
		s.writeError(w, statusForError(err), err)

		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"symbol": symbol,
		"result": "evaluated",
	})
}

func statusForError(err error) int {
	switch {
	case errors.HasCode(err, errors.ErrCodeUnknownInstrument):
		return http.StatusNotFound
	case errors.HasCode(err, errors.ErrCodeEngineStopped):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
