package api

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dbsbm/svcmaster/pkg/errors"
	"github.com/dbsbm/svcmaster/pkg/logging"
	"github.com/dbsbm/svcmaster/pkg/servicecontrol"
	"github.com/dbsbm/svcmaster/pkg/supervisor"
)

// Server is the local admin HTTP endpoint of the service manager. It is
// meant to listen on loopback only; it carries no authentication.
type Server struct {
	httpServer *http.Server
	supervisor *supervisor.Supervisor
	logger     logging.Logger
}

func NewServer(sup *supervisor.Supervisor, address string, logger logging.Logger) *Server {
	s := &Server{
		supervisor: sup,
		logger:     logger,
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(2 * time.Minute))

	router.Get("/healthz", s.handleHealthz)
	router.Get("/status", s.handleStatus)
	router.Post("/services/{id}/restart", s.handleServiceRestart)
	router.Post("/restart", s.handleRestartAll)
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())

	s.httpServer = &http.Server{
		Addr:              address,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.httpServer.Handler
}

// Start begins serving in the background. Listen errors are returned
// synchronously; serve errors are logged.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return errors.NewIOError("failed to bind admin address", err).WithContext("address", s.httpServer.Addr)
	}

	s.logger.Infof("Admin API listening on %s", listener.Addr())

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Errorf("Admin API server error: %v", err)
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type healthzResponse struct {
	Status    string            `json:"status"`
	Services  map[string]string `json:"services"`
	Timestamp time.Time         `json:"timestamp"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	allRunning, states := s.supervisor.HealthSummary()

	response := healthzResponse{
		Status:    "ok",
		Services:  states,
		Timestamp: time.Now(),
	}
	code := http.StatusOK
	if !allRunning {
		response.Status = "degraded"
		code = http.StatusServiceUnavailable
	}

	s.writeJSON(w, code, response)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.supervisor.Status())
}

func (s *Server) handleServiceRestart(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	err := s.supervisor.RestartService(r.Context(), id, servicecontrol.RestartTriggerManual, true)
	if err != nil {
		if errors.IsNotFoundError(err) {
			s.writeError(w, http.StatusNotFound, err)
			return
		}
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"result": "restarted", "service": id})
}

func (s *Server) handleRestartAll(w http.ResponseWriter, r *http.Request) {
	if err := s.supervisor.RestartAll(r.Context(), servicecontrol.RestartTriggerManual); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"result": "restarted"})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warnf("Failed to encode response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, err error) {
	s.writeJSON(w, code, map[string]string{"error": err.Error()})
}
