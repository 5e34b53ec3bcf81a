package httpserver

import (
	"net/http"
	"time"

	"github.com/tokligence/tokligence-relay/internal/health"
	"github.com/tokligence/tokligence-relay/internal/httpserver/protocol"
	"github.com/tokligence/tokligence-relay/internal/version"
)

type healthEndpoint struct {
	server *Server
}

func newHealthEndpoint(server *Server) protocol.Endpoint {
	return &healthEndpoint{server: server}
}

func (e *healthEndpoint) Name() string { return "health" }

func (e *healthEndpoint) Routes() []protocol.EndpointRoute {
	return []protocol.EndpointRoute{
		{Method: http.MethodGet, Path: "/health", Handler: http.HandlerFunc(e.server.HandleHealth)},
		{Method: http.MethodGet, Path: "/version", Handler: http.HandlerFunc(e.server.HandleVersion)},
	}
}

// HandleHealth handles GET /health. Degraded still answers 200.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		s.respondJSON(w, http.StatusOK, health.HealthStatus{Status: health.StatusHealthy, Timestamp: time.Now().UTC()})
		return
	}
	status := s.health.Check(r.Context())
	code := http.StatusOK
	if status.Status == health.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	s.respondJSON(w, code, status)
}

// HandleVersion handles GET /version
func (s *Server) HandleVersion(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, version.Current())
}
