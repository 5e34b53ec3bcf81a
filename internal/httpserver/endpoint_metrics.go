package httpserver

import (
	"net/http"

	"github.com/tokligence/tokligence-relay/internal/httpserver/protocol"
	"github.com/tokligence/tokligence-relay/internal/metrics"
)

type metricsEndpoint struct {
	server *Server
}

func newMetricsEndpoint(server *Server) protocol.Endpoint {
	return &metricsEndpoint{server: server}
}

func (e *metricsEndpoint) Name() string { return "metrics" }

func (e *metricsEndpoint) Routes() []protocol.EndpointRoute {
	if e.server.gatherer == nil {
		return nil
	}
	return []protocol.EndpointRoute{
		{Method: http.MethodGet, Path: "/metrics", Handler: metrics.Handler(e.server.gatherer)},
	}
}
