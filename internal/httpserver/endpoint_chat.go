package httpserver

import (
	"net/http"

	"github.com/tokligence/tokligence-relay/internal/httpserver/protocol"
)

// chatEndpoint serves the streaming relay routes.
type chatEndpoint struct {
	server *Server
}

func newChatEndpoint(server *Server) protocol.Endpoint {
	return &chatEndpoint{server: server}
}

func (e *chatEndpoint) Name() string { return "chat" }

func (e *chatEndpoint) Routes() []protocol.EndpointRoute {
	handler := http.HandlerFunc(e.server.HandleChatStream)
	return []protocol.EndpointRoute{
		{Method: http.MethodPost, Path: "/chat/stream", Handler: handler},
		// path used by older web clients
		{Method: http.MethodPost, Path: "/api/chat/api-stream", Handler: handler},
	}
}
