package httpserver

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/tokligence/tokligence-relay/internal/httpserver/protocol"
	"github.com/tokligence/tokligence-relay/internal/ledger"
	"github.com/tokligence/tokligence-relay/internal/relayapi"
)

const maxRecentLimit = 500

var errLedgerDisabled = errors.New("usage ledger is not enabled")

type usageEndpoint struct {
	server *Server
}

func newUsageEndpoint(server *Server) protocol.Endpoint {
	return &usageEndpoint{server: server}
}

func (e *usageEndpoint) Name() string { return "usage" }

func (e *usageEndpoint) Routes() []protocol.EndpointRoute {
	return []protocol.EndpointRoute{
		{Method: http.MethodGet, Path: "/usage/summary", Handler: http.HandlerFunc(e.server.HandleUsageSummary)},
		{Method: http.MethodGet, Path: "/usage/recent", Handler: http.HandlerFunc(e.server.HandleUsageRecent)},
	}
}

// HandleUsageSummary handles GET /usage/summary
func (s *Server) HandleUsageSummary(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		s.respondError(w, http.StatusNotImplemented, relayapi.KindNotImplemented, errLedgerDisabled)
		return
	}
	summary, err := s.ledger.Summary(r.Context())
	if err != nil {
		s.logger.Errorf("usage summary: %v", err)
		s.respondError(w, http.StatusInternalServerError, relayapi.KindInternal, err)
		return
	}
	s.respondJSON(w, http.StatusOK, summary)
}

// HandleUsageRecent handles GET /usage/recent?limit=N
func (s *Server) HandleUsageRecent(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		s.respondError(w, http.StatusNotImplemented, relayapi.KindNotImplemented, errLedgerDisabled)
		return
	}
	limit := ledger.DefaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.respondError(w, http.StatusBadRequest, relayapi.KindValidation, fmt.Errorf("invalid limit %q", raw))
			return
		}
		limit = min(n, maxRecentLimit)
	}
	entries, err := s.ledger.ListRecent(r.Context(), limit)
	if err != nil {
		s.logger.Errorf("usage recent: %v", err)
		s.respondError(w, http.StatusInternalServerError, relayapi.KindInternal, err)
		return
	}
	if entries == nil {
		entries = []ledger.Entry{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
