package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tokligence/tokligence-relay/internal/adapter"
	"github.com/tokligence/tokligence-relay/internal/health"
	"github.com/tokligence/tokligence-relay/internal/httpserver/protocol"
	"github.com/tokligence/tokligence-relay/internal/ledger"
	"github.com/tokligence/tokligence-relay/internal/logging"
	"github.com/tokligence/tokligence-relay/internal/metrics"
	"github.com/tokligence/tokligence-relay/internal/relayapi"
)

const (
	defaultMaxRequestBytes = 8 << 20
	defaultLedgerTimeout   = 2 * time.Second
)

// Config wires the server's collaborators. Only Adapter is required.
type Config struct {
	Adapter adapter.GenerateAdapter
	// Model labels ledger entries and logs.
	Model string
	// Ledger is optional; usage endpoints answer 501 without it.
	Ledger  ledger.Store
	Metrics *metrics.Collector
	// Gatherer, when set, is served on /metrics.
	Gatherer prometheus.Gatherer
	Health   *health.Checker
	Logger   *logging.Logger

	MaxRequestBytes int64
	// MaxStreamDuration bounds one generation; zero leaves only the client
	// connection as the limit.
	MaxStreamDuration time.Duration
	// LedgerTimeout bounds recording one entry after the stream ended.
	LedgerTimeout time.Duration
	// AccessLog enables chi's request logger.
	AccessLog bool
}

// Server exposes the streaming relay over HTTP. It holds no per-request state.
type Server struct {
	adapter           adapter.GenerateAdapter
	model             string
	ledger            ledger.Store
	metrics           *metrics.Collector
	gatherer          prometheus.Gatherer
	health            *health.Checker
	logger            *logging.Logger
	maxRequestBytes   int64
	maxStreamDuration time.Duration
	ledgerTimeout     time.Duration
	accessLog         bool
}

// New constructs a Server with the required dependencies.
func New(cfg Config) (*Server, error) {
	if cfg.Adapter == nil {
		return nil, errors.New("httpserver: adapter required")
	}
	if cfg.MaxRequestBytes <= 0 {
		cfg.MaxRequestBytes = defaultMaxRequestBytes
	}
	if cfg.LedgerTimeout <= 0 {
		cfg.LedgerTimeout = defaultLedgerTimeout
	}
	return &Server{
		adapter:           cfg.Adapter,
		model:             strings.TrimSpace(cfg.Model),
		ledger:            cfg.Ledger,
		metrics:           cfg.Metrics,
		gatherer:          cfg.Gatherer,
		health:            cfg.Health,
		logger:            cfg.Logger,
		maxRequestBytes:   cfg.MaxRequestBytes,
		maxStreamDuration: cfg.MaxStreamDuration,
		ledgerTimeout:     cfg.LedgerTimeout,
		accessLog:         cfg.AccessLog,
	}, nil
}

// Router returns a configured chi router for embedding in HTTP servers.
func (s *Server) Router() http.Handler {
	r := s.newBaseRouter()
	s.registerEndpoints(r,
		newChatEndpoint(s),
		newHealthEndpoint(s),
		newUsageEndpoint(s),
		newMetricsEndpoint(s),
	)
	return r
}

func (s *Server) newBaseRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	if s.accessLog {
		r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: s.logger.Std(), NoColor: true}))
	}
	r.Use(middleware.Recoverer)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.respondError(w, http.StatusNotFound, "not_found", errors.New("no route for "+r.Method+" "+r.URL.Path))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.respondError(w, http.StatusMethodNotAllowed, "method_not_allowed", errors.New(r.Method+" not allowed on "+r.URL.Path))
	})
	return r
}

func (s *Server) registerEndpoints(r chi.Router, endpoints ...protocol.Endpoint) {
	for _, ep := range endpoints {
		if ep == nil {
			continue
		}
		routes := ep.Routes()
		if len(routes) == 0 {
			continue
		}
		s.logger.Debugf("registering endpoint %s", ep.Name())
		for _, route := range routes {
			r.Method(route.Method, route.Path, route.Handler)
		}
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	if payload == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) respondError(w http.ResponseWriter, status int, kind string, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	s.respondJSON(w, status, relayapi.ErrorBody{Error: relayapi.ErrorDetail{Kind: kind, Message: err.Error()}})
}
