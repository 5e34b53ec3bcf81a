package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/tokligence/tokligence-relay/internal/adapter"
	"github.com/tokligence/tokligence-relay/internal/adapter/loopback"
	"github.com/tokligence/tokligence-relay/internal/adapter/ollama"
	"github.com/tokligence/tokligence-relay/internal/config"
	"github.com/tokligence/tokligence-relay/internal/health"
	"github.com/tokligence/tokligence-relay/internal/httpserver"
	"github.com/tokligence/tokligence-relay/internal/ledger"
	ledgerasync "github.com/tokligence/tokligence-relay/internal/ledger/async"
	ledgerpg "github.com/tokligence/tokligence-relay/internal/ledger/postgres"
	ledgersql "github.com/tokligence/tokligence-relay/internal/ledger/sqlite"
	"github.com/tokligence/tokligence-relay/internal/logging"
	"github.com/tokligence/tokligence-relay/internal/metrics"
)

// app is the wired relay: router plus the resources it owns.
type app struct {
	handler http.Handler
	ledger  ledger.Store
	closed  bool
	logger  *logging.Logger
}

func build(ctx context.Context, cfg config.RelayConfig, logger *logging.Logger) (*app, error) {
	backend, err := newAdapter(cfg)
	if err != nil {
		return nil, fmt.Errorf("init backend: %w", err)
	}

	store, err := openLedger(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	reg := metrics.NewRegistry()
	checker := health.New(health.Config{Probes: probes(backend, store)})

	srv, err := httpserver.New(httpserver.Config{
		Adapter:           backend,
		Model:             cfg.Model,
		Ledger:            store,
		Metrics:           metrics.NewCollector(reg),
		Gatherer:          reg,
		Health:            checker,
		Logger:            logger,
		MaxRequestBytes:   cfg.MaxRequestBytes,
		MaxStreamDuration: cfg.MaxStreamDuration,
		AccessLog:         logger.Enabled(logging.LevelInfo),
	})
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		return nil, err
	}
	return &app{handler: srv.Router(), ledger: store, logger: logger}, nil
}

// Close flushes and closes the ledger. It is safe to call more than once.
func (a *app) Close() {
	if a.closed {
		return
	}
	a.closed = true
	if a.ledger == nil {
		return
	}
	if as, ok := a.ledger.(*ledgerasync.Store); ok && as.Dropped() > 0 {
		a.logger.Warnf("async ledger dropped %d entries", as.Dropped())
	}
	if err := a.ledger.Close(); err != nil {
		a.logger.Warnf("close ledger: %v", err)
	}
}

func newAdapter(cfg config.RelayConfig) (adapter.GenerateAdapter, error) {
	switch cfg.Backend {
	case config.BackendLoopback:
		return loopback.New(cfg.LoopbackDelay), nil
	case config.BackendOllama:
		opts, err := ollama.LoadOptions(cfg.GenerationOptionsFile)
		if err != nil {
			return nil, err
		}
		if cfg.KeepAlive != "" {
			opts.KeepAlive = cfg.KeepAlive
		}
		return ollama.New(ollama.Config{
			BaseURL:               cfg.BackendBaseURL,
			Model:                 cfg.Model,
			ConnectTimeout:        cfg.ConnectTimeout,
			ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
			Options:               opts,
		})
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

func openLedger(ctx context.Context, cfg config.RelayConfig, logger *logging.Logger) (ledger.Store, error) {
	if !cfg.LedgerEnabled() {
		logger.Infof("usage ledger disabled")
		return nil, nil
	}
	var (
		store ledger.Store
		err   error
	)
	if cfg.LedgerIsPostgres() {
		openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		store, err = ledgerpg.New(openCtx, cfg.LedgerPath, ledgerpg.PoolConfig{MaxOpen: 10, MaxIdle: 5, MaxLifetime: time.Hour, MaxIdleTime: 10 * time.Minute})
		logger.Infof("usage ledger: postgres")
	} else {
		store, err = ledgersql.New(cfg.LedgerPath)
		logger.Infof("usage ledger: sqlite path=%s", cfg.LedgerPath)
	}
	if err != nil {
		return nil, err
	}
	if cfg.LedgerAsync {
		return ledgerasync.New(store, ledgerasync.Config{Logger: logger}), nil
	}
	return store, nil
}

func probes(backend adapter.GenerateAdapter, store ledger.Store) []health.Probe {
	var out []health.Probe
	if p, ok := backend.(adapter.Pinger); ok {
		out = append(out, health.Probe{Name: "backend", Type: "backend", Critical: true, Ping: p.Ping, SlowAfter: time.Second})
	}
	if store != nil {
		out = append(out, health.Probe{Name: "ledger", Type: "database", Ping: store.Ping})
	}
	return out
}
