package main

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/tokligence/tokligence-relay/internal/config"
	"github.com/tokligence/tokligence-relay/internal/logging"
	"github.com/tokligence/tokligence-relay/internal/version"
)

func main() {
	// .env never overrides variables already set in the environment
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("load .env: %v", err)
	}

	cfg, err := config.LoadRelayConfig(".")
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.SetPrefix("[relayd] ")
	if target := strings.TrimSpace(cfg.LogFile); target != "" {
		rot, err := logging.NewRotatingWriter(target, cfg.LogMaxBytes)
		if err != nil {
			log.Fatalf("init rotating log: %v", err)
		}
		// Mirror to stdout as well for foreground runs
		log.SetOutput(io.MultiWriter(os.Stdout, rot))
		defer rot.Close()
	}
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("log level: %v", err)
	}
	logger := logging.New(log.Default(), level)

	logger.Infof("relayd starting %s env=%s backend=%s model=%s", version.FullInfo(), cfg.Environment, cfg.Backend, cfg.Model)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := build(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer app.Close()

	if err := serve(ctx, cfg, app.handler, logger); err != nil {
		logger.Errorf("relayd stopped: %v", err)
		app.Close()
		os.Exit(1)
	}
	logger.Infof("relayd stopped")
}

// serve runs the HTTP server until ctx is cancelled, then drains in-flight
// streams for at most cfg.ShutdownTimeout.
func serve(ctx context.Context, cfg config.RelayConfig, handler http.Handler, logger *logging.Logger) error {
	srv := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		// WriteTimeout stays zero: a generation may stream for minutes.
		ErrorLog: logger.Std(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("relay listening on %s", cfg.HTTPAddress)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Infof("shutting down, waiting up to %s for open streams", cfg.ShutdownTimeout)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warnf("graceful shutdown incomplete: %v", err)
			return srv.Close()
		}
		return nil
	})
	return g.Wait()
}
