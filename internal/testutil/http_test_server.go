package testutil

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"
)

// IPv4Server is a real HTTP server on 127.0.0.1. Unlike httptest.Server it
// never binds to ::1, which is unavailable in some sandboxes.
type IPv4Server struct {
	URL string

	srv    *http.Server
	client *http.Client
}

// NewIPv4Server starts handler on an ephemeral 127.0.0.1 port. It is shut
// down when the test finishes.
func NewIPv4Server(t *testing.T, handler http.Handler) *IPv4Server {
	t.Helper()
	if handler == nil {
		handler = http.NotFoundHandler()
	}
	l, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skipping test: tcp4 loopback unavailable (%v)", err)
	}
	s := &IPv4Server{
		URL: "http://" + l.Addr().String(),
		srv: &http.Server{Handler: handler, ReadHeaderTimeout: 5 * time.Second},
		// chunk boundaries must reach the test unchanged
		client: &http.Client{Transport: &http.Transport{DisableCompression: true}},
	}
	go func() {
		if err := s.srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.Logf("IPv4Server serve error: %v", err)
		}
	}()
	t.Cleanup(s.Close)
	return s
}

// Client returns an HTTP client configured for the server.
func (s *IPv4Server) Client() *http.Client {
	return s.client
}

// Post sends body as JSON to path.
func (s *IPv4Server) Post(ctx context.Context, path, body string) (*http.Response, error) {
	var r io.Reader = strings.NewReader(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL+path, r)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return s.client.Do(req)
}

// Close stops the server. Streams still open after two seconds are cut.
func (s *IPv4Server) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		_ = s.srv.Close()
	}
	if tr, ok := s.client.Transport.(*http.Transport); ok {
		tr.CloseIdleConnections()
	}
}
