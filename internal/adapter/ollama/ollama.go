package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/tokligence/tokligence-relay/internal/adapter"
	wire "github.com/tokligence/tokligence-relay/internal/ollama"
)

// Ensure OllamaAdapter implements GenerateAdapter.
var _ adapter.GenerateAdapter = (*OllamaAdapter)(nil)
var _ adapter.Pinger = (*OllamaAdapter)(nil)

const (
	defaultBaseURL = "http://localhost:11434"
	// error bodies are small; cap what we read from a failing backend
	maxErrorBody = 64 << 10
)

// OllamaAdapter streams generations from an Ollama compatible /api/generate endpoint.
// It is immutable after New and safe for concurrent use.
type OllamaAdapter struct {
	baseURL    string
	model      string
	options    map[string]any
	keepAlive  string
	httpClient *http.Client
}

// Config holds configuration for the Ollama adapter.
type Config struct {
	BaseURL string // optional, defaults to http://localhost:11434
	Model   string
	// ConnectTimeout bounds dialing the backend.
	ConnectTimeout time.Duration
	// ResponseHeaderTimeout bounds the wait for the first response byte,
	// which includes model load time on a cold backend.
	ResponseHeaderTimeout time.Duration
	Options               GenerationOptions
	// HTTPClient overrides the transport entirely; timeouts above are ignored when set.
	HTTPClient *http.Client
}

// New creates an OllamaAdapter instance.
func New(cfg Config) (*OllamaAdapter, error) {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, errors.New("ollama: model required")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	client := cfg.HTTPClient
	if client == nil {
		client = newStreamingClient(cfg.ConnectTimeout, cfg.ResponseHeaderTimeout)
	}

	return &OllamaAdapter{
		baseURL:    baseURL,
		model:      model,
		options:    cfg.Options.Options,
		keepAlive:  cfg.Options.KeepAlive,
		httpClient: client,
	}, nil
}

// newStreamingClient builds a client without an overall Timeout: generations
// may legitimately run for minutes, so only dialing and time-to-headers are bounded.
func newStreamingClient(connect, header time.Duration) *http.Client {
	if connect == 0 {
		connect = 5 * time.Second
	}
	if header == 0 {
		header = 60 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: connect, KeepAlive: 30 * time.Second}).DialContext
	transport.ResponseHeaderTimeout = header
	return &http.Client{Transport: transport}
}

// BaseURL returns the normalised backend address.
func (a *OllamaAdapter) BaseURL() string { return a.baseURL }

// Model returns the model identifier sent with every request.
func (a *OllamaAdapter) Model() string { return a.model }

// Generate opens a streaming generation. Connection failures and non-2xx
// responses are returned here, before any chunk exists.
func (a *OllamaAdapter) Generate(ctx context.Context, req adapter.Request) (adapter.Stream, error) {
	payload := wire.GenerateRequest{
		Model:     a.model,
		Prompt:    req.Prompt,
		Context:   req.Context,
		Stream:    true,
		Options:   a.options,
		KeepAlive: a.keepAlive,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal request: %w", err)
	}

	// The stream owns this cancel; Close aborts the upstream request.
	streamCtx, cancel := context.WithCancel(ctx)
	httpReq, err := http.NewRequestWithContext(streamCtx, http.MethodPost, a.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("ollama: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/x-ndjson")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		cancel()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &adapter.ConnectionError{Backend: a.baseURL, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer cancel()
		defer resp.Body.Close()
		return nil, &adapter.BackendError{StatusCode: resp.StatusCode, Message: readErrorMessage(resp.Body)}
	}

	return newStream(ctx, a.baseURL, resp.Body, cancel), nil
}

// Ping checks that the backend answers GET /api/version.
func (a *OllamaAdapter) Ping(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/api/version", nil)
	if err != nil {
		return fmt.Errorf("ollama: create request: %w", err)
	}
	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return &adapter.ConnectionError{Backend: a.baseURL, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &adapter.BackendError{StatusCode: resp.StatusCode, Message: readErrorMessage(resp.Body)}
	}
	var v wire.VersionResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxErrorBody)).Decode(&v); err != nil {
		return fmt.Errorf("ollama: decode version: %w", err)
	}
	return nil
}

func readErrorMessage(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	var errResp wire.ErrorResponse
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error != "" {
		return errResp.Error
	}
	msg := strings.TrimSpace(string(data))
	if msg == "" {
		return "empty response"
	}
	return msg
}
