// Package relayclient talks to a relay server over its streaming chat
// protocol. The caller owns conversation state: each Chat returns the context
// handle to send with the next turn.
package relayclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tokligence/tokligence-relay/internal/ledger"
	"github.com/tokligence/tokligence-relay/internal/relayapi"
	"github.com/tokligence/tokligence-relay/internal/version"
)

// HTTPClient abstracts the Do method for easier testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// ErrInterrupted is returned when the stream broke before it ended normally.
// The text already written to the caller's writer stays valid.
var ErrInterrupted = errors.New("relayclient: stream interrupted")

// APIError is a non-2xx answer from the relay.
type APIError struct {
	StatusCode int
	Kind       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("relay error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("relay error: status %d %s: %s", e.StatusCode, e.Kind, e.Message)
}

// Result describes a finished chat turn.
type Result struct {
	StreamID string
	// Context is the handle to send with the next turn. Nil when the backend
	// returned none; callers should then keep their previous handle.
	Context []int
	// Bytes is the amount of generated text written out.
	Bytes int64
}

// Client drives one relay server.
type Client struct {
	baseURL    *url.URL
	httpClient HTTPClient
}

// New constructs a client using the provided base URL. The default HTTP
// client has no overall timeout since generations can run for minutes; bound
// calls with the context instead.
func New(baseURL string, httpClient HTTPClient) (*Client, error) {
	parsed, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("invalid base URL %q: scheme must be http or https", baseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// Chat sends prompt with the prior context handle and copies generated text
// to out as it arrives. The trailer frame never reaches out.
func (c *Client) Chat(ctx context.Context, prompt string, prior []int, out io.Writer) (Result, error) {
	payload, err := json.Marshal(relayapi.ChatRequest{Prompt: prompt, Context: prior})
	if err != nil {
		return Result{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/chat/stream"), bytes.NewReader(payload))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, decodeAPIError(resp)
	}

	res := Result{StreamID: resp.Header.Get("X-Relay-Stream-Id")}
	split := NewTrailerSplitter(out)
	_, copyErr := io.Copy(split, resp.Body)
	trailer, finishErr := split.Finish()
	res.Bytes = split.Written()
	if copyErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, ctxErr
		}
		return res, fmt.Errorf("%w: %v", ErrInterrupted, copyErr)
	}
	if finishErr != nil {
		return res, finishErr
	}
	if trailer != nil {
		res.Context = trailer.Context
	}
	return res, nil
}

// Version fetches the server build information.
func (c *Client) Version(ctx context.Context) (version.BuildInfo, error) {
	var info version.BuildInfo
	err := c.get(ctx, "/version", &info)
	return info, err
}

// UsageSummary fetches the ledger totals.
func (c *Client) UsageSummary(ctx context.Context) (ledger.Summary, error) {
	var summary ledger.Summary
	err := c.get(ctx, "/usage/summary", &summary)
	return summary, err
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(path), nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return decodeAPIError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) endpoint(path string) string {
	return c.baseURL.String() + path
}

func decodeAPIError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var body relayapi.ErrorBody
	if err := json.Unmarshal(data, &body); err == nil && body.Error.Kind != "" {
		apiErr.Kind = body.Error.Kind
		apiErr.Message = body.Error.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	return apiErr
}
