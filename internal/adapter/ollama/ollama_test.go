package ollama

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tokligence/tokligence-relay/internal/adapter"
	"github.com/tokligence/tokligence-relay/internal/testutil"
)

func newTestAdapter(t *testing.T, url string, opts GenerationOptions) *OllamaAdapter {
	t.Helper()
	a, err := New(Config{BaseURL: url + "/", Model: "llama3", Options: opts})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	return a
}

func collect(t *testing.T, s adapter.Stream) ([]adapter.Chunk, error) {
	t.Helper()
	var out []adapter.Chunk
	for {
		c, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, c)
	}
}

func TestNewRequiresModel(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error without model")
	}
	a, err := New(Config{Model: "m"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if a.BaseURL() != "http://localhost:11434" {
		t.Fatalf("unexpected default base url %q", a.BaseURL())
	}
}

func TestGenerateStreamsFramesInOrder(t *testing.T) {
	stub := testutil.NewOllamaStub(t, testutil.OllamaScript{Frames: []string{
		testutil.Frame("He"),
		"",
		testutil.Frame("llo"),
		testutil.DoneFrame("", []int{7, 8, 9}),
	}})
	a := newTestAdapter(t, stub.URL, GenerationOptions{KeepAlive: "5m", Options: map[string]any{"temperature": 0.2}})

	s, err := a.Generate(context.Background(), adapter.Request{Prompt: "Hello", Context: adapter.ContextHandle{1, 2}})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	defer s.Close()

	chunks, err := collect(t, s)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	if chunks[0].Text != "He" || chunks[1].Text != "llo" {
		t.Fatalf("unexpected texts %q %q", chunks[0].Text, chunks[1].Text)
	}
	final := chunks[2]
	if !final.Done || !final.HasContext() || len(final.Context) != 3 || final.Context[2] != 9 {
		t.Fatalf("unexpected final chunk %#v", final)
	}
	if final.Usage == nil || final.Usage.CompletionTokens != 3 || final.Usage.DoneReason != "stop" {
		t.Fatalf("unexpected usage %#v", final.Usage)
	}

	reqs := stub.Requests()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 upstream request, got %d", len(reqs))
	}
	got := reqs[0]
	if got.Model != "llama3" || got.Prompt != "Hello" || !got.Stream || got.KeepAlive != "5m" {
		t.Fatalf("unexpected upstream request %#v", got)
	}
	if len(got.Context) != 2 || got.Context[0] != 1 {
		t.Fatalf("context not forwarded: %#v", got.Context)
	}
	if got.Options["temperature"] != 0.2 {
		t.Fatalf("options not forwarded: %#v", got.Options)
	}
}

func TestGenerateOmitsAbsentContext(t *testing.T) {
	stub := testutil.NewOllamaStub(t, testutil.OllamaScript{Frames: []string{testutil.DoneFrame("ok", nil)}})
	a := newTestAdapter(t, stub.URL, GenerationOptions{})
	s, err := a.Generate(context.Background(), adapter.Request{Prompt: "p"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	chunks, err := collect(t, s)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if len(chunks) != 1 || chunks[0].HasContext() || chunks[0].Context != nil {
		t.Fatalf("expected single final chunk without context, got %#v", chunks)
	}
	if stub.Requests()[0].Context != nil {
		t.Fatalf("expected no context upstream")
	}
}

func TestGenerateNon2xxIsBackendError(t *testing.T) {
	stub := testutil.NewOllamaStub(t, testutil.OllamaScript{Status: http.StatusNotFound, ErrorBody: `{"error":"model \"llama3\" not found"}`})
	a := newTestAdapter(t, stub.URL, GenerationOptions{})
	_, err := a.Generate(context.Background(), adapter.Request{Prompt: "p"})
	var be *adapter.BackendError
	if !errors.As(err, &be) {
		t.Fatalf("expected BackendError, got %v", err)
	}
	if be.StatusCode != http.StatusNotFound || !strings.Contains(be.Message, "not found") {
		t.Fatalf("unexpected backend error %#v", be)
	}
}

func TestGenerateUnreachableIsConnectionError(t *testing.T) {
	l, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("tcp4 loopback unavailable: %v", err)
	}
	addr := l.Addr().String()
	l.Close()

	a, err := New(Config{BaseURL: "http://" + addr, Model: "m", ConnectTimeout: time.Second})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	_, err = a.Generate(context.Background(), adapter.Request{Prompt: "p"})
	var ce *adapter.ConnectionError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConnectionError, got %v", err)
	}
}

func TestGenerateMalformedFrameIsProtocolError(t *testing.T) {
	stub := testutil.NewOllamaStub(t, testutil.OllamaScript{Frames: []string{testutil.Frame("a"), "{not json"}})
	a := newTestAdapter(t, stub.URL, GenerationOptions{})
	s, err := a.Generate(context.Background(), adapter.Request{Prompt: "p"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	defer s.Close()
	chunks, err := collect(t, s)
	var pe *adapter.ProtocolError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProtocolError, got %v", err)
	}
	if pe.Frame != 2 || len(chunks) != 1 {
		t.Fatalf("unexpected frame %d after %d chunks", pe.Frame, len(chunks))
	}
	// the failure is sticky
	if _, err := s.Recv(); !errors.As(err, &pe) {
		t.Fatalf("expected sticky ProtocolError, got %v", err)
	}
}

func TestGenerateTruncatedStreamIsProtocolError(t *testing.T) {
	stub := testutil.NewOllamaStub(t, testutil.OllamaScript{Frames: []string{testutil.Frame("a"), testutil.Frame("b")}})
	a := newTestAdapter(t, stub.URL, GenerationOptions{})
	s, err := a.Generate(context.Background(), adapter.Request{Prompt: "p"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	defer s.Close()
	chunks, err := collect(t, s)
	var pe *adapter.ProtocolError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProtocolError, got %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected both partial chunks before failure, got %d", len(chunks))
	}
}

func TestGenerateInBandErrorFrame(t *testing.T) {
	stub := testutil.NewOllamaStub(t, testutil.OllamaScript{Frames: []string{testutil.Frame("a"), testutil.ErrorFrame("out of memory")}})
	a := newTestAdapter(t, stub.URL, GenerationOptions{})
	s, err := a.Generate(context.Background(), adapter.Request{Prompt: "p"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	defer s.Close()
	_, err = collect(t, s)
	var be *adapter.BackendError
	if !errors.As(err, &be) || be.Message != "out of memory" {
		t.Fatalf("expected in-band BackendError, got %v", err)
	}
}

func TestLargeFrameIsNotTruncated(t *testing.T) {
	ctx := make([]int, 50000)
	for i := range ctx {
		ctx[i] = i
	}
	stub := testutil.NewOllamaStub(t, testutil.OllamaScript{Frames: []string{testutil.DoneFrame("", ctx)}})
	a := newTestAdapter(t, stub.URL, GenerationOptions{})
	s, err := a.Generate(context.Background(), adapter.Request{Prompt: "p"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	chunks, err := collect(t, s)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if len(chunks[0].Context) != len(ctx) {
		t.Fatalf("expected %d context tokens, got %d", len(ctx), len(chunks[0].Context))
	}
}

func TestCloseCancelsUpstream(t *testing.T) {
	stub := testutil.NewOllamaStub(t, testutil.OllamaScript{Frames: []string{testutil.Frame("a")}, HoldOpen: true})
	a := newTestAdapter(t, stub.URL, GenerationOptions{})
	s, err := a.Generate(context.Background(), adapter.Request{Prompt: "p"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := s.Recv(); err != nil {
		t.Fatalf("recv: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Logf("close: %v", err)
	}
	s.Close()

	select {
	case <-stub.Cancelled():
	case <-time.After(3 * time.Second):
		t.Fatalf("upstream request was not cancelled")
	}
	if _, err := s.Recv(); !errors.Is(err, adapter.ErrStreamClosed) {
		t.Fatalf("expected ErrStreamClosed after Close, got %v", err)
	}
}

func TestContextCancelWhileReading(t *testing.T) {
	stub := testutil.NewOllamaStub(t, testutil.OllamaScript{Frames: []string{testutil.Frame("a")}, HoldOpen: true})
	a := newTestAdapter(t, stub.URL, GenerationOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	s, err := a.Generate(ctx, adapter.Request{Prompt: "p"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	defer s.Close()
	if _, err := s.Recv(); err != nil {
		t.Fatalf("recv: %v", err)
	}
	time.AfterFunc(50*time.Millisecond, cancel)
	if _, err := s.Recv(); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestPing(t *testing.T) {
	stub := testutil.NewOllamaStub(t, testutil.OllamaScript{})
	a := newTestAdapter(t, stub.URL, GenerationOptions{})
	if err := a.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestLoadOptions(t *testing.T) {
	opts, err := LoadOptions("")
	if err != nil || opts.Options != nil || opts.KeepAlive != "" {
		t.Fatalf("expected zero options, got %#v %v", opts, err)
	}

	path := filepath.Join(t.TempDir(), "gen.yaml")
	content := "keep_alive: 10m\noptions:\n  temperature: 0.7\n  num_ctx: 4096\n  stop: [\"</s>\"]\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	opts, err = LoadOptions(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if opts.KeepAlive != "10m" || opts.Options["num_ctx"] != 4096 || opts.Options["temperature"] != 0.7 {
		t.Fatalf("unexpected options %#v", opts)
	}

	if _, err := LoadOptions(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
