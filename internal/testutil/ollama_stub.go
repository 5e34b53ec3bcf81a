package testutil

import (
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/tokligence/tokligence-relay/internal/ollama"
)

// OllamaScript describes how the stub answers /api/generate.
type OllamaScript struct {
	// Frames are written one per line, flushed individually.
	Frames []string
	// Status, when set to anything other than 200, is returned with ErrorBody
	// instead of streaming frames.
	Status    int
	ErrorBody string
	// FrameDelay is slept before each frame.
	FrameDelay time.Duration
	// HoldOpen keeps the response open after the last frame until the client goes away.
	HoldOpen bool
}

// OllamaStub is a scripted Ollama backend that records what it was sent.
type OllamaStub struct {
	URL string

	script OllamaScript
	server *IPv4Server

	mu        sync.Mutex
	requests  []ollama.GenerateRequest
	sent      int
	cancelled chan struct{}
	once      sync.Once
}

// NewOllamaStub starts a stub backend serving script.
func NewOllamaStub(t *testing.T, script OllamaScript) *OllamaStub {
	t.Helper()
	stub := &OllamaStub{script: script, cancelled: make(chan struct{})}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/generate", stub.handleGenerate)
	mux.HandleFunc("/api/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(ollama.VersionResponse{Version: "0.0.0-stub"})
	})
	stub.server = NewIPv4Server(t, mux)
	stub.URL = stub.server.URL
	return stub
}

func (s *OllamaStub) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req ollama.GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"bad request"}`, http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	defer func() {
		if r.Context().Err() != nil {
			s.once.Do(func() { close(s.cancelled) })
		}
	}()

	if s.script.Status != 0 && s.script.Status != http.StatusOK {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(s.script.Status)
		_, _ = w.Write([]byte(s.script.ErrorBody))
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	rc := http.NewResponseController(w)
	_ = rc.Flush()
	for _, frame := range s.script.Frames {
		if s.script.FrameDelay > 0 {
			select {
			case <-time.After(s.script.FrameDelay):
			case <-r.Context().Done():
				return
			}
		}
		if _, err := w.Write([]byte(frame + "\n")); err != nil {
			return
		}
		if err := rc.Flush(); err != nil {
			return
		}
		s.mu.Lock()
		s.sent++
		s.mu.Unlock()
	}
	if s.script.HoldOpen {
		<-r.Context().Done()
	}
}

// Requests returns the decoded generate requests received so far.
func (s *OllamaStub) Requests() []ollama.GenerateRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ollama.GenerateRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

// FramesSent reports how many frames were written and flushed.
func (s *OllamaStub) FramesSent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent
}

// Cancelled is closed once a generate request is abandoned by the client.
func (s *OllamaStub) Cancelled() <-chan struct{} {
	return s.cancelled
}

// Frame renders a partial generate frame.
func Frame(text string) string {
	return mustJSON(ollama.GenerateResponse{Model: "stub", Response: text})
}

// DoneFrame renders the final generate frame.
func DoneFrame(text string, context []int) string {
	return mustJSON(ollama.GenerateResponse{
		Model:           "stub",
		Response:        text,
		Done:            true,
		DoneReason:      "stop",
		Context:         context,
		PromptEvalCount: 3,
		EvalCount:       len(context),
		TotalDuration:   int64(time.Millisecond),
	})
}

// ErrorFrame renders an in-band error frame.
func ErrorFrame(msg string) string {
	return mustJSON(ollama.GenerateResponse{Error: msg})
}

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}
