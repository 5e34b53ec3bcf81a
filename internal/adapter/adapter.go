package adapter

import (
	"context"
	"time"
)

// ContextHandle is the backend's opaque conversation state. The relay never
// inspects it; it is returned on the final chunk and passed back verbatim on
// the next request.
type ContextHandle []int

// Clone returns an independent copy of the handle.
func (h ContextHandle) Clone() ContextHandle {
	if h == nil {
		return nil
	}
	out := make(ContextHandle, len(h))
	copy(out, h)
	return out
}

// Request is a single generation call.
type Request struct {
	Prompt  string
	Context ContextHandle
}

// Usage carries the token accounting reported with the final chunk.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	DoneReason       string
	TotalDuration    time.Duration
}

// Chunk is one incremental unit of generated text. Context and Usage are only
// ever set when Done is true; use Partial and Final to build chunks.
type Chunk struct {
	Text    string
	Done    bool
	Context ContextHandle
	Usage   *Usage
}

// Partial builds a non-terminal chunk.
func Partial(text string) Chunk {
	return Chunk{Text: text}
}

// Final builds the terminal chunk. An empty context is normalised to nil.
func Final(text string, ctx ContextHandle, usage *Usage) Chunk {
	if len(ctx) == 0 {
		ctx = nil
	}
	return Chunk{Text: text, Done: true, Context: ctx, Usage: usage}
}

// HasContext reports whether the chunk carries a context handle.
func (c Chunk) HasContext() bool {
	return c.Done && len(c.Context) > 0
}

// Stream yields chunks in upstream order.
//
// Recv returns io.EOF once the final chunk has been returned. Close releases
// the upstream connection; it is idempotent and must be called on every exit
// path, including when the consumer stops early. After Close no further
// frames are requested from the backend.
type Stream interface {
	Recv() (Chunk, error)
	Close() error
}

// GenerateAdapter opens streaming generations against a backend.
type GenerateAdapter interface {
	Generate(ctx context.Context, req Request) (Stream, error)
}

// Pinger is implemented by adapters that can report backend reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}
