package loopback

import (
	"context"
	"hash/fnv"
	"io"
	"strings"
	"time"

	"github.com/tokligence/tokligence-relay/internal/adapter"
)

// Ensure LoopbackAdapter implements GenerateAdapter.
var _ adapter.GenerateAdapter = (*LoopbackAdapter)(nil)
var _ adapter.Pinger = (*LoopbackAdapter)(nil)

// LoopbackAdapter echoes the prompt back word by word. The final context is
// the prior context followed by one token id per prompt word, so multi-turn
// state can be exercised without a model server.
type LoopbackAdapter struct {
	delay time.Duration
}

// New creates a LoopbackAdapter instance. delay is slept before each chunk.
func New(delay time.Duration) *LoopbackAdapter {
	return &LoopbackAdapter{delay: delay}
}

// Generate fabricates a deterministic stream for testing the relay pipeline.
func (a *LoopbackAdapter) Generate(ctx context.Context, req adapter.Request) (adapter.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	words := strings.Fields(req.Prompt)
	pieces := make([]string, 0, len(words)+1)
	pieces = append(pieces, "[loopback]")
	for _, w := range words {
		pieces = append(pieces, " "+w)
	}

	next := req.Context.Clone()
	for _, w := range words {
		next = append(next, tokenID(w))
	}

	return &stream{
		ctx:    ctx,
		delay:  a.delay,
		pieces: pieces,
		final:  next,
		usage: &adapter.Usage{
			PromptTokens:     len(words),
			CompletionTokens: len(pieces),
			DoneReason:       "stop",
		},
	}, nil
}

// Ping always succeeds.
func (a *LoopbackAdapter) Ping(context.Context) error { return nil }

func tokenID(word string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(word))
	return int(h.Sum32() & 0x7fffffff)
}

type stream struct {
	ctx    context.Context
	delay  time.Duration
	pieces []string
	final  adapter.ContextHandle
	usage  *adapter.Usage

	pos    int
	done   bool
	closed bool
}

func (s *stream) Recv() (adapter.Chunk, error) {
	if s.closed {
		return adapter.Chunk{}, adapter.ErrStreamClosed
	}
	if s.done {
		return adapter.Chunk{}, io.EOF
	}
	if s.delay > 0 {
		t := time.NewTimer(s.delay)
		select {
		case <-t.C:
		case <-s.ctx.Done():
			t.Stop()
			return adapter.Chunk{}, s.ctx.Err()
		}
	} else if err := s.ctx.Err(); err != nil {
		return adapter.Chunk{}, err
	}

	if s.pos < len(s.pieces) {
		text := s.pieces[s.pos]
		s.pos++
		return adapter.Partial(text), nil
	}
	s.done = true
	return adapter.Final("", s.final, s.usage), nil
}

func (s *stream) Close() error {
	if !s.done {
		s.closed = true
	}
	return nil
}
