package testutil

import (
	"context"
	"io"
	"sync"

	"github.com/tokligence/tokligence-relay/internal/adapter"
)

// ScriptedAdapter replays a fixed chunk sequence for every Generate call.
type ScriptedAdapter struct {
	Chunks []adapter.Chunk
	// GenerateErr fails Generate before any stream exists.
	GenerateErr error
	// Err is returned by Recv once FailAfter chunks have been delivered.
	Err       error
	FailAfter int
	// Pause makes Recv block until the request context ends once Pause chunks
	// have been delivered. Zero disables it.
	Pause int
	// PingErr is returned from Ping.
	PingErr error

	mu       sync.Mutex
	requests []adapter.Request
	streams  []*ScriptedStream
}

var _ adapter.GenerateAdapter = (*ScriptedAdapter)(nil)
var _ adapter.Pinger = (*ScriptedAdapter)(nil)

func (a *ScriptedAdapter) Generate(ctx context.Context, req adapter.Request) (adapter.Stream, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.requests = append(a.requests, adapter.Request{Prompt: req.Prompt, Context: req.Context.Clone()})
	if a.GenerateErr != nil {
		return nil, a.GenerateErr
	}
	s := &ScriptedStream{
		ctx:       ctx,
		chunks:    a.Chunks,
		err:       a.Err,
		failAfter: a.FailAfter,
		pause:     a.Pause,
	}
	a.streams = append(a.streams, s)
	return s, nil
}

func (a *ScriptedAdapter) Ping(context.Context) error { return a.PingErr }

// Requests returns the requests seen so far.
func (a *ScriptedAdapter) Requests() []adapter.Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]adapter.Request, len(a.requests))
	copy(out, a.requests)
	return out
}

// Streams returns the streams handed out so far.
func (a *ScriptedAdapter) Streams() []*ScriptedStream {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*ScriptedStream, len(a.streams))
	copy(out, a.streams)
	return out
}

// ScriptedStream records how it was consumed.
type ScriptedStream struct {
	ctx       context.Context
	chunks    []adapter.Chunk
	err       error
	failAfter int
	pause     int

	mu     sync.Mutex
	pos    int
	recvs  int
	closes int
	closed chan struct{}
}

func (s *ScriptedStream) Recv() (adapter.Chunk, error) {
	s.mu.Lock()
	s.recvs++
	pos := s.pos
	closed := s.closes > 0
	s.mu.Unlock()

	if closed {
		return adapter.Chunk{}, adapter.ErrStreamClosed
	}
	if s.err != nil && pos >= s.failAfter {
		return adapter.Chunk{}, s.err
	}
	if s.pause > 0 && pos >= s.pause {
		<-s.ctx.Done()
		return adapter.Chunk{}, s.ctx.Err()
	}
	if pos >= len(s.chunks) {
		return adapter.Chunk{}, io.EOF
	}
	s.mu.Lock()
	s.pos++
	s.mu.Unlock()
	return s.chunks[pos], nil
}

func (s *ScriptedStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	if s.closed == nil {
		s.closed = make(chan struct{})
	}
	if s.closes == 1 {
		close(s.closed)
	}
	return nil
}

// RecvCount reports how many times Recv was called.
func (s *ScriptedStream) RecvCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recvs
}

// Delivered reports how many chunks were handed to the consumer.
func (s *ScriptedStream) Delivered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

// CloseCount reports how many times Close was called.
func (s *ScriptedStream) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// WaitClosed returns a channel closed on the first Close.
func (s *ScriptedStream) WaitClosed() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed == nil {
		s.closed = make(chan struct{})
	}
	return s.closed
}
