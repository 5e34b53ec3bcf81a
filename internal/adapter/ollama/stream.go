package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/tokligence/tokligence-relay/internal/adapter"
	wire "github.com/tokligence/tokligence-relay/internal/ollama"
)

// stream reads one NDJSON frame per Recv. Nothing is read ahead, so a consumer
// that stops calling Recv stops pulling from the backend.
type stream struct {
	ctx     context.Context
	backend string
	body    io.ReadCloser
	reader  *bufio.Reader
	cancel  context.CancelFunc

	frame  int
	done   bool
	failed error

	closeOnce sync.Once
	closed    bool
}

func newStream(ctx context.Context, backend string, body io.ReadCloser, cancel context.CancelFunc) *stream {
	return &stream{
		ctx:     ctx,
		backend: backend,
		body:    body,
		reader:  bufio.NewReaderSize(body, 32<<10),
		cancel:  cancel,
	}
}

func (s *stream) Recv() (adapter.Chunk, error) {
	if s.closed {
		return adapter.Chunk{}, adapter.ErrStreamClosed
	}
	if s.done {
		return adapter.Chunk{}, io.EOF
	}
	if s.failed != nil {
		return adapter.Chunk{}, s.failed
	}

	for {
		line, err := s.reader.ReadBytes('\n')
		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			s.frame++
			chunk, perr := s.decode(line)
			if perr != nil {
				return adapter.Chunk{}, s.fail(perr)
			}
			if chunk.Done {
				s.done = true
				s.Close()
			}
			return chunk, nil
		}
		if err == nil {
			// blank keep-alive line
			continue
		}
		if ctxErr := s.ctx.Err(); ctxErr != nil {
			return adapter.Chunk{}, s.fail(ctxErr)
		}
		if errors.Is(err, io.EOF) {
			return adapter.Chunk{}, s.fail(&adapter.ProtocolError{Frame: s.frame + 1, Reason: "stream ended before final frame"})
		}
		return adapter.Chunk{}, s.fail(&adapter.ConnectionError{Backend: s.backend, Err: err})
	}
}

func (s *stream) decode(line []byte) (adapter.Chunk, error) {
	var resp wire.GenerateResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		return adapter.Chunk{}, &adapter.ProtocolError{Frame: s.frame, Reason: "malformed frame", Err: err}
	}
	if resp.Error != "" {
		return adapter.Chunk{}, &adapter.BackendError{Message: resp.Error}
	}
	if !resp.Done {
		return adapter.Partial(resp.Response), nil
	}
	usage := &adapter.Usage{
		PromptTokens:     resp.PromptEvalCount,
		CompletionTokens: resp.EvalCount,
		DoneReason:       resp.DoneReason,
		TotalDuration:    time.Duration(resp.TotalDuration),
	}
	return adapter.Final(resp.Response, adapter.ContextHandle(resp.Context), usage), nil
}

func (s *stream) fail(err error) error {
	s.failed = err
	s.Close()
	return err
}

// Close cancels the upstream request before closing the body so a blocked
// read returns promptly.
func (s *stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		err = s.body.Close()
	})
	if !s.done && s.failed == nil {
		s.closed = true
	}
	return err
}
