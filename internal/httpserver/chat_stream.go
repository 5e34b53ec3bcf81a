package httpserver

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/tokligence/tokligence-relay/internal/adapter"
	"github.com/tokligence/tokligence-relay/internal/ledger"
	"github.com/tokligence/tokligence-relay/internal/metrics"
	"github.com/tokligence/tokligence-relay/internal/relayapi"
)

// StreamIDHeader carries the per-stream id, also used in logs and the ledger.
const StreamIDHeader = "X-Relay-Stream-Id"

type streamState int

const (
	stateIdle streamState = iota
	stateStreaming
	stateCompleted
	stateFailed
	stateClientDisconnected
)

func (st streamState) outcome() string {
	switch st {
	case stateCompleted:
		return metrics.OutcomeCompleted
	case stateClientDisconnected:
		return metrics.OutcomeClientDisconnected
	default:
		return metrics.OutcomeFailed
	}
}

// streamRun tracks one relayed generation.
type streamRun struct {
	id     string
	start  time.Time
	state  streamState
	chunks int64
	usage  *adapter.Usage
}

// relay opens the upstream stream and copies chunks to w as they are pulled.
//
// The 200 status is committed lazily on the first chunk, so anything that
// fails before then is reported as a JSON error. Once committed, an upstream
// failure aborts the connection instead of writing into the token stream.
func (s *Server) relay(w http.ResponseWriter, r *http.Request, req relayapi.ChatRequest) {
	run := &streamRun{id: uuid.NewString(), start: time.Now()}
	w.Header().Set(StreamIDHeader, run.id)

	ctx := r.Context()
	if s.maxStreamDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.maxStreamDuration)
		defer cancel()
	}

	done := s.metrics.StreamStarted()
	defer func() {
		elapsed := time.Since(run.start)
		done(run.state.outcome(), elapsed)
		s.record(r.Context(), run, elapsed)
	}()

	stream, err := s.adapter.Generate(ctx, adapter.Request{Prompt: req.Prompt, Context: adapter.ContextHandle(req.Context)})
	if err != nil {
		s.failBeforeCommit(w, r, run, err)
		return
	}
	defer stream.Close()

	rc := http.NewResponseController(w)
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			err = &adapter.ProtocolError{Frame: int(run.chunks) + 1, Reason: "stream ended before final chunk"}
		}
		if err != nil {
			if run.state == stateIdle {
				s.failBeforeCommit(w, r, run, err)
				return
			}
			s.failAfterCommit(r, run, err)
			return
		}

		if run.state == stateIdle {
			s.commit(w)
			run.state = stateStreaming
			s.metrics.FirstChunk(time.Since(run.start))
		}

		if chunk.Text != "" {
			if err := writeAndFlush(w, rc, []byte(chunk.Text)); err != nil {
				s.clientGone(run, err)
				return
			}
			run.chunks++
			s.metrics.ChunkRelayed()
		}

		if chunk.Done {
			run.usage = chunk.Usage
			if chunk.HasContext() {
				if err := writeAndFlush(w, rc, relayapi.EncodeTrailer(chunk.Context)); err != nil {
					s.clientGone(run, err)
					return
				}
			}
			run.state = stateCompleted
			s.logger.Debugf("stream completed stream=%s chunks=%d context=%d elapsed=%s", run.id, run.chunks, len(chunk.Context), time.Since(run.start))
			return
		}

		if r.Context().Err() != nil {
			s.clientGone(run, r.Context().Err())
			return
		}
	}
}

func (s *Server) commit(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Content-Type-Options", "nosniff")
	// disable proxy buffering (nginx)
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
}

func writeAndFlush(w http.ResponseWriter, rc *http.ResponseController, p []byte) error {
	if _, err := w.Write(p); err != nil {
		return err
	}
	if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}

// failBeforeCommit reports err as a JSON error unless the client already left.
func (s *Server) failBeforeCommit(w http.ResponseWriter, r *http.Request, run *streamRun, err error) {
	if r.Context().Err() != nil {
		s.clientGone(run, err)
		return
	}
	status, kind := classify(err)
	run.state = stateFailed
	s.metrics.UpstreamError(kind)
	s.logger.Warnf("stream failed before first chunk stream=%s status=%d kind=%s: %v", run.id, status, kind, err)
	s.respondError(w, status, kind, err)
}

// failAfterCommit logs err and aborts the response. The client sees a
// truncated chunked body rather than error text mixed into the generation.
func (s *Server) failAfterCommit(r *http.Request, run *streamRun, err error) {
	if r.Context().Err() != nil {
		s.clientGone(run, err)
		return
	}
	_, kind := classify(err)
	run.state = stateFailed
	s.metrics.UpstreamError(kind)
	s.logger.Errorf("stream aborted mid-generation stream=%s chunks=%d kind=%s: %v", run.id, run.chunks, kind, err)
	panic(http.ErrAbortHandler)
}

func (s *Server) clientGone(run *streamRun, err error) {
	run.state = stateClientDisconnected
	s.logger.Infof("client disconnected stream=%s chunks=%d elapsed=%s: %v", run.id, run.chunks, time.Since(run.start), err)
}

func (s *Server) record(parent context.Context, run *streamRun, elapsed time.Duration) {
	if s.ledger == nil {
		return
	}
	var outcome ledger.Outcome
	switch run.state {
	case stateCompleted:
		outcome = ledger.OutcomeCompleted
	case stateClientDisconnected:
		outcome = ledger.OutcomeClientDisconnected
	default:
		outcome = ledger.OutcomeFailed
	}
	entry := ledger.Entry{
		StreamID:   run.id,
		Model:      s.model,
		Chunks:     run.chunks,
		Outcome:    outcome,
		DurationMS: elapsed.Milliseconds(),
		CreatedAt:  run.start.UTC(),
	}
	if run.usage != nil {
		entry.PromptTokens = int64(run.usage.PromptTokens)
		entry.CompletionTokens = int64(run.usage.CompletionTokens)
	}
	// the request context is usually already cancelled here
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), s.ledgerTimeout)
	defer cancel()
	if err := s.ledger.Record(ctx, entry); err != nil {
		s.logger.Warnf("ledger record stream=%s: %v", run.id, err)
	}
}
