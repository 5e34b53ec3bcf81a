package relayclient

import (
	"bytes"
	"io"

	"github.com/tokligence/tokligence-relay/internal/relayapi"
)

// TrailerSplitter passes generated text through to an io.Writer while holding
// back anything that could still turn out to be the trailer frame.
//
// The trailer always starts at the last newline of the body, so only bytes
// from the most recent newline onwards are ever buffered, and only while they
// match the trailer prefix.
type TrailerSplitter struct {
	out     io.Writer
	held    []byte
	written int64
}

// NewTrailerSplitter wraps out.
func NewTrailerSplitter(out io.Writer) *TrailerSplitter {
	if out == nil {
		out = io.Discard
	}
	return &TrailerSplitter{out: out}
}

func (s *TrailerSplitter) Write(p []byte) (int, error) {
	n := len(p)
	buf := append(s.held, p...)
	s.held = nil

	cut := bytes.LastIndexByte(buf, '\n')
	if cut < 0 {
		return n, s.emit(buf)
	}
	if err := s.emit(buf[:cut]); err != nil {
		return n, err
	}
	tail := buf[cut:]
	if mayBeTrailer(tail) {
		s.held = append([]byte(nil), tail...)
		return n, nil
	}
	return n, s.emit(tail)
}

// Finish flushes held bytes that were not a trailer and returns the trailer,
// or nil when the body had none.
func (s *TrailerSplitter) Finish() (*relayapi.Trailer, error) {
	tail := s.held
	s.held = nil
	if len(tail) == 0 {
		return nil, nil
	}
	if t, err := relayapi.ParseTrailer(tail); err == nil {
		return &t, nil
	}
	return nil, s.emit(tail)
}

// Written reports how many text bytes reached the wrapped writer.
func (s *TrailerSplitter) Written() int64 { return s.written }

func (s *TrailerSplitter) emit(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	n, err := s.out.Write(p)
	s.written += int64(n)
	return err
}

// mayBeTrailer reports whether tail, which starts with a newline and holds no
// other, is the trailer or a prefix of it.
func mayBeTrailer(tail []byte) bool {
	prefix := []byte(relayapi.TrailerPrefix)
	if len(tail) <= len(prefix) {
		return bytes.HasPrefix(prefix, tail)
	}
	return bytes.HasPrefix(tail, prefix)
}
