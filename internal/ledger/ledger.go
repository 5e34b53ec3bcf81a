package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Outcome is how a relayed stream ended.
type Outcome string

const (
	OutcomeCompleted          Outcome = "completed"
	OutcomeFailed             Outcome = "failed"
	OutcomeClientDisconnected Outcome = "client_disconnected"
)

// Entry is the accounting record of one relayed stream. It never holds the
// prompt, the generated text or the context handle.
type Entry struct {
	ID               int64     `json:"id"`
	StreamID         string    `json:"stream_id"`
	Model            string    `json:"model"`
	PromptTokens     int64     `json:"prompt_tokens"`
	CompletionTokens int64     `json:"completion_tokens"`
	Chunks           int64     `json:"chunks"`
	Outcome          Outcome   `json:"outcome"`
	DurationMS       int64     `json:"duration_ms"`
	CreatedAt        time.Time `json:"created_at"`
}

// Summary aggregates every recorded stream.
type Summary struct {
	Streams            int64 `json:"streams"`
	Completed          int64 `json:"completed"`
	Failed             int64 `json:"failed"`
	ClientDisconnected int64 `json:"client_disconnected"`
	PromptTokens       int64 `json:"prompt_tokens"`
	CompletionTokens   int64 `json:"completion_tokens"`
}

// Store defines persistence behaviour for the ledger.
type Store interface {
	Record(ctx context.Context, entry Entry) error
	Summary(ctx context.Context) (Summary, error)
	ListRecent(ctx context.Context, limit int) ([]Entry, error)
	Ping(ctx context.Context) error
	Close() error
}

// DefaultRecentLimit applies when ListRecent is given a non-positive limit.
const DefaultRecentLimit = 50

// Validate checks the fields every backend requires.
func Validate(e Entry) error {
	if e.StreamID == "" {
		return errors.New("ledger record requires stream id")
	}
	switch e.Outcome {
	case OutcomeCompleted, OutcomeFailed, OutcomeClientDisconnected:
	default:
		return fmt.Errorf("invalid outcome %q", e.Outcome)
	}
	if e.PromptTokens < 0 || e.CompletionTokens < 0 {
		return errors.New("token counts must not be negative")
	}
	return nil
}
