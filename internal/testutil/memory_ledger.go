package testutil

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/tokligence/tokligence-relay/internal/ledger"
)

// MemoryLedger is an in-memory ledger.Store for tests.
type MemoryLedger struct {
	mu      sync.Mutex
	entries []ledger.Entry
	closed  bool
	// PingErr is returned from Ping when set.
	PingErr error
}

var _ ledger.Store = (*MemoryLedger)(nil)

func (m *MemoryLedger) Record(_ context.Context, e ledger.Entry) error {
	if err := ledger.Validate(e); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New("memory ledger closed")
	}
	e.ID = int64(len(m.entries) + 1)
	m.entries = append(m.entries, e)
	return nil
}

func (m *MemoryLedger) Summary(context.Context) (ledger.Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var s ledger.Summary
	for _, e := range m.entries {
		s.Streams++
		s.PromptTokens += e.PromptTokens
		s.CompletionTokens += e.CompletionTokens
		switch e.Outcome {
		case ledger.OutcomeCompleted:
			s.Completed++
		case ledger.OutcomeFailed:
			s.Failed++
		case ledger.OutcomeClientDisconnected:
			s.ClientDisconnected++
		}
	}
	return s, nil
}

func (m *MemoryLedger) ListRecent(_ context.Context, limit int) ([]ledger.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ledger.Entry, len(m.entries))
	copy(out, m.entries)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit <= 0 {
		limit = ledger.DefaultRecentLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryLedger) Ping(context.Context) error { return m.PingErr }

func (m *MemoryLedger) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Entries returns a copy of everything recorded, oldest first.
func (m *MemoryLedger) Entries() []ledger.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ledger.Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Closed reports whether Close was called.
func (m *MemoryLedger) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
