package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tokligence/tokligence-relay/internal/ledger"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "nested", "ledger.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoreRecordAndSummary(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	record := func(outcome ledger.Outcome, prompt, completion int64) {
		if err := store.Record(ctx, ledger.Entry{
			StreamID:         uuid.NewString(),
			Model:            "llama3",
			PromptTokens:     prompt,
			CompletionTokens: completion,
			Outcome:          outcome,
			DurationMS:       12,
		}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	record(ledger.OutcomeCompleted, 100, 50)
	record(ledger.OutcomeCompleted, 10, 5)
	record(ledger.OutcomeClientDisconnected, 60, 20)
	record(ledger.OutcomeFailed, 0, 0)

	summary, err := store.Summary(ctx)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	want := ledger.Summary{Streams: 4, Completed: 2, Failed: 1, ClientDisconnected: 1, PromptTokens: 170, CompletionTokens: 75}
	if summary != want {
		t.Fatalf("summary = %#v, want %#v", summary, want)
	}
	if err := store.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestSummaryEmpty(t *testing.T) {
	store := newStore(t)
	summary, err := store.Summary(context.Background())
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if summary != (ledger.Summary{}) {
		t.Fatalf("expected zero summary, got %#v", summary)
	}
}

func TestListRecentOrdering(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	entries := []ledger.Entry{
		{StreamID: "a", PromptTokens: 1, Outcome: ledger.OutcomeCompleted, CreatedAt: now.Add(-2 * time.Hour)},
		{StreamID: "b", PromptTokens: 2, Outcome: ledger.OutcomeCompleted, CreatedAt: now.Add(-1 * time.Hour)},
		{StreamID: "c", PromptTokens: 3, Outcome: ledger.OutcomeFailed, CreatedAt: now},
	}
	for _, e := range entries {
		if err := store.Record(ctx, e); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	recent, err := store.ListRecent(ctx, 2)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(recent))
	}
	if recent[0].StreamID != "c" || recent[1].StreamID != "b" {
		t.Fatalf("unexpected ordering %#v", recent)
	}
	if recent[0].Outcome != ledger.OutcomeFailed {
		t.Fatalf("unexpected outcome %q", recent[0].Outcome)
	}
}

func TestRecordValidation(t *testing.T) {
	store := newStore(t)
	if err := store.Record(context.Background(), ledger.Entry{Outcome: ledger.OutcomeCompleted}); err == nil {
		t.Fatalf("expected error for missing stream id")
	}
	if err := store.Record(context.Background(), ledger.Entry{StreamID: "x", Outcome: "unexpected"}); err == nil {
		t.Fatalf("expected error for invalid outcome")
	}
	if err := store.Record(context.Background(), ledger.Entry{StreamID: "dup", Outcome: ledger.OutcomeCompleted}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := store.Record(context.Background(), ledger.Entry{StreamID: "dup", Outcome: ledger.OutcomeCompleted}); err == nil {
		t.Fatalf("expected duplicate stream id to be rejected")
	}
}
