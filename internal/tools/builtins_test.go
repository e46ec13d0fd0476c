package tools

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/SalihTalhaAydin/apex/internal/facts"

	_ "modernc.org/sqlite"
)

func builtinRegistry(t *testing.T) (*Registry, *facts.Store) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := facts.NewStore(db, slog.Default())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	r := NewRegistry()
	RegisterBuiltins(r, store)
	return r, store
}

func TestBuiltinsRegistered(t *testing.T) {
	r, _ := builtinRegistry(t)
	for _, name := range []string{"remember", "recall", "forget", "get_current_datetime", "wait_seconds"} {
		if r.Get(name) == nil {
			t.Errorf("builtin %s not registered", name)
		}
	}
}

func TestRememberRecallForget(t *testing.T) {
	r, store := builtinRegistry(t)
	ctx := context.Background()

	got := r.Dispatch(ctx, "remember", map[string]any{
		"key":   "wifi password",
		"value": "hunter2",
	})
	if got != "Got it. I'll remember that." {
		t.Fatalf("remember: %q", got)
	}

	// Explicit memories carry full confidence.
	stored, err := store.KeywordSearch("wifi", 10)
	if err != nil || len(stored) != 1 {
		t.Fatalf("stored = %v, err = %v", stored, err)
	}
	if stored[0].Source != facts.SourceExplicit || stored[0].Confidence != 1.0 {
		t.Errorf("fact = %+v", stored[0])
	}

	got = r.Dispatch(ctx, "recall", map[string]any{"query": "wifi"})
	if !strings.Contains(got, "wifi password: hunter2") {
		t.Errorf("recall: %q", got)
	}

	got = r.Dispatch(ctx, "forget", map[string]any{"key": "wifi"})
	if got != "Done. Forgot about 'wifi'." {
		t.Errorf("forget: %q", got)
	}

	got = r.Dispatch(ctx, "recall", map[string]any{"query": "wifi"})
	if got != "I don't have anything stored about that." {
		t.Errorf("recall after forget: %q", got)
	}
}

func TestForgetMissing(t *testing.T) {
	r, _ := builtinRegistry(t)
	got := r.Dispatch(context.Background(), "forget", map[string]any{"key": "nothing"})
	if got != "I don't have anything stored about 'nothing'." {
		t.Errorf("got %q", got)
	}
}

func TestRememberMissingArgsReportedInBand(t *testing.T) {
	r, _ := builtinRegistry(t)
	got := r.Dispatch(context.Background(), "remember", map[string]any{"key": "wifi"})
	if !strings.HasPrefix(got, "Tool error (remember):") {
		t.Errorf("got %q", got)
	}
}

func TestGetCurrentDatetime(t *testing.T) {
	r, _ := builtinRegistry(t)
	got := r.Dispatch(context.Background(), "get_current_datetime", nil)
	if _, err := time.Parse(DateTimeFormat, got); err != nil {
		t.Errorf("output %q does not match layout: %v", got, err)
	}
}
