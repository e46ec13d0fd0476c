package facts

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/SalihTalhaAydin/apex/internal/events"
	"github.com/SalihTalhaAydin/apex/internal/history"
	"github.com/SalihTalhaAydin/apex/internal/llm"

	_ "modernc.org/sqlite"
)

// stubLLM returns a fixed response (or error) and counts calls.
type stubLLM struct {
	content string
	err     error
	calls   int
}

func (s *stubLLM) Chat(_ context.Context, _ string, _ []llm.Message, _ []map[string]any) (*llm.ChatResponse, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &llm.ChatResponse{Message: llm.Message{Role: "assistant", Content: s.content}}, nil
}

func (s *stubLLM) Ping(_ context.Context) error { return nil }

func setupExtractor(t *testing.T, client llm.Client) (*Extractor, *Store, *events.Bus) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := NewStore(db, slog.Default())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	bus := events.New()
	return NewExtractor(store, client, "cheap-model", bus, slog.Default()), store, bus
}

func turnsWith(contents ...string) []history.Turn {
	var turns []history.Turn
	for i, c := range contents {
		role := history.RoleUser
		if i%2 == 1 {
			role = history.RoleAssistant
		}
		turns = append(turns, history.Turn{Role: role, Content: c})
	}
	return turns
}

func TestProcessStoresExtractedFacts(t *testing.T) {
	stub := &stubLLM{content: `[
		{"category": "preference", "key": "favorite cuisine", "value": "loves sushi", "confidence": 0.9},
		{"category": "person", "key": "Sarah", "value": "friend, birthday March 15", "confidence": 0.8}
	]`}
	ext, store, _ := setupExtractor(t, stub)

	ext.process(context.Background(), window{
		sessionID: "s1",
		turns:     turnsWith("I had sushi with my friend Sarah, she loves it as much as I do", "Sounds like a great evening!"),
	})

	all, err := store.All("", 10)
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("facts = %d, want 2", len(all))
	}

	hits, _ := store.KeywordSearch("sushi", 10)
	if len(hits) != 1 || hits[0].Source != SourceAuto {
		t.Errorf("extracted fact should carry source=auto: %+v", hits)
	}
}

func TestProcessPartialAcceptance(t *testing.T) {
	stub := &stubLLM{content: `[
		{"category": "preference", "key": "coffee", "value": "flat whites", "confidence": 0.9},
		{"category": "preference", "key": "", "value": "missing key"},
		{"category": "preference", "key": "no value", "value": ""},
		"not even an object",
		{"key": "uncategorized", "value": "defaults apply"}
	]`}
	ext, store, _ := setupExtractor(t, stub)

	ext.process(context.Background(), window{
		sessionID: "s1",
		turns:     turnsWith("long enough transcript about my coffee preferences"),
	})

	all, _ := store.All("", 10)
	if len(all) != 2 {
		t.Fatalf("facts = %d, want 2 (partial acceptance)", len(all))
	}

	hits, _ := store.KeywordSearch("uncategorized", 10)
	if len(hits) != 1 {
		t.Fatal("defaulted entry should be stored")
	}
	if hits[0].Category != "fact" {
		t.Errorf("default category = %q, want fact", hits[0].Category)
	}
	if hits[0].Confidence != 0.7 {
		t.Errorf("default confidence = %f, want 0.7", hits[0].Confidence)
	}
}

func TestProcessStripsCodeFence(t *testing.T) {
	stub := &stubLLM{content: "```json\n[{\"category\": \"fact\", \"key\": \"city\", \"value\": \"Berlin\", \"confidence\": 0.8}]\n```"}
	ext, store, _ := setupExtractor(t, stub)

	ext.process(context.Background(), window{
		sessionID: "s1",
		turns:     turnsWith("I moved to Berlin last month, by the way"),
	})

	hits, _ := store.KeywordSearch("Berlin", 10)
	if len(hits) != 1 {
		t.Error("fenced JSON output should still parse")
	}
}

func TestProcessNonJSONIsSkippedSilently(t *testing.T) {
	stub := &stubLLM{content: "I could not find any facts in this conversation."}
	ext, store, _ := setupExtractor(t, stub)

	ext.process(context.Background(), window{
		sessionID: "s1",
		turns:     turnsWith("a conversation of reasonable length for extraction"),
	})

	all, _ := store.All("", 10)
	if len(all) != 0 {
		t.Errorf("prose output should store nothing, got %d", len(all))
	}
}

func TestProcessShortTranscriptSkipsLLM(t *testing.T) {
	stub := &stubLLM{content: "[]"}
	ext, _, _ := setupExtractor(t, stub)

	ext.process(context.Background(), window{sessionID: "s1", turns: turnsWith("hi", "hello!")})

	if stub.calls != 0 {
		t.Errorf("short transcript should not reach the model, calls = %d", stub.calls)
	}
}

func TestProcessFailurePublishedToBus(t *testing.T) {
	stub := &stubLLM{err: errors.New("model overloaded")}
	ext, _, bus := setupExtractor(t, stub)

	ch := bus.Subscribe(8)
	defer bus.Unsubscribe(ch)

	ext.process(context.Background(), window{
		sessionID: "s1",
		turns:     turnsWith("a conversation of reasonable length for extraction"),
	})

	select {
	case e := <-ch:
		if e.Kind != events.KindExtractionFailed {
			t.Errorf("kind = %s, want extraction_failed", e.Kind)
		}
		if e.Data["session_id"] != "s1" {
			t.Errorf("data = %v", e.Data)
		}
	default:
		t.Fatal("extraction failure should be observable on the bus")
	}
}

func TestEnqueueDropsWhenBusy(t *testing.T) {
	stub := &stubLLM{content: "[]"}
	ext, _, bus := setupExtractor(t, stub)

	ch := bus.Subscribe(8)
	defer bus.Unsubscribe(ch)

	// No worker running: first window takes the slot, second is dropped.
	if !ext.Enqueue("s1", turnsWith("first window")) {
		t.Fatal("first enqueue should succeed")
	}
	if ext.Enqueue("s1", turnsWith("second window")) {
		t.Error("second enqueue should be dropped")
	}

	select {
	case e := <-ch:
		if e.Kind != events.KindExtractionDropped {
			t.Errorf("kind = %s, want extraction_dropped", e.Kind)
		}
	default:
		t.Fatal("drop should be observable on the bus")
	}
}

func TestWorkerConsumesQueue(t *testing.T) {
	stub := &stubLLM{content: `[{"category": "fact", "key": "city", "value": "Berlin", "confidence": 0.8}]`}
	ext, store, bus := setupExtractor(t, stub)

	ch := bus.Subscribe(8)
	defer bus.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ext.Start(ctx)

	ext.Enqueue("s1", turnsWith("I moved to Berlin last month, by the way"))

	select {
	case e := <-ch:
		if e.Kind != events.KindExtractionComplete {
			t.Fatalf("kind = %s, want extraction_complete", e.Kind)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker never completed")
	}

	hits, _ := store.KeywordSearch("Berlin", 10)
	if len(hits) != 1 {
		t.Error("worker should have stored the fact")
	}
}

func TestRenderTranscript(t *testing.T) {
	turns := []history.Turn{
		{Role: history.RoleUser, Content: "remember my wifi password is hunter2"},
		{Role: history.RoleAssistant, Content: ""},
		{Role: history.RoleAssistant, Content: "Got it."},
	}

	got := renderTranscript(turns)
	want := "User: remember my wifi password is hunter2\nApex: Got it."
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestStripCodeFence(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"no fence", `[]`, `[]`},
		{"json fence", "```json\n[1]\n```", "[1]"},
		{"bare fence", "```\n[1]\n```", "[1]"},
		{"no trailing fence", "```json\n[1]", "[1]"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := stripCodeFence(tc.input); got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}
