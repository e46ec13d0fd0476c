package facts

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/SalihTalhaAydin/apex/internal/events"
	"github.com/SalihTalhaAydin/apex/internal/history"
	"github.com/SalihTalhaAydin/apex/internal/llm"
	"github.com/SalihTalhaAydin/apex/internal/prompts"
)

// minTranscriptLen gates extraction: shorter transcripts are greetings
// and acknowledgments with nothing worth learning.
const minTranscriptLen = 20

// extractedFact is one entry of the model's JSON array output.
type extractedFact struct {
	Category   string  `json:"category"`
	Key        string  `json:"key"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// window is one unit of extraction work: an immutable snapshot of
// recent turns captured when the foreground turn completed.
type window struct {
	sessionID string
	turns     []history.Turn
}

// Extractor distills long-term facts from recent conversation turns
// using a cheaper completion model. It runs as a single background
// worker consuming a one-slot queue: the foreground path enqueues and
// moves on, and a window that arrives while the worker is busy and the
// slot is taken is dropped. Failures are logged and published to the
// event bus; they never reach the user.
type Extractor struct {
	store   *Store
	llm     llm.Client
	model   string
	bus     *events.Bus
	logger  *slog.Logger
	queue   chan window
	timeout time.Duration
}

// NewExtractor creates a fact extractor. bus may be nil.
func NewExtractor(store *Store, client llm.Client, model string, bus *events.Bus, logger *slog.Logger) *Extractor {
	return &Extractor{
		store:   store,
		llm:     client,
		model:   model,
		bus:     bus,
		logger:  logger,
		queue:   make(chan window, 1),
		timeout: 30 * time.Second,
	}
}

// SetTimeout configures the completion call timeout for extraction.
func (e *Extractor) SetTimeout(d time.Duration) {
	e.timeout = d
}

// Start launches the worker goroutine. It runs until ctx is cancelled.
func (e *Extractor) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case w := <-e.queue:
				e.process(ctx, w)
			}
		}
	}()
}

// Enqueue offers a window of turns to the worker without blocking.
// Returns false if the slot was occupied and the window was dropped;
// acceptable, since the next turn carries overlapping history.
func (e *Extractor) Enqueue(sessionID string, turns []history.Turn) bool {
	select {
	case e.queue <- window{sessionID: sessionID, turns: turns}:
		return true
	default:
		e.logger.Debug("extraction window dropped, worker busy", "session_id", sessionID)
		e.bus.Publish(events.Event{
			Source: events.SourceExtractor,
			Kind:   events.KindExtractionDropped,
			Data:   map[string]any{"session_id": sessionID},
		})
		return false
	}
}

func (e *Extractor) process(ctx context.Context, w window) {
	transcript := renderTranscript(w.turns)
	if len(transcript) < minTranscriptLen {
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := e.llm.Chat(callCtx, e.model, []llm.Message{
		{Role: "user", Content: prompts.FactExtractionPrompt(transcript)},
	}, nil)
	if err != nil {
		e.fail(w.sessionID, "extraction completion call failed", err)
		return
	}

	raw := stripCodeFence(strings.TrimSpace(resp.Message.Content))
	if raw == "" || raw == "[]" {
		e.logger.Debug("extraction found nothing new", "session_id", w.sessionID)
		return
	}

	var entries []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		// The model returned prose instead of JSON. Skip silently.
		e.logger.Debug("extraction output not a JSON array", "session_id", w.sessionID)
		return
	}

	// Partial acceptance: each well-formed entry is stored
	// independently; malformed ones are skipped.
	stored := 0
	for _, entry := range entries {
		var f extractedFact
		if err := json.Unmarshal(entry, &f); err != nil {
			continue
		}
		if f.Key == "" || f.Value == "" {
			continue
		}
		if f.Category == "" {
			f.Category = "fact"
		}
		if f.Confidence == 0 {
			f.Confidence = 0.7
		}

		if _, err := e.store.Set(ctx, f.Category, f.Key, f.Value, f.Confidence, SourceAuto); err != nil {
			e.logger.Warn("failed to persist extracted fact",
				"category", f.Category, "key", f.Key, "error", err)
			continue
		}
		stored++
	}

	if stored > 0 {
		e.logger.Info("extracted facts from conversation",
			"session_id", w.sessionID, "stored", stored)
	}
	e.bus.Publish(events.Event{
		Source: events.SourceExtractor,
		Kind:   events.KindExtractionComplete,
		Data:   map[string]any{"session_id": w.sessionID, "stored": stored},
	})
}

func (e *Extractor) fail(sessionID, msg string, err error) {
	e.logger.Warn(msg, "session_id", sessionID, "error", err)
	e.bus.Publish(events.Event{
		Source: events.SourceExtractor,
		Kind:   events.KindExtractionFailed,
		Data:   map[string]any{"session_id": sessionID, "error": err.Error()},
	})
}

// renderTranscript formats turns as "User:"/"Apex:" lines for the
// extraction prompt.
func renderTranscript(turns []history.Turn) string {
	var sb strings.Builder
	for _, t := range turns {
		if t.Content == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		if t.Role == history.RoleUser {
			sb.WriteString("User: ")
		} else {
			sb.WriteString("Apex: ")
		}
		sb.WriteString(t.Content)
	}
	return sb.String()
}

// stripCodeFence removes Markdown code-fence wrapping, which models
// add to JSON output no matter how firmly told not to.
func stripCodeFence(raw string) string {
	if !strings.HasPrefix(raw, "```") {
		return raw
	}
	if idx := strings.Index(raw, "\n"); idx >= 0 {
		raw = raw[idx+1:]
	}
	if idx := strings.LastIndex(raw, "```"); idx >= 0 {
		raw = raw[:idx]
	}
	return strings.TrimSpace(raw)
}
