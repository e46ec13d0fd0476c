package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/SalihTalhaAydin/apex/internal/config"
	"github.com/SalihTalhaAydin/apex/internal/facts"
	"github.com/SalihTalhaAydin/apex/internal/history"
	"github.com/SalihTalhaAydin/apex/internal/prompts"
	"github.com/SalihTalhaAydin/apex/internal/tools"
)

// highConfidenceFloor marks facts that surface in every context
// regardless of semantic relevance to the current message.
const highConfidenceFloor = 0.9

// ContextBuilder assembles the system prompt for a conversation turn:
// current time, relevant facts, and recent conversation. Assembly is
// best-effort; a failing store degrades to a smaller context rather
// than failing the turn.
type ContextBuilder struct {
	history     *history.Store
	facts       *facts.Store
	logger      *slog.Logger
	recentTurns int
	maxFacts    int
	now         func() time.Time
}

// NewContextBuilder creates a context builder sized by the memory
// section of the config.
func NewContextBuilder(hist *history.Store, factStore *facts.Store, cfg *config.Config, logger *slog.Logger) *ContextBuilder {
	return &ContextBuilder{
		history:     hist,
		facts:       factStore,
		logger:      logger,
		recentTurns: cfg.Memory.RecentTurns,
		maxFacts:    cfg.Memory.MaxFacts,
		now:         time.Now,
	}
}

// Build produces the full system prompt for the given user message.
func (b *ContextBuilder) Build(ctx context.Context, userMessage, sessionID string) string {
	currentTime := b.now().Format(tools.DateTimeFormat)

	// Calendar integration is an external collaborator; the section
	// stays empty until one is wired in.
	schedule := ""

	knowledge := b.renderFacts(b.relevantFacts(ctx, userMessage))

	conversation := ""
	recent, err := b.history.Recent(b.recentTurns, sessionID)
	if err != nil {
		b.logger.Warn("failed to load recent turns for context", "session_id", sessionID, "error", err)
	} else {
		conversation = renderTurns(recent)
	}

	return prompts.SystemPrompt(prompts.ContextBlock(currentTime, schedule, knowledge, conversation))
}

// relevantFacts selects facts for the context in two tiers: facts
// semantically close to the current message, then high-confidence
// durable facts (core preferences, key people) from the 50 most recent,
// capped at maxFacts. The second tier guarantees important facts
// surface even when not semantically close to what the user just said.
func (b *ContextBuilder) relevantFacts(ctx context.Context, userMessage string) []facts.Fact {
	var relevant []facts.Fact
	if userMessage != "" {
		results, err := b.facts.SemanticSearch(ctx, userMessage, b.maxFacts)
		if err != nil {
			b.logger.Warn("fact search failed during context build", "error", err)
		} else {
			relevant = results
		}
	}

	core, err := b.facts.All("", 50)
	if err != nil {
		b.logger.Warn("failed to load core facts for context", "error", err)
		return relevant
	}

	seen := make(map[int64]bool, len(relevant))
	for _, f := range relevant {
		seen[f.ID] = true
	}
	for _, f := range core {
		if len(relevant) >= b.maxFacts {
			break
		}
		if seen[f.ID] || f.Confidence < highConfidenceFloor {
			continue
		}
		relevant = append(relevant, f)
	}
	return relevant
}

func (b *ContextBuilder) renderFacts(list []facts.Fact) string {
	var sb strings.Builder
	for i, f := range list {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "- %s: %s", f.Key, f.Value)
	}
	return sb.String()
}

// renderTurns formats turns as "User:"/"Apex:" lines, skipping empty
// content. Shared with the extraction transcript format.
func renderTurns(turns []history.Turn) string {
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
