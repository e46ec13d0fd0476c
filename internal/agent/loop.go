// Package agent implements the conversation orchestrator: context
// assembly, the bounded tool loop, and handoff to background fact
// extraction.
package agent

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/SalihTalhaAydin/apex/internal/config"
	"github.com/SalihTalhaAydin/apex/internal/events"
	"github.com/SalihTalhaAydin/apex/internal/facts"
	"github.com/SalihTalhaAydin/apex/internal/history"
	"github.com/SalihTalhaAydin/apex/internal/llm"
	"github.com/SalihTalhaAydin/apex/internal/tools"
)

// loopExhaustedReply is returned when the tool loop hits its iteration
// bound without producing a final text answer.
const loopExhaustedReply = "I ran into a loop processing your request. Could you rephrase?"

// nudgeMessage is the synthetic user message injected when the model
// claims a device action without having called any tools.
const nudgeMessage = "You must use the tools to perform the action. Do not reply with a summary only."

// actionClaimPhrases are substrings that read like the model claiming
// it performed a device action.
var actionClaimPhrases = []string{
	"cycled",
	"turned off",
	"turned on",
	"turned the light",
	"turned the lamp",
	"i've ",
	"i have ",
}

// Orchestrator runs one conversation turn end to end: persist the user
// turn, build context, drive the model through the tool loop, persist
// the answer, and hand a window of turns to the fact extractor.
type Orchestrator struct {
	logger    *slog.Logger
	history   *history.Store
	builder   *ContextBuilder
	llm       llm.Client
	registry  *tools.Registry
	extractor *facts.Extractor
	bus       *events.Bus

	model         string
	maxIterations int
	windowTurns   int
}

// NewOrchestrator creates the conversation orchestrator. extractor and
// bus may be nil; the loop then runs without background extraction or
// event publication.
func NewOrchestrator(
	hist *history.Store,
	builder *ContextBuilder,
	client llm.Client,
	registry *tools.Registry,
	extractor *facts.Extractor,
	bus *events.Bus,
	cfg *config.Config,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		logger:        logger,
		history:       hist,
		builder:       builder,
		llm:           client,
		registry:      registry,
		extractor:     extractor,
		bus:           bus,
		model:         cfg.Models.Default,
		maxIterations: cfg.Memory.MaxIterations,
		windowTurns:   cfg.Memory.ExtractionWindow,
	}
}

// Handle processes one user message and returns the assistant's reply.
// Completion failures are reported in the reply text, not as errors;
// the returned error covers persistence failures only.
func (o *Orchestrator) Handle(ctx context.Context, userMessage, sessionID string) (string, error) {
	if sessionID == "" {
		sessionID = history.DefaultSession
	}
	requestID := uuid.NewString()
	start := time.Now()

	o.bus.Publish(events.Event{
		Source: events.SourceAgent,
		Kind:   events.KindRequestStart,
		Data:   map[string]any{"request_id": requestID, "session_id": sessionID},
	})

	if err := o.history.SaveTurn(history.RoleUser, userMessage, sessionID); err != nil {
		return "", err
	}

	systemPrompt := o.builder.Build(ctx, userMessage, sessionID)
	messages := []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userMessage},
	}

	reply, iterations := o.toolLoop(ctx, requestID, messages)

	if err := o.history.SaveTurn(history.RoleAssistant, reply, sessionID); err != nil {
		return "", err
	}

	if o.extractor != nil {
		if window, err := o.history.Recent(o.windowTurns, sessionID); err != nil {
			o.logger.Warn("failed to snapshot extraction window", "session_id", sessionID, "error", err)
		} else {
			o.extractor.Enqueue(sessionID, window)
		}
	}

	o.bus.Publish(events.Event{
		Source: events.SourceAgent,
		Kind:   events.KindRequestComplete,
		Data: map[string]any{
			"request_id": requestID,
			"session_id": sessionID,
			"iterations": iterations,
			"elapsed_ms": time.Since(start).Milliseconds(),
		},
	})
	return reply, nil
}

// toolLoop drives the model until it produces a text answer, executing
// tool calls between iterations. It returns the final reply and the
// number of completion calls made.
func (o *Orchestrator) toolLoop(ctx context.Context, requestID string, messages []llm.Message) (string, int) {
	defs := o.registry.Definitions()
	nudgeDone := false

	for iter := 0; iter < o.maxIterations; iter++ {
		o.bus.Publish(events.Event{
			Source: events.SourceAgent,
			Kind:   events.KindLLMCall,
			Data:   map[string]any{"request_id": requestID, "iter": iter, "model": o.model},
		})

		resp, err := o.llm.Chat(ctx, o.model, messages, defs)
		if err != nil {
			o.logger.Error("completion call failed", "request_id", requestID, "iter", iter, "error", err)
			return "Error reaching AI: " + err.Error(), iter + 1
		}

		msg := resp.Message
		isFirstResponse := len(messages) == 2

		if len(msg.ToolCalls) == 0 {
			text := msg.Content
			if text == "" {
				text = "Done."
			}
			if looksLikeActionClaim(text) && len(defs) > 0 && !nudgeDone && isFirstResponse {
				o.logger.Warn("text-only response claims a device action, nudging",
					"request_id", requestID, "preview", preview(text, 150))
				nudgeDone = true
				messages = append(messages, msg, llm.Message{Role: "user", Content: nudgeMessage})
				o.bus.Publish(events.Event{
					Source: events.SourceAgent,
					Kind:   events.KindNudge,
					Data:   map[string]any{"request_id": requestID},
				})
				continue
			}
			return text, iter + 1
		}

		messages = append(messages, msg)

		// Tool calls run one at a time: each result must be attached
		// to the call it answers before the next completion call.
		for _, tc := range msg.ToolCalls {
			callID := tc.ID
			if callID == "" {
				callID = uuid.NewString()
			}

			o.bus.Publish(events.Event{
				Source: events.SourceAgent,
				Kind:   events.KindToolCall,
				Data:   map[string]any{"request_id": requestID, "tool": tc.Function.Name},
			})
			o.logger.Info("executing tool", "request_id", requestID, "tool", tc.Function.Name)

			result := o.registry.Dispatch(ctx, tc.Function.Name, tc.Function.Arguments)

			o.logger.Debug("tool finished",
				"request_id", requestID, "tool", tc.Function.Name, "result", preview(result, 300))
			o.bus.Publish(events.Event{
				Source: events.SourceAgent,
				Kind:   events.KindToolDone,
				Data:   map[string]any{"request_id": requestID, "tool": tc.Function.Name, "result_len": len(result)},
			})

			messages = append(messages, llm.Message{
				Role:       "tool",
				Content:    result,
				ToolCallID: callID,
			})
		}
	}

	o.logger.Warn("tool loop exhausted", "request_id", requestID, "iterations", o.maxIterations)
	return loopExhaustedReply, o.maxIterations
}

// looksLikeActionClaim reports whether the text reads like the model
// claiming it performed a device action.
func looksLikeActionClaim(content string) bool {
	if content == "" {
		return false
	}
	lower := strings.ToLower(content)
	for _, p := range actionClaimPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
