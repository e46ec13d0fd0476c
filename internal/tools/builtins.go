package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/SalihTalhaAydin/apex/internal/facts"
)

// maxWaitSeconds caps wait_seconds to avoid runaway waits.
const maxWaitSeconds = 300

// DateTimeFormat renders like "Monday, January 02, 2006 at 03:04 PM".
// The context builder uses the same layout for the CURRENT TIME section.
const DateTimeFormat = "Monday, January 02, 2006 at 03:04 PM"

// RegisterBuiltins adds the built-in tools to the registry, backed by
// the knowledge store. Integration-specific tools (smart home,
// calendar) are registered by their own packages.
func RegisterBuiltins(r *Registry, store *facts.Store) {
	r.Register(&Tool{
		Name:        "remember",
		Description: "Store information the user explicitly asks to remember. Use when the user says 'remember X', 'save this', 'note that', etc.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"key": map[string]any{
					"type":        "string",
					"description": "Short label (e.g. 'WiFi password', 'dentist appointment', 'Sarah birthday')",
				},
				"value": map[string]any{
					"type":        "string",
					"description": "The information to store",
				},
			},
			"required": []string{"key", "value"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			key, _ := args["key"].(string)
			value, _ := args["value"].(string)
			if key == "" || value == "" {
				return "", fmt.Errorf("key and value are required")
			}
			if _, err := store.Set(ctx, "explicit", key, value, 1.0, facts.SourceExplicit); err != nil {
				return "", err
			}
			return "Got it. I'll remember that.", nil
		},
	})

	r.Register(&Tool{
		Name:        "recall",
		Description: "Search memory for stored information. Use when the user asks 'do you remember X', 'what do you know about X', 'what was that thing about X', etc.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "What to search for in memory",
				},
			},
			"required": []string{"query"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			query, _ := args["query"].(string)
			if query == "" {
				return "", fmt.Errorf("query is required")
			}

			results, err := store.SemanticSearch(ctx, query, 10)
			if err != nil {
				return "", err
			}
			if len(results) == 0 {
				return "I don't have anything stored about that.", nil
			}

			var sb strings.Builder
			for i, f := range results {
				if i > 0 {
					sb.WriteString("\n")
				}
				fmt.Fprintf(&sb, "- %s: %s", f.Key, f.Value)
				if f.Category != "" {
					fmt.Fprintf(&sb, " [%s]", f.Category)
				}
			}
			return sb.String(), nil
		},
	})

	r.Register(&Tool{
		Name:        "forget",
		Description: "Remove information from memory. Use when the user says 'forget about X', 'delete X', 'remove X from memory'.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"key": map[string]any{
					"type":        "string",
					"description": "The key/topic to forget",
				},
			},
			"required": []string{"key"},
		},
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			key, _ := args["key"].(string)
			if key == "" {
				return "", fmt.Errorf("key is required")
			}
			deleted, err := store.Delete(key)
			if err != nil {
				return "", err
			}
			if !deleted {
				return fmt.Sprintf("I don't have anything stored about '%s'.", key), nil
			}
			return fmt.Sprintf("Done. Forgot about '%s'.", key), nil
		},
	})

	r.Register(&Tool{
		Name:        "get_current_datetime",
		Description: "Get the current date, time, and day of the week.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
			"required":   []string{},
		},
		Handler: func(_ context.Context, _ map[string]any) (string, error) {
			return time.Now().Format(DateTimeFormat), nil
		},
	})

	r.Register(&Tool{
		Name:        "wait_seconds",
		Description: "Wait (pause) for a given number of seconds before the next action. Use this for timed sequences: e.g. turn something off, wait 10 seconds, then turn it on. Maximum 300 seconds (5 minutes).",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"seconds": map[string]any{
					"type":        "number",
					"description": "How many seconds to wait (e.g. 10 for 10 seconds).",
				},
			},
			"required": []string{"seconds"},
		},
		Handler: handleWait,
	})
}

func handleWait(ctx context.Context, args map[string]any) (string, error) {
	seconds := numberArg(args, "seconds")
	if seconds < 0 {
		seconds = 0
	}
	if seconds > maxWaitSeconds {
		seconds = maxWaitSeconds
	}

	timer := time.NewTimer(time.Duration(seconds * float64(time.Second)))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-timer.C:
	}
	return fmt.Sprintf("Done. Waited %g seconds.", seconds), nil
}

// numberArg reads a numeric argument. JSON decoding yields float64,
// but handlers can also be invoked with native ints in tests.
func numberArg(args map[string]any, name string) float64 {
	switch v := args[name].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}
