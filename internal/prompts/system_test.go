package prompts

import (
	"strings"
	"testing"
)

func TestSystemPromptSplicesContext(t *testing.T) {
	got := SystemPrompt("CURRENT TIME:\nnow")
	if !strings.Contains(got, "You are Apex") {
		t.Error("persona missing")
	}
	if !strings.Contains(got, "CURRENT TIME:\nnow") {
		t.Error("context block missing")
	}
	if strings.Contains(got, "%CONTEXT%") {
		t.Error("marker not replaced")
	}
}

func TestContextBlockOrderAndOmission(t *testing.T) {
	got := ContextBlock("Monday at noon", "", "- coffee: flat whites", "User: hi\nApex: hey")

	if strings.Contains(got, "TODAY'S SCHEDULE") {
		t.Error("empty section should be omitted")
	}

	timeIdx := strings.Index(got, "CURRENT TIME:")
	factsIdx := strings.Index(got, "WHAT YOU KNOW ABOUT THE USER:")
	convIdx := strings.Index(got, "RECENT CONVERSATION:")
	if timeIdx == -1 || factsIdx == -1 || convIdx == -1 {
		t.Fatalf("missing sections in %q", got)
	}
	if !(timeIdx < factsIdx && factsIdx < convIdx) {
		t.Errorf("sections out of order in %q", got)
	}
}

func TestContextBlockEmpty(t *testing.T) {
	if got := ContextBlock("", "", "", ""); got != "" {
		t.Errorf("got %q, want empty", got)
	}
}

func TestFactExtractionPrompt(t *testing.T) {
	got := FactExtractionPrompt("User: I like sushi")
	if !strings.Contains(got, "User: I like sushi") {
		t.Error("transcript not interpolated")
	}
	if !strings.Contains(got, "JSON array") {
		t.Error("format instruction missing")
	}
}
