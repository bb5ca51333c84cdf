package extract

import (
	"strings"
	"testing"
)

func TestPromptContainsInstructions(t *testing.T) {
	messages := BuildPrompt("some text to analyze")

	system := messages[0].Content
	if !strings.Contains(system, "memory extraction engine") {
		t.Error("system prompt does not contain role instruction")
	}
	if !strings.Contains(system, "entities") {
		t.Error("system prompt does not describe entity extraction")
	}
	if !strings.Contains(system, "knowledge") {
		t.Error("system prompt does not describe knowledge extraction")
	}
	if !strings.Contains(system, "trivial") {
		t.Error("system prompt does not exclude trivial statements")
	}
}

func TestPromptStructure(t *testing.T) {
	messages := BuildPrompt("the text under analysis")

	// system + 1 user message = 2
	if len(messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(messages))
	}
	if messages[0].Role != "system" {
		t.Errorf("messages[0].Role = %q, want %q", messages[0].Role, "system")
	}
	if messages[1].Role != "user" {
		t.Errorf("messages[1].Role = %q, want %q", messages[1].Role, "user")
	}
	if messages[1].Content != "the text under analysis" {
		t.Errorf("messages[1].Content = %q, want the input text", messages[1].Content)
	}
}
