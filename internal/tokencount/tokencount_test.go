package tokencount

import (
	"strings"
	"testing"
)

func TestCountTextDeterministic(t *testing.T) {
	t.Parallel()
	c := NewCounter("gpt-4o")
	a := c.CountText("The quick brown fox jumps over the lazy dog.")
	b := c.CountText("The quick brown fox jumps over the lazy dog.")
	if a != b {
		t.Fatalf("count not deterministic: %d != %d", a, b)
	}
	if a == 0 {
		t.Fatal("expected non-zero count for non-empty text")
	}
}

func TestCountTextEmpty(t *testing.T) {
	t.Parallel()
	c := NewCounter("gpt-4o")
	if got := c.CountText(""); got != 0 {
		t.Fatalf("CountText('') = %d, want 0", got)
	}
}

func TestUnknownModelFallsBackDeterministically(t *testing.T) {
	t.Parallel()
	c1 := NewCounter("some-unreleased-model-v7")
	c2 := NewCounter("some-unreleased-model-v7")
	text := "determinism matters more than accuracy here"
	if c1.CountText(text) != c2.CountText(text) {
		t.Fatal("unknown-model fallback must still be deterministic")
	}
}

func TestExceedsContextLimit(t *testing.T) {
	t.Parallel()
	c := NewCounter("gpt-4o")
	longHistory := make([]HistoryEntry, 50)
	for i := range longHistory {
		longHistory[i] = HistoryEntry{Prompt: strings.Repeat("word ", 50), Response: strings.Repeat("word ", 50)}
	}
	if !c.ExceedsContextLimit("hi", "", longHistory, 100) {
		t.Fatal("expected limit of 100 tokens to be exceeded by 50 long history entries")
	}
	if c.ExceedsContextLimit("hi", "", nil, 1_000_000) {
		t.Fatal("did not expect a huge limit to be exceeded by a short prompt")
	}
}

// TestTruncateToFitScenarioS1 follows the spec's S1 concrete scenario:
// context_limit=1000, max_output=200, a short system prompt and user
// prompt, and 100 history entries of ~20 tokens each. The prompt must
// survive unchanged and history must be trimmed to a contiguous recent
// suffix that fits the remaining budget.
func TestTruncateToFitScenarioS1(t *testing.T) {
	t.Parallel()
	c := NewCounter("gpt-4o")

	history := make([]HistoryEntry, 100)
	for i := range history {
		history[i] = HistoryEntry{Prompt: "hello there friend", Response: "hi how can I help"}
	}
	maxOutput := 200

	result := c.TruncateToFit("X", "You are helpful", history, 1000, &maxOutput)

	if result.Prompt != "X" {
		t.Fatalf("prompt should be unchanged, got %q", result.Prompt)
	}
	if len(result.History) == 0 || len(result.History) >= len(history) {
		t.Fatalf("expected a strict, non-empty suffix of history, got %d of %d", len(result.History), len(history))
	}
	// history' must be the most recent contiguous suffix.
	wantSuffix := history[len(history)-len(result.History):]
	for i := range wantSuffix {
		if wantSuffix[i] != result.History[i] {
			t.Fatalf("history is not a contiguous suffix at index %d", i)
		}
	}
	if !result.Truncated {
		t.Fatal("expected Truncated=true when history was dropped")
	}

	est := c.EstimateChatTokens(result.Prompt, "You are helpful", result.History)
	if est+maxOutput > 1000 {
		t.Fatalf("truncated result does not fit budget: estimate=%d maxOutput=%d limit=1000", est, maxOutput)
	}
}

func TestTruncateToFitDropsHistoryWhenPromptAloneDoesNotFit(t *testing.T) {
	t.Parallel()
	c := NewCounter("gpt-4o")
	hugePrompt := strings.Repeat("word ", 5000)
	history := []HistoryEntry{{Prompt: "a", Response: "b"}}
	maxOutput := 10

	result := c.TruncateToFit(hugePrompt, "", history, 200, &maxOutput)
	if len(result.History) != 0 {
		t.Fatalf("expected all history dropped, got %d entries", len(result.History))
	}
	if result.Prompt == hugePrompt {
		t.Fatal("expected the oversized prompt itself to be truncated")
	}
	if !result.Truncated {
		t.Fatal("expected Truncated=true")
	}
}
