package budget

import (
	"strings"
	"testing"

	"github.com/54b3r/askdocs-go/internal/llm"
)

func TestEstimate(t *testing.T) {
	t.Parallel()

	if got := Estimate(""); got != 0 {
		t.Errorf("Estimate(\"\") = %d, want 0", got)
	}
	if got := Estimate("x"); got < 1 {
		t.Errorf("Estimate(\"x\") = %d, want >= 1", got)
	}
	long := strings.Repeat("word ", 100)
	if got := Estimate(long); got < 50 {
		t.Errorf("Estimate(500 chars) = %d, implausibly low", got)
	}
}

func TestEstimateMessages_ChargesOverhead(t *testing.T) {
	t.Parallel()

	one := []llm.Message{{Role: llm.RoleUser, Content: "hello"}}
	two := []llm.Message{
		{Role: llm.RoleUser, Content: "hello"},
		{Role: llm.RoleAssistant, Content: "hello"},
	}
	if EstimateMessages(two) <= EstimateMessages(one) {
		t.Error("two messages must cost more than one")
	}
	if EstimateMessages(nil) != 0 {
		t.Error("no messages must cost nothing")
	}
}

func TestTrimHistory_DropsOldestFirst(t *testing.T) {
	t.Parallel()

	filler := strings.Repeat("conversation filler text ", 20)
	history := []llm.Message{
		{Role: llm.RoleUser, Content: "oldest " + filler},
		{Role: llm.RoleAssistant, Content: "middle " + filler},
		{Role: llm.RoleUser, Content: "newest " + filler},
	}
	fixed := []llm.Message{{Role: llm.RoleSystem, Content: "system prompt"}}

	perMsg := EstimateMessages(history[:1])
	fixedCost := EstimateMessages(fixed)

	// Budget for fixed plus roughly two history messages.
	got := TrimHistory(fixed, history, fixedCost+2*perMsg+messageOverheadTokens)

	if len(got) >= len(history) {
		t.Fatalf("history was not trimmed: %d messages", len(got))
	}
	if len(got) == 0 {
		t.Fatal("history was over-trimmed to zero")
	}
	if !strings.HasPrefix(got[len(got)-1].Content, "newest") {
		t.Errorf("newest message must survive, got %q", got[len(got)-1].Content)
	}
	for _, m := range got {
		if strings.HasPrefix(m.Content, "oldest") {
			t.Error("oldest message should have been dropped first")
		}
	}
}

func TestTrimHistory_EmptyAndOverBudget(t *testing.T) {
	t.Parallel()

	if got := TrimHistory(nil, nil, 100); len(got) != 0 {
		t.Errorf("empty history must stay empty, got %v", got)
	}

	history := []llm.Message{{Role: llm.RoleUser, Content: strings.Repeat("x", 4000)}}
	if got := TrimHistory(nil, history, 1); len(got) != 0 {
		t.Errorf("over-budget history must trim to empty, got %d messages", len(got))
	}

	if got := TrimHistory(nil, history, 1<<20); len(got) != 1 {
		t.Errorf("under-budget history must be untouched, got %d messages", len(got))
	}
}
