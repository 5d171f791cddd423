// Package budget provides token estimation and history trimming for chat
// requests. Counts come from the cl100k_base tokenizer; when the encoding
// cannot be constructed the package falls back to a conservative
// character-based heuristic (1 token ≈ 4 characters) so trimming always
// works, just with more headroom.
package budget

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/54b3r/askdocs-go/internal/llm"
)

const (
	// charsPerToken is the fallback character-to-token ratio. 4 chars/token
	// under-estimates for English prose, which errs on the safe side.
	charsPerToken = 4

	// messageOverheadTokens is the per-message framing overhead charged on
	// top of role and content.
	messageOverheadTokens = 4

	// encodingName is the tokenizer used for counting. The budget is
	// approximate by contract, so one fixed encoding serves all models.
	encodingName = "cl100k_base"
)

// encOnce guards lazy construction of the shared tokenizer. Construction may
// fail (the encoding data is resolved at runtime); enc stays nil then.
var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
)

// encoding returns the shared tokenizer, or nil when unavailable.
func encoding() *tiktoken.Tiktoken {
	encOnce.Do(func() {
		if e, err := tiktoken.GetEncoding(encodingName); err == nil {
			enc = e
		}
	})
	return enc
}

// Estimate returns the token count for s — exact when the tokenizer is
// available, heuristic otherwise.
func Estimate(s string) int {
	if s == "" {
		return 0
	}
	if e := encoding(); e != nil {
		return len(e.Encode(s, nil, nil))
	}
	n := len(s) / charsPerToken
	if n == 0 {
		return 1
	}
	return n
}

// EstimateMessages returns the estimated total token count for a slice of
// messages, charging the per-message overhead for each.
func EstimateMessages(msgs []llm.Message) int {
	total := 0
	for _, m := range msgs {
		total += messageOverheadTokens
		total += Estimate(string(m.Role))
		total += Estimate(m.Content)
	}
	return total
}

// TrimHistory removes the oldest messages from history until the total
// estimated token count of fixed + history fits within maxTokens. fixed
// contains messages that must never be trimmed (system prompt and the
// current user message); history contains prior conversation turns that may
// be dropped oldest-first.
//
// Returns the trimmed history slice. If even an empty history exceeds the
// budget, the empty slice is returned — fixed messages are never dropped.
func TrimHistory(fixed, history []llm.Message, maxTokens int) []llm.Message {
	if len(history) == 0 {
		return history
	}

	fixedTokens := EstimateMessages(fixed)

	// History is typically short; a linear scan dropping from the front is
	// clear and correct.
	for len(history) > 0 {
		if fixedTokens+EstimateMessages(history) <= maxTokens {
			break
		}
		history = history[1:]
	}
	return history
}
