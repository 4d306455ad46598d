package contextwindow

import (
	"unicode"
	"unicode/utf8"

	"github.com/haasonsaas/deepplan/pkg/models"
)

// CounterFunc is a model-aware token counting function. Implementations must
// be deterministic for identical input.
type CounterFunc func(messages []models.Message, model string) (int, error)

const (
	// charsPerToken is the character ratio for the coarse fallback estimate.
	charsPerToken = 4

	// messageOverheadTokens accounts for role and framing per message.
	messageOverheadTokens = 4
)

// EstimateTokens approximates the token count of a message list without a
// model tokenizer. It splits content into word and punctuation runs, which
// tracks BPE-style tokenizers more closely than a bare character ratio, and
// adds a fixed per-message overhead.
func EstimateTokens(messages []models.Message) int {
	total := 0
	for _, msg := range messages {
		total += estimateText(msg.Content)
		total += estimateText(msg.Name)
		for _, tc := range msg.ToolCalls {
			total += estimateText(tc.Name)
			total += len(tc.Input) / charsPerToken
		}
		total += messageOverheadTokens
	}
	return total
}

// EstimateTokensChars is the final chars/4 fallback for opaque content.
func EstimateTokensChars(content string) int {
	n := utf8.RuneCountInString(content) / charsPerToken
	if n == 0 && content != "" {
		return 1
	}
	return n
}

func estimateText(s string) int {
	if s == "" {
		return 0
	}
	tokens := 0
	inWord := false
	wordLen := 0
	flush := func() {
		if wordLen > 0 {
			// Long words split into multiple subword tokens.
			tokens += 1 + wordLen/7
		}
		wordLen = 0
	}
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			flush()
			inWord = false
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if !inWord {
				inWord = true
			}
			wordLen++
		default:
			flush()
			inWord = false
			tokens++
		}
	}
	flush()
	return tokens
}
