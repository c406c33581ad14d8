package reply

import (
	"fmt"
	"strings"
)

// Fixed replies.
const (
	NonTextReply       = "I can only process text right now."
	EmptyInputReply    = "Could you please say that again?"
	GreetingReply      = "Hi, I'm Klarvia. How are you feeling right now?"
	SupportReply       = "I'm here with you. What's been feeling heaviest lately?"
	EmptyAdvancedReply = "I'm here with you. What's on your mind?"
)

var (
	greetingKeywords = []string{"hi", "hello", "hey"}
	supportKeywords  = []string{"help", "support"}
)

// RuleReply answers text with keyword-matched canned responses. Keywords
// match anywhere in the lower-cased text, so "hiya" greets and "helpless"
// gets support. Greeting keywords take precedence over support keywords.
func RuleReply(text string) string {
	lower := strings.ToLower(text)
	switch {
	case containsAny(lower, greetingKeywords):
		return GreetingReply
	case containsAny(lower, supportKeywords):
		return SupportReply
	default:
		return fmt.Sprintf("You said: '%s'. Tell me more about that.", text)
	}
}

func containsAny(s string, keys []string) bool {
	for _, k := range keys {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

// StripTokens removes every occurrence of the given control tokens.
func StripTokens(s string, tokens []string) string {
	if len(tokens) == 0 {
		return s
	}
	pairs := make([]string, 0, len(tokens)*2)
	for _, t := range tokens {
		if t == "" {
			continue
		}
		pairs = append(pairs, t, "")
	}
	return strings.NewReplacer(pairs...).Replace(s)
}

// stripEcho removes the prompt from the front of a continuation when the
// output repeats it exactly. Any other output is returned unchanged.
func stripEcho(output, prompt string) string {
	if rest, ok := strings.CutPrefix(output, prompt); ok {
		return strings.TrimSpace(rest)
	}
	return output
}
