package conversation

import (
	"regexp"
	"strings"
)

// DefaultDisclosurePhrases is the block-list of AI-disclosure phrases removed
// from replies. It is data, not logic: deployments extend it through the
// sanitizer constructor and tests exercise it as a fixture.
var DefaultDisclosurePhrases = []string{
	"as an AI",
	"I'm an AI",
	"I am an AI",
	"as a language model",
	"I'm a chatbot",
	"I'm a bot",
	"I'm an assistant",
	"as a digital assistant",
	"I'm here to help",
	"how can I assist",
	"how can I help you",
	"I'm designed to",
	"I'm programmed to",
	"my purpose is",
	"I was created to",
	"I don't have feelings",
	"I can't feel emotions",
	"I don't have personal opinions",
	"I don't have personal experiences",
	"I lack the capacity",
	"I'm not able to feel",
	"is there anything else you'd like to know",
	"let me know if you need anything",
}

const minUsefulReplyLen = 10

// Sanitizer strips AI artifacts from model output and enforces the persona's
// reply-length limits. It is a pure string transform and idempotent: running
// it twice yields the same text.
type Sanitizer struct {
	rules        []*regexp.Regexp
	filler       string
	privateLimit int
	groupLimit   int
}

// NewSanitizer compiles one sentence-removal rule per phrase. filler replaces
// replies that sanitization leaves empty or near-empty; limits are rune counts
// per chat type (group stricter than private).
func NewSanitizer(phrases []string, filler string, privateLimit, groupLimit int) *Sanitizer {
	if len(phrases) == 0 {
		phrases = DefaultDisclosurePhrases
	}
	if strings.TrimSpace(filler) == "" {
		filler = "Hmm, say that again?"
	}
	if privateLimit <= 0 {
		privateLimit = 1000
	}
	if groupLimit <= 0 || groupLimit > privateLimit {
		groupLimit = privateLimit
	}

	rules := make([]*regexp.Regexp, 0, len(phrases))
	for _, phrase := range phrases {
		// Drop the whole sentence containing the phrase, not just the phrase,
		// so no dangling fragments survive.
		rules = append(rules, regexp.MustCompile(`(?i)[^.!?\n]*`+regexp.QuoteMeta(phrase)+`[^.!?\n]*[.!?]*\s*`))
	}
	return &Sanitizer{
		rules:        rules,
		filler:       filler,
		privateLimit: privateLimit,
		groupLimit:   groupLimit,
	}
}

// Sanitize cleans one model reply for the given chat type.
func (s *Sanitizer) Sanitize(raw, chatType string) string {
	text := stripMarkdown(raw)
	for _, rule := range s.rules {
		text = rule.ReplaceAllString(text, "")
	}
	text = strings.TrimSpace(text)

	if len([]rune(text)) < minUsefulReplyLen {
		return s.filler
	}

	limit := s.privateLimit
	if chatType == ChatTypeGroup {
		limit = s.groupLimit
	}
	return truncateAtBoundary(text, limit)
}

var markdownMarks = strings.NewReplacer("**", "", "__", "", "*", "", "`", "")

func stripMarkdown(text string) string {
	return markdownMarks.Replace(text)
}

// truncateAtBoundary shortens text to at most limit runes, preferring a
// sentence boundary and falling back to a word boundary. It never cuts
// mid-word.
func truncateAtBoundary(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}

	// Longest prefix of whole sentences that fits.
	if cut := lastSentenceEnd(runes[:limit]); cut > 0 {
		return strings.TrimSpace(string(runes[:cut]))
	}

	// No sentence boundary fits: cut at the last word break, leaving room for
	// the ellipsis.
	cutRunes := runes[:limit-3]
	cutText := string(cutRunes)
	if idx := strings.LastIndexAny(cutText, " \t\n"); idx > 0 {
		cutText = cutText[:idx]
	}
	return strings.TrimSpace(cutText) + "..."
}

func lastSentenceEnd(runes []rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		switch runes[i] {
		case '.', '!', '?':
			return i + 1
		}
	}
	return 0
}
