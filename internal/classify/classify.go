package classify

import (
	"regexp"
	"strings"

	"github.com/abadojack/whatlanggo"
)

// Tone values assigned to inbound messages. Unknown is the initial state of a
// fresh conversation; the scanner itself never emits it.
const (
	ToneNeutral = "neutral"
	ToneCasual  = "casual"
	ToneExcited = "excited"
	ToneSad     = "sad"
	ToneFormal  = "formal"
	ToneFlirty  = "flirty"
	ToneUnknown = "unknown"
)

// LanguageUnknown is used when detection fails and no prior language exists.
const LanguageUnknown = "unknown"

// Result carries the heuristic signals derived from one message.
type Result struct {
	Language string
	Tone     string
}

// Classifier derives language and tone signals from raw text. It is a pure
// function of its inputs and the fixed lexicon below.
type Classifier struct {
	defaultLanguage string
}

// New creates a classifier that falls back to defaultLanguage when neither the
// text nor the prior turn yields a language.
func New(defaultLanguage string) *Classifier {
	if strings.TrimSpace(defaultLanguage) == "" {
		defaultLanguage = "en"
	}
	return &Classifier{defaultLanguage: defaultLanguage}
}

// toneRule scores one tone signal. Weight lets strong markers (explicit mood
// words) outrank weak ones (punctuation).
type toneRule struct {
	tone   string
	re     *regexp.Regexp
	weight int
}

var toneRules = []toneRule{
	{ToneFormal, regexp.MustCompile(`\b(sir|madam|kindly|would you|could you please|may i)\b`), 2},
	{ToneFormal, regexp.MustCompile(`\b(thank you very much|i would appreciate|i am writing to)\b`), 2},
	{ToneFormal, regexp.MustCompile(`\b(furthermore|however|nevertheless|therefore)\b`), 1},
	{ToneCasual, regexp.MustCompile(`\b(lol|haha|omg|tbh|ngl|btw|imo|afaik)\b`), 2},
	{ToneCasual, regexp.MustCompile(`\b(yeah|yep|nah|gonna|wanna|gotta)\b`), 1},
	{ToneExcited, regexp.MustCompile(`\b(awesome|amazing|fantastic|incredible|love it|excited|yay|woohoo)\b`), 2},
	{ToneExcited, regexp.MustCompile(`!{2,}`), 2},
	{ToneExcited, upperCaseRule, 1},
	{ToneSad, regexp.MustCompile(`\b(sad|sorry|worried|lonely|upset|miss you|disappointed|crying)\b`), 2},
	{ToneSad, regexp.MustCompile(`\.{3,}`), 1},
	{ToneFlirty, regexp.MustCompile(`\b(cute|handsome|gorgeous|beautiful|crush|date me|kiss|flirt|miss u|babe|darling|sweetheart)\b`), 2},
	{ToneFlirty, regexp.MustCompile(`(😘|😍|🥰|😏|💕|❤️)`), 2},
}

// toneOrder breaks score ties deterministically, strongest-signal tones first.
var toneOrder = []string{ToneFlirty, ToneSad, ToneExcited, ToneFormal, ToneCasual}

// upperCaseRule is matched against the raw text rather than the lowercased
// copy; a CAPS-run rule is meaningless after lowercasing.
var upperCaseRule = regexp.MustCompile(`[A-Z]{4,}`)

// Classify derives language and tone. priorLanguage is the previous turn's
// detected language; it wins over the configured default when detection is
// unreliable.
func (c *Classifier) Classify(text, priorLanguage string) Result {
	return Result{
		Language: c.detectLanguage(text, priorLanguage),
		Tone:     DetectTone(text),
	}
}

// DetectTone runs the lexicon scan. Unmatched input yields neutral.
func DetectTone(text string) string {
	lower := strings.ToLower(text)
	scores := map[string]int{}
	for _, rule := range toneRules {
		subject := lower
		if rule.re == upperCaseRule {
			subject = text
		}
		if n := len(rule.re.FindAllString(subject, -1)); n > 0 {
			scores[rule.tone] += n * rule.weight
		}
	}

	best := ToneNeutral
	bestScore := 0
	for _, tone := range toneOrder {
		if scores[tone] > bestScore {
			best = tone
			bestScore = scores[tone]
		}
	}
	return best
}

// HasFlirtSignal reports whether the user-originated text itself carries a
// romantic register. The composer uses this as the allow-list gate: flirty
// instructions are only ever emitted when the user initiated.
func HasFlirtSignal(text string) bool {
	lower := strings.ToLower(text)
	for _, rule := range toneRules {
		if rule.tone != ToneFlirty {
			continue
		}
		if rule.re.MatchString(lower) {
			return true
		}
	}
	return false
}

// detectLanguage is best-effort statistical inference. Short or ambiguous input
// falls back to the prior turn's language rather than flapping between codes.
func (c *Classifier) detectLanguage(text, priorLanguage string) string {
	fallback := priorLanguage
	if fallback == "" || fallback == LanguageUnknown {
		fallback = c.defaultLanguage
	}

	trimmed := strings.TrimSpace(text)
	// Trigram detection over a handful of runes is noise.
	if len([]rune(trimmed)) < 6 {
		return fallback
	}

	info := whatlanggo.Detect(trimmed)
	if !info.IsReliable() {
		return fallback
	}
	code := info.Lang.Iso6391()
	if code == "" {
		return fallback
	}
	return code
}

var (
	spaceRun    = regexp.MustCompile(`\s+`)
	bangRun     = regexp.MustCompile(`!{3,}`)
	questionRun = regexp.MustCompile(`\?{3,}`)
	ellipsisRun = regexp.MustCompile(`\.{4,}`)
)

// CleanText normalizes whitespace and collapses runaway punctuation before
// classification and prompting.
func CleanText(text string) string {
	text = spaceRun.ReplaceAllString(text, " ")
	text = bangRun.ReplaceAllString(text, "!!")
	text = questionRun.ReplaceAllString(text, "??")
	text = ellipsisRun.ReplaceAllString(text, "...")
	return strings.TrimSpace(text)
}
