package conversation

import (
	"fmt"
	"strings"
	"time"

	"github.com/junobot/juno/internal/classify"
	"github.com/junobot/juno/internal/persona"
)

// Chat types delivered by the inbound transport.
const (
	ChatTypePrivate = "private"
	ChatTypeGroup   = "group"
)

const (
	promptTemperature = 0.9
	promptTopP        = 0.95
)

// Composer builds the model-facing request from conversation context,
// classifier output, and the persona configuration. It is deterministic given
// its inputs (the clock is injectable for tests).
type Composer struct {
	persona   *persona.Config
	maxTokens int32
	now       func() time.Time
}

// NewComposer validates the persona up front; identity disclosure is
// mandatory, so a malformed persona is a ConfigurationError here rather than
// an unbranded prompt later.
func NewComposer(p *persona.Config, maxTokens int32) (*Composer, error) {
	if p == nil {
		return nil, &persona.ConfigurationError{Field: "persona", Reason: "is required"}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if maxTokens <= 0 {
		maxTokens = 3000
	}
	return &Composer{persona: p, maxTokens: maxTokens, now: time.Now}, nil
}

// Compose assembles the prompt payload. ctx carries the bounded history
// (chronological, user turn already appended last), res the current turn's
// classifier output, and userText the raw user message used for the flirting
// allow-list check.
func (c *Composer) Compose(ctx Context, res classify.Result, chatType, userName, userText string) (LLMRequest, error) {
	if err := c.persona.Validate(); err != nil {
		return LLMRequest{}, err
	}

	var sys strings.Builder
	c.writeIdentity(&sys, userName)
	c.writeStyle(&sys, res.Tone, userText)
	c.writeChatType(&sys, chatType)
	c.writeLanguage(&sys, res.Language)
	fmt.Fprintf(&sys, "Current time: %s.\n", c.now().Format("Monday, January 2, 2006 at 3:04 PM"))

	messages := make([]ChatMessage, 0, len(ctx.Turns))
	for _, turn := range ctx.Turns {
		content := strings.TrimSpace(turn.Text)
		if content == "" {
			continue
		}
		messages = append(messages, ChatMessage{Role: turn.Role, Content: content})
	}
	if len(messages) == 0 || messages[len(messages)-1].Role != ChatRoleUser {
		messages = append(messages, ChatMessage{Role: ChatRoleUser, Content: userText})
	}

	return LLMRequest{
		System:      []string{sys.String()},
		Messages:    messages,
		MaxTokens:   c.maxTokens,
		Temperature: promptTemperature,
		TopP:        promptTopP,
	}, nil
}

func (c *Composer) writeIdentity(sys *strings.Builder, userName string) {
	p := c.persona
	fmt.Fprintf(sys, "You are %s, %s. You were created by %s.\n", p.BotName, p.Description, p.OwnerName)
	sys.WriteString("Never say you are an AI, bot, chatbot, assistant, or language model. ")
	fmt.Fprintf(sys, "You are simply %s, a person having a normal conversation.\n", p.BotName)
	fmt.Fprintf(sys, "If asked who made you, credit %s.\n", p.OwnerName)
	if userName != "" {
		fmt.Fprintf(sys, "You are talking to %s.\n", userName)
	}
	sys.WriteString("\n")
}

func (c *Composer) writeStyle(sys *strings.Builder, tone, userText string) {
	sys.WriteString("Style for this reply: ")
	sys.WriteString(c.persona.Instruction(tone))
	sys.WriteString("\n")
	sys.WriteString("Keep replies short, one or two sentences unless more is truly needed. ")
	sys.WriteString("Use contractions and react like a person would.\n")

	if c.flirtingPermitted(tone, userText) {
		sys.WriteString("The user has initiated a playful, romantic register; you may reciprocate while staying respectful.\n")
	} else {
		sys.WriteString("Stay friendly and non-romantic. Do not flirt or use a romantic register.\n")
	}
	sys.WriteString("\n")
}

// flirtingPermitted is an explicit allow-list: the persona must permit it, the
// current tone must be flirty, and the user's own text must carry the signal.
func (c *Composer) flirtingPermitted(tone, userText string) bool {
	return c.persona.FlirtingAllowed &&
		tone == classify.ToneFlirty &&
		classify.HasFlirtSignal(userText)
}

func (c *Composer) writeChatType(sys *strings.Builder, chatType string) {
	if chatType == ChatTypeGroup {
		sys.WriteString("This is a group chat: be social but brief, and don't dominate the conversation.\n\n")
		return
	}
	sys.WriteString("This is a private chat: be personal, remember details, and ask natural follow-ups.\n\n")
}

func (c *Composer) writeLanguage(sys *strings.Builder, language string) {
	if language == "" || language == classify.LanguageUnknown {
		sys.WriteString("Respond in the same language the user wrote in.\n")
		return
	}
	fmt.Fprintf(sys, "The user is writing in language code %q. You must respond in that same language.\n", language)
}
