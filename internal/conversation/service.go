package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/junobot/juno/internal/broadcast"
	"github.com/junobot/juno/internal/classify"
	"github.com/junobot/juno/internal/observability/metrics"
	"github.com/junobot/juno/internal/persona"
	"github.com/junobot/juno/internal/registry"
	"github.com/junobot/juno/pkg/logging"
)

// InboundMessage is one chat message handed in by the transport. ReplyToBot
// marks a message posted as a direct reply to one of the bot's own messages.
type InboundMessage struct {
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	SenderName     string `json:"sender_name"`
	Text           string `json:"text"`
	ChatType       string `json:"chat_type"`
	ReplyToBot     bool   `json:"reply_to_bot,omitempty"`
}

// OutgoingReply is the reply the worker should deliver. An empty Text means
// nothing to send.
type OutgoingReply struct {
	RecipientID string
	Text        string
}

// Service runs the full relay pipeline for one inbound message: classify,
// contextualize, compose, call the AI backend behind the breaker, sanitize,
// and fall back on-persona when the backend is unavailable.
type Service struct {
	contexts    *ContextStore
	classifier  *classify.Classifier
	composer    *Composer
	sanitizer   *Sanitizer
	breaker     *Breaker
	llm         LLMClient
	persona     *persona.Config
	registry    registry.Registry
	broadcaster *broadcast.Tracker
	metrics     *metrics.RelayMetrics
	logger      *logging.Logger

	ownerChatID  string
	botUsername  string
	nameKeywords []string
	fallbackSeq  atomic.Int64
}

// ServiceDeps bundles the collaborators the service needs. Registry,
// broadcaster, and metrics are optional; everything else is required.
type ServiceDeps struct {
	Contexts    *ContextStore
	Classifier  *classify.Classifier
	Composer    *Composer
	Sanitizer   *Sanitizer
	Breaker     *Breaker
	LLM         LLMClient
	Persona     *persona.Config
	Registry    registry.Registry
	Broadcaster *broadcast.Tracker
	Metrics     *metrics.RelayMetrics
	Logger      *logging.Logger
	OwnerChatID string
	BotUsername string
}

func NewService(deps ServiceDeps) *Service {
	if deps.Contexts == nil {
		panic("conversation: context store is required")
	}
	if deps.Classifier == nil {
		panic("conversation: classifier is required")
	}
	if deps.Composer == nil {
		panic("conversation: composer is required")
	}
	if deps.Sanitizer == nil {
		panic("conversation: sanitizer is required")
	}
	if deps.Breaker == nil {
		panic("conversation: breaker is required")
	}
	if deps.LLM == nil {
		panic("conversation: llm client is required")
	}
	if deps.Persona == nil {
		panic("conversation: persona is required")
	}
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}
	keywords := make([]string, 0, len(deps.Persona.NameKeywords)+1)
	keywords = append(keywords, strings.ToLower(deps.Persona.BotName))
	for _, kw := range deps.Persona.NameKeywords {
		if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
			keywords = append(keywords, kw)
		}
	}

	return &Service{
		contexts:     deps.Contexts,
		classifier:   deps.Classifier,
		composer:     deps.Composer,
		sanitizer:    deps.Sanitizer,
		breaker:      deps.Breaker,
		llm:          deps.LLM,
		persona:      deps.Persona,
		registry:     deps.Registry,
		broadcaster:  deps.Broadcaster,
		metrics:      deps.Metrics,
		logger:       deps.Logger,
		ownerChatID:  deps.OwnerChatID,
		botUsername:  strings.ToLower(strings.TrimPrefix(deps.BotUsername, "@")),
		nameKeywords: keywords,
	}
}

// HandleMessage processes one inbound message end to end and returns the
// reply to deliver. Conversation processing is serialized per conversation id
// so concurrent messages from one chat cannot interleave history.
func (s *Service) HandleMessage(ctx context.Context, msg InboundMessage) (OutgoingReply, error) {
	if strings.HasPrefix(strings.TrimSpace(msg.Text), "/") {
		if reply, handled := s.handleCommand(ctx, msg); handled {
			s.metrics.ObserveInbound(msg.ChatType, "command")
			return reply, nil
		}
	}

	cleaned := classify.CleanText(msg.Text)
	if cleaned == "" {
		s.metrics.ObserveInbound(msg.ChatType, "ignored")
		return OutgoingReply{}, nil
	}

	// In groups the bot only answers when addressed, otherwise it would butt
	// into every conversation.
	if msg.ChatType == ChatTypeGroup && !s.addressedInGroup(msg) {
		s.metrics.ObserveInbound(msg.ChatType, "ignored")
		return OutgoingReply{}, nil
	}

	unlock := s.contexts.LockConversation(msg.ConversationID)
	defer unlock()

	prior := s.contexts.Snapshot(msg.ConversationID)
	res := s.classifier.Classify(cleaned, prior.Language)
	s.contexts.SetSignals(msg.ConversationID, res.Language, res.Tone)
	s.contexts.AppendTurn(msg.ConversationID, ChatRoleUser, cleaned)

	s.recordActivity(ctx, msg.ConversationID)

	snap := s.contexts.Snapshot(msg.ConversationID)
	req, err := s.composer.Compose(snap, res, msg.ChatType, msg.SenderName, cleaned)
	if err != nil {
		s.metrics.ObserveInbound(msg.ChatType, "error")
		return OutgoingReply{}, fmt.Errorf("conversation: failed to compose prompt: %w", err)
	}

	start := time.Now()
	resp, err := s.breaker.Attempt(ctx, func(callCtx context.Context) (LLMResponse, error) {
		return s.llm.Complete(callCtx, req)
	})
	s.metrics.SetBreakerState(s.breaker.State().Status)
	if err != nil {
		s.metrics.ObserveLLMLatency("error", time.Since(start).Seconds())
		return s.fallbackReply(msg, res.Tone, err), nil
	}
	s.metrics.ObserveLLMLatency("success", time.Since(start).Seconds())

	text := s.sanitizer.Sanitize(resp.Text, msg.ChatType)
	// Only delivered AI output joins the history; fallback replies are
	// degraded-mode filler and would poison later prompts.
	s.contexts.AppendTurn(msg.ConversationID, ChatRoleAssistant, text)

	s.metrics.ObserveInbound(msg.ChatType, "ok")
	s.metrics.ObserveReply("llm")
	return OutgoingReply{RecipientID: msg.ConversationID, Text: text}, nil
}

// fallbackReply serves an on-persona degraded reply instead of surfacing
// backend failure to the user.
func (s *Service) fallbackReply(msg InboundMessage, tone string, cause error) OutgoingReply {
	reason := "transient"
	if errors.Is(cause, ErrCircuitOpen) {
		reason = "circuit_open"
	} else {
		s.logger.Warn("ai backend call failed",
			"conversation_id", msg.ConversationID,
			"error", cause.Error(),
		)
	}
	s.metrics.ObserveInbound(msg.ChatType, "fallback")
	s.metrics.ObserveFallback(reason)
	s.metrics.ObserveReply("fallback")

	n := int(s.fallbackSeq.Add(1))
	return OutgoingReply{
		RecipientID: msg.ConversationID,
		Text:        s.persona.Fallback(tone, n),
	}
}

func (s *Service) recordActivity(ctx context.Context, conversationID string) {
	if s.registry == nil {
		return
	}
	if err := s.registry.RecordActivity(ctx, conversationID); err != nil && !errors.Is(err, registry.ErrNotFound) {
		s.logger.Warn("failed to record recipient activity",
			"conversation_id", conversationID,
			"error", err.Error(),
		)
	}
}

// addressedInGroup reports whether a group message is directed at the bot: a
// reply to one of its messages, an @-mention of its username, or any of its
// name keywords in the text.
func (s *Service) addressedInGroup(msg InboundMessage) bool {
	if msg.ReplyToBot {
		return true
	}
	lower := strings.ToLower(msg.Text)
	if s.botUsername != "" && strings.Contains(lower, "@"+s.botUsername) {
		return true
	}
	for _, kw := range s.nameKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// handleCommand routes slash commands. /start and /help answer for everyone;
// broadcast and stats only for the owner in a private chat. Anything else is
// unhandled and reads as normal chat, so quips like "/shrug" still get a
// conversational reply.
func (s *Service) handleCommand(ctx context.Context, msg InboundMessage) (OutgoingReply, bool) {
	command, args := splitCommand(msg.Text)

	switch command {
	case "/start":
		return s.startReply(msg), true
	case "/help":
		return s.helpReply(msg), true
	}

	if !s.isOwner(msg) {
		return OutgoingReply{}, false
	}

	switch command {
	case "/broadcast":
		return s.runBroadcast(ctx, msg, args, registry.FilterAll), true
	case "/broadcastusers":
		return s.runBroadcast(ctx, msg, args, registry.FilterUsers), true
	case "/broadcastgroups":
		return s.runBroadcast(ctx, msg, args, registry.FilterGroups), true
	case "/stats":
		return s.statsReply(ctx, msg), true
	default:
		return OutgoingReply{
			RecipientID: msg.ConversationID,
			Text:        "Unknown command. Available: /start, /help, /broadcast, /broadcastusers, /broadcastgroups, /stats",
		}, true
	}
}

func (s *Service) isOwner(msg InboundMessage) bool {
	return s.ownerChatID != "" &&
		msg.SenderID == s.ownerChatID &&
		msg.ChatType == ChatTypePrivate
}

// startReply is the onboarding welcome, phrased per the persona.
func (s *Service) startReply(msg InboundMessage) OutgoingReply {
	p := s.persona
	var b strings.Builder
	if msg.ChatType == ChatTypeGroup {
		fmt.Fprintf(&b, "Hey everyone! I'm %s, happy to be part of this group. ", p.BotName)
		b.WriteString("Mention me or reply to my messages if you want to chat!")
	} else {
		name := msg.SenderName
		if name == "" {
			name = "friend"
		}
		fmt.Fprintf(&b, "Hey %s! I'm %s, created by %s. ", name, p.BotName, p.OwnerName)
		b.WriteString("Ask me anything, share your thoughts, or just chat.")
	}
	return OutgoingReply{RecipientID: msg.ConversationID, Text: b.String()}
}

func (s *Service) helpReply(msg InboundMessage) OutgoingReply {
	p := s.persona
	var b strings.Builder
	fmt.Fprintf(&b, "%s here! I chat in private and in groups, adapt to your language and tone, and remember our conversation.\n\n", p.BotName)
	b.WriteString("Commands:\n/start - say hi\n/help - this message\n\n")
	b.WriteString("In groups: ")
	if s.botUsername != "" {
		fmt.Fprintf(&b, "mention me with @%s, ", s.botUsername)
	}
	fmt.Fprintf(&b, "use my name, or reply to my messages.\n\nMade by %s.", p.OwnerName)
	return OutgoingReply{RecipientID: msg.ConversationID, Text: b.String()}
}

// splitCommand lowercases the command token and drops the @botname suffix
// Telegram appends to commands sent in groups.
func splitCommand(text string) (string, string) {
	text = strings.TrimSpace(text)
	command, args, _ := strings.Cut(text, " ")
	command, _, _ = strings.Cut(command, "@")
	return strings.ToLower(command), strings.TrimSpace(args)
}

func (s *Service) runBroadcast(ctx context.Context, msg InboundMessage, body, filter string) OutgoingReply {
	if s.broadcaster == nil {
		return OutgoingReply{RecipientID: msg.ConversationID, Text: "Broadcasting is not configured."}
	}
	if body == "" {
		return OutgoingReply{RecipientID: msg.ConversationID, Text: "Usage: /broadcast <message>"}
	}

	job, err := s.broadcaster.Dispatch(ctx, body, filter)
	if err != nil {
		s.logger.Error("broadcast dispatch failed", "error", err.Error())
		return OutgoingReply{RecipientID: msg.ConversationID, Text: "Broadcast failed to start."}
	}

	return OutgoingReply{
		RecipientID: msg.ConversationID,
		Text: fmt.Sprintf("Broadcast %s done: %d sent, %d failed, %d skipped of %d targets.",
			job.ID, job.Sent, job.Failed, job.Skipped, len(job.Targets)),
	}
}

func (s *Service) statsReply(ctx context.Context, msg InboundMessage) OutgoingReply {
	var b strings.Builder

	cs := s.contexts.Stats()
	fmt.Fprintf(&b, "Conversations: %d total, %d active, %d turns held.\n", cs.Total, cs.Active, cs.TotalTurns)

	if s.registry != nil {
		rs, err := s.registry.Stats(ctx)
		if err != nil {
			s.logger.Warn("failed to read registry stats", "error", err.Error())
		} else {
			fmt.Fprintf(&b, "Recipients: %d users, %d groups.\n", rs.Users, rs.Groups)
		}
	}

	bs := s.breaker.State()
	fmt.Fprintf(&b, "AI backend: %s", bs.Status)
	if bs.Status != BreakerClosed {
		fmt.Fprintf(&b, " (since %s)", bs.OpenedAt.Format(time.RFC3339))
	}
	b.WriteString(".")

	return OutgoingReply{RecipientID: msg.ConversationID, Text: b.String()}
}
