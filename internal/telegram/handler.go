package telegram

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/junobot/juno/internal/conversation"
	"github.com/junobot/juno/internal/registry"
	"github.com/junobot/juno/pkg/logging"
)

// Update is the Telegram Bot API update envelope, trimmed to the fields the
// bot consumes.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message"`
}

type Message struct {
	MessageID int64    `json:"message_id"`
	From      *User    `json:"from"`
	Chat      Chat     `json:"chat"`
	Text      string   `json:"text"`
	ReplyTo   *Message `json:"reply_to_message"`
}

type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	Username  string `json:"username"`
}

type Chat struct {
	ID    int64  `json:"id"`
	Type  string `json:"type"`
	Title string `json:"title"`
}

// Handler receives Telegram webhook updates, registers the chat, and hands the
// message to the queue. It always acknowledges with 200 so Telegram never
// redelivers; anything unprocessable is logged and dropped.
type Handler struct {
	publisher   *conversation.Publisher
	registry    registry.Registry
	secret      string
	botUsername string
	logger      *logging.Logger
}

func NewHandler(publisher *conversation.Publisher, reg registry.Registry, secret, botUsername string, logger *logging.Logger) *Handler {
	if publisher == nil {
		panic("telegram: publisher is required")
	}
	if reg == nil {
		panic("telegram: registry is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		publisher:   publisher,
		registry:    reg,
		secret:      secret,
		botUsername: strings.TrimPrefix(botUsername, "@"),
		logger:      logger,
	}
}

// HandleWebhook processes one update posted by Telegram.
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	if !h.secretMatches(chi.URLParam(r, "secret")) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	var update Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		h.logger.Warn("failed to decode telegram update", "error", err.Error())
		writeAck(w)
		return
	}

	msg := update.Message
	if msg == nil || strings.TrimSpace(msg.Text) == "" {
		writeAck(w)
		return
	}
	if msg.From != nil && msg.From.IsBot {
		writeAck(w)
		return
	}

	chatType, kind, ok := mapChatType(msg.Chat.Type)
	if !ok {
		writeAck(w)
		return
	}

	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	h.upsertRecipient(r, chatID, kind, msg)

	inbound := conversation.InboundMessage{
		ConversationID: chatID,
		SenderID:       senderID(msg),
		SenderName:     senderName(msg),
		Text:           msg.Text,
		ChatType:       chatType,
		ReplyToBot:     h.isReplyToBot(msg),
	}
	if _, err := h.publisher.PublishInbound(r.Context(), inbound); err != nil {
		h.logger.Error("failed to enqueue telegram update",
			"update_id", update.UpdateID,
			"chat_id", chatID,
			"error", err.Error(),
		)
	}

	writeAck(w)
}

// isReplyToBot reports whether the message replies to one of this bot's own
// messages. Without a configured username any bot-authored parent counts.
func (h *Handler) isReplyToBot(msg *Message) bool {
	parent := msg.ReplyTo
	if parent == nil || parent.From == nil || !parent.From.IsBot {
		return false
	}
	if h.botUsername == "" {
		return true
	}
	return strings.EqualFold(parent.From.Username, h.botUsername)
}

func (h *Handler) secretMatches(got string) bool {
	if h.secret == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) == 1
}

func (h *Handler) upsertRecipient(r *http.Request, chatID, kind string, msg *Message) {
	now := time.Now().UTC()
	rec := registry.Recipient{
		ID:         chatID,
		Kind:       kind,
		Title:      chatTitle(msg),
		FirstSeen:  now,
		LastActive: now,
	}
	if err := h.registry.Upsert(r.Context(), rec); err != nil {
		h.logger.Warn("failed to register recipient",
			"chat_id", chatID,
			"error", err.Error(),
		)
	}
}

// mapChatType translates Telegram chat types onto the relay's two modes.
// Channels and anything unrecognized are ignored.
func mapChatType(t string) (chatType, kind string, ok bool) {
	switch t {
	case "private":
		return conversation.ChatTypePrivate, registry.KindUser, true
	case "group", "supergroup":
		return conversation.ChatTypeGroup, registry.KindGroup, true
	default:
		return "", "", false
	}
}

func chatTitle(msg *Message) string {
	if msg.Chat.Title != "" {
		return msg.Chat.Title
	}
	return senderName(msg)
}

func senderID(msg *Message) string {
	if msg.From == nil {
		return strconv.FormatInt(msg.Chat.ID, 10)
	}
	return strconv.FormatInt(msg.From.ID, 10)
}

func senderName(msg *Message) string {
	if msg.From == nil {
		return ""
	}
	if msg.From.FirstName != "" {
		return msg.From.FirstName
	}
	return msg.From.Username
}

func writeAck(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"ok":true}`))
}
