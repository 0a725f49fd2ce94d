package conversation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/junobot/juno/internal/broadcast"
	"github.com/junobot/juno/internal/classify"
	"github.com/junobot/juno/internal/registry"
	"github.com/junobot/juno/pkg/logging"
)

type fakeLLM struct {
	mu    sync.Mutex
	calls int
	fn    func(req LLMRequest) (LLMResponse, error)
}

func (f *fakeLLM) Complete(_ context.Context, req LLMRequest) (LLMResponse, error) {
	f.mu.Lock()
	f.calls++
	fn := f.fn
	f.mu.Unlock()
	if fn == nil {
		return LLMResponse{Text: "Hey! Good to hear from you."}, nil
	}
	return fn(req)
}

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingSender struct {
	mu   sync.Mutex
	sent map[string][]string
}

func newRecordingSender() *recordingSender {
	return &recordingSender{sent: make(map[string][]string)}
}

func (r *recordingSender) Send(_ context.Context, recipientID, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent[recipientID] = append(r.sent[recipientID], text)
	return nil
}

const testOwnerID = "owner-1"

func newTestService(t *testing.T, llm LLMClient) (*Service, registry.Registry, *recordingSender) {
	t.Helper()

	p := testPersona(t, false)
	composer, err := NewComposer(p, 1000)
	require.NoError(t, err)

	reg := registry.NewMemoryRegistry()
	sender := newRecordingSender()
	tracker := broadcast.NewTracker(reg, sender, logging.Default(),
		broadcast.WithBatch(100, time.Millisecond))

	svc := NewService(ServiceDeps{
		Contexts:    NewContextStore(20, 2*time.Hour),
		Classifier:  classify.New("en"),
		Composer:    composer,
		Sanitizer:   NewSanitizer(nil, p.SanitizerFiller, 1000, 400),
		Breaker:     NewBreaker(2, time.Minute, 5*time.Second),
		LLM:         llm,
		Persona:     p,
		Registry:    reg,
		Broadcaster: tracker,
		Logger:      logging.Default(),
		OwnerChatID: testOwnerID,
		BotUsername: "juno_bot",
	})
	return svc, reg, sender
}

func inbound(text string) InboundMessage {
	return InboundMessage{
		ConversationID: "chat-1",
		SenderID:       "user-1",
		SenderName:     "Sam",
		Text:           text,
		ChatType:       ChatTypePrivate,
	}
}

func TestHandleMessageHappyPath(t *testing.T) {
	llm := &fakeLLM{}
	svc, _, _ := newTestService(t, llm)

	reply, err := svc.HandleMessage(context.Background(), inbound("hey, how's it going?"))
	require.NoError(t, err)

	assert.Equal(t, "chat-1", reply.RecipientID)
	assert.Equal(t, "Hey! Good to hear from you.", reply.Text)
	assert.Equal(t, 1, llm.callCount())

	snap := svc.contexts.Snapshot("chat-1")
	require.Len(t, snap.Turns, 2)
	assert.Equal(t, ChatRoleUser, snap.Turns[0].Role)
	assert.Equal(t, ChatRoleAssistant, snap.Turns[1].Role)
	assert.Equal(t, reply.Text, snap.Turns[1].Text)
}

func TestHandleMessageEmptyTextIgnored(t *testing.T) {
	llm := &fakeLLM{}
	svc, _, _ := newTestService(t, llm)

	reply, err := svc.HandleMessage(context.Background(), inbound("   \n\t  "))
	require.NoError(t, err)

	assert.Empty(t, reply.Text)
	assert.Zero(t, llm.callCount())
}

func TestHandleMessageSanitizesDisclosure(t *testing.T) {
	llm := &fakeLLM{fn: func(LLMRequest) (LLMResponse, error) {
		return LLMResponse{Text: "As an AI I cannot feel things. But that song is great, I had it on repeat!"}, nil
	}}
	svc, _, _ := newTestService(t, llm)

	reply, err := svc.HandleMessage(context.Background(), inbound("did you like the song?"))
	require.NoError(t, err)

	assert.NotContains(t, reply.Text, "As an AI")
	assert.Contains(t, reply.Text, "that song is great")
}

func TestHandleMessageFallbackOnBackendError(t *testing.T) {
	llm := &fakeLLM{fn: func(LLMRequest) (LLMResponse, error) {
		return LLMResponse{}, errors.New("upstream 500")
	}}
	svc, _, _ := newTestService(t, llm)

	reply, err := svc.HandleMessage(context.Background(), inbound("hey there"))
	require.NoError(t, err)

	assert.Equal(t, "Sorry, brain freeze! Again?", reply.Text)

	// Fallback replies never join the history.
	snap := svc.contexts.Snapshot("chat-1")
	require.Len(t, snap.Turns, 1)
	assert.Equal(t, ChatRoleUser, snap.Turns[0].Role)
}

func TestHandleMessageCircuitOpenSkipsBackend(t *testing.T) {
	llm := &fakeLLM{fn: func(LLMRequest) (LLMResponse, error) {
		return LLMResponse{}, errors.New("upstream 500")
	}}
	svc, _, _ := newTestService(t, llm)

	// Threshold is 2: two failures open the breaker.
	for i := 0; i < 2; i++ {
		_, err := svc.HandleMessage(context.Background(), inbound("hello?"))
		require.NoError(t, err)
	}
	assert.Equal(t, BreakerOpen, svc.breaker.State().Status)
	callsBefore := llm.callCount()

	reply, err := svc.HandleMessage(context.Background(), inbound("anyone home?"))
	require.NoError(t, err)

	assert.Equal(t, "Sorry, brain freeze! Again?", reply.Text)
	assert.Equal(t, callsBefore, llm.callCount())
}

func TestHandleMessageFormalFallbackSet(t *testing.T) {
	llm := &fakeLLM{fn: func(LLMRequest) (LLMResponse, error) {
		return LLMResponse{}, errors.New("upstream 500")
	}}
	svc, _, _ := newTestService(t, llm)

	reply, err := svc.HandleMessage(context.Background(), inbound("Dear Juno, kindly advise regarding the schedule. Yours sincerely, Sam"))
	require.NoError(t, err)

	assert.Equal(t, "I apologize, could you repeat that?", reply.Text)
}

func groupInbound(text string) InboundMessage {
	return InboundMessage{
		ConversationID: "-900",
		SenderID:       "user-1",
		SenderName:     "Sam",
		Text:           text,
		ChatType:       ChatTypeGroup,
	}
}

func TestGroupMessageNotAddressedIgnored(t *testing.T) {
	llm := &fakeLLM{}
	svc, _, _ := newTestService(t, llm)

	reply, err := svc.HandleMessage(context.Background(), groupInbound("anyone up for a movie tonight?"))
	require.NoError(t, err)

	assert.Empty(t, reply.Text)
	assert.Zero(t, llm.callCount())

	// Unaddressed chatter stays out of the conversation history too.
	assert.Empty(t, svc.contexts.Snapshot("-900").Turns)
}

func TestGroupMessageAddressedGetsReply(t *testing.T) {
	cases := map[string]InboundMessage{
		"name in text":     groupInbound("juno what do you think?"),
		"username mention": groupInbound("hey @juno_bot are you around?"),
		"reply to bot": func() InboundMessage {
			m := groupInbound("yeah I loved that one")
			m.ReplyToBot = true
			return m
		}(),
	}

	for name, msg := range cases {
		t.Run(name, func(t *testing.T) {
			llm := &fakeLLM{}
			svc, _, _ := newTestService(t, llm)

			reply, err := svc.HandleMessage(context.Background(), msg)
			require.NoError(t, err)

			assert.NotEmpty(t, reply.Text)
			assert.Equal(t, 1, llm.callCount())
		})
	}
}

func TestStartCommandPrivate(t *testing.T) {
	llm := &fakeLLM{}
	svc, _, _ := newTestService(t, llm)

	reply, err := svc.HandleMessage(context.Background(), inbound("/start"))
	require.NoError(t, err)

	assert.Contains(t, reply.Text, "Hey Sam!")
	assert.Contains(t, reply.Text, "Juno")
	assert.Contains(t, reply.Text, "@sunny_dev")
	assert.Zero(t, llm.callCount())
}

func TestStartCommandGroup(t *testing.T) {
	llm := &fakeLLM{}
	svc, _, _ := newTestService(t, llm)

	// Group commands arrive with the @botname suffix.
	reply, err := svc.HandleMessage(context.Background(), groupInbound("/start@juno_bot"))
	require.NoError(t, err)

	assert.Contains(t, reply.Text, "Hey everyone!")
	assert.Contains(t, reply.Text, "Mention me or reply to my messages")
	assert.Zero(t, llm.callCount())
}

func TestHelpCommand(t *testing.T) {
	llm := &fakeLLM{}
	svc, _, _ := newTestService(t, llm)

	reply, err := svc.HandleMessage(context.Background(), inbound("/help"))
	require.NoError(t, err)

	assert.Contains(t, reply.Text, "/start")
	assert.Contains(t, reply.Text, "@juno_bot")
	assert.Contains(t, reply.Text, "@sunny_dev")
	assert.Zero(t, llm.callCount())
}

func TestStartCommandFromOwner(t *testing.T) {
	svc, _, _ := newTestService(t, &fakeLLM{})

	reply, err := svc.HandleMessage(context.Background(), InboundMessage{
		ConversationID: testOwnerID,
		SenderID:       testOwnerID,
		SenderName:     "Avery",
		Text:           "/start",
		ChatType:       ChatTypePrivate,
	})
	require.NoError(t, err)

	assert.Contains(t, reply.Text, "Hey Avery!")
	assert.NotContains(t, reply.Text, "Unknown command")
}

func TestOwnerCommandStats(t *testing.T) {
	llm := &fakeLLM{}
	svc, reg, _ := newTestService(t, llm)
	require.NoError(t, reg.Upsert(context.Background(), registry.Recipient{ID: "u1", Kind: registry.KindUser}))

	reply, err := svc.HandleMessage(context.Background(), InboundMessage{
		ConversationID: testOwnerID,
		SenderID:       testOwnerID,
		Text:           "/stats",
		ChatType:       ChatTypePrivate,
	})
	require.NoError(t, err)

	assert.Contains(t, reply.Text, "Conversations:")
	assert.Contains(t, reply.Text, "1 users, 0 groups")
	assert.Contains(t, reply.Text, BreakerClosed)
	assert.Zero(t, llm.callCount())
}

func TestOwnerCommandBroadcast(t *testing.T) {
	llm := &fakeLLM{}
	svc, reg, sender := newTestService(t, llm)
	ctx := context.Background()
	require.NoError(t, reg.Upsert(ctx, registry.Recipient{ID: "u1", Kind: registry.KindUser}))
	require.NoError(t, reg.Upsert(ctx, registry.Recipient{ID: "u2", Kind: registry.KindUser}))
	require.NoError(t, reg.Upsert(ctx, registry.Recipient{ID: "g1", Kind: registry.KindGroup}))

	reply, err := svc.HandleMessage(ctx, InboundMessage{
		ConversationID: testOwnerID,
		SenderID:       testOwnerID,
		Text:           "/broadcastusers big news tonight!",
		ChatType:       ChatTypePrivate,
	})
	require.NoError(t, err)

	assert.Contains(t, reply.Text, "2 sent, 0 failed, 0 skipped of 2 targets")
	assert.Equal(t, []string{"big news tonight!"}, sender.sent["u1"])
	assert.Equal(t, []string{"big news tonight!"}, sender.sent["u2"])
	assert.Empty(t, sender.sent["g1"])
}

func TestOwnerCommandBroadcastWithoutBody(t *testing.T) {
	svc, _, _ := newTestService(t, &fakeLLM{})

	reply, err := svc.HandleMessage(context.Background(), InboundMessage{
		ConversationID: testOwnerID,
		SenderID:       testOwnerID,
		Text:           "/broadcast",
		ChatType:       ChatTypePrivate,
	})
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "Usage:")
}

func TestOwnerCommandUnknown(t *testing.T) {
	svc, _, _ := newTestService(t, &fakeLLM{})

	reply, err := svc.HandleMessage(context.Background(), InboundMessage{
		ConversationID: testOwnerID,
		SenderID:       testOwnerID,
		Text:           "/reboot",
		ChatType:       ChatTypePrivate,
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(reply.Text, "Unknown command"))
}

func TestCommandFromNonOwnerIsRelayed(t *testing.T) {
	llm := &fakeLLM{}
	svc, _, _ := newTestService(t, llm)

	reply, err := svc.HandleMessage(context.Background(), inbound("/stats"))
	require.NoError(t, err)

	assert.Equal(t, 1, llm.callCount())
	assert.NotContains(t, reply.Text, "Conversations:")
}

func TestHandleMessageRecordsActivity(t *testing.T) {
	llm := &fakeLLM{}
	svc, reg, _ := newTestService(t, llm)
	ctx := context.Background()

	old := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, reg.Upsert(ctx, registry.Recipient{ID: "chat-1", Kind: registry.KindUser, LastActive: old}))

	_, err := svc.HandleMessage(ctx, inbound("hello!"))
	require.NoError(t, err)

	list, err := reg.ListRecipients(ctx, registry.FilterAll)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].LastActive.After(old))
}
