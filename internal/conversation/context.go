package conversation

import (
	"sync"
	"time"

	"github.com/junobot/juno/internal/classify"
)

const (
	ChatRoleUser      = "user"
	ChatRoleAssistant = "assistant"
)

// Turn is one message in a conversation's bounded history.
type Turn struct {
	Role string    `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Context is the short-lived per-conversation state that gives replies
// continuity. It is pure in-memory, best-effort state: nothing survives a
// restart and nothing needs to.
type Context struct {
	ID           string
	Turns        []Turn
	Language     string
	Tone         string
	CreatedAt    time.Time
	LastActiveAt time.Time
}

// ContextStats summarizes the store for the owner stats command.
type ContextStats struct {
	Total      int
	Active     int
	TotalTurns int
}

// ContextStore owns every Context exclusively. History is bounded FIFO and a
// context idle past the timeout is destroyed rather than returned.
type ContextStore struct {
	mu       sync.Mutex
	contexts map[string]*Context
	keyLocks map[string]*sync.Mutex

	maxTurns int
	timeout  time.Duration
	now      func() time.Time
}

// NewContextStore creates a store with the given history cap and idle timeout.
func NewContextStore(maxTurns int, timeout time.Duration) *ContextStore {
	if maxTurns <= 0 {
		maxTurns = 20
	}
	if timeout <= 0 {
		timeout = 2 * time.Hour
	}
	return &ContextStore{
		contexts: make(map[string]*Context),
		keyLocks: make(map[string]*sync.Mutex),
		maxTurns: maxTurns,
		timeout:  timeout,
		now:      time.Now,
	}
}

// GetOrCreate returns the live context for id, replacing an expired one with a
// fresh context. It never fails.
func (s *ContextStore) GetOrCreate(id string) *Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOrCreateLocked(id)
}

func (s *ContextStore) getOrCreateLocked(id string) *Context {
	now := s.now()
	if ctx, ok := s.contexts[id]; ok {
		if now.Sub(ctx.LastActiveAt) <= s.timeout {
			return ctx
		}
		delete(s.contexts, id)
	}
	ctx := &Context{
		ID:           id,
		Language:     classify.LanguageUnknown,
		Tone:         classify.ToneUnknown,
		CreatedAt:    now,
		LastActiveAt: now,
	}
	s.contexts[id] = ctx
	return ctx
}

// AppendTurn appends a turn, evicting the oldest entry once the cap is hit,
// and refreshes LastActiveAt.
func (s *ContextStore) AppendTurn(id, role, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := s.getOrCreateLocked(id)
	now := s.now()
	ctx.Turns = append(ctx.Turns, Turn{Role: role, Text: text, At: now})
	if len(ctx.Turns) > s.maxTurns {
		ctx.Turns = ctx.Turns[len(ctx.Turns)-s.maxTurns:]
	}
	ctx.LastActiveAt = now
}

// SetSignals records the classifier output for the current turn.
func (s *ContextStore) SetSignals(id, language, tone string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := s.getOrCreateLocked(id)
	if language != "" {
		ctx.Language = language
	}
	if tone != "" {
		ctx.Tone = tone
	}
}

// SweepExpired removes every context idle past the timeout and returns how
// many were dropped.
func (s *ContextStore) SweepExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, ctx := range s.contexts {
		if now.Sub(ctx.LastActiveAt) > s.timeout {
			delete(s.contexts, id)
			delete(s.keyLocks, id)
			removed++
		}
	}
	return removed
}

// Snapshot returns a copy of the context safe to read outside the store lock.
func (s *ContextStore) Snapshot(id string) Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := s.getOrCreateLocked(id)
	copied := *ctx
	copied.Turns = append([]Turn(nil), ctx.Turns...)
	return copied
}

// LockConversation serializes turn processing per conversation so concurrent
// messages from one user cannot interleave history. The returned func unlocks.
func (s *ContextStore) LockConversation(id string) func() {
	s.mu.Lock()
	lock, ok := s.keyLocks[id]
	if !ok {
		lock = &sync.Mutex{}
		s.keyLocks[id] = lock
	}
	s.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// Stats reports store totals for the owner stats command.
func (s *ContextStore) Stats() ContextStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	stats := ContextStats{Total: len(s.contexts)}
	for _, ctx := range s.contexts {
		if now.Sub(ctx.LastActiveAt) <= s.timeout {
			stats.Active++
		}
		stats.TotalTurns += len(ctx.Turns)
	}
	return stats
}
