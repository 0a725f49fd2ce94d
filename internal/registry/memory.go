package registry

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRegistry is an in-memory Registry for development and tests.
type MemoryRegistry struct {
	mu         sync.RWMutex
	recipients map[string]Recipient
	now        func() time.Time
}

// NewMemoryRegistry creates an empty in-memory registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		recipients: make(map[string]Recipient),
		now:        time.Now,
	}
}

var _ Registry = (*MemoryRegistry)(nil)

// Upsert registers or refreshes a recipient, preserving FirstSeen.
func (m *MemoryRegistry) Upsert(_ context.Context, r Recipient) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if existing, ok := m.recipients[r.ID]; ok {
		r.FirstSeen = existing.FirstSeen
	} else if r.FirstSeen.IsZero() {
		r.FirstSeen = now
	}
	if r.LastActive.IsZero() {
		r.LastActive = now
	}
	m.recipients[r.ID] = r
	return nil
}

// ListRecipients returns a snapshot of recipients passing the filter, ordered
// by id for determinism.
func (m *MemoryRegistry) ListRecipients(_ context.Context, filter string) ([]Recipient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Recipient, 0, len(m.recipients))
	for _, r := range m.recipients {
		if matchesFilter(r.Kind, filter) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Remove drops a recipient; removing an unknown id is not an error.
func (m *MemoryRegistry) Remove(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.recipients, id)
	return nil
}

// RecordActivity refreshes a recipient's LastActive timestamp.
func (m *MemoryRegistry) RecordActivity(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.recipients[id]
	if !ok {
		return ErrNotFound
	}
	r.LastActive = m.now()
	m.recipients[id] = r
	return nil
}

// Stats counts recipients by kind.
func (m *MemoryRegistry) Stats(_ context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var s Stats
	for _, r := range m.recipients {
		switch r.Kind {
		case KindGroup:
			s.Groups++
		default:
			s.Users++
		}
	}
	return s, nil
}
