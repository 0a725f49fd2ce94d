package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/junobot/juno/internal/messaging"
	"github.com/junobot/juno/internal/registry"
	"github.com/junobot/juno/pkg/logging"
)

type stubSender struct {
	mu    sync.Mutex
	sent  []string
	errFn func(recipientID string) error
}

func (s *stubSender) Send(_ context.Context, recipientID, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errFn != nil {
		if err := s.errFn(recipientID); err != nil {
			return err
		}
	}
	s.sent = append(s.sent, recipientID)
	return nil
}

func seedRegistry(t *testing.T, n int) registry.Registry {
	t.Helper()
	reg := registry.NewMemoryRegistry()
	for i := 1; i <= n; i++ {
		require.NoError(t, reg.Upsert(context.Background(), registry.Recipient{
			ID:   fmt.Sprintf("u%d", i),
			Kind: registry.KindUser,
		}))
	}
	return reg
}

func TestDispatchAllDelivered(t *testing.T) {
	reg := seedRegistry(t, 5)
	sender := &stubSender{}
	tracker := NewTracker(reg, sender, logging.Default(), WithBatch(100, time.Millisecond))

	job, err := tracker.Dispatch(context.Background(), "hello", registry.FilterAll)
	require.NoError(t, err)

	assert.Equal(t, 5, job.Sent)
	assert.Equal(t, 0, job.Failed)
	assert.Equal(t, 0, job.Skipped)
	assert.Equal(t, len(job.Targets), job.Sent+job.Failed+job.Skipped)
	assert.NotEmpty(t, job.ID)
	assert.False(t, job.CompletedAt.Before(job.StartedAt))
}

func TestDispatchEmptyTargetSet(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	sender := &stubSender{}
	tracker := NewTracker(reg, sender, logging.Default())

	job, err := tracker.Dispatch(context.Background(), "hello", registry.FilterAll)
	require.NoError(t, err)

	assert.Empty(t, job.Targets)
	assert.Equal(t, 0, job.Sent+job.Failed+job.Skipped)
	assert.False(t, job.CompletedAt.IsZero())
}

func TestDispatchPermanentlyUnreachableRemoved(t *testing.T) {
	reg := seedRegistry(t, 5)
	sender := &stubSender{
		errFn: func(recipientID string) error {
			if recipientID == "u3" {
				return fmt.Errorf("%w: bot was blocked", messaging.ErrPermanentlyUnreachable)
			}
			return nil
		},
	}
	tracker := NewTracker(reg, sender, logging.Default(), WithBatch(100, time.Millisecond))

	job, err := tracker.Dispatch(context.Background(), "hello", registry.FilterAll)
	require.NoError(t, err)

	assert.Equal(t, 4, job.Sent)
	assert.Equal(t, 0, job.Failed)
	assert.Equal(t, 1, job.Skipped)

	remaining, err := reg.ListRecipients(context.Background(), registry.FilterAll)
	require.NoError(t, err)
	assert.Len(t, remaining, 4)
	for _, r := range remaining {
		assert.NotEqual(t, "u3", r.ID)
	}
}

func TestDispatchTransientFailureDoesNotAbort(t *testing.T) {
	reg := seedRegistry(t, 4)
	sender := &stubSender{
		errFn: func(recipientID string) error {
			if recipientID == "u2" {
				return errors.New("telegram: api error 500")
			}
			return nil
		},
	}
	tracker := NewTracker(reg, sender, logging.Default(), WithBatch(100, time.Millisecond))

	job, err := tracker.Dispatch(context.Background(), "hello", registry.FilterAll)
	require.NoError(t, err)

	assert.Equal(t, 3, job.Sent)
	assert.Equal(t, 1, job.Failed)
	assert.Equal(t, 0, job.Skipped)

	// Failed recipients stay registered.
	remaining, err := reg.ListRecipients(context.Background(), registry.FilterAll)
	require.NoError(t, err)
	assert.Len(t, remaining, 4)
}

func TestDispatchFilterScopesTargets(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	ctx := context.Background()
	require.NoError(t, reg.Upsert(ctx, registry.Recipient{ID: "u1", Kind: registry.KindUser}))
	require.NoError(t, reg.Upsert(ctx, registry.Recipient{ID: "u2", Kind: registry.KindUser}))
	require.NoError(t, reg.Upsert(ctx, registry.Recipient{ID: "g1", Kind: registry.KindGroup}))

	sender := &stubSender{}
	tracker := NewTracker(reg, sender, logging.Default())

	job, err := tracker.Dispatch(ctx, "users only", registry.FilterUsers)
	require.NoError(t, err)

	assert.Len(t, job.Targets, 2)
	assert.Equal(t, 2, job.Sent)
	for _, id := range sender.sent {
		assert.NotEqual(t, "g1", id)
	}
}

func TestDispatchBoundedConcurrency(t *testing.T) {
	reg := seedRegistry(t, 12)

	var (
		mu      sync.Mutex
		current int
		peak    int
	)
	sender := senderFunc(func(ctx context.Context, recipientID, text string) error {
		mu.Lock()
		current++
		if current > peak {
			peak = current
		}
		mu.Unlock()

		time.Sleep(10 * time.Millisecond)

		mu.Lock()
		current--
		mu.Unlock()
		return nil
	})

	tracker := NewTracker(reg, sender, logging.Default(),
		WithConcurrency(3),
		WithBatch(100, time.Millisecond),
	)

	job, err := tracker.Dispatch(context.Background(), "hello", registry.FilterAll)
	require.NoError(t, err)

	assert.Equal(t, 12, job.Sent)
	assert.LessOrEqual(t, peak, 3)
}

type senderFunc func(ctx context.Context, recipientID, text string) error

func (f senderFunc) Send(ctx context.Context, recipientID, text string) error {
	return f(ctx, recipientID, text)
}
