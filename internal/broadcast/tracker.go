package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/junobot/juno/internal/messaging"
	"github.com/junobot/juno/internal/observability/metrics"
	"github.com/junobot/juno/internal/registry"
	"github.com/junobot/juno/pkg/logging"
)

// Job is the record of one broadcast dispatch. Counts are final once
// Dispatch returns: Sent + Failed + Skipped always equals len(Targets).
type Job struct {
	ID          string
	Filter      string
	Targets     []registry.Recipient
	Sent        int
	Failed      int
	Skipped     int
	StartedAt   time.Time
	CompletedAt time.Time
}

// Elapsed reports the wall time the dispatch took.
func (j *Job) Elapsed() time.Duration {
	return j.CompletedAt.Sub(j.StartedAt)
}

// Tracker fans one message out to every recipient matching a filter and
// keeps per-recipient outcome bookkeeping.
type Tracker struct {
	registry    registry.Registry
	sender      messaging.Sender
	logger      *logging.Logger
	metrics     *metrics.RelayMetrics
	concurrency int64
	batchSize   int
	batchDelay  time.Duration
}

type Option func(*Tracker)

func WithConcurrency(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.concurrency = int64(n)
		}
	}
}

func WithBatch(size int, delay time.Duration) Option {
	return func(t *Tracker) {
		if size > 0 {
			t.batchSize = size
		}
		if delay > 0 {
			t.batchDelay = delay
		}
	}
}

func WithMetrics(m *metrics.RelayMetrics) Option {
	return func(t *Tracker) { t.metrics = m }
}

func NewTracker(reg registry.Registry, sender messaging.Sender, logger *logging.Logger, opts ...Option) *Tracker {
	if reg == nil {
		panic("broadcast: registry is required")
	}
	if sender == nil {
		panic("broadcast: sender is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	t := &Tracker{
		registry:    reg,
		sender:      sender,
		logger:      logger,
		concurrency: 20,
		batchSize:   25,
		batchDelay:  time.Second,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Dispatch snapshots the recipient set for the filter, then delivers the
// message to every target with bounded concurrency. Recipients that are
// permanently unreachable are counted as skipped and removed from the
// registry; other send errors count as failed and never abort the job.
func (t *Tracker) Dispatch(ctx context.Context, message string, filter string) (*Job, error) {
	targets, err := t.registry.ListRecipients(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("broadcast: failed to list recipients: %w", err)
	}

	job := &Job{
		ID:        uuid.NewString(),
		Filter:    filter,
		Targets:   targets,
		StartedAt: time.Now().UTC(),
	}

	t.logger.Info("broadcast started",
		"job_id", job.ID,
		"filter", filter,
		"targets", len(targets),
	)

	sem := semaphore.NewWeighted(t.concurrency)
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)

	for i, target := range targets {
		if i > 0 && t.batchSize > 0 && i%t.batchSize == 0 {
			select {
			case <-ctx.Done():
			case <-time.After(t.batchDelay):
			}
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			// Context gone: every remaining target still gets an outcome.
			mu.Lock()
			job.Failed++
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(r registry.Recipient) {
			defer wg.Done()
			defer sem.Release(1)

			outcome := t.deliver(ctx, r, message)
			mu.Lock()
			switch outcome {
			case outcomeSent:
				job.Sent++
			case outcomeSkipped:
				job.Skipped++
			default:
				job.Failed++
			}
			mu.Unlock()
		}(target)
	}

	wg.Wait()
	job.CompletedAt = time.Now().UTC()

	t.metrics.ObserveBroadcastOutcome("sent", job.Sent)
	t.metrics.ObserveBroadcastOutcome("failed", job.Failed)
	t.metrics.ObserveBroadcastOutcome("skipped", job.Skipped)
	t.metrics.ObserveBroadcastDuration(job.Elapsed().Seconds())

	t.logger.Info("broadcast completed",
		"job_id", job.ID,
		"sent", job.Sent,
		"failed", job.Failed,
		"skipped", job.Skipped,
		"duration_ms", job.Elapsed().Milliseconds(),
	)
	return job, nil
}

type outcome int

const (
	outcomeSent outcome = iota
	outcomeFailed
	outcomeSkipped
)

func (t *Tracker) deliver(ctx context.Context, r registry.Recipient, message string) outcome {
	err := t.sender.Send(ctx, r.ID, message)
	if err == nil {
		return outcomeSent
	}
	if errors.Is(err, messaging.ErrPermanentlyUnreachable) {
		if remErr := t.registry.Remove(ctx, r.ID); remErr != nil {
			t.logger.Warn("failed to remove unreachable recipient",
				"recipient_id", r.ID,
				"error", remErr.Error(),
			)
		}
		t.logger.Info("recipient unreachable, dropped from registry", "recipient_id", r.ID)
		return outcomeSkipped
	}
	t.logger.Warn("broadcast delivery failed",
		"recipient_id", r.ID,
		"error", err.Error(),
	)
	return outcomeFailed
}
