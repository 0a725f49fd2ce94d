package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/junobot/juno/internal/messaging"
	"github.com/junobot/juno/internal/observability/metrics"
	"github.com/junobot/juno/pkg/logging"
)

const (
	defaultWorkerCount   = 1
	defaultWaitSeconds   = 2
	defaultBatchSize     = 5
	maxWaitSeconds       = 20
	maxReceiveBatchSize  = 10
	handleTimeoutSeconds = 90
)

// Worker consumes inbound messages from the queue, runs them through the
// service, and delivers replies. It also owns the periodic context sweep.
type Worker struct {
	service  *Service
	queue    queueClient
	sender   messaging.Sender
	contexts *ContextStore
	metrics  *metrics.RelayMetrics
	logger   *logging.Logger

	cfg workerConfig
	wg  sync.WaitGroup
}

type workerConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
	sweepEvery       time.Duration
}

// WorkerOption customizes worker behavior.
type WorkerOption func(*workerConfig)

// WithWorkerCount sets the number of concurrent consumer goroutines.
func WithWorkerCount(count int) WorkerOption {
	return func(cfg *workerConfig) {
		if count > 0 {
			cfg.workers = count
		}
	}
}

// WithReceiveWaitSeconds sets the queue long-poll wait duration.
func WithReceiveWaitSeconds(seconds int) WorkerOption {
	return func(cfg *workerConfig) {
		if seconds < 0 {
			return
		}
		if seconds > maxWaitSeconds {
			seconds = maxWaitSeconds
		}
		cfg.receiveWaitSecs = seconds
	}
}

// WithReceiveBatchSize sets how many messages to fetch per poll.
func WithReceiveBatchSize(size int) WorkerOption {
	return func(cfg *workerConfig) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatchSize {
			size = maxReceiveBatchSize
		}
		cfg.receiveBatchSize = size
	}
}

// WithSweepInterval sets how often expired conversation contexts are swept.
func WithSweepInterval(every time.Duration) WorkerOption {
	return func(cfg *workerConfig) {
		if every > 0 {
			cfg.sweepEvery = every
		}
	}
}

func NewWorker(service *Service, queue queueClient, sender messaging.Sender, contexts *ContextStore, m *metrics.RelayMetrics, logger *logging.Logger, opts ...WorkerOption) *Worker {
	if service == nil {
		panic("conversation: service is required")
	}
	if queue == nil {
		panic("conversation: queue is required")
	}
	if sender == nil {
		panic("conversation: sender is required")
	}
	if contexts == nil {
		panic("conversation: context store is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	cfg := workerConfig{
		workers:          defaultWorkerCount,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
		sweepEvery:       time.Hour,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Worker{
		service:  service,
		queue:    queue,
		sender:   sender,
		contexts: contexts,
		metrics:  m,
		logger:   logger,
		cfg:      cfg,
	}
}

// Start launches consumer goroutines and the sweep loop until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.cfg.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i+1)
	}

	w.wg.Add(1)
	go w.sweepLoop(ctx)
}

// Wait blocks until all worker goroutines exit.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()
	w.logger.Debug("relay worker started", "worker_id", workerID)

	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("relay worker stopping", "worker_id", workerID)
			return
		default:
		}

		messages, err := w.queue.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.logger.Error("failed to receive inbound messages", "error", err, "worker_id", workerID)
			time.Sleep(backoff)
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			w.handleMessage(ctx, msg)
		}
	}
}

func (w *Worker) handleMessage(ctx context.Context, msg queueMessage) {
	var payload queuePayload
	if err := json.Unmarshal([]byte(msg.Body), &payload); err != nil {
		w.logger.Error("failed to decode inbound payload", "error", err)
		w.deleteMessage(context.Background(), msg.ReceiptHandle)
		return
	}

	handleCtx, cancel := context.WithTimeout(ctx, handleTimeoutSeconds*time.Second)
	defer cancel()

	reply, err := w.service.HandleMessage(handleCtx, payload.Inbound)
	if err != nil {
		w.logger.Error("failed to process inbound message",
			"payload_id", payload.ID,
			"conversation_id", payload.Inbound.ConversationID,
			"error", err,
		)
		w.deleteMessage(context.Background(), msg.ReceiptHandle)
		return
	}

	if reply.Text != "" {
		if err := w.sender.Send(handleCtx, reply.RecipientID, reply.Text); err != nil {
			w.logger.Error("failed to deliver reply",
				"recipient_id", reply.RecipientID,
				"error", err,
			)
		}
	}

	w.deleteMessage(context.Background(), msg.ReceiptHandle)
}

func (w *Worker) deleteMessage(ctx context.Context, receiptHandle string) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := w.queue.Delete(ctx, receiptHandle); err != nil {
		w.logger.Warn("failed to delete queue message", "error", err)
	}
}

func (w *Worker) sweepLoop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			removed := w.contexts.SweepExpired(now)
			w.metrics.ObserveContextsSwept(removed)
			if removed > 0 {
				w.logger.Info("swept expired conversation contexts", "removed", removed)
			}
		}
	}
}
