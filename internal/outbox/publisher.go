package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jsoonworld/fluxpay-engine/internal/metrics"
)

// Store is the persistence contract the publisher polls. Implemented by
// internal/repository.OutboxRepository against GORM/Postgres.
type Store interface {
	ClaimPending(ctx context.Context, limit int) ([]*Event, error)
	MarkPublished(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, retryCount, maxRetries int) error
	PurgePublished(ctx context.Context, retentionDays int) (int64, error)
}

// Dispatcher publishes one event's payload to the broker.
type Dispatcher interface {
	Publish(ctx context.Context, topic, partitionKey string, payload []byte) error
}

type PublisherConfig struct {
	BatchSize            int
	PollingInterval       time.Duration
	CleanupEnabled       bool
	CleanupInterval      time.Duration
	CleanupRetentionDays int
}

// Publisher is the background loop that claims PENDING rows with
// competing-consumer safety (Store.ClaimPending locks with SKIP LOCKED),
// dispatches them to the broker, and marks the outcome. Grounded on
// nat-prohmpiriya's OutboxWorker poll/retry/cleanup loop structure,
// adapted to a single poll loop since claim already folds in retries
// (a row that fails dispatch returns to PENDING and is picked up by the
// next poll, per the engine's PROCESSING-aware outbox variant).
type Publisher struct {
	store      Store
	dispatcher Dispatcher
	cfg        PublisherConfig
	logger     *zap.Logger

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

func NewPublisher(store Store, dispatcher Dispatcher, cfg PublisherConfig, logger *zap.Logger) *Publisher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.PollingInterval <= 0 {
		cfg.PollingInterval = 100 * time.Millisecond
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Hour
	}
	if cfg.CleanupRetentionDays <= 0 {
		cfg.CleanupRetentionDays = 7
	}
	return &Publisher{store: store, dispatcher: dispatcher, cfg: cfg, logger: logger, stopCh: make(chan struct{})}
}

// Start launches the poll loop (and, if enabled, the cleanup loop) as
// background goroutines. Callers stop it via Stop on shutdown.
func (p *Publisher) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.mu.Unlock()

	p.wg.Add(1)
	go p.pollLoop(ctx)

	if p.cfg.CleanupEnabled {
		p.wg.Add(1)
		go p.cleanupLoop(ctx)
	}
}

func (p *Publisher) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	close(p.stopCh)
	p.wg.Wait()
}

func (p *Publisher) pollLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.PollingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.processBatch(ctx)
		}
	}
}

func (p *Publisher) processBatch(ctx context.Context) {
	start := time.Now()
	defer func() { metrics.RecordOutboxPublish(time.Since(start)) }()

	events, err := p.store.ClaimPending(ctx, p.cfg.BatchSize)
	if err != nil {
		p.logger.Error("outbox: failed to claim pending events", zap.Error(err))
		return
	}
	for _, ev := range events {
		if err := p.dispatcher.Publish(ctx, ev.Topic, ev.PartitionKey, ev.Payload); err != nil {
			p.logger.Warn("outbox: dispatch failed, scheduling retry",
				zap.String("event_id", ev.ID.String()), zap.Error(err))
			if markErr := p.store.MarkFailed(ctx, ev.ID, err.Error(), ev.RetryCount, ev.MaxRetries); markErr != nil {
				p.logger.Error("outbox: failed to record dispatch failure", zap.Error(markErr))
			}
			if ev.RetryCount >= ev.MaxRetries {
				metrics.OutboxDeadLettersTotal.WithLabelValues(ev.AggregateType, ev.EventType).Inc()
			}
			continue
		}
		if err := p.store.MarkPublished(ctx, ev.ID); err != nil {
			p.logger.Error("outbox: failed to mark event published", zap.Error(err))
		}
	}
}

func (p *Publisher) cleanupLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			deleted, err := p.store.PurgePublished(ctx, p.cfg.CleanupRetentionDays)
			if err != nil {
				p.logger.Error("outbox: cleanup failed", zap.Error(err))
				continue
			}
			if deleted > 0 {
				p.logger.Info("outbox: purged published events", zap.Int64("count", deleted))
			}
		}
	}
}
