// Package outbox drains published outbox records to the external broker.
package outbox

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/grantway/grantway/pkg/broker"
	"github.com/grantway/grantway/pkg/metrics"
	"github.com/grantway/grantway/pkg/model"
)

// Repository is the outbox store contract. Claim leases at most one record
// per call; the sweeps are idempotent bulk updates.
type Repository interface {
	Claim(ctx context.Context, leaseToken string) (*model.OutboxEvent, error)
	MarkComplete(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID) error
	ReapExpiredClaims(ctx context.Context) (int64, error)
	ResubmitFailed(ctx context.Context) (int64, error)
	RequeueResubmitted(ctx context.Context) (int64, error)
	PromoteDead(ctx context.Context) (int64, error)
}

type Engine struct {
	repo         Repository
	publisher    broker.Publisher
	logger       *zap.Logger
	pollInterval time.Duration
	batchSize    int
	stopOnce     sync.Once
	stopCh       chan struct{}
}

func NewEngine(repo Repository, publisher broker.Publisher, logger *zap.Logger, pollInterval time.Duration, batchSize int) *Engine {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 10
	}
	return &Engine{
		repo:         repo,
		publisher:    publisher,
		logger:       logger,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		stopCh:       make(chan struct{}),
	}
}

// Run polls until the context is cancelled or Stop is called. The current
// tick always finishes; in-flight publishes are never aborted mid-call.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("outbox engine starting",
		zap.Duration("poll_interval", e.pollInterval),
		zap.Int("batch_size", e.batchSize),
	)

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	e.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("outbox engine shutting down")
			return ctx.Err()
		case <-e.stopCh:
			e.logger.Info("outbox engine stopped")
			return nil
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

// Stop requests a cooperative shutdown.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopCh)
	})
}

func (e *Engine) tick(ctx context.Context) {
	leaseToken := uuid.NewString()

	claimed := e.claimBatch(ctx, leaseToken)
	if len(claimed) > 0 {
		var wg sync.WaitGroup
		for _, event := range claimed {
			wg.Add(1)
			go func(event *model.OutboxEvent) {
				defer wg.Done()
				e.publish(ctx, event)
			}(event)
		}
		wg.Wait()
	}

	e.maintain(ctx)
}

// claimBatch issues up to batchSize single-record claims. Claims stop at
// the first empty result since records come back oldest first.
func (e *Engine) claimBatch(ctx context.Context, leaseToken string) []*model.OutboxEvent {
	var claimed []*model.OutboxEvent
	for len(claimed) < e.batchSize {
		event, err := e.repo.Claim(ctx, leaseToken)
		if err != nil {
			e.logger.Warn("failed to claim outbox record", zap.Error(err))
			break
		}
		if event == nil {
			break
		}
		metrics.EventsClaimed.WithLabelValues("outbox").Inc()
		claimed = append(claimed, event)
	}
	return claimed
}

// publish forwards one record to the broker and closes the loop. A publish
// failure marks the record failed and never escapes the tick.
func (e *Engine) publish(ctx context.Context, event *model.OutboxEvent) {
	payload, err := json.Marshal(event.Payload)
	if err == nil {
		err = e.publisher.Publish(ctx, event.Target, payload, event.SegregationRef)
	}

	if err != nil {
		e.logger.Warn("failed to publish outbox record",
			zap.String("id", event.ID.String()),
			zap.String("target", event.Target),
			zap.Error(err),
		)
		metrics.EventsFailed.WithLabelValues("outbox").Inc()
		if err := e.repo.MarkFailed(ctx, event.ID); err != nil {
			e.logger.Warn("failed to mark outbox record failed", zap.String("id", event.ID.String()), zap.Error(err))
		}
		return
	}

	metrics.EventsCompleted.WithLabelValues("outbox").Inc()
	if err := e.repo.MarkComplete(ctx, event.ID); err != nil {
		e.logger.Warn("failed to mark outbox record complete", zap.String("id", event.ID.String()), zap.Error(err))
	}
}

// maintain runs the bulk sweeps regardless of how the claims went.
func (e *Engine) maintain(ctx context.Context) {
	if _, err := e.repo.ResubmitFailed(ctx); err != nil {
		e.logger.Warn("failed to resubmit failed outbox records", zap.Error(err))
	}
	if _, err := e.repo.RequeueResubmitted(ctx); err != nil {
		e.logger.Warn("failed to requeue resubmitted outbox records", zap.Error(err))
	}
	dead, err := e.repo.PromoteDead(ctx)
	if err != nil {
		e.logger.Warn("failed to promote dead outbox records", zap.Error(err))
	} else if dead > 0 {
		metrics.EventsDeadLettered.WithLabelValues("outbox").Add(float64(dead))
		e.logger.Warn("outbox records promoted to dead letter", zap.Int64("count", dead))
	}
	if _, err := e.repo.ReapExpiredClaims(ctx); err != nil {
		e.logger.Warn("failed to reap expired outbox claims", zap.Error(err))
	}
}
