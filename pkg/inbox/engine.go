// Package inbox applies inbound records to case state in publication order
// within each segregation key.
package inbox

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/grantway/grantway/pkg/metrics"
	"github.com/grantway/grantway/pkg/model"
)

// Repository is the inbox store contract. Claims are scoped to a single
// segregation key whose lease the engine holds.
type Repository interface {
	Claim(ctx context.Context, leaseToken, segregationRef string) (*model.InboxEvent, error)
	NextSegregationRef(ctx context.Context, excluded []string) (string, error)
	MarkComplete(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID) error
	ReapExpiredClaims(ctx context.Context) (int64, error)
	ResubmitFailed(ctx context.Context) (int64, error)
	RequeueResubmitted(ctx context.Context) (int64, error)
	PromoteDead(ctx context.Context) (int64, error)
}

// LeaseStore serializes all processing for one segregation key across every
// engine replica. Without it two replicas could claim different records of
// the same key and apply them out of publication order.
type LeaseStore interface {
	Acquire(ctx context.Context, actor, segregationRef string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, actor, segregationRef string) error
	ListHeld(ctx context.Context, actor string) ([]string, error)
	ReapStale(ctx context.Context, actor string, ttl time.Duration) (int64, error)
}

type Engine struct {
	repo         Repository
	leases       LeaseStore
	dispatcher   *Dispatcher
	logger       *zap.Logger
	actor        string
	pollInterval time.Duration
	batchSize    int
	leaseTTL     time.Duration
	stopOnce     sync.Once
	stopCh       chan struct{}
}

type Options struct {
	Actor        string
	PollInterval time.Duration
	BatchSize    int
	LeaseTTL     time.Duration
}

func NewEngine(repo Repository, leases LeaseStore, dispatcher *Dispatcher, logger *zap.Logger, opts Options) *Engine {
	if opts.Actor == "" {
		opts.Actor = "inbox-engine"
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = time.Minute
	}
	return &Engine{
		repo:         repo,
		leases:       leases,
		dispatcher:   dispatcher,
		logger:       logger,
		actor:        opts.Actor,
		pollInterval: opts.PollInterval,
		batchSize:    opts.BatchSize,
		leaseTTL:     opts.LeaseTTL,
		stopCh:       make(chan struct{}),
	}
}

func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("inbox engine starting",
		zap.String("actor", e.actor),
		zap.Duration("poll_interval", e.pollInterval),
		zap.Int("batch_size", e.batchSize),
		zap.Duration("lease_ttl", e.leaseTTL),
	)

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	e.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("inbox engine shutting down")
			return ctx.Err()
		case <-e.stopCh:
			e.logger.Info("inbox engine stopped")
			return nil
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopCh)
	})
}

func (e *Engine) tick(ctx context.Context) {
	reaped, err := e.leases.ReapStale(ctx, e.actor, e.leaseTTL)
	if err != nil {
		e.logger.Warn("failed to reap stale leases", zap.Error(err))
	} else if reaped > 0 {
		metrics.LeasesReaped.Add(float64(reaped))
		e.logger.Warn("stale segregation leases released", zap.Int64("count", reaped))
	}

	e.drainNextKey(ctx)
	e.maintain(ctx)
}

// drainNextKey serves at most one segregation key per tick: the one with
// the oldest waiting record that no replica currently holds.
func (e *Engine) drainNextKey(ctx context.Context) {
	held, err := e.leases.ListHeld(ctx, e.actor)
	if err != nil {
		e.logger.Warn("failed to list held leases", zap.Error(err))
		return
	}

	segregationRef, err := e.repo.NextSegregationRef(ctx, held)
	if err != nil {
		e.logger.Warn("failed to select next segregation key", zap.Error(err))
		return
	}
	if segregationRef == "" {
		return
	}

	acquired, err := e.leases.Acquire(ctx, e.actor, segregationRef, e.leaseTTL)
	if err != nil {
		e.logger.Warn("failed to acquire lease", zap.String("segregation_ref", segregationRef), zap.Error(err))
		return
	}
	if !acquired {
		// Lost the race to another replica; skip the key this cycle.
		return
	}
	metrics.LeasesAcquired.Inc()
	defer func() {
		if err := e.leases.Release(ctx, e.actor, segregationRef); err != nil {
			e.logger.Warn("failed to release lease", zap.String("segregation_ref", segregationRef), zap.Error(err))
		}
	}()

	leaseToken := uuid.NewString()
	for processed := 0; processed < e.batchSize; processed++ {
		event, err := e.repo.Claim(ctx, leaseToken, segregationRef)
		if err != nil {
			e.logger.Warn("failed to claim inbox record", zap.String("segregation_ref", segregationRef), zap.Error(err))
			return
		}
		if event == nil {
			return
		}
		metrics.EventsClaimed.WithLabelValues("inbox").Inc()

		// Records of one key are applied strictly one at a time; a failure
		// parks the rest of the key until the failed record cycles back.
		if !e.handle(ctx, event) {
			return
		}
	}
}

func (e *Engine) handle(ctx context.Context, event *model.InboxEvent) bool {
	started := time.Now()
	err := e.dispatcher.Dispatch(ctx, event)
	metrics.HandlerDuration.WithLabelValues(event.Type).Observe(time.Since(started).Seconds())

	if err != nil {
		e.logger.Warn("inbox handler failed",
			zap.String("id", event.ID.String()),
			zap.String("type", event.Type),
			zap.String("segregation_ref", event.SegregationRef),
			zap.Error(err),
		)
		metrics.EventsFailed.WithLabelValues("inbox").Inc()
		if err := e.repo.MarkFailed(ctx, event.ID); err != nil {
			e.logger.Warn("failed to mark inbox record failed", zap.String("id", event.ID.String()), zap.Error(err))
		}
		return false
	}

	metrics.EventsCompleted.WithLabelValues("inbox").Inc()
	if err := e.repo.MarkComplete(ctx, event.ID); err != nil {
		e.logger.Warn("failed to mark inbox record complete", zap.String("id", event.ID.String()), zap.Error(err))
	}
	return true
}

func (e *Engine) maintain(ctx context.Context) {
	if _, err := e.repo.ResubmitFailed(ctx); err != nil {
		e.logger.Warn("failed to resubmit failed inbox records", zap.Error(err))
	}
	if _, err := e.repo.RequeueResubmitted(ctx); err != nil {
		e.logger.Warn("failed to requeue resubmitted inbox records", zap.Error(err))
	}
	dead, err := e.repo.PromoteDead(ctx)
	if err != nil {
		e.logger.Warn("failed to promote dead inbox records", zap.Error(err))
	} else if dead > 0 {
		metrics.EventsDeadLettered.WithLabelValues("inbox").Add(float64(dead))
		e.logger.Warn("inbox records promoted to dead letter", zap.Int64("count", dead))
	}
	if _, err := e.repo.ReapExpiredClaims(ctx); err != nil {
		e.logger.Warn("failed to reap expired inbox claims", zap.Error(err))
	}
}
