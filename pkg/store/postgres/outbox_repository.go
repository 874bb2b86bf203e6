package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/grantway/grantway/pkg/model"
)

// QueueOptions tune the claim behaviour of a queued-event repository.
type QueueOptions struct {
	LeaseTTL   time.Duration
	MaxRetries int
}

type OutboxRepository struct {
	db   *gorm.DB
	opts QueueOptions
}

func NewOutboxRepository(db *gorm.DB, opts QueueOptions) *OutboxRepository {
	return &OutboxRepository{db: db, opts: opts}
}

// Each claim takes at most one row so that a batch of claims never fights a
// concurrent claimer over a multi-row lock.
const outboxClaimSQL = `
UPDATE outbox_events SET status = ?, claimed_by = ?, claimed_at = ?, claim_expires_at = ?
WHERE id = (
	SELECT id FROM outbox_events
	WHERE status = ? AND claimed_by IS NULL AND completion_attempts <= ?
	ORDER BY publication_date ASC
	LIMIT 1
	FOR UPDATE SKIP LOCKED
)
RETURNING *`

// Claim leases the oldest publishable record to the given token, or returns
// nil when nothing is ready.
func (r *OutboxRepository) Claim(ctx context.Context, leaseToken string) (*model.OutboxEvent, error) {
	now := time.Now()
	expires := now.Add(r.opts.LeaseTTL)

	var event model.OutboxEvent
	result := r.db.WithContext(ctx).Raw(outboxClaimSQL,
		model.EventProcessing, leaseToken, now, expires,
		model.EventPublished, r.opts.MaxRetries,
	).Scan(&event)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &event, nil
}

func (r *OutboxRepository) Insert(ctx context.Context, events ...*model.OutboxEvent) error {
	if len(events) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(events).Error
}

func (r *OutboxRepository) MarkComplete(ctx context.Context, id uuid.UUID) error {
	return r.setStatus(ctx, id, model.EventCompleted)
}

func (r *OutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID) error {
	return r.setStatus(ctx, id, model.EventFailed)
}

func (r *OutboxRepository) setStatus(ctx context.Context, id uuid.UUID, status model.EventStatus) error {
	return r.db.WithContext(ctx).
		Model(&model.OutboxEvent{}).
		Where("id = ?", id).
		Updates(clearClaim(status)).Error
}

// ReapExpiredClaims fails any record whose claim has lapsed, making leases
// held by crashed workers recoverable.
func (r *OutboxRepository) ReapExpiredClaims(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&model.OutboxEvent{}).
		Where("status = ? AND claim_expires_at IS NOT NULL AND claim_expires_at < ?", model.EventProcessing, time.Now()).
		Updates(clearClaim(model.EventFailed))
	return result.RowsAffected, result.Error
}

func (r *OutboxRepository) ResubmitFailed(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&model.OutboxEvent{}).
		Where("status = ?", model.EventFailed).
		Updates(clearClaim(model.EventResubmitted))
	return result.RowsAffected, result.Error
}

func (r *OutboxRepository) RequeueResubmitted(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&model.OutboxEvent{}).
		Where("status = ?", model.EventResubmitted).
		Updates(map[string]interface{}{
			"status":              model.EventPublished,
			"completion_attempts": gorm.Expr("completion_attempts + 1"),
		})
	return result.RowsAffected, result.Error
}

func (r *OutboxRepository) PromoteDead(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&model.OutboxEvent{}).
		Where("completion_attempts >= ? AND status IN ?", r.opts.MaxRetries, retryableStatuses()).
		Updates(clearClaim(model.EventDeadLetter))
	return result.RowsAffected, result.Error
}

func (r *OutboxRepository) ListDeadLetters(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var events []model.OutboxEvent
	err := r.db.WithContext(ctx).
		Where("status = ?", model.EventDeadLetter).
		Order("publication_date ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

// Replay is the manual remediation path: a dead-letter record re-enters the
// queue with its attempt budget reset.
func (r *OutboxRepository) Replay(ctx context.Context, id uuid.UUID) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&model.OutboxEvent{}).
		Where("id = ? AND status = ?", id, model.EventDeadLetter).
		Updates(map[string]interface{}{
			"status":              model.EventPublished,
			"completion_attempts": 0,
			"claimed_by":          nil,
			"claimed_at":          nil,
			"claim_expires_at":    nil,
		})
	return result.RowsAffected > 0, result.Error
}

func clearClaim(status model.EventStatus) map[string]interface{} {
	return map[string]interface{}{
		"status":           status,
		"claimed_by":       nil,
		"claimed_at":       nil,
		"claim_expires_at": nil,
	}
}

func retryableStatuses() []model.EventStatus {
	return []model.EventStatus{model.EventPublished, model.EventFailed, model.EventResubmitted}
}
