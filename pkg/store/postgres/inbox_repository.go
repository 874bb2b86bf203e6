package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/grantway/grantway/pkg/model"
)

type InboxRepository struct {
	db   *gorm.DB
	opts QueueOptions
}

func NewInboxRepository(db *gorm.DB, opts QueueOptions) *InboxRepository {
	return &InboxRepository{db: db, opts: opts}
}

const inboxClaimSQL = `
UPDATE inbox_events SET status = ?, claimed_by = ?, claimed_at = ?, claim_expires_at = ?
WHERE id = (
	SELECT id FROM inbox_events
	WHERE status = ? AND claimed_by IS NULL AND completion_attempts <= ? AND segregation_ref = ?
	ORDER BY publication_date ASC
	LIMIT 1
	FOR UPDATE SKIP LOCKED
)
RETURNING *`

// Claim leases the oldest ready record of one segregation key. The caller
// must already hold the key's lease.
func (r *InboxRepository) Claim(ctx context.Context, leaseToken, segregationRef string) (*model.InboxEvent, error) {
	now := time.Now()
	expires := now.Add(r.opts.LeaseTTL)

	var event model.InboxEvent
	result := r.db.WithContext(ctx).Raw(inboxClaimSQL,
		model.EventProcessing, leaseToken, now, expires,
		model.EventPublished, r.opts.MaxRetries, segregationRef,
	).Scan(&event)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &event, nil
}

// NextSegregationRef picks the segregation key with the oldest waiting
// record, skipping keys in excluded. Empty string means no key is ready.
func (r *InboxRepository) NextSegregationRef(ctx context.Context, excluded []string) (string, error) {
	query := r.db.WithContext(ctx).
		Model(&model.InboxEvent{}).
		Where("status = ? AND claimed_by IS NULL AND completion_attempts <= ?", model.EventPublished, r.opts.MaxRetries)
	if len(excluded) > 0 {
		query = query.Where("segregation_ref NOT IN ?", excluded)
	}

	var refs []string
	err := query.
		Order("publication_date ASC").
		Limit(1).
		Pluck("segregation_ref", &refs).Error
	if err != nil {
		return "", err
	}
	if len(refs) == 0 {
		return "", nil
	}
	return refs[0], nil
}

// InsertIfAbsent appends the record unless its message id was seen before.
// Duplicate delivery is a no-op, which is what makes ingestion idempotent.
func (r *InboxRepository) InsertIfAbsent(ctx context.Context, event *model.InboxEvent) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "message_id"}},
			DoNothing: true,
		}).
		Create(event)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *InboxRepository) MarkComplete(ctx context.Context, id uuid.UUID) error {
	return r.setStatus(ctx, id, model.EventCompleted)
}

func (r *InboxRepository) MarkFailed(ctx context.Context, id uuid.UUID) error {
	return r.setStatus(ctx, id, model.EventFailed)
}

func (r *InboxRepository) setStatus(ctx context.Context, id uuid.UUID, status model.EventStatus) error {
	return r.db.WithContext(ctx).
		Model(&model.InboxEvent{}).
		Where("id = ?", id).
		Updates(clearClaim(status)).Error
}

func (r *InboxRepository) ReapExpiredClaims(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&model.InboxEvent{}).
		Where("status = ? AND claim_expires_at IS NOT NULL AND claim_expires_at < ?", model.EventProcessing, time.Now()).
		Updates(clearClaim(model.EventFailed))
	return result.RowsAffected, result.Error
}

func (r *InboxRepository) ResubmitFailed(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&model.InboxEvent{}).
		Where("status = ?", model.EventFailed).
		Updates(clearClaim(model.EventResubmitted))
	return result.RowsAffected, result.Error
}

func (r *InboxRepository) RequeueResubmitted(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&model.InboxEvent{}).
		Where("status = ?", model.EventResubmitted).
		Updates(map[string]interface{}{
			"status":              model.EventPublished,
			"completion_attempts": gorm.Expr("completion_attempts + 1"),
		})
	return result.RowsAffected, result.Error
}

func (r *InboxRepository) PromoteDead(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&model.InboxEvent{}).
		Where("completion_attempts >= ? AND status IN ?", r.opts.MaxRetries, retryableStatuses()).
		Updates(clearClaim(model.EventDeadLetter))
	return result.RowsAffected, result.Error
}

func (r *InboxRepository) ListDeadLetters(ctx context.Context, limit int) ([]model.InboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var events []model.InboxEvent
	err := r.db.WithContext(ctx).
		Where("status = ?", model.EventDeadLetter).
		Order("publication_date ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

func (r *InboxRepository) Replay(ctx context.Context, id uuid.UUID) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&model.InboxEvent{}).
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
