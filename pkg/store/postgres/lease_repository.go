package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/grantway/grantway/pkg/model"
)

type LeaseRepository struct {
	db *gorm.DB
}

func NewLeaseRepository(db *gorm.DB) *LeaseRepository {
	return &LeaseRepository{db: db}
}

// The upsert only wins when no unexpired lock exists, so acquisition is a
// single atomic round trip.
const leaseAcquireSQL = `
INSERT INTO leases (id, actor, segregation_ref, locked, locked_at, created_at, updated_at)
VALUES (?, ?, ?, true, ?, ?, ?)
ON CONFLICT (actor, segregation_ref) DO UPDATE
SET locked = true, locked_at = EXCLUDED.locked_at, updated_at = EXCLUDED.updated_at
WHERE leases.locked = false OR leases.locked_at < ?`

// Acquire is a non-blocking attempt to lock (actor, segregationRef).
// Callers that lose must skip the key this cycle, never wait.
func (r *LeaseRepository) Acquire(ctx context.Context, actor, segregationRef string, ttl time.Duration) (bool, error) {
	now := time.Now()
	stale := now.Add(-ttl)

	result := r.db.WithContext(ctx).Exec(leaseAcquireSQL,
		uuid.New(), actor, segregationRef, now, now, now, stale,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *LeaseRepository) Release(ctx context.Context, actor, segregationRef string) error {
	return r.db.WithContext(ctx).
		Model(&model.Lease{}).
		Where("actor = ? AND segregation_ref = ?", actor, segregationRef).
		Updates(map[string]interface{}{
			"locked":    false,
			"locked_at": nil,
		}).Error
}

// ListHeld returns every segregation key the actor currently has locked,
// across all of its replicas.
func (r *LeaseRepository) ListHeld(ctx context.Context, actor string) ([]string, error) {
	var refs []string
	err := r.db.WithContext(ctx).
		Model(&model.Lease{}).
		Where("actor = ? AND locked = true", actor).
		Pluck("segregation_ref", &refs).Error
	return refs, err
}

// ReapStale force-releases locks held longer than ttl. It runs every poll
// cycle so a crashed holder cannot wedge a segregation key.
func (r *LeaseRepository) ReapStale(ctx context.Context, actor string, ttl time.Duration) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&model.Lease{}).
		Where("actor = ? AND locked = true AND locked_at < ?", actor, time.Now().Add(-ttl)).
		Updates(map[string]interface{}{
			"locked":    false,
			"locked_at": nil,
		})
	return result.RowsAffected, result.Error
}
