package model

import (
	"time"

	"github.com/google/uuid"
)

// Lease is an exclusive lock on one segregation key for one actor. At most
// one unexpired lock may exist per (actor, segregation_ref) pair; a lock
// whose LockedAt is older than the actor's TTL is eligible for forced
// release.
type Lease struct {
	ID             uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	Actor          string    `gorm:"not null;uniqueIndex:idx_lease_actor_ref"`
	SegregationRef string    `gorm:"not null;uniqueIndex:idx_lease_actor_ref"`
	Locked         bool      `gorm:"not null;default:false"`
	LockedAt       *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (Lease) TableName() string {
	return "leases"
}
