package model

import (
	"time"

	"github.com/google/uuid"
)

type EventStatus string

const (
	// EventPublished marks a record as ready to claim. It is also the
	// initial state of every inserted record.
	EventPublished EventStatus = "PUBLISHED"
	// EventProcessing marks a record as exclusively owned by a claim token
	// until the claim expires.
	EventProcessing EventStatus = "PROCESSING"
	EventCompleted  EventStatus = "COMPLETED"
	EventFailed     EventStatus = "FAILED"
	// EventResubmitted stages a failed record for requeueing, keeping the
	// dead-letter sweep and the requeue sweep from racing over it in the
	// same cycle.
	EventResubmitted EventStatus = "RESUBMITTED"
	// EventDeadLetter is terminal. Only an operator replay leaves it.
	EventDeadLetter EventStatus = "DEAD_LETTER"
)

// QueuedEvent is the record shape shared by the inbox and outbox stores.
type QueuedEvent struct {
	ID                 uuid.UUID   `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	SegregationRef     string      `gorm:"not null;index" json:"segregation_ref"`
	Type               string      `gorm:"not null" json:"type"`
	Payload            JSONB       `gorm:"type:jsonb;not null" json:"payload"`
	Status             EventStatus `gorm:"type:varchar(20);not null;default:'PUBLISHED';index" json:"status"`
	PublicationDate    time.Time   `gorm:"not null;index" json:"publication_date"`
	ClaimedBy          *string     `json:"claimed_by,omitempty"`
	ClaimedAt          *time.Time  `json:"claimed_at,omitempty"`
	ClaimExpiresAt     *time.Time  `gorm:"index" json:"claim_expires_at,omitempty"`
	CompletionAttempts int         `gorm:"not null;default:0" json:"completion_attempts"`
}

// InboxEvent is an inbound record deduplicated on the external message id.
type InboxEvent struct {
	QueuedEvent `gorm:"embedded"`
	MessageID   string `gorm:"not null;uniqueIndex" json:"message_id"`
	TraceID     string `json:"trace_id,omitempty"`
}

func (InboxEvent) TableName() string {
	return "inbox_events"
}

// OutboxEvent is an outbound record bound for a broker destination.
type OutboxEvent struct {
	QueuedEvent `gorm:"embedded"`
	Target      string `gorm:"not null" json:"target"`
}

func (OutboxEvent) TableName() string {
	return "outbox_events"
}
