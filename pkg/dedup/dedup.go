// Package dedup provides the fast-path duplicate filter in front of the
// inbox store's unique message-id constraint.
package dedup

import (
	"context"
	"sync"
	"time"
)

type Deduper interface {
	Seen(ctx context.Context, messageID string) (bool, error)
	MarkSeen(ctx context.Context, messageID string) error
}

type MemoryDeduper struct {
	mu      sync.Mutex
	entries map[string]time.Time
	ttl     time.Duration
}

func NewMemoryDeduper(ttl time.Duration) *MemoryDeduper {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &MemoryDeduper{
		entries: make(map[string]time.Time),
		ttl:     ttl,
	}
}

func (d *MemoryDeduper) Seen(ctx context.Context, messageID string) (bool, error) {
	if messageID == "" {
		return false, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	d.cleanupLocked(now)

	seenAt, ok := d.entries[messageID]
	if !ok {
		return false, nil
	}
	if now.Sub(seenAt) > d.ttl {
		delete(d.entries, messageID)
		return false, nil
	}
	return true, nil
}

func (d *MemoryDeduper) MarkSeen(ctx context.Context, messageID string) error {
	if messageID == "" {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.entries[messageID] = time.Now()
	return nil
}

func (d *MemoryDeduper) cleanupLocked(now time.Time) {
	for messageID, seenAt := range d.entries {
		if now.Sub(seenAt) > d.ttl {
			delete(d.entries, messageID)
		}
	}
}
