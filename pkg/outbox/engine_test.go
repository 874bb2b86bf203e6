package outbox

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/grantway/grantway/pkg/model"
)

type fakeRepo struct {
	mu         sync.Mutex
	events     []*model.OutboxEvent
	maxRetries int
	claimErr   error
}

func newFakeRepo(maxRetries int) *fakeRepo {
	return &fakeRepo{maxRetries: maxRetries}
}

func (r *fakeRepo) add(target, segregationRef string, payload model.JSONB) *model.OutboxEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	event := &model.OutboxEvent{
		QueuedEvent: model.QueuedEvent{
			ID:              uuid.New(),
			SegregationRef:  segregationRef,
			Type:            "CASE_STATUS_CHANGED",
			Payload:         payload,
			Status:          model.EventPublished,
			PublicationDate: time.Now(),
		},
		Target: target,
	}
	r.events = append(r.events, event)
	return event
}

func (r *fakeRepo) get(id uuid.UUID) *model.OutboxEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, event := range r.events {
		if event.ID == id {
			return event
		}
	}
	return nil
}

func (r *fakeRepo) Claim(ctx context.Context, leaseToken string) (*model.OutboxEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.claimErr != nil {
		return nil, r.claimErr
	}
	var oldest *model.OutboxEvent
	for _, event := range r.events {
		if event.Status != model.EventPublished || event.CompletionAttempts > r.maxRetries {
			continue
		}
		if oldest == nil || event.PublicationDate.Before(oldest.PublicationDate) {
			oldest = event
		}
	}
	if oldest == nil {
		return nil, nil
	}
	now := time.Now()
	expires := now.Add(time.Minute)
	oldest.Status = model.EventProcessing
	oldest.ClaimedBy = &leaseToken
	oldest.ClaimedAt = &now
	oldest.ClaimExpiresAt = &expires
	return oldest, nil
}

func (r *fakeRepo) setStatus(id uuid.UUID, status model.EventStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, event := range r.events {
		if event.ID == id {
			event.Status = status
			event.ClaimedBy = nil
			event.ClaimedAt = nil
			event.ClaimExpiresAt = nil
			return nil
		}
	}
	return errors.New("record not found")
}

func (r *fakeRepo) MarkComplete(ctx context.Context, id uuid.UUID) error {
	return r.setStatus(id, model.EventCompleted)
}

func (r *fakeRepo) MarkFailed(ctx context.Context, id uuid.UUID) error {
	return r.setStatus(id, model.EventFailed)
}

func (r *fakeRepo) ReapExpiredClaims(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	var count int64
	for _, event := range r.events {
		if event.Status == model.EventProcessing && event.ClaimExpiresAt != nil && event.ClaimExpiresAt.Before(now) {
			event.Status = model.EventFailed
			event.ClaimedBy = nil
			event.ClaimedAt = nil
			event.ClaimExpiresAt = nil
			count++
		}
	}
	return count, nil
}

func (r *fakeRepo) ResubmitFailed(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, event := range r.events {
		if event.Status == model.EventFailed {
			event.Status = model.EventResubmitted
			count++
		}
	}
	return count, nil
}

func (r *fakeRepo) RequeueResubmitted(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, event := range r.events {
		if event.Status == model.EventResubmitted {
			event.Status = model.EventPublished
			event.CompletionAttempts++
			count++
		}
	}
	return count, nil
}

func (r *fakeRepo) PromoteDead(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, event := range r.events {
		switch event.Status {
		case model.EventPublished, model.EventFailed, model.EventResubmitted:
			if event.CompletionAttempts >= r.maxRetries {
				event.Status = model.EventDeadLetter
				count++
			}
		}
	}
	return count, nil
}

type published struct {
	target         string
	payload        string
	segregationRef string
}

type fakePublisher struct {
	mu       sync.Mutex
	sent     []published
	failWith map[string]error
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{failWith: make(map[string]error)}
}

func (p *fakePublisher) Publish(ctx context.Context, target string, payload []byte, segregationRef string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failWith[segregationRef]; err != nil {
		return err
	}
	p.sent = append(p.sent, published{target: target, payload: string(payload), segregationRef: segregationRef})
	return nil
}

func TestTickPublishesAndCompletes(t *testing.T) {
	repo := newFakeRepo(3)
	event := repo.add("grantway.case.events", "GRANT-1-STD", model.JSONB{"case_ref": "GRANT-1"})

	publisher := newFakePublisher()
	engine := NewEngine(repo, publisher, zap.NewNop(), time.Second, 10)

	engine.tick(context.Background())

	if len(publisher.sent) != 1 {
		t.Fatalf("expected one publish, got %d", len(publisher.sent))
	}
	msg := publisher.sent[0]
	if msg.target != "grantway.case.events" || msg.segregationRef != "GRANT-1-STD" {
		t.Fatalf("unexpected message routing: %+v", msg)
	}
	if !strings.Contains(msg.payload, "GRANT-1") {
		t.Fatalf("expected serialized payload, got %q", msg.payload)
	}
	if got := repo.get(event.ID).Status; got != model.EventCompleted {
		t.Fatalf("expected record completed, got %s", got)
	}
}

func TestPublishFailureRequeuesRecord(t *testing.T) {
	repo := newFakeRepo(3)
	event := repo.add("grantway.case.events", "GRANT-1-STD", model.JSONB{})

	publisher := newFakePublisher()
	publisher.failWith["GRANT-1-STD"] = errors.New("broker unavailable")
	engine := NewEngine(repo, publisher, zap.NewNop(), time.Second, 10)

	engine.tick(context.Background())

	// The failure already cycled through the maintenance sweeps.
	if got := repo.get(event.ID); got.Status != model.EventPublished || got.CompletionAttempts != 1 {
		t.Fatalf("expected the record requeued with one attempt, got %s attempts=%d", got.Status, got.CompletionAttempts)
	}

	publisher.mu.Lock()
	delete(publisher.failWith, "GRANT-1-STD")
	publisher.mu.Unlock()

	engine.tick(context.Background())

	if got := repo.get(event.ID).Status; got != model.EventCompleted {
		t.Fatalf("expected the record delivered on retry, got %s", got)
	}
}

func TestOneFailureDoesNotBlockOthers(t *testing.T) {
	repo := newFakeRepo(3)
	failing := repo.add("grantway.case.events", "GRANT-1-STD", model.JSONB{})
	healthy := repo.add("grantway.case.events", "GRANT-2-STD", model.JSONB{})

	publisher := newFakePublisher()
	publisher.failWith["GRANT-1-STD"] = errors.New("broker unavailable")
	engine := NewEngine(repo, publisher, zap.NewNop(), time.Second, 10)

	engine.tick(context.Background())

	if got := repo.get(healthy.ID).Status; got != model.EventCompleted {
		t.Fatalf("expected the healthy record delivered, got %s", got)
	}
	if got := repo.get(failing.ID).Status; got == model.EventCompleted {
		t.Fatalf("expected the failing record not completed")
	}
}

func TestRecordDeadLettersAfterMaxRetries(t *testing.T) {
	repo := newFakeRepo(2)
	event := repo.add("grantway.case.events", "GRANT-1-STD", model.JSONB{})

	publisher := newFakePublisher()
	publisher.failWith["GRANT-1-STD"] = errors.New("broker unavailable")
	engine := NewEngine(repo, publisher, zap.NewNop(), time.Second, 10)

	engine.tick(context.Background())
	engine.tick(context.Background())

	if got := repo.get(event.ID).Status; got != model.EventDeadLetter {
		t.Fatalf("expected the record dead-lettered after exhausting retries, got %s", got)
	}

	engine.tick(context.Background())
	if len(publisher.sent) != 0 {
		t.Fatalf("expected no delivery of a dead-lettered record")
	}
}

func TestExpiredClaimCyclesBackToPublish(t *testing.T) {
	repo := newFakeRepo(3)
	event := repo.add("grantway.case.events", "GRANT-1-STD", model.JSONB{})

	// A crashed worker left the record claimed past its deadline.
	repo.mu.Lock()
	token := "dead-worker-token"
	claimedAt := time.Now().Add(-2 * time.Minute)
	expiredAt := time.Now().Add(-time.Minute)
	event.Status = model.EventProcessing
	event.ClaimedBy = &token
	event.ClaimedAt = &claimedAt
	event.ClaimExpiresAt = &expiredAt
	repo.mu.Unlock()

	publisher := newFakePublisher()
	engine := NewEngine(repo, publisher, zap.NewNop(), time.Second, 10)

	engine.tick(context.Background())
	if got := repo.get(event.ID); got.Status != model.EventFailed || got.ClaimedBy != nil {
		t.Fatalf("expected the lapsed claim reaped, got %s claimed_by=%v", got.Status, got.ClaimedBy)
	}

	engine.tick(context.Background())
	if got := repo.get(event.ID); got.Status != model.EventPublished || got.CompletionAttempts != 1 {
		t.Fatalf("expected the reaped record requeued with one attempt, got %s attempts=%d", got.Status, got.CompletionAttempts)
	}

	engine.tick(context.Background())
	if got := repo.get(event.ID).Status; got != model.EventCompleted {
		t.Fatalf("expected the record published after claim recovery, got %s", got)
	}
	if len(publisher.sent) != 1 {
		t.Fatalf("expected exactly one publish, got %d", len(publisher.sent))
	}
}

func TestClaimErrorDoesNotStopTick(t *testing.T) {
	repo := newFakeRepo(3)
	repo.claimErr = errors.New("connection lost")

	publisher := newFakePublisher()
	engine := NewEngine(repo, publisher, zap.NewNop(), time.Second, 10)

	// Must not panic and must still run the sweeps.
	engine.tick(context.Background())

	repo.mu.Lock()
	repo.claimErr = nil
	repo.mu.Unlock()
	event := repo.add("grantway.case.events", "GRANT-1-STD", model.JSONB{})

	engine.tick(context.Background())
	if got := repo.get(event.ID).Status; got != model.EventCompleted {
		t.Fatalf("expected the engine to recover after a claim error, got %s", got)
	}
}

func TestStopEndsRun(t *testing.T) {
	repo := newFakeRepo(3)
	engine := NewEngine(repo, newFakePublisher(), zap.NewNop(), time.Second, 10)

	done := make(chan error, 1)
	go func() {
		done <- engine.Run(context.Background())
	}()

	engine.Stop()
	engine.Stop()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected a clean stop, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("engine did not stop")
	}
}
