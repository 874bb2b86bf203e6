package broker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/grantway/grantway/pkg/dedup"
	"github.com/grantway/grantway/pkg/model"
)

// InboxWriter appends an inbound record, reporting whether it was new.
type InboxWriter interface {
	InsertIfAbsent(ctx context.Context, event *model.InboxEvent) (bool, error)
}

type IngressConfig struct {
	Brokers  []string
	ClientID string
	GroupID  string
	Topic    string
}

const (
	ingestMaxAttempts  = 5
	ingestRetryBackoff = time.Second
)

// Ingress moves inbound broker messages into the inbox store. The deduper
// is a fast path only; the store's unique message-id constraint is the
// guarantee.
type Ingress struct {
	reader  *kafka.Reader
	inbox   InboxWriter
	deduper dedup.Deduper
	logger  *zap.Logger
	backoff time.Duration
}

func NewIngress(cfg IngressConfig, inbox InboxWriter, deduper dedup.Deduper, logger *zap.Logger) *Ingress {
	return &Ingress{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			GroupID:  cfg.GroupID,
			Topic:    cfg.Topic,
			MinBytes: 1,
			MaxBytes: 10e6,
			Dialer: &kafka.Dialer{
				ClientID: cfg.ClientID,
			},
		}),
		inbox:   inbox,
		deduper: deduper,
		logger:  logger,
		backoff: ingestRetryBackoff,
	}
}

func (i *Ingress) Run(ctx context.Context) error {
	i.logger.Info("broker ingress starting")

	for {
		message, err := i.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			i.logger.Warn("failed to fetch inbound message", zap.Error(err))
			continue
		}

		// A message is only committed once it is durably in the inbox
		// store. Returning here leaves the offset uncommitted, so the
		// group redelivers the same message instead of skipping past it.
		if err := i.ingestWithRetry(ctx, message); err != nil {
			return err
		}

		if err := i.reader.CommitMessages(ctx, message); err != nil {
			return err
		}
	}
}

// ingestWithRetry holds position on a transiently failing message rather
// than advancing past it, which would both lose the message and reorder
// its segregation key.
func (i *Ingress) ingestWithRetry(ctx context.Context, message kafka.Message) error {
	backoff := i.backoff
	if backoff <= 0 {
		backoff = ingestRetryBackoff
	}

	var err error
	for attempt := 1; attempt <= ingestMaxAttempts; attempt++ {
		if err = i.ingest(ctx, message); err == nil {
			return nil
		}
		i.logger.Warn("failed to ingest inbound message",
			zap.Int64("offset", message.Offset),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt == ingestMaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}

func (i *Ingress) ingest(ctx context.Context, message kafka.Message) error {
	var envelope Envelope
	if err := json.Unmarshal(message.Value, &envelope); err != nil {
		// Undecodable messages are logged and committed; retrying them
		// cannot succeed.
		i.logger.Warn("dropping undecodable inbound message",
			zap.Int64("offset", message.Offset),
			zap.Error(err),
		)
		return nil
	}

	if envelope.ID == "" {
		// An id-less message cannot be deduplicated; stored with an empty
		// message_id it would shadow every later id-less message behind
		// the unique index.
		i.logger.Warn("dropping inbound message without id", zap.Int64("offset", message.Offset))
		return nil
	}

	if envelope.TraceID == "" {
		envelope.TraceID = headerValue(message, headerTraceID)
	}

	if i.deduper != nil {
		seen, err := i.deduper.Seen(ctx, envelope.ID)
		if err == nil && seen {
			return nil
		}
	}

	inserted, err := i.inbox.InsertIfAbsent(ctx, toInboxEvent(envelope))
	if err != nil {
		return err
	}
	if !inserted {
		i.logger.Debug("duplicate inbound message", zap.String("message_id", envelope.ID))
	}

	if i.deduper != nil {
		_ = i.deduper.MarkSeen(ctx, envelope.ID)
	}

	return nil
}

func toInboxEvent(envelope Envelope) *model.InboxEvent {
	segregationRef := envelope.SegregationRef
	if segregationRef == "" {
		// Without a producer-supplied partition key the message orders
		// only against itself.
		segregationRef = envelope.ID
	}

	return &model.InboxEvent{
		QueuedEvent: model.QueuedEvent{
			SegregationRef:  segregationRef,
			Type:            envelope.Type,
			Payload:         model.JSONB(envelope.Payload),
			Status:          model.EventPublished,
			PublicationDate: time.Now(),
		},
		MessageID: envelope.ID,
		TraceID:   envelope.TraceID,
	}
}

func headerValue(message kafka.Message, key string) string {
	for _, header := range message.Headers {
		if header.Key == key {
			return string(header.Value)
		}
	}
	return ""
}

func (i *Ingress) Close() error {
	return i.reader.Close()
}
