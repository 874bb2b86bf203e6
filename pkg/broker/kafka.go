package broker

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

const headerTraceID = "gw-trace-id"

// KafkaPublisher writes outbox payloads to their target topic with the
// segregation ref as the message key, so partition ordering follows the
// same key the inbox leases on.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, clientID string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Transport: &kafka.Transport{
				ClientID: clientID,
			},
		},
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, target string, payload []byte, segregationRef string) error {
	message := kafka.Message{
		Topic: target,
		Key:   []byte(segregationRef),
		Value: payload,
		Time:  time.Now(),
	}
	return p.writer.WriteMessages(ctx, message)
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
