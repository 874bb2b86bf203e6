package broker

import "context"

// Publisher is the egress contract the outbox engine drains into. The
// segregation ref doubles as the transport's ordering key.
type Publisher interface {
	Publish(ctx context.Context, target string, payload []byte, segregationRef string) error
}

// Envelope is the inbound wire shape delivered by the external broker.
type Envelope struct {
	ID             string                 `json:"id"`
	Type           string                 `json:"type"`
	Payload        map[string]interface{} `json:"payload"`
	TraceID        string                 `json:"trace_id,omitempty"`
	SegregationRef string                 `json:"segregation_ref,omitempty"`
}
