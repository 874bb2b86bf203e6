package inbox

import (
	"context"

	"github.com/grantway/grantway/pkg/errdefs"
	"github.com/grantway/grantway/pkg/model"
)

// Handler applies one inbound record to case state.
type Handler interface {
	Handle(ctx context.Context, event *model.InboxEvent) error
}

type HandlerFunc func(ctx context.Context, event *model.InboxEvent) error

func (f HandlerFunc) Handle(ctx context.Context, event *model.InboxEvent) error {
	return f(ctx, event)
}

// Dispatcher routes records to handlers by event type. An unregistered
// type fails the record rather than dropping it silently.
type Dispatcher struct {
	handlers map[string]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

func (d *Dispatcher) Register(eventType string, handler Handler) {
	d.handlers[eventType] = handler
}

func (d *Dispatcher) Dispatch(ctx context.Context, event *model.InboxEvent) error {
	handler, ok := d.handlers[event.Type]
	if !ok {
		return errdefs.NotFound("no handler registered for event type %s", event.Type)
	}
	return handler.Handle(ctx, event)
}
