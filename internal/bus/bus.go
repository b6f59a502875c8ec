// Package bus abstracts the transport the router reads input events
// from and publishes output events to. The only implementation is a
// NATS JetStream bus, but callers depend on the Bus interface so the
// router never imports nats.go directly.
package bus

import "context"

// Message is a delivered payload plus the means to acknowledge it.
// Ack is only called after every output the handler produced for this
// message has been durably published; a handler error must leave the
// message unacked so the broker redelivers it.
type Message struct {
	Payload []byte
	Ack     func(ctx context.Context) error
}

// Bus is the minimum transport contract the router needs: publish
// outputs, subscribe for inputs, ack once handled.
type Bus interface {
	Publish(ctx context.Context, subject string, payload []byte) error
	Subscribe(ctx context.Context, subject string) (<-chan Message, error)
	Close() error
}
