// Package events provides interfaces for publishing and subscribing to
// decoded protocol events.
package events

import (
	"context"

	"github.com/mikewren/PocketMesh-sub010/models"
)

// Publisher broadcasts decoded events to subscribers.
//
// Broadcast semantics: every subscriber receives every event published
// after its Subscribe call, independently of other subscribers.
// Subscribers never compete for events and a slow subscriber never
// blocks the publisher.
type Publisher interface {
	// Publish sends an event to all subscribers.
	Publish(ctx context.Context, ev models.Event) error

	// Subscribe returns a channel that receives all subsequent events.
	Subscribe(ctx context.Context) (<-chan models.Event, error)

	// Unsubscribe removes a subscription channel and closes it.
	Unsubscribe(ch <-chan models.Event)

	// Close closes the publisher and all subscriptions.
	Close() error
}
