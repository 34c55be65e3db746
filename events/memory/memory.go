// Package memory provides an in-process fan-out implementation of
// events.Publisher backed by Go channels.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/mikewren/PocketMesh-sub010/events"
	"github.com/mikewren/PocketMesh-sub010/models"
)

// subscription is one fan-out leg.
type subscription struct {
	id string
	ch chan models.Event
}

// InMemoryPublisher implements events.Publisher using Go channels.
// Every subscriber gets its own buffered channel; publishing never
// blocks on a full one.
type InMemoryPublisher struct {
	mu          sync.RWMutex
	subscribers map[string]*subscription
	bufferSize  int
	closed      bool
}

// NewInMemoryPublisher creates a new in-memory event publisher.
func NewInMemoryPublisher(bufferSize int) *InMemoryPublisher {
	return &InMemoryPublisher{
		subscribers: make(map[string]*subscription),
		bufferSize:  bufferSize,
	}
}

var _ events.Publisher = (*InMemoryPublisher)(nil)

// Publish sends an event to all subscribers.
func (p *InMemoryPublisher) Publish(ctx context.Context, ev models.Event) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, sub := range p.subscribers {
		select {
		case sub.ch <- ev:
		case <-ctx.Done():
			return ctx.Err()
		default:
			// Subscriber is slow, skip this event to prevent blocking
		}
	}

	return nil
}

// Subscribe returns a channel that receives all subsequent events.
func (p *InMemoryPublisher) Subscribe(ctx context.Context) (<-chan models.Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	sub := &subscription{
		id: uuid.New().String(),
		ch: make(chan models.Event, p.bufferSize),
	}
	p.subscribers[sub.id] = sub

	return sub.ch, nil
}

// Unsubscribe removes a subscription channel and closes it.
func (p *InMemoryPublisher) Unsubscribe(ch <-chan models.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, sub := range p.subscribers {
		if sub.ch == ch {
			delete(p.subscribers, id)
			close(sub.ch)
			return
		}
	}
}

// Close closes the publisher and all subscriptions.
func (p *InMemoryPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	for id, sub := range p.subscribers {
		close(sub.ch)
		delete(p.subscribers, id)
	}

	return nil
}
