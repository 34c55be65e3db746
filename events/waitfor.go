package events

import (
	"context"
	"time"

	perrors "github.com/mikewren/PocketMesh-sub010/errors"
	"github.com/mikewren/PocketMesh-sub010/models"
)

// Predicate selects the event a waiter is interested in.
type Predicate func(models.Event) bool

// WaitFor blocks until the first event matching pred arrives, the
// timeout expires, or ctx is cancelled. The subscription is active
// before WaitFor returns control to the event source, so callers must
// subscribe-then-act: call WaitFor (or Waiter) before issuing the
// command that triggers the event.
//
// On timeout the error is errors.ErrWaitTimeout, never a nil event with
// nil error. The timer is always stopped on the success path.
func WaitFor(ctx context.Context, pub Publisher, pred Predicate, timeout time.Duration) (models.Event, error) {
	w, err := NewWaiter(ctx, pub, pred)
	if err != nil {
		return nil, err
	}
	return w.Wait(ctx, timeout)
}

// Waiter is a single-shot wait whose subscription is already
// established. Use it when the triggering command must be sent between
// subscribing and waiting.
type Waiter struct {
	pub  Publisher
	ch   <-chan models.Event
	pred Predicate
}

// NewWaiter subscribes immediately and returns a Waiter armed with pred.
func NewWaiter(ctx context.Context, pub Publisher, pred Predicate) (*Waiter, error) {
	ch, err := pub.Subscribe(ctx)
	if err != nil {
		return nil, err
	}
	return &Waiter{pub: pub, ch: ch, pred: pred}, nil
}

// Wait resolves to the first matching event or errors.ErrWaitTimeout.
// The subscription is released on every path; Wait must be called
// exactly once.
func (w *Waiter) Wait(ctx context.Context, timeout time.Duration) (models.Event, error) {
	defer w.pub.Unsubscribe(w.ch)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, perrors.ErrWaitTimeout
		case ev, ok := <-w.ch:
			if !ok {
				return nil, perrors.ErrClosed
			}
			if w.pred(ev) {
				return ev, nil
			}
		}
	}
}

// Cancel releases the subscription without waiting. Safe to call
// instead of Wait when the triggering command failed to send.
func (w *Waiter) Cancel() {
	w.pub.Unsubscribe(w.ch)
}
