// Package transport defines the abstract byte-stream contract the
// session depends on. The core never inspects a transport's internals;
// it reacts to connect/send outcomes and consumes the frame stream.
package transport

import "context"

// Transport is a framed, ordered, unreliable-device byte channel, e.g.
// a BLE characteristic pair or a serial bridge. Implementations own
// frame boundaries: every value on Frames is one complete protocol
// frame.
type Transport interface {
	// Connect establishes the link. Fallible; safe to retry.
	Connect(ctx context.Context) error

	// Disconnect tears the link down. Closes the Frames channel.
	Disconnect() error

	// Send writes one outbound frame. Fallible.
	Send(ctx context.Context, frame []byte) error

	// Frames returns the inbound frame stream. The channel is closed on
	// disconnect or link loss.
	Frames() <-chan []byte

	// Connected reports whether the link is currently up.
	Connected() bool
}
