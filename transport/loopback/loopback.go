// Package loopback provides a deterministic in-memory transport for
// tests: sent frames are recorded and can be answered by a scripted
// responder, and inbound frames are injected directly.
package loopback

import (
	"context"
	"sync"

	perrors "github.com/mikewren/PocketMesh-sub010/errors"
	"github.com/mikewren/PocketMesh-sub010/transport"
)

// Responder maps an outbound frame to zero or more inbound frames,
// simulating the device. Returning nil means stay silent.
type Responder func(sent []byte) [][]byte

// Transport is the in-memory test double.
type Transport struct {
	mu         sync.Mutex
	connected  bool
	sent       [][]byte
	frames     chan []byte
	responder  Responder
	connectErr error
	sendErr    error
}

var _ transport.Transport = (*Transport)(nil)

// New creates a disconnected loopback transport.
func New() *Transport {
	return &Transport{}
}

// SetResponder installs the scripted device behavior. Safe to swap
// between commands.
func (t *Transport) SetResponder(r Responder) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.responder = r
}

// FailConnect makes the next Connect return err.
func (t *Transport) FailConnect(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connectErr = err
}

// FailSend makes every Send return err until reset with nil.
func (t *Transport) FailSend(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sendErr = err
}

// Connect brings the fake link up.
func (t *Transport) Connect(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.connectErr != nil {
		return perrors.NewTransportError("connect", t.connectErr)
	}
	if t.connected {
		return nil
	}
	t.connected = true
	t.frames = make(chan []byte, 64)
	return nil
}

// Disconnect tears the fake link down and closes the frame stream.
func (t *Transport) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected {
		return nil
	}
	t.connected = false
	close(t.frames)
	return nil
}

// Send records the frame and feeds any scripted response back.
func (t *Transport) Send(_ context.Context, frame []byte) error {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return perrors.ErrNotConnected
	}
	if t.sendErr != nil {
		err := t.sendErr
		t.mu.Unlock()
		return perrors.NewTransportError("send", err)
	}

	cp := append([]byte(nil), frame...)
	t.sent = append(t.sent, cp)
	responder := t.responder
	frames := t.frames
	t.mu.Unlock()

	if responder != nil {
		for _, resp := range responder(cp) {
			frames <- resp
		}
	}
	return nil
}

// Inject delivers an unsolicited inbound frame, as if pushed by the
// device.
func (t *Transport) Inject(frame []byte) {
	t.mu.Lock()
	frames := t.frames
	connected := t.connected
	t.mu.Unlock()

	if connected {
		frames <- append([]byte(nil), frame...)
	}
}

// Frames returns the inbound frame stream.
func (t *Transport) Frames() <-chan []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.frames
}

// Connected reports whether the fake link is up.
func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// Sent returns a snapshot of every frame sent so far.
func (t *Transport) Sent() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.sent))
	copy(out, t.sent)
	return out
}

// SentCount returns the number of frames sent so far.
func (t *Transport) SentCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sent)
}
