// Package tcpserial implements transport.Transport over a TCP
// connection to a serial/BLE bridge. Frames are delimited with a
// little-endian u16 length prefix, the same framing the device's serial
// companion interface uses.
package tcpserial

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	perrors "github.com/mikewren/PocketMesh-sub010/errors"
	"github.com/mikewren/PocketMesh-sub010/logging"
	"github.com/mikewren/PocketMesh-sub010/transport"
)

// maxFrameSize bounds a declared frame length; anything larger is a
// corrupt stream.
const maxFrameSize = 4096

// Transport is a TCP-backed framed transport.
type Transport struct {
	addr        string
	dialTimeout time.Duration
	logger      *slog.Logger

	mu     sync.Mutex
	conn   net.Conn
	frames chan []byte
	done   chan struct{}
}

var _ transport.Transport = (*Transport)(nil)

// Option configures the transport.
type Option func(*Transport)

// WithDialTimeout sets the TCP dial timeout.
func WithDialTimeout(d time.Duration) Option {
	return func(t *Transport) { t.dialTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(t *Transport) { t.logger = log }
}

// New creates a transport for the given bridge address.
func New(addr string, opts ...Option) *Transport {
	t := &Transport{
		addr:        addr,
		dialTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = logging.WithComponent(t.logger, "tcpserial")
	return t
}

// Connect dials the bridge and starts the read pump.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		return nil
	}

	d := net.Dialer{Timeout: t.dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		return perrors.NewTransportError("connect", err)
	}

	t.conn = conn
	t.frames = make(chan []byte, 32)
	t.done = make(chan struct{})

	go t.readPump(conn, t.frames, t.done)

	t.logger.Debug("connected", slog.String("addr", t.addr))
	return nil
}

// readPump reads length-prefixed frames until the connection dies, then
// closes the frame channel.
func (t *Transport) readPump(conn net.Conn, frames chan []byte, done chan struct{}) {
	defer close(frames)

	header := make([]byte, 2)
	for {
		if _, err := io.ReadFull(conn, header); err != nil {
			t.closeOnReadError(conn, done, err)
			return
		}
		n := int(binary.LittleEndian.Uint16(header))
		if n == 0 || n > maxFrameSize {
			t.closeOnReadError(conn, done, fmt.Errorf("invalid frame length %d", n))
			return
		}
		frame := make([]byte, n)
		if _, err := io.ReadFull(conn, frame); err != nil {
			t.closeOnReadError(conn, done, err)
			return
		}

		select {
		case frames <- frame:
		case <-done:
			return
		}
	}
}

func (t *Transport) closeOnReadError(conn net.Conn, done chan struct{}, err error) {
	select {
	case <-done:
		// deliberate disconnect, not an error
	default:
		t.logger.Warn("read pump stopped", slog.String("error", err.Error()))
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == conn {
		_ = conn.Close()
		t.conn = nil
	}
}

// Disconnect closes the connection and the frame stream.
func (t *Transport) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return nil
	}
	close(t.done)
	err := t.conn.Close()
	t.conn = nil
	if err != nil {
		return perrors.NewTransportError("disconnect", err)
	}
	return nil
}

// Send writes one frame with its length prefix.
func (t *Transport) Send(ctx context.Context, frame []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		return perrors.ErrNotConnected
	}
	if len(frame) > maxFrameSize {
		return perrors.NewTransportError("send", fmt.Errorf("frame too large: %d bytes", len(frame)))
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
		defer conn.SetWriteDeadline(time.Time{})
	}

	buf := make([]byte, 2+len(frame))
	binary.LittleEndian.PutUint16(buf, uint16(len(frame)))
	copy(buf[2:], frame)

	if _, err := conn.Write(buf); err != nil {
		return perrors.NewTransportError("send", err)
	}
	return nil
}

// Frames returns the inbound frame stream.
func (t *Transport) Frames() <-chan []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.frames
}

// Connected reports whether the link is up.
func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}
