// Package pocketmesh provides a client session for mesh-networking
// radio devices speaking the binary companion protocol over a framed
// byte transport (BLE characteristic stream, serial bridge).
//
// The session owns the transport, decodes inbound frames into typed
// events, broadcasts them to any number of subscribers and correlates
// commands with their asynchronous responses.
package pocketmesh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mikewren/PocketMesh-sub010/config"
	"github.com/mikewren/PocketMesh-sub010/contacts"
	perrors "github.com/mikewren/PocketMesh-sub010/errors"
	"github.com/mikewren/PocketMesh-sub010/events"
	"github.com/mikewren/PocketMesh-sub010/events/memory"
	"github.com/mikewren/PocketMesh-sub010/logging"
	"github.com/mikewren/PocketMesh-sub010/models"
	"github.com/mikewren/PocketMesh-sub010/protocol"
	"github.com/mikewren/PocketMesh-sub010/transport"
)

// Config holds the session dependencies. Transport is required;
// everything else has working defaults.
type Config struct {
	// Transport is the framed byte channel to the device (required).
	Transport transport.Transport

	// Publisher receives every decoded event. Defaults to an in-memory
	// fan-out publisher owned (and closed) by the session.
	Publisher events.Publisher

	// Contacts is the contact projection. Defaults to a fresh book.
	Contacts *contacts.Book

	// Logger for structured logging.
	Logger *slog.Logger

	// Session holds timeouts and pacing. Zero fields take defaults.
	Session config.SessionConfig
}

// Session is the protocol orchestrator: connection state machine,
// receive loop, command/response correlation and retry policy. All
// state mutation is serialized behind its mutex; callers interact only
// through methods.
type Session struct {
	mu    sync.Mutex
	state models.ConnectionState
	self  models.SelfInfo
	dev   models.DeviceInfo

	cfg    config.SessionConfig
	logger *slog.Logger
	tr     transport.Transport
	pub    events.Publisher
	book   *contacts.Book

	ownPublisher bool

	// write pacing: one in-flight write, paced per platform
	writeMu   sync.Mutex
	pace      time.Duration
	lastWrite time.Time

	loopCancel context.CancelFunc
	loopDone   chan struct{}
	stopping   bool

	fetchMu     sync.Mutex
	fetchCancel context.CancelFunc
	fetchDone   chan struct{}
}

// New creates a session. The transport is not touched until Start.
func New(cfg Config) (*Session, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("transport is required")
	}

	sc := cfg.Session
	if sc.ClientID == "" {
		sc.ClientID = "PktMesh"
	}
	if sc.CommandTimeout == 0 {
		sc.CommandTimeout = 5 * time.Second
	}
	if sc.WritePace == 0 {
		sc.WritePace = 50 * time.Millisecond
	}
	if sc.FastWritePace == 0 {
		sc.FastWritePace = 20 * time.Millisecond
	}

	s := &Session{
		cfg:    sc,
		logger: logging.WithComponent(cfg.Logger, "session"),
		tr:     cfg.Transport,
		pub:    cfg.Publisher,
		book:   cfg.Contacts,
		pace:   sc.WritePace,
		state:  models.ConnectionState{Phase: models.PhaseDisconnected, Since: time.Now()},
	}
	if s.pub == nil {
		s.pub = memory.NewInMemoryPublisher(64)
		s.ownPublisher = true
	}
	if s.book == nil {
		s.book = contacts.NewBook(s.logger)
	}
	return s, nil
}

// Start connects the transport, starts the receive loop and performs
// the session handshake: AppStart is sent and the device's self info
// must arrive within the command timeout. On success the session is
// connected; on transport failure it is failed.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.loopDone != nil {
		s.mu.Unlock()
		return perrors.ErrAlreadyStarted
	}
	s.stopping = false
	s.mu.Unlock()

	s.setState(ctx, models.ConnectionState{Phase: models.PhaseConnecting, Since: time.Now()})

	if err := s.tr.Connect(ctx); err != nil {
		s.failed(ctx, err)
		return fmt.Errorf("%w: %w", perrors.ErrConnectionFailed, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.mu.Lock()
	s.loopCancel = cancel
	s.loopDone = done
	s.mu.Unlock()

	go s.receiveLoop(loopCtx, done)
	go func() { _ = s.book.Run(loopCtx, s.pub) }()

	// subscribe before sending AppStart so the response cannot be missed
	waiter, err := events.NewWaiter(ctx, s.pub, func(ev models.Event) bool {
		_, ok := ev.(models.SelfInfoEvent)
		return ok
	})
	if err != nil {
		s.teardown(ctx, err)
		return err
	}

	if err := s.send(ctx, protocol.AppStart(s.cfg.ClientID)); err != nil {
		waiter.Cancel()
		s.teardown(ctx, err)
		return err
	}

	ev, err := waiter.Wait(ctx, s.cfg.CommandTimeout)
	if err != nil {
		if errors.Is(err, perrors.ErrWaitTimeout) {
			err = fmt.Errorf("session start: %w", perrors.ErrCommandTimeout)
		}
		s.teardown(ctx, err)
		return err
	}

	self := ev.(models.SelfInfoEvent).Info

	s.mu.Lock()
	s.self = self
	s.mu.Unlock()

	s.detectPlatform(ctx)

	s.setState(ctx, models.ConnectionState{Phase: models.PhaseConnected, Since: time.Now()})
	s.publish(ctx, models.Connected{Self: self})
	s.logger.Info("session connected",
		slog.String("node", self.Name),
		slog.String("publicKey", self.PublicKey.String()))

	return nil
}

// detectPlatform queries device metadata to pick the write pacing.
// Best effort: an unresponsive or old device keeps the conservative
// default.
func (s *Session) detectPlatform(ctx context.Context) {
	ev, err := s.command(ctx, "device query", protocol.DeviceQuery(), func(ev models.Event) bool {
		_, ok := ev.(models.DeviceInfoEvent)
		return ok
	})
	if err != nil {
		s.logger.Debug("device query failed, keeping default write pace",
			slog.String("error", err.Error()))
		return
	}

	dev := ev.(models.DeviceInfoEvent).Info
	pace := s.cfg.Pace(dev.Model)

	s.mu.Lock()
	s.dev = dev
	s.mu.Unlock()

	s.writeMu.Lock()
	s.pace = pace
	s.writeMu.Unlock()

	s.logger.Debug("write pacing selected",
		slog.String("model", dev.Model),
		slog.Duration("pace", pace))
}

// Stop cancels the loops, tears the transport down and transitions to
// disconnected. Safe to call more than once.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.loopDone == nil {
		s.mu.Unlock()
		// Already stopped, or the link dropped out from under us.
		// The owned publisher still has to be released.
		s.StopAutoFetch()
		if s.ownPublisher {
			_ = s.pub.Close()
		}
		return nil
	}
	s.stopping = true
	cancel, done := s.loopCancel, s.loopDone
	s.loopCancel, s.loopDone = nil, nil
	s.mu.Unlock()

	s.StopAutoFetch()

	err := s.tr.Disconnect()
	cancel()
	<-done

	s.setState(ctx, models.ConnectionState{Phase: models.PhaseDisconnected, Since: time.Now()})
	s.publish(ctx, models.Disconnected{})

	if s.ownPublisher {
		_ = s.pub.Close()
	}
	return err
}

// receiveLoop decodes inbound frames and broadcasts them. A malformed
// frame becomes a ParseFailure event; the loop only exits when the
// transport closes the frame stream or the session stops.
func (s *Session) receiveLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	frames := s.tr.Frames()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				s.linkLost(ctx)
				return
			}
			ev := protocol.Decode(frame)
			if pf, isFail := ev.(models.ParseFailure); isFail {
				s.logger.Warn("frame decode failed",
					slog.String("reason", pf.Reason),
					slog.String("bytes", pf.Payload.String()))
			}
			s.publish(ctx, ev)
		}
	}
}

// linkLost handles an unexpected transport drop (frame stream closed
// while not stopping).
func (s *Session) linkLost(ctx context.Context) {
	s.mu.Lock()
	stopping := s.stopping
	cancel := s.loopCancel
	s.loopCancel, s.loopDone = nil, nil
	s.mu.Unlock()

	if stopping {
		return
	}
	s.logger.Warn("transport link lost")
	s.setState(ctx, models.ConnectionState{Phase: models.PhaseDisconnected, Since: time.Now()})
	s.publish(ctx, models.Disconnected{})
	if cancel != nil {
		// Cancelled last so the Disconnected event goes out before the
		// session context (and the contact projection running on it)
		// is released.
		cancel()
	}
}

func (s *Session) teardown(ctx context.Context, cause error) {
	s.mu.Lock()
	cancel, done := s.loopCancel, s.loopDone
	s.loopCancel, s.loopDone = nil, nil
	s.stopping = true
	s.mu.Unlock()

	_ = s.tr.Disconnect()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	s.failed(ctx, cause)
}

func (s *Session) failed(ctx context.Context, err error) {
	s.setState(ctx, models.ConnectionState{Phase: models.PhaseFailed, Err: err, Since: time.Now()})
	s.publish(ctx, models.ConnectionFailed{Err: err})
}

func (s *Session) setState(_ context.Context, st models.ConnectionState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// State returns the current connection state.
func (s *Session) State() models.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SelfInfo returns the device identity captured at session start.
func (s *Session) SelfInfo() models.SelfInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.self
}

// DeviceInfo returns the device metadata captured at session start.
// Zero value when the device query was unanswered.
func (s *Session) DeviceInfo() models.DeviceInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dev
}

// Contacts returns the session's contact projection.
func (s *Session) Contacts() *contacts.Book {
	return s.book
}

// Subscribe returns a channel receiving every subsequent event.
func (s *Session) Subscribe(ctx context.Context) (<-chan models.Event, error) {
	return s.pub.Subscribe(ctx)
}

// Unsubscribe releases a subscription channel.
func (s *Session) Unsubscribe(ch <-chan models.Event) {
	s.pub.Unsubscribe(ch)
}

// WaitForEvent blocks until an event matching pred arrives or the
// timeout expires. The subscription is active before WaitForEvent
// returns, so subscribe-then-act ordering holds for the caller's next
// command.
func (s *Session) WaitForEvent(ctx context.Context, pred events.Predicate, timeout time.Duration) (models.Event, error) {
	return events.WaitFor(ctx, s.pub, pred, timeout)
}

func (s *Session) publish(ctx context.Context, ev models.Event) {
	if err := s.pub.Publish(ctx, ev); err != nil {
		s.logger.Debug("publish dropped", slog.String("error", err.Error()))
	}
}

// send writes one frame, serialized and paced. At most one write is in
// flight; consecutive writes are spaced by the platform pace so the
// device's transport buffering is never overrun.
func (s *Session) send(ctx context.Context, frame []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if wait := s.pace - time.Since(s.lastWrite); wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}

	err := s.tr.Send(ctx, frame)
	s.lastWrite = time.Now()
	if err != nil {
		return fmt.Errorf("%w: %w", perrors.ErrSendFailed, err)
	}
	return nil
}

// command sends a frame and awaits the first event matching pred within
// the command timeout. The waiter subscribes before the frame goes out.
func (s *Session) command(ctx context.Context, name string, frame []byte, pred events.Predicate) (models.Event, error) {
	if !s.tr.Connected() {
		return nil, perrors.ErrNotConnected
	}

	waiter, err := events.NewWaiter(ctx, s.pub, pred)
	if err != nil {
		return nil, err
	}

	if err := s.send(ctx, frame); err != nil {
		waiter.Cancel()
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	ev, err := waiter.Wait(ctx, s.cfg.CommandTimeout)
	if err != nil {
		if errors.Is(err, perrors.ErrWaitTimeout) {
			return nil, fmt.Errorf("%s: %w", name, perrors.ErrCommandTimeout)
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return ev, nil
}

// ackCommand runs a command whose response is the generic ok/error.
func (s *Session) ackCommand(ctx context.Context, name string, frame []byte) error {
	ev, err := s.command(ctx, name, frame, func(ev models.Event) bool {
		switch ev.(type) {
		case models.Ok, models.CommandFailed, models.CommandDisabled:
			return true
		}
		return false
	})
	if err != nil {
		return err
	}
	switch e := ev.(type) {
	case models.CommandFailed:
		return fmt.Errorf("%s: device error code %d", name, e.Code)
	case models.CommandDisabled:
		return fmt.Errorf("%s: disabled on this device", name)
	}
	return nil
}
