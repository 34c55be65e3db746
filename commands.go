package pocketmesh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	perrors "github.com/mikewren/PocketMesh-sub010/errors"
	"github.com/mikewren/PocketMesh-sub010/events"
	"github.com/mikewren/PocketMesh-sub010/models"
	"github.com/mikewren/PocketMesh-sub010/protocol"
)

// Device settings. Each sends the command and awaits the ok/error
// response within the command timeout.

// SetName sets the node's advertised name.
func (s *Session) SetName(ctx context.Context, name string) error {
	return s.ackCommand(ctx, "set name", protocol.SetName(name))
}

// SetTime sets the device clock.
func (s *Session) SetTime(ctx context.Context, t time.Time) error {
	return s.ackCommand(ctx, "set time", protocol.SetTime(t))
}

// SetCoords sets the node's advertised position.
func (s *Session) SetCoords(ctx context.Context, lat, lon float64) error {
	return s.ackCommand(ctx, "set coords", protocol.SetCoords(lat, lon))
}

// SetTxPower sets the radio transmit power in dBm.
func (s *Session) SetTxPower(ctx context.Context, dbm int) error {
	return s.ackCommand(ctx, "set tx power", protocol.SetTxPower(dbm))
}

// SetRadio sets the radio parameters.
func (s *Session) SetRadio(ctx context.Context, freqMHz, bwKHz float64, sf, cr uint8) error {
	return s.ackCommand(ctx, "set radio", protocol.SetRadio(freqMHz, bwKHz, sf, cr))
}

// SetChannel configures a group channel slot.
func (s *Session) SetChannel(ctx context.Context, index uint8, name string, secret []byte) error {
	return s.ackCommand(ctx, "set channel", protocol.SetChannel(index, name, secret))
}

// SendAdvertisement asks the device to advertise itself, optionally
// flooded along all paths.
func (s *Session) SendAdvertisement(ctx context.Context, flood bool) error {
	return s.ackCommand(ctx, "send advertisement", protocol.SendAdvertisement(flood))
}

// Reboot reboots the device. No response is expected; the link will
// drop.
func (s *Session) Reboot(ctx context.Context) error {
	if !s.tr.Connected() {
		return perrors.ErrNotConnected
	}
	return s.send(ctx, protocol.Reboot())
}

// ResetPath drops the learned route to dst so the next send floods.
func (s *Session) ResetPath(ctx context.Context, dst []byte) error {
	return s.ackCommand(ctx, "reset path", protocol.ResetPath(dst))
}

// Login authenticates against a remote node (repeater, room server).
// The ok response only acknowledges the attempt went out; the result
// arrives later as a LoginSuccess or LoginFailed push.
func (s *Session) Login(ctx context.Context, dst []byte, password string) error {
	return s.ackCommand(ctx, "login", protocol.SendLogin(dst, password))
}

// Logout ends a remote-node session.
func (s *Session) Logout(ctx context.Context, dst []byte) error {
	return s.ackCommand(ctx, "logout", protocol.SendLogout(dst))
}

// RequestStatus asks a remote node for its status block. The response
// arrives as a StatusResponse push.
func (s *Session) RequestStatus(ctx context.Context, dst []byte) error {
	return s.ackCommand(ctx, "status request", protocol.SendStatusRequest(dst))
}

// Queries with typed responses.

// QueryDevice reads firmware and model details.
func (s *Session) QueryDevice(ctx context.Context) (models.DeviceInfo, error) {
	ev, err := s.command(ctx, "device query", protocol.DeviceQuery(), matches[models.DeviceInfoEvent])
	if err != nil {
		return models.DeviceInfo{}, err
	}
	return ev.(models.DeviceInfoEvent).Info, nil
}

// GetTime reads the device clock.
func (s *Session) GetTime(ctx context.Context) (time.Time, error) {
	ev, err := s.command(ctx, "get time", protocol.GetTime(), matches[models.CurrentTime])
	if err != nil {
		return time.Time{}, err
	}
	return ev.(models.CurrentTime).Time, nil
}

// GetBattery reads battery voltage and storage usage.
func (s *Session) GetBattery(ctx context.Context) (models.BatteryInfo, error) {
	ev, err := s.command(ctx, "get battery", protocol.GetBattery(), matches[models.BatteryInfo])
	if err != nil {
		return models.BatteryInfo{}, err
	}
	return ev.(models.BatteryInfo), nil
}

// GetChannel reads one group channel slot.
func (s *Session) GetChannel(ctx context.Context, index uint8) (models.ChannelInfoEvent, error) {
	ev, err := s.command(ctx, "get channel", protocol.GetChannel(index), matches[models.ChannelInfoEvent])
	if err != nil {
		return models.ChannelInfoEvent{}, err
	}
	return ev.(models.ChannelInfoEvent), nil
}

// GetCoreStats reads the core statistics block.
func (s *Session) GetCoreStats(ctx context.Context) (models.CoreStats, error) {
	ev, err := s.command(ctx, "get core stats",
		protocol.GetStats(models.StatsAreaCore), matches[models.CoreStatsEvent])
	if err != nil {
		return models.CoreStats{}, err
	}
	return ev.(models.CoreStatsEvent).Stats, nil
}

// GetRadioStats reads the radio statistics block.
func (s *Session) GetRadioStats(ctx context.Context) (models.RadioStats, error) {
	ev, err := s.command(ctx, "get radio stats",
		protocol.GetStats(models.StatsAreaRadio), matches[models.RadioStatsEvent])
	if err != nil {
		return models.RadioStats{}, err
	}
	return ev.(models.RadioStatsEvent).Stats, nil
}

// GetPacketStats reads the packet counter block.
func (s *Session) GetPacketStats(ctx context.Context) (models.PacketStats, error) {
	ev, err := s.command(ctx, "get packet stats",
		protocol.GetStats(models.StatsAreaPackets), matches[models.PacketStatsEvent])
	if err != nil {
		return models.PacketStats{}, err
	}
	return ev.(models.PacketStatsEvent).Stats, nil
}

// GetSelfTelemetry reads the device's own sensor readings.
func (s *Session) GetSelfTelemetry(ctx context.Context) ([]models.Reading, error) {
	ev, err := s.command(ctx, "get self telemetry",
		protocol.GetSelfTelemetry(), matches[models.Telemetry])
	if err != nil {
		return nil, err
	}
	return ev.(models.Telemetry).Readings, nil
}

// ExportPrivateKey reads the device identity key.
func (s *Session) ExportPrivateKey(ctx context.Context) (models.HexBytes, error) {
	ev, err := s.command(ctx, "export private key",
		protocol.ExportPrivateKey(), matches[models.PrivateKey])
	if err != nil {
		return nil, err
	}
	return ev.(models.PrivateKey).Key, nil
}

// Sign signs data with the device identity key, streaming it in chunks
// through the signing exchange.
func (s *Session) Sign(ctx context.Context, data []byte) (models.HexBytes, error) {
	if _, err := s.command(ctx, "sign start", protocol.SignStart(), matches[models.SignStarted]); err != nil {
		return nil, err
	}

	const chunkSize = 128
	for off := 0; off < len(data); off += chunkSize {
		end := off + chunkSize
		if end > len(data) {
			end = len(data)
		}
		if err := s.ackCommand(ctx, "sign data", protocol.SignData(data[off:end])); err != nil {
			return nil, err
		}
	}

	ev, err := s.command(ctx, "sign finish", protocol.SignFinish(), matches[models.Signature])
	if err != nil {
		return nil, err
	}
	return ev.(models.Signature).Sig, nil
}

// SendTrace emits a trace-route packet. The result arrives later as a
// TraceData push whose tag matches.
func (s *Session) SendTrace(ctx context.Context, tag, authCode uint32, flags uint8, path []byte) error {
	return s.ackCommand(ctx, "send trace", protocol.SendTrace(tag, authCode, flags, path))
}

// DiscoverPath requests a route to dst and waits for the discovery
// response.
func (s *Session) DiscoverPath(ctx context.Context, dst []byte) (models.PathDiscoveryResponse, error) {
	want := dst
	if len(want) > protocol.KeyPrefixSize {
		want = want[:protocol.KeyPrefixSize]
	}
	ev, err := s.command(ctx, "path discovery", protocol.PathDiscovery(dst), func(ev models.Event) bool {
		resp, ok := ev.(models.PathDiscoveryResponse)
		return ok && bytes.Equal(resp.PubKeyPrefix, want)
	})
	if err != nil {
		return models.PathDiscoveryResponse{}, err
	}
	return ev.(models.PathDiscoveryResponse), nil
}

// SyncContacts fetches the device contact list into the projection and
// returns the received records. When the projection is healthy and has
// a watermark, only contacts modified since then are transferred; a
// raised refresh flag forces a full transfer and clears the flag on
// success.
func (s *Session) SyncContacts(ctx context.Context) ([]models.Contact, error) {
	if !s.tr.Connected() {
		return nil, perrors.ErrNotConnected
	}

	ch, err := s.pub.Subscribe(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pub.Unsubscribe(ch)

	full := s.book.NeedsRefresh() || s.book.Watermark().IsZero()
	frame := protocol.GetContacts()
	if !full {
		frame = protocol.GetContactsSince(s.book.Watermark())
	}
	if err := s.send(ctx, frame); err != nil {
		return nil, err
	}

	var received []models.Contact
	timer := time.NewTimer(s.cfg.CommandTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, fmt.Errorf("sync contacts: %w", perrors.ErrCommandTimeout)
		case ev, ok := <-ch:
			if !ok {
				return nil, perrors.ErrClosed
			}
			switch e := ev.(type) {
			case models.ContactsStart:
				// per-item timeout restarts on transfer progress
				resetTimer(timer, s.cfg.CommandTimeout)
			case models.ContactReceived:
				received = append(received, e.Contact)
				resetTimer(timer, s.cfg.CommandTimeout)
			case models.ContactsEnd:
				if full {
					s.book.ClearRefreshFlag()
				}
				s.logger.Debug("contact sync finished",
					slog.Int("received", len(received)),
					slog.Bool("full", full))
				return received, nil
			}
		}
	}
}

// Messaging.

// SendMessage sends a direct text message. The returned info carries
// the expected acknowledgement bytes; the delivery confirmation itself
// arrives later as a DeliveryConfirmed event.
func (s *Session) SendMessage(ctx context.Context, dst []byte, text string) (models.MessageSentInfo, error) {
	return s.sendMessageAttempt(ctx, models.MessageTypePlain, dst, text, 0)
}

// SendCommand sends a remote CLI command to a node.
func (s *Session) SendCommand(ctx context.Context, dst []byte, cmd string) (models.MessageSentInfo, error) {
	return s.sendMessageAttempt(ctx, models.MessageTypeCommand, dst, cmd, 0)
}

func (s *Session) sendMessageAttempt(ctx context.Context, typ models.MessageType, dst []byte, text string, attempt uint8) (models.MessageSentInfo, error) {
	frame := protocol.SendMessage(typ, attempt, time.Now(), dst, text)
	ev, err := s.command(ctx, "send message", frame, func(ev models.Event) bool {
		switch ev.(type) {
		case models.MessageSent, models.CommandFailed:
			return true
		}
		return false
	})
	if err != nil {
		return models.MessageSentInfo{}, err
	}
	if failed, ok := ev.(models.CommandFailed); ok {
		return models.MessageSentInfo{}, fmt.Errorf("send message: device error code %d", failed.Code)
	}
	return ev.(models.MessageSent).Info, nil
}

// SendChannelMessage sends a text message on a group channel. Channel
// messages are not acknowledged.
func (s *Session) SendChannelMessage(ctx context.Context, channel uint8, text string) (models.MessageSentInfo, error) {
	frame := protocol.SendChannelMessage(models.MessageTypePlain, channel, time.Now(), text)
	ev, err := s.command(ctx, "send channel message", frame, func(ev models.Event) bool {
		switch ev.(type) {
		case models.MessageSent, models.Ok, models.CommandFailed:
			return true
		}
		return false
	})
	if err != nil {
		return models.MessageSentInfo{}, err
	}
	switch e := ev.(type) {
	case models.MessageSent:
		return e.Info, nil
	case models.CommandFailed:
		return models.MessageSentInfo{}, fmt.Errorf("send channel message: device error code %d", e.Code)
	}
	return models.MessageSentInfo{}, nil
}

// WaitForDelivery blocks until the delivery confirmation matching
// info's expected acknowledgement arrives. A zero timeout uses the
// device's suggested timeout, falling back to the command timeout.
func (s *Session) WaitForDelivery(ctx context.Context, info models.MessageSentInfo, timeout time.Duration) (models.DeliveryConfirmed, error) {
	if timeout == 0 {
		timeout = info.SuggestedTimeout()
	}
	if timeout == 0 {
		timeout = s.cfg.CommandTimeout
	}

	ev, err := events.WaitFor(ctx, s.pub, func(ev models.Event) bool {
		conf, ok := ev.(models.DeliveryConfirmed)
		return ok && bytes.Equal(conf.AckCode, info.ExpectedAck)
	}, timeout)
	if err != nil {
		return models.DeliveryConfirmed{}, err
	}
	return ev.(models.DeliveryConfirmed), nil
}

// RetryPolicy controls SendMessageWithRetry.
type RetryPolicy struct {
	// MaxAttempts caps total send attempts.
	MaxAttempts int

	// FloodAfter is the failed-attempt count after which the
	// destination's path is reset to flood routing.
	FloodAfter int

	// MaxFloodAttempts caps attempts made in flood mode. Zero means no
	// separate cap.
	MaxFloodAttempts int

	// AckTimeout bounds each delivery wait. Zero uses the device's
	// suggested timeout.
	AckTimeout time.Duration
}

// SendMessageWithRetry sends a direct message and waits for delivery,
// retrying on missing acknowledgement. After FloodAfter failed attempts
// the destination path is reset to flood routing before the next retry.
// Exhausting all attempts returns errors.ErrRetryExhausted; a stale or
// mismatched acknowledgement never counts as success.
func (s *Session) SendMessageWithRetry(ctx context.Context, dst []byte, text string, policy RetryPolicy) (models.MessageSentInfo, models.DeliveryConfirmed, error) {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 3
	}

	failures := 0
	flooding := false
	floodAttempts := 0

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if flooding {
			if policy.MaxFloodAttempts > 0 && floodAttempts >= policy.MaxFloodAttempts {
				break
			}
			floodAttempts++
		}

		info, conf, err := s.attemptDelivery(ctx, dst, text, uint8(attempt-1), policy.AckTimeout)
		if err == nil {
			return info, conf, nil
		}
		if ctx.Err() != nil {
			return models.MessageSentInfo{}, models.DeliveryConfirmed{}, ctx.Err()
		}
		if !perrors.IsTimeout(err) && !errors.Is(err, perrors.ErrSendFailed) {
			return models.MessageSentInfo{}, models.DeliveryConfirmed{}, err
		}

		failures++
		s.logger.Debug("delivery attempt failed",
			slog.Int("attempt", attempt),
			slog.Bool("flooding", flooding),
			slog.String("error", err.Error()))

		if !flooding && policy.FloodAfter > 0 && failures >= policy.FloodAfter && attempt < policy.MaxAttempts {
			if err := s.ResetPath(ctx, dst); err != nil {
				s.logger.Warn("flood fallback path reset failed", slog.String("error", err.Error()))
			}
			flooding = true
		}
	}

	return models.MessageSentInfo{}, models.DeliveryConfirmed{}, perrors.ErrRetryExhausted
}

// attemptDelivery performs one send plus delivery wait. The ack
// subscription is established before the frame goes out, so a fast
// confirmation cannot slip past.
func (s *Session) attemptDelivery(ctx context.Context, dst []byte, text string, attempt uint8, ackTimeout time.Duration) (models.MessageSentInfo, models.DeliveryConfirmed, error) {
	ch, err := s.pub.Subscribe(ctx)
	if err != nil {
		return models.MessageSentInfo{}, models.DeliveryConfirmed{}, err
	}
	defer s.pub.Unsubscribe(ch)

	info, err := s.sendMessageAttempt(ctx, models.MessageTypePlain, dst, text, attempt)
	if err != nil {
		return models.MessageSentInfo{}, models.DeliveryConfirmed{}, err
	}

	timeout := ackTimeout
	if timeout == 0 {
		timeout = info.SuggestedTimeout()
	}
	if timeout == 0 {
		timeout = s.cfg.CommandTimeout
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return info, models.DeliveryConfirmed{}, ctx.Err()
		case <-timer.C:
			return info, models.DeliveryConfirmed{}, perrors.ErrWaitTimeout
		case ev, ok := <-ch:
			if !ok {
				return info, models.DeliveryConfirmed{}, perrors.ErrClosed
			}
			if conf, isConf := ev.(models.DeliveryConfirmed); isConf && bytes.Equal(conf.AckCode, info.ExpectedAck) {
				return info, conf, nil
			}
		}
	}
}

// GetMessage fetches one queued message from the device. The second
// return is false when the queue is drained. An unresponsive device
// yields errors.ErrCommandTimeout rather than hanging.
func (s *Session) GetMessage(ctx context.Context) (models.Event, bool, error) {
	ev, err := s.command(ctx, "get message", protocol.GetMessage(), func(ev models.Event) bool {
		switch ev.(type) {
		case models.ContactMessage, models.ChannelMessage, models.NoMoreMessages:
			return true
		}
		return false
	})
	if err != nil {
		return nil, false, err
	}
	if _, drained := ev.(models.NoMoreMessages); drained {
		return nil, false, nil
	}
	return ev, true, nil
}

// StartAutoFetch starts the background drain loop: every
// MessagesWaiting push triggers GetMessage calls until the queue
// reports empty. Cancellable independently of the session; stopping it
// leaves other subscribers untouched.
func (s *Session) StartAutoFetch(ctx context.Context) error {
	s.fetchMu.Lock()
	defer s.fetchMu.Unlock()

	if s.fetchCancel != nil {
		return perrors.ErrAlreadyStarted
	}

	fetchCtx, cancel := context.WithCancel(ctx)
	ch, err := s.pub.Subscribe(fetchCtx)
	if err != nil {
		cancel()
		return err
	}

	done := make(chan struct{})
	s.fetchCancel = cancel
	s.fetchDone = done

	go s.autoFetchLoop(fetchCtx, ch, done)
	return nil
}

// StopAutoFetch stops the background drain loop. No-op when not
// running.
func (s *Session) StopAutoFetch() {
	s.fetchMu.Lock()
	cancel, done := s.fetchCancel, s.fetchDone
	s.fetchCancel, s.fetchDone = nil, nil
	s.fetchMu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (s *Session) autoFetchLoop(ctx context.Context, ch <-chan models.Event, done chan struct{}) {
	defer close(done)
	defer s.pub.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if _, waiting := ev.(models.MessagesWaiting); !waiting {
				continue
			}
			s.drainMessages(ctx)
		}
	}
}

func (s *Session) drainMessages(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		_, more, err := s.GetMessage(ctx)
		if err != nil {
			s.logger.Warn("auto fetch stopped draining", slog.String("error", err.Error()))
			return
		}
		if !more {
			return
		}
	}
}

// matches is a predicate matching one event variant.
func matches[T models.Event](ev models.Event) bool {
	_, ok := ev.(T)
	return ok
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
