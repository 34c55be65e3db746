package pocketmesh

import (
	"encoding/binary"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikewren/PocketMesh-sub010/config"
	perrors "github.com/mikewren/PocketMesh-sub010/errors"
	"github.com/mikewren/PocketMesh-sub010/models"
	"github.com/mikewren/PocketMesh-sub010/protocol"
	"github.com/mikewren/PocketMesh-sub010/transport/loopback"
)

var testAck = models.HexBytes{0xDE, 0xAD, 0xBE, 0xEF}

func selfInfoFrame(name string) []byte {
	payload := make([]byte, 57)
	payload[1] = 20
	for i := 3; i < 35; i++ {
		payload[i] = 0x11
	}
	binary.LittleEndian.PutUint32(payload[47:], 906875)
	binary.LittleEndian.PutUint32(payload[51:], 250000)
	payload = append(payload, name...)
	return append([]byte{protocol.RespSelfInfo}, payload...)
}

func deviceInfoFrame(model string) []byte {
	payload := make([]byte, 7)
	payload[0] = 3
	payload[1] = 100
	payload[2] = 8
	build := make([]byte, 12)
	copy(build, "1 Jan 2024")
	modelField := make([]byte, 20)
	copy(modelField, model)
	payload = append(payload, build...)
	payload = append(payload, modelField...)
	payload = append(payload, "v1.5.1"...)
	return append([]byte{protocol.RespDeviceInfo}, payload...)
}

func sentFrame(ack models.HexBytes, timeoutMillis uint32) []byte {
	payload := make([]byte, 9)
	copy(payload[1:], ack)
	binary.LittleEndian.PutUint32(payload[5:], timeoutMillis)
	return append([]byte{protocol.RespSent}, payload...)
}

func confirmedFrame(ack models.HexBytes, roundTripMillis uint32) []byte {
	payload := make([]byte, 8)
	copy(payload, ack)
	binary.LittleEndian.PutUint32(payload[4:], roundTripMillis)
	return append([]byte{protocol.PushSendConfirmed}, payload...)
}

func contactFrame(firstByte byte, name string, lastMod uint32) []byte {
	payload := make([]byte, 147)
	payload[0] = firstByte
	payload[32] = models.ContactTypeChat
	payload[34] = byte(0xFF) // flood routed
	copy(payload[99:], name)
	binary.LittleEndian.PutUint32(payload[143:], lastMod)
	return append([]byte{protocol.RespContact}, payload...)
}

// handshakeResponder answers session start and device query; extra
// handles everything else.
func handshakeResponder(extra loopback.Responder) loopback.Responder {
	return func(sent []byte) [][]byte {
		switch sent[0] {
		case protocol.CmdAppStart:
			return [][]byte{selfInfoFrame("Test Node")}
		case protocol.CmdDeviceQuery:
			return [][]byte{deviceInfoFrame("RAK4631")}
		}
		if extra != nil {
			return extra(sent)
		}
		return nil
	}
}

func newTestSession(t *testing.T, tr *loopback.Transport) *Session {
	t.Helper()
	s, err := New(Config{
		Transport: tr,
		Session: config.SessionConfig{
			CommandTimeout: 500 * time.Millisecond,
			WritePace:      time.Millisecond,
			FastWritePace:  time.Millisecond,
			FastPlatforms:  []string{"ESP32", "RAK4631", "T1000"},
		},
	})
	require.NoError(t, err)
	return s
}

func startTestSession(t *testing.T, tr *loopback.Transport) *Session {
	t.Helper()
	s := newTestSession(t, tr)
	require.NoError(t, s.Start(t.Context()))
	t.Cleanup(func() { _ = s.Stop(t.Context()) })
	return s
}

func TestSessionStart(t *testing.T) {
	tr := loopback.New()
	tr.SetResponder(handshakeResponder(nil))

	s := startTestSession(t, tr)

	assert.Equal(t, models.PhaseConnected, s.State().Phase)
	assert.Equal(t, "Test Node", s.SelfInfo().Name)
	assert.Equal(t, "RAK4631", s.DeviceInfo().Model)

	sent := tr.Sent()
	require.NotEmpty(t, sent)
	assert.Equal(t, protocol.CmdAppStart, sent[0][0])
}

func TestSessionStart_ConnectFailure(t *testing.T) {
	tr := loopback.New()
	tr.FailConnect(assert.AnError)

	s := newTestSession(t, tr)
	err := s.Start(t.Context())
	require.ErrorIs(t, err, perrors.ErrConnectionFailed)
	assert.Equal(t, models.PhaseFailed, s.State().Phase)
}

func TestSessionStart_HandshakeTimeout(t *testing.T) {
	tr := loopback.New()
	// device never answers session start

	s := newTestSession(t, tr)
	err := s.Start(t.Context())
	require.ErrorIs(t, err, perrors.ErrCommandTimeout)
	assert.Equal(t, models.PhaseFailed, s.State().Phase)
}

func TestSessionStart_Twice(t *testing.T) {
	tr := loopback.New()
	tr.SetResponder(handshakeResponder(nil))

	s := startTestSession(t, tr)
	err := s.Start(t.Context())
	require.ErrorIs(t, err, perrors.ErrAlreadyStarted)
}

func TestStop(t *testing.T) {
	tr := loopback.New()
	tr.SetResponder(handshakeResponder(nil))

	s := newTestSession(t, tr)
	require.NoError(t, s.Start(t.Context()))
	require.NoError(t, s.Stop(t.Context()))

	assert.Equal(t, models.PhaseDisconnected, s.State().Phase)
	assert.False(t, tr.Connected())

	// repeated stop is a no-op
	require.NoError(t, s.Stop(t.Context()))
}

func TestCommand_NotConnected(t *testing.T) {
	s := newTestSession(t, loopback.New())
	err := s.SetName(t.Context(), "x")
	require.ErrorIs(t, err, perrors.ErrNotConnected)
}

func TestAckCommand_OK(t *testing.T) {
	tr := loopback.New()
	tr.SetResponder(handshakeResponder(func(sent []byte) [][]byte {
		if sent[0] == protocol.CmdSetName {
			return [][]byte{{protocol.RespOK}}
		}
		return nil
	}))

	s := startTestSession(t, tr)
	require.NoError(t, s.SetName(t.Context(), "Summit"))
}

func TestAckCommand_DeviceError(t *testing.T) {
	tr := loopback.New()
	tr.SetResponder(handshakeResponder(func(sent []byte) [][]byte {
		if sent[0] == protocol.CmdSetName {
			return [][]byte{{protocol.RespErr, 0x02}}
		}
		return nil
	}))

	s := startTestSession(t, tr)
	err := s.SetName(t.Context(), "Summit")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "device error code 2")
}

func TestAckCommand_Disabled(t *testing.T) {
	tr := loopback.New()
	tr.SetResponder(handshakeResponder(func(sent []byte) [][]byte {
		if sent[0] == protocol.CmdExportPrivateKey {
			return [][]byte{{protocol.RespDisabled}}
		}
		return nil
	}))

	s := startTestSession(t, tr)
	_, err := s.ExportPrivateKey(t.Context())
	require.Error(t, err)
}

func TestGetMessage_TimeoutBounded(t *testing.T) {
	tr := loopback.New()
	tr.SetResponder(handshakeResponder(nil)) // silent on get message

	s := startTestSession(t, tr)

	start := time.Now()
	_, _, err := s.GetMessage(t.Context())
	require.ErrorIs(t, err, perrors.ErrCommandTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestGetMessage_Drains(t *testing.T) {
	fetches := 0
	tr := loopback.New()
	tr.SetResponder(handshakeResponder(func(sent []byte) [][]byte {
		if sent[0] != protocol.CmdGetMessage {
			return nil
		}
		fetches++
		if fetches == 1 {
			payload := []byte{0x01, 0x23, 0x45, 0x67, 0x89, 0xAB, 0, 0}
			payload = append(payload, 0x80, 0x00, 0x92, 0x65)
			payload = append(payload, "queued"...)
			return [][]byte{append([]byte{protocol.RespContactMsg}, payload...)}
		}
		return [][]byte{{protocol.RespNoMoreMessages}}
	}))

	s := startTestSession(t, tr)

	ev, more, err := s.GetMessage(t.Context())
	require.NoError(t, err)
	require.True(t, more)
	msg, ok := ev.(models.ContactMessage)
	require.True(t, ok)
	assert.Equal(t, "queued", msg.Text)

	_, more, err = s.GetMessage(t.Context())
	require.NoError(t, err)
	assert.False(t, more)
}

func TestSendMessage(t *testing.T) {
	tr := loopback.New()
	tr.SetResponder(handshakeResponder(func(sent []byte) [][]byte {
		if sent[0] == protocol.CmdSendMessage {
			return [][]byte{sentFrame(testAck, 1500)}
		}
		return nil
	}))

	s := startTestSession(t, tr)

	info, err := s.SendMessage(t.Context(), []byte{0x01, 0x23, 0x45, 0x67, 0x89, 0xAB}, "hello")
	require.NoError(t, err)
	assert.Equal(t, testAck, info.ExpectedAck)
	assert.Equal(t, 1500*time.Millisecond, info.SuggestedTimeout())
}

func TestWaitForDelivery(t *testing.T) {
	tr := loopback.New()
	tr.SetResponder(handshakeResponder(func(sent []byte) [][]byte {
		if sent[0] == protocol.CmdSendMessage {
			return [][]byte{sentFrame(testAck, 1500)}
		}
		return nil
	}))

	s := startTestSession(t, tr)

	info, err := s.SendMessage(t.Context(), []byte{0x01}, "hi")
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		// a stale confirmation first, then the real one
		tr.Inject(confirmedFrame(models.HexBytes{1, 2, 3, 4}, 50))
		tr.Inject(confirmedFrame(testAck, 420))
	}()

	conf, err := s.WaitForDelivery(t.Context(), info, time.Second)
	require.NoError(t, err)
	assert.Equal(t, testAck, conf.AckCode)
	assert.Equal(t, 420*time.Millisecond, conf.RoundTrip)
}

func TestSendMessageWithRetry_Exhausted(t *testing.T) {
	tr := loopback.New()
	tr.SetResponder(handshakeResponder(func(sent []byte) [][]byte {
		switch sent[0] {
		case protocol.CmdSendMessage:
			// accepted but never confirmed
			return [][]byte{sentFrame(testAck, 10)}
		case protocol.CmdResetPath:
			return [][]byte{{protocol.RespOK}}
		}
		return nil
	}))

	s := startTestSession(t, tr)

	_, _, err := s.SendMessageWithRetry(t.Context(), []byte{0x01}, "lost", RetryPolicy{
		MaxAttempts: 3,
		FloodAfter:  2,
		AckTimeout:  30 * time.Millisecond,
	})
	require.ErrorIs(t, err, perrors.ErrRetryExhausted)

	var sends, resets int
	var attempts []byte
	for _, frame := range tr.Sent() {
		switch frame[0] {
		case protocol.CmdSendMessage:
			sends++
			attempts = append(attempts, frame[2])
		case protocol.CmdResetPath:
			resets++
		}
	}
	assert.Equal(t, 3, sends)
	assert.Equal(t, []byte{0, 1, 2}, attempts)
	// flood fallback fired after the second failed attempt
	assert.Equal(t, 1, resets)
}

func TestSendMessageWithRetry_FirstAttemptDelivered(t *testing.T) {
	tr := loopback.New()
	tr.SetResponder(handshakeResponder(func(sent []byte) [][]byte {
		if sent[0] == protocol.CmdSendMessage {
			return [][]byte{sentFrame(testAck, 1000), confirmedFrame(testAck, 80)}
		}
		return nil
	}))

	s := startTestSession(t, tr)

	info, conf, err := s.SendMessageWithRetry(t.Context(), []byte{0x01}, "hi", RetryPolicy{
		MaxAttempts: 3,
		FloodAfter:  2,
	})
	require.NoError(t, err)
	assert.Equal(t, testAck, info.ExpectedAck)
	assert.Equal(t, 80*time.Millisecond, conf.RoundTrip)

	var sends int
	for _, frame := range tr.Sent() {
		if frame[0] == protocol.CmdSendMessage {
			sends++
		}
	}
	assert.Equal(t, 1, sends)
}

func TestSyncContacts(t *testing.T) {
	tr := loopback.New()
	tr.SetResponder(handshakeResponder(func(sent []byte) [][]byte {
		if sent[0] != protocol.CmdGetContacts {
			return nil
		}
		start := make([]byte, 5)
		start[0] = protocol.RespContactsStart
		binary.LittleEndian.PutUint32(start[1:], 2)
		end := make([]byte, 5)
		end[0] = protocol.RespContactsEnd
		binary.LittleEndian.PutUint32(end[1:], 1704067300)
		return [][]byte{
			start,
			contactFrame(0x01, "Alice", 1704067200),
			contactFrame(0x02, "Bob", 1704067300),
			end,
		}
	}))

	s := startTestSession(t, tr)

	received, err := s.SyncContacts(t.Context())
	require.NoError(t, err)
	require.Len(t, received, 2)
	assert.Equal(t, "Alice", received[0].Name)

	// the projection loop applies the same transfer
	require.Eventually(t, func() bool {
		return s.Contacts().Count() == 2
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, time.Unix(1704067300, 0).UTC(), s.Contacts().Watermark())
}

func TestSyncContacts_IncrementalAfterFullSync(t *testing.T) {
	tr := loopback.New()
	tr.SetResponder(handshakeResponder(func(sent []byte) [][]byte {
		if sent[0] != protocol.CmdGetContacts {
			return nil
		}
		start := make([]byte, 5)
		start[0] = protocol.RespContactsStart
		end := make([]byte, 5)
		end[0] = protocol.RespContactsEnd
		binary.LittleEndian.PutUint32(end[1:], 1704067200)
		return [][]byte{start, contactFrame(0x01, "Alice", 1704067200), end}
	}))

	s := startTestSession(t, tr)

	_, err := s.SyncContacts(t.Context())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return !s.Contacts().Watermark().IsZero()
	}, time.Second, 10*time.Millisecond)

	_, err = s.SyncContacts(t.Context())
	require.NoError(t, err)

	var fetches [][]byte
	for _, frame := range tr.Sent() {
		if frame[0] == protocol.CmdGetContacts {
			fetches = append(fetches, frame)
		}
	}
	require.Len(t, fetches, 2)
	assert.Len(t, fetches[0], 1, "first sync is a full fetch")
	assert.Len(t, fetches[1], 5, "second sync carries the since watermark")
	assert.Equal(t, uint32(1704067200), binary.LittleEndian.Uint32(fetches[1][1:]))
}

func TestAutoFetch(t *testing.T) {
	var fetches atomic.Int32
	tr := loopback.New()
	tr.SetResponder(handshakeResponder(func(sent []byte) [][]byte {
		if sent[0] != protocol.CmdGetMessage {
			return nil
		}
		if fetches.Add(1) == 1 {
			payload := []byte{0x01, 0x23, 0x45, 0x67, 0x89, 0xAB, 0, 0}
			payload = append(payload, 0x80, 0x00, 0x92, 0x65)
			payload = append(payload, "auto"...)
			return [][]byte{append([]byte{protocol.RespContactMsg}, payload...)}
		}
		return [][]byte{{protocol.RespNoMoreMessages}}
	}))

	s := startTestSession(t, tr)

	ch, err := s.Subscribe(t.Context())
	require.NoError(t, err)
	defer s.Unsubscribe(ch)

	require.NoError(t, s.StartAutoFetch(t.Context()))
	defer s.StopAutoFetch()

	// starting twice is rejected
	require.ErrorIs(t, s.StartAutoFetch(t.Context()), perrors.ErrAlreadyStarted)

	tr.Inject([]byte{protocol.PushMessagesWaiting})

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if msg, ok := ev.(models.ContactMessage); ok {
				assert.Equal(t, "auto", msg.Text)
				// the loop kept fetching until the queue drained
				require.Eventually(t, func() bool { return fetches.Load() >= 2 }, time.Second, 10*time.Millisecond)
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for auto-fetched message")
		}
	}
}

func TestStopAutoFetch_NotRunning(t *testing.T) {
	tr := loopback.New()
	tr.SetResponder(handshakeResponder(nil))
	s := startTestSession(t, tr)
	s.StopAutoFetch() // no-op
}

func TestReceiveLoop_SurvivesMalformedFrames(t *testing.T) {
	tr := loopback.New()
	tr.SetResponder(handshakeResponder(nil))

	s := startTestSession(t, tr)

	ch, err := s.Subscribe(t.Context())
	require.NoError(t, err)
	defer s.Unsubscribe(ch)

	tr.Inject([]byte{0x7F, 0x01, 0x02})                  // unknown code
	tr.Inject([]byte{protocol.RespSent, 0x01})           // truncated
	tr.Inject([]byte{protocol.PushMessagesWaiting})      // valid after garbage

	var sawFailures int
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			switch ev.(type) {
			case models.ParseFailure:
				sawFailures++
			case models.MessagesWaiting:
				assert.Equal(t, 2, sawFailures)
				assert.Equal(t, models.PhaseConnected, s.State().Phase)
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for events")
		}
	}
}

func TestLinkLoss(t *testing.T) {
	tr := loopback.New()
	tr.SetResponder(handshakeResponder(nil))

	s := startTestSession(t, tr)

	ch, err := s.Subscribe(t.Context())
	require.NoError(t, err)
	defer s.Unsubscribe(ch)

	// device side drops the link
	require.NoError(t, tr.Disconnect())

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if _, ok := ev.(models.Disconnected); ok {
				assert.Equal(t, models.PhaseDisconnected, s.State().Phase)
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for Disconnected event")
		}
	}
}

func TestStop_AfterLinkLossReleasesPublisher(t *testing.T) {
	tr := loopback.New()
	tr.SetResponder(handshakeResponder(nil))

	s := startTestSession(t, tr)

	ch, err := s.Subscribe(t.Context())
	require.NoError(t, err)

	require.NoError(t, tr.Disconnect())

	deadline := time.Now().Add(2 * time.Second)
	for s.State().Phase != models.PhaseDisconnected {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for link loss")
		}
		time.Sleep(5 * time.Millisecond)
	}

	require.NoError(t, s.Stop(t.Context()))

	// The session owns its publisher; Stop after a link loss must still
	// close it, which closes every subscription channel.
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-time.After(2 * time.Second):
			t.Fatal("subscription channel still open after Stop")
		}
	}
}

func TestGetStats(t *testing.T) {
	tr := loopback.New()
	tr.SetResponder(handshakeResponder(func(sent []byte) [][]byte {
		if sent[0] != protocol.CmdGetStats {
			return nil
		}
		switch sent[1] {
		case byte(models.StatsAreaCore):
			payload := make([]byte, 9)
			binary.LittleEndian.PutUint16(payload, 4100)
			return [][]byte{append([]byte{protocol.RespCoreStats}, payload...)}
		case byte(models.StatsAreaRadio):
			return [][]byte{append([]byte{protocol.RespRadioStats}, make([]byte, 12)...)}
		default:
			return [][]byte{append([]byte{protocol.RespPacketStats}, make([]byte, 24)...)}
		}
	}))

	s := startTestSession(t, tr)

	core, err := s.GetCoreStats(t.Context())
	require.NoError(t, err)
	assert.Equal(t, uint16(4100), core.BatteryMilliVolts)

	_, err = s.GetRadioStats(t.Context())
	require.NoError(t, err)

	_, err = s.GetPacketStats(t.Context())
	require.NoError(t, err)
}

func TestSign(t *testing.T) {
	sig := make(models.HexBytes, 64)
	sig[0] = 0x42
	var dataChunks int

	tr := loopback.New()
	tr.SetResponder(handshakeResponder(func(sent []byte) [][]byte {
		switch sent[0] {
		case protocol.CmdSignStart:
			return [][]byte{{protocol.RespSignStart}}
		case protocol.CmdSignData:
			dataChunks++
			return [][]byte{{protocol.RespOK}}
		case protocol.CmdSignFinish:
			return [][]byte{append([]byte{protocol.RespSignature}, sig...)}
		}
		return nil
	}))

	s := startTestSession(t, tr)

	data := make([]byte, 300) // forces chunking
	got, err := s.Sign(t.Context(), data)
	require.NoError(t, err)
	assert.Equal(t, sig, got)
	assert.Equal(t, 3, dataChunks)
}
