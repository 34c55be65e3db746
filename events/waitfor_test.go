package events_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/mikewren/PocketMesh-sub010/errors"
	"github.com/mikewren/PocketMesh-sub010/events"
	"github.com/mikewren/PocketMesh-sub010/events/memory"
	"github.com/mikewren/PocketMesh-sub010/models"
)

func TestWaitFor_Match(t *testing.T) {
	pub := memory.NewInMemoryPublisher(10)
	defer pub.Close()

	ctx := t.Context()

	done := make(chan struct{})
	var got models.Event
	var waitErr error
	go func() {
		defer close(done)
		got, waitErr = events.WaitFor(ctx, pub, func(ev models.Event) bool {
			_, ok := ev.(models.NoMoreMessages)
			return ok
		}, time.Second)
	}()

	// the waiter's subscription races with Publish, give it a moment
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, pub.Publish(ctx, models.MessagesWaiting{}))
	require.NoError(t, pub.Publish(ctx, models.NoMoreMessages{}))

	<-done
	require.NoError(t, waitErr)
	_, ok := got.(models.NoMoreMessages)
	assert.True(t, ok)
}

func TestWaitFor_Timeout(t *testing.T) {
	pub := memory.NewInMemoryPublisher(10)
	defer pub.Close()

	start := time.Now()
	_, err := events.WaitFor(t.Context(), pub, func(models.Event) bool {
		return true
	}, 50*time.Millisecond)

	require.ErrorIs(t, err, perrors.ErrWaitTimeout)
	assert.Less(t, time.Since(start), time.Second)
}

func TestWaiter_SubscribesBeforeWait(t *testing.T) {
	pub := memory.NewInMemoryPublisher(10)
	defer pub.Close()

	ctx := t.Context()

	w, err := events.NewWaiter(ctx, pub, func(ev models.Event) bool {
		_, ok := ev.(models.SignStarted)
		return ok
	})
	require.NoError(t, err)

	// published between NewWaiter and Wait: must still be delivered
	require.NoError(t, pub.Publish(ctx, models.SignStarted{}))

	got, err := w.Wait(ctx, time.Second)
	require.NoError(t, err)
	_, ok := got.(models.SignStarted)
	assert.True(t, ok)
}

func TestWaiter_Cancel(t *testing.T) {
	pub := memory.NewInMemoryPublisher(10)
	defer pub.Close()

	w, err := events.NewWaiter(t.Context(), pub, func(models.Event) bool { return true })
	require.NoError(t, err)
	w.Cancel()

	// the subscription is gone, publishing matches no one
	require.NoError(t, pub.Publish(t.Context(), models.MessagesWaiting{}))
}

func TestWaitFor_TwoConcurrentWaiters(t *testing.T) {
	pub := memory.NewInMemoryPublisher(10)
	defer pub.Close()

	ctx := t.Context()

	w1, err := events.NewWaiter(ctx, pub, func(ev models.Event) bool {
		conf, ok := ev.(models.DeliveryConfirmed)
		return ok && conf.AckCode.String() == "00000001"
	})
	require.NoError(t, err)

	w2, err := events.NewWaiter(ctx, pub, func(ev models.Event) bool {
		conf, ok := ev.(models.DeliveryConfirmed)
		return ok && conf.AckCode.String() == "00000002"
	})
	require.NoError(t, err)

	require.NoError(t, pub.Publish(ctx, models.DeliveryConfirmed{AckCode: models.HexBytes{0, 0, 0, 2}}))
	require.NoError(t, pub.Publish(ctx, models.DeliveryConfirmed{AckCode: models.HexBytes{0, 0, 0, 1}}))

	var wg sync.WaitGroup
	wg.Add(2)
	var got1, got2 models.Event
	var err1, err2 error
	go func() { defer wg.Done(); got1, err1 = w1.Wait(ctx, time.Second) }()
	go func() { defer wg.Done(); got2, err2 = w2.Wait(ctx, time.Second) }()
	wg.Wait()

	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, "00000001", got1.(models.DeliveryConfirmed).AckCode.String())
	assert.Equal(t, "00000002", got2.(models.DeliveryConfirmed).AckCode.String())
}

func TestWaitFor_ClosedPublisher(t *testing.T) {
	pub := memory.NewInMemoryPublisher(10)

	w, err := events.NewWaiter(t.Context(), pub, func(models.Event) bool { return true })
	require.NoError(t, err)

	require.NoError(t, pub.Close())

	_, err = w.Wait(t.Context(), time.Second)
	require.ErrorIs(t, err, perrors.ErrClosed)
}
