package sim_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"detector-capture/pkg/signal"
	"detector-capture/pkg/signal/sim"
)

func TestGetPut(t *testing.T) {
	ctx := context.Background()
	s := sim.New("test:Value", 3)

	v, err := s.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, v)

	require.NoError(t, signal.Set(ctx, s, 7, time.Second))
	v, err = s.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Equal(t, 1, s.Puts())
}

func TestAwaitValueResolves(t *testing.T) {
	ctx := context.Background()
	s := sim.New("test:Flag", false)

	settle, err := s.AwaitValue(func(v bool) bool { return v }, time.Second)
	require.NoError(t, err)
	assert.False(t, settle.Done())

	_, err = s.Put(ctx, true, time.Second)
	require.NoError(t, err)
	require.NoError(t, settle.Await(ctx))
	assert.False(t, s.SettlePending())
}

func TestAwaitValueAlreadyMatching(t *testing.T) {
	s := sim.New("test:Flag", true)
	settle, err := s.AwaitValue(func(v bool) bool { return v }, time.Second)
	require.NoError(t, err)
	require.NoError(t, settle.Await(context.Background()))
}

func TestAwaitValueTimesOut(t *testing.T) {
	s := sim.New("test:Flag", false)
	settle, err := s.AwaitValue(func(v bool) bool { return v }, 20*time.Millisecond)
	require.NoError(t, err)

	err = settle.Await(context.Background())
	assert.True(t, signal.IsTimeout(err))
	assert.False(t, s.SettlePending())
}

func TestSecondSettleRegistrationRejected(t *testing.T) {
	s := sim.New("test:Flag", false)
	_, err := s.AwaitValue(func(v bool) bool { return v }, time.Second)
	require.NoError(t, err)

	_, err = s.AwaitValue(func(v bool) bool { return v }, time.Second)
	assert.ErrorIs(t, err, signal.ErrSettlePending)
}

func TestSubscribeStartsWithCurrentValue(t *testing.T) {
	ctx := context.Background()
	s := sim.New("test:Counter", 5)

	updates, cancel, err := s.Subscribe(ctx)
	require.NoError(t, err)
	defer cancel()

	assert.Equal(t, 5, <-updates)
	_, err = s.Put(ctx, 6, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 6, <-updates)
}

// A subscriber that falls behind may lose intermediate updates, but the
// newest value must survive; a counter watcher would otherwise miss the
// terminal count and time out.
func TestSlowSubscriberKeepsNewestValue(t *testing.T) {
	ctx := context.Background()
	s := sim.New("test:NumCaptured", 0)

	updates, cancel, err := s.Subscribe(ctx)
	require.NoError(t, err)
	defer cancel()

	// overflow the subscriber buffer without draining it
	for i := 1; i <= 200; i++ {
		_, err := s.Put(ctx, i, time.Second)
		require.NoError(t, err)
	}

	last := -1
	for {
		select {
		case v := <-updates:
			last = v
		default:
			assert.Equal(t, 200, last)
			return
		}
	}
}

func TestOnPutRunsBeforeAck(t *testing.T) {
	ctx := context.Background()
	s := sim.New("test:Path", "")
	processed := ""
	s.OnPut(func(v string) { processed = v })

	require.NoError(t, signal.Set(ctx, s, "/data", time.Second))
	assert.Equal(t, "/data", processed)
}

func TestFailPuts(t *testing.T) {
	s := sim.New("test:Flag", false)
	s.FailPuts(assert.AnError)
	_, err := s.Put(context.Background(), true, time.Second)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Zero(t, s.Puts())
}
