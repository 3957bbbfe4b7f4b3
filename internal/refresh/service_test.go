package refresh

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "regionscan/pkg/logx"
)

func TestStartSchedulesNextRun(t *testing.T) {
	s := New(Config{Timezone: "UTC"}, logx.Nop())
	assert.True(t, s.Next().IsZero())

	require.NoError(t, s.Start(context.Background(), "15m", func(context.Context) error { return nil }))
	defer s.Stop(context.Background())

	next := s.Next()
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), next, 2*time.Second)
	assert.ErrorIs(t, s.Start(context.Background(), "15m", func(context.Context) error { return nil }), ErrStarted)
}

func TestStartRejectsBadInput(t *testing.T) {
	s := New(Config{}, logx.Nop())
	assert.Error(t, s.Start(context.Background(), "nope", func(context.Context) error { return nil }))
	assert.Error(t, s.Start(context.Background(), "cron:61 * * * *", func(context.Context) error { return nil }))
	assert.Error(t, s.Start(context.Background(), "5m", nil))
}

func TestTriggerSkipsOverlap(t *testing.T) {
	s := New(Config{}, logx.Nop())
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	var calls atomic.Int32
	require.NoError(t, s.Start(context.Background(), "@daily", func(context.Context) error {
		calls.Add(1)
		entered <- struct{}{}
		<-release
		return errors.New("partial")
	}))
	defer s.Stop(context.Background())

	done := make(chan bool)
	go func() { done <- s.Trigger() }()
	<-entered

	assert.False(t, s.Trigger())
	close(release)
	assert.True(t, <-done)

	runs, skipped := s.Stats()
	assert.EqualValues(t, 1, runs)
	assert.EqualValues(t, 1, skipped)
	assert.EqualValues(t, 1, calls.Load())
}

func TestTriggerAfterContextEnds(t *testing.T) {
	s := New(Config{}, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx, "1h", func(context.Context) error { return nil }))
	defer s.Stop(context.Background())
	cancel()
	assert.False(t, s.Trigger())
}

func TestIntervalFires(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for a one-second tick")
	}
	s := New(Config{}, logx.Nop())
	var calls atomic.Int32
	require.NoError(t, s.Start(context.Background(), "every:1s", func(context.Context) error {
		calls.Add(1)
		return nil
	}))
	defer s.Stop(context.Background())
	require.Eventually(t, func() bool { return calls.Load() >= 1 }, 3*time.Second, 10*time.Millisecond)
}
