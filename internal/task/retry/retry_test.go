package retry

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoRetriesUntilSuccess(t *testing.T) {
	var attempts []int
	err := Do(context.Background(), Policy{Max: 5, Base: time.Millisecond}, func(_ context.Context, attempt int) error {
		attempts = append(attempts, attempt)
		if attempt < 3 {
			return errors.New("flaky")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, attempts)
}

func TestDoGivesUpAfterMax(t *testing.T) {
	boom := errors.New("down")
	calls := 0
	err := Do(context.Background(), Policy{Max: 2, Base: time.Millisecond}, func(context.Context, int) error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnNoRetry(t *testing.T) {
	boom := errors.New("bad input")
	calls := 0
	err := Do(context.Background(), Policy{Max: 5, Base: time.Millisecond}, func(context.Context, int) error {
		calls++
		return NoRetry(boom)
	})
	require.ErrorIs(t, err, boom)
	assert.True(t, IsNoRetry(err))
	assert.Equal(t, 1, calls)
}

func TestDoHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, Policy{Max: 10, Base: time.Hour}, func(context.Context, int) error {
		calls++
		cancel()
		return errors.New("flaky")
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, err.Error(), "flaky")
	assert.Equal(t, 1, calls)
}

func TestDelayBackoffAndHints(t *testing.T) {
	p := Policy{Base: 100 * time.Millisecond, MaxDelay: time.Second, Jitter: -1}
	assert.Equal(t, 100*time.Millisecond, p.Delay(1, nil))
	assert.Equal(t, 200*time.Millisecond, p.Delay(2, nil))
	assert.Equal(t, 400*time.Millisecond, p.Delay(3, nil))
	assert.Equal(t, time.Second, p.Delay(10, nil))

	hinted := After(errors.New("throttled"), 300*time.Millisecond)
	assert.Equal(t, 300*time.Millisecond, p.Delay(1, hinted))
	assert.Equal(t, time.Second, p.Delay(1, After(errors.New("throttled"), time.Minute)))

	var ae AfterError
	require.ErrorAs(t, hinted, &ae)
	assert.Nil(t, After(nil, time.Second))
	assert.Nil(t, NoRetry(nil))
}

func TestJitterStaysInBounds(t *testing.T) {
	p := Policy{Base: 100 * time.Millisecond, MaxDelay: time.Second, Jitter: 0.5}.withDefaults()
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		d := p.delay(1, nil, rng)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}
}
