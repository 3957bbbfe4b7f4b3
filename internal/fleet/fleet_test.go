package fleet

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regionscan/internal/remote"
	"regionscan/internal/task/progress"
	"regionscan/internal/task/worker"
	logx "regionscan/pkg/logx"
)

const waitFor = 2 * time.Second

var (
	tA = remote.Target{Account: "1", Region: "eu-west-1", Service: "ec2"}
	tB = remote.Target{Account: "1", Region: "us-east-1", Service: "ec2"}
)

// taskFill seeds n no-op tasks; block, when set, holds every task open.
func taskFill(n int, block <-chan struct{}) worker.Filler {
	return worker.FillFunc(func(_ context.Context, w *worker.Worker) {
		for i := 0; i < n; i++ {
			w.Enqueue(0, worker.Task{Name: "t", Run: func(context.Context, worker.Token) error {
				if block != nil {
					<-block
				}
				return nil
			}})
		}
	})
}

func builder(n int, block <-chan struct{}) BuildFunc {
	return func(t remote.Target) (*worker.Worker, error) {
		return worker.New(worker.Config{Name: t.Key(), Delay: time.Millisecond}, taskFill(n, block), logx.Nop(), nil), nil
	}
}

func TestEnsureBuildsOnce(t *testing.T) {
	f := New(logx.Nop())
	defer f.Close()
	builds := 0
	build := func(t remote.Target) (*worker.Worker, error) {
		builds++
		return worker.New(worker.Config{Name: t.Key()}, nil, logx.Nop(), nil), nil
	}
	w1, err := f.Ensure(tA, build)
	require.NoError(t, err)
	w2, err := f.Ensure(tA, build)
	require.NoError(t, err)
	assert.Same(t, w1, w2)
	assert.Equal(t, 1, builds)

	_, err = f.Ensure(tB, build)
	require.NoError(t, err)
	assert.Equal(t, []remote.Target{tA, tB}, f.Targets())

	got, ok := f.Get(tB)
	require.True(t, ok)
	assert.Equal(t, tB.Key(), got.Name())

	_, err = f.Ensure(remote.Target{}, build)
	assert.Error(t, err)
	_, err = f.Ensure(remote.Target{Account: "2", Region: "r", Service: "s"}, func(remote.Target) (*worker.Worker, error) {
		return nil, errors.New("no credentials")
	})
	assert.Error(t, err)
	assert.Equal(t, 2, f.Len())
}

func TestAggregateProgress(t *testing.T) {
	f := New(logx.Nop())
	defer f.Close()
	_, err := f.Ensure(tA, builder(2, nil))
	require.NoError(t, err)
	_, err = f.Ensure(tB, builder(3, nil))
	require.NoError(t, err)

	require.NoError(t, f.StartAll())
	require.Eventually(t, func() bool { return !f.Running() && f.Progress().Completed == 5 }, waitFor, time.Millisecond)

	agg := f.Progress()
	assert.Equal(t, progress.Counters{Dispatched: 5, Completed: 5}, agg.Counters)
	assert.Equal(t, 2, agg.Workers)
	assert.Equal(t, 2, agg.Started)
	assert.Equal(t, 2, agg.Finished)
	assert.Len(t, f.Snapshot(), 2)
}

func TestResetAllSkipsRunningWorkers(t *testing.T) {
	f := New(logx.Nop())
	defer f.Close()
	block := make(chan struct{})
	defer close(block)

	busy, err := f.Ensure(tA, builder(1, block))
	require.NoError(t, err)
	idle, err := f.Ensure(tB, builder(1, nil))
	require.NoError(t, err)
	require.NoError(t, f.StartAll())
	require.Eventually(t, func() bool { return idle.Finished() && busy.Snapshot().Processing }, waitFor, time.Millisecond)
	idle.Stop()

	err = f.ResetAll()
	require.ErrorIs(t, err, worker.ErrRunning)
	assert.Contains(t, err.Error(), tA.Key())
	assert.Equal(t, progress.Counters{}, idle.Progress())
	assert.Equal(t, uint64(1), busy.Progress().Dispatched)
}

func TestResetAllRefillsStartedIdleWorkers(t *testing.T) {
	f := New(logx.Nop())
	defer f.Close()

	w, err := f.Ensure(tA, builder(2, nil))
	require.NoError(t, err)
	require.NoError(t, f.StartAll())
	require.Eventually(t, w.Finished, waitFor, time.Millisecond)
	epoch := w.Token()

	require.NoError(t, f.ResetAll())
	assert.True(t, w.Started())
	assert.Greater(t, w.Token(), epoch)
	require.Eventually(t, func() bool { return w.Finished() && w.Progress().Completed == 2 }, waitFor, time.Millisecond)
	assert.Equal(t, progress.Counters{Dispatched: 2, Completed: 2}, w.Progress())
}

func TestRescanRestartsIdleWorkers(t *testing.T) {
	f := New(logx.Nop())
	defer f.Close()
	block := make(chan struct{})

	busy, err := f.Ensure(tA, builder(1, block))
	require.NoError(t, err)
	idle, err := f.Ensure(tB, builder(2, nil))
	require.NoError(t, err)
	require.NoError(t, f.StartAll())
	require.Eventually(t, func() bool { return idle.Progress().Completed == 2 && busy.Snapshot().Processing }, waitFor, time.Millisecond)
	epoch := idle.Token()

	res, err := f.Rescan()
	require.NoError(t, err)
	assert.Equal(t, []string{tB.Key()}, res.Restarted)
	assert.Equal(t, []string{tA.Key()}, res.Skipped)
	assert.Equal(t, "restarted 1, skipped 1 busy", res.String())

	assert.Greater(t, idle.Token(), epoch)
	require.Eventually(t, func() bool { return idle.Progress().Completed == 2 && idle.Finished() }, waitFor, time.Millisecond)

	close(block)
	require.Eventually(t, busy.Finished, waitFor, time.Millisecond)
	assert.Equal(t, progress.Counters{Dispatched: 1, Completed: 1}, busy.Progress())
}

func TestCloseRejectsNewTargets(t *testing.T) {
	f := New(logx.Nop())
	w, err := f.Ensure(tA, builder(0, nil))
	require.NoError(t, err)
	f.Close()
	f.Close()
	assert.ErrorIs(t, w.Start(), worker.ErrClosed)
	_, err = f.Ensure(tB, builder(0, nil))
	assert.ErrorIs(t, err, ErrClosed)
}
