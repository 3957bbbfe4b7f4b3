package inventory

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regionscan/internal/remote"
	"regionscan/internal/storage"
	"regionscan/internal/task/progress"
	"regionscan/internal/task/retry"
	"regionscan/internal/task/worker"
	logx "regionscan/pkg/logx"
)

const waitFor = 3 * time.Second

var target = remote.Target{Account: "123456789012", Region: "eu-west-1", Service: "ec2"}

type flatPricer struct{ perResource float64 }

func (p flatPricer) MonthlyCost(r remote.Resource) (float64, error) {
	return p.perResource + r.Metrics["cpu"], nil
}

func newTestWorker(t *testing.T, fill worker.Filler) *worker.Worker {
	t.Helper()
	w := worker.New(worker.Config{Name: target.Key(), Delay: time.Millisecond}, fill, logx.Nop(), nil)
	t.Cleanup(w.Close)
	return w
}

func fastRetry() retry.Policy {
	return retry.Policy{Max: 3, Base: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestScanListsAndEnrichesEveryResource(t *testing.T) {
	api := remote.NewSimulated(remote.SimulatedConfig{ResourcesPerTarget: 5})
	store := storage.NewMemory()
	p, err := NewProducer(Config{Target: target, PageSize: 2, Metrics: []string{"cpu", "net"}, Retry: fastRetry()}, Deps{
		Lister:  api,
		Metrics: api,
		Pricer:  flatPricer{perResource: 10},
		Store:   store,
	})
	require.NoError(t, err)

	w := newTestWorker(t, p)
	require.NoError(t, w.Start())
	require.Eventually(t, func() bool { return w.Progress().Completed == 8 }, waitFor, time.Millisecond)
	require.Eventually(t, w.Finished, waitFor, time.Millisecond)

	// 3 listing pages + 5 enrichment tasks.
	assert.Equal(t, progress.Counters{Dispatched: 8, Completed: 8}, w.Progress())

	got, err := store.ListResources(context.Background(), target)
	require.NoError(t, err)
	require.Len(t, got, 5)
	for _, r := range got {
		assert.Equal(t, target, r.Target)
		assert.Contains(t, r.Metrics, "cpu")
		assert.Contains(t, r.Metrics, "net")
		assert.InDelta(t, 10+r.Metrics["cpu"], r.MonthlyCost, 1e-9)
		assert.False(t, r.ScannedAt.IsZero())
	}
}

func TestListingOnlyWithoutEnrichment(t *testing.T) {
	api := remote.NewSimulated(remote.SimulatedConfig{ResourcesPerTarget: 3})
	store := storage.NewMemory()
	p, err := NewProducer(Config{Target: target, PageSize: 10}, Deps{Lister: api, Store: store})
	require.NoError(t, err)

	w := newTestWorker(t, p)
	require.NoError(t, w.Start())
	require.Eventually(t, func() bool { return w.Progress().Completed == 1 && w.Finished() }, waitFor, time.Millisecond)
	assert.Equal(t, 3, store.Len())
	assert.Equal(t, progress.Counters{Dispatched: 1, Completed: 1}, w.Progress())
}

// brokenLister reports more pages but never hands out a cursor.
type brokenLister struct{ calls atomic.Int32 }

func (b *brokenLister) ListResources(_ context.Context, req remote.ListRequest) (remote.ListPage, error) {
	b.calls.Add(1)
	return remote.ListPage{
		Resources: []remote.Resource{{ID: "r-" + req.Cursor, Type: "instance"}},
		HasMore:   true,
	}, nil
}

func TestPaginationProtocolViolationFailsTheListing(t *testing.T) {
	lister := &brokenLister{}
	store := storage.NewMemory()
	p, err := NewProducer(Config{Target: target}, Deps{Lister: lister, Store: store})
	require.NoError(t, err)

	w := newTestWorker(t, p)
	require.NoError(t, w.Start())
	require.Eventually(t, func() bool { return w.Progress().Failed == 1 }, waitFor, time.Millisecond)
	require.Eventually(t, w.Finished, waitFor, time.Millisecond)

	assert.EqualValues(t, 1, lister.calls.Load())
	assert.Equal(t, progress.Counters{Dispatched: 1, Failed: 1}, w.Progress())
	// The page itself was folded before the violation was detected.
	assert.Equal(t, 1, store.Len())
	hist := w.Snapshot().History
	require.Len(t, hist, 1)
	assert.Contains(t, hist[0].Error, "next-page request")
}

type failingMetrics struct{ calls atomic.Int32 }

func (f *failingMetrics) Metric(context.Context, remote.Target, string, string) (float64, error) {
	f.calls.Add(1)
	return 0, errors.New("metrics backend down")
}

func TestEnrichmentFailureIsCountedAfterRetries(t *testing.T) {
	api := remote.NewSimulated(remote.SimulatedConfig{ResourcesPerTarget: 1})
	metrics := &failingMetrics{}
	store := storage.NewMemory()
	p, err := NewProducer(Config{Target: target, Metrics: []string{"cpu"}, Retry: fastRetry()}, Deps{
		Lister: api, Metrics: metrics, Store: store,
	})
	require.NoError(t, err)

	w := newTestWorker(t, p)
	require.NoError(t, w.Start())
	require.Eventually(t, func() bool { return w.Progress().Failed == 1 }, waitFor, time.Millisecond)
	require.Eventually(t, w.Finished, waitFor, time.Millisecond)

	assert.Equal(t, progress.Counters{Dispatched: 2, Completed: 1, Failed: 1}, w.Progress())
	assert.EqualValues(t, 4, metrics.calls.Load())
}

func TestThrottledListingRetriesWithHint(t *testing.T) {
	api := remote.NewSimulated(remote.SimulatedConfig{RatePerSec: 200, Burst: 1, ResourcesPerTarget: 6})
	store := storage.NewMemory()
	p, err := NewProducer(Config{Target: target, PageSize: 1, Retry: retry.Policy{Max: 10, Base: time.Millisecond, MaxDelay: 50 * time.Millisecond}}, Deps{
		Lister: api, Store: store,
	})
	require.NoError(t, err)

	w := newTestWorker(t, p)
	require.NoError(t, w.Start())
	require.Eventually(t, func() bool { return w.Progress().Completed == 6 && w.Finished() }, waitFor, time.Millisecond)
	assert.Equal(t, 6, store.Len())
	assert.Zero(t, w.Progress().Failed)
}

func TestReplaceClearsPreviousScan(t *testing.T) {
	ctx := context.Background()
	api := remote.NewSimulated(remote.SimulatedConfig{ResourcesPerTarget: 2})
	store := storage.NewMemory()
	require.NoError(t, store.PutResource(ctx, remote.Resource{ID: "gone", Target: target}))

	p, err := NewProducer(Config{Target: target, Replace: true}, Deps{Lister: api, Store: store})
	require.NoError(t, err)
	w := newTestWorker(t, p)
	require.NoError(t, w.Start())
	require.Eventually(t, func() bool { return w.Progress().Completed == 1 && w.Finished() }, waitFor, time.Millisecond)

	got, err := store.ListResources(ctx, target)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.NotEqual(t, "gone", got[0].ID)
}

func TestRescanAfterReset(t *testing.T) {
	api := remote.NewSimulated(remote.SimulatedConfig{ResourcesPerTarget: 2})
	p, err := NewProducer(Config{Target: target}, Deps{Lister: api, Store: storage.NewMemory()})
	require.NoError(t, err)
	w := newTestWorker(t, p)

	require.NoError(t, w.Start())
	require.Eventually(t, func() bool { return w.Progress().Completed == 1 && w.Finished() }, waitFor, time.Millisecond)
	w.Stop()
	require.NoError(t, w.Reset())
	require.NoError(t, w.Start())
	require.Eventually(t, func() bool { return w.Progress().Completed == 1 && w.Finished() }, waitFor, time.Millisecond)
	assert.Equal(t, 2, api.Calls(target))
}

func TestNewProducerValidates(t *testing.T) {
	api := remote.NewSimulated(remote.SimulatedConfig{})
	_, err := NewProducer(Config{Target: remote.Target{Account: "a"}}, Deps{Lister: api, Store: storage.NewMemory()})
	assert.Error(t, err)
	_, err = NewProducer(Config{Target: target}, Deps{Store: storage.NewMemory()})
	assert.Error(t, err)
	_, err = NewProducer(Config{Target: target}, Deps{Lister: api})
	assert.Error(t, err)
	_, err = NewProducer(Config{Target: target, Metrics: []string{"cpu"}}, Deps{Lister: api, Store: storage.NewMemory()})
	assert.Error(t, err)
}
