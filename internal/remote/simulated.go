package remote

import (
	"context"
	"fmt"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// SimulatedConfig tunes the in-process API.
type SimulatedConfig struct {
	// RatePerSec and Burst bound requests per target. RatePerSec <= 0 disables limiting.
	RatePerSec float64
	Burst      int
	// ResourcesPerTarget is how many resources each target lists.
	ResourcesPerTarget int
	// Latency is added to every call.
	Latency time.Duration
	// Types are cycled through when naming resources.
	Types []string
}

// Simulated is a deterministic Lister and MetricSource. Every target exposes
// the same number of resources; metric values derive from a hash of the
// resource id and metric name. Requests beyond the per-target rate fail with
// a ThrottledError.
type Simulated struct {
	cfg SimulatedConfig

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	calls    map[string]int
}

func NewSimulated(cfg SimulatedConfig) *Simulated {
	if cfg.ResourcesPerTarget < 0 {
		cfg.ResourcesPerTarget = 0
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if len(cfg.Types) == 0 {
		cfg.Types = []string{"instance", "volume", "bucket"}
	}
	return &Simulated{
		cfg:      cfg,
		limiters: make(map[string]*rate.Limiter),
		calls:    make(map[string]int),
	}
}

// Calls returns how many requests the target has received, throttled ones included.
func (s *Simulated) Calls(t Target) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[t.Key()]
}

func (s *Simulated) admit(ctx context.Context, t Target) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !t.Valid() {
		return fmt.Errorf("remote: invalid target %q", t.Key())
	}

	s.mu.Lock()
	s.calls[t.Key()]++
	var lim *rate.Limiter
	if s.cfg.RatePerSec > 0 {
		lim = s.limiters[t.Key()]
		if lim == nil {
			lim = rate.NewLimiter(rate.Limit(s.cfg.RatePerSec), s.cfg.Burst)
			s.limiters[t.Key()] = lim
		}
	}
	s.mu.Unlock()

	if lim != nil {
		r := lim.Reserve()
		if d := r.Delay(); d > 0 {
			r.Cancel()
			return &ThrottledError{Target: t, After: d}
		}
	}
	if s.cfg.Latency > 0 {
		tmr := time.NewTimer(s.cfg.Latency)
		defer tmr.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tmr.C:
		}
	}
	return nil
}

func (s *Simulated) ListResources(ctx context.Context, req ListRequest) (ListPage, error) {
	if err := s.admit(ctx, req.Target); err != nil {
		return ListPage{}, err
	}
	size := req.PageSize
	if size <= 0 {
		size = 50
	}
	offset := 0
	if req.Cursor != "" {
		n, err := strconv.Atoi(req.Cursor)
		if err != nil || n < 0 {
			return ListPage{}, fmt.Errorf("remote: bad cursor %q", req.Cursor)
		}
		offset = n
	}

	total := s.cfg.ResourcesPerTarget
	end := offset + size
	if end > total {
		end = total
	}
	page := ListPage{}
	for i := offset; i < end; i++ {
		page.Resources = append(page.Resources, s.resource(req.Target, i))
	}
	if end < total {
		page.HasMore = true
		page.NextCursor = strconv.Itoa(end)
	}
	return page, nil
}

func (s *Simulated) Metric(ctx context.Context, t Target, resourceID, name string) (float64, error) {
	if err := s.admit(ctx, t); err != nil {
		return 0, err
	}
	if !s.owns(t, resourceID) {
		return 0, fmt.Errorf("%w: %s on %s", ErrNotFound, resourceID, t)
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(resourceID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(name))
	return float64(h.Sum64()%10000) / 100, nil
}

func (s *Simulated) resource(t Target, i int) Resource {
	typ := s.cfg.Types[i%len(s.cfg.Types)]
	id := resourceID(t, i)
	return Resource{
		ID:     id,
		Type:   typ,
		Name:   fmt.Sprintf("%s-%04d", typ, i),
		Target: t,
		Attributes: map[string]string{
			"account": t.Account,
			"region":  t.Region,
		},
	}
}

func (s *Simulated) owns(t Target, id string) bool {
	prefix := t.Service + "-" + t.Region + "-"
	if len(id) <= len(prefix) || id[:len(prefix)] != prefix {
		return false
	}
	n, err := strconv.Atoi(id[len(prefix):])
	return err == nil && n >= 0 && n < s.cfg.ResourcesPerTarget
}

func resourceID(t Target, i int) string {
	return fmt.Sprintf("%s-%s-%04d", t.Service, t.Region, i)
}
