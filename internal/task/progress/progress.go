// Package progress holds the dispatched/completed/failed counters a worker
// maintains and sums them across many workers for an "N / M done" view.
package progress

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

// Counters is a point-in-time copy of one worker's progress.
//
// The worker updates all three fields under a single mutex, so a copy always
// satisfies Completed+Failed <= Dispatched.
type Counters struct {
	Dispatched uint64 `json:"dispatched"`
	Completed  uint64 `json:"completed"`
	Failed     uint64 `json:"failed"`
}

// Done is the number of tasks with a terminal outcome.
func (c Counters) Done() uint64 { return c.Completed + c.Failed }

// Pending is the number of dispatched tasks without an outcome yet.
func (c Counters) Pending() uint64 {
	if d := c.Done(); d < c.Dispatched {
		return c.Dispatched - d
	}
	return 0
}

// Ratio is Done/Dispatched in [0,1]. An idle worker with nothing dispatched reports 1.
func (c Counters) Ratio() float64 {
	if c.Dispatched == 0 {
		return 1
	}
	return float64(c.Done()) / float64(c.Dispatched)
}

func (c Counters) Add(o Counters) Counters {
	return Counters{
		Dispatched: c.Dispatched + o.Dispatched,
		Completed:  c.Completed + o.Completed,
		Failed:     c.Failed + o.Failed,
	}
}

// Valid reports whether the counters respect Completed+Failed <= Dispatched.
func (c Counters) Valid() bool { return c.Done() <= c.Dispatched }

func (c Counters) String() string {
	return fmt.Sprintf("%s / %s done", humanize.Comma(int64(c.Done())), humanize.Comma(int64(c.Dispatched)))
}

// Source is the read-only contract a worker exposes to aggregation layers.
type Source interface {
	Started() bool
	Finished() bool
	Running() bool
	Progress() Counters
}

// Aggregate sums many sources.
type Aggregate struct {
	Counters
	Workers  int `json:"workers"`
	Started  int `json:"started"`
	Running  int `json:"running"`
	Finished int `json:"finished"`
}

// Sum reads each source once. Sources are read independently, so the result is
// a best-effort view across workers; each worker's share is internally consistent.
func Sum[S Source](sources ...S) Aggregate {
	var a Aggregate
	for _, s := range sources {
		a.Workers++
		a.Counters = a.Counters.Add(s.Progress())
		if s.Started() {
			a.Started++
		}
		if s.Running() {
			a.Running++
		}
		if s.Finished() {
			a.Finished++
		}
	}
	return a
}

// Percent renders Ratio as a human percentage ("42%").
func (a Aggregate) Percent() string {
	return humanize.FtoaWithDigits(a.Ratio()*100, 1) + "%"
}

func (a Aggregate) String() string {
	s := a.Counters.String()
	if a.Failed > 0 {
		s += fmt.Sprintf(" (%s failed)", humanize.Comma(int64(a.Failed)))
	}
	return fmt.Sprintf("%s, %d/%d workers running", s, a.Running, a.Workers)
}
