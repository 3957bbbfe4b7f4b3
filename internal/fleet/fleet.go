// Package fleet keeps one worker per target and fans lifecycle calls out to all of them.
package fleet

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"regionscan/internal/remote"
	"regionscan/internal/task/progress"
	"regionscan/internal/task/worker"
	logx "regionscan/pkg/logx"
)

var ErrClosed = errors.New("fleet closed")

// BuildFunc creates the worker for a target. It is called at most once per target.
type BuildFunc func(t remote.Target) (*worker.Worker, error)

// Fleet is safe for concurrent use. Workers are never removed before Close.
type Fleet struct {
	log logx.Logger

	mu      sync.RWMutex
	workers map[string]*worker.Worker
	targets []remote.Target // insertion order
	closed  bool
}

func New(log logx.Logger) *Fleet {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Fleet{
		log:     log.With(logx.Comp("fleet")),
		workers: map[string]*worker.Worker{},
	}
}

// Ensure returns the target's worker, building it on first use.
func (f *Fleet) Ensure(t remote.Target, build BuildFunc) (*worker.Worker, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("fleet: invalid target %q", t.Key())
	}
	key := t.Key()

	f.mu.RLock()
	w, ok := f.workers[key]
	closed := f.closed
	f.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	if ok {
		return w, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrClosed
	}
	if w, ok := f.workers[key]; ok {
		return w, nil
	}
	w, err := build(t)
	if err != nil {
		return nil, fmt.Errorf("fleet: build worker for %s: %w", key, err)
	}
	if w == nil {
		return nil, fmt.Errorf("fleet: build worker for %s: nil worker", key)
	}
	f.workers[key] = w
	f.targets = append(f.targets, t)
	f.log.Debug("worker added", logx.String("target", key))
	return w, nil
}

func (f *Fleet) Get(t remote.Target) (*worker.Worker, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	w, ok := f.workers[t.Key()]
	return w, ok
}

// Targets returns the registered targets in registration order.
func (f *Fleet) Targets() []remote.Target {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return slices.Clone(f.targets)
}

func (f *Fleet) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.targets)
}

func (f *Fleet) all() []*worker.Worker {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]*worker.Worker, 0, len(f.targets))
	for _, t := range f.targets {
		out = append(out, f.workers[t.Key()])
	}
	return out
}

// StartAll starts every worker. Failures are joined.
func (f *Fleet) StartAll() error {
	var errs []error
	for _, w := range f.all() {
		if err := w.Start(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", w.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (f *Fleet) StopAll() {
	for _, w := range f.all() {
		w.Stop()
	}
}

// ResetAll resets every worker that is not running; started ones refill at
// once. Running workers are left alone and reported in the joined error (each
// wraps worker.ErrRunning).
func (f *Fleet) ResetAll() error {
	var errs []error
	for _, w := range f.all() {
		if err := w.Reset(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", w.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// RescanResult reports what Rescan did.
type RescanResult struct {
	Restarted []string
	Skipped   []string
}

func (r RescanResult) String() string {
	return fmt.Sprintf("restarted %d, skipped %d busy", len(r.Restarted), len(r.Skipped))
}

// Rescan starts a fresh scan on every idle worker: Stop, Reset, Start. Workers
// still running keep their current scan.
func (f *Fleet) Rescan() (RescanResult, error) {
	var (
		res  RescanResult
		errs []error
	)
	for _, w := range f.all() {
		if w.Running() {
			res.Skipped = append(res.Skipped, w.Name())
			continue
		}
		w.Stop()
		if err := w.Reset(); err != nil {
			// A concurrent Enqueue/Start made it busy again.
			if errors.Is(err, worker.ErrRunning) {
				res.Skipped = append(res.Skipped, w.Name())
				continue
			}
			errs = append(errs, fmt.Errorf("%s: %w", w.Name(), err))
			continue
		}
		if err := w.Start(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", w.Name(), err))
			continue
		}
		res.Restarted = append(res.Restarted, w.Name())
	}
	if len(res.Skipped) > 0 {
		f.log.Info("rescan skipped busy workers", logx.String("workers", strings.Join(res.Skipped, ",")))
	}
	return res, errors.Join(errs...)
}

// Progress sums the progress of every worker.
func (f *Fleet) Progress() progress.Aggregate {
	return progress.Sum(f.all()...)
}

// Running reports whether any worker is running.
func (f *Fleet) Running() bool {
	for _, w := range f.all() {
		if w.Running() {
			return true
		}
	}
	return false
}

func (f *Fleet) Snapshot() []worker.Snapshot {
	ws := f.all()
	out := make([]worker.Snapshot, 0, len(ws))
	for _, w := range ws {
		out = append(out, w.Snapshot())
	}
	return out
}

// Close closes every worker. The fleet rejects new targets afterwards.
func (f *Fleet) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	f.mu.Unlock()
	for _, w := range f.all() {
		w.Close()
	}
}
