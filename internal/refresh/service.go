// Package refresh triggers periodic rescans on a cron or interval schedule.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "regionscan/pkg/logx"
)

var ErrStarted = errors.New("refresh already started")

// Job is one rescan. It receives the context passed to Start.
type Job func(ctx context.Context) error

type Config struct {
	// Timezone for cron expressions. Empty means local time.
	Timezone string
}

// Service runs a single job on a schedule. A trigger that fires while the
// previous run is still going is skipped, not queued.
type Service struct {
	cfg Config
	log logx.Logger

	mu    sync.Mutex
	c     *cron.Cron
	ctx   context.Context
	job   Job
	sched Schedule
	entry cron.EntryID

	running atomic.Bool
	runs    atomic.Uint64
	skips   atomic.Uint64
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg: cfg,
		log: log.With(logx.Comp("refresh")),
	}
}

// Start parses spec and begins triggering job.
func (s *Service) Start(ctx context.Context, spec string, job Job) error {
	if job == nil {
		return errors.New("refresh: nil job")
	}
	sched, err := ParseSchedule(spec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return ErrStarted
	}

	loc := s.location()
	c := cron.New(cron.WithParser(cronParser), cron.WithLocation(loc))
	var eid cron.EntryID
	switch sched.Kind {
	case KindInterval:
		eid = c.Schedule(cron.Every(sched.Every), cron.FuncJob(s.fire))
	default:
		eid, err = c.AddFunc(sched.Cron, s.fire)
		if err != nil {
			return fmt.Errorf("refresh: invalid cron %q: %w", sched.Cron, err)
		}
	}

	s.c, s.ctx, s.job, s.sched, s.entry = c, ctx, job, sched, eid
	c.Start()
	s.log.Info("refresh scheduled", logx.String("schedule", sched.String()), logx.String("tz", loc.String()), logx.Time("next", c.Entry(eid).Next))
	return nil
}

// Stop stops triggering and waits for a running job until ctx ends.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Debug("refresh stopped", logx.Uint64("runs", s.runs.Load()), logx.Uint64("skipped", s.skips.Load()))
}

// Next returns the next trigger time, or zero when not started.
func (s *Service) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return time.Time{}
	}
	return s.c.Entry(s.entry).Next
}

// Trigger runs the job now unless a run is already in progress. It reports
// whether the job ran.
func (s *Service) Trigger() bool {
	return s.run()
}

// Stats returns how many runs completed and how many triggers were skipped.
func (s *Service) Stats() (runs, skipped uint64) {
	return s.runs.Load(), s.skips.Load()
}

func (s *Service) fire() { s.run() }

func (s *Service) run() bool {
	s.mu.Lock()
	ctx, job := s.ctx, s.job
	s.mu.Unlock()
	if job == nil {
		return false
	}
	if ctx.Err() != nil {
		return false
	}
	if !s.running.CompareAndSwap(false, true) {
		s.skips.Add(1)
		s.log.Info("refresh skipped: previous run still going")
		return false
	}
	defer s.running.Store(false)

	start := time.Now()
	err := job(ctx)
	s.runs.Add(1)
	if err != nil {
		s.log.Warn("refresh run failed", logx.Err(err), logx.Duration("took", time.Since(start)))
	} else {
		s.log.Debug("refresh run done", logx.Duration("took", time.Since(start)))
	}
	return true
}

func (s *Service) location() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
