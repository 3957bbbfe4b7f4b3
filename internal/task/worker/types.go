package worker

import (
	"context"
	"time"

	"regionscan/internal/task/progress"
)

const (
	defaultDelay       = 250 * time.Millisecond
	defaultHistorySize = 50
)

// Config controls one worker.
type Config struct {
	// Name identifies the worker in logs and events, e.g. "123456789012/us-east-1/ec2".
	Name string
	// Delay is the fixed admission interval. One task starts per Delay.
	Delay time.Duration
	// HistorySize bounds the recent-outcome ring kept for diagnostics.
	HistorySize int
	// FailureWarnPerSec bounds how many task failures per second are logged at warn level.
	FailureWarnPerSec float64
}

func (c Config) withDefaults() Config {
	if c.Delay <= 0 {
		c.Delay = defaultDelay
	}
	if c.HistorySize <= 0 {
		c.HistorySize = defaultHistorySize
	}
	if c.FailureWarnPerSec <= 0 {
		c.FailureWarnPerSec = 1
	}
	return c
}

// Token is the epoch value captured when a task starts. Two tokens are equal
// iff they were sampled from the same generation.
type Token uint64

// Action is a task body. ctx is cancelled when the generation that started the
// task is reset or the worker is closed; tok identifies that generation.
type Action func(ctx context.Context, tok Token) error

// Task is a unit of work queued on a worker.
type Task struct {
	Name string
	Run  Action
}

// Filler seeds a worker with its initial batch of work. Fill is called once per
// lifecycle segment (construction or Reset, up to the next Reset), outside the
// worker lock, so it may call Enqueue synchronously or from other goroutines.
type Filler interface {
	Fill(ctx context.Context, w *Worker)
}

// FillFunc adapts a function to Filler.
type FillFunc func(ctx context.Context, w *Worker)

func (f FillFunc) Fill(ctx context.Context, w *Worker) { f(ctx, w) }

type queuedTask struct {
	id         string
	task       Task
	enqueuedAt time.Time
}

// HistoryItem is one recorded task outcome.
type HistoryItem struct {
	ID         string
	Name       string
	Started    time.Time
	QueueDelay time.Duration
	Duration   time.Duration
	Error      string
}

// TaskEvent is published on the event bus for task outcomes.
type TaskEvent struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Token      Token         `json:"token"`
	Started    time.Time     `json:"started"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`

	Progress progress.Counters `json:"progress"`
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Name       string
	Delay      time.Duration
	Epoch      Token
	Started    bool
	Processing bool
	Filled     bool
	Armed      bool
	QueueLen   int
	Progress   progress.Counters
	History    []HistoryItem
}
