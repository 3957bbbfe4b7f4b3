package worker

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"regionscan/internal/eventbus"
	"regionscan/internal/task/progress"
	"regionscan/internal/task/queue"
	logx "regionscan/pkg/logx"
)

// Worker is a paced, single-queue scheduler for one target.
//
// All exported methods are safe for concurrent use, including from inside a
// running task.
type Worker struct {
	mu   sync.Mutex
	cfg  Config
	log  logx.Logger
	bus  eventbus.Bus
	fill Filler

	q *queue.Queue[queuedTask]

	// epoch is the live generation; genCtx is cancelled when it moves on.
	epoch     Token
	genCtx    context.Context
	genCancel context.CancelFunc

	started    bool
	processing bool
	filled     bool
	closed     bool

	// pacer: timer is non-nil while armed. timerVer lets a callback that already
	// fired detect it was disarmed in the meantime.
	timer    *time.Timer
	timerVer uint64

	progress progress.Counters
	history  []HistoryItem

	failWarn *rate.Limiter
}

// New builds a stopped worker. fill may be nil for workers fed only through Enqueue.
func New(cfg Config, fill Filler, log logx.Logger, bus eventbus.Bus) *Worker {
	cfg = cfg.withDefaults()
	if strings.TrimSpace(cfg.Name) == "" {
		cfg.Name = "worker"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	burst := int(math.Max(1, math.Ceil(cfg.FailureWarnPerSec)))
	w := &Worker{
		cfg:      cfg,
		log:      log.With(logx.Comp("worker"), logx.String("worker", cfg.Name)),
		bus:      bus,
		fill:     fill,
		q:        queue.New[queuedTask](),
		failWarn: rate.NewLimiter(rate.Limit(cfg.FailureWarnPerSec), burst),
	}
	w.genCtx, w.genCancel = context.WithCancel(context.Background())
	return w
}

func (w *Worker) Name() string { return w.cfg.Name }

// Enqueue counts t as dispatched and queues it. If the worker is started the
// pacer is armed. It never blocks.
func (w *Worker) Enqueue(priority int, t Task) {
	w.enqueue(nil, priority, t)
}

// EnqueueIfCurrent is Enqueue guarded by a generation check: when tok is stale
// nothing is queued or counted and false is returned. The check and the push
// happen under one lock, so a concurrent Reset cannot slip between them.
func (w *Worker) EnqueueIfCurrent(tok Token, priority int, t Task) bool {
	return w.enqueue(&tok, priority, t)
}

func (w *Worker) enqueue(tok *Token, priority int, t Task) bool {
	if strings.TrimSpace(t.Name) == "" {
		t.Name = "task"
	}
	qt := queuedTask{id: uuid.NewString(), task: t, enqueuedAt: time.Now()}

	w.mu.Lock()
	defer w.mu.Unlock()
	if tok != nil && *tok != w.epoch {
		return false
	}
	w.progress.Dispatched++
	w.q.Push(priority, qt)
	w.armLocked()
	return true
}

// Start arms the pacer. The first Start of a lifecycle segment also calls the
// Filler. Start is idempotent.
func (w *Worker) Start() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	if w.started {
		w.mu.Unlock()
		return nil
	}
	w.started = true
	doFill := !w.filled
	w.filled = true
	ctx := w.genCtx
	epoch := w.epoch
	w.armLocked()
	w.mu.Unlock()

	w.log.Info("worker started", logx.Uint64("epoch", uint64(epoch)), logx.Bool("fill", doFill))
	w.publish(eventbus.WorkerStarted, nil)

	if doFill && w.fill != nil {
		w.fill.Fill(ctx, w)
	}
	return nil
}

// Stop disarms the pacer and keeps queued work. A task that is executing runs
// to completion and its outcome is still recorded. Stop is idempotent.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	w.started = false
	w.disarmLocked()
	pending := w.q.Len()
	w.mu.Unlock()

	w.log.Info("worker stopped", logx.Int("queued", pending))
	w.publish(eventbus.WorkerStopped, nil)
}

// Reset clears the queue and the counters and starts a new generation, so
// tasks already in flight become stale. A started worker is refilled for the
// new generation right away. It fails with ErrRunning while the worker is
// running and leaves everything untouched in that case.
func (w *Worker) Reset() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	if w.runningLocked() {
		w.mu.Unlock()
		return ErrRunning
	}
	w.disarmLocked()
	dropped := w.q.Len()
	w.q.Clear()
	w.progress = progress.Counters{}
	w.history = nil
	w.epoch++
	w.genCancel()
	w.genCtx, w.genCancel = context.WithCancel(context.Background())
	// Start is a no-op while started, so a started worker refills here.
	doFill := w.started
	w.filled = doFill
	ctx := w.genCtx
	epoch := w.epoch
	w.mu.Unlock()

	w.log.Info("worker reset", logx.Uint64("epoch", uint64(epoch)), logx.Int("dropped", dropped), logx.Bool("fill", doFill))
	w.publish(eventbus.WorkerReset, nil)

	if doFill && w.fill != nil {
		w.fill.Fill(ctx, w)
	}
	return nil
}

// Close stops the worker for good: the pacer is disarmed and the generation
// context is cancelled. Queued tasks never run.
func (w *Worker) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.started = false
	w.disarmLocked()
	w.genCancel()
	w.mu.Unlock()
	w.log.Debug("worker closed")
}

func (w *Worker) Started() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.started
}

// Finished reports that the queue is empty and no task is executing.
func (w *Worker) Finished() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.finishedLocked()
}

// Running reports Started && !Finished.
func (w *Worker) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.runningLocked()
}

func (w *Worker) Progress() progress.Counters {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.progress
}

// Token returns the live generation.
func (w *Worker) Token() Token {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.epoch
}

// Cancelled reports whether tok belongs to a superseded generation.
func (w *Worker) Cancelled(tok Token) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return tok != w.epoch
}

func (w *Worker) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.q.Len()
}

func (w *Worker) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	h := make([]HistoryItem, len(w.history))
	copy(h, w.history)
	return Snapshot{
		Name:       w.cfg.Name,
		Delay:      w.cfg.Delay,
		Epoch:      w.epoch,
		Started:    w.started,
		Processing: w.processing,
		Filled:     w.filled,
		Armed:      w.timer != nil,
		QueueLen:   w.q.Len(),
		Progress:   w.progress,
		History:    h,
	}
}

func (w *Worker) finishedLocked() bool { return w.q.Empty() && !w.processing }

func (w *Worker) runningLocked() bool { return w.started && !w.finishedLocked() }

func (w *Worker) recordLocked(it HistoryItem) {
	w.history = append(w.history, it)
	if len(w.history) > w.cfg.HistorySize {
		w.history = w.history[len(w.history)-w.cfg.HistorySize:]
	}
}

func (w *Worker) publish(topic eventbus.Topic, data any) {
	if w.bus == nil {
		return
	}
	w.bus.Publish(eventbus.Event{Topic: topic, Time: time.Now(), Source: w.cfg.Name, Data: data})
}
