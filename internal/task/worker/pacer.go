package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"regionscan/internal/eventbus"
	logx "regionscan/pkg/logx"
)

// armLocked schedules the next admission unless one is already scheduled, a
// task is executing (its completion re-arms), or there is nothing to run.
func (w *Worker) armLocked() {
	if !w.started || w.closed || w.processing || w.timer != nil || w.q.Empty() {
		return
	}
	w.timerVer++
	ver := w.timerVer
	w.timer = time.AfterFunc(w.cfg.Delay, func() { w.fire(ver) })
}

func (w *Worker) disarmLocked() {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.timerVer++
}

// fire admits exactly one task. It runs on the timer's goroutine.
func (w *Worker) fire(ver uint64) {
	w.mu.Lock()
	if ver != w.timerVer {
		w.mu.Unlock()
		return
	}
	w.timer = nil
	if !w.started || w.closed || w.processing {
		w.mu.Unlock()
		return
	}
	qt, ok := w.q.Pop()
	if !ok {
		w.mu.Unlock()
		return
	}
	w.processing = true
	tok := w.epoch
	ctx := w.genCtx
	w.mu.Unlock()

	start := time.Now()
	err := w.run(ctx, tok, qt)
	w.complete(tok, qt, start, err)
}

func (w *Worker) run(ctx context.Context, tok Token, qt queuedTask) (err error) {
	if qt.task.Run == nil {
		return fmt.Errorf("task %q has no Run func", qt.task.Name)
	}
	// A panicking task must not kill the timer goroutine with processing stuck at true.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			w.log.Error("task.panic", logx.String("task", qt.task.Name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	w.log.Trace("task.started", logx.String("task", qt.task.Name), logx.String("id", qt.id))
	return qt.task.Run(ctx, tok)
}

// complete records the outcome of a task started under tok and re-arms the pacer.
// Outcomes from a superseded generation only release the processing slot.
func (w *Worker) complete(tok Token, qt queuedTask, start time.Time, err error) {
	finish := time.Now()
	dur := finish.Sub(start)
	queueDelay := start.Sub(qt.enqueuedAt)
	if queueDelay < 0 {
		queueDelay = 0
	}
	item := HistoryItem{ID: qt.id, Name: qt.task.Name, Started: start, QueueDelay: queueDelay, Duration: dur}
	if err != nil {
		item.Error = err.Error()
	}

	w.mu.Lock()
	w.processing = false
	stale := tok != w.epoch
	counters := w.progress
	drained := false
	if !stale {
		if err != nil {
			w.progress.Failed++
		} else {
			w.progress.Completed++
		}
		counters = w.progress
		w.recordLocked(item)
		drained = w.q.Empty()
	}
	w.armLocked()
	w.mu.Unlock()

	if stale {
		return
	}

	ev := TaskEvent{
		ID:         qt.id,
		Name:       qt.task.Name,
		Token:      tok,
		Started:    start,
		QueueDelay: queueDelay,
		Duration:   dur,
		Error:      item.Error,
		Progress:   counters,
	}
	if err != nil {
		fields := []logx.Field{logx.String("task", qt.task.Name), logx.String("id", qt.id), logx.Err(err), logx.Duration("dur", dur)}
		if w.failWarn.AllowN(finish, 1) {
			w.log.Warn("task.failed", fields...)
		} else {
			w.log.Debug("task.failed", fields...)
		}
		w.publish(eventbus.TaskFailed, ev)
	} else {
		w.log.Debug("task.completed", logx.String("task", qt.task.Name), logx.Duration("queue_delay", queueDelay), logx.Duration("dur", dur))
		w.publish(eventbus.TaskCompleted, ev)
	}

	if drained {
		w.log.Info("worker drained", logx.String("progress", counters.String()), logx.Uint64("failed", counters.Failed))
		w.publish(eventbus.WorkerDrained, counters)
	}
}
