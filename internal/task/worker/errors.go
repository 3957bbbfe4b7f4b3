package worker

import "errors"

var (
	// ErrRunning is returned by Reset while the worker is started and still has work.
	ErrRunning = errors.New("worker is running")
	// ErrStale reports that a task's generation was superseded by a Reset.
	ErrStale = errors.New("task generation is stale")
	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("worker closed")
)
