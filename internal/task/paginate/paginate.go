// Package paginate turns a multi-page remote listing into a chain of worker
// tasks, one page per task, so the worker's pacer throttles every page fetch.
//
// A chain is a small state machine:
//
//	awaiting -> fetching -> folding -> awaiting (next page queued)
//	                                -> done
//	any state -> failed
//
// Each transition out of awaiting is a separately scheduled task; nothing
// recurses, so the page count does not grow the call stack.
package paginate

import (
	"context"
	"errors"
	"fmt"

	"regionscan/internal/task/worker"
)

// ErrPaginationProtocol means the source reported another page but gave no
// way to fetch it. The chain cannot tell how much it missed, so it fails.
var ErrPaginationProtocol = errors.New("pagination: next page reported without a next-page request")

// Page is one page of a remote listing.
type Page[P any] struct {
	Data    P
	HasNext bool
	// Next fetches the following page. It must be set when HasNext is true.
	Next Request[P]
}

// Request fetches one page.
type Request[P any] func(ctx context.Context) (Page[P], error)

// Scheduler is the part of a worker a chain needs.
type Scheduler interface {
	EnqueueIfCurrent(tok worker.Token, priority int, t worker.Task) bool
	Cancelled(tok worker.Token) bool
}

// Options name the continuation tasks and set their priority.
type Options struct {
	Name     string
	Priority int
}

type state int

const (
	stateAwaiting state = iota
	stateFetching
	stateFolding
	stateDone
	stateFailed
)

func (s state) String() string {
	switch s {
	case stateAwaiting:
		return "awaiting"
	case stateFetching:
		return "fetching"
	case stateFolding:
		return "folding"
	case stateDone:
		return "done"
	case stateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// chain fields are only touched by the task currently running a step; the
// worker runs one task at a time and its lock orders consecutive steps.
type chain[P, A any] struct {
	sched Scheduler
	tok   worker.Token
	opt   Options

	next  Request[P]
	fold  func(A, P) (A, error)
	acc   A
	pages int
	state state

	fut *Future[A]
}

// Fold fetches the first page inside the calling task, folds it into init and,
// while the source reports more pages, queues one continuation task per page
// at opt.Priority. The future resolves with the final accumulator after the
// last page, or fails on the first fetch/fold error, a protocol violation, or
// when tok goes stale.
//
// The returned error is the first step's outcome, meant to be returned by the
// calling task so the worker counts it.
func Fold[P, A any](ctx context.Context, s Scheduler, tok worker.Token, opt Options, first Request[P], init A, fold func(A, P) (A, error)) (*Future[A], error) {
	if opt.Name == "" {
		opt.Name = "paginate"
	}
	c := &chain[P, A]{
		sched: s,
		tok:   tok,
		opt:   opt,
		next:  first,
		fold:  fold,
		acc:   init,
		fut:   newFuture[A](),
	}
	if first == nil {
		err := errors.New("pagination: nil first request")
		c.fail(err)
		return c.fut, err
	}
	// Reset cancels the generation context and drops queued continuations, so
	// the chain would otherwise never settle.
	go c.watch(ctx)
	return c.fut, c.step(ctx, tok)
}

// Each is Fold without an accumulator. The future resolves with the number of pages handled.
func Each[P any](ctx context.Context, s Scheduler, tok worker.Token, opt Options, first Request[P], handle func(P) error) (*Future[int], error) {
	return Fold(ctx, s, tok, opt, first, 0, func(n int, p P) (int, error) {
		if err := handle(p); err != nil {
			return n, err
		}
		return n + 1, nil
	})
}

// Collect folds pages whose data is a slice into one slice.
func Collect[T any](ctx context.Context, s Scheduler, tok worker.Token, opt Options, first Request[[]T]) (*Future[[]T], error) {
	return Fold(ctx, s, tok, opt, first, []T(nil), func(acc []T, p []T) ([]T, error) {
		return append(acc, p...), nil
	})
}

func (c *chain[P, A]) watch(ctx context.Context) {
	select {
	case <-c.fut.Done():
	case <-ctx.Done():
		if c.sched.Cancelled(c.tok) {
			c.fut.resolve(*new(A), worker.ErrStale)
			return
		}
		c.fut.resolve(*new(A), ctx.Err())
	}
}

// step runs one awaiting -> ... transition. tok is the token of the task running it.
func (c *chain[P, A]) step(ctx context.Context, tok worker.Token) error {
	if tok != c.tok || c.sched.Cancelled(c.tok) {
		c.fail(worker.ErrStale)
		return worker.ErrStale
	}
	if c.state != stateAwaiting {
		return fmt.Errorf("pagination %s: step in state %s", c.opt.Name, c.state)
	}

	c.state = stateFetching
	page, err := c.next(ctx)
	if err != nil {
		err = fmt.Errorf("%s: fetch page %d: %w", c.opt.Name, c.pages+1, err)
		c.fail(err)
		return err
	}
	// No side effects once the generation is gone.
	if c.sched.Cancelled(c.tok) {
		c.fail(worker.ErrStale)
		return worker.ErrStale
	}

	c.state = stateFolding
	acc, err := c.fold(c.acc, page.Data)
	c.pages++
	if err != nil {
		err = fmt.Errorf("%s: fold page %d: %w", c.opt.Name, c.pages, err)
		c.fail(err)
		return err
	}
	c.acc = acc

	if !page.HasNext {
		c.state = stateDone
		c.fut.resolve(c.acc, nil)
		return nil
	}
	if page.Next == nil {
		err := fmt.Errorf("%s: after page %d: %w", c.opt.Name, c.pages, ErrPaginationProtocol)
		c.fail(err)
		return err
	}

	c.next = page.Next
	c.state = stateAwaiting
	t := worker.Task{Name: fmt.Sprintf("%s#%d", c.opt.Name, c.pages+1), Run: c.step}
	if !c.sched.EnqueueIfCurrent(c.tok, c.opt.Priority, t) {
		c.fail(worker.ErrStale)
		return worker.ErrStale
	}
	return nil
}

func (c *chain[P, A]) fail(err error) {
	c.state = stateFailed
	c.fut.resolve(*new(A), err)
}
