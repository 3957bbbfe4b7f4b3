package paginate

import (
	"context"
	"sync"
)

// Future is the settled-once result of a pagination chain.
type Future[A any] struct {
	once sync.Once
	done chan struct{}
	val  A
	err  error
}

func newFuture[A any]() *Future[A] {
	return &Future[A]{done: make(chan struct{})}
}

// resolve settles the future. Later calls are ignored and report false.
func (f *Future[A]) resolve(v A, err error) bool {
	settled := false
	f.once.Do(func() {
		f.val, f.err = v, err
		close(f.done)
		settled = true
	})
	return settled
}

// Done is closed once the future settles.
func (f *Future[A]) Done() <-chan struct{} { return f.done }

// Wait blocks until the future settles or ctx ends.
func (f *Future[A]) Wait(ctx context.Context) (A, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero A
		return zero, ctx.Err()
	}
}

// Result returns the settled value without blocking. ok is false while pending.
func (f *Future[A]) Result() (v A, ok bool, err error) {
	select {
	case <-f.done:
		return f.val, true, f.err
	default:
		return v, false, nil
	}
}
