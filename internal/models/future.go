package models

import (
	"context"
	"sync"
)

// Result pairs a value with the error of the work that produced it.
type Result[T any] struct {
	Value T
	Err   error
}

// Future is the handle to work scheduled on the scheduler. It resolves
// exactly once; Stop cancels the context the work runs under.
type Future[T any] struct {
	mu       sync.Mutex
	resolved bool
	value    T
	done     chan struct{}
	cancel   context.CancelFunc
}

func NewFuture[T any](cancel context.CancelFunc) *Future[T] {
	return &Future[T]{
		done:   make(chan struct{}),
		cancel: cancel,
	}
}

// Resolve publishes the result. Subsequent calls are ignored.
func (f *Future[T]) Resolve(value T) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resolved {
		return
	}
	f.value = value
	f.resolved = true
	close(f.done)
}

// Poll returns the result and true if the future has resolved.
func (f *Future[T]) Poll() (T, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, f.resolved
}

func (f *Future[T]) IsResolved() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resolved
}

// Stop cancels the context of the underlying work. The work still resolves
// the future on its way out.
func (f *Future[T]) Stop() {
	if f.cancel != nil {
		f.cancel()
	}
}

// Wait blocks until the future resolves or ctx expires.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		value, _ := f.Poll()
		return value, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
