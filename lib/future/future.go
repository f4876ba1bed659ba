// Copyright 2026 The Devmirror Authors
// SPDX-License-Identifier: Apache-2.0

// Package future provides a one-shot result primitive that is safe to
// settle from multiple code paths. Several independent paths (an exit
// packet, a socket error, an external abort) may all try to decide one
// outcome; only the first settlement counts and every later attempt is
// a no-op. This is the completion signal underlying exit statuses,
// stream readiness, and consumable envelopes throughout the client.
package future

import (
	"context"
	"sync"
)

// Future holds a value of type T that will be resolved or rejected
// exactly once. The zero value is not usable; create one with [New].
//
// Resolve and Reject report whether the call settled the future, so a
// caller that needs first-settlement-wins semantics can branch on the
// return value. Callers that merely want to ensure a terminal state
// (teardown paths) ignore it.
type Future[T any] struct {
	mu      sync.Mutex
	done    chan struct{}
	value   T
	err     error
	settled bool
}

// New creates an unsettled future.
func New[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolve settles the future with value. Reports whether this call
// performed the settlement; false means the future was already settled
// and the call was a no-op.
func (f *Future[T]) Resolve(value T) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.settled {
		return false
	}
	f.value = value
	f.settled = true
	close(f.done)
	return true
}

// Reject settles the future with err. Reports whether this call
// performed the settlement.
func (f *Future[T]) Reject(err error) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.settled {
		return false
	}
	f.err = err
	f.settled = true
	close(f.done)
	return true
}

// Done returns a channel closed on settlement. Use it to race the
// future against other conditions in a select.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future settles or ctx is done. On settlement
// it returns the resolved value or the rejection error; on context
// cancellation it returns ctx.Err() and the future stays unsettled.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.Result()
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Settled reports whether the future has been resolved or rejected.
func (f *Future[T]) Settled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settled
}

// Result returns the settled value and error. Valid only after Done
// is closed; calling it earlier returns the zero value and nil error
// without blocking.
func (f *Future[T]) Result() (T, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, f.err
}
