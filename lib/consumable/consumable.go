// Copyright 2026 The Devmirror Authors
// SPDX-License-Identifier: Apache-2.0

// Package consumable wraps a produced value with a completion signal
// so a producer can reuse or release the underlying buffer only after
// the downstream consumer has finished with it.
//
// The envelope is the unit of backpressure in the multiplexed protocol
// stack: the packet pump wraps each decoded payload in a Consumable,
// hands it to a channel queue, and waits for settlement before decoding
// the next packet. A slow consumer therefore delays the socket read
// directly, bounding memory without separate flow-control machinery.
//
// Sinks built on Consumables must compute their queue sizes from the
// wrapped value (len of the payload), not the envelope, so thresholds
// reflect real payload bytes.
package consumable

import (
	"fmt"

	"github.com/devmirror/devmirror/lib/future"
)

// State is the settlement state of a Consumable.
type State int

const (
	// Pending means neither Consume nor Error has been called.
	Pending State = iota
	// Consumed means the consumer finished with the value successfully.
	Consumed
	// Errored means the consumer failed; Err returns the failure.
	Errored
)

// Consumable owns a value until the consumer settles it. Settlement
// happens exactly once: the first Consume or Error call wins and every
// later call is a no-op. The producer must not mutate or recycle the
// wrapped buffer until Done is closed.
type Consumable[T any] struct {
	value  T
	signal *future.Future[struct{}]
}

// New wraps value in an unsettled envelope.
func New[T any](value T) *Consumable[T] {
	return &Consumable[T]{
		value:  value,
		signal: future.New[struct{}](),
	}
}

// Value returns the wrapped value. Valid until settlement; after
// settlement the producer may have recycled the underlying buffer.
func (c *Consumable[T]) Value() T {
	return c.value
}

// Consume settles the envelope as successfully consumed. Reports
// whether this call performed the settlement.
func (c *Consumable[T]) Consume() bool {
	return c.signal.Resolve(struct{}{})
}

// Error settles the envelope as failed. Reports whether this call
// performed the settlement.
func (c *Consumable[T]) Error(err error) bool {
	return c.signal.Reject(err)
}

// TryConsume runs fn on the wrapped value and settles the envelope
// from fn's outcome: a nil return settles Consumed, a non-nil return
// settles Errored with that error, and a panic settles Errored before
// the panic is re-raised to the caller. fn runs to completion before
// settlement, so a fn that blocks on downstream work defers the
// producer's buffer release until that work is done.
//
// The returned error is fn's error, also visible through Err.
func (c *Consumable[T]) TryConsume(fn func(T) error) error {
	defer func() {
		if recovered := recover(); recovered != nil {
			c.Error(fmt.Errorf("consumer panic: %v", recovered))
			panic(recovered)
		}
	}()
	if err := fn(c.value); err != nil {
		c.Error(err)
		return err
	}
	c.Consume()
	return nil
}

// Done returns a channel closed on settlement. The producer waits on
// this before reusing the buffer.
func (c *Consumable[T]) Done() <-chan struct{} {
	return c.signal.Done()
}

// State returns the current settlement state.
func (c *Consumable[T]) State() State {
	if !c.signal.Settled() {
		return Pending
	}
	if _, err := c.signal.Result(); err != nil {
		return Errored
	}
	return Consumed
}

// Err returns the settlement error, or nil while pending or after a
// successful Consume.
func (c *Consumable[T]) Err() error {
	_, err := c.signal.Result()
	return err
}
