// Copyright 2026 The Devmirror Authors
// SPDX-License-Identifier: Apache-2.0

package shell

import (
	"context"
	"io"
	"sync"

	"github.com/devmirror/devmirror/lib/consumable"
)

// Queue is one logical channel demultiplexed from the session socket.
// Payloads arrive in wire order, are never duplicated and never
// dropped; the queue reaches its terminal closed or errored state
// exactly once.
//
// The producer side (the packet pump) hands each payload over wrapped
// in a consumable envelope and waits for the consumer to settle it
// before decoding the next packet. Backpressure is therefore
// transitive: a slow consumer on this queue delays the next socket
// read, which also delays delivery to the other channels sharing the
// socket. That head-of-line blocking is an accepted property of the
// shared-socket design.
type Queue struct {
	items chan *consumable.Consumable[[]byte]

	closeOnce sync.Once
	terminal  chan struct{}

	mu  sync.Mutex
	err error
}

func newQueue() *Queue {
	return &Queue{
		items:    make(chan *consumable.Consumable[[]byte]),
		terminal: make(chan struct{}),
	}
}

// push delivers one payload envelope and waits for settlement. A
// consumer error settles the envelope and is returned so the pump can
// terminate the session with it. If the queue reaches its terminal
// state while the push is pending, the envelope is settled errored
// (or consumed on a clean close) and the terminal condition returned.
func (q *Queue) push(envelope *consumable.Consumable[[]byte]) error {
	select {
	case q.items <- envelope:
	case <-q.terminal:
		return q.settleTerminal(envelope)
	}
	select {
	case <-envelope.Done():
		return envelope.Err()
	case <-q.terminal:
		return q.settleTerminal(envelope)
	}
}

// settleTerminal resolves an envelope stranded by queue closure so its
// producer never hangs waiting for a consumer that will not come.
func (q *Queue) settleTerminal(envelope *consumable.Consumable[[]byte]) error {
	err := q.Err()
	if err == nil {
		envelope.Error(io.ErrClosedPipe)
		return io.EOF
	}
	envelope.Error(err)
	return err
}

// close moves the queue to its terminal state. The first call wins:
// err == nil records a clean close (consumers see io.EOF), non-nil
// records a failure. Later calls are no-ops.
func (q *Queue) close(err error) {
	q.closeOnce.Do(func() {
		q.mu.Lock()
		q.err = err
		q.mu.Unlock()
		close(q.terminal)
	})
}

// Err returns the terminal error, or nil while open or after a clean
// close.
func (q *Queue) Err() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.err
}

// Next returns the next payload envelope. The consumer must settle the
// envelope (Consume, Error or TryConsume); until it does, the producer
// holds off further packet decoding. Returns io.EOF after a clean
// close, the terminal error after a failure, or ctx.Err() if the
// context ends first.
func (q *Queue) Next(ctx context.Context) (*consumable.Consumable[[]byte], error) {
	select {
	case envelope := <-q.items:
		return envelope, nil
	case <-q.terminal:
		if err := q.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Drain consumes the queue to completion, writing every payload to w.
// Each envelope is settled from the write outcome, so w's speed is the
// channel's backpressure. Returns nil once the queue closes cleanly.
func (q *Queue) Drain(ctx context.Context, w io.Writer) error {
	for {
		envelope, err := q.Next(ctx)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if err := envelope.TryConsume(func(payload []byte) error {
			_, writeErr := w.Write(payload)
			return writeErr
		}); err != nil {
			return err
		}
	}
}
