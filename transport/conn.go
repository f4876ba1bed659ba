// Copyright 2026 The Devmirror Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"io"
	"net"
	"sync"
	"time"
)

// StreamConn wraps a raw duplex stream from the device bridge (a USB
// endpoint pair, a forwarded unix socket) as a net.Conn. The
// underlying stream is already byte-oriented, so this behaves like a
// TCP connection from the perspective of the protocol sessions above
// it.
//
// Deadline support uses timer-based cancellation: when a deadline
// fires, the underlying stream is closed, causing any blocked Read or
// Write to return an error. Once a deadline has fired the conn is
// permanently broken, which is the behavior the tunnel handshake
// needs — a stream that missed its ready byte is abandoned, not
// reused.
type StreamConn struct {
	rwc        io.ReadWriteCloser
	localLabel string
	peerLabel  string

	mu             sync.Mutex
	readTimer      *time.Timer
	writeTimer     *time.Timer
	deadlineClosed bool
}

var _ net.Conn = (*StreamConn)(nil)

// NewStreamConn wraps rwc as a net.Conn. localLabel and peerLabel
// identify the endpoints in Addr values and logs.
func NewStreamConn(rwc io.ReadWriteCloser, localLabel, peerLabel string) *StreamConn {
	return &StreamConn{
		rwc:        rwc,
		localLabel: localLabel,
		peerLabel:  peerLabel,
	}
}

func (c *StreamConn) Read(buffer []byte) (int, error) {
	return c.rwc.Read(buffer)
}

func (c *StreamConn) Write(buffer []byte) (int, error) {
	return c.rwc.Write(buffer)
}

func (c *StreamConn) Close() error {
	c.mu.Lock()
	c.stopTimersLocked()
	c.mu.Unlock()
	return c.rwc.Close()
}

// LocalAddr returns a synthetic address for the local endpoint.
func (c *StreamConn) LocalAddr() net.Addr {
	return &streamAddr{label: c.localLabel}
}

// RemoteAddr returns a synthetic address for the remote endpoint.
func (c *StreamConn) RemoteAddr() net.Addr {
	return &streamAddr{label: c.peerLabel}
}

// SetDeadline sets both read and write deadlines. A zero value clears
// them.
func (c *StreamConn) SetDeadline(deadline time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setTimerLocked(&c.readTimer, deadline)
	c.setTimerLocked(&c.writeTimer, deadline)
	return nil
}

// SetReadDeadline sets the read deadline. When it fires, pending reads
// return an error.
func (c *StreamConn) SetReadDeadline(deadline time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setTimerLocked(&c.readTimer, deadline)
	return nil
}

// SetWriteDeadline sets the write deadline. When it fires, pending
// writes return an error.
func (c *StreamConn) SetWriteDeadline(deadline time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setTimerLocked(&c.writeTimer, deadline)
	return nil
}

func (c *StreamConn) setTimerLocked(timer **time.Timer, deadline time.Time) {
	if *timer != nil {
		(*timer).Stop()
		*timer = nil
	}
	if deadline.IsZero() || c.deadlineClosed {
		return
	}
	duration := time.Until(deadline)
	if duration <= 0 {
		c.closeFromDeadlineLocked()
		return
	}
	*timer = time.AfterFunc(duration, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.closeFromDeadlineLocked()
	})
}

func (c *StreamConn) closeFromDeadlineLocked() {
	if c.deadlineClosed {
		return
	}
	c.deadlineClosed = true
	c.stopTimersLocked()
	c.rwc.Close()
}

func (c *StreamConn) stopTimersLocked() {
	if c.readTimer != nil {
		c.readTimer.Stop()
		c.readTimer = nil
	}
	if c.writeTimer != nil {
		c.writeTimer.Stop()
		c.writeTimer = nil
	}
}

type streamAddr struct {
	label string
}

func (a *streamAddr) Network() string { return "devmirror" }
func (a *streamAddr) String() string  { return a.label }
