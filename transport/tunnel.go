// Copyright 2026 The Devmirror Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"
)

// ErrUnsupportedCapability reports that the remote side rejected the
// requested tunnel mode. This is the one establishment failure the
// mirroring client converts into a retry in the alternate mode; every
// other failure is terminal.
var ErrUnsupportedCapability = errors.New("transport: tunnel mode unsupported by remote side")

// ErrTunnelDisposed reports an operation on a disposed tunnel.
var ErrTunnelDisposed = errors.New("transport: tunnel disposed")

// TunnelMode selects how the side channel is established.
type TunnelMode int

const (
	// ModeReverse sets up a device→host reverse forward: the host
	// listens and the device agent connects out. The default mode.
	ModeReverse TunnelMode = iota

	// ModeForward maps the device socket to a host endpoint the
	// client dials. The fallback when the remote side does not
	// support reverse forwarding.
	ModeForward
)

func (m TunnelMode) String() string {
	switch m {
	case ModeReverse:
		return "reverse"
	case ModeForward:
		return "forward"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// TunnelConfig carries the bridge collaborator hooks for one tunnel.
type TunnelConfig struct {
	Mode TunnelMode

	// Listen establishes the reverse forward and returns the host-side
	// listener the device agent will connect to. It returns (possibly
	// wrapped) ErrUnsupportedCapability when the remote side rejects
	// reverse forwarding. Required in ModeReverse.
	Listen func(ctx context.Context) (net.Listener, error)

	// Open dials one stream to the forwarded device socket. Required
	// in ModeForward.
	Open func(ctx context.Context) (io.ReadWriteCloser, error)

	// ReadyTimeout bounds each forward-mode ready-byte wait. The agent
	// writes a single zero byte on its first socket once it is
	// listening; until then, dials may connect to the bridge and then
	// stall. Defaults to one second per attempt.
	ReadyTimeout time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Tunnel is the established side channel. Lifecycle: a Tunnel exists
// only in the ready state (Establish returns no partially initialized
// value) and moves to disposed exactly once via Dispose.
//
// Streams yielded by Accept are owned by the caller; disposing the
// tunnel afterwards does not close them.
type Tunnel struct {
	mode         TunnelMode
	listener     net.Listener
	open         func(ctx context.Context) (io.ReadWriteCloser, error)
	readyTimeout time.Duration
	logger       *slog.Logger

	mu            sync.Mutex
	disposed      bool
	firstAccepted bool
}

// Establish sets up the side channel in the configured mode. In
// reverse mode this performs the forward negotiation immediately, so
// an unsupported-capability rejection surfaces here; in forward mode
// streams are dialed lazily by Accept.
func Establish(ctx context.Context, config TunnelConfig) (*Tunnel, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	readyTimeout := config.ReadyTimeout
	if readyTimeout == 0 {
		readyTimeout = time.Second
	}
	tunnel := &Tunnel{
		mode:         config.Mode,
		open:         config.Open,
		readyTimeout: readyTimeout,
		logger:       logger,
	}
	switch config.Mode {
	case ModeReverse:
		if config.Listen == nil {
			return nil, errors.New("transport: reverse tunnel requires a Listen hook")
		}
		listener, err := config.Listen(ctx)
		if err != nil {
			return nil, fmt.Errorf("transport: establishing reverse tunnel: %w", err)
		}
		tunnel.listener = listener
	case ModeForward:
		if config.Open == nil {
			return nil, errors.New("transport: forward tunnel requires an Open hook")
		}
	default:
		return nil, fmt.Errorf("transport: unknown tunnel mode %v", config.Mode)
	}
	logger.Debug("tunnel established", "mode", config.Mode.String())
	return tunnel, nil
}

// Mode returns the mode the tunnel was established in.
func (t *Tunnel) Mode() TunnelMode { return t.mode }

// Accept yields the next stream from the device, in the order the
// agent opens them. In reverse mode it accepts the agent's inbound
// connection; in forward mode it dials the forwarded socket, retrying
// until the agent is listening (detected by the ready byte on the
// first stream).
func (t *Tunnel) Accept(ctx context.Context) (net.Conn, error) {
	t.mu.Lock()
	if t.disposed {
		t.mu.Unlock()
		return nil, ErrTunnelDisposed
	}
	first := !t.firstAccepted
	t.mu.Unlock()

	var conn net.Conn
	var err error
	switch t.mode {
	case ModeReverse:
		conn, err = t.acceptReverse(ctx)
	case ModeForward:
		conn, err = t.acceptForward(ctx, first)
	}
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.firstAccepted = true
	t.mu.Unlock()
	return conn, nil
}

func (t *Tunnel) acceptReverse(ctx context.Context) (net.Conn, error) {
	// Closing the listener is the only way to unblock Accept; a tunnel
	// whose establishment context ends is finished either way.
	stop := context.AfterFunc(ctx, func() { t.listener.Close() })
	defer stop()

	conn, err := t.listener.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("transport: accepting tunnel stream: %w", context.Cause(ctx))
		}
		return nil, fmt.Errorf("transport: accepting tunnel stream: %w", err)
	}
	return conn, nil
}

// acceptForward dials the forwarded device socket. On the first
// stream the agent confirms readiness with a single zero byte; a dial
// that connects to the bridge before the agent listens stalls instead,
// so each attempt is bounded by the ready timeout and retried.
func (t *Tunnel) acceptForward(ctx context.Context, first bool) (net.Conn, error) {
	const retryDelay = 100 * time.Millisecond
	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("transport: dialing tunnel stream: %w", context.Cause(ctx))
		}
		stream, err := t.open(ctx)
		if err == nil {
			conn := NewStreamConn(stream, "tunnel-client", "device-agent")
			if !first {
				return conn, nil
			}
			if err := t.readReadyByte(conn); err == nil {
				return conn, nil
			}
			conn.Close()
		} else {
			t.logger.Debug("forward tunnel dial failed, retrying", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("transport: dialing tunnel stream: %w", context.Cause(ctx))
		case <-time.After(retryDelay):
		}
	}
}

func (t *Tunnel) readReadyByte(conn net.Conn) error {
	if err := conn.SetReadDeadline(time.Now().Add(t.readyTimeout)); err != nil {
		return err
	}
	var ready [1]byte
	if _, err := io.ReadFull(conn, ready[:]); err != nil {
		return err
	}
	return conn.SetReadDeadline(time.Time{})
}

// Dispose releases the tunnel's establishment resources. Idempotent,
// and safe to call after the accepted streams have been handed off —
// it never closes them.
func (t *Tunnel) Dispose() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disposed {
		return nil
	}
	t.disposed = true
	if t.listener != nil {
		t.listener.Close()
	}
	return nil
}
