// Copyright 2026 The Devmirror Authors
// SPDX-License-Identifier: Apache-2.0

package shell

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/devmirror/devmirror/lib/consumable"
	"github.com/devmirror/devmirror/lib/future"
	"github.com/devmirror/devmirror/transport"
	"github.com/devmirror/devmirror/wire"
)

// ErrNoExitMessage reports that the inbound stream ended before the
// agent sent an exit packet. The session's queues still close cleanly;
// only the exit signal carries this rejection.
var ErrNoExitMessage = errors.New("shell: stream ended without exit message")

// ErrSessionClosed reports a write attempted after the session reached
// its terminal state.
var ErrSessionClosed = errors.New("shell: session closed")

// Config carries optional session settings.
type Config struct {
	// Logger receives per-packet debug logging. Defaults to
	// slog.Default().
	Logger *slog.Logger
}

// Session multiplexes one duplex byte stream into the shell protocol's
// logical channels. The session owns conn: it is closed when the
// session terminates, and no other code may read or write it.
//
// Exactly one goroutine pumps inbound packets. Stdout and stderr
// payloads are delivered through their queues with settlement-driven
// backpressure; the exit packet settles the exit future. Every
// termination path — natural stream end, read error, Kill, external
// abort — drives both queues and the exit future to a terminal state
// exactly once.
type Session struct {
	conn   io.ReadWriteCloser
	logger *slog.Logger
	ctx    context.Context

	stdout *Queue
	stderr *Queue
	exit   *future.Future[uint32]

	writeMu sync.Mutex

	done     chan struct{}
	doneOnce sync.Once
}

// NewSession starts a protocol session over conn. ctx is the external
// abort trigger: when it ends, the session closes conn and cascades
// into the normal termination path. If ctx is already cancelled, no
// session is created and conn is left untouched.
func NewSession(ctx context.Context, conn io.ReadWriteCloser, config Config) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("shell: abort already triggered: %w", context.Cause(ctx))
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	session := &Session{
		conn:   conn,
		logger: logger,
		ctx:    ctx,
		stdout: newQueue(),
		stderr: newQueue(),
		exit:   future.New[uint32](),
		done:   make(chan struct{}),
	}
	go session.watchAbort()
	go session.pump()
	return session, nil
}

// Stdout returns the stdout channel queue. The caller must consume it;
// an unconsumed queue stalls the packet pump for every channel.
func (s *Session) Stdout() *Queue { return s.stdout }

// Stderr returns the stderr channel queue.
func (s *Session) Stderr() *Queue { return s.stderr }

// Exit returns the exit signal. It resolves with the agent's exit
// status, or rejects with ErrNoExitMessage or the transport failure.
func (s *Session) Exit() *future.Future[uint32] { return s.exit }

// Done returns a channel closed once the session has fully terminated.
func (s *Session) Done() <-chan struct{} { return s.done }

// Write sends p as a stdin packet. Implements io.Writer. An abort
// observed before the write wins over it: the packet is not sent.
func (s *Session) Write(p []byte) (int, error) {
	if err := s.writePacket(PacketStdin, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// CloseStdin tells the agent no further input will arrive.
func (s *Session) CloseStdin() error {
	return s.writePacket(PacketCloseStdin, nil)
}

// Resize reports new terminal dimensions to the agent.
func (s *Session) Resize(rows, cols int) error {
	return s.writePacket(PacketResize, ResizePayload(rows, cols))
}

// Kill closes the underlying socket, driving the session through the
// same termination path as a natural stream end. Idempotent.
func (s *Session) Kill() error {
	s.terminate(net.ErrClosed)
	return nil
}

// Close is Kill under the name io.Closer expects.
func (s *Session) Close() error { return s.Kill() }

// writePacket serializes one outbound packet. The abort check comes
// first: an already-triggered abort always wins over an in-flight
// write.
func (s *Session) writePacket(id PacketID, payload []byte) error {
	select {
	case <-s.ctx.Done():
		return fmt.Errorf("shell: aborted: %w", context.Cause(s.ctx))
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	err := packetSchema.EncodeTo(s.conn, wire.Values{
		"id":      uint8(id),
		"payload": payload,
	})
	if err != nil {
		return fmt.Errorf("shell: writing %s packet: %w", id, err)
	}
	return nil
}

// watchAbort closes the session when the external abort trigger fires.
func (s *Session) watchAbort() {
	select {
	case <-s.ctx.Done():
		s.terminate(context.Cause(s.ctx))
	case <-s.done:
	}
}

// pump decodes inbound packets and dispatches by tag until the stream
// reaches a terminal condition.
func (s *Session) pump() {
	source := wire.NewReaderSource(s.conn)
	for {
		values, err := packetSchema.Decode(source)
		if err != nil {
			s.terminate(err)
			return
		}
		if err := s.dispatch(values); err != nil {
			s.terminate(err)
			return
		}
	}
}

// dispatch routes one decoded packet. Delivery to a channel queue is
// awaited before returning, so downstream backpressure reaches the
// socket read in pump.
func (s *Session) dispatch(values wire.Values) error {
	tag, err := values.Uint("id")
	if err != nil {
		return err
	}
	payload, err := values.Bytes("payload")
	if err != nil {
		return err
	}
	if len(payload) > maxPayloadLength {
		return fmt.Errorf("shell: %s payload %d bytes exceeds maximum %d",
			PacketID(tag), len(payload), maxPayloadLength)
	}

	switch id := PacketID(tag); id {
	case PacketStdout:
		return s.stdout.push(consumable.New(payload))
	case PacketStderr:
		return s.stderr.push(consumable.New(payload))
	case PacketExit:
		if len(payload) != exitStatusLength {
			return fmt.Errorf("shell: exit payload is %d bytes, want %d", len(payload), exitStatusLength)
		}
		status := binary.LittleEndian.Uint32(payload)
		if s.exit.Resolve(status) {
			s.logger.Debug("shell session exit", "status", status)
		}
		return nil
	default:
		return fmt.Errorf("shell: unexpected %s packet from agent", id)
	}
}

// terminate drives the session to its terminal state: socket closed,
// both queues terminal, exit future settled. Safe to call from any
// path any number of times; the first call per primitive wins.
//
// A nil or expected-close error records a clean stream end: the queues
// close without error and the exit future — unless an exit packet
// already settled it — rejects with ErrNoExitMessage. Any other error
// propagates identically to both queues and the exit future.
func (s *Session) terminate(err error) {
	s.conn.Close()
	if err == nil || transport.IsExpectedCloseError(err) {
		s.stdout.close(nil)
		s.stderr.close(nil)
		s.exit.Reject(ErrNoExitMessage)
	} else {
		s.stdout.close(err)
		s.stderr.close(err)
		s.exit.Reject(err)
	}
	s.doneOnce.Do(func() { close(s.done) })
}
