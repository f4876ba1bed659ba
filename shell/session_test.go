// Copyright 2026 The Devmirror Authors
// SPDX-License-Identifier: Apache-2.0

package shell

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/devmirror/devmirror/wire"
)

// writePacket serializes one agent→client packet onto w.
func writeTestPacket(t *testing.T, w io.Writer, id PacketID, payload []byte) {
	t.Helper()
	if err := packetSchema.EncodeTo(w, wire.Values{
		"id":      uint8(id),
		"payload": payload,
	}); err != nil {
		t.Errorf("writing %s packet: %v", id, err)
	}
}

func exitPayload(status uint32) []byte {
	payload := make([]byte, 4)
	binary.LittleEndian.PutUint32(payload, status)
	return payload
}

func startTestSession(t *testing.T, ctx context.Context) (*Session, net.Conn) {
	t.Helper()
	client, agent := net.Pipe()
	session, err := NewSession(ctx, client, Config{})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	t.Cleanup(func() {
		session.Kill()
		agent.Close()
	})
	return session, agent
}

func TestInterleavedChannelsPreserveOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	session, agent := startTestSession(t, ctx)

	go func() {
		writeTestPacket(t, agent, PacketStdout, []byte("out-1 "))
		writeTestPacket(t, agent, PacketStderr, []byte("err-1 "))
		writeTestPacket(t, agent, PacketStdout, []byte("out-2"))
		writeTestPacket(t, agent, PacketStderr, []byte("err-2"))
		writeTestPacket(t, agent, PacketExit, exitPayload(42))
		agent.Close()
	}()

	var stdout, stderr bytes.Buffer
	stderrDone := make(chan error, 1)
	go func() { stderrDone <- session.Stderr().Drain(ctx, &stderr) }()
	if err := session.Stdout().Drain(ctx, &stdout); err != nil {
		t.Fatalf("draining stdout: %v", err)
	}
	if err := <-stderrDone; err != nil {
		t.Fatalf("draining stderr: %v", err)
	}

	if got := stdout.String(); got != "out-1 out-2" {
		t.Errorf("stdout: got %q, want %q", got, "out-1 out-2")
	}
	if got := stderr.String(); got != "err-1 err-2" {
		t.Errorf("stderr: got %q, want %q", got, "err-1 err-2")
	}

	status, err := session.Exit().Wait(ctx)
	if err != nil {
		t.Fatalf("Exit: %v", err)
	}
	if status != 42 {
		t.Errorf("exit status: got %d, want 42", status)
	}
}

func TestEndWithoutExitRejectsExactlyOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	session, agent := startTestSession(t, ctx)

	go func() {
		writeTestPacket(t, agent, PacketStdout, []byte("partial work"))
		agent.Close()
	}()

	var stdout bytes.Buffer
	if err := session.Stdout().Drain(ctx, &stdout); err != nil {
		t.Fatalf("draining stdout: %v", err)
	}
	if err := session.Stderr().Drain(ctx, io.Discard); err != nil {
		t.Fatalf("draining stderr: %v", err)
	}

	_, err := session.Exit().Wait(ctx)
	if !errors.Is(err, ErrNoExitMessage) {
		t.Fatalf("Exit: got %v, want ErrNoExitMessage", err)
	}

	// The exit signal is terminal: later settlement attempts no-op.
	if session.Exit().Resolve(0) {
		t.Error("Resolve after rejection: got true, want false")
	}
	if got := stdout.String(); got != "partial work" {
		t.Errorf("stdout: got %q, want %q", got, "partial work")
	}
}

func TestTruncatedPacketPropagatesToAllChannels(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	session, agent := startTestSession(t, ctx)

	go func() {
		// Header claims 10 payload bytes; only 2 arrive.
		agent.Write([]byte{byte(PacketStdout), 10, 0, 0, 0, 'a', 'b'})
		agent.Close()
	}()

	<-session.Done()

	if _, err := session.Stdout().Next(ctx); !errors.Is(err, wire.ErrUnexpectedEnd) {
		t.Errorf("stdout: got %v, want ErrUnexpectedEnd", err)
	}
	if _, err := session.Stderr().Next(ctx); !errors.Is(err, wire.ErrUnexpectedEnd) {
		t.Errorf("stderr: got %v, want ErrUnexpectedEnd", err)
	}
	if _, err := session.Exit().Wait(ctx); !errors.Is(err, wire.ErrUnexpectedEnd) {
		t.Errorf("exit: got %v, want ErrUnexpectedEnd", err)
	}
}

func TestUnexpectedTagTerminatesSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	session, agent := startTestSession(t, ctx)

	go func() {
		// Tag 0 (stdin) never legally flows agent→client.
		writeTestPacket(t, agent, PacketStdin, []byte("backwards"))
	}()

	<-session.Done()
	_, err := session.Exit().Wait(ctx)
	if err == nil || errors.Is(err, ErrNoExitMessage) {
		t.Fatalf("exit: got %v, want direction-violation error", err)
	}
}

func TestConstructionFailsWhenAbortAlreadyActive(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client, agent := net.Pipe()
	defer client.Close()
	defer agent.Close()

	if _, err := NewSession(ctx, client, Config{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("NewSession: got %v, want context.Canceled", err)
	}
}

func TestAbortCascadesAndWinsOverWrites(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	session, _ := startTestSession(t, ctx)

	cancel()
	<-session.Done()

	if _, err := session.Exit().Wait(context.Background()); !errors.Is(err, context.Canceled) {
		t.Errorf("exit: got %v, want context.Canceled", err)
	}
	if _, err := session.Stdout().Next(context.Background()); !errors.Is(err, context.Canceled) {
		t.Errorf("stdout: got %v, want context.Canceled", err)
	}

	// Abort always wins over a write issued after it.
	if _, err := session.Write([]byte("too late")); !errors.Is(err, context.Canceled) {
		t.Errorf("Write after abort: got %v, want context.Canceled", err)
	}
}

func TestKillDrivesCleanTermination(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	session, _ := startTestSession(t, ctx)

	if err := session.Kill(); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	<-session.Done()

	if _, err := session.Stdout().Next(ctx); err != io.EOF {
		t.Errorf("stdout after Kill: got %v, want io.EOF", err)
	}
	if _, err := session.Exit().Wait(ctx); !errors.Is(err, ErrNoExitMessage) {
		t.Errorf("exit after Kill: got %v, want ErrNoExitMessage", err)
	}
	// Kill is idempotent.
	if err := session.Kill(); err != nil {
		t.Errorf("second Kill: %v", err)
	}
}

func TestWriteSideFraming(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	session, agent := startTestSession(t, ctx)

	agentSource := wire.NewReaderSource(agent)
	readFrame := func() (PacketID, []byte) {
		values, err := packetSchema.Decode(agentSource)
		if err != nil {
			t.Fatalf("agent decoding frame: %v", err)
		}
		tag, _ := values.Uint("id")
		payload, _ := values.Bytes("payload")
		return PacketID(tag), payload
	}

	go func() {
		if _, err := session.Write([]byte("ls -l\n")); err != nil {
			t.Errorf("Write: %v", err)
		}
		if err := session.Resize(24, 80); err != nil {
			t.Errorf("Resize: %v", err)
		}
		if err := session.CloseStdin(); err != nil {
			t.Errorf("CloseStdin: %v", err)
		}
	}()

	if id, payload := readFrame(); id != PacketStdin || string(payload) != "ls -l\n" {
		t.Errorf("frame 1: got %s %q", id, payload)
	}
	if id, payload := readFrame(); id != PacketResize || string(payload) != "24x80,0x0\x00" {
		t.Errorf("frame 2: got %s %q", id, payload)
	}
	if id, payload := readFrame(); id != PacketCloseStdin || len(payload) != 0 {
		t.Errorf("frame 3: got %s %q", id, payload)
	}
}

// TestBackpressureDelaysNextPacket verifies the settlement contract:
// the pump does not decode the next packet until the previous
// envelope settles.
func TestBackpressureDelaysNextPacket(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	session, agent := startTestSession(t, ctx)

	go func() {
		writeTestPacket(t, agent, PacketStdout, []byte("first"))
		writeTestPacket(t, agent, PacketStdout, []byte("second"))
	}()

	first, err := session.Stdout().Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if string(first.Value()) != "first" {
		t.Fatalf("first payload: got %q", first.Value())
	}

	// With the first envelope unsettled, the second packet must not be
	// deliverable.
	waitCtx, cancelWait := context.WithTimeout(ctx, 50*time.Millisecond)
	if _, err := session.Stdout().Next(waitCtx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Next while unsettled: got %v, want deadline exceeded", err)
	}
	cancelWait()

	first.Consume()
	second, err := session.Stdout().Next(ctx)
	if err != nil {
		t.Fatalf("Next after settlement: %v", err)
	}
	defer second.Consume()
	if string(second.Value()) != "second" {
		t.Errorf("second payload: got %q", second.Value())
	}
}

func TestConsumerErrorTerminatesSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	session, agent := startTestSession(t, ctx)

	go writeTestPacket(t, agent, PacketStdout, []byte("chunk"))

	envelope, err := session.Stdout().Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	sinkFailure := errors.New("sink full")
	envelope.Error(sinkFailure)

	<-session.Done()
	if _, err := session.Exit().Wait(ctx); !errors.Is(err, sinkFailure) {
		t.Errorf("exit: got %v, want %v", err, sinkFailure)
	}
}
