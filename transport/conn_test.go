// Copyright 2026 The Devmirror Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
	"testing"
	"time"
)

type pipeReadWriteCloser struct {
	io.Reader
	io.Writer
	closeFn func() error
}

func (p *pipeReadWriteCloser) Close() error {
	if p.closeFn != nil {
		return p.closeFn()
	}
	return nil
}

func TestStreamConnReadWrite(t *testing.T) {
	t.Parallel()
	clientReader, serverWriter := io.Pipe()
	serverReader, clientWriter := io.Pipe()

	clientConn := NewStreamConn(&pipeReadWriteCloser{Reader: clientReader, Writer: clientWriter}, "client", "agent")
	serverConn := NewStreamConn(&pipeReadWriteCloser{Reader: serverReader, Writer: serverWriter}, "agent", "client")
	defer clientConn.Close()
	defer serverConn.Close()

	message := []byte("hello from client")
	go func() {
		if _, err := clientConn.Write(message); err != nil {
			t.Errorf("Write: %v", err)
		}
	}()

	buffer := make([]byte, 256)
	bytesRead, err := serverConn.Read(buffer)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buffer[:bytesRead]) != "hello from client" {
		t.Errorf("read: got %q, want %q", buffer[:bytesRead], "hello from client")
	}
}

func TestStreamConnReadDeadlineClosesStream(t *testing.T) {
	t.Parallel()
	reader, _ := io.Pipe()
	closed := make(chan struct{})
	stream := &pipeReadWriteCloser{
		Reader: reader,
		Writer: io.Discard,
		closeFn: func() error {
			close(closed)
			return reader.Close()
		},
	}
	conn := NewStreamConn(stream, "client", "agent")

	if err := conn.SetReadDeadline(time.Now().Add(20 * time.Millisecond)); err != nil {
		t.Fatalf("SetReadDeadline: %v", err)
	}

	buffer := make([]byte, 1)
	if _, err := conn.Read(buffer); err == nil {
		t.Fatal("Read after deadline: got nil error")
	}
	select {
	case <-closed:
	default:
		t.Error("deadline did not close the underlying stream")
	}
}

func TestStreamConnAddresses(t *testing.T) {
	t.Parallel()
	conn := NewStreamConn(&pipeReadWriteCloser{Reader: io.MultiReader(), Writer: io.Discard}, "tunnel-client", "device-agent")
	defer conn.Close()

	if got := conn.LocalAddr().String(); got != "tunnel-client" {
		t.Errorf("LocalAddr: got %q, want %q", got, "tunnel-client")
	}
	if got := conn.RemoteAddr().String(); got != "device-agent" {
		t.Errorf("RemoteAddr: got %q, want %q", got, "device-agent")
	}
}

func TestNetDialerDialContext(t *testing.T) {
	t.Parallel()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer listener.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		accepted <- conn
	}()

	dialer := &NetDialer{Timeout: time.Second}
	conn, err := dialer.DialContext(context.Background(), listener.Addr().String())
	if err != nil {
		t.Fatalf("DialContext: %v", err)
	}
	defer conn.Close()

	serverConn := <-accepted
	defer serverConn.Close()
	if _, err := conn.Write([]byte{1}); err != nil {
		t.Errorf("Write over dialed connection: %v", err)
	}
	buffer := make([]byte, 1)
	if _, err := io.ReadFull(serverConn, buffer); err != nil {
		t.Errorf("reading dialed byte: %v", err)
	}
}

func TestNetDialerCancelledContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dialer := &NetDialer{}
	if _, err := dialer.DialContext(ctx, "127.0.0.1:1"); err == nil {
		t.Fatal("DialContext with cancelled context: got nil error")
	}
}

func TestIsExpectedCloseError(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "eof", err: io.EOF, want: true},
		{name: "wrapped eof", err: errors.Join(errors.New("read"), io.EOF), want: true},
		{name: "net closed", err: net.ErrClosed, want: true},
		{name: "closed pipe", err: io.ErrClosedPipe, want: true},
		{name: "broken pipe", err: syscall.EPIPE, want: true},
		{name: "connection reset", err: syscall.ECONNRESET, want: true},
		{name: "refused", err: syscall.ECONNREFUSED, want: false},
		{name: "other", err: errors.New("corrupt frame"), want: false},
	}
	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			if got := IsExpectedCloseError(test.err); got != test.want {
				t.Errorf("IsExpectedCloseError(%v): got %v, want %v", test.err, got, test.want)
			}
		})
	}
}
