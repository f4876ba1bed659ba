// Copyright 2026 The Devmirror Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"errors"
	"io"
	"net"
	"syscall"
)

// IsExpectedCloseError reports whether err is a normal connection
// termination: EOF, closed connection, broken pipe, or connection
// reset. These occur during normal session teardown when one side
// closes and the other side's in-flight read or write fails as a
// result.
//
// Sessions that use full-close (closing the whole socket rather than
// half-close) produce ECONNRESET and EPIPE instead of EOF on the
// surviving side. All four count as a clean stream end, not a
// transport failure.
func IsExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}
	return false
}
