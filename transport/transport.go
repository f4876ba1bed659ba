// Copyright 2026 The Devmirror Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"net"
	"time"
)

// Dialer opens connections to an endpoint exposed by the device
// bridge. The address format is bridge-specific (e.g. "127.0.0.1:27184"
// for a TCP-forwarded device socket).
type Dialer interface {
	DialContext(ctx context.Context, address string) (net.Conn, error)
}

// NetDialer is the plain TCP Dialer used when the bridge exposes
// device sockets as local TCP endpoints.
type NetDialer struct {
	// Timeout bounds each dial attempt. Zero means no per-attempt
	// limit beyond ctx.
	Timeout time.Duration
}

// DialContext opens a TCP connection to address.
func (d *NetDialer) DialContext(ctx context.Context, address string) (net.Conn, error) {
	dialer := net.Dialer{Timeout: d.Timeout}
	return dialer.DialContext(ctx, "tcp", address)
}
