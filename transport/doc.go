// Copyright 2026 The Devmirror Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport provides the byte-stream plumbing under the
// device-control protocols: a dialer abstraction over the device
// bridge, a deadline-capable wrapper for raw streams, the side-channel
// tunnel used by the mirroring client, and close-error classification.
//
// Everything below the duplex byte stream — USB framing, TCP
// specifics, device authentication — belongs to the external bridge
// collaborator, not to this package.
package transport
