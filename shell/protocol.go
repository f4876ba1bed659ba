// Copyright 2026 The Devmirror Authors
// SPDX-License-Identifier: Apache-2.0

// Package shell implements the v2 remote-shell protocol: one duplex
// byte stream multiplexing stdin, stdout, stderr, exit status and
// window resizes as tagged, length-prefixed packets.
//
// The package is organized around the session data flow:
//
//   - protocol.go: packet tags and the wire schema (1-byte tag,
//     4-byte little-endian length, payload)
//   - queue.go: per-channel FIFO of consumable payloads with
//     settlement-driven backpressure
//   - session.go: the read pump, write side, and termination paths
package shell

import (
	"encoding/binary"
	"fmt"

	"github.com/devmirror/devmirror/wire"
)

// PacketID is the tag of one multiplexed packet. The tag fully
// determines the payload interpretation and which direction the packet
// legally flows.
type PacketID uint8

const (
	// PacketStdin carries raw input bytes, client→agent.
	PacketStdin PacketID = 0

	// PacketStdout carries raw output bytes, agent→client.
	PacketStdout PacketID = 1

	// PacketStderr carries raw error-output bytes, agent→client.
	PacketStderr PacketID = 2

	// PacketExit carries the process exit status as a 4-byte value,
	// agent→client. Terminal: at most one per session.
	PacketExit PacketID = 3

	// PacketCloseStdin signals end of input, client→agent. Empty
	// payload.
	PacketCloseStdin PacketID = 4

	// PacketResize carries new terminal dimensions as UTF-8 text,
	// client→agent. See [ResizePayload] for the format.
	PacketResize PacketID = 5
)

// String returns the tag name for logging.
func (id PacketID) String() string {
	switch id {
	case PacketStdin:
		return "stdin"
	case PacketStdout:
		return "stdout"
	case PacketStderr:
		return "stderr"
	case PacketExit:
		return "exit"
	case PacketCloseStdin:
		return "close-stdin"
	case PacketResize:
		return "resize"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(id))
	}
}

// maxPayloadLength caps an inbound payload. Generous for terminal
// data; anything beyond it indicates a corrupt stream.
const maxPayloadLength = 16 * 1024 * 1024

// packetSchema is the frame layout shared by both directions.
var packetSchema = wire.NewSchema(binary.LittleEndian,
	wire.Uint8("id"),
	wire.Uint32("length"),
	wire.Bytes("payload", "length"),
)

// exitStatusLength is the byte size of an exit packet payload.
const exitStatusLength = 4

// ResizePayload formats the tag-5 payload: "{rows}x{cols},0x0\0". The
// trailing pixel dimensions are deliberately always zero — the remote
// side ignores them.
func ResizePayload(rows, cols int) []byte {
	return []byte(fmt.Sprintf("%dx%d,0x0\x00", rows, cols))
}
