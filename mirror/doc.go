// Copyright 2026 The Devmirror Authors
// SPDX-License-Identifier: Apache-2.0

// Package mirror implements the screen-mirroring client: it
// establishes the side-channel tunnel (with one bounded fallback from
// reverse to forward mode), spawns the on-device agent, races the
// agent's exit against stream availability, and hands the caller the
// negotiated video/audio/control streams.
//
// The package is organized around the session lifecycle:
//
//   - options.go: agent option list and codec identifiers
//   - client.go: tunnel establishment, agent spawn, the readiness race
//   - stream.go: per-stream metadata headers and media packet framing
//   - control.go: control message writer and device message reader
//   - geometry.go, h264.go, h265.go, av1.go: configuration-packet
//     inspection to recover stream geometry
//
// Every stream accessor that is present must be consumed by the
// caller: the streams share one multiplexed connection, and an
// unconsumed channel blocks the others.
package mirror
