// Copyright 2026 The Devmirror Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides devmirror's standard CBOR encoding
// configuration.
//
// Devmirror uses two serialization formats with a clear boundary:
//
//   - Hand-framed binary for device protocols: the shell packet
//     stream, the media side channel, and control messages, where the
//     agent defines the exact byte layout (see the wire package).
//   - CBOR for host-side artifacts: recording file headers and
//     persisted session descriptions, where the layout is ours to
//     choose and forward compatibility matters.
//
// This package provides the shared CBOR encoding and decoding modes so
// that every devmirror package encodes identically without duplicating
// configuration. The encoder uses Core Deterministic Encoding (RFC 8949
// §4.2): sorted map keys, smallest integer encoding, no
// indefinite-length items. Same logical data always produces identical
// bytes, so a recording header can be compared or hashed reliably.
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
package codec
