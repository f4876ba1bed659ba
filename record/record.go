// Copyright 2026 The Devmirror Authors
// SPDX-License-Identifier: Apache-2.0

// Package record persists a media stream to a file and plays it back.
//
// A recording is a magic prefix, a length-prefixed CBOR header
// describing the session, and a zstd-compressed body of media packets
// in the same wire framing the agent uses on the live channel. The
// header is deterministic CBOR, so identical sessions produce
// identical headers.
package record

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/devmirror/devmirror/lib/codec"
	"github.com/devmirror/devmirror/mirror"
	"github.com/devmirror/devmirror/wire"
)

// fileMagic opens every recording; the header carries the format
// version for everything after it.
var fileMagic = []byte{'D', 'V', 'M', 'R'}

// FormatVersion is the recording header version this package writes.
const FormatVersion = 1

// maxHeaderLength bounds the CBOR header so a corrupt length prefix
// cannot trigger a huge allocation.
const maxHeaderLength = 1 << 20

// Header describes the recorded session. Unknown fields written by a
// newer version are ignored on read.
type Header struct {
	Version    int    `cbor:"version"`
	Device     string `cbor:"device"`
	Codec      string `cbor:"codec"`
	Width      uint32 `cbor:"width"`
	Height     uint32 `cbor:"height"`
	StartedAt  int64  `cbor:"started_at"` // unix microseconds
	AgentProto string `cbor:"agent_proto"`
}

// Writer streams media packets into a recording. It does not close
// the underlying writer; Close only finalizes the compressed body.
type Writer struct {
	compressor *zstd.Encoder

	mu      sync.Mutex
	packets uint64
	closed  bool
}

// NewWriter writes the recording preamble and returns a packet
// writer. The header's Version field is set by this package.
func NewWriter(w io.Writer, header Header) (*Writer, error) {
	header.Version = FormatVersion
	if header.StartedAt == 0 {
		header.StartedAt = time.Now().UnixMicro()
	}
	encoded, err := codec.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("record: encoding header: %w", err)
	}
	if _, err := w.Write(fileMagic); err != nil {
		return nil, fmt.Errorf("record: writing magic: %w", err)
	}
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(encoded)))
	if _, err := w.Write(length[:]); err != nil {
		return nil, fmt.Errorf("record: writing header length: %w", err)
	}
	if _, err := w.Write(encoded); err != nil {
		return nil, fmt.Errorf("record: writing header: %w", err)
	}
	compressor, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("record: initializing compressor: %w", err)
	}
	return &Writer{compressor: compressor}, nil
}

// WritePacket appends one media packet to the recording body.
func (w *Writer) WritePacket(packet *mirror.MediaPacket) error {
	framed, err := mirror.EncodePacket(packet)
	if err != nil {
		return fmt.Errorf("record: framing packet: %w", err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errors.New("record: writer closed")
	}
	if _, err := w.compressor.Write(framed); err != nil {
		return fmt.Errorf("record: writing packet: %w", err)
	}
	w.packets++
	return nil
}

// Packets returns how many packets have been written.
func (w *Writer) Packets() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.packets
}

// Close finalizes the compressed body. The underlying writer stays
// open; the caller owns it.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.compressor.Close(); err != nil {
		return fmt.Errorf("record: finalizing recording: %w", err)
	}
	return nil
}

// Reader plays back a recording's packets in write order.
type Reader struct {
	header       Header
	decompressor *zstd.Decoder
	source       *wire.ReaderSource
}

// NewReader validates the preamble and decodes the header, leaving
// the reader positioned at the first packet.
func NewReader(r io.Reader) (*Reader, error) {
	magic := make([]byte, len(fileMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, fmt.Errorf("record: reading magic: %w", err)
	}
	if string(magic) != string(fileMagic) {
		return nil, fmt.Errorf("record: not a recording (magic %x)", magic)
	}
	var lengthBytes [4]byte
	if _, err := io.ReadFull(r, lengthBytes[:]); err != nil {
		return nil, fmt.Errorf("record: reading header length: %w", err)
	}
	length := binary.BigEndian.Uint32(lengthBytes[:])
	if length > maxHeaderLength {
		return nil, fmt.Errorf("record: header length %d exceeds maximum %d", length, maxHeaderLength)
	}
	encoded := make([]byte, length)
	if _, err := io.ReadFull(r, encoded); err != nil {
		return nil, fmt.Errorf("record: reading header: %w", err)
	}
	var header Header
	if err := codec.Unmarshal(encoded, &header); err != nil {
		return nil, fmt.Errorf("record: decoding header: %w", err)
	}
	if header.Version > FormatVersion {
		return nil, fmt.Errorf("record: header version %d is newer than supported %d", header.Version, FormatVersion)
	}
	decompressor, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("record: initializing decompressor: %w", err)
	}
	return &Reader{
		header:       header,
		decompressor: decompressor,
		source:       wire.NewReaderSource(decompressor),
	}, nil
}

// Header returns the decoded session description.
func (r *Reader) Header() Header { return r.header }

// ReadPacket returns the next recorded packet. The end of the
// recording returns io.EOF; a truncated body returns an error
// wrapping wire.ErrUnexpectedEnd.
func (r *Reader) ReadPacket() (*mirror.MediaPacket, error) {
	return mirror.DecodePacket(r.source)
}

// Close releases the decompressor. The underlying reader stays open.
func (r *Reader) Close() error {
	r.decompressor.Close()
	return nil
}

// Capture drains a live media stream into the writer until the
// stream ends or the packet limit is hit. A clean stream end returns
// nil; limit zero means unlimited.
func Capture(stream *mirror.MediaStream, writer *Writer, limit uint64) error {
	for {
		packet, err := stream.ReadPacket()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("record: reading stream: %w", err)
		}
		if err := writer.WritePacket(packet); err != nil {
			return err
		}
		if limit > 0 && writer.Packets() >= limit {
			return nil
		}
	}
}
