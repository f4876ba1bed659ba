// Copyright 2026 The Devmirror Authors
// SPDX-License-Identifier: Apache-2.0

package mirror

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/devmirror/devmirror/wire"
)

// deviceNameLength is the fixed size of the device name record the
// agent sends on its first socket, NUL padded.
const deviceNameLength = 64

// Media framing flags, carried in the top bits of the PTS field.
const (
	ptsFlagConfig   = uint64(1) << 63
	ptsFlagKeyFrame = uint64(1) << 62
	ptsMask         = ptsFlagKeyFrame - 1
)

// Stream metadata and packet schemas. The media side channel is
// big-endian, unlike the little-endian shell protocol.
var (
	deviceNameSchema = wire.NewSchema(binary.BigEndian,
		wire.BytesFixed("name", deviceNameLength),
	)
	videoHeaderSchema = wire.NewSchema(binary.BigEndian,
		wire.Uint32("codec"),
		wire.Uint32("width"),
		wire.Uint32("height"),
	)
	audioHeaderSchema = wire.NewSchema(binary.BigEndian,
		wire.Uint32("codec"),
	)
	packetHeaderSchema = wire.NewSchema(binary.BigEndian,
		wire.Uint64("ptsFlags"),
		wire.Uint32("length"),
		wire.Bytes("data", "length"),
	)
)

// MediaPacket is one discrete unit of the media payload stream: a
// frame, or codec configuration data flagged as such.
type MediaPacket struct {
	// PTS is the presentation timestamp in microseconds. Zero for
	// configuration packets.
	PTS uint64

	// IsConfig marks codec configuration data (parameter sets) rather
	// than frame data.
	IsConfig bool

	// IsKeyFrame marks an independently decodable frame.
	IsKeyFrame bool

	// Data is the raw payload. Inspectors observe it without
	// mutation; ownership passes to the reader's caller.
	Data []byte
}

// MediaStream is one demultiplexed media channel: the metadata header
// has been split off into the struct fields, and ReadPacket yields the
// continuing payload as discrete packets.
//
// A stream must be consumed once yielded — it shares the session's
// multiplexed connection, and leaving it unread stalls the agent's
// encoder pipeline.
type MediaStream struct {
	// Codec is the negotiated encoder for this channel.
	Codec CodecID

	// InitialWidth and InitialHeight are the geometry announced in the
	// video header. Zero for audio streams. The authoritative cropped
	// geometry comes from the configuration packets; see
	// [Client.Geometry].
	InitialWidth  uint32
	InitialHeight uint32

	source    *wire.ReaderSource
	closer    io.Closer
	inspector geometryInspector
}

// parseVideoStream reads the video metadata header from an already
// positioned source and returns the stream positioned at its first
// media packet. The source may have carried the device name record
// first; the caller consumes that before handing the source over.
func parseVideoStream(source *wire.ReaderSource, closer io.Closer) (*MediaStream, error) {
	values, err := videoHeaderSchema.Decode(source)
	if err != nil {
		return nil, fmt.Errorf("mirror: video metadata header: %w", err)
	}
	codec, _ := values.Uint("codec")
	width, _ := values.Uint("width")
	height, _ := values.Uint("height")
	return &MediaStream{
		Codec:         CodecID(codec),
		InitialWidth:  uint32(width),
		InitialHeight: uint32(height),
		source:        source,
		closer:        closer,
	}, nil
}

// parseAudioStream reads the audio metadata header.
func parseAudioStream(source *wire.ReaderSource, closer io.Closer) (*MediaStream, error) {
	values, err := audioHeaderSchema.Decode(source)
	if err != nil {
		return nil, fmt.Errorf("mirror: audio metadata header: %w", err)
	}
	codec, _ := values.Uint("codec")
	return &MediaStream{
		Codec:  CodecID(codec),
		source: source,
		closer: closer,
	}, nil
}

// ReadPacket returns the next media packet in wire order. A clean end
// of the underlying stream returns io.EOF; truncation mid-packet
// returns an error wrapping wire.ErrUnexpectedEnd.
//
// When a geometry inspector is attached, it observes the packet before
// it is returned; the packet itself is never modified.
func (s *MediaStream) ReadPacket() (*MediaPacket, error) {
	packet, err := DecodePacket(s.source)
	if err != nil {
		return nil, err
	}
	if s.inspector != nil {
		s.inspector.observe(packet)
	}
	return packet, nil
}

// DecodePacket reads one wire-framed media packet from a source. The
// recording reader shares this framing with the live stream.
func DecodePacket(source wire.Source) (*MediaPacket, error) {
	values, err := packetHeaderSchema.Decode(source)
	if err != nil {
		return nil, err
	}
	ptsFlags, _ := values.Uint("ptsFlags")
	data, _ := values.Bytes("data")
	return &MediaPacket{
		PTS:        ptsFlags & ptsMask,
		IsConfig:   ptsFlags&ptsFlagConfig != 0,
		IsKeyFrame: ptsFlags&ptsFlagKeyFrame != 0,
		Data:       data,
	}, nil
}

// Close closes the underlying stream socket.
func (s *MediaStream) Close() error {
	return s.closer.Close()
}

// EncodePacket serializes a media packet in the wire framing. The
// recording sink and tests use it; the client itself only decodes.
func EncodePacket(packet *MediaPacket) ([]byte, error) {
	ptsFlags := packet.PTS & ptsMask
	if packet.IsConfig {
		ptsFlags |= ptsFlagConfig
	}
	if packet.IsKeyFrame {
		ptsFlags |= ptsFlagKeyFrame
	}
	return packetHeaderSchema.Encode(wire.Values{
		"ptsFlags": ptsFlags,
		"data":     packet.Data,
	})
}

// readDeviceName consumes the fixed-size device name record from the
// first tunnel socket.
func readDeviceName(source *wire.ReaderSource) (string, error) {
	values, err := deviceNameSchema.Decode(source)
	if err != nil {
		return "", fmt.Errorf("mirror: device name record: %w", err)
	}
	raw, _ := values.Bytes("name")
	for index, b := range raw {
		if b == 0 {
			return string(raw[:index]), nil
		}
	}
	return string(raw), nil
}
