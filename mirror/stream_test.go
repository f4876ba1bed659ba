// Copyright 2026 The Devmirror Authors
// SPDX-License-Identifier: Apache-2.0

package mirror

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/devmirror/devmirror/wire"
)

type byteStream struct {
	*bytes.Reader
}

func (s *byteStream) Close() error { return nil }

func newByteStream(data []byte) *byteStream {
	return &byteStream{Reader: bytes.NewReader(data)}
}

// buildVideoStream frames a video metadata header followed by the
// given packets, exactly as the agent writes them.
func buildVideoStream(t *testing.T, codec CodecID, width, height uint32, packets []*MediaPacket) []byte {
	t.Helper()
	var buffer bytes.Buffer
	header, err := videoHeaderSchema.Encode(wire.Values{
		"codec":  uint32(codec),
		"width":  width,
		"height": height,
	})
	if err != nil {
		t.Fatalf("encoding video header: %v", err)
	}
	buffer.Write(header)
	for _, packet := range packets {
		framed, err := EncodePacket(packet)
		if err != nil {
			t.Fatalf("encoding packet: %v", err)
		}
		buffer.Write(framed)
	}
	return buffer.Bytes()
}

func TestVideoStreamHeaderAndPackets(t *testing.T) {
	t.Parallel()

	packets := []*MediaPacket{
		{IsConfig: true, Data: []byte{0x67, 0x42}},
		{PTS: 33_000, IsKeyFrame: true, Data: []byte{0x65, 0x88, 0x84}},
		{PTS: 66_000, Data: []byte{0x41, 0x9a}},
	}
	data := buildVideoStream(t, CodecH264, 1920, 1080, packets)

	stream, err := parseVideoStream(wire.NewReaderSource(newByteStream(data)), newByteStream(nil))
	if err != nil {
		t.Fatalf("parseVideoStream: %v", err)
	}
	if stream.Codec != CodecH264 {
		t.Errorf("codec = %v, want %v", stream.Codec, CodecH264)
	}
	if stream.InitialWidth != 1920 || stream.InitialHeight != 1080 {
		t.Errorf("initial geometry = %dx%d, want 1920x1080", stream.InitialWidth, stream.InitialHeight)
	}

	for index, want := range packets {
		got, err := stream.ReadPacket()
		if err != nil {
			t.Fatalf("packet %d: %v", index, err)
		}
		if got.PTS != want.PTS || got.IsConfig != want.IsConfig || got.IsKeyFrame != want.IsKeyFrame {
			t.Errorf("packet %d = %+v, want %+v", index, got, want)
		}
		if !bytes.Equal(got.Data, want.Data) {
			t.Errorf("packet %d data = %x, want %x", index, got.Data, want.Data)
		}
	}
	if _, err := stream.ReadPacket(); err != io.EOF {
		t.Errorf("after final packet: err = %v, want io.EOF", err)
	}
}

func TestVideoStreamTruncatedPacket(t *testing.T) {
	t.Parallel()

	data := buildVideoStream(t, CodecH264, 640, 480, []*MediaPacket{
		{PTS: 1000, Data: []byte{1, 2, 3, 4}},
	})
	stream, err := parseVideoStream(wire.NewReaderSource(newByteStream(data[:len(data)-2])), newByteStream(nil))
	if err != nil {
		t.Fatalf("parseVideoStream: %v", err)
	}
	if _, err := stream.ReadPacket(); !errors.Is(err, wire.ErrUnexpectedEnd) {
		t.Errorf("truncated packet: err = %v, want ErrUnexpectedEnd", err)
	}
}

func TestAudioStreamHeader(t *testing.T) {
	t.Parallel()

	header, err := audioHeaderSchema.Encode(wire.Values{"codec": uint32(CodecOpus)})
	if err != nil {
		t.Fatalf("encoding audio header: %v", err)
	}
	stream, err := parseAudioStream(wire.NewReaderSource(newByteStream(header)), newByteStream(nil))
	if err != nil {
		t.Fatalf("parseAudioStream: %v", err)
	}
	if stream.Codec != CodecOpus {
		t.Errorf("codec = %v, want %v", stream.Codec, CodecOpus)
	}
}

func TestReadDeviceName(t *testing.T) {
	t.Parallel()

	record := make([]byte, deviceNameLength)
	copy(record, "Pixel 9")
	name, err := readDeviceName(wire.NewReaderSource(newByteStream(record)))
	if err != nil {
		t.Fatalf("readDeviceName: %v", err)
	}
	if name != "Pixel 9" {
		t.Errorf("name = %q, want %q", name, "Pixel 9")
	}
}

func TestReadDeviceNameTruncated(t *testing.T) {
	t.Parallel()

	_, err := readDeviceName(wire.NewReaderSource(newByteStream(make([]byte, 10))))
	if !errors.Is(err, wire.ErrUnexpectedEnd) {
		t.Errorf("err = %v, want ErrUnexpectedEnd", err)
	}
}

func TestGeometryInspectorObservesConfigPackets(t *testing.T) {
	t.Parallel()

	sps := buildH264SPS(t, 119, 67, 4)
	data := buildVideoStream(t, CodecH264, 1920, 1088, []*MediaPacket{
		{IsConfig: true, Data: sps},
		{PTS: 1000, IsKeyFrame: true, Data: []byte{0x65, 0x00}},
	})
	stream, err := parseVideoStream(wire.NewReaderSource(newByteStream(data)), newByteStream(nil))
	if err != nil {
		t.Fatalf("parseVideoStream: %v", err)
	}
	tracker := newGeometryTracker(CodecH264, testLogger(t))
	stream.inspector = tracker

	if _, ok := tracker.current(); ok {
		t.Fatal("tracker reported geometry before any packet")
	}
	first, err := stream.ReadPacket()
	if err != nil {
		t.Fatalf("reading config packet: %v", err)
	}
	if !bytes.Equal(first.Data, sps) {
		t.Error("inspector modified the packet payload")
	}
	geometry, ok := tracker.current()
	if !ok {
		t.Fatal("tracker has no geometry after the config packet")
	}
	want := Geometry{Width: 1920, Height: 1080}
	if geometry != want {
		t.Errorf("geometry = %+v, want %+v", geometry, want)
	}
}

func TestPacketFlagEncoding(t *testing.T) {
	t.Parallel()

	framed, err := EncodePacket(&MediaPacket{PTS: 42, IsConfig: true, Data: []byte{1}})
	if err != nil {
		t.Fatalf("EncodePacket: %v", err)
	}
	ptsFlags := binary.BigEndian.Uint64(framed[:8])
	if ptsFlags&ptsFlagConfig == 0 {
		t.Error("config flag not set in framing")
	}
	if ptsFlags&ptsMask != 42 {
		t.Errorf("pts = %d, want 42", ptsFlags&ptsMask)
	}
}
