// Copyright 2026 The Devmirror Authors
// SPDX-License-Identifier: Apache-2.0

package record

import (
	"bytes"
	"io"
	"testing"

	"github.com/devmirror/devmirror/mirror"
)

func testHeader() Header {
	return Header{
		Device:     "Pixel 9",
		Codec:      "h264",
		Width:      1920,
		Height:     1080,
		StartedAt:  1756339200000000,
		AgentProto: mirror.ProtocolVersion,
	}
}

func testPackets() []*mirror.MediaPacket {
	return []*mirror.MediaPacket{
		{IsConfig: true, Data: []byte{0x67, 0x42, 0x00, 0x1f}},
		{PTS: 0, IsKeyFrame: true, Data: bytes.Repeat([]byte{0xaa}, 512)},
		{PTS: 33_333, Data: bytes.Repeat([]byte{0xbb}, 256)},
		{PTS: 66_666, Data: []byte{0x41}},
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	t.Parallel()

	var file bytes.Buffer
	writer, err := NewWriter(&file, testHeader())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	for _, packet := range testPackets() {
		if err := writer.WritePacket(packet); err != nil {
			t.Fatalf("WritePacket: %v", err)
		}
	}
	if got := writer.Packets(); got != 4 {
		t.Errorf("Packets() = %d, want 4", got)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reader, err := NewReader(bytes.NewReader(file.Bytes()))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer reader.Close()

	header := reader.Header()
	if header.Version != FormatVersion {
		t.Errorf("header version = %d, want %d", header.Version, FormatVersion)
	}
	if header.Device != "Pixel 9" || header.Codec != "h264" {
		t.Errorf("header = %+v", header)
	}

	for index, want := range testPackets() {
		got, err := reader.ReadPacket()
		if err != nil {
			t.Fatalf("packet %d: %v", index, err)
		}
		if got.PTS != want.PTS || got.IsConfig != want.IsConfig || got.IsKeyFrame != want.IsKeyFrame {
			t.Errorf("packet %d = %+v, want %+v", index, got, want)
		}
		if !bytes.Equal(got.Data, want.Data) {
			t.Errorf("packet %d data mismatch", index)
		}
	}
	if _, err := reader.ReadPacket(); err != io.EOF {
		t.Errorf("after final packet: err = %v, want io.EOF", err)
	}
}

func TestNewReaderRejectsWrongMagic(t *testing.T) {
	t.Parallel()

	if _, err := NewReader(bytes.NewReader([]byte("not a recording at all"))); err == nil {
		t.Error("NewReader accepted a non-recording")
	}
}

func TestNewReaderRejectsNewerVersion(t *testing.T) {
	t.Parallel()

	var file bytes.Buffer
	writer, err := NewWriter(&file, testHeader())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	writer.Close()

	// Recordings declare their version in CBOR; patch the encoded
	// version field (a small positive integer follows the "version"
	// key) to something this reader does not support.
	data := file.Bytes()
	key := []byte("version")
	index := bytes.Index(data, key)
	if index < 0 {
		t.Fatal("version key not found in header")
	}
	if data[index+len(key)] != 0x01 {
		t.Fatalf("unexpected encoded version byte %#x", data[index+len(key)])
	}
	data[index+len(key)] = 0x09

	if _, err := NewReader(bytes.NewReader(data)); err == nil {
		t.Error("NewReader accepted a recording from a newer version")
	}
}

func TestWriterClosedRejectsPackets(t *testing.T) {
	t.Parallel()

	var file bytes.Buffer
	writer, err := NewWriter(&file, testHeader())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := writer.WritePacket(&mirror.MediaPacket{Data: []byte{1}}); err == nil {
		t.Error("WritePacket succeeded after Close")
	}
	if err := writer.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestReaderTruncatedBody(t *testing.T) {
	t.Parallel()

	var file bytes.Buffer
	writer, err := NewWriter(&file, testHeader())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	for _, packet := range testPackets() {
		if err := writer.WritePacket(packet); err != nil {
			t.Fatalf("WritePacket: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Cut into the compressed body: the reader must fail, not return
	// a clean end.
	data := file.Bytes()
	reader, err := NewReader(bytes.NewReader(data[:len(data)-7]))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer reader.Close()
	sawError := false
	for {
		_, err := reader.ReadPacket()
		if err == io.EOF {
			break
		}
		if err != nil {
			sawError = true
			break
		}
	}
	if !sawError {
		t.Error("truncated recording read back without error")
	}
}
