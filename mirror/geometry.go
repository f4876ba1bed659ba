// Copyright 2026 The Devmirror Authors
// SPDX-License-Identifier: Apache-2.0

package mirror

import (
	"log/slog"
	"sync"
)

// Geometry is the cropped frame size declared by the encoder's
// parameter sets, which is authoritative over the pre-encode size in
// the stream metadata header.
type Geometry struct {
	Width  uint32
	Height uint32
}

// geometryInspector observes media packets as they pass through a
// stream without consuming or modifying them.
type geometryInspector interface {
	observe(packet *MediaPacket)
}

// geometryTracker extracts frame geometry from the encoded bitstream.
// H.264 and H.265 carry their parameter sets in configuration
// packets; AV1 carries its sequence header inline in ordinary
// packets. The tracker updates on every parameter set it sees, so a
// device rotation mid-session is reflected.
type geometryTracker struct {
	codec  CodecID
	logger *slog.Logger

	mu       sync.Mutex
	geometry Geometry
	known    bool
}

func newGeometryTracker(codec CodecID, logger *slog.Logger) *geometryTracker {
	return &geometryTracker{codec: codec, logger: logger}
}

func (t *geometryTracker) current() (Geometry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.geometry, t.known
}

func (t *geometryTracker) observe(packet *MediaPacket) {
	var (
		geometry Geometry
		err      error
		found    bool
	)
	switch t.codec {
	case CodecH264:
		if !packet.IsConfig {
			return
		}
		geometry, found, err = extractH264Geometry(packet.Data)
	case CodecH265:
		if !packet.IsConfig {
			return
		}
		geometry, found, err = extractH265Geometry(packet.Data)
	case CodecAV1:
		geometry, found, err = extractAV1Geometry(packet.Data)
	default:
		return
	}
	if err != nil {
		t.logger.Warn("parsing stream geometry", "codec", t.codec.String(), "error", err)
		return
	}
	if !found {
		return
	}
	t.mu.Lock()
	changed := !t.known || geometry != t.geometry
	t.geometry = geometry
	t.known = true
	t.mu.Unlock()
	if changed {
		t.logger.Debug("stream geometry",
			"codec", t.codec.String(),
			"width", geometry.Width,
			"height", geometry.Height)
	}
}

// splitNALUnits walks an Annex B buffer and yields each NAL unit's
// payload, start codes stripped. Both 3 and 4 byte start codes occur.
func splitNALUnits(data []byte) [][]byte {
	var units [][]byte
	var start = -1
	index := 0
	for index+2 < len(data) {
		if data[index] == 0 && data[index+1] == 0 && data[index+2] == 1 {
			if start >= 0 {
				end := index
				if end > start && data[end-1] == 0 {
					end--
				}
				if end > start {
					units = append(units, data[start:end])
				}
			}
			index += 3
			start = index
			continue
		}
		index++
	}
	if start >= 0 && start < len(data) {
		units = append(units, data[start:])
	}
	return units
}
