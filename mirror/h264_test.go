// Copyright 2026 The Devmirror Authors
// SPDX-License-Identifier: Apache-2.0

package mirror

import (
	"bytes"
	"testing"
)

// buildH264SPS assembles a baseline-profile SPS with the given
// macroblock counts and bottom crop, wrapped as an Annex B NAL unit.
func buildH264SPS(t *testing.T, widthInMBsMinus1, heightInMapUnitsMinus1, cropBottom uint32) []byte {
	t.Helper()
	writer := &bitWriter{}
	writer.writeBits(66, 8) // profile_idc: baseline
	writer.writeBits(0, 8)  // constraint flags
	writer.writeBits(31, 8) // level_idc
	writer.writeUE(0)       // seq_parameter_set_id
	writer.writeUE(0)       // log2_max_frame_num_minus4
	writer.writeUE(0)       // pic_order_cnt_type
	writer.writeUE(0)       // log2_max_pic_order_cnt_lsb_minus4
	writer.writeUE(1)       // max_num_ref_frames
	writer.writeBit(0)      // gaps_in_frame_num_value_allowed_flag
	writer.writeUE(widthInMBsMinus1)
	writer.writeUE(heightInMapUnitsMinus1)
	writer.writeBit(1) // frame_mbs_only_flag
	writer.writeBit(1) // direct_8x8_inference_flag
	if cropBottom > 0 {
		writer.writeBit(1) // frame_cropping_flag
		writer.writeUE(0)  // left
		writer.writeUE(0)  // right
		writer.writeUE(0)  // top
		writer.writeUE(cropBottom)
	} else {
		writer.writeBit(0)
	}
	writer.writeBit(1) // rbsp_stop_one_bit

	var buffer bytes.Buffer
	buffer.Write([]byte{0, 0, 0, 1, 0x67})
	buffer.Write(writer.bytes())
	return buffer.Bytes()
}

func TestH264GeometryCroppedTo1080p(t *testing.T) {
	t.Parallel()

	// 120x68 macroblocks is 1920x1088; 4 crop units of 2 luma rows
	// bring the height to 1080.
	data := buildH264SPS(t, 119, 67, 4)
	geometry, found, err := extractH264Geometry(data)
	if err != nil {
		t.Fatalf("extractH264Geometry: %v", err)
	}
	if !found {
		t.Fatal("extractH264Geometry found no SPS")
	}
	want := Geometry{Width: 1920, Height: 1080}
	if geometry != want {
		t.Errorf("geometry = %+v, want %+v", geometry, want)
	}
}

func TestH264GeometryUncropped(t *testing.T) {
	t.Parallel()

	data := buildH264SPS(t, 79, 44, 0) // 1280x720
	geometry, found, err := extractH264Geometry(data)
	if err != nil {
		t.Fatalf("extractH264Geometry: %v", err)
	}
	if !found {
		t.Fatal("extractH264Geometry found no SPS")
	}
	want := Geometry{Width: 1280, Height: 720}
	if geometry != want {
		t.Errorf("geometry = %+v, want %+v", geometry, want)
	}
}

func TestH264GeometryNoSPSInBuffer(t *testing.T) {
	t.Parallel()

	// A PPS NAL unit (type 8) only.
	data := []byte{0, 0, 0, 1, 0x68, 0xce, 0x38, 0x80}
	_, found, err := extractH264Geometry(data)
	if err != nil {
		t.Fatalf("extractH264Geometry: %v", err)
	}
	if found {
		t.Error("extractH264Geometry reported geometry from a PPS")
	}
}

func TestH264GeometryTruncatedSPS(t *testing.T) {
	t.Parallel()

	data := buildH264SPS(t, 119, 67, 4)
	if _, _, err := extractH264Geometry(data[:8]); err == nil {
		t.Error("extractH264Geometry accepted a truncated SPS")
	}
}

func TestStripEmulationPrevention(t *testing.T) {
	t.Parallel()

	input := []byte{0x00, 0x00, 0x03, 0x01, 0x42, 0x00, 0x00, 0x03, 0x00}
	want := []byte{0x00, 0x00, 0x01, 0x42, 0x00, 0x00, 0x00}
	got := stripEmulationPrevention(input)
	if !bytes.Equal(got, want) {
		t.Errorf("stripEmulationPrevention = %x, want %x", got, want)
	}
}

func TestSplitNALUnits(t *testing.T) {
	t.Parallel()

	data := []byte{
		0, 0, 0, 1, 0x67, 0xaa,
		0, 0, 1, 0x68, 0xbb, 0xcc,
	}
	units := splitNALUnits(data)
	if len(units) != 2 {
		t.Fatalf("splitNALUnits yielded %d units, want 2", len(units))
	}
	if !bytes.Equal(units[0], []byte{0x67, 0xaa}) {
		t.Errorf("first unit = %x", units[0])
	}
	if !bytes.Equal(units[1], []byte{0x68, 0xbb, 0xcc}) {
		t.Errorf("second unit = %x", units[1])
	}
}
