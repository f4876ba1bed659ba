// Copyright 2026 The Devmirror Authors
// SPDX-License-Identifier: Apache-2.0

package mirror

import "fmt"

const nalTypeH264SPS = 7

// extractH264Geometry scans an Annex B configuration buffer for a
// sequence parameter set and returns the cropped frame size it
// declares. found is false when the buffer carries no SPS.
func extractH264Geometry(data []byte) (geometry Geometry, found bool, err error) {
	for _, unit := range splitNALUnits(data) {
		if len(unit) < 1 || int(unit[0]&0x1f) != nalTypeH264SPS {
			continue
		}
		geometry, err = parseH264SPS(stripEmulationPrevention(unit[1:]))
		if err != nil {
			return Geometry{}, false, err
		}
		return geometry, true, nil
	}
	return Geometry{}, false, nil
}

// parseH264SPS decodes the size-relevant prefix of an H.264 sequence
// parameter set (ITU-T H.264 section 7.3.2.1.1), emulation prevention
// already stripped and the NAL header removed.
func parseH264SPS(payload []byte) (Geometry, error) {
	reader := newBitReader(payload)

	profileIDC, err := reader.readBits(8)
	if err != nil {
		return Geometry{}, err
	}
	// constraint_set flags and level_idc.
	if err := reader.skipBits(16); err != nil {
		return Geometry{}, err
	}
	if _, err := reader.readUE(); err != nil { // seq_parameter_set_id
		return Geometry{}, err
	}

	chromaFormatIDC := uint32(1)
	separateColourPlane := uint32(0)
	switch profileIDC {
	case 100, 110, 122, 244, 44, 83, 86, 118, 128, 138, 139, 134, 135:
		chromaFormatIDC, err = reader.readUE()
		if err != nil {
			return Geometry{}, err
		}
		if chromaFormatIDC == 3 {
			separateColourPlane, err = reader.readBit()
			if err != nil {
				return Geometry{}, err
			}
		}
		if _, err := reader.readUE(); err != nil { // bit_depth_luma_minus8
			return Geometry{}, err
		}
		if _, err := reader.readUE(); err != nil { // bit_depth_chroma_minus8
			return Geometry{}, err
		}
		if err := reader.skipBits(1); err != nil { // transform bypass
			return Geometry{}, err
		}
		scalingMatrix, err := reader.readBit()
		if err != nil {
			return Geometry{}, err
		}
		if scalingMatrix != 0 {
			listCount := 8
			if chromaFormatIDC == 3 {
				listCount = 12
			}
			for index := 0; index < listCount; index++ {
				present, err := reader.readBit()
				if err != nil {
					return Geometry{}, err
				}
				if present == 0 {
					continue
				}
				size := 16
				if index >= 6 {
					size = 64
				}
				if err := skipScalingList(reader, size); err != nil {
					return Geometry{}, err
				}
			}
		}
	}

	if _, err := reader.readUE(); err != nil { // log2_max_frame_num_minus4
		return Geometry{}, err
	}
	picOrderCntType, err := reader.readUE()
	if err != nil {
		return Geometry{}, err
	}
	switch picOrderCntType {
	case 0:
		if _, err := reader.readUE(); err != nil { // log2_max_pic_order_cnt_lsb_minus4
			return Geometry{}, err
		}
	case 1:
		if err := reader.skipBits(1); err != nil { // delta_pic_order_always_zero_flag
			return Geometry{}, err
		}
		if _, err := reader.readSE(); err != nil { // offset_for_non_ref_pic
			return Geometry{}, err
		}
		if _, err := reader.readSE(); err != nil { // offset_for_top_to_bottom_field
			return Geometry{}, err
		}
		cycleLength, err := reader.readUE()
		if err != nil {
			return Geometry{}, err
		}
		for index := uint32(0); index < cycleLength; index++ {
			if _, err := reader.readSE(); err != nil {
				return Geometry{}, err
			}
		}
	}

	if _, err := reader.readUE(); err != nil { // max_num_ref_frames
		return Geometry{}, err
	}
	if err := reader.skipBits(1); err != nil { // gaps_in_frame_num_value_allowed_flag
		return Geometry{}, err
	}

	picWidthInMBs, err := reader.readUE()
	if err != nil {
		return Geometry{}, err
	}
	picHeightInMapUnits, err := reader.readUE()
	if err != nil {
		return Geometry{}, err
	}
	frameMBsOnly, err := reader.readBit()
	if err != nil {
		return Geometry{}, err
	}
	if frameMBsOnly == 0 {
		if err := reader.skipBits(1); err != nil { // mb_adaptive_frame_field_flag
			return Geometry{}, err
		}
	}
	if err := reader.skipBits(1); err != nil { // direct_8x8_inference_flag
		return Geometry{}, err
	}

	var cropLeft, cropRight, cropTop, cropBottom uint32
	cropping, err := reader.readBit()
	if err != nil {
		return Geometry{}, err
	}
	if cropping != 0 {
		if cropLeft, err = reader.readUE(); err != nil {
			return Geometry{}, err
		}
		if cropRight, err = reader.readUE(); err != nil {
			return Geometry{}, err
		}
		if cropTop, err = reader.readUE(); err != nil {
			return Geometry{}, err
		}
		if cropBottom, err = reader.readUE(); err != nil {
			return Geometry{}, err
		}
	}

	// Crop offsets are in chroma-dependent units (H.264 table 6-1).
	cropUnitX := uint32(1)
	cropUnitY := 2 - frameMBsOnly
	if chromaFormatIDC != 0 && separateColourPlane == 0 {
		subWidthC, subHeightC := uint32(1), uint32(1)
		switch chromaFormatIDC {
		case 1:
			subWidthC, subHeightC = 2, 2
		case 2:
			subWidthC, subHeightC = 2, 1
		}
		cropUnitX = subWidthC
		cropUnitY = subHeightC * (2 - frameMBsOnly)
	}

	width := (picWidthInMBs + 1) * 16
	height := (2 - frameMBsOnly) * (picHeightInMapUnits + 1) * 16
	cropX := cropUnitX * (cropLeft + cropRight)
	cropY := cropUnitY * (cropTop + cropBottom)
	if cropX >= width || cropY >= height {
		return Geometry{}, fmt.Errorf("%w: crop exceeds frame", errBitstream)
	}
	return Geometry{Width: width - cropX, Height: height - cropY}, nil
}

// skipScalingList consumes one scaling list without materializing it.
func skipScalingList(reader *bitReader, size int) error {
	lastScale := int32(8)
	nextScale := int32(8)
	for index := 0; index < size; index++ {
		if nextScale != 0 {
			delta, err := reader.readSE()
			if err != nil {
				return err
			}
			nextScale = (lastScale + delta + 256) % 256
		}
		if nextScale != 0 {
			lastScale = nextScale
		}
	}
	return nil
}
