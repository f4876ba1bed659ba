// Copyright 2026 The Devmirror Authors
// SPDX-License-Identifier: Apache-2.0

package mirror

import "fmt"

const nalTypeH265SPS = 33

// extractH265Geometry scans an Annex B configuration buffer for an
// H.265 sequence parameter set and returns the conformance-cropped
// frame size.
func extractH265Geometry(data []byte) (geometry Geometry, found bool, err error) {
	for _, unit := range splitNALUnits(data) {
		// Two-byte NAL header; type sits in bits 1..6 of the first byte.
		if len(unit) < 2 || int(unit[0]>>1)&0x3f != nalTypeH265SPS {
			continue
		}
		geometry, err = parseH265SPS(stripEmulationPrevention(unit[2:]))
		if err != nil {
			return Geometry{}, false, err
		}
		return geometry, true, nil
	}
	return Geometry{}, false, nil
}

// parseH265SPS decodes the size-relevant prefix of an H.265 sequence
// parameter set (ITU-T H.265 section 7.3.2.2.1), emulation prevention
// already stripped and the NAL header removed.
func parseH265SPS(payload []byte) (Geometry, error) {
	reader := newBitReader(payload)

	// sps_video_parameter_set_id.
	if err := reader.skipBits(4); err != nil {
		return Geometry{}, err
	}
	maxSubLayersMinus1, err := reader.readBits(3)
	if err != nil {
		return Geometry{}, err
	}
	if err := reader.skipBits(1); err != nil { // sps_temporal_id_nesting_flag
		return Geometry{}, err
	}
	if err := skipProfileTierLevel(reader, int(maxSubLayersMinus1)); err != nil {
		return Geometry{}, err
	}
	if _, err := reader.readUE(); err != nil { // sps_seq_parameter_set_id
		return Geometry{}, err
	}

	chromaFormatIDC, err := reader.readUE()
	if err != nil {
		return Geometry{}, err
	}
	separateColourPlane := uint32(0)
	if chromaFormatIDC == 3 {
		separateColourPlane, err = reader.readBit()
		if err != nil {
			return Geometry{}, err
		}
	}
	picWidth, err := reader.readUE()
	if err != nil {
		return Geometry{}, err
	}
	picHeight, err := reader.readUE()
	if err != nil {
		return Geometry{}, err
	}

	var windowLeft, windowRight, windowTop, windowBottom uint32
	conformanceWindow, err := reader.readBit()
	if err != nil {
		return Geometry{}, err
	}
	if conformanceWindow != 0 {
		if windowLeft, err = reader.readUE(); err != nil {
			return Geometry{}, err
		}
		if windowRight, err = reader.readUE(); err != nil {
			return Geometry{}, err
		}
		if windowTop, err = reader.readUE(); err != nil {
			return Geometry{}, err
		}
		if windowBottom, err = reader.readUE(); err != nil {
			return Geometry{}, err
		}
	}

	// Window offsets are in chroma-dependent units (H.265 table 6-1).
	subWidthC, subHeightC := uint32(1), uint32(1)
	if separateColourPlane == 0 {
		switch chromaFormatIDC {
		case 1:
			subWidthC, subHeightC = 2, 2
		case 2:
			subWidthC, subHeightC = 2, 1
		}
	}
	cropX := subWidthC * (windowLeft + windowRight)
	cropY := subHeightC * (windowTop + windowBottom)
	if cropX >= picWidth || cropY >= picHeight {
		return Geometry{}, fmt.Errorf("%w: conformance window exceeds frame", errBitstream)
	}
	return Geometry{Width: picWidth - cropX, Height: picHeight - cropY}, nil
}

// skipProfileTierLevel consumes a profile_tier_level structure with
// the profilePresent flag set, as the SPS always carries it.
func skipProfileTierLevel(reader *bitReader, maxSubLayersMinus1 int) error {
	// general_profile_space through general_reserved bits: 88 bits,
	// then general_level_idc.
	if err := reader.skipBits(88 + 8); err != nil {
		return err
	}
	if maxSubLayersMinus1 == 0 {
		return nil
	}
	profilePresent := make([]bool, maxSubLayersMinus1)
	levelPresent := make([]bool, maxSubLayersMinus1)
	for index := 0; index < maxSubLayersMinus1; index++ {
		bit, err := reader.readBit()
		if err != nil {
			return err
		}
		profilePresent[index] = bit != 0
		bit, err = reader.readBit()
		if err != nil {
			return err
		}
		levelPresent[index] = bit != 0
	}
	// Alignment bits up to eight sub-layer slots.
	if err := reader.skipBits(2 * (8 - maxSubLayersMinus1)); err != nil {
		return err
	}
	for index := 0; index < maxSubLayersMinus1; index++ {
		if profilePresent[index] {
			if err := reader.skipBits(88); err != nil {
				return err
			}
		}
		if levelPresent[index] {
			if err := reader.skipBits(8); err != nil {
				return err
			}
		}
	}
	return nil
}
