// Copyright 2026 The Devmirror Authors
// SPDX-License-Identifier: Apache-2.0

package mirror

import "fmt"

const obuTypeSequenceHeader = 1

// extractAV1Geometry walks a low-overhead AV1 bitstream for a
// sequence header OBU and returns the maximum frame size it declares.
// found is false when the buffer carries no sequence header, which is
// the case for most packets; AV1 does not flag configuration data
// out of band the way the H.26x codecs do.
func extractAV1Geometry(data []byte) (geometry Geometry, found bool, err error) {
	for len(data) > 0 {
		header := data[0]
		if header&0x80 != 0 {
			return Geometry{}, false, fmt.Errorf("%w: obu forbidden bit set", errBitstream)
		}
		obuType := int(header>>3) & 0x0f
		hasExtension := header&0x04 != 0
		hasSize := header&0x02 != 0

		offset := 1
		if hasExtension {
			offset++
		}
		if offset > len(data) {
			return Geometry{}, false, errBitstream
		}

		var payload []byte
		if hasSize {
			size, consumed, err := readLEB128(data[offset:])
			if err != nil {
				return Geometry{}, false, err
			}
			offset += consumed
			if size > uint64(len(data)-offset) {
				return Geometry{}, false, fmt.Errorf("%w: obu size exceeds buffer", errBitstream)
			}
			payload = data[offset : offset+int(size)]
			data = data[offset+int(size):]
		} else {
			payload = data[offset:]
			data = nil
		}

		if obuType != obuTypeSequenceHeader {
			continue
		}
		geometry, err := parseAV1SequenceHeader(payload)
		if err != nil {
			return Geometry{}, false, err
		}
		return geometry, true, nil
	}
	return Geometry{}, false, nil
}

// parseAV1SequenceHeader decodes the size-relevant prefix of an AV1
// sequence header OBU (AV1 specification section 5.5.1).
func parseAV1SequenceHeader(payload []byte) (Geometry, error) {
	reader := newBitReader(payload)

	if err := reader.skipBits(3); err != nil { // seq_profile
		return Geometry{}, err
	}
	if err := reader.skipBits(1); err != nil { // still_picture
		return Geometry{}, err
	}
	reducedHeader, err := reader.readBit()
	if err != nil {
		return Geometry{}, err
	}
	if reducedHeader != 0 {
		if err := reader.skipBits(5); err != nil { // seq_level_idx
			return Geometry{}, err
		}
	} else {
		if err := skipAV1OperatingPoints(reader); err != nil {
			return Geometry{}, err
		}
	}

	widthBits, err := reader.readBits(4)
	if err != nil {
		return Geometry{}, err
	}
	heightBits, err := reader.readBits(4)
	if err != nil {
		return Geometry{}, err
	}
	maxWidth, err := reader.readBits(int(widthBits) + 1)
	if err != nil {
		return Geometry{}, err
	}
	maxHeight, err := reader.readBits(int(heightBits) + 1)
	if err != nil {
		return Geometry{}, err
	}
	return Geometry{Width: maxWidth + 1, Height: maxHeight + 1}, nil
}

// skipAV1OperatingPoints consumes the timing, decoder model and
// operating point fields of a full (non-reduced) sequence header.
func skipAV1OperatingPoints(reader *bitReader) error {
	decoderModelPresent := uint32(0)
	bufferDelayBits := 0

	timingPresent, err := reader.readBit()
	if err != nil {
		return err
	}
	if timingPresent != 0 {
		// num_units_in_display_tick, time_scale.
		if err := reader.skipBits(64); err != nil {
			return err
		}
		equalInterval, err := reader.readBit()
		if err != nil {
			return err
		}
		if equalInterval != 0 {
			if _, err := reader.readUVLC(); err != nil { // num_ticks_per_picture_minus_1
				return err
			}
		}
		decoderModelPresent, err = reader.readBit()
		if err != nil {
			return err
		}
		if decoderModelPresent != 0 {
			length, err := reader.readBits(5) // buffer_delay_length_minus_1
			if err != nil {
				return err
			}
			bufferDelayBits = int(length) + 1
			// num_units_in_decoding_tick, buffer_removal_time_length,
			// frame_presentation_time_length.
			if err := reader.skipBits(32 + 5 + 5); err != nil {
				return err
			}
		}
	}

	displayDelayPresent, err := reader.readBit()
	if err != nil {
		return err
	}
	operatingPoints, err := reader.readBits(5)
	if err != nil {
		return err
	}
	for index := uint32(0); index <= operatingPoints; index++ {
		// operating_point_idc.
		if err := reader.skipBits(12); err != nil {
			return err
		}
		levelIdx, err := reader.readBits(5)
		if err != nil {
			return err
		}
		if levelIdx > 7 {
			if err := reader.skipBits(1); err != nil { // seq_tier
				return err
			}
		}
		if decoderModelPresent != 0 {
			modelForOp, err := reader.readBit()
			if err != nil {
				return err
			}
			if modelForOp != 0 {
				// decoding_buffer_delay, encoder_buffer_delay,
				// low_delay_mode_flag.
				if err := reader.skipBits(2*bufferDelayBits + 1); err != nil {
					return err
				}
			}
		}
		if displayDelayPresent != 0 {
			delayForOp, err := reader.readBit()
			if err != nil {
				return err
			}
			if delayForOp != 0 {
				if err := reader.skipBits(4); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
