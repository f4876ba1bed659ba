// Copyright 2026 The Devmirror Authors
// SPDX-License-Identifier: Apache-2.0

package mirror

import (
	"errors"
	"fmt"
)

// errBitstream reports a malformed or truncated bitstream. Parameter
// set parsing never reads past the buffer; it fails with this instead.
var errBitstream = errors.New("mirror: malformed bitstream")

// bitReader reads a byte buffer most-significant bit first, the order
// every codec parameter set here uses.
type bitReader struct {
	data     []byte
	position int // bit offset from the start of data
}

func newBitReader(data []byte) *bitReader {
	return &bitReader{data: data}
}

// readBit returns the next single bit.
func (r *bitReader) readBit() (uint32, error) {
	byteIndex := r.position >> 3
	if byteIndex >= len(r.data) {
		return 0, errBitstream
	}
	bit := uint32(r.data[byteIndex]>>(7-uint(r.position&7))) & 1
	r.position++
	return bit, nil
}

// readBits returns the next count bits as an unsigned value,
// count at most 32.
func (r *bitReader) readBits(count int) (uint32, error) {
	var value uint32
	for index := 0; index < count; index++ {
		bit, err := r.readBit()
		if err != nil {
			return 0, err
		}
		value = value<<1 | bit
	}
	return value, nil
}

// skipBits discards count bits.
func (r *bitReader) skipBits(count int) error {
	if r.position+count > len(r.data)*8 {
		return errBitstream
	}
	r.position += count
	return nil
}

// readUE reads an unsigned Exp-Golomb coded value (ue(v) in the H.26x
// specifications).
func (r *bitReader) readUE() (uint32, error) {
	leadingZeros := 0
	for {
		bit, err := r.readBit()
		if err != nil {
			return 0, err
		}
		if bit != 0 {
			break
		}
		leadingZeros++
		if leadingZeros > 31 {
			return 0, fmt.Errorf("%w: oversized exp-golomb code", errBitstream)
		}
	}
	if leadingZeros == 0 {
		return 0, nil
	}
	suffix, err := r.readBits(leadingZeros)
	if err != nil {
		return 0, err
	}
	return (1 << uint(leadingZeros)) - 1 + suffix, nil
}

// readSE reads a signed Exp-Golomb coded value (se(v)).
func (r *bitReader) readSE() (int32, error) {
	code, err := r.readUE()
	if err != nil {
		return 0, err
	}
	if code&1 != 0 {
		return int32(code+1) / 2, nil
	}
	return -int32(code / 2), nil
}

// readUVLC reads AV1's variable length code: a unary prefix of zero
// bits, then that many literal bits.
func (r *bitReader) readUVLC() (uint32, error) {
	leadingZeros := 0
	for {
		bit, err := r.readBit()
		if err != nil {
			return 0, err
		}
		if bit != 0 {
			break
		}
		leadingZeros++
		if leadingZeros > 31 {
			return 0, fmt.Errorf("%w: oversized uvlc code", errBitstream)
		}
	}
	if leadingZeros == 0 {
		return 0, nil
	}
	suffix, err := r.readBits(leadingZeros)
	if err != nil {
		return 0, err
	}
	return (1 << uint(leadingZeros)) - 1 + suffix, nil
}

// readLEB128 reads AV1's byte-aligned little-endian base-128 length
// encoding. The reader must be byte aligned.
func readLEB128(data []byte) (value uint64, consumed int, err error) {
	for index := 0; index < 8; index++ {
		if index >= len(data) {
			return 0, 0, errBitstream
		}
		b := data[index]
		value |= uint64(b&0x7f) << (7 * uint(index))
		if b&0x80 == 0 {
			return value, index + 1, nil
		}
	}
	return 0, 0, fmt.Errorf("%w: oversized leb128 length", errBitstream)
}

// stripEmulationPrevention removes the 0x03 bytes the H.26x codecs
// insert after two zero bytes so payloads never alias start codes.
func stripEmulationPrevention(data []byte) []byte {
	stripped := make([]byte, 0, len(data))
	zeros := 0
	for index := 0; index < len(data); index++ {
		b := data[index]
		if zeros >= 2 && b == 3 {
			zeros = 0
			continue
		}
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
		stripped = append(stripped, b)
	}
	return stripped
}
