// Copyright 2026 The Devmirror Authors
// SPDX-License-Identifier: Apache-2.0

package mirror

// bitWriter builds test bitstreams most-significant bit first,
// mirroring the reader's order.
type bitWriter struct {
	data   []byte
	filled int // free bits remaining in the final byte
}

func (w *bitWriter) writeBit(bit uint32) {
	if w.filled == 0 {
		w.data = append(w.data, 0)
		w.filled = 8
	}
	if bit != 0 {
		w.data[len(w.data)-1] |= 1 << uint(w.filled-1)
	}
	w.filled--
}

func (w *bitWriter) writeBits(value uint32, count int) {
	for index := count - 1; index >= 0; index-- {
		w.writeBit(value >> uint(index) & 1)
	}
}

// writeUE writes an unsigned Exp-Golomb code.
func (w *bitWriter) writeUE(value uint32) {
	shifted := value + 1
	width := 0
	for probe := shifted; probe > 0; probe >>= 1 {
		width++
	}
	for index := 0; index < width-1; index++ {
		w.writeBit(0)
	}
	w.writeBits(shifted, width)
}

// writeSE writes a signed Exp-Golomb code.
func (w *bitWriter) writeSE(value int32) {
	if value > 0 {
		w.writeUE(uint32(2*value - 1))
	} else {
		w.writeUE(uint32(-2 * value))
	}
}

// bytes returns the stream padded to a byte boundary with zero bits.
func (w *bitWriter) bytes() []byte {
	return w.data
}
