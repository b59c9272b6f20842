// SPDX-License-Identifier: MIT
// Copyright (c) 2026 ObscureTools
// Source: github.com/obscuretools/hvp

package hvp

import (
	"encoding/binary"
	"hash/crc32"
)

// payloadChecksum computes the wrapping signed word sum stored in entry
// records: the payload is consumed as 32-bit words in the profile byte order,
// trailing bytes are added individually as unsigned values. The same payload
// therefore checksums differently on little- and big-endian profiles.
func payloadChecksum(data []byte, bo binary.ByteOrder) int32 {
	var sum int32
	for len(data) >= 4 {
		sum += int32(bo.Uint32(data[:4]))
		data = data[4:]
	}

	for _, b := range data {
		sum += int32(b)
	}

	return sum
}

// checksumWriter accumulates the payload checksum incrementally so streamed
// payload copies can be checksummed without a second pass.
type checksumWriter struct {
	// bo is the byte order words are read in.
	bo binary.ByteOrder
	// sum is the running wrapping sum.
	sum int32
	// tail holds a partial trailing word between writes.
	tail [4]byte
	// tailLen is the number of valid bytes in tail.
	tailLen int
}

// newChecksumWriter returns a checksum accumulator for the given byte order.
func newChecksumWriter(bo binary.ByteOrder) *checksumWriter {
	return &checksumWriter{bo: bo}
}

// Write consumes the next payload chunk. It never fails.
func (w *checksumWriter) Write(p []byte) (int, error) {
	total := len(p)

	if w.tailLen > 0 {
		need := 4 - w.tailLen
		if len(p) < need {
			copy(w.tail[w.tailLen:], p)
			w.tailLen += len(p)
			return total, nil
		}

		copy(w.tail[w.tailLen:], p[:need])
		w.sum += int32(w.bo.Uint32(w.tail[:]))
		w.tailLen = 0
		p = p[need:]
	}

	for len(p) >= 4 {
		w.sum += int32(w.bo.Uint32(p[:4]))
		p = p[4:]
	}

	if len(p) > 0 {
		copy(w.tail[:], p)
		w.tailLen = len(p)
	}

	return total, nil
}

// Sum returns the checksum over everything written so far.
func (w *checksumWriter) Sum() int32 {
	sum := w.sum
	for _, b := range w.tail[:w.tailLen] {
		sum += int32(b)
	}

	return sum
}

// Reset clears the accumulator for reuse.
func (w *checksumWriter) Reset() {
	w.sum = 0
	w.tailLen = 0
}

// nameChecksum computes the CRC32 stored next to entry names in the
// Obscure II and Final Exam record layouts. It is taken over the encoded
// wire name bytes, without padding.
func nameChecksum(wireName []byte) uint32 {
	return crc32.ChecksumIEEE(wireName)
}

// tableChecksum computes the CRC32 header field over the serialized entry table.
func tableChecksum(table []byte) uint32 {
	return crc32.ChecksumIEEE(table)
}
