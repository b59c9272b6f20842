// SPDX-License-Identifier: MIT
// Copyright (c) 2026 ObscureTools
// Source: github.com/obscuretools/hvp

package hvp

import (
	"encoding/binary"
	"fmt"
)

// cursor is a positioned view over a byte buffer used by header and entry
// record codecs. Byte order is passed per call, never stored, because one
// record can mix fixed byte fields with order-sensitive integers.
type cursor struct {
	// buf is the underlying buffer; writes may grow it.
	buf []byte
	// off is the current absolute position in buf.
	off int
}

// newCursor returns a cursor positioned at the start of buf.
func newCursor(buf []byte) *cursor {
	return &cursor{buf: buf}
}

// bytes returns the current underlying buffer including written extensions.
func (c *cursor) bytes() []byte {
	return c.buf
}

// pos returns the current absolute position.
func (c *cursor) pos() int {
	return c.off
}

// remaining returns the number of readable bytes after the current position.
func (c *cursor) remaining() int {
	if c.off >= len(c.buf) {
		return 0
	}

	return len(c.buf) - c.off
}

// seek moves the cursor to an absolute position inside the readable buffer.
// Seeking to len(buf) is allowed so writers can append at the end.
func (c *cursor) seek(off int) error {
	if off < 0 || off > len(c.buf) {
		return fmt.Errorf("%w: seek to %d in %d-byte buffer", ErrOutOfBounds, off, len(c.buf))
	}

	c.off = off
	return nil
}

// skip advances the cursor by n readable bytes.
func (c *cursor) skip(n int) error {
	if n < 0 || c.remaining() < n {
		return fmt.Errorf("%w: skip %d with %d bytes remaining", ErrOutOfBounds, n, c.remaining())
	}

	c.off += n
	return nil
}

// readN returns the next n bytes as a view into the buffer.
func (c *cursor) readN(n int) ([]byte, error) {
	if n < 0 || c.remaining() < n {
		return nil, fmt.Errorf("%w: read %d bytes at offset %d of %d", ErrOutOfBounds, n, c.off, len(c.buf))
	}

	out := c.buf[c.off : c.off+n]
	c.off += n
	return out, nil
}

// u8 reads one byte.
func (c *cursor) u8() (uint8, error) {
	b, err := c.readN(1)
	if err != nil {
		return 0, err
	}

	return b[0], nil
}

// u16 reads an unsigned 16-bit integer in the given byte order.
func (c *cursor) u16(bo binary.ByteOrder) (uint16, error) {
	b, err := c.readN(2)
	if err != nil {
		return 0, err
	}

	return bo.Uint16(b), nil
}

// u32 reads an unsigned 32-bit integer in the given byte order.
func (c *cursor) u32(bo binary.ByteOrder) (uint32, error) {
	b, err := c.readN(4)
	if err != nil {
		return 0, err
	}

	return bo.Uint32(b), nil
}

// u64 reads an unsigned 64-bit integer in the given byte order.
func (c *cursor) u64(bo binary.ByteOrder) (uint64, error) {
	b, err := c.readN(8)
	if err != nil {
		return 0, err
	}

	return bo.Uint64(b), nil
}

// i32 reads a signed 32-bit integer in the given byte order.
func (c *cursor) i32(bo binary.ByteOrder) (int32, error) {
	v, err := c.u32(bo)
	if err != nil {
		return 0, err
	}

	return int32(v), nil
}

// uint reads an unsigned integer of the given field width (1, 2, 4 or 8 bytes).
func (c *cursor) uint(bo binary.ByteOrder, width int) (uint64, error) {
	switch width {
	case 1:
		v, err := c.u8()
		return uint64(v), err
	case 2:
		v, err := c.u16(bo)
		return uint64(v), err
	case 4:
		v, err := c.u32(bo)
		return uint64(v), err
	case 8:
		return c.u64(bo)
	default:
		return 0, fmt.Errorf("%w: unsupported field width %d", ErrOutOfBounds, width)
	}
}

// ensure grows the buffer so n bytes can be written at the current position.
func (c *cursor) ensure(n int) {
	need := c.off + n
	if need <= len(c.buf) {
		return
	}

	if need <= cap(c.buf) {
		c.buf = c.buf[:need]
		return
	}

	grown := make([]byte, need)
	copy(grown, c.buf)
	c.buf = grown
}

// write copies b at the current position, extending the buffer as needed.
func (c *cursor) write(b []byte) {
	c.ensure(len(b))
	copy(c.buf[c.off:], b)
	c.off += len(b)
}

// putU8 writes one byte.
func (c *cursor) putU8(v uint8) {
	c.ensure(1)
	c.buf[c.off] = v
	c.off++
}

// putU16 writes an unsigned 16-bit integer in the given byte order.
func (c *cursor) putU16(v uint16, bo binary.ByteOrder) {
	c.ensure(2)
	bo.PutUint16(c.buf[c.off:], v)
	c.off += 2
}

// putU32 writes an unsigned 32-bit integer in the given byte order.
func (c *cursor) putU32(v uint32, bo binary.ByteOrder) {
	c.ensure(4)
	bo.PutUint32(c.buf[c.off:], v)
	c.off += 4
}

// putU64 writes an unsigned 64-bit integer in the given byte order.
func (c *cursor) putU64(v uint64, bo binary.ByteOrder) {
	c.ensure(8)
	bo.PutUint64(c.buf[c.off:], v)
	c.off += 8
}

// putI32 writes a signed 32-bit integer in the given byte order.
func (c *cursor) putI32(v int32, bo binary.ByteOrder) {
	c.putU32(uint32(v), bo)
}

// putUint writes an unsigned integer of the given field width and fails when
// the value does not fit the width. Callers map the failure to their own
// error kind; the cursor reports only the raw constraint.
func (c *cursor) putUint(v uint64, bo binary.ByteOrder, width int) error {
	if max := maxFieldValue(width); v > max {
		return fmt.Errorf("value %d exceeds %d-byte field", v, width)
	}

	switch width {
	case 1:
		c.putU8(uint8(v))
	case 2:
		c.putU16(uint16(v), bo)
	case 4:
		c.putU32(uint32(v), bo)
	case 8:
		c.putU64(v, bo)
	default:
		return fmt.Errorf("unsupported field width %d", width)
	}

	return nil
}

// maxFieldValue returns the largest unsigned value representable in width bytes.
func maxFieldValue(width int) uint64 {
	if width <= 0 || width >= 8 {
		return ^uint64(0)
	}

	return 1<<(8*width) - 1
}
