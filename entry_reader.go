// SPDX-License-Identifier: MIT
// Copyright (c) 2026 ObscureTools
// Source: github.com/obscuretools/hvp

package hvp

import (
	"bytes"
	"fmt"
	"io"
	"math"

	"github.com/klauspost/compress/zlib"
)

// nopCloser wraps a reader and provides a no-op close.
type nopCloser struct {
	io.Reader
}

// Close closes nopCloser (no-op).
func (nopCloser) Close() error {
	return nil
}

// findEntryByName resolves one entry by name, case-insensitively.
// The first table occurrence wins for duplicated names.
func (r *Reader) findEntryByName(name string) *Entry {
	key := entryNameKey(name)
	for i := range r.entries {
		if entryNameKey(r.entries[i].Name) == key {
			return &r.entries[i]
		}
	}

	return nil
}

// openEntryByMeta opens a decompressed payload stream for resolved metadata.
func (r *Reader) openEntryByMeta(e *Entry, name string) (io.ReadCloser, error) {
	if e == nil {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, name)
	}

	if e.IsEmpty() {
		return nopCloser{Reader: bytes.NewReader(nil)}, nil
	}

	sr := io.NewSectionReader(r.ra, int64(e.Offset), int64(e.StoredSize))
	if !e.Compressed {
		return nopCloser{Reader: sr}, nil
	}

	outLen, err := checkedUint64ToInt(e.RawSize)
	if err != nil {
		return nil, fmt.Errorf("resolve output size for %s: %w", name, err)
	}

	switch r.profile.Scheme {
	case SchemeZlib:
		pr, pw := io.Pipe()
		go streamInflateEntry(name, pw, sr, int64(outLen))
		return pr, nil

	case SchemeLZO:
		// LZO1X decodes as one shot, there is no streaming decoder.
		stored := make([]byte, e.StoredSize)
		if _, err := io.ReadFull(sr, stored); err != nil {
			return nil, fmt.Errorf("read entry %s: %w", name, err)
		}

		raw, err := decompressPayload(SchemeLZO, stored, outLen)
		if err != nil {
			return nil, fmt.Errorf("decompress entry %s: %w", name, err)
		}

		return nopCloser{Reader: bytes.NewReader(raw)}, nil

	default:
		return nil, fmt.Errorf("%w: entry %s flagged compressed in a store-only profile", ErrCorruptData, name)
	}
}

// OpenEntry opens the named entry for reading, case-insensitively.
// The returned stream yields decompressed content for compressed entries.
func (r *Reader) OpenEntry(name string) (io.ReadCloser, error) {
	if r == nil || r.ra == nil {
		return nil, ErrNilReader
	}

	if err := r.checkClosed(); err != nil {
		return nil, err
	}

	return r.openEntryByMeta(r.findEntryByName(name), name)
}

// OpenEntryAt opens the entry at a table index for reading.
// The returned stream yields decompressed content for compressed entries.
func (r *Reader) OpenEntryAt(i int) (io.ReadCloser, error) {
	if r == nil || r.ra == nil {
		return nil, ErrNilReader
	}

	if err := r.checkClosed(); err != nil {
		return nil, err
	}

	e, err := r.EntryAt(i)
	if err != nil {
		return nil, err
	}

	return r.openEntryByMeta(&e, e.Name)
}

// ReadEntry reads the full decompressed content of the named entry.
func (r *Reader) ReadEntry(name string) ([]byte, error) {
	rc, err := r.OpenEntry(name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	return io.ReadAll(rc)
}

// ReadEntryAt reads the full decompressed content of the entry at a table index.
func (r *Reader) ReadEntryAt(i int) ([]byte, error) {
	rc, err := r.OpenEntryAt(i)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	return io.ReadAll(rc)
}

// streamInflateEntry inflates one zlib payload into the pipe writer. The
// stream must carry exactly outLen bytes; short or trailing data fails the
// read side with ErrCorruptData.
func streamInflateEntry(name string, dst *io.PipeWriter, src io.Reader, outLen int64) {
	zr, err := zlib.NewReader(src)
	if err != nil {
		_ = dst.CloseWithError(fmt.Errorf("%w: entry %s: %w", ErrCorruptData, name, err))
		return
	}
	defer func() { _ = zr.Close() }()

	if _, err := io.CopyN(dst, zr, outLen); err != nil {
		_ = dst.CloseWithError(fmt.Errorf("%w: entry %s: %w", ErrCorruptData, name, err))
		return
	}

	// Drain the terminator so the decoder checks the adler32 footer, and
	// reject streams that inflate past the declared raw size.
	var probe [1]byte
	switch _, err := zr.Read(probe[:]); err {
	case io.EOF:
		_ = dst.Close()
	case nil:
		_ = dst.CloseWithError(fmt.Errorf("%w: entry %s: payload inflates past declared size", ErrCorruptData, name))
	default:
		_ = dst.CloseWithError(fmt.Errorf("%w: entry %s: %w", ErrCorruptData, name, err))
	}
}

// checkedUint64ToInt converts uint64 to int with platform-safe overflow check.
func checkedUint64ToInt(v uint64) (int, error) {
	if v > uint64(math.MaxInt) {
		return 0, fmt.Errorf("%w: size %d exceeds platform limits", ErrEntryTooLarge, v)
	}

	return int(v), nil
}
