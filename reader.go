// SPDX-License-Identifier: MIT
// Copyright (c) 2026 ObscureTools
// Source: github.com/obscuretools/hvp

package hvp

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Reader provides read-only access to a parsed archive.
type Reader struct {
	// ra is the underlying random-access reader used for payload reads.
	ra io.ReaderAt
	// file is set when Reader owns an *os.File opened via Open.
	file *os.File
	// profile is the detected or forced archive profile.
	profile *GameProfile
	// header keeps the raw fixed header bytes as a rebuild template.
	header []byte
	// entries stores parsed immutable entry metadata in table order.
	entries []Entry
	// size is total source size in bytes.
	size int64
	// dataStart is absolute offset of the payload region.
	dataStart int64
	// tableChecksumOK records the entry table checksum verdict from parse.
	tableChecksumOK bool
	// mu guards closed state and close operation.
	mu sync.Mutex
	// closed reports whether Close was already called.
	closed bool
}

// Open opens an archive by path, auto-detecting its profile.
func Open(path string) (*Reader, error) {
	return OpenWithOptions(path, ReaderOptions{})
}

// OpenWithOptions opens an archive by path using explicit reader options.
func OpenWithOptions(path string, opts ReaderOptions) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat: %w", err)
	}

	r, err := NewReaderFromReaderAtWithOptions(f, fi.Size(), opts)
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	r.file = f
	return r, nil
}

// NewReaderFromReaderAt parses an archive from an existing ReaderAt and known size.
func NewReaderFromReaderAt(ra io.ReaderAt, size int64) (*Reader, error) {
	return NewReaderFromReaderAtWithOptions(ra, size, ReaderOptions{})
}

// NewReaderFromReaderAtWithOptions parses an archive from an existing ReaderAt
// and known size using explicit reader options.
func NewReaderFromReaderAtWithOptions(ra io.ReaderAt, size int64, opts ReaderOptions) (*Reader, error) {
	if ra == nil {
		return nil, ErrNilReader
	}

	r := &Reader{ra: ra, size: size}
	if err := r.parse(ra, size, opts); err != nil {
		return nil, err
	}

	return r, nil
}

// Profile returns the archive profile selected during parse.
func (r *Reader) Profile() *GameProfile {
	if r == nil {
		return nil
	}

	return r.profile
}

// Entries returns a copy of parsed entries in table order.
func (r *Reader) Entries() []Entry {
	if r == nil {
		return nil
	}

	entries := make([]Entry, len(r.entries))
	copy(entries, r.entries)
	return entries
}

// EntryAt returns the entry at a table index.
func (r *Reader) EntryAt(i int) (Entry, error) {
	if r == nil || i < 0 || i >= len(r.entries) {
		return Entry{}, fmt.Errorf("%w: index %d", ErrEntryNotFound, i)
	}

	return r.entries[i], nil
}

// TableChecksumOK reports whether the declared entry table checksum matched
// the parsed table. It is true for archives whose header predates live
// checksums. Auto-detected opens fail on mismatch, so this only reports false
// after a forced-profile open or with verification disabled.
func (r *Reader) TableChecksumOK() bool {
	if r == nil {
		return false
	}

	return r.tableChecksumOK
}

// Close closes the underlying file if reader owns one.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}

	r.closed = true
	if r.file != nil {
		return r.file.Close()
	}

	return nil
}

// checkClosed returns an error when Close was already called.
func (r *Reader) checkClosed() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrReaderClosed
	}

	return nil
}

// parse reads and validates archive structure from ReaderAt.
func (r *Reader) parse(ra io.ReaderAt, size int64, opts ReaderOptions) error {
	peek, err := readLeading(ra, size)
	if err != nil {
		return err
	}

	forced := opts.Profile != ""

	var (
		p *GameProfile
		h headerInfo
	)
	if forced {
		p, h, err = forcedProfileHeader(opts.Profile, peek)
	} else {
		p, h, err = detectProfile(peek, size)
	}
	if err != nil {
		return err
	}

	r.profile = p
	r.header = append([]byte(nil), peek[:p.header.size]...)

	// The table must be fully inside the file even for forced opens; nothing
	// can be parsed otherwise.
	tableEnd := h.tableEnd(p)
	if h.tableOff < int64(p.header.size) || h.count < 0 || tableEnd > size {
		return fmt.Errorf("%w: entry table [%d..%d) out of file bounds (size %d)",
			ErrCorruptData, h.tableOff, tableEnd, size)
	}

	r.dataStart = h.dataOff
	if r.dataStart < tableEnd || r.dataStart > size {
		if !forced {
			return fmt.Errorf("%w: payload region offset %d out of file bounds", ErrCorruptData, h.dataOff)
		}

		// Damaged headers keep junk here; degrade to the table end so entry
		// bounds validation still has a floor.
		r.dataStart = tableEnd
	}

	table := make([]byte, h.count*int64(p.record.stride))
	if len(table) > 0 {
		if _, err := ra.ReadAt(table, h.tableOff); err != nil {
			return fmt.Errorf("read entry table: %w", err)
		}
	}

	if err := r.verifyTableChecksum(h, table, forced, opts); err != nil {
		return err
	}

	return r.parseEntries(table, opts)
}

// readLeading reads up to DetectPeekSize leading bytes.
func readLeading(ra io.ReaderAt, size int64) ([]byte, error) {
	peekLen := int64(DetectPeekSize)
	if size < peekLen {
		peekLen = size
	}
	if peekLen <= 0 {
		return nil, fmt.Errorf("%w: short header", ErrUnrecognizedFormat)
	}

	peek := make([]byte, peekLen)
	if _, err := ra.ReadAt(peek, 0); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	return peek, nil
}

// forcedProfileHeader resolves a forced profile and decodes its header without
// plausibility checks, so damaged archives stay openable. The signature bytes
// still must match: a wrong profile on a healthy archive of another family is
// a usage error, not damage.
func forcedProfileHeader(id string, peek []byte) (*GameProfile, headerInfo, error) {
	p, err := LookupProfile(id)
	if err != nil {
		return nil, headerInfo{}, err
	}

	if len(peek) < p.header.size || !p.hasMagic(peek) {
		return nil, headerInfo{}, fmt.Errorf("%w: archive does not carry the %s signature", ErrFormatMismatch, p.ID)
	}

	h, err := p.decodeHeader(peek)
	if err != nil {
		return nil, headerInfo{}, err
	}

	return p, h, nil
}

// verifyTableChecksum checks the declared table checksum and records the
// verdict. Auto-detected opens fail on mismatch; forced opens record it.
func (r *Reader) verifyTableChecksum(h headerInfo, table []byte, forced bool, opts ReaderOptions) error {
	if !h.crcLive {
		r.tableChecksumOK = true
		return nil
	}

	computed := tableChecksum(table)
	r.tableChecksumOK = computed == h.tableCRC
	if r.tableChecksumOK || opts.SkipChecksumVerify || forced {
		return nil
	}

	return fmt.Errorf("%w: entry table: declared %08x, computed %08x",
		ErrChecksumMismatch, h.tableCRC, computed)
}

// parseEntries decodes and validates all fixed-stride records of the table.
func (r *Reader) parseEntries(table []byte, opts ReaderOptions) error {
	stride := r.profile.record.stride
	count := len(table) / stride
	r.entries = make([]Entry, 0, count)

	for i := 0; i < count; i++ {
		rec := table[i*stride : (i+1)*stride]

		e, err := r.profile.decodeRecord(rec)
		if err == nil {
			err = r.validateEntry(&e)
		}
		if err != nil {
			if opts.DropInvalidEntries {
				continue
			}

			return fmt.Errorf("entry %d: %w", i, err)
		}

		r.entries = append(r.entries, e)
	}

	return nil
}

// validateEntry checks payload geometry against the file bounds. Entries with
// a zero raw size are exempt: real archives keep junk offsets on them and no
// payload bytes are ever read for them.
func (r *Reader) validateEntry(e *Entry) error {
	if e.IsEmpty() {
		return nil
	}

	if e.StoredSize == 0 {
		return fmt.Errorf("%w: entry %s has %d raw bytes but no stored payload", ErrCorruptData, e.Name, e.RawSize)
	}

	if !e.Compressed && e.StoredSize != e.RawSize {
		return fmt.Errorf("%w: entry %s stored without compression but sizes differ (%d != %d)",
			ErrCorruptData, e.Name, e.StoredSize, e.RawSize)
	}

	if e.Compressed && e.StoredSize > e.RawSize {
		return fmt.Errorf("%w: entry %s compressed payload larger than raw size (%d > %d)",
			ErrCorruptData, e.Name, e.StoredSize, e.RawSize)
	}

	if e.Offset < uint64(r.dataStart) || e.Offset > uint64(r.size) || e.StoredSize > uint64(r.size)-e.Offset {
		return fmt.Errorf("%w: entry %s payload [%d..%d) out of file bounds (size %d)",
			ErrCorruptData, e.Name, e.Offset, e.Offset+e.StoredSize, r.size)
	}

	return nil
}

// VerifyChecksums re-reads every stored payload and compares its word-sum
// checksum against the entry table. The first mismatch or read failure stops
// verification and is returned.
func (r *Reader) VerifyChecksums(ctx context.Context) error {
	if err := r.checkClosed(); err != nil {
		return err
	}

	if ctx == nil {
		ctx = context.Background()
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for i := range r.entries {
		e := r.entries[i]
		if e.IsEmpty() {
			continue
		}

		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			cw := newChecksumWriter(r.profile.Order)
			sr := io.NewSectionReader(r.ra, int64(e.Offset), int64(e.StoredSize))
			if _, err := io.Copy(cw, sr); err != nil {
				return fmt.Errorf("entry %s: read payload: %w", e.Name, err)
			}

			if sum := cw.Sum(); sum != e.Checksum {
				return fmt.Errorf("%w: entry %s: declared %d, computed %d", ErrChecksumMismatch, e.Name, e.Checksum, sum)
			}

			return nil
		})
	}

	return g.Wait()
}
