// SPDX-License-Identifier: MIT
// Copyright (c) 2026 ObscureTools
// Source: github.com/obscuretools/hvp

package hvp

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// createManualArchive hand-writes a big-endian Obscure 1 archive with a
// single raw entry, byte by byte, so reader tests do not depend on the
// builder. The name is the wire form (backslash separators). Returns the
// file path.
func createManualArchive(t *testing.T, name string, payload []byte) string {
	t.Helper()

	const (
		headerSize = 32
		stride     = 76
	)
	dataOff := uint32(headerSize + stride)

	rec := make([]byte, stride)
	copy(rec, name)
	binary.BigEndian.PutUint32(rec[56:60], 0) // raw entry
	binary.BigEndian.PutUint32(rec[60:64], uint32(payloadChecksum(payload, binary.BigEndian)))
	binary.BigEndian.PutUint32(rec[64:68], uint32(len(payload)))
	binary.BigEndian.PutUint32(rec[68:72], dataOff)
	binary.BigEndian.PutUint32(rec[72:76], uint32(len(payload)))

	header := make([]byte, headerSize)
	copy(header, "HV PackFile\x00")
	binary.BigEndian.PutUint16(header[12:14], 1) // major
	binary.BigEndian.PutUint16(header[14:16], 1) // minor, live table checksum
	binary.BigEndian.PutUint32(header[16:20], 1) // entry count
	binary.BigEndian.PutUint32(header[20:24], headerSize)
	binary.BigEndian.PutUint32(header[24:28], dataOff)
	binary.BigEndian.PutUint32(header[28:32], tableChecksum(rec))

	var buf bytes.Buffer
	buf.Write(header)
	buf.Write(rec)
	buf.Write(payload)

	path := filepath.Join(t.TempDir(), "manual.hvp")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	return path
}

// mutateManualArchive edits header or record bytes in place and refreshes
// the table checksum so the edit itself does not trip verification.
func mutateManualArchive(t *testing.T, path string, mutate func(header, rec []byte)) {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	header, rec := data[:32], data[32:108]
	mutate(header, rec)
	binary.BigEndian.PutUint32(header[28:32], tableChecksum(rec))

	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestOpenManualArchive(t *testing.T) {
	t.Parallel()

	payload := []byte("bonjour hvp")
	path := createManualArchive(t, `docs\hello.txt`, payload)

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = r.Close() }()

	if r.Profile().ID != "obscure1-pc" {
		t.Fatalf("profile = %s, want obscure1-pc", r.Profile().ID)
	}
	if !r.TableChecksumOK() {
		t.Fatal("table checksum flagged bad on a well-formed archive")
	}

	entries := r.Entries()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.Name != "docs/hello.txt" {
		t.Fatalf("name = %q", e.Name)
	}
	if e.RawSize != uint64(len(payload)) || e.StoredSize != uint64(len(payload)) || e.Compressed {
		t.Fatalf("unexpected geometry: %+v", e)
	}

	got, err := r.ReadEntry("docs/hello.txt")
	if err != nil {
		t.Fatalf("ReadEntry: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("content = %q", got)
	}

	// Wire names come from case-insensitive filesystems.
	got, err = r.ReadEntry(`DOCS\HELLO.TXT`)
	if err != nil {
		t.Fatalf("ReadEntry case variant: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("case variant content = %q", got)
	}

	if err := r.VerifyChecksums(context.Background()); err != nil {
		t.Fatalf("VerifyChecksums: %v", err)
	}
}

func TestOpenRejectsUnknownData(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	empty := filepath.Join(dir, "empty.hvp")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Open(empty); !errors.Is(err, ErrUnrecognizedFormat) {
		t.Fatalf("empty file: expected ErrUnrecognizedFormat, got %v", err)
	}

	junk := filepath.Join(dir, "junk.hvp")
	if err := os.WriteFile(junk, bytes.Repeat([]byte("junk"), 64), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Open(junk); !errors.Is(err, ErrUnrecognizedFormat) {
		t.Fatalf("junk file: expected ErrUnrecognizedFormat, got %v", err)
	}

	if _, err := Open(filepath.Join(dir, "missing.hvp")); err == nil {
		t.Fatal("expected error for a missing file")
	}
}

func TestOpenTableChecksumMismatch(t *testing.T) {
	t.Parallel()

	path := createManualArchive(t, "a.txt", []byte("payload"))

	// Corrupt one table byte without refreshing the declared checksum.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	data[32] = 'b'
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := Open(path); !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("expected ErrChecksumMismatch, got %v", err)
	}

	r, err := OpenWithOptions(path, ReaderOptions{SkipChecksumVerify: true})
	if err != nil {
		t.Fatalf("OpenWithOptions skip verify: %v", err)
	}
	defer func() { _ = r.Close() }()
	if r.TableChecksumOK() {
		t.Fatal("mismatch not reported through TableChecksumOK")
	}
	if r.Entries()[0].Name != "b.txt" {
		t.Fatalf("entry name = %q, want the damaged spelling", r.Entries()[0].Name)
	}

	// A forced profile also keeps damaged archives openable.
	forced, err := OpenWithOptions(path, ReaderOptions{Profile: "obscure1-pc"})
	if err != nil {
		t.Fatalf("OpenWithOptions forced: %v", err)
	}
	defer func() { _ = forced.Close() }()
	if forced.TableChecksumOK() {
		t.Fatal("forced open must still report the mismatch")
	}
}

func TestOpenDeadChecksumArchive(t *testing.T) {
	t.Parallel()

	path := createManualArchive(t, "a.txt", []byte("payload"))
	mutateManualArchive(t, path, func(header, _ []byte) {
		binary.BigEndian.PutUint16(header[14:16], 0) // pre-checksum minor
	})

	// Junk where the CRC would live. Written after the mutate helper so its
	// checksum refresh does not undo it.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	binary.BigEndian.PutUint32(data[28:32], 0xBAD)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = r.Close() }()

	if !r.TableChecksumOK() {
		t.Fatal("dead checksum field must not count as a mismatch")
	}
}

// Payload damage is invisible to Open, which validates only the entry table;
// VerifyChecksums re-reads the stored bytes and names the damaged entry.
func TestVerifyChecksumsDetectsPayloadDamage(t *testing.T) {
	t.Parallel()

	path := buildTestArchive(t, "obscure1-pc", map[string][]byte{
		"data/level.bin": compressiblePayload(3000),
		"notes.txt":      []byte("unharmed"),
	})

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	var target Entry
	for _, e := range r.Entries() {
		if e.Name == "data/level.bin" {
			target = e
		}
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if target.Name == "" {
		t.Fatal("data/level.bin not in archive")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	data[target.Offset] ^= 0xFF
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	damaged, err := Open(path)
	if err != nil {
		t.Fatalf("Open after damage: %v", err)
	}
	defer func() { _ = damaged.Close() }()

	err = damaged.VerifyChecksums(context.Background())
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("expected ErrChecksumMismatch, got %v", err)
	}
	if !strings.Contains(err.Error(), "data/level.bin") {
		t.Fatalf("error does not name the damaged entry: %v", err)
	}
}

func TestOpenForcedProfile(t *testing.T) {
	t.Parallel()

	path := createManualArchive(t, "a.txt", []byte("payload"))

	t.Run("wrong family", func(t *testing.T) {
		t.Parallel()

		if _, err := OpenWithOptions(path, ReaderOptions{Profile: "obscure2-pc"}); !errors.Is(err, ErrFormatMismatch) {
			t.Fatalf("expected ErrFormatMismatch, got %v", err)
		}
	})

	t.Run("unknown identifier", func(t *testing.T) {
		t.Parallel()

		if _, err := OpenWithOptions(path, ReaderOptions{Profile: "obscure9-amiga"}); !errors.Is(err, ErrUnknownProfile) {
			t.Fatalf("expected ErrUnknownProfile, got %v", err)
		}
	})

	t.Run("matching family", func(t *testing.T) {
		t.Parallel()

		r, err := OpenWithOptions(path, ReaderOptions{Profile: "obscure1-pc"})
		if err != nil {
			t.Fatalf("OpenWithOptions: %v", err)
		}
		defer func() { _ = r.Close() }()

		got, err := r.ReadEntry("a.txt")
		if err != nil {
			t.Fatalf("ReadEntry: %v", err)
		}
		if string(got) != "payload" {
			t.Fatalf("content = %q", got)
		}
	})
}

func TestOpenInvalidEntryGeometry(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		mutate func(header, rec []byte)
	}{
		{
			name: "payload beyond file end",
			mutate: func(_, rec []byte) {
				binary.BigEndian.PutUint32(rec[64:68], 0xFFFF)
				binary.BigEndian.PutUint32(rec[72:76], 0xFFFF)
			},
		},
		{
			name: "raw entry with differing sizes",
			mutate: func(_, rec []byte) {
				binary.BigEndian.PutUint32(rec[64:68], 99)
			},
		},
		{
			name: "stored size zero with content",
			mutate: func(_, rec []byte) {
				binary.BigEndian.PutUint32(rec[72:76], 0)
			},
		},
		{
			name: "compressed larger than raw",
			mutate: func(_, rec []byte) {
				binary.BigEndian.PutUint32(rec[56:60], 1)
				binary.BigEndian.PutUint32(rec[64:68], 3)
			},
		},
		{
			name: "offset before data region",
			mutate: func(_, rec []byte) {
				binary.BigEndian.PutUint32(rec[68:72], 4)
			},
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			path := createManualArchive(t, "a.txt", []byte("payload"))
			mutateManualArchive(t, path, tc.mutate)

			if _, err := Open(path); !errors.Is(err, ErrCorruptData) {
				t.Fatalf("expected ErrCorruptData, got %v", err)
			}

			// Tolerant mode drops the bad entry instead of failing the parse.
			r, err := OpenWithOptions(path, ReaderOptions{DropInvalidEntries: true})
			if err != nil {
				t.Fatalf("OpenWithOptions tolerant: %v", err)
			}
			defer func() { _ = r.Close() }()
			if len(r.Entries()) != 0 {
				t.Fatalf("tolerant parse kept %d entries", len(r.Entries()))
			}
		})
	}
}

func TestOpenEmptyEntryToleratesJunkGeometry(t *testing.T) {
	t.Parallel()

	path := createManualArchive(t, "a.txt", []byte("payload"))
	mutateManualArchive(t, path, func(_, rec []byte) {
		binary.BigEndian.PutUint32(rec[64:68], 0)          // raw size zero
		binary.BigEndian.PutUint32(rec[68:72], 0xFFFFFFF0) // junk offset
		binary.BigEndian.PutUint32(rec[72:76], 0xFF)       // junk stored size
	})

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = r.Close() }()

	e := r.Entries()[0]
	if !e.IsEmpty() {
		t.Fatalf("entry not empty: %+v", e)
	}

	got, err := r.ReadEntry("a.txt")
	if err != nil {
		t.Fatalf("ReadEntry: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("empty entry produced %d bytes", len(got))
	}
}

func TestReaderAccessorsAfterClose(t *testing.T) {
	t.Parallel()

	path := createManualArchive(t, "a.txt", []byte("payload"))
	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if _, err := r.ReadEntry("a.txt"); !errors.Is(err, ErrReaderClosed) {
		t.Fatalf("expected ErrReaderClosed, got %v", err)
	}
	if err := r.VerifyChecksums(context.Background()); !errors.Is(err, ErrReaderClosed) {
		t.Fatalf("expected ErrReaderClosed, got %v", err)
	}
}

func TestNewReaderFromReaderAt(t *testing.T) {
	t.Parallel()

	path := createManualArchive(t, "a.txt", []byte("payload"))
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	r, err := NewReaderFromReaderAt(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("NewReaderFromReaderAt: %v", err)
	}
	defer func() { _ = r.Close() }()

	got, err := r.ReadEntry("a.txt")
	if err != nil {
		t.Fatalf("ReadEntry: %v", err)
	}
	if string(got) != "payload" {
		t.Fatalf("content = %q", got)
	}

	if _, err := NewReaderFromReaderAt(nil, 0); !errors.Is(err, ErrNilReader) {
		t.Fatalf("expected ErrNilReader, got %v", err)
	}
}
