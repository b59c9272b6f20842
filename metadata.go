// SPDX-License-Identifier: MIT
// Copyright (c) 2026 ObscureTools
// Source: github.com/obscuretools/hvp

package hvp

import (
	"fmt"
	"io"
	"os"
)

// DetectFile identifies the archive profile of a file without parsing its
// entry table.
func DetectFile(path string) (*GameProfile, error) {
	f, size, err := openFileWithSize(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	leading, err := readLeading(f, size)
	if err != nil {
		return nil, err
	}

	return Detect(leading, size)
}

// ListEntries opens an archive and returns entry metadata without payload reads.
func ListEntries(path string) ([]Entry, error) {
	return ListEntriesWithOptions(path, ReaderOptions{})
}

// ListEntriesWithOptions opens an archive and returns entry metadata without
// payload reads, using explicit reader options.
func ListEntriesWithOptions(path string, opts ReaderOptions) ([]Entry, error) {
	f, size, err := openFileWithSize(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	return ListEntriesFromReaderAtWithOptions(f, size, opts)
}

// ListEntriesFromReaderAt parses entry metadata from a random-access source.
func ListEntriesFromReaderAt(ra io.ReaderAt, size int64) ([]Entry, error) {
	return ListEntriesFromReaderAtWithOptions(ra, size, ReaderOptions{})
}

// ListEntriesFromReaderAtWithOptions parses entry metadata from a
// random-access source using explicit reader options.
func ListEntriesFromReaderAtWithOptions(ra io.ReaderAt, size int64, opts ReaderOptions) ([]Entry, error) {
	if ra == nil {
		return nil, ErrNilReader
	}

	r, err := NewReaderFromReaderAtWithOptions(ra, size, opts)
	if err != nil {
		return nil, err
	}

	return r.entries, nil
}

// openFileWithSize opens a file and returns a handle plus current size.
func openFileWithSize(path string) (*os.File, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open archive: %w", err)
	}

	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, fmt.Errorf("stat: %w", err)
	}

	return f, fi.Size(), nil
}
