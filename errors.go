// SPDX-License-Identifier: MIT
// Copyright (c) 2026 ObscureTools
// Source: github.com/obscuretools/hvp

package hvp

import "errors"

// Sentinel errors for HVP operations. Use errors.Is in callers.
var (
	// ErrUnrecognizedFormat means no known profile produced a self-consistent header.
	ErrUnrecognizedFormat = errors.New("unrecognized archive format")
	// ErrFormatMismatch means the forced profile rejects the header outright.
	ErrFormatMismatch = errors.New("header unreadable under forced profile")
	// ErrCorruptData means entry table or payload bounds/lengths are inconsistent.
	ErrCorruptData = errors.New("corrupt archive data")
	// ErrEntryTooLarge means a size or offset exceeds its profile field width.
	ErrEntryTooLarge = errors.New("entry exceeds profile field width")
	// ErrUnknownProfile means the requested profile identifier is not registered.
	ErrUnknownProfile = errors.New("unknown game profile")
	// ErrOutOfBounds means a cursor read past the end of the underlying buffer.
	ErrOutOfBounds = errors.New("read out of buffer bounds")
	// ErrMissingSource means a recompress decision references a file absent on disk.
	ErrMissingSource = errors.New("source file missing for recompress entry")
	// ErrChecksumMismatch means a stored payload checksum does not match its entry record.
	ErrChecksumMismatch = errors.New("entry checksum mismatch")
	// ErrNilReader means the reader is nil.
	ErrNilReader = errors.New("reader is nil")
	// ErrNilWriter means the writer is nil.
	ErrNilWriter = errors.New("writer is nil")
	// ErrReaderClosed means the reader is already closed.
	ErrReaderClosed = errors.New("reader already closed")
	// ErrEntryNotFound means the entry is not found.
	ErrEntryNotFound = errors.New("entry not found")
	// ErrEmptyPlan means the pack plan contains no entries.
	ErrEmptyPlan = errors.New("no entries in pack plan")
	// ErrEntryNameTooLong means the entry name exceeds the profile name field.
	ErrEntryNameTooLong = errors.New("entry name exceeds profile name field")
	// ErrInvalidEntryName means an entry name is empty or invalid after normalization.
	ErrInvalidEntryName = errors.New("invalid entry name")
	// ErrDuplicateEntryName means two entries resolve to the same name (case-insensitive).
	ErrDuplicateEntryName = errors.New("duplicate entry name")
	// ErrInvalidExtractPath means archive entry name is invalid for extraction destination.
	ErrInvalidExtractPath = errors.New("invalid extract path")
	// ErrInvalidCompressPattern means one or more compression rules are invalid.
	ErrInvalidCompressPattern = errors.New("invalid compress rules")
	// ErrManifestFormat means the manifest side-file is malformed.
	ErrManifestFormat = errors.New("malformed manifest file")
	// ErrProfileRequired means no profile was given and none can be taken from an existing archive.
	ErrProfileRequired = errors.New("game profile required")
)
