// SPDX-License-Identifier: MIT
// Copyright (c) 2026 ObscureTools
// Source: github.com/obscuretools/hvp

package hvp

import (
	"io"
	"time"

	"github.com/woozymasta/pathrules"
)

// Default packer tuning values.
const (
	DefaultWriteBuffer     = 16 * 1024 * 1024
	DefaultMinCompressSize = 64
	DefaultMaxCompressSize = 64 * 1024 * 1024
)

// ManifestFileName is the manifest side-file written into extraction and
// pack source directories. Directory scans skip it.
const ManifestFileName = ".hvp-manifest.json"

// Entry describes a single parsed archive entry.
type Entry struct {
	// Name is the canonical slash-separated entry name.
	Name string `json:"name" yaml:"name"`
	// Offset is the absolute byte offset of the stored payload.
	Offset uint64 `json:"offset" yaml:"offset"`
	// RawSize is the uncompressed payload size in bytes.
	RawSize uint64 `json:"raw_size" yaml:"raw_size"`
	// StoredSize is the stored (possibly compressed) payload size in bytes.
	StoredSize uint64 `json:"stored_size" yaml:"stored_size"`
	// Compressed reports whether the stored payload is compressed.
	Compressed bool `json:"compressed" yaml:"compressed"`
	// Checksum is the signed word sum of the stored payload bytes.
	Checksum int32 `json:"checksum" yaml:"checksum"`
	// NameHash is the CRC32 of the wire name; zero for layouts without it.
	NameHash uint32 `json:"name_hash,omitempty" yaml:"name_hash,omitempty"`
}

// IsEmpty reports whether this entry has no payload. Real archives carry
// junk offset and stored-size values on such entries, so payload geometry
// must not be interpreted for them.
func (e *Entry) IsEmpty() bool {
	return e.RawSize == 0
}

// Input describes one source stream to be packed into an archive entry.
type Input struct {
	// ModTime is the source modification time used by manifest fast paths.
	ModTime time.Time `json:"mod_time" yaml:"mod_time"`
	// Open returns the raw source stream for this entry.
	Open func() (io.ReadCloser, error) `json:"-" yaml:"-"`
	// Path is the destination name inside the archive.
	Path string `json:"path" yaml:"path"`
	// Size is the expected raw size in bytes (zero when unknown).
	Size int64 `json:"size,omitempty" yaml:"size,omitempty"`
}

// PackEntryProgress contains one completed entry write event from the pack flow.
type PackEntryProgress struct {
	// Name is the entry name written to the archive.
	Name string `json:"name" yaml:"name"`
	// Offset is the payload offset in the resulting archive.
	Offset uint64 `json:"offset" yaml:"offset"`
	// StoredSize is the stored payload size in bytes.
	StoredSize uint64 `json:"stored_size" yaml:"stored_size"`
	// RawSize is the uncompressed payload size in bytes.
	RawSize uint64 `json:"raw_size" yaml:"raw_size"`
	// Reused reports whether stored bytes were copied from the source archive.
	Reused bool `json:"reused,omitempty" yaml:"reused,omitempty"`
	// CompressionCandidate reports whether the compression path was selected.
	CompressionCandidate bool `json:"compression_candidate,omitempty" yaml:"compression_candidate,omitempty"`
	// Compressed reports whether a compressed payload was actually written.
	Compressed bool `json:"compressed,omitempty" yaml:"compressed,omitempty"`
}

// PackOptions configures archive build behavior.
type PackOptions struct {
	// OnEntryDone is called after one entry is fully written to the payload region.
	OnEntryDone func(entry PackEntryProgress) `json:"-" yaml:"-"`
	// Compress defines ordered path rules for compression candidate selection.
	// An empty rule set compresses every entry the size window allows.
	Compress []pathrules.Rule `json:"compress,omitempty" yaml:"compress,omitempty"`
	// CompressMatcherOptions control compression path rule matching.
	CompressMatcherOptions pathrules.MatcherOptions `json:"compress_matcher_options,omitzero" yaml:"compress_matcher_options,omitzero"`
	// SkipCompression stores every entry raw for the whole pack invocation.
	SkipCompression bool `json:"skip_compression,omitempty" yaml:"skip_compression,omitempty"`
	// Workers bounds parallel compression (zero means GOMAXPROCS).
	Workers int `json:"workers,omitempty" yaml:"workers,omitempty"`
	// WriterBufferSize is buffered writer size in bytes.
	WriterBufferSize int `json:"writer_buffer_size,omitempty" yaml:"writer_buffer_size,omitempty"`
	// MinCompressSize disables compression for entries smaller than this size.
	MinCompressSize uint32 `json:"min_compress_size,omitempty" yaml:"min_compress_size,omitempty"`
	// MaxCompressSize disables compression for entries larger than this size
	// and bounds the in-memory compression buffers.
	MaxCompressSize uint32 `json:"max_compress_size,omitempty" yaml:"max_compress_size,omitempty"`
}

// PackResult contains pack output statistics.
type PackResult struct {
	// WrittenEntries is the number of entries written to the archive.
	WrittenEntries int `json:"written_entries" yaml:"written_entries"`
	// ReusedEntries is the number of entries copied verbatim from the source archive.
	ReusedEntries int `json:"reused_entries,omitempty" yaml:"reused_entries,omitempty"`
	// RecompressedEntries is the number of entries read back from disk.
	RecompressedEntries int `json:"recompressed_entries,omitempty" yaml:"recompressed_entries,omitempty"`
	// DataSize is total payload bytes written, including alignment padding.
	DataSize int64 `json:"data_size" yaml:"data_size"`
	// TableSize is total entry table bytes written.
	TableSize int64 `json:"table_size" yaml:"table_size"`
	// PaddingBytes is total alignment padding written into the payload region.
	PaddingBytes int64 `json:"padding_bytes,omitempty" yaml:"padding_bytes,omitempty"`
	// RawBytes is total bytes written for uncompressed payload entries.
	RawBytes int64 `json:"raw_bytes,omitempty" yaml:"raw_bytes,omitempty"`
	// CompressedBytes is total bytes written for compressed payload entries.
	CompressedBytes int64 `json:"compressed_bytes,omitempty" yaml:"compressed_bytes,omitempty"`
	// CompressedEntries is the number of entries written with compressed payload.
	CompressedEntries int `json:"compressed_entries,omitempty" yaml:"compressed_entries,omitempty"`
	// SkippedCompressionEntries is the number of candidates stored raw anyway.
	SkippedCompressionEntries int `json:"skipped_compression_entries,omitempty" yaml:"skipped_compression_entries,omitempty"`
	// Duration is end-to-end build duration.
	Duration time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`
}

// ReaderOptions configures reader parse behavior.
type ReaderOptions struct {
	// Profile forces a specific profile identifier and skips auto-detection.
	// A forced profile tolerates implausible headers and table checksum
	// mismatches, so damaged archives stay openable.
	Profile string `json:"profile,omitempty" yaml:"profile,omitempty"`
	// SkipChecksumVerify disables entry table checksum validation on open.
	SkipChecksumVerify bool `json:"skip_checksum_verify,omitempty" yaml:"skip_checksum_verify,omitempty"`
	// DropInvalidEntries drops malformed entries from the visible entry list
	// instead of failing the whole parse.
	DropInvalidEntries bool `json:"drop_invalid_entries,omitempty" yaml:"drop_invalid_entries,omitempty"`
}

// ExtractOptions configures Extract behavior.
type ExtractOptions struct {
	// OnEntryDone is called after one entry is fully written to disk.
	OnEntryDone func(entry Entry, written int64, outputPath string) `json:"-" yaml:"-"`
	// FileMode controls output file creation policy.
	FileMode ExtractFileMode `json:"file_mode,omitempty" yaml:"file_mode,omitempty"`
	// Entries limits extraction to a selected metadata list; nil means all entries.
	Entries []Entry `json:"-" yaml:"-"`
	// Prefix limits extraction to entries under a name prefix.
	Prefix string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	// MaxWorkers is the number of extraction workers (zero means GOMAXPROCS).
	MaxWorkers int `json:"max_workers,omitempty" yaml:"max_workers,omitempty"`
	// RawNames disables default path sanitization during extract.
	// When false (default), extract rewrites names to filesystem-safe output paths.
	RawNames bool `json:"raw_names,omitempty" yaml:"raw_names,omitempty"`
	// SkipManifest disables writing the manifest side-file after extraction.
	SkipManifest bool `json:"skip_manifest,omitempty" yaml:"skip_manifest,omitempty"`
}

// ExtractFileMode controls output file open behavior during extraction.
type ExtractFileMode string

// Output file creation policies for extraction.
const (
	// ExtractFileModeAuto first tries create-only, then falls back to truncate for existing files.
	ExtractFileModeAuto ExtractFileMode = "auto"
	// ExtractFileModeOverwriteSmart rewrites files in place and truncates only when the existing file is larger.
	ExtractFileModeOverwriteSmart ExtractFileMode = "overwrite_smart"
	// ExtractFileModeTruncate opens existing files with truncate and creates missing files.
	ExtractFileModeTruncate ExtractFileMode = "truncate"
	// ExtractFileModeCreateOnly creates files only when absent and fails on existing files.
	ExtractFileModeCreateOnly ExtractFileMode = "create_only"
)

// PlanOptions configures diff decision computation.
type PlanOptions struct {
	// ForceAll recompresses every file regardless of fingerprints.
	ForceAll bool `json:"force_all,omitempty" yaml:"force_all,omitempty"`
	// TrustModTime reuses entries on size+mtime match without hashing content.
	TrustModTime bool `json:"trust_mod_time,omitempty" yaml:"trust_mod_time,omitempty"`
	// Workers bounds parallel fingerprint computation (zero means GOMAXPROCS).
	Workers int `json:"workers,omitempty" yaml:"workers,omitempty"`
}

// PackDirOptions configures the directory pack flow.
type PackDirOptions struct {
	// Profile selects the output profile identifier. Empty means take the
	// profile of the archive being replaced.
	Profile string `json:"profile,omitempty" yaml:"profile,omitempty"`
	// PackOptions are applied to the archive build.
	PackOptions PackOptions `json:"pack_options,omitzero" yaml:"pack_options,omitzero"`
	// PlanOptions control diff decisions against the prior manifest.
	PlanOptions PlanOptions `json:"plan_options,omitzero" yaml:"plan_options,omitzero"`
	// SkipManifest disables writing a fresh manifest after a successful pack.
	SkipManifest bool `json:"skip_manifest,omitempty" yaml:"skip_manifest,omitempty"`
	// BackupKeep controls how many backup generations of the replaced archive
	// are kept. 0 removes the backup, 1 keeps `<archive>.bak`, N keeps
	// `.bak` plus `.bak.1..N-1`.
	BackupKeep int `json:"backup_keep,omitempty" yaml:"backup_keep,omitempty"`
}

// applyDefaults fills zero-valued pack options with defaults.
func (opts *PackOptions) applyDefaults() {
	if opts.WriterBufferSize < 4096 {
		opts.WriterBufferSize = DefaultWriteBuffer
	}

	if opts.MinCompressSize == 0 {
		opts.MinCompressSize = DefaultMinCompressSize
	}

	if opts.MaxCompressSize == 0 || opts.MaxCompressSize <= opts.MinCompressSize {
		opts.MaxCompressSize = DefaultMaxCompressSize
	}

	if opts.CompressMatcherOptions == (pathrules.MatcherOptions{}) {
		opts.CompressMatcherOptions = pathrules.MatcherOptions{
			CaseInsensitive: true,
			DefaultAction:   pathrules.ActionInclude,
		}
	}

	if opts.CompressMatcherOptions.DefaultAction == pathrules.ActionUnknown {
		opts.CompressMatcherOptions.DefaultAction = pathrules.ActionInclude
	}
}

// applyDefaults fills zero-valued pack directory options with defaults.
func (opts *PackDirOptions) applyDefaults() {
	opts.PackOptions.applyDefaults()

	if opts.BackupKeep < 0 {
		opts.BackupKeep = 0
	}
}
