// SPDX-License-Identifier: MIT
// Copyright (c) 2026 ObscureTools
// Source: github.com/obscuretools/hvp

package hvp

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zlib"
	lzo "github.com/rasky/go-lzo"
	"github.com/woozymasta/pathrules"
)

// CompressionScheme identifies the block compression applied to flagged entries.
type CompressionScheme string

// Known compression schemes per title family.
const (
	// SchemeZlib is deflate-in-zlib at best compression (Obscure 1 family).
	SchemeZlib CompressionScheme = "zlib"
	// SchemeLZO is LZO1X with 999-level compression (Obscure II, Final Exam).
	SchemeLZO CompressionScheme = "lzo1x"
	// SchemeStore is raw passthrough without compression.
	SchemeStore CompressionScheme = "store"
)

var (
	// zlibWriterPool reuses best-compression zlib encoders between payloads.
	zlibWriterPool = sync.Pool{
		New: func() any {
			w, err := zlib.NewWriterLevel(io.Discard, zlib.BestCompression)
			if err != nil {
				panic(err)
			}

			return w
		},
	}
)

// compressPayload compresses raw bytes with the given scheme.
// SchemeStore returns the input unchanged.
func compressPayload(scheme CompressionScheme, raw []byte) ([]byte, error) {
	switch scheme {
	case SchemeZlib:
		return compressZlib(raw)
	case SchemeLZO:
		return lzo.Compress1X999(raw), nil
	case SchemeStore:
		return raw, nil
	default:
		return nil, fmt.Errorf("unknown compression scheme %q", scheme)
	}
}

// decompressPayload decompresses stored bytes and enforces the expected raw
// size. Malformed streams and length mismatches fail with ErrCorruptData.
func decompressPayload(scheme CompressionScheme, stored []byte, rawSize int) ([]byte, error) {
	switch scheme {
	case SchemeZlib:
		return decompressZlib(stored, rawSize)
	case SchemeLZO:
		return decompressLZO(stored, rawSize)
	case SchemeStore:
		if len(stored) != rawSize {
			return nil, fmt.Errorf("%w: stored payload is %d bytes, expected %d", ErrCorruptData, len(stored), rawSize)
		}

		return stored, nil
	default:
		return nil, fmt.Errorf("unknown compression scheme %q", scheme)
	}
}

// compressZlib compresses raw with a pooled best-compression zlib encoder.
func compressZlib(raw []byte) ([]byte, error) {
	zw := zlibWriterPool.Get().(*zlib.Writer) //nolint:forcetypeassert // pool contains only *zlib.Writer
	defer func() {
		zw.Reset(io.Discard)
		zlibWriterPool.Put(zw)
	}()

	var out bytes.Buffer
	out.Grow(len(raw)/2 + 64)
	zw.Reset(&out)

	if _, err := zw.Write(raw); err != nil {
		return nil, fmt.Errorf("zlib compress: %w", err)
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("zlib compress: %w", err)
	}

	return out.Bytes(), nil
}

// decompressZlib inflates stored bytes and verifies the exact raw length.
func decompressZlib(stored []byte, rawSize int) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(stored))
	if err != nil {
		return nil, fmt.Errorf("%w: zlib stream: %w", ErrCorruptData, err)
	}
	defer func() { _ = zr.Close() }()

	out := make([]byte, rawSize)
	if _, err := io.ReadFull(zr, out); err != nil {
		return nil, fmt.Errorf("%w: zlib payload shorter than declared: %w", ErrCorruptData, err)
	}

	// The stream must end exactly at the declared raw size; a trailing read
	// also forces the decoder to verify the adler32 checksum.
	var probe [1]byte
	n, err := zr.Read(probe[:])
	if n > 0 {
		return nil, fmt.Errorf("%w: zlib payload longer than declared %d bytes", ErrCorruptData, rawSize)
	}
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("%w: zlib stream: %w", ErrCorruptData, err)
	}

	return out, nil
}

// decompressLZO decodes an LZO1X block and verifies the exact raw length.
func decompressLZO(stored []byte, rawSize int) ([]byte, error) {
	out, err := lzo.Decompress1X(bytes.NewReader(stored), len(stored), rawSize)
	if err != nil {
		return nil, fmt.Errorf("%w: lzo1x stream: %w", ErrCorruptData, err)
	}

	if len(out) != rawSize {
		return nil, fmt.Errorf("%w: lzo1x payload is %d bytes, expected %d", ErrCorruptData, len(out), rawSize)
	}

	return out, nil
}

// compressMatcher holds compiled path rules selecting compression candidates.
type compressMatcher struct {
	matcher *pathrules.Matcher
}

// newCompressMatcher compiles compression path rules.
// A nil matcher means every entry is a candidate.
func newCompressMatcher(rules []pathrules.Rule, opts pathrules.MatcherOptions) (*compressMatcher, error) {
	rules = normalizeCompressRules(rules)
	if len(rules) == 0 {
		return nil, nil
	}

	matcher, err := pathrules.NewMatcher(rules, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: compile rules: %w", ErrInvalidCompressPattern, err)
	}

	return &compressMatcher{matcher: matcher}, nil
}

// normalizeCompressRules normalizes rule patterns and drops empty patterns.
func normalizeCompressRules(rules []pathrules.Rule) []pathrules.Rule {
	normalized := make([]pathrules.Rule, 0, len(rules))
	for _, rule := range rules {
		pattern := normalizePathForMatching(rule.Pattern)
		if pattern == "" {
			continue
		}

		normalized = append(normalized, pathrules.Rule{
			Action:  rule.Action,
			Pattern: pattern,
		})
	}

	return normalized
}

// Match reports whether name is a compression candidate under the rules.
func (m *compressMatcher) Match(name string) bool {
	if m == nil || m.matcher == nil {
		return true
	}

	candidate := NormalizePath(name)
	if candidate == "" {
		return false
	}

	return m.matcher.Included(candidate, false)
}

// shouldCompressEntry reports whether one entry enters the compression path.
// Empty payloads and entries outside the size window are stored raw.
func shouldCompressEntry(opts PackOptions, matcher *compressMatcher, scheme CompressionScheme, name string, size int64) bool {
	if opts.SkipCompression || scheme == SchemeStore {
		return false
	}

	if size <= 0 {
		return false
	}

	if size < int64(opts.MinCompressSize) || size > int64(opts.MaxCompressSize) {
		return false
	}

	return matcher.Match(name)
}
