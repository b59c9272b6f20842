// SPDX-License-Identifier: MIT
// Copyright (c) 2026 ObscureTools
// Source: github.com/obscuretools/hvp

package hvp

import (
	"bytes"
	"errors"
	"testing"

	"github.com/woozymasta/pathrules"
)

func TestZlibPayloadRoundTrip(t *testing.T) {
	t.Parallel()

	raw := compressiblePayload(10000)

	stored, err := compressPayload(SchemeZlib, raw)
	if err != nil {
		t.Fatalf("compressPayload: %v", err)
	}
	if len(stored) >= len(raw) {
		t.Fatalf("repetitive payload did not shrink: %d >= %d", len(stored), len(raw))
	}

	got, err := decompressPayload(SchemeZlib, stored, len(raw))
	if err != nil {
		t.Fatalf("decompressPayload: %v", err)
	}
	if !bytes.Equal(got, raw) {
		t.Fatal("zlib round trip mismatch")
	}
}

func TestZlibPayloadCorruption(t *testing.T) {
	t.Parallel()

	raw := compressiblePayload(4000)
	stored, err := compressPayload(SchemeZlib, raw)
	if err != nil {
		t.Fatalf("compressPayload: %v", err)
	}

	t.Run("stream longer than declared size", func(t *testing.T) {
		t.Parallel()

		if _, err := decompressPayload(SchemeZlib, stored, len(raw)-1); !errors.Is(err, ErrCorruptData) {
			t.Fatalf("expected ErrCorruptData, got %v", err)
		}
	})

	t.Run("truncated stream", func(t *testing.T) {
		t.Parallel()

		if _, err := decompressPayload(SchemeZlib, stored[:len(stored)/2], len(raw)); !errors.Is(err, ErrCorruptData) {
			t.Fatalf("expected ErrCorruptData, got %v", err)
		}
	})

	t.Run("garbage header", func(t *testing.T) {
		t.Parallel()

		junk := []byte("definitely not a zlib stream")
		if _, err := decompressPayload(SchemeZlib, junk, 100); !errors.Is(err, ErrCorruptData) {
			t.Fatalf("expected ErrCorruptData, got %v", err)
		}
	})
}

func TestLZOPayloadRoundTrip(t *testing.T) {
	t.Parallel()

	raw := compressiblePayload(10000)

	stored, err := compressPayload(SchemeLZO, raw)
	if err != nil {
		t.Fatalf("compressPayload: %v", err)
	}
	if len(stored) >= len(raw) {
		t.Fatalf("repetitive payload did not shrink: %d >= %d", len(stored), len(raw))
	}

	got, err := decompressPayload(SchemeLZO, stored, len(raw))
	if err != nil {
		t.Fatalf("decompressPayload: %v", err)
	}
	if !bytes.Equal(got, raw) {
		t.Fatal("lzo round trip mismatch")
	}

	if _, err := decompressPayload(SchemeLZO, stored[:len(stored)/2], len(raw)); !errors.Is(err, ErrCorruptData) {
		t.Fatalf("truncated stream: expected ErrCorruptData, got %v", err)
	}
}

func TestStorePayloadExactSize(t *testing.T) {
	t.Parallel()

	data := []byte("already raw")

	got, err := decompressPayload(SchemeStore, data, len(data))
	if err != nil {
		t.Fatalf("decompressPayload: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("store scheme must hand data back unchanged")
	}

	if _, err := decompressPayload(SchemeStore, data, len(data)+1); !errors.Is(err, ErrCorruptData) {
		t.Fatalf("size mismatch: expected ErrCorruptData, got %v", err)
	}
}

func TestCompressMatcher(t *testing.T) {
	t.Parallel()

	t.Run("nil matcher accepts everything", func(t *testing.T) {
		t.Parallel()

		var m *compressMatcher
		if !m.Match("any/path.bin") {
			t.Fatal("nil matcher must match")
		}
	})

	t.Run("empty rule set compiles to nil", func(t *testing.T) {
		t.Parallel()

		m, err := newCompressMatcher(nil, pathrules.MatcherOptions{})
		if err != nil {
			t.Fatalf("newCompressMatcher: %v", err)
		}
		if m != nil {
			t.Fatal("expected nil matcher for an empty rule set")
		}

		m, err = newCompressMatcher([]pathrules.Rule{{Pattern: "   "}}, pathrules.MatcherOptions{})
		if err != nil {
			t.Fatalf("newCompressMatcher: %v", err)
		}
		if m != nil {
			t.Fatal("expected nil matcher for blank-only rules")
		}
	})

	t.Run("include rules with default exclude", func(t *testing.T) {
		t.Parallel()

		m, err := newCompressMatcher(
			[]pathrules.Rule{{Action: pathrules.ActionInclude, Pattern: "sounds/**/*.wav"}},
			pathrules.MatcherOptions{CaseInsensitive: true, DefaultAction: pathrules.ActionExclude},
		)
		if err != nil {
			t.Fatalf("newCompressMatcher: %v", err)
		}

		if !m.Match(`Sounds\Ambient\WIND.WAV`) {
			t.Fatal("backslash name with odd case must match after normalization")
		}
		if m.Match("textures/wall.dds") {
			t.Fatal("path outside the include rules must not match")
		}
	})

	t.Run("invalid rule action", func(t *testing.T) {
		t.Parallel()

		_, err := newCompressMatcher(
			[]pathrules.Rule{{Action: pathrules.ActionUnknown, Pattern: "*.wav"}},
			pathrules.MatcherOptions{DefaultAction: pathrules.ActionExclude},
		)
		if !errors.Is(err, ErrInvalidCompressPattern) {
			t.Fatalf("expected ErrInvalidCompressPattern, got %v", err)
		}
	})
}

func TestShouldCompressEntry(t *testing.T) {
	t.Parallel()

	opts := PackOptions{MinCompressSize: 100, MaxCompressSize: 1000}
	opts.applyDefaults()

	matcher, err := newCompressMatcher(
		[]pathrules.Rule{{Action: pathrules.ActionInclude, Pattern: "*.txt"}},
		pathrules.MatcherOptions{CaseInsensitive: true, DefaultAction: pathrules.ActionExclude},
	)
	if err != nil {
		t.Fatalf("newCompressMatcher: %v", err)
	}

	testCases := []struct {
		name   string
		opts   PackOptions
		scheme CompressionScheme
		entry  string
		size   int64
		want   bool
	}{
		{"within window", opts, SchemeZlib, "a.txt", 500, true},
		{"skip all", PackOptions{SkipCompression: true, MinCompressSize: 100, MaxCompressSize: 1000}, SchemeZlib, "a.txt", 500, false},
		{"store-only profile", opts, SchemeStore, "a.txt", 500, false},
		{"empty entry", opts, SchemeZlib, "a.txt", 0, false},
		{"below floor", opts, SchemeZlib, "a.txt", 99, false},
		{"above ceiling", opts, SchemeZlib, "a.txt", 1001, false},
		{"outside path rules", opts, SchemeZlib, "a.bin", 500, false},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := shouldCompressEntry(tc.opts, matcher, tc.scheme, tc.entry, tc.size); got != tc.want {
				t.Fatalf("shouldCompressEntry = %v, want %v", got, tc.want)
			}
		})
	}
}
