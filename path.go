// SPDX-License-Identifier: MIT
// Copyright (c) 2026 ObscureTools
// Source: github.com/obscuretools/hvp

package hvp

import (
	"fmt"
	"path"
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// NormalizePath converts an archive/internal name to normalized slash-separated form.
// It trims spaces, accepts both "/" and "\", removes leading "./" and "/", and cleans "." segments.
func NormalizePath(raw string) string {
	raw = normalizePathForMatching(raw)
	raw = strings.TrimPrefix(raw, "/")
	raw = path.Clean("/" + raw)
	raw = strings.TrimPrefix(raw, "/")
	if raw == "." {
		return ""
	}

	return strings.TrimSuffix(raw, "/")
}

// normalizePathForMatching normalizes user/input paths for matcher use.
func normalizePathForMatching(path string) string {
	path = strings.TrimSpace(path)
	path = strings.ReplaceAll(path, `\`, `/`)
	path = strings.TrimPrefix(path, "./")
	return path
}

// normalizeEntryName converts an input name to the canonical in-memory form.
func normalizeEntryName(raw string) (string, error) {
	normalized := NormalizePath(raw)
	if normalized == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidEntryName, raw)
	}

	return normalized, nil
}

// entryNameKey returns the case-insensitive comparison key for an entry name.
// The on-disk format comes from case-insensitive filesystems, so names that
// differ only in case address the same entry.
func entryNameKey(name string) string {
	return strings.ToLower(NormalizePath(name))
}

// encodeEntryName converts a canonical name to its wire form: backslash
// separators, windows-1250 bytes. The titles shipped French asset names, so
// bytes above 0x7F are expected and must round-trip exactly.
func encodeEntryName(name string) ([]byte, error) {
	normalized, err := normalizeEntryName(name)
	if err != nil {
		return nil, err
	}

	wire := strings.ReplaceAll(normalized, "/", `\`)
	if isASCII(wire) {
		return []byte(wire), nil
	}

	encoded, err := charmap.Windows1250.NewEncoder().Bytes([]byte(wire))
	if err != nil {
		return nil, fmt.Errorf("%w: %q is not representable in windows-1250: %w", ErrInvalidEntryName, name, err)
	}

	return encoded, nil
}

// decodeEntryName converts wire name bytes to the canonical slash form.
func decodeEntryName(wire []byte) (string, error) {
	raw := wire
	if !isASCIIBytes(wire) {
		decoded, err := charmap.Windows1250.NewDecoder().Bytes(wire)
		if err != nil {
			return "", fmt.Errorf("decode windows-1250 name: %w", err)
		}

		raw = decoded
	}

	name := strings.ReplaceAll(string(raw), `\`, "/")
	normalized := NormalizePath(name)
	if normalized == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidEntryName, string(raw))
	}

	return normalized, nil
}

// isASCII reports whether s contains only ASCII bytes.
func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}

	return true
}

// isASCIIBytes reports whether b contains only ASCII bytes.
func isASCIIBytes(b []byte) bool {
	for _, c := range b {
		if c >= 0x80 {
			return false
		}
	}

	return true
}
