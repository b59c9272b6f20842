// SPDX-License-Identifier: MIT
// Copyright (c) 2026 ObscureTools
// Source: github.com/obscuretools/hvp

package hvp

import "strings"

// EntriesUnder returns a copy of all entries whose name equals prefix or
// lives under it as a directory, case-insensitively. An empty prefix selects
// every entry.
func (r *Reader) EntriesUnder(prefix string) []Entry {
	if r == nil {
		return nil
	}

	filtered := filterEntriesByPrefix(r.entries, prefix)
	out := make([]Entry, len(filtered))
	copy(out, filtered)
	return out
}

// filterEntriesByPrefix keeps entries under prefix (or exact match if it
// points to a file).
func filterEntriesByPrefix(entries []Entry, prefix string) []Entry {
	prefixKey := entryNameKey(prefix)
	if prefixKey == "" {
		return entries
	}

	prefixWithSlash := prefixKey + "/"
	out := make([]Entry, 0, len(entries))
	for _, entry := range entries {
		key := entryNameKey(entry.Name)
		if key == prefixKey || strings.HasPrefix(key, prefixWithSlash) {
			out = append(out, entry)
		}
	}

	return out
}
