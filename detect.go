// SPDX-License-Identifier: MIT
// Copyright (c) 2026 ObscureTools
// Source: github.com/obscuretools/hvp

package hvp

import "fmt"

// DetectPeekSize is the number of leading archive bytes Detect needs.
// It covers the largest header of all known profiles.
const DetectPeekSize = 32

// Detect identifies the archive profile from leading archive bytes.
//
// Candidate profiles are tried in a fixed priority order and the first
// structurally consistent one wins, so detection is deterministic even for
// profiles that share an identical header encoding. totalSize is the full
// archive size in bytes and is used to reject headers whose entry table or
// payload region would fall outside the file.
func Detect(leading []byte, totalSize int64) (*GameProfile, error) {
	profile, _, err := detectProfile(leading, totalSize)
	return profile, err
}

// detectProfile runs profile detection and returns the decoded header of the
// winning profile alongside it.
func detectProfile(leading []byte, totalSize int64) (*GameProfile, headerInfo, error) {
	for _, p := range registry {
		if len(leading) < p.header.size {
			continue
		}

		if !p.hasMagic(leading) {
			continue
		}

		h, err := p.decodeHeader(leading[:p.header.size])
		if err != nil {
			continue
		}

		if !headerConsistent(p, h, totalSize) {
			continue
		}

		return p, h, nil
	}

	return nil, headerInfo{}, fmt.Errorf("%w: no known archive profile matches header", ErrUnrecognizedFormat)
}

// headerConsistent reports whether a decoded header is structurally plausible
// for auto-detection. Forced-profile opens skip these checks on purpose so
// damaged archives stay reachable.
func headerConsistent(p *GameProfile, h headerInfo, totalSize int64) bool {
	if totalSize < int64(p.header.size) {
		return false
	}

	if p.header.major.present() && h.major != obscure1Major {
		return false
	}

	// Misread byte orders produce huge reserved words and entry counts, so
	// sibling profiles sharing a magic value disambiguate here.
	if p.header.reserved.present() && h.reserved != 0 {
		return false
	}

	if h.count == 0 {
		return false
	}

	if h.tableOff < int64(p.header.size) {
		return false
	}

	tableEnd := h.tableEnd(p)
	if tableEnd > totalSize {
		return false
	}

	if h.dataOff < tableEnd || h.dataOff > totalSize {
		return false
	}

	return true
}
