// SPDX-License-Identifier: MIT
// Copyright (c) 2026 ObscureTools
// Source: github.com/obscuretools/hvp

/*
Package hvp provides read, extract, diff, and pack operations for HVP game
archives, covering the Obscure, Obscure II and Final Exam container variants
across their PC and console releases. It is designed for streaming workflows:
packing accepts caller-provided streams (Input.Open), and reading/extracting
works without loading full archive payload into memory.

Each (game, platform) combination is described by a GameProfile: byte order,
payload alignment, compression scheme and the exact header and entry record
layout. Profiles are auto-detected on open and can be forced for damaged
archives.

Compression rules (summary):
  - path decision must include entry via PackOptions.Compress rules
    (an empty rule set includes everything);
  - raw entry size must be within [MinCompressSize, MaxCompressSize];
  - entries compress with the profile scheme (zlib or LZO1X);
  - compression is written only when the result is smaller than the source.

# Reading

Open an archive and list or read entries:

	r, err := hvp.Open("data.hvp")
	if err != nil {
	    return err
	}
	defer r.Close()
	for _, e := range r.Entries() {
	    data, _ := r.ReadEntry(e.Name)
	    // use data
	}

Entry names are canonical slash-separated strings and match
case-insensitively. For metadata-only scans, use the fast helpers:

	profile, err := hvp.DetectFile("data.hvp")
	if err != nil {
	    return err
	}
	entries, err := hvp.ListEntries("data.hvp")
	if err != nil {
	    return err
	}
	_, _ = profile, entries

Damaged archives whose auto-detection or table checksum fails can still be
opened by forcing a profile:

	r, err := hvp.OpenWithOptions("data.hvp", hvp.ReaderOptions{
	    Profile:            "obscure2-ps2",
	    DropInvalidEntries: true,
	})
	if err != nil {
	    return err
	}
	defer r.Close()
	if !r.TableChecksumOK() {
	    // table checksum did not match; entries parsed anyway
	}

# Extracting

Extract decompresses entries to a directory in parallel and records a
manifest of the extracted content:

	err := r.Extract(ctx, "unpacked/", hvp.ExtractOptions{
	    MaxWorkers: 8,
	    Prefix:     "textures",
	})

The manifest ties extracted files to the archive entries they came from, so
a later pack of the same directory only recompresses what changed.

# Packing

PackDirectory rebuilds an archive from a directory, reusing stored payloads
of unchanged entries from the archive being replaced:

	res, err := hvp.PackDirectory(ctx, "unpacked/", "data.hvp", hvp.PackDirOptions{
	    BackupKeep: 1,
	})

The directory is authoritative: files absent from it drop out of the
archive, new files are appended sorted by name, and retained entries keep
their archive order. For full control, compute the plan and build manually:

	files, _ := hvp.ListDir("unpacked/")
	prior, _ := hvp.LoadManifest("unpacked/")
	plan, err := hvp.ComputePlan(ctx, files, src, prior, hvp.PlanOptions{ForceAll: true})
	if err != nil {
	    return err
	}
	profile, _ := hvp.LookupProfile("obscure1-pc")
	res, err := hvp.BuildFile(ctx, "data.hvp", profile, plan, src, hvp.PackOptions{})

Builds are deterministic: the same plan against the same content produces a
byte-identical archive.

# Verification

Entry payloads carry a word-sum checksum in the table; the table itself
carries a CRC32 validated on open. VerifyChecksums re-reads all stored
payloads and checks them without extracting:

	if err := r.VerifyChecksums(ctx); err != nil {
	    // first damaged entry
	}
*/
package hvp
