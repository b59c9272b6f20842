// SPDX-License-Identifier: MIT
// Copyright (c) 2026 ObscureTools
// Source: github.com/obscuretools/hvp

package hvp

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"
)

// manifestVersion is the manifest schema version this build writes. Loading
// refuses manifests written by a newer schema.
const manifestVersion = 1

// Fingerprint identifies the file content that produced one archive entry.
type Fingerprint struct {
	// ModTime is the source file modification time at fingerprint time.
	ModTime time.Time `json:"mod_time"`
	// Size is the raw content size in bytes.
	Size int64 `json:"size"`
	// CRC32 is the IEEE CRC32 of the raw content.
	CRC32 uint32 `json:"crc32"`
}

// Equal reports whether two fingerprints describe the same content.
// Modification time is deliberately excluded: it participates only in the
// opt-in fast path that skips hashing altogether.
func (f Fingerprint) Equal(other Fingerprint) bool {
	return f.Size == other.Size && f.CRC32 == other.CRC32
}

// Manifest records which content each archive entry was built from, so a
// later pack of the same directory can reuse unchanged stored payloads
// without decompressing the archive.
type Manifest struct {
	// CreatedAt is the manifest write time.
	CreatedAt time.Time `json:"created_at"`
	// Entries maps canonical entry names to content fingerprints.
	Entries map[string]Fingerprint `json:"entries"`
	// Profile is the archive profile identifier the entries were packed for.
	Profile string `json:"profile"`
	// Archive is the base name of the archive this manifest mirrors.
	Archive string `json:"archive,omitempty"`
	// Version is the manifest schema version.
	Version int `json:"version"`
}

// NewManifest returns an empty manifest for the given profile identifier.
func NewManifest(profile string) *Manifest {
	return &Manifest{
		Version: manifestVersion,
		Profile: profile,
		Entries: make(map[string]Fingerprint),
	}
}

// Lookup resolves a fingerprint by entry name, case-insensitively.
func (m *Manifest) Lookup(name string) (Fingerprint, bool) {
	if m == nil || len(m.Entries) == 0 {
		return Fingerprint{}, false
	}

	if f, ok := m.Entries[name]; ok {
		return f, true
	}

	key := entryNameKey(name)
	for k, f := range m.Entries {
		if entryNameKey(k) == key {
			return f, true
		}
	}

	return Fingerprint{}, false
}

// Set records a fingerprint under the canonical form of name.
func (m *Manifest) Set(name string, f Fingerprint) {
	if m.Entries == nil {
		m.Entries = make(map[string]Fingerprint)
	}

	m.Entries[NormalizePath(name)] = f
}

// BuildManifest fingerprints the raw content of every entry and returns the
// manifest an extraction of this archive would produce. Writing it next to an
// already-unpacked directory seeds incremental repacks without re-extracting.
func (r *Reader) BuildManifest(ctx context.Context) (*Manifest, error) {
	if err := r.checkClosed(); err != nil {
		return nil, err
	}

	if ctx == nil {
		ctx = context.Background()
	}

	fps := make([]Fingerprint, len(r.entries))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for i := range r.entries {
		i := i
		e := r.entries[i]

		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			rc, err := r.openEntryByMeta(&e, e.Name)
			if err != nil {
				return err
			}
			defer func() { _ = rc.Close() }()

			h := crc32.NewIEEE()
			n, err := io.Copy(h, rc)
			if err != nil {
				return fmt.Errorf("entry %s: read content: %w", e.Name, err)
			}

			fps[i] = Fingerprint{Size: n, CRC32: h.Sum32()}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	m := NewManifest(r.profile.ID)
	if r.file != nil {
		m.Archive = filepath.Base(r.file.Name())
	}
	for i := range r.entries {
		m.Set(r.entries[i].Name, fps[i])
	}

	return m, nil
}

// LoadManifest reads the manifest side-file from dir. A missing file is not
// an error and yields a nil manifest; a malformed or newer-versioned file
// fails with ErrManifestFormat.
func LoadManifest(dir string) (*Manifest, error) {
	path := filepath.Join(dir, ManifestFileName)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrManifestFormat, path, err)
	}

	if m.Version < 1 || m.Version > manifestVersion {
		return nil, fmt.Errorf("%w: %s: version %d is not supported (max %d)",
			ErrManifestFormat, path, m.Version, manifestVersion)
	}

	return &m, nil
}

// WriteFile writes the manifest side-file into dir through a temp file, so a
// failed write never leaves a truncated manifest behind.
func (m *Manifest) WriteFile(dir string) error {
	m.Version = manifestVersion
	m.CreatedAt = time.Now().UTC()

	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	raw = append(raw, '\n')

	tmp, err := os.CreateTemp(dir, ".hvp-manifest-*")
	if err != nil {
		return fmt.Errorf("create temp manifest: %w", err)
	}

	tmpPath := tmp.Name()
	defer func() {
		if tmp != nil {
			_ = tmp.Close()
		}
		if tmpPath != "" {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(raw); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync manifest: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close manifest: %w", err)
	}
	tmp = nil

	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return fmt.Errorf("chmod manifest: %w", err)
	}

	if err := os.Rename(tmpPath, filepath.Join(dir, ManifestFileName)); err != nil {
		return fmt.Errorf("replace manifest: %w", err)
	}
	tmpPath = ""

	return nil
}
