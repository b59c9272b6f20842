// SPDX-License-Identifier: MIT
// Copyright (c) 2026 ObscureTools
// Source: github.com/obscuretools/hvp

package hvp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// ListDir walks dir and returns pack inputs for every regular file, with
// slash-separated paths relative to dir. Manifest side-files are skipped.
func ListDir(dir string) ([]Input, error) {
	var files []Input

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		if d.Name() == ManifestFileName {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		files = append(files, Input{
			Path:    filepath.ToSlash(rel),
			Size:    info.Size(),
			ModTime: info.ModTime(),
			Open:    func() (io.ReadCloser, error) { return os.Open(path) },
		})

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Path < files[j].Path
	})

	return files, nil
}

// PackDirectory packs the content of dir into archivePath, reusing stored
// payloads of unchanged entries from the archive being replaced.
//
// The output profile comes from opts.Profile, else from the existing archive,
// else from the directory manifest. An unreadable existing archive is treated
// as absent and triggers a full rebuild. When BackupKeep is positive the
// replaced archive is rotated into `<archive>.bak` generations and restored
// if the build fails.
func PackDirectory(ctx context.Context, dir string, archivePath string, opts PackDirOptions) (*PackResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	opts.applyDefaults()

	files, err := ListDir(dir)
	if err != nil {
		return nil, err
	}

	prior, err := LoadManifest(dir)
	if err != nil {
		return nil, err
	}

	existing, existingErr := openExistingArchive(archivePath)
	if existing != nil {
		defer func() { _ = existing.Close() }()
	}

	profile, err := resolvePackProfile(opts.Profile, existing, prior)
	if err != nil {
		return nil, err
	}

	planSource := existing
	if existing != nil && existing.Profile().ID != profile.ID {
		// Stored payloads use another compression scheme and byte order,
		// nothing can be reused across profiles.
		planSource = nil
	}

	plan, err := ComputePlan(ctx, files, planSource, prior, opts.PlanOptions)
	if err != nil {
		return nil, err
	}

	if existing != nil {
		_ = existing.Close()
	}

	res, err := executePack(ctx, archivePath, profile, plan, existingErr == nil, opts)
	if err != nil {
		return nil, err
	}

	if !opts.SkipManifest {
		m := buildNextManifest(profile.ID, archivePath, plan)
		if err := m.WriteFile(dir); err != nil {
			return nil, err
		}
	}

	return res, nil
}

// openExistingArchive opens archivePath for payload reuse. A missing or
// unparsable archive yields a nil reader and the cause.
func openExistingArchive(archivePath string) (*Reader, error) {
	if _, err := os.Stat(archivePath); err != nil {
		return nil, err
	}

	r, err := Open(archivePath)
	if err != nil {
		return nil, err
	}

	return r, nil
}

// resolvePackProfile picks the output profile from explicit options, the
// archive being replaced, or the directory manifest, in that order.
func resolvePackProfile(id string, existing *Reader, prior *Manifest) (*GameProfile, error) {
	if id != "" {
		return LookupProfile(id)
	}

	if existing != nil {
		return existing.Profile(), nil
	}

	if prior != nil && prior.Profile != "" {
		return LookupProfile(prior.Profile)
	}

	return nil, fmt.Errorf("%w: no existing archive or manifest to take it from", ErrProfileRequired)
}

// executePack rotates the replaced archive into a backup, builds the new
// archive from the backup bytes, and rolls the backup back when the build
// fails. The rotation happens even with BackupKeep of zero, the backup is
// then removed after a successful build.
func executePack(
	ctx context.Context,
	archivePath string,
	profile *GameProfile,
	plan *PackPlan,
	haveExisting bool,
	opts PackDirOptions,
) (*PackResult, error) {
	if !haveExisting {
		return buildFromSource(ctx, archivePath, "", profile, plan, opts.PackOptions)
	}

	backupPath := archivePath + ".bak"
	if err := prepareBackupSlot(backupPath, opts.BackupKeep); err != nil {
		return nil, err
	}

	if err := os.Rename(archivePath, backupPath); err != nil {
		return nil, fmt.Errorf("move archive to backup: %w", err)
	}

	res, err := buildFromSource(ctx, archivePath, backupPath, profile, plan, opts.PackOptions)
	if err != nil {
		if rollbackErr := rollbackFromBackup(archivePath, backupPath); rollbackErr != nil {
			return nil, fmt.Errorf("%w (rollback failed: %w)", err, rollbackErr)
		}

		return nil, err
	}

	if opts.BackupKeep == 0 {
		if err := removeIfExists(backupPath); err != nil {
			return nil, fmt.Errorf("remove backup: %w", err)
		}
	}

	return res, nil
}

// buildFromSource opens the reuse source when the plan needs one and writes
// the archive through BuildFile.
func buildFromSource(
	ctx context.Context,
	archivePath string,
	srcPath string,
	profile *GameProfile,
	plan *PackPlan,
	opts PackOptions,
) (*PackResult, error) {
	var src *Reader
	if srcPath != "" && plan.Reused() > 0 {
		r, err := Open(srcPath)
		if err != nil {
			return nil, fmt.Errorf("reopen source archive: %w", err)
		}
		defer func() { _ = r.Close() }()

		src = r
	}

	return BuildFile(ctx, archivePath, profile, plan, src, opts)
}

// buildNextManifest records the content fingerprints the plan was computed
// from, keyed by canonical entry name.
func buildNextManifest(profileID string, archivePath string, plan *PackPlan) *Manifest {
	m := NewManifest(profileID)
	m.Archive = filepath.Base(archivePath)

	for i := range plan.Entries {
		m.Set(plan.Entries[i].Name, plan.Entries[i].Fingerprint)
	}

	return m
}

// prepareBackupSlot rotates/removes existing backup generations before a new
// pack: `.bak` holds the newest generation, `.bak.1..N-1` the older ones.
func prepareBackupSlot(backupPath string, keep int) error {
	if keep < 0 {
		keep = 0
	}

	switch keep {
	case 0, 1:
		return removeIfExists(backupPath)
	default:
		oldest := fmt.Sprintf("%s.%d", backupPath, keep-1)
		if err := removeIfExists(oldest); err != nil {
			return err
		}

		for i := keep - 2; i >= 1; i-- {
			from := fmt.Sprintf("%s.%d", backupPath, i)
			to := fmt.Sprintf("%s.%d", backupPath, i+1)
			if err := renameIfExists(from, to); err != nil {
				return err
			}
		}

		return renameIfExists(backupPath, backupPath+".1")
	}
}

// renameIfExists renames source to destination when source exists.
func renameIfExists(from string, to string) error {
	_, err := os.Stat(from)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat %s: %w", from, err)
	}

	if err := removeIfExists(to); err != nil {
		return err
	}

	if err := os.Rename(from, to); err != nil {
		return fmt.Errorf("rename %s to %s: %w", from, to, err)
	}

	return nil
}

// removeIfExists removes file when present.
func removeIfExists(path string) error {
	err := os.Remove(path)
	if errors.Is(err, os.ErrNotExist) || err == nil {
		return nil
	}

	return fmt.Errorf("remove %s: %w", path, err)
}

// rollbackFromBackup restores backup on failed pack.
func rollbackFromBackup(path string, backupPath string) error {
	_ = os.Remove(path)

	if err := os.Rename(backupPath, path); err != nil {
		return fmt.Errorf("restore backup: %w", err)
	}

	return nil
}
