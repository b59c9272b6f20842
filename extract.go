// SPDX-License-Identifier: MIT
// Copyright (c) 2026 ObscureTools
// Source: github.com/obscuretools/hvp

package hvp

import (
	"context"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
)

// extractCopyBufferSize defines per-worker buffer size for file copy during extraction.
const extractCopyBufferSize = 64 * 1024

// extractWorkItem stores one selected entry with prepared output relative paths.
type extractWorkItem struct {
	relPath string
	relDir  string
	entry   Entry
	idx     int
}

// Extract writes selected entries from the archive to dstDir and records a
// manifest of the extracted content, so a later pack of the directory can
// reuse unchanged stored payloads. Extraction is parallelized by MaxWorkers;
// on failure it returns the first encountered error and skips the manifest.
func (r *Reader) Extract(ctx context.Context, dstDir string, opts ExtractOptions) error {
	if r == nil || r.ra == nil {
		return ErrNilReader
	}

	if err := r.checkClosed(); err != nil {
		return err
	}

	if ctx == nil {
		ctx = context.Background()
	}

	workers := opts.MaxWorkers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers < 1 {
		workers = 1
	}

	entries := r.entries
	if opts.Entries != nil {
		entries = opts.Entries
	}
	if opts.Prefix != "" {
		entries = filterEntriesByPrefix(entries, opts.Prefix)
	}

	if len(entries) == 0 {
		return nil
	}

	fileMode := opts.FileMode
	if fileMode == "" {
		fileMode = ExtractFileModeAuto
	}

	dstRootAbs, err := filepath.Abs(dstDir)
	if err != nil {
		return fmt.Errorf("resolve output dir: %w", err)
	}

	if err := os.MkdirAll(dstRootAbs, 0o750); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	workItems, err := prepareExtractWorkItems(entries, opts.RawNames)
	if err != nil {
		return err
	}

	if len(workItems) == 0 {
		return nil
	}

	if err := prepareExtractDirs(dstRootAbs, workItems); err != nil {
		return err
	}

	results := make([]Fingerprint, len(workItems))

	taskCh := make(chan extractWorkItem, len(workItems))
	errCh := make(chan error, len(workItems))
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			copyBuf := make([]byte, extractCopyBufferSize)
			for task := range taskCh {
				fp, err := r.extractPreparedEntry(ctx, dstRootAbs, task, fileMode, copyBuf, opts.OnEntryDone)
				if err == nil {
					results[task.idx] = fp
				}

				select {
				case errCh <- err:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	for _, task := range workItems {
		select {
		case <-ctx.Done():
			close(taskCh)
			wg.Wait()
			return ctx.Err()
		case taskCh <- task:
		}
	}

	close(taskCh)
	wg.Wait()
	close(errCh)

	var first error
	for err := range errCh {
		if err != nil && first == nil {
			first = err
		}
	}
	if first != nil {
		return first
	}

	if opts.SkipManifest {
		return nil
	}

	return r.writeExtractManifest(dstRootAbs, workItems, results)
}

// writeExtractManifest records fingerprints of all extracted entries.
func (r *Reader) writeExtractManifest(dstRootAbs string, workItems []extractWorkItem, results []Fingerprint) error {
	m := NewManifest(r.profile.ID)
	if r.file != nil {
		m.Archive = filepath.Base(r.file.Name())
	}

	for i := range workItems {
		m.Set(workItems[i].entry.Name, results[i])
	}

	if err := m.WriteFile(dstRootAbs); err != nil {
		return fmt.Errorf("write extract manifest: %w", err)
	}

	return nil
}

// prepareExtractWorkItems validates selected entries and prepares relative fs
// paths. Unless raw names were requested, names pass filesystem sanitization
// first; traversal and absolute paths are rejected either way.
func prepareExtractWorkItems(entries []Entry, rawNames bool) ([]extractWorkItem, error) {
	outNames := make([]string, len(entries))
	for i := range entries {
		outNames[i] = entries[i].Name
	}
	if !rawNames {
		outNames = sanitizeExtractNames(outNames)
	}

	workItems := make([]extractWorkItem, 0, len(entries))
	for i, entry := range entries {
		if strings.TrimSpace(entry.Name) == "" {
			continue
		}

		normalizedPath, err := normalizeExtractEntryPath(outNames[i])
		if err != nil {
			return nil, fmt.Errorf("normalize entry path %s: %w", entry.Name, err)
		}

		relPath := filepath.FromSlash(normalizedPath)
		relDir := filepath.Dir(relPath)
		if relDir == "." || relDir == "" {
			relDir = ""
		}

		workItems = append(workItems, extractWorkItem{
			entry:   entry,
			relPath: relPath,
			relDir:  relDir,
			idx:     len(workItems),
		})
	}

	return workItems, nil
}

// prepareExtractDirs creates all unique parent directories needed by work items.
func prepareExtractDirs(dstRootAbs string, workItems []extractWorkItem) error {
	seen := make(map[string]struct{}, len(workItems))
	for _, task := range workItems {
		if task.relDir == "" {
			continue
		}

		dirPath := filepath.Join(dstRootAbs, task.relDir)
		key := strings.ToLower(dirPath)
		if _, exists := seen[key]; exists {
			continue
		}

		seen[key] = struct{}{}
		if err := os.MkdirAll(dirPath, 0o750); err != nil {
			return fmt.Errorf("create output directory %s: %w", dirPath, err)
		}
	}

	return nil
}

// extractPreparedEntry writes one prepared work item to destination root and
// returns the fingerprint of the written content.
func (r *Reader) extractPreparedEntry(
	ctx context.Context,
	dstRootAbs string,
	task extractWorkItem,
	fileMode ExtractFileMode,
	copyBuf []byte,
	onEntryDone func(entry Entry, written int64, outputPath string),
) (Fingerprint, error) {
	select {
	case <-ctx.Done():
		return Fingerprint{}, ctx.Err()
	default:
	}

	outPath := filepath.Join(dstRootAbs, task.relPath)

	rc, err := r.openEntryByMeta(&task.entry, task.entry.Name)
	if err != nil {
		return Fingerprint{}, err
	}
	defer func() { _ = rc.Close() }()

	expectedSize := int64(task.entry.RawSize)

	file, needsTruncate, err := openExtractFile(outPath, fileMode, expectedSize)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("open %s: %w", task.entry.Name, err)
	}

	h := crc32.NewIEEE()
	written, copyErr := copyExtractData(io.MultiWriter(file, h), rc, copyBuf)
	if copyErr == nil && needsTruncate {
		if truncErr := file.Truncate(written); truncErr != nil {
			_ = file.Close()
			return Fingerprint{}, fmt.Errorf("truncate %s: %w", task.entry.Name, truncErr)
		}
	}

	closeErr := file.Close()
	if copyErr != nil {
		return Fingerprint{}, fmt.Errorf("write %s: %w", task.entry.Name, copyErr)
	}

	if closeErr != nil {
		return Fingerprint{}, fmt.Errorf("close %s: %w", task.entry.Name, closeErr)
	}

	fp := Fingerprint{Size: written, CRC32: h.Sum32()}
	if info, err := os.Stat(outPath); err == nil {
		fp.ModTime = info.ModTime()
	}

	if onEntryDone != nil {
		onEntryDone(task.entry, written, outPath)
	}

	return fp, nil
}

// openExtractFile opens output path according to selected extract file mode.
func openExtractFile(path string, mode ExtractFileMode, expectedSize int64) (*os.File, bool, error) {
	switch mode {
	case ExtractFileModeAuto:
		file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if err == nil {
			return file, false, nil
		}

		if !os.IsExist(err) {
			return nil, false, err
		}

		file, truncErr := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
		return file, false, truncErr
	case ExtractFileModeOverwriteSmart:
		file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE, 0o600)
		if err != nil {
			return nil, false, err
		}

		info, err := file.Stat()
		if err != nil {
			_ = file.Close()
			return nil, false, err
		}

		needsTruncate := info.Size() > expectedSize
		return file, needsTruncate, nil
	case ExtractFileModeTruncate:
		file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
		return file, false, err
	case ExtractFileModeCreateOnly:
		file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		return file, false, err
	default:
		return nil, false, fmt.Errorf("unknown extract file mode %q", mode)
	}
}

// copyExtractData copies one entry stream to output using fixed worker buffer.
func copyExtractData(dst io.Writer, src io.Reader, buf []byte) (int64, error) {
	if len(buf) == 0 {
		return 0, io.ErrShortBuffer
	}

	var total int64
	for {
		readN, readErr := src.Read(buf)
		if readN > 0 {
			writeN, writeErr := dst.Write(buf[:readN])
			total += int64(writeN)

			if writeErr != nil {
				return total, writeErr
			}

			if writeN != readN {
				return total, io.ErrShortWrite
			}
		}

		if readErr == nil {
			continue
		}

		if readErr == io.EOF {
			return total, nil
		}

		return total, readErr
	}
}

// normalizeExtractEntryPath normalizes entry path and rejects absolute/traversal inputs.
func normalizeExtractEntryPath(entryPath string) (string, error) {
	raw := strings.TrimSpace(entryPath)
	if raw == "" {
		return "", ErrInvalidExtractPath
	}
	if strings.ContainsRune(raw, 0) {
		return "", ErrInvalidExtractPath
	}
	if strings.HasPrefix(raw, `/`) || strings.HasPrefix(raw, `\`) {
		return "", ErrInvalidExtractPath
	}

	raw = strings.ReplaceAll(raw, `\`, `/`)
	if hasWindowsAbsDrivePrefix(raw) {
		return "", ErrInvalidExtractPath
	}

	parts := strings.Split(raw, `/`)
	cleanParts := make([]string, 0, len(parts))
	for _, part := range parts {
		switch part {
		case "", ".":
			continue
		case "..":
			return "", ErrInvalidExtractPath
		default:
			cleanParts = append(cleanParts, part)
		}
	}
	if len(cleanParts) == 0 {
		return "", ErrInvalidExtractPath
	}

	return strings.Join(cleanParts, `/`), nil
}

// hasWindowsAbsDrivePrefix reports whether path starts with drive-root prefix like C:/.
func hasWindowsAbsDrivePrefix(path string) bool {
	if len(path) < 3 {
		return false
	}

	return isASCIIAlpha(path[0]) && path[1] == ':' && path[2] == '/'
}

// isASCIIAlpha reports whether byte is ASCII latin letter.
func isASCIIAlpha(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}
