// SPDX-License-Identifier: MIT
// Copyright (c) 2026 ObscureTools
// Source: github.com/obscuretools/hvp

package hvp

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

var (
	// defaultBuildWriterPool reuses default-sized bufio writers between Build calls.
	defaultBuildWriterPool = sync.Pool{
		New: func() any {
			return bufio.NewWriterSize(io.Discard, DefaultWriteBuffer)
		},
	}
	// defaultBuildCopyBufferPool reuses payload copy buffers between Build calls.
	defaultBuildCopyBufferPool = sync.Pool{
		New: func() any {
			return new([buildCopyBufferSize]byte)
		},
	}
)

const (
	// buildCopyBufferSize is per-build temporary buffer used by streaming payload copy.
	buildCopyBufferSize = 64 * 1024
)

// precompressed holds the outcome of the parallel compression pass for one
// plan entry. A nil data slice means the entry is stored raw.
type precompressed struct {
	data    []byte
	rawSize int64
}

// Build writes an archive for the given profile to out, executing the plan
// in order. Entries marked for reuse are copied verbatim from src; entries
// marked for recompression are read from their inputs. The resulting layout
// is deterministic: fixed header, entry table, then payloads in plan order,
// each aligned per the profile.
//
// src may be nil when the plan contains no reuse entries. When src carries
// the same profile its raw header seeds reserved bytes of the new header, so
// unknown engine fields survive a rewrite.
func Build(
	ctx context.Context,
	out io.WriteSeeker,
	profile *GameProfile,
	plan *PackPlan,
	src *Reader,
	opts PackOptions,
) (*PackResult, error) {
	startedAt := time.Now()

	if out == nil {
		return nil, ErrNilWriter
	}

	if profile == nil {
		return nil, fmt.Errorf("%w: nil profile", ErrUnknownProfile)
	}

	if ctx == nil {
		ctx = context.Background()
	}

	opts.applyDefaults()

	items, err := validatePlan(plan, profile, src)
	if err != nil {
		return nil, err
	}

	matcher, err := newCompressMatcher(opts.Compress, opts.CompressMatcherOptions)
	if err != nil {
		return nil, fmt.Errorf("compile compress rules: %w", err)
	}

	blobs, candidates, err := precompressPayloads(ctx, items, profile, matcher, opts)
	if err != nil {
		return nil, err
	}

	w, releaseWriter := acquireBuildWriter(out, opts.WriterBufferSize)
	defer releaseWriter()

	count := int64(len(items))
	tableOff := int64(profile.header.size)
	tableSize := count * int64(profile.record.stride)
	dataOff := tableOff + tableSize
	dataOff += alignPad(dataOff, profile.Align)

	// Header, table and alignment gap are zeros for now; both are patched
	// once payload geometry is known.
	if err := writeZeros(w, dataOff); err != nil {
		return nil, fmt.Errorf("write table placeholder: %w", err)
	}

	copyBuf, releaseCopyBuffer := acquireBuildCopyBuffer()
	defer releaseCopyBuffer()

	offsetLimit := int64(maxFieldValue(profile.record.offset.width))

	records := make([]Entry, 0, len(items))
	currentOffset := dataOff
	paddingBytes := dataOff - tableOff - tableSize
	result := &PackResult{TableSize: tableSize}

	for i := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		pad := alignPad(currentOffset, profile.Align)
		if pad > 0 {
			if err := writeZeros(w, pad); err != nil {
				return nil, fmt.Errorf("write alignment padding: %w", err)
			}

			paddingBytes += pad
			currentOffset += pad
		}

		var (
			rec      Entry
			writeErr error
		)
		switch {
		case items[i].Decision == DecisionReuse:
			rec, writeErr = writeReusedPayload(w, src, items[i], currentOffset, copyBuf)
			if writeErr == nil {
				result.ReusedEntries++
			}

		case blobs[i].data != nil:
			rec, writeErr = writeCompressedPayload(w, profile, items[i], blobs[i], currentOffset)
			if writeErr == nil {
				result.RecompressedEntries++
			}

		default:
			rec, writeErr = writeRawPayload(w, profile, items[i], currentOffset, copyBuf)
			if writeErr == nil {
				result.RecompressedEntries++
			}
		}
		if writeErr != nil {
			return nil, writeErr
		}

		if currentOffset > offsetLimit || int64(rec.StoredSize) > offsetLimit-currentOffset {
			return nil, fmt.Errorf("%w: entry %s payload at offset %d exceeds the container offset range",
				ErrEntryTooLarge, rec.Name, currentOffset)
		}

		if rec.Compressed {
			result.CompressedEntries++
			result.CompressedBytes += int64(rec.StoredSize)
		} else {
			result.RawBytes += int64(rec.StoredSize)
			if candidates[i] {
				result.SkippedCompressionEntries++
			}
		}

		if opts.OnEntryDone != nil {
			opts.OnEntryDone(PackEntryProgress{
				Name:                 rec.Name,
				Offset:               rec.Offset,
				StoredSize:           rec.StoredSize,
				RawSize:              rec.RawSize,
				Reused:               items[i].Decision == DecisionReuse,
				CompressionCandidate: candidates[i],
				Compressed:           rec.Compressed,
			})
		}

		records = append(records, rec)
		currentOffset += int64(rec.StoredSize)
	}

	if err := w.Flush(); err != nil {
		return nil, fmt.Errorf("flush payloads: %w", err)
	}

	table := make([]byte, tableSize)
	for i := range records {
		recBytes, err := profile.encodeRecord(records[i])
		if err != nil {
			return nil, err
		}

		copy(table[i*profile.record.stride:], recBytes)
	}

	var template []byte
	if src != nil && src.profile != nil && src.profile.ID == profile.ID {
		template = src.header
	}

	header, err := profile.encodeHeader(template, count, tableOff, dataOff, tableChecksum(table))
	if err != nil {
		return nil, err
	}

	if _, err := out.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek to header: %w", err)
	}

	if _, err := out.Write(header); err != nil {
		return nil, fmt.Errorf("patch header: %w", err)
	}

	if _, err := out.Write(table); err != nil {
		return nil, fmt.Errorf("patch entry table: %w", err)
	}

	if _, err := out.Seek(currentOffset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek to archive end: %w", err)
	}

	result.WrittenEntries = len(records)
	result.DataSize = currentOffset - dataOff
	result.PaddingBytes = paddingBytes
	result.Duration = time.Since(startedAt)

	return result, nil
}

// BuildFile writes an archive to outPath through a temp file in the same
// directory, replacing the destination only after a successful sync.
func BuildFile(
	ctx context.Context,
	outPath string,
	profile *GameProfile,
	plan *PackPlan,
	src *Reader,
	opts PackOptions,
) (*PackResult, error) {
	dir := filepath.Dir(outPath)
	tmp, err := os.CreateTemp(dir, ".hvp-build-*")
	if err != nil {
		return nil, fmt.Errorf("create temp archive: %w", err)
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

	res, err := Build(ctx, tmp, profile, plan, src, opts)
	if err != nil {
		return nil, err
	}

	if err := tmp.Sync(); err != nil {
		return nil, fmt.Errorf("sync archive: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close archive: %w", err)
	}
	tmp = nil

	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return nil, fmt.Errorf("chmod archive: %w", err)
	}

	if err := os.Rename(tmpPath, outPath); err != nil {
		return nil, fmt.Errorf("replace archive: %w", err)
	}
	tmpPath = ""

	return res, nil
}

// validatePlan normalizes plan entry names and checks that every entry can
// actually be written: unique names within the profile name limit and a
// payload source matching its decision.
func validatePlan(plan *PackPlan, profile *GameProfile, src *Reader) ([]PlanEntry, error) {
	if plan == nil || len(plan.Entries) == 0 {
		return nil, ErrEmptyPlan
	}

	items := make([]PlanEntry, len(plan.Entries))
	copy(items, plan.Entries)

	seen := make(map[string]string, len(items))
	needSource := false

	for i := range items {
		name, err := normalizeEntryName(items[i].Name)
		if err != nil {
			return nil, err
		}
		items[i].Name = name

		wireName, err := encodeEntryName(name)
		if err != nil {
			return nil, err
		}
		if len(wireName) > profile.NameLimit() {
			return nil, fmt.Errorf("%w: %q needs %d bytes, profile %s allows %d",
				ErrEntryNameTooLong, name, len(wireName), profile.ID, profile.NameLimit())
		}

		key := entryNameKey(name)
		if existing, ok := seen[key]; ok {
			return nil, fmt.Errorf("%w: %q conflicts with %q", ErrDuplicateEntryName, name, existing)
		}
		seen[key] = name

		switch items[i].Decision {
		case DecisionReuse:
			if items[i].Source == nil {
				return nil, fmt.Errorf("%w: entry %s is marked for reuse without a source entry", ErrMissingSource, name)
			}

			needSource = true
		case DecisionRecompress:
			if items[i].Input == nil || items[i].Input.Open == nil {
				return nil, fmt.Errorf("%w: entry %s has no input stream", ErrMissingSource, name)
			}
		default:
			return nil, fmt.Errorf("entry %s: unknown plan decision %q", name, items[i].Decision)
		}
	}

	if needSource {
		if src == nil {
			return nil, fmt.Errorf("%w: plan reuses stored payloads but no source archive was given", ErrMissingSource)
		}

		if src.profile == nil || src.profile.ID != profile.ID {
			return nil, fmt.Errorf("%w: cannot reuse stored payloads from profile %s in %s",
				ErrFormatMismatch, src.Profile().String(), profile.ID)
		}
	}

	return items, nil
}

// precompressPayloads compresses recompression candidates in parallel and
// keeps only results smaller than the raw payload. Entries whose source grew
// past the in-memory window fall back to the raw streaming path.
func precompressPayloads(
	ctx context.Context,
	items []PlanEntry,
	profile *GameProfile,
	matcher *compressMatcher,
	opts PackOptions,
) ([]precompressed, []bool, error) {
	blobs := make([]precompressed, len(items))
	candidates := make([]bool, len(items))

	g, ctx := errgroup.WithContext(ctx)
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	g.SetLimit(workers)

	for i := range items {
		i := i
		if items[i].Decision != DecisionRecompress {
			continue
		}

		in := items[i].Input
		if !shouldCompressEntry(opts, matcher, profile.Scheme, items[i].Name, in.Size) {
			continue
		}

		candidates[i] = true
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			raw, err := readInputBounded(*in, int64(opts.MaxCompressSize))
			if err != nil {
				if errors.Is(err, ErrEntryTooLarge) {
					return nil
				}

				return err
			}

			compressed, err := compressPayload(profile.Scheme, raw)
			if err != nil {
				return fmt.Errorf("compress %s: %w", in.Path, err)
			}

			if len(compressed) < len(raw) {
				blobs[i] = precompressed{data: compressed, rawSize: int64(len(raw))}
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	return blobs, candidates, nil
}

// readInputBounded reads a whole input into memory, failing with
// ErrEntryTooLarge when the stream exceeds limit.
func readInputBounded(in Input, limit int64) ([]byte, error) {
	rc, err := openInputReader(in)
	if err != nil {
		return nil, err
	}

	var dst bytes.Buffer
	if in.Size > 0 && in.Size <= limit {
		dst.Grow(int(in.Size))
	}

	_, copyErr := copyPayloadBounded(&dst, rc, limit, nil)
	closeErr := rc.Close()
	if copyErr != nil {
		return nil, fmt.Errorf("read input %s: %w", in.Path, copyErr)
	}
	if closeErr != nil {
		return nil, fmt.Errorf("close input %s: %w", in.Path, closeErr)
	}

	return dst.Bytes(), nil
}

// openInputReader opens source stream for one input.
func openInputReader(in Input) (io.ReadCloser, error) {
	if in.Open == nil {
		return nil, fmt.Errorf("%w: input %s has no open function", ErrMissingSource, in.Path)
	}

	rc, err := in.Open()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: input %s: %w", ErrMissingSource, in.Path, err)
		}

		return nil, fmt.Errorf("open input %s: %w", in.Path, err)
	}

	return rc, nil
}

// writeReusedPayload copies already stored bytes from the source archive,
// carrying the compression flag, sizes and payload checksum of the source
// entry. Entries without payload are normalized to a zero geometry.
func writeReusedPayload(dst io.Writer, src *Reader, item PlanEntry, currentOffset int64, copyBuf []byte) (Entry, error) {
	e := *item.Source

	if e.IsEmpty() {
		return Entry{Name: item.Name, Offset: uint64(currentOffset)}, nil
	}

	sr := io.NewSectionReader(src.ra, int64(e.Offset), int64(e.StoredSize))
	written, err := copyPayloadBounded(dst, sr, int64(e.StoredSize), copyBuf)
	if err != nil {
		return Entry{}, fmt.Errorf("copy stored entry %s: %w", item.Name, err)
	}
	if written != int64(e.StoredSize) {
		return Entry{}, fmt.Errorf("copy stored entry %s: short read (%d/%d)", item.Name, written, e.StoredSize)
	}

	return Entry{
		Name:       item.Name,
		Offset:     uint64(currentOffset),
		RawSize:    e.RawSize,
		StoredSize: e.StoredSize,
		Compressed: e.Compressed,
		Checksum:   e.Checksum,
	}, nil
}

// writeCompressedPayload writes one precompressed payload blob.
func writeCompressedPayload(dst io.Writer, profile *GameProfile, item PlanEntry, blob precompressed, currentOffset int64) (Entry, error) {
	if _, err := dst.Write(blob.data); err != nil {
		return Entry{}, fmt.Errorf("write payload %s: %w", item.Name, err)
	}

	return Entry{
		Name:       item.Name,
		Offset:     uint64(currentOffset),
		RawSize:    uint64(blob.rawSize),
		StoredSize: uint64(len(blob.data)),
		Compressed: true,
		Checksum:   payloadChecksum(blob.data, profile.Order),
	}, nil
}

// writeRawPayload streams one input into the archive uncompressed, summing
// the payload checksum in flight.
func writeRawPayload(dst io.Writer, profile *GameProfile, item PlanEntry, currentOffset int64, copyBuf []byte) (Entry, error) {
	rc, err := openInputReader(*item.Input)
	if err != nil {
		return Entry{}, err
	}

	sizeLimit := int64(maxFieldValue(profile.record.rawSize.width))
	cw := newChecksumWriter(profile.Order)
	streamed, copyErr := copyPayloadBounded(io.MultiWriter(dst, cw), rc, sizeLimit, copyBuf)
	closeErr := rc.Close()
	if copyErr != nil {
		if errors.Is(copyErr, ErrEntryTooLarge) {
			return Entry{}, fmt.Errorf("%w: entry %s does not fit a %d-byte size field",
				ErrEntryTooLarge, item.Name, profile.record.rawSize.width)
		}

		return Entry{}, fmt.Errorf("stream input %s: %w", item.Name, copyErr)
	}
	if closeErr != nil {
		return Entry{}, fmt.Errorf("close input %s: %w", item.Name, closeErr)
	}

	if streamed == 0 {
		return Entry{Name: item.Name, Offset: uint64(currentOffset)}, nil
	}

	return Entry{
		Name:       item.Name,
		Offset:     uint64(currentOffset),
		RawSize:    uint64(streamed),
		StoredSize: uint64(streamed),
		Compressed: false,
		Checksum:   cw.Sum(),
	}, nil
}

// acquireBuildWriter returns a buffered writer and release callback for Build.
func acquireBuildWriter(out io.Writer, size int) (*bufio.Writer, func()) {
	if size == DefaultWriteBuffer {
		w := defaultBuildWriterPool.Get().(*bufio.Writer) //nolint:forcetypeassert // pool contains only *bufio.Writer
		w.Reset(out)

		return w, func() {
			w.Reset(io.Discard)
			defaultBuildWriterPool.Put(w)
		}
	}

	return bufio.NewWriterSize(out, size), func() {}
}

// acquireBuildCopyBuffer returns reusable payload copy buffer and release callback.
func acquireBuildCopyBuffer() ([]byte, func()) {
	arr := defaultBuildCopyBufferPool.Get().(*[buildCopyBufferSize]byte) //nolint:forcetypeassert // pool contains only fixed-size buffers
	buf := arr[:]

	return buf, func() {
		defaultBuildCopyBufferPool.Put(arr)
	}
}

// alignPad returns the zero-fill needed to advance off to the next alignment
// boundary.
func alignPad(off int64, align int) int64 {
	if align <= 1 {
		return 0
	}

	rem := off % int64(align)
	if rem == 0 {
		return 0
	}

	return int64(align) - rem
}

// writeZeros writes n zero bytes to dst.
func writeZeros(dst io.Writer, n int64) error {
	var zeros [4096]byte
	for n > 0 {
		chunk := int64(len(zeros))
		if chunk > n {
			chunk = n
		}

		if _, err := dst.Write(zeros[:chunk]); err != nil {
			return err
		}

		n -= chunk
	}

	return nil
}

// copyPayloadBounded streams payload from src to dst and enforces a strict
// size limit: a source longer than limit fails with ErrEntryTooLarge.
func copyPayloadBounded(dst io.Writer, src io.Reader, limit int64, buf []byte) (int64, error) {
	if dst == nil {
		return 0, ErrNilWriter
	}
	if src == nil {
		return 0, ErrNilReader
	}
	if limit < 0 {
		return 0, fmt.Errorf("%w: negative copy limit", ErrEntryTooLarge)
	}
	if len(buf) == 0 {
		buf = make([]byte, 32*1024)
	}

	var written int64
	emptyReads := 0
	for written < limit {
		chunkSize := len(buf)
		remaining := limit - written
		if int64(chunkSize) > remaining {
			chunkSize = int(remaining)
		}

		n, readErr := src.Read(buf[:chunkSize])
		if n > 0 {
			emptyReads = 0
			nw, writeErr := dst.Write(buf[:n])
			written += int64(nw)

			if writeErr != nil {
				return written, writeErr
			}
			if nw != n {
				return written, io.ErrShortWrite
			}
		}
		if n == 0 && readErr == nil {
			emptyReads++
			if emptyReads > 100 {
				return written, io.ErrNoProgress
			}

			continue
		}

		if readErr != nil {
			if readErr == io.EOF {
				break
			}

			return written, readErr
		}
	}

	// If we consumed exactly the limit, probe one extra byte to ensure the
	// source is not longer.
	if written == limit {
		var probe [1]byte
		n, err := src.Read(probe[:])
		if n > 0 {
			return written, fmt.Errorf("%w: source exceeds %d bytes", ErrEntryTooLarge, limit)
		}
		if err != nil && err != io.EOF {
			return written, err
		}
	}

	return written, nil
}
