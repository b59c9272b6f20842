package hvp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

const (
	benchDefaultEntries    = 128
	benchLargeIndexEntries = 52536
)

var (
	// benchListSink prevents compiler elimination in list benchmark loops.
	benchListSink int
)

func BenchmarkOpenParse(b *testing.B) {
	path := createBenchArchive(b, benchDefaultEntries)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r, err := Open(path)
		if err != nil {
			b.Fatal(err)
		}
		_ = r.Entries()
		_ = r.Close()
	}
}

func BenchmarkOpenParseLargeIndex(b *testing.B) {
	path := createBenchLargeIndexArchive(b, benchLargeIndexEntries)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r, err := Open(path)
		if err != nil {
			b.Fatal(err)
		}

		if len(r.Entries()) == 0 {
			b.Fatal("empty entries")
		}

		_ = r.Close()
	}
}

func BenchmarkListLargeIndex(b *testing.B) {
	path := createBenchLargeIndexArchive(b, benchLargeIndexEntries)
	r, err := Open(path)
	if err != nil {
		b.Fatal(err)
	}
	defer func() { _ = r.Close() }()

	entries := r.Entries()
	if len(entries) == 0 {
		b.Fatal("empty entries")
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		total := 0
		for _, e := range entries {
			total += len(e.Name)
			total += int(e.RawSize)
			total += int(e.StoredSize)
		}

		benchListSink = total
	}
}

func BenchmarkExtract(b *testing.B) {
	benchmarkExtractWithSanitize(b, false)
}

func BenchmarkExtractSanitize(b *testing.B) {
	benchmarkExtractWithSanitize(b, true)
}

// benchmarkExtractWithSanitize benchmarks the full extract flow with optional
// path sanitization.
func benchmarkExtractWithSanitize(b *testing.B, sanitizeNames bool) {
	path := createBenchArchive(b, benchDefaultEntries)
	dir := b.TempDir()
	opts := ExtractOptions{
		MaxWorkers:   4,
		RawNames:     !sanitizeNames,
		SkipManifest: true,
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r, err := Open(path)
		if err != nil {
			b.Fatal(err)
		}
		out := filepath.Join(dir, "ext", fmt.Sprintf("run%d", i))
		_ = os.MkdirAll(out, 0o755)
		err = r.Extract(context.Background(), out, opts)
		_ = r.Close()
		if err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkReadEntryZlib(b *testing.B) {
	benchmarkReadEntry(b, "obscure1-pc")
}

func BenchmarkReadEntryLZO(b *testing.B) {
	benchmarkReadEntry(b, "obscure2-pc")
}

func benchmarkReadEntry(b *testing.B, profileID string) {
	files := map[string][]byte{"data/big.bin": compressiblePayload(256 << 10)}
	path := filepath.Join(b.TempDir(), "bench.hvp")
	buildTestArchiveAt(b, path, profileID, files, PackOptions{})

	r, err := Open(path)
	if err != nil {
		b.Fatal(err)
	}
	defer func() { _ = r.Close() }()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		data, err := r.ReadEntry("data/big.bin")
		if err != nil {
			b.Fatal(err)
		}

		benchListSink = len(data)
	}
}

func BenchmarkVerifyChecksums(b *testing.B) {
	files := map[string][]byte{
		"data/big.bin":   compressiblePayload(256 << 10),
		"data/other.bin": incompressiblePayload(128 << 10),
		"readme.txt":     []byte("short"),
	}
	path := filepath.Join(b.TempDir(), "bench.hvp")
	buildTestArchiveAt(b, path, "obscure1-pc", files, PackOptions{})

	r, err := Open(path)
	if err != nil {
		b.Fatal(err)
	}
	defer func() { _ = r.Close() }()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := r.VerifyChecksums(context.Background()); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkBuildNoCompress(b *testing.B) {
	files := make(map[string][]byte, 20)
	for i := 0; i < 20; i++ {
		files[fmt.Sprintf("dir/file/f%d.txt", i)] = []byte("hello world")
	}
	plan := planFromFiles(b, files)
	profile := mustProfile(b, "obscure1-pc")
	opts := PackOptions{SkipCompression: true}
	dir := b.TempDir()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		out := filepath.Join(dir, fmt.Sprintf("out%d.hvp", i))
		if _, err := BuildFile(context.Background(), out, profile, plan, nil, opts); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkBuildCompressZlib(b *testing.B) {
	benchmarkBuildCompress(b, "obscure1-pc")
}

func BenchmarkBuildCompressLZO(b *testing.B) {
	benchmarkBuildCompress(b, "obscure2-pc")
}

func benchmarkBuildCompress(b *testing.B, profileID string) {
	data := compressiblePayload(2000)
	files := make(map[string][]byte, 10)
	for i := 0; i < 10; i++ {
		files[fmt.Sprintf("data/f%d.dat", i)] = data
	}
	plan := planFromFiles(b, files)
	profile := mustProfile(b, profileID)
	dir := b.TempDir()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		out := filepath.Join(dir, fmt.Sprintf("out%d.hvp", i))
		if _, err := BuildFile(context.Background(), out, profile, plan, nil, PackOptions{}); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkComputePlanRepack(b *testing.B) {
	files := make(map[string][]byte, benchDefaultEntries)
	for i := 0; i < benchDefaultEntries; i++ {
		files[fmt.Sprintf("e/f%d.txt", i)] = []byte("content")
	}
	path := filepath.Join(b.TempDir(), "bench.hvp")
	buildTestArchiveAt(b, path, "obscure1-pc", files, PackOptions{})

	r, err := Open(path)
	if err != nil {
		b.Fatal(err)
	}
	defer func() { _ = r.Close() }()

	prior, err := r.BuildManifest(context.Background())
	if err != nil {
		b.Fatal(err)
	}

	inputs := make([]Input, 0, len(files))
	for name, data := range files {
		inputs = append(inputs, memInput(name, data))
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		plan, err := ComputePlan(context.Background(), inputs, r, prior, PlanOptions{})
		if err != nil {
			b.Fatal(err)
		}

		if plan.Reused() != benchDefaultEntries {
			b.Fatal("expected full reuse")
		}
	}
}

func BenchmarkRepackUnchanged(b *testing.B) {
	files := make(map[string][]byte, 32)
	for i := 0; i < 32; i++ {
		files[fmt.Sprintf("e/f%d.txt", i)] = []byte("content filling one entry")
	}
	dir := writePackDir(b, files)
	workDir := b.TempDir()
	template := filepath.Join(workDir, "template.hvp")
	if _, err := PackDirectory(context.Background(), dir, template, PackDirOptions{Profile: "obscure1-pc"}); err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		out := filepath.Join(workDir, fmt.Sprintf("repack%d.hvp", i))
		if err := copyBenchFile(template, out); err != nil {
			b.Fatal(err)
		}

		if _, err := PackDirectory(context.Background(), dir, out, PackDirOptions{}); err != nil {
			b.Fatal(err)
		}
	}
}

// createBenchArchive builds a deterministic benchmark archive with small raw
// entries.
func createBenchArchive(b *testing.B, numEntries int) string {
	files := make(map[string][]byte, numEntries)
	for i := 0; i < numEntries; i++ {
		files[fmt.Sprintf("e/f%d.txt", i)] = []byte("content")
	}

	path := filepath.Join(b.TempDir(), "bench.hvp")
	buildTestArchiveAt(b, path, "obscure1-pc", files, PackOptions{})
	return path
}

// createBenchLargeIndexArchive builds a table-heavy fixture with mixed
// extensions.
func createBenchLargeIndexArchive(b *testing.B, numEntries int) string {
	payload := incompressiblePayload(96)
	files := make(map[string][]byte, numEntries)
	for i := 0; i < numEntries; i++ {
		files[benchLargePath(i)] = payload
	}

	path := filepath.Join(b.TempDir(), "bench-large.hvp")
	buildTestArchiveAt(b, path, "obscure1-pc", files, PackOptions{})
	return path
}

// benchLargePath returns deterministic paths for index-heavy benchmarks, kept
// short enough for every record name field.
func benchLargePath(i int) string {
	exts := [...]string{"bin", "dds", "wav", "txt", "dat", "lvl"}
	ext := exts[i%len(exts)]

	return fmt.Sprintf("grp_%03d/pack_%03d/entry_%05d_%08x.%s", i%173, (i/173)%211, i, i*2654435761, ext)
}

// copyBenchFile copies fixture file to destination path.
func copyBenchFile(src string, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}

	return os.WriteFile(dst, data, 0o600)
}
