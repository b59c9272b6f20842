// SPDX-License-Identifier: MIT
// Copyright (c) 2026 ObscureTools
// Source: github.com/obscuretools/hvp

package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/obscuretools/hvp"
)

var extractCmd = &cobra.Command{
	Use:   "extract <archive> [dir]",
	Short: "Unpack an HVP archive into a directory",
	Long: `Unpack an HVP archive into a directory. Without [dir] the archive is
unpacked next to itself, into a directory named after the archive. A
manifest side-file is written into the directory so a later "hvp create"
can reuse unchanged entries.`,
	Args: rangeArgs(1, 2),
	RunE: runExtract,
}

func init() {
	extractCmd.Flags().String("game", "", "force a game profile instead of auto-detecting: "+profileIDs())
	extractCmd.Flags().IntP("workers", "w", 0, "concurrent extraction workers (0 = number of CPUs)")
	extractCmd.Flags().Bool("verify", false, "verify all payload checksums before extracting")
	extractCmd.Flags().Bool("manifest-only", false, "write only the manifest side-file, extract nothing")
	extractCmd.Flags().String("prefix", "", "extract only entries under this archive path")
}

func runExtract(cmd *cobra.Command, args []string) error {
	if err := setupLogging(); err != nil {
		return err
	}

	archivePath := args[0]
	destDir := strings.TrimSuffix(archivePath, filepath.Ext(archivePath))
	if len(args) == 2 {
		destDir = args[1]
	}

	game, _ := cmd.Flags().GetString("game")
	workers, _ := cmd.Flags().GetInt("workers")
	verify, _ := cmd.Flags().GetBool("verify")
	manifestOnly, _ := cmd.Flags().GetBool("manifest-only")
	prefix, _ := cmd.Flags().GetString("prefix")

	r, err := hvp.OpenWithOptions(archivePath, hvp.ReaderOptions{Profile: game})
	if err != nil {
		return fmt.Errorf("open %s: %w", archivePath, err)
	}
	defer r.Close()

	slog.Info("archive opened",
		"archive", archivePath,
		"profile", r.Profile().String(),
		"entries", len(r.Entries()))

	if !r.TableChecksumOK() {
		slog.Warn("entry table checksum does not match the header", "archive", archivePath)
	}

	ctx := cmd.Context()

	if verify {
		start := time.Now()
		if err := r.VerifyChecksums(ctx); err != nil {
			return fmt.Errorf("verify %s: %w", archivePath, err)
		}
		slog.Info("payload checksums verified", "elapsed", time.Since(start).Round(time.Millisecond))
	}

	if manifestOnly {
		m, err := r.BuildManifest(ctx)
		if err != nil {
			return fmt.Errorf("fingerprint %s: %w", archivePath, err)
		}
		if err := os.MkdirAll(destDir, 0o750); err != nil {
			return err
		}
		if err := m.WriteFile(destDir); err != nil {
			return err
		}

		slog.Info("manifest written", "dir", destDir, "entries", len(m.Entries))

		return nil
	}

	start := time.Now()
	err = r.Extract(ctx, destDir, hvp.ExtractOptions{
		Prefix:     prefix,
		MaxWorkers: workers,
		OnEntryDone: func(e hvp.Entry, written int64, path string) {
			slog.Debug("entry extracted", "name", e.Name, "bytes", written)
		},
	})
	if err != nil {
		return fmt.Errorf("extract %s: %w", archivePath, err)
	}

	slog.Info("archive extracted", "dir", destDir, "elapsed", time.Since(start).Round(time.Millisecond))

	return nil
}
