// SPDX-License-Identifier: MIT
// Copyright (c) 2026 ObscureTools
// Source: github.com/obscuretools/hvp

package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/obscuretools/hvp"
)

var createCmd = &cobra.Command{
	Use:   "create <dir> <archive>",
	Short: "Pack a directory into an HVP archive",
	Long: `Pack a directory into an HVP archive. When the archive already exists and
the directory carries a manifest side-file from a previous extract or
create, unchanged entries are copied from the old archive without
recompression. --game is required for a fresh archive and optional when
replacing one.`,
	Args: exactArgs(2),
	RunE: runCreate,
}

func init() {
	createCmd.Flags().String("game", "", "target game profile: "+profileIDs())
	createCmd.Flags().IntP("workers", "w", 0, "concurrent compression workers (0 = number of CPUs)")
	createCmd.Flags().Bool("skip-compression", false, "store every entry uncompressed")
	createCmd.Flags().Bool("update-all-files", false, "recompress everything, ignoring the manifest")
	createCmd.Flags().Bool("trust-modtime", false, "skip hashing files whose size and modification time match the manifest")
	createCmd.Flags().Bool("no-manifest", false, "do not refresh the manifest side-file")
	createCmd.Flags().Int("backup-keep", 1, "rotated .bak generations of the replaced archive to keep")
}

func runCreate(cmd *cobra.Command, args []string) error {
	if err := setupLogging(); err != nil {
		return err
	}

	dir, archivePath := args[0], args[1]

	game, _ := cmd.Flags().GetString("game")
	workers, _ := cmd.Flags().GetInt("workers")
	skipCompression, _ := cmd.Flags().GetBool("skip-compression")
	updateAll, _ := cmd.Flags().GetBool("update-all-files")
	trustModTime, _ := cmd.Flags().GetBool("trust-modtime")
	noManifest, _ := cmd.Flags().GetBool("no-manifest")
	backupKeep, _ := cmd.Flags().GetInt("backup-keep")

	opts := hvp.PackDirOptions{
		Profile:      game,
		SkipManifest: noManifest,
		BackupKeep:   backupKeep,
		PackOptions: hvp.PackOptions{
			Workers:         workers,
			SkipCompression: skipCompression,
			OnEntryDone: func(p hvp.PackEntryProgress) {
				slog.Debug("entry packed",
					"name", p.Name,
					"stored", p.StoredSize,
					"reused", p.Reused,
					"compressed", p.Compressed)
			},
		},
		PlanOptions: hvp.PlanOptions{
			ForceAll:     updateAll,
			TrustModTime: trustModTime,
			Workers:      workers,
		},
	}

	res, err := hvp.PackDirectory(cmd.Context(), dir, archivePath, opts)
	if err != nil {
		return fmt.Errorf("create %s: %w", archivePath, err)
	}

	slog.Info("archive written",
		"archive", archivePath,
		"entries", res.WrittenEntries,
		"reused", res.ReusedEntries,
		"recompressed", res.RecompressedEntries,
		"compressed", res.CompressedEntries,
		"data_bytes", res.DataSize,
		"padding_bytes", res.PaddingBytes,
		"elapsed", res.Duration.Round(time.Millisecond))

	return nil
}
