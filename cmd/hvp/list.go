// SPDX-License-Identifier: MIT
// Copyright (c) 2026 ObscureTools
// Source: github.com/obscuretools/hvp

package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/obscuretools/hvp"
)

var listCmd = &cobra.Command{
	Use:   "list <archive>",
	Short: "Print the entry table of an HVP archive",
	Long: `Print the entry table of an HVP archive. list opens archives even when the
entry table checksum does not match, so damaged archives stay inspectable;
a warning is logged instead.`,
	Args: exactArgs(1),
	RunE: runList,
}

func init() {
	listCmd.Flags().String("game", "", "force a game profile instead of auto-detecting: "+profileIDs())
	listCmd.Flags().Bool("json", false, "emit the entry table as JSON")
}

func runList(cmd *cobra.Command, args []string) error {
	if err := setupLogging(); err != nil {
		return err
	}

	archivePath := args[0]
	game, _ := cmd.Flags().GetString("game")
	asJSON, _ := cmd.Flags().GetBool("json")

	r, err := hvp.OpenWithOptions(archivePath, hvp.ReaderOptions{
		Profile:            game,
		SkipChecksumVerify: true,
	})
	if err != nil {
		return fmt.Errorf("open %s: %w", archivePath, err)
	}
	defer r.Close()

	if !r.TableChecksumOK() {
		slog.Warn("entry table checksum does not match the header", "archive", archivePath)
	}

	profile := r.Profile()
	entries := r.Entries()

	if asJSON {
		doc := struct {
			Profile string      `json:"profile"`
			Archive string      `json:"archive"`
			Entries []hvp.Entry `json:"entries"`
		}{profile.ID, filepath.Base(archivePath), entries}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(doc)
	}

	var rawTotal, storedTotal uint64
	fmt.Printf("%-12s  %12s  %12s  %-6s  %s\n", "OFFSET", "RAW", "STORED", "MODE", "NAME")
	for _, e := range entries {
		mode := "store"
		if e.Compressed {
			mode = string(profile.Scheme)
		}

		fmt.Printf("%#012x  %12d  %12d  %-6s  %s\n", e.Offset, e.RawSize, e.StoredSize, mode, e.Name)

		rawTotal += e.RawSize
		storedTotal += e.StoredSize
	}

	slog.Info("archive listed",
		"archive", archivePath,
		"profile", profile.String(),
		"entries", len(entries),
		"raw_bytes", rawTotal,
		"stored_bytes", storedTotal)

	return nil
}
