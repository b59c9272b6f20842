// SPDX-License-Identifier: MIT
// Copyright (c) 2026 ObscureTools
// Source: github.com/obscuretools/hvp

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/obscuretools/hvp"
	"github.com/obscuretools/hvp/internal/logging"
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "hvp",
	Short: "Unpack, repack and inspect HVP game archives",
	Long: `hvp works with the HVP archive container used by the Obscure titles and
Final Exam. It auto-detects which platform variant an archive uses, unpacks
it losslessly, and repacks a directory back into a compatible archive,
reusing unchanged stored payloads from the previous archive.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-file", "", "append JSON logs to this file in addition to the console")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "only log errors to the console")

	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log_file", rootCmd.PersistentFlags().Lookup("log-file"))
	viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))

	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err}
	})

	rootCmd.AddCommand(extractCmd, createCmd, listCmd)
}

// initConfig reads environment variables, e.g. HVP_LOG_LEVEL=debug
func initConfig() {
	viper.SetEnvPrefix("HVP")
	viper.AutomaticEnv()
}

// setupLogging is called at the top of every subcommand's RunE.
func setupLogging() error {
	return logging.Setup(viper.GetString("log_level"), viper.GetString("log_file"), viper.GetBool("quiet"))
}

// usageError marks errors that should exit with code 2 instead of 1.
type usageError struct{ error }

// exactArgs is cobra.ExactArgs with usageError classification.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return usageError{fmt.Errorf("%q takes %d argument(s), got %d", cmd.CommandPath(), n, len(args))}
		}

		return nil
	}
}

// rangeArgs is cobra.RangeArgs with usageError classification.
func rangeArgs(min, max int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) < min || len(args) > max {
			return usageError{fmt.Errorf("%q takes %d to %d arguments, got %d", cmd.CommandPath(), min, max, len(args))}
		}

		return nil
	}
}

// profileIDs renders the registry for flag help text.
func profileIDs() string {
	ps := hvp.Profiles()
	ids := make([]string, 0, len(ps))
	for _, p := range ps {
		ids = append(ids, p.ID)
	}

	return strings.Join(ids, ", ")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)

		var uerr usageError
		if errors.As(err, &uerr) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
