/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package cli is the ophthograph command line.
package cli

import (
	"context"
	"fmt"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"ophthograph/internal/config"
	"ophthograph/internal/crash"
	applog "ophthograph/internal/log"
	"ophthograph/internal/telemetry"
)

// RootOptions holds global flags for all commands and the config they resolve to.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	DataDir    string

	cfg   config.AppConfig
	token string
	crash *crash.Handle
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&crash.Handle{})
}

func newRootCommand(h *crash.Handle) *cobra.Command {
	opts := &RootOptions{crash: h}

	cmd := &cobra.Command{
		Use:   "ophthograph",
		Short: "Ophthograph - infographic library sync",
		Long: `Keeps a local library of ophthalmology infographics in sync with a static feed,
the community pool or a library server, with duplicate detection and chapter sorting.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return opts.load(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			telemetry.Default().Flush(cmd.Context())
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "config file (default: per-user config.yaml, or $OPH_CONFIG)")
	cmd.PersistentFlags().StringVar(&opts.DataDir, "data-dir", "", "library data directory (overrides config)")

	cmd.AddCommand(NewOpenCommand(opts))
	cmd.AddCommand(NewPullCommand(opts))
	cmd.AddCommand(NewPushCommand(opts))
	cmd.AddCommand(NewDedupCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewAddCommand(opts))
	cmd.AddCommand(NewRenameCommand(opts))
	cmd.AddCommand(NewChapterCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewSearchCommand(opts))
	cmd.AddCommand(NewChaptersCommand(opts))
	cmd.AddCommand(NewClassifyCommand(opts))
	cmd.AddCommand(NewLoginCommand(opts))
	cmd.AddCommand(NewAdminSecretCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewVersionCommand(opts))

	return cmd
}

// load reads the config, then sets up logging and telemetry from it.
func (o *RootOptions) load(cmd *cobra.Command) error {
	var (
		cfg config.AppConfig
		tok string
		err error
	)
	if o.ConfigPath != "" {
		cfg, tok, err = config.LoadFrom(o.ConfigPath)
	} else {
		cfg, tok, err = config.Load()
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "load config", err)
	}
	if o.DataDir != "" {
		cfg.General.DataDir = o.DataDir
	}
	o.cfg, o.token = cfg, tok

	lvl := cfg.Logging.Level
	if o.Verbose {
		lvl = "debug"
	}
	applog.Init(applog.Options{
		Level:     lvl,
		Format:    cfg.Logging.Format,
		AddSource: cfg.Logging.Source,
		File:      cfg.Logging.File,
		Writer:    cmd.ErrOrStderr(),
	})

	tcfg := telemetry.FromEnv()
	tcfg.OptIn = tcfg.OptIn || cfg.General.TelemetryOptIn
	telemetry.SetDefault(telemetry.New(tcfg))
	return nil
}

// Execute runs the CLI with panic recovery and returns the process exit code.
func Execute(ctx context.Context) int {
	h := &crash.Handle{}
	defer crash.Recover(h)

	cmd := newRootCommand(h)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return GetExitCode(err)
	}
	return ExitSuccess
}
