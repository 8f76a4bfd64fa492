/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"ophthograph/internal/auth"
	"ophthograph/internal/config"
	"ophthograph/internal/domain"
	"ophthograph/internal/library"
	applog "ophthograph/internal/log"
	"ophthograph/internal/remote"
	"ophthograph/internal/storage"
	"ophthograph/internal/syncer"
	"ophthograph/internal/telemetry"
)

// app is everything a library command works with.
type app struct {
	cfg    config.AppConfig
	store  *storage.Store
	lib    *library.Service
	orch   *syncer.Orchestrator
	server *remote.ServerSource
	out    *OutputFormatter
	in     *bufio.Reader
	log    *slog.Logger
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// openApp opens the library store in the configured data directory and wires the sync
// orchestrator to the configured remote.
func openApp(cmd *cobra.Command, opts *RootOptions) (*app, error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	dir := opts.cfg.General.DataDir
	if strings.TrimSpace(dir) == "" {
		return nil, NewExitError(ExitCommandError, "no data directory configured")
	}
	st, recovered, err := storage.OpenOrRecover(ctx, dir)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "open library", err)
	}
	a := &app{
		cfg:   opts.cfg,
		store: st,
		lib:   library.NewService(st),
		out:   newFormatter(opts, cmd),
		in:    bufio.NewReader(cmd.InOrStdin()),
		log:   applog.WithComponent("cli"),
	}
	if recovered {
		a.log.Warn("library database was corrupt and has been recreated", slog.String("dir", dir))
	}
	if opts.crash != nil {
		opts.crash.DataDir = dir
		opts.crash.Items = func() []domain.LibraryItem {
			items, _ := st.Load(context.Background())
			return items
		}
	}

	sopts := syncer.Options{
		Repo:         st,
		Gate:         auth.NewKeyringGate(a.promptSecret(cmd.ErrOrStderr())),
		Telemetry:    telemetry.Default(),
		SummaryLimit: opts.cfg.Sync.SummaryLimit,
	}
	if opts.Verbose {
		sopts.Notifier = syncer.LogNotifier{Log: a.log}
	}
	a.wireRemote(&sopts, opts.token)
	a.orch = syncer.New(sopts)
	return a, nil
}

func (a *app) wireRemote(sopts *syncer.Options, token string) {
	timeout := a.cfg.Backend.Timeout()
	switch config.ResolveMode(a.cfg) {
	case config.ModeServer:
		a.server = remote.NewServerSource(a.cfg.Backend.BaseURL, token, timeout, a.cfg.Backend.TLSInsecure)
		sopts.Source = a.server
		sopts.Deleter = a.server
	default:
		var community *remote.CommunityClient
		if strings.TrimSpace(a.cfg.Sync.CommunityURL) != "" {
			community = remote.NewCommunityClient(a.cfg.Sync.CommunityURL, timeout)
			sopts.Community = community
		}
		if strings.TrimSpace(a.cfg.Sync.StaticFeedURL) != "" || community != nil {
			sopts.Source = remote.NewStaticSource(a.cfg.Sync.StaticFeedURL, community, timeout)
		}
	}
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.log.Warn("close library", slog.Any("err", err))
	}
}

func (a *app) readLine() (string, error) {
	line, err := a.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (a *app) promptSecret(w io.Writer) auth.PromptFunc {
	return func(ctx context.Context, action string) (string, error) {
		fmt.Fprintf(w, "Admin secret for %s: ", action)
		return a.readLine()
	}
}

// confirm asks a yes/no question; assumeYes skips the prompt.
func (a *app) confirm(w io.Writer, question string, assumeYes bool) bool {
	if assumeYes {
		return true
	}
	fmt.Fprintf(w, "%s [y/N]: ", question)
	ans, err := a.readLine()
	if err != nil {
		return false
	}
	ans = strings.ToLower(ans)
	return ans == "y" || ans == "yes"
}

// withApp opens the app for one command and closes it afterwards.
func withApp(opts *RootOptions, cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	a, err := openApp(cmd, opts)
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return fn(ctx, a)
}
