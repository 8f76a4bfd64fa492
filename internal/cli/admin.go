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
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"ophthograph/internal/auth"
	"ophthograph/internal/backend"
	"ophthograph/internal/config"
	applog "ophthograph/internal/log"
	"ophthograph/internal/remote"
	"ophthograph/internal/version"
)

// EnvAuthSecret signs the tokens issued by the serve command.
const EnvAuthSecret = "OPH_AUTH_SECRET"

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var addr, dsn string
	var memory bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the library server",
		Long: `Run the library server that clients in server mode sync with. Items live in
Postgres (server.database_url or --db), or in memory with --memory. Tokens are signed
with $` + EnvAuthSecret + `.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = rootOpts.cfg.Server.Addr
			}
			if dsn == "" {
				dsn = rootOpts.cfg.Server.DatabaseURL
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var store backend.ItemStore
			switch {
			case memory:
				store = backend.NewMemoryStore()
			case dsn != "":
				pg, err := backend.OpenPG(ctx, dsn)
				if err != nil {
					return WrapExitError(ExitCommandError, "open database", err)
				}
				defer pg.Close()
				store = pg
			default:
				return NewExitError(ExitCommandError, "set server.database_url, pass --db, or use --memory")
			}
			srv := backend.NewServer(store, os.Getenv(EnvAuthSecret))
			if err := backend.ListenAndServe(ctx, addr, srv.Handler()); err != nil {
				return WrapExitError(ExitFailure, "serve", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default: server.addr)")
	cmd.Flags().StringVar(&dsn, "db", "", "Postgres connection string (default: server.database_url)")
	cmd.Flags().BoolVar(&memory, "memory", false, "keep items in memory only")
	return cmd
}

// NewVersionCommand creates the version command.
func NewVersionCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(rootOpts, cmd)
			return out.Emit(version.String()+"\n", map[string]string{
				"version": version.Version,
				"commit":  version.Commit,
				"date":    version.Date,
			})
		},
	}
}

// NewLoginCommand creates the login command.
func NewLoginCommand(rootOpts *RootOptions) *cobra.Command {
	var subject string
	var logout bool
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Fetch a library server token and keep it in the OS keyring",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(rootOpts, cmd)
			if logout {
				if err := config.SetToken(""); err != nil {
					return out.Fail(err)
				}
				return out.Emit("Logged out.\n", map[string]bool{"logged_in": false})
			}
			cfg := rootOpts.cfg
			if strings.TrimSpace(cfg.Backend.BaseURL) == "" {
				return NewExitError(ExitCommandError, "backend.base_url is not configured")
			}
			if subject == "" {
				subject = cfg.Sync.UserName
			}
			src := remote.NewServerSource(cfg.Backend.BaseURL, "", cfg.Backend.Timeout(), cfg.Backend.TLSInsecure)
			tok, err := src.RequestToken(cmd.Context(), subject)
			if err != nil {
				return out.Fail(WrapExitError(ExitFailure, "request token", err))
			}
			if err := config.SetToken(tok); err != nil {
				return out.Fail(err)
			}
			applog.WithComponent("cli").Info("token stored", "subject", subject)
			return out.Emit("Logged in.\n", map[string]bool{"logged_in": true})
		},
	}
	cmd.Flags().StringVar(&subject, "as", "", "token subject (default: sync.user_name)")
	cmd.Flags().BoolVar(&logout, "logout", false, "remove the stored token")
	return cmd
}

// NewAdminSecretCommand creates the admin-secret command.
func NewAdminSecretCommand(rootOpts *RootOptions) *cobra.Command {
	var remove bool
	cmd := &cobra.Command{
		Use:   "admin-secret",
		Short: "Set the secret that guards duplicate removal and server deletes",
		Long:  "Reads the new admin secret from standard input and keeps only its SHA-256 digest in the OS keyring.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(rootOpts, cmd)
			if remove {
				if err := auth.StoreSecret(""); err != nil {
					return out.Fail(err)
				}
				return out.Emit("Admin secret removed.\n", map[string]bool{"set": false})
			}
			fmt.Fprint(cmd.ErrOrStderr(), "New admin secret: ")
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return WrapExitError(ExitCommandError, "read secret", err)
			}
			if strings.TrimSpace(line) == "" {
				return NewExitError(ExitCommandError, "empty secret; use --clear to remove it")
			}
			if err := auth.StoreSecret(line); err != nil {
				return out.Fail(err)
			}
			return out.Emit("Admin secret stored.\n", map[string]bool{"set": true})
		},
	}
	cmd.Flags().BoolVar(&remove, "clear", false, "remove the admin secret")
	return cmd
}
