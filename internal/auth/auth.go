/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package auth decides whether destructive library actions may proceed.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/zalando/go-keyring"

	"ophthograph/internal/config"
	applog "ophthograph/internal/log"
)

// Actions checked by the sync orchestrator.
const (
	ActionDedup  = "dedup"
	ActionDelete = "delete"
)

// ErrUnauthorized is returned when a gate rejects an action.
var ErrUnauthorized = errors.New("unauthorized")

// ErrNoSecret means no admin secret was ever stored, so every check fails.
var ErrNoSecret = errors.New("no admin secret configured")

// Gate reports whether action may proceed. A false result with a nil error is a plain
// rejection.
type Gate interface {
	Check(ctx context.Context, action string) (bool, error)
}

// GateFunc adapts a function to Gate.
type GateFunc func(ctx context.Context, action string) (bool, error)

func (f GateFunc) Check(ctx context.Context, action string) (bool, error) { return f(ctx, action) }

// Allow is a gate that approves everything.
var Allow Gate = GateFunc(func(context.Context, string) (bool, error) { return true, nil })

// Deny is a gate that rejects everything.
var Deny Gate = GateFunc(func(context.Context, string) (bool, error) { return false, nil })

// Require runs g and folds a rejection into ErrUnauthorized.
func Require(ctx context.Context, g Gate, action string) error {
	if g == nil {
		return fmt.Errorf("%s: %w", action, ErrUnauthorized)
	}
	ok, err := g.Check(ctx, action)
	if err != nil {
		return fmt.Errorf("%s: %w", action, err)
	}
	if !ok {
		return fmt.Errorf("%s: %w", action, ErrUnauthorized)
	}
	return nil
}

// PromptFunc asks the user for the admin secret for action.
type PromptFunc func(ctx context.Context, action string) (string, error)

// KeyringGate compares a prompted secret with the SHA-256 digest kept in the OS keyring.
type KeyringGate struct {
	Prompt PromptFunc
	log    *slog.Logger
}

func NewKeyringGate(prompt PromptFunc) *KeyringGate {
	return &KeyringGate{Prompt: prompt, log: applog.WithComponent("auth")}
}

func (g *KeyringGate) Check(ctx context.Context, action string) (bool, error) {
	want, err := keyring.Get(config.KeyringService, config.KeyringAdminSecret)
	if errors.Is(err, keyring.ErrNotFound) || (err == nil && want == "") {
		return false, ErrNoSecret
	}
	if err != nil {
		return false, fmt.Errorf("read admin secret: %w", err)
	}
	if g.Prompt == nil {
		return false, nil
	}
	secret, err := g.Prompt(ctx, action)
	if err != nil {
		return false, err
	}
	ok := subtle.ConstantTimeCompare([]byte(Digest(secret)), []byte(want)) == 1
	if !ok && g.log != nil {
		g.log.Warn("authorization rejected", slog.String("action", action))
	}
	return ok, nil
}

// Digest is the hex SHA-256 of the trimmed secret.
func Digest(secret string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(secret)))
	return hex.EncodeToString(sum[:])
}

// StoreSecret saves the digest of secret in the OS keyring. An empty secret removes it.
func StoreSecret(secret string) error {
	if strings.TrimSpace(secret) == "" {
		err := keyring.Delete(config.KeyringService, config.KeyringAdminSecret)
		if errors.Is(err, keyring.ErrNotFound) {
			return nil
		}
		return err
	}
	return keyring.Set(config.KeyringService, config.KeyringAdminSecret, Digest(secret))
}
