/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

type memTokens map[string]string

func (m memTokens) Get(service, key string) (string, error) { return m[service+"/"+key], nil }
func (m memTokens) Set(service, key, value string) error {
	m[service+"/"+key] = value
	return nil
}
func (m memTokens) Delete(service, key string) error {
	delete(m, service+"/"+key)
	return nil
}

func useMemTokens(t *testing.T) memTokens {
	t.Helper()
	old := tokenStore
	m := memTokens{}
	tokenStore = m
	t.Cleanup(func() { tokenStore = old })
	return m
}

func TestEnvOverridesBackendURL(t *testing.T) {
	useMemTokens(t)
	t.Setenv(EnvBackendURL, "https://example.test:8443/")
	cfg, _, err := LoadFrom(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadFrom() error: %v", err)
	}
	if got, want := cfg.Backend.BaseURL, "https://example.test:8443"; got != want {
		t.Fatalf("Backend.BaseURL = %q, want %q", got, want)
	}
	if got := ResolveMode(cfg); got != ModeServer {
		t.Fatalf("ResolveMode = %q, want %q", got, ModeServer)
	}
}

func TestEnvOverridesTelemetry(t *testing.T) {
	useMemTokens(t)
	t.Setenv(EnvTelemetryOptIn, "true")
	cfg, _, err := LoadFrom(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadFrom() error: %v", err)
	}
	if !cfg.General.TelemetryOptIn {
		t.Fatalf("General.TelemetryOptIn expected true from env override")
	}
}

func TestLoadFromFileAndTokenRoundTrip(t *testing.T) {
	tokens := useMemTokens(t)
	t.Setenv(EnvBackendURL, "")
	path := filepath.Join(t.TempDir(), "cfg", "config.yaml")
	cfg := Defaults()
	cfg.Sync.Mode = ModeStatic
	cfg.Sync.StaticFeedURL = "https://cdn.example.test/library.json"
	cfg.Sync.UserName = "dr.kim"
	cfg.General.DataDir = "/tmp/oph-data"
	if err := SaveTo(path, cfg, "s3cret"); err != nil {
		t.Fatalf("SaveTo: %v", err)
	}
	if tokens[KeyringService+"/"+KeyringToken] != "s3cret" {
		t.Fatalf("token not stored in keyring")
	}

	got, tok, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if tok != "s3cret" {
		t.Fatalf("token = %q, want %q", tok, "s3cret")
	}
	if got.Sync.StaticFeedURL != cfg.Sync.StaticFeedURL || got.Sync.UserName != "dr.kim" || got.General.DataDir != "/tmp/oph-data" {
		t.Fatalf("round trip mismatch: %#v", got.Sync)
	}
	if got.Sync.SummaryLimit != 5 || got.Sync.StartupDelay() != 1500*time.Millisecond {
		t.Fatalf("defaults not kept: %#v", got.Sync)
	}
	if ResolveMode(got) != ModeStatic {
		t.Fatalf("ResolveMode = %q, want static", ResolveMode(got))
	}
}

func TestLoadFromRejectsBadFiles(t *testing.T) {
	useMemTokens(t)
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("sync: [unclosed"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, _, err := LoadFrom(bad); err == nil {
		t.Fatalf("expected parse error")
	}

	invalid := filepath.Join(dir, "invalid.yaml")
	if err := os.WriteFile(invalid, []byte("sync:\n  mode: carrier-pigeon\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, _, err := LoadFrom(invalid); err == nil {
		t.Fatalf("expected validation error for unknown mode")
	}
}

func TestValidate(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	cfg.Sync.Mode = ModeServer
	if err := cfg.Validate(); err == nil {
		t.Fatalf("server mode without backend URL should fail")
	}
	cfg.Backend.BaseURL = "ftp://example.test"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("non-http backend URL should fail")
	}
	cfg.Backend.BaseURL = "http://localhost:8080"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid server config rejected: %v", err)
	}
	cfg.Sync.SummaryLimit = -1
	if err := cfg.Validate(); err == nil {
		t.Fatalf("negative summary limit should fail")
	}
}

func TestMergeIncludesLogging(t *testing.T) {
	dst := Defaults()
	src := Defaults()
	src.Logging.Level = "DEBUG"
	src.Logging.Format = "json"
	src.Logging.Source = true
	src.Logging.File = "/tmp/oph.log"
	mergeInto(&dst, &src)
	if dst.Logging.Level != "debug" || dst.Logging.Format != "json" || !dst.Logging.Source || dst.Logging.File != "/tmp/oph.log" {
		t.Fatalf("logging fields not merged correctly: %#v", dst.Logging)
	}
}

func TestEnvOverridesLogging(t *testing.T) {
	useMemTokens(t)
	t.Setenv(EnvLogLevel, "error")
	t.Setenv(EnvLogFormat, "json")
	t.Setenv(EnvLogSource, "1")
	t.Setenv(EnvLogFile, "/tmp/oph.log")
	cfg, _, err := LoadFrom(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadFrom() error: %v", err)
	}
	if cfg.Logging.Level != "error" || cfg.Logging.Format != "json" || !cfg.Logging.Source || cfg.Logging.File != "/tmp/oph.log" {
		t.Fatalf("env overrides not applied to logging: %#v", cfg.Logging)
	}
	if env, ok := EnvOverrideFor("logging.level"); !ok || env != EnvLogLevel {
		t.Fatalf("EnvOverrideFor(logging.level) = %q, %v", env, ok)
	}
	if _, ok := EnvOverrideFor("sync.mode"); ok {
		t.Fatalf("sync.mode should not be overridden")
	}
}

func TestSetToken(t *testing.T) {
	m := useMemTokens(t)
	if err := SetToken("  abc  "); err != nil {
		t.Fatalf("SetToken: %v", err)
	}
	if got := m[KeyringService+"/"+KeyringToken]; got != "abc" {
		t.Fatalf("stored token = %q, want %q", got, "abc")
	}
	_, tok, err := LoadFrom(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil || tok != "abc" {
		t.Fatalf("LoadFrom token = (%q, %v), want abc", tok, err)
	}
	if err := SetToken(""); err != nil {
		t.Fatalf("SetToken(\"\"): %v", err)
	}
	if _, ok := m[KeyringService+"/"+KeyringToken]; ok {
		t.Fatalf("token should be removed")
	}
}
