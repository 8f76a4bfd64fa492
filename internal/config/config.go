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
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/zalando/go-keyring"
	"gopkg.in/yaml.v3"

	applog "ophthograph/internal/log"
)

// AppConfig is the user-editable configuration persisted to a YAML file in the user scope.
// Environment variables are read-only overrides applied at load time. Secrets (the
// backend token and the admin secret) never touch the file; they live in the OS keyring.
//
// config_version: bump when the structure changes in a backward-incompatible way.
type AppConfig struct {
	ConfigVersion int           `yaml:"config_version"`
	General       GeneralConfig `yaml:"general"`
	Sync          SyncConfig    `yaml:"sync"`
	Backend       BackendConfig `yaml:"backend"`
	Server        ServerConfig  `yaml:"server"`
	Logging       LoggingConfig `yaml:"logging"`
}

type GeneralConfig struct {
	TelemetryOptIn bool   `yaml:"telemetry_opt_in"`
	DataDir        string `yaml:"data_dir"`
}

// SyncConfig selects and tunes the remote the library syncs with.
type SyncConfig struct {
	Mode           string `yaml:"mode"` // "auto" | "static" | "server"
	StaticFeedURL  string `yaml:"static_feed_url"`
	CommunityURL   string `yaml:"community_url"`
	StartupDelayMs int    `yaml:"startup_delay_ms"`
	SummaryLimit   int    `yaml:"summary_limit"`
	UserName       string `yaml:"user_name"`
}

// BackendConfig points the client at a live library API.
type BackendConfig struct {
	BaseURL     string `yaml:"base_url"`
	TimeoutMs   int    `yaml:"timeout_ms"`
	TLSInsecure bool   `yaml:"tls_insecure"`
	// Token is not stored on disk; it lives in the OS keychain.
}

// ServerConfig configures the reference backend started by the serve command.
type ServerConfig struct {
	Addr        string `yaml:"addr"`
	DatabaseURL string `yaml:"database_url"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Source bool   `yaml:"source"`
	File   string `yaml:"file"`
}

// Sync modes.
const (
	ModeAuto   = "auto"
	ModeStatic = "static"
	ModeServer = "server"
)

// Defaults returns the application defaults.
func Defaults() AppConfig {
	return AppConfig{
		ConfigVersion: 1,
		General:       GeneralConfig{TelemetryOptIn: false},
		Sync:          SyncConfig{Mode: ModeAuto, StartupDelayMs: 1500, SummaryLimit: 5},
		Backend:       BackendConfig{TimeoutMs: 15000},
		Server:        ServerConfig{Addr: ":8080"},
		Logging:       LoggingConfig{Level: "info", Format: "console"},
	}
}

// Env var names used as overrides.
const (
	EnvConfigPath       = "OPH_CONFIG"
	EnvDataDir          = "OPH_DATA_DIR"
	EnvMode             = "OPH_MODE"
	EnvStaticFeedURL    = "OPH_STATIC_FEED_URL"
	EnvCommunityURL     = "OPH_COMMUNITY_URL"
	EnvStartupDelayMs   = "OPH_STARTUP_DELAY_MS"
	EnvUserName         = "OPH_USER_NAME"
	EnvBackendURL       = "OPH_BACKEND_URL"
	EnvBackendTimeoutMs = "OPH_BACKEND_TIMEOUT_MS"
	EnvBackendTLSInsec  = "OPH_TLS_INSECURE"
	EnvServerAddr       = "OPH_SERVER_ADDR"
	EnvDatabaseURL      = "OPH_DATABASE_URL"
	EnvTelemetryOptIn   = "OPH_TELEMETRY_OPT_IN"
	// Logging envs are owned by the log package.
	EnvLogLevel  = applog.EnvLevel
	EnvLogFormat = applog.EnvFormat
	EnvLogSource = applog.EnvSource
	EnvLogFile   = applog.EnvFile
)

// Service/keys for OS keyring.
const (
	KeyringService     = "Ophthograph"
	KeyringToken       = "backend_token"
	KeyringAdminSecret = "admin_secret"
)

// tokenStore abstracts keyring, so we can stub in tests.
var tokenStore TokenStore = osKeyring{}

type TokenStore interface {
	Get(service, key string) (string, error)
	Set(service, key, value string) error
	Delete(service, key string) error
}

// osKeyring implements TokenStore using the OS keyring via github.com/zalando/go-keyring.
type osKeyring struct{}

func (osKeyring) Get(service, key string) (string, error) { return keyring.Get(service, key) }
func (osKeyring) Set(service, key, value string) error    { return keyring.Set(service, key, value) }
func (osKeyring) Delete(service, key string) error        { return keyring.Delete(service, key) }

// ConfigPath returns the per-user config file path. OPH_CONFIG overrides it.
func ConfigPath() (string, error) {
	if p := strings.TrimSpace(os.Getenv(EnvConfigPath)); p != "" {
		return p, nil
	}
	base, err := appDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "config.yaml"), nil
}

// DefaultDataDir is where the library database lives unless configured otherwise.
func DefaultDataDir() (string, error) {
	base, err := appDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "data"), nil
}

func appDir() (string, error) {
	var base string
	switch runtime.GOOS {
	case "windows":
		base = os.Getenv("AppData")
		if base == "" {
			base = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		base = filepath.Join(base, "Ophthograph")
	case "darwin":
		base = filepath.Join(os.Getenv("HOME"), "Library", "Application Support", "Ophthograph")
	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = filepath.Join(xdg, "ophthograph")
		} else {
			base = filepath.Join(os.Getenv("HOME"), ".config", "ophthograph")
		}
	}
	if base == "" || base == "Ophthograph" {
		return "", errors.New("cannot resolve config directory")
	}
	return base, nil
}

// Load reads the user config file at ConfigPath. See LoadFrom.
func Load() (AppConfig, string, error) {
	path, err := ConfigPath()
	if err != nil {
		return Defaults(), "", err
	}
	return LoadFrom(path)
}

// LoadFrom reads the config file at path (a missing file is fine), applies defaults and
// environment overrides, and returns the backend token from the keyring separately.
func LoadFrom(path string) (AppConfig, string, error) {
	cfg := Defaults()
	if data, err := os.ReadFile(path); err == nil {
		var fileCfg AppConfig
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return cfg, "", fmt.Errorf("parse %s: %w", path, err)
		}
		mergeInto(&cfg, &fileCfg)
	} else if !errors.Is(err, os.ErrNotExist) {
		return cfg, "", fmt.Errorf("read %s: %w", path, err)
	}
	applyEnvOverrides(&cfg)
	if cfg.General.DataDir == "" {
		if dir, err := DefaultDataDir(); err == nil {
			cfg.General.DataDir = dir
		}
	}
	if err := cfg.Validate(); err != nil {
		return cfg, "", err
	}
	tok, _ := tokenStore.Get(KeyringService, KeyringToken)
	return cfg, tok, nil
}

// Save writes the user config YAML to ConfigPath and persists the token into the OS
// keyring (if non-empty).
func Save(cfg AppConfig, token string) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return SaveTo(path, cfg, token)
}

// SaveTo is Save with an explicit path.
func SaveTo(path string, cfg AppConfig, token string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return err
	}
	if token != "" {
		if err := tokenStore.Set(KeyringService, KeyringToken, token); err != nil {
			return fmt.Errorf("store token: %w", err)
		}
	}
	return nil
}

// SetToken stores the backend token in the OS keyring. An empty token removes it.
func SetToken(token string) error {
	if strings.TrimSpace(token) == "" {
		if err := tokenStore.Delete(KeyringService, KeyringToken); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("delete token: %w", err)
		}
		return nil
	}
	if err := tokenStore.Set(KeyringService, KeyringToken, strings.TrimSpace(token)); err != nil {
		return fmt.Errorf("store token: %w", err)
	}
	return nil
}

// Validate rejects settings no component could work with.
func (c AppConfig) Validate() error {
	switch c.Sync.Mode {
	case ModeAuto, ModeStatic, ModeServer:
	default:
		return fmt.Errorf("sync.mode %q: want auto, static or server", c.Sync.Mode)
	}
	if c.Sync.Mode == ModeServer && strings.TrimSpace(c.Backend.BaseURL) == "" {
		return errors.New("sync.mode server requires backend.base_url")
	}
	for name, raw := range map[string]string{
		"sync.static_feed_url": c.Sync.StaticFeedURL,
		"sync.community_url":   c.Sync.CommunityURL,
		"backend.base_url":     c.Backend.BaseURL,
	} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%s %q is not an http(s) URL", name, raw)
		}
	}
	if c.Sync.SummaryLimit < 0 {
		return fmt.Errorf("sync.summary_limit must not be negative, got %d", c.Sync.SummaryLimit)
	}
	return nil
}

// ResolveMode turns the configured mode into the one in effect: auto picks server
// when a backend URL is configured and static otherwise.
func ResolveMode(c AppConfig) string {
	switch c.Sync.Mode {
	case ModeStatic, ModeServer:
		return c.Sync.Mode
	}
	if strings.TrimSpace(c.Backend.BaseURL) != "" {
		return ModeServer
	}
	return ModeStatic
}

func mergeInto(dst *AppConfig, src *AppConfig) {
	if src.ConfigVersion != 0 {
		dst.ConfigVersion = src.ConfigVersion
	}
	// booleans: copy directly from src (file) so user preferences persist
	dst.General.TelemetryOptIn = src.General.TelemetryOptIn
	if v := strings.TrimSpace(src.General.DataDir); v != "" {
		dst.General.DataDir = v
	}
	if v := strings.ToLower(strings.TrimSpace(src.Sync.Mode)); v != "" {
		dst.Sync.Mode = v
	}
	if v := strings.TrimSpace(src.Sync.StaticFeedURL); v != "" {
		dst.Sync.StaticFeedURL = v
	}
	if v := strings.TrimSpace(src.Sync.CommunityURL); v != "" {
		dst.Sync.CommunityURL = v
	}
	if src.Sync.StartupDelayMs != 0 {
		dst.Sync.StartupDelayMs = src.Sync.StartupDelayMs
	}
	if src.Sync.SummaryLimit != 0 {
		dst.Sync.SummaryLimit = src.Sync.SummaryLimit
	}
	if v := strings.TrimSpace(src.Sync.UserName); v != "" {
		dst.Sync.UserName = v
	}
	if src.Backend.BaseURL != "" {
		dst.Backend.BaseURL = strings.TrimRight(src.Backend.BaseURL, "/")
	}
	if src.Backend.TimeoutMs != 0 {
		dst.Backend.TimeoutMs = src.Backend.TimeoutMs
	}
	dst.Backend.TLSInsecure = src.Backend.TLSInsecure
	if src.Server.Addr != "" {
		dst.Server.Addr = src.Server.Addr
	}
	if src.Server.DatabaseURL != "" {
		dst.Server.DatabaseURL = src.Server.DatabaseURL
	}
	if strings.TrimSpace(src.Logging.Level) != "" {
		dst.Logging.Level = strings.ToLower(strings.TrimSpace(src.Logging.Level))
	}
	if strings.TrimSpace(src.Logging.Format) != "" {
		dst.Logging.Format = strings.ToLower(strings.TrimSpace(src.Logging.Format))
	}
	dst.Logging.Source = src.Logging.Source
	if strings.TrimSpace(src.Logging.File) != "" {
		dst.Logging.File = strings.TrimSpace(src.Logging.File)
	}
}

func truthy(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}

func applyEnvOverrides(cfg *AppConfig) {
	str := func(env string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			*dst = v
		}
	}
	num := func(env string, dst *int) {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	flag := func(env string, dst *bool) {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			*dst = truthy(v)
		}
	}

	str(EnvDataDir, &cfg.General.DataDir)
	flag(EnvTelemetryOptIn, &cfg.General.TelemetryOptIn)
	str(EnvMode, &cfg.Sync.Mode)
	cfg.Sync.Mode = strings.ToLower(cfg.Sync.Mode)
	str(EnvStaticFeedURL, &cfg.Sync.StaticFeedURL)
	str(EnvCommunityURL, &cfg.Sync.CommunityURL)
	num(EnvStartupDelayMs, &cfg.Sync.StartupDelayMs)
	str(EnvUserName, &cfg.Sync.UserName)
	str(EnvBackendURL, &cfg.Backend.BaseURL)
	cfg.Backend.BaseURL = strings.TrimRight(cfg.Backend.BaseURL, "/")
	num(EnvBackendTimeoutMs, &cfg.Backend.TimeoutMs)
	flag(EnvBackendTLSInsec, &cfg.Backend.TLSInsecure)
	str(EnvServerAddr, &cfg.Server.Addr)
	str(EnvDatabaseURL, &cfg.Server.DatabaseURL)
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFormat)); v != "" {
		cfg.Logging.Format = strings.ToLower(v)
	}
	flag(EnvLogSource, &cfg.Logging.Source)
	str(EnvLogFile, &cfg.Logging.File)
}

// envKeys maps dotted config keys to the env var overriding them.
var envKeys = map[string]string{
	"general.data_dir":         EnvDataDir,
	"general.telemetry_opt_in": EnvTelemetryOptIn,
	"sync.mode":                EnvMode,
	"sync.static_feed_url":     EnvStaticFeedURL,
	"sync.community_url":       EnvCommunityURL,
	"sync.startup_delay_ms":    EnvStartupDelayMs,
	"sync.user_name":           EnvUserName,
	"backend.base_url":         EnvBackendURL,
	"backend.timeout_ms":       EnvBackendTimeoutMs,
	"backend.tls_insecure":     EnvBackendTLSInsec,
	"server.addr":              EnvServerAddr,
	"server.database_url":      EnvDatabaseURL,
	"logging.level":            EnvLogLevel,
	"logging.format":           EnvLogFormat,
	"logging.source":           EnvLogSource,
	"logging.file":             EnvLogFile,
}

// EnvOverrideFor returns the env var name if the field is overridden by environment variables.
func EnvOverrideFor(key string) (string, bool) {
	env, ok := envKeys[key]
	if !ok || os.Getenv(env) == "" {
		return "", false
	}
	return env, true
}

// Timeout returns the backend request timeout.
func (b BackendConfig) Timeout() time.Duration {
	if b.TimeoutMs <= 0 {
		return time.Duration(Defaults().Backend.TimeoutMs) * time.Millisecond
	}
	return time.Duration(b.TimeoutMs) * time.Millisecond
}

// StartupDelay returns the pause between the silent dedup pass and the silent pull.
func (s SyncConfig) StartupDelay() time.Duration {
	if s.StartupDelayMs < 0 {
		return 0
	}
	return time.Duration(s.StartupDelayMs) * time.Millisecond
}

