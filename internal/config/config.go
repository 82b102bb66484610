/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package config loads and saves the Taski user configuration.
// The YAML file lives in the per-user config directory; environment variables
// act as read-only runtime overrides and the backend token is kept in the OS keyring.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// CurrentVersion is the config_version written by Save.
const CurrentVersion = 1

type GeneralConfig struct {
	TelemetryOptIn bool   `yaml:"telemetry_opt_in"`
	UserID         string `yaml:"user_id"`
}

type BackendConfig struct {
	BaseURL     string `yaml:"base_url"`
	RealtimeURL string `yaml:"realtime_url"` // derived from base_url when empty
	TimeoutMs   int    `yaml:"timeout_ms"`
	TLSInsecure bool   `yaml:"tls_insecure"`
	Codec       string `yaml:"codec"` // "json" | "cbor"
	// Token is not stored on disk; it lives in the OS keychain.
}

// CanvasConfig holds the viewport tuning constants.
type CanvasConfig struct {
	MinScale     float64 `yaml:"min_scale"`
	MaxScale     float64 `yaml:"max_scale"`
	ZoomStep     float64 `yaml:"zoom_step"`
	Smoothing    float64 `yaml:"smoothing"`
	Epsilon      float64 `yaml:"epsilon"`
	WheelClamp   float64 `yaml:"wheel_clamp"`
	WheelDivisor float64 `yaml:"wheel_divisor"`
	FrameRate    int     `yaml:"frame_rate"`
}

type ServerConfig struct {
	Addr        string `yaml:"addr"`
	Driver      string `yaml:"driver"` // "postgres" | "sqlite"
	DatabaseURL string `yaml:"database_url"`
	SQLitePath  string `yaml:"sqlite_path"`
	FilesDir    string `yaml:"files_dir"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Source bool   `yaml:"source"`
	File   string `yaml:"file"`
}

type AppConfig struct {
	ConfigVersion int           `yaml:"config_version"`
	General       GeneralConfig `yaml:"general"`
	Backend       BackendConfig `yaml:"backend"`
	Canvas        CanvasConfig  `yaml:"canvas"`
	Server        ServerConfig  `yaml:"server"`
	Logging       LoggingConfig `yaml:"logging"`
}

// Defaults returns the application defaults.
func Defaults() AppConfig {
	return AppConfig{
		ConfigVersion: CurrentVersion,
		General:       GeneralConfig{TelemetryOptIn: false},
		Backend:       BackendConfig{BaseURL: "http://localhost:8080", TimeoutMs: 15000, Codec: "json"},
		Canvas: CanvasConfig{
			MinScale:     0.1,
			MaxScale:     5.0,
			ZoomStep:     1.2,
			Smoothing:    0.3,
			Epsilon:      0.0005,
			WheelClamp:   150,
			WheelDivisor: 300,
			FrameRate:    60,
		},
		Server: ServerConfig{
			Addr:       ":8080",
			Driver:     "sqlite",
			SQLitePath: "taski.db",
			FilesDir:   "files",
		},
		Logging: LoggingConfig{Level: "info", Format: "console"},
	}
}

// Env var names used as overrides.
const (
	EnvUserID           = "TASKI_USER_ID"
	EnvTelemetryOptIn   = "TASKI_TELEMETRY_OPT_IN"
	EnvBackendURL       = "TASKI_BACKEND_URL"
	EnvRealtimeURL      = "TASKI_REALTIME_URL"
	EnvBackendTimeoutMs = "TASKI_BACKEND_TIMEOUT_MS"
	EnvBackendTLSInsec  = "TASKI_TLS_INSECURE"
	EnvBackendCodec     = "TASKI_CODEC"
	EnvServerAddr       = "TASKI_ADDR"
	EnvServerDriver     = "TASKI_DB_DRIVER"
	EnvDatabaseURL      = "TASKI_DATABASE_URL"
	EnvSQLitePath       = "TASKI_SQLITE_PATH"
	EnvFilesDir         = "TASKI_FILES_DIR"
	EnvAuthSecret       = "TASKI_AUTH_SECRET"
	EnvLogLevel         = "TASKI_LOG_LEVEL"
	EnvLogFormat        = "TASKI_LOG_FORMAT"
	EnvLogSource        = "TASKI_LOG_SOURCE"
	EnvLogFile          = "TASKI_LOG_FILE"
	// EnvConfigPath points Load/Save at an explicit file.
	EnvConfigPath = "TASKI_CONFIG"
)

// Service/keys for OS keyring.
const (
	keyringService = "Taski"
	keyringToken   = "backend_token"
)

// ConfigPath returns the per-user config file path.
func ConfigPath() (string, error) {
	if p := strings.TrimSpace(os.Getenv(EnvConfigPath)); p != "" {
		return p, nil
	}
	var base string
	switch runtime.GOOS {
	case "windows":
		base = os.Getenv("AppData")
		if base == "" {
			base = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		base = filepath.Join(base, "Taski")
	case "darwin":
		base = filepath.Join(os.Getenv("HOME"), "Library", "Application Support", "Taski")
	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = filepath.Join(xdg, "taski")
		} else {
			base = filepath.Join(os.Getenv("HOME"), ".config", "taski")
		}
	}
	if base == "" {
		return "", errors.New("cannot resolve config directory")
	}
	return filepath.Join(base, "config.yaml"), nil
}

// Load reads the user config file (if present), applies defaults and merges
// environment overrides. The backend token is read from the keyring and returned
// separately; a missing token is not an error.
func Load() (AppConfig, string, error) {
	cfg, err := LoadFile()
	if err != nil {
		return cfg, "", err
	}
	applyEnvOverrides(&cfg)
	tok, _ := tokenStore.Get(keyringService, keyringToken)
	return cfg, tok, nil
}

// LoadFile returns the defaults merged with the config file, ignoring the
// environment. Use it to edit and Save the file.
func LoadFile() (AppConfig, error) {
	cfg := Defaults()
	path, err := ConfigPath()
	if err != nil {
		return cfg, err
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		var fileCfg AppConfig
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
		mergeInto(&cfg, &fileCfg)
	case !errors.Is(err, os.ErrNotExist):
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the user config YAML and persists the token into the OS keyring (if non-empty).
func Save(cfg AppConfig, token string) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	cfg.ConfigVersion = CurrentVersion
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return err
	}
	if token != "" {
		if err := tokenStore.Set(keyringService, keyringToken, token); err != nil {
			return fmt.Errorf("store token: %w", err)
		}
	}
	return nil
}

// ClearToken removes the backend token from the keyring.
func ClearToken() error {
	return tokenStore.Delete(keyringService, keyringToken)
}

func mergeInto(dst *AppConfig, src *AppConfig) {
	if src.ConfigVersion != 0 {
		dst.ConfigVersion = src.ConfigVersion
	}
	dst.General.TelemetryOptIn = src.General.TelemetryOptIn
	setStr(&dst.General.UserID, src.General.UserID)

	setStr(&dst.Backend.BaseURL, src.Backend.BaseURL)
	setStr(&dst.Backend.RealtimeURL, src.Backend.RealtimeURL)
	if src.Backend.TimeoutMs != 0 {
		dst.Backend.TimeoutMs = src.Backend.TimeoutMs
	}
	dst.Backend.TLSInsecure = src.Backend.TLSInsecure
	setLower(&dst.Backend.Codec, src.Backend.Codec)

	setPos(&dst.Canvas.MinScale, src.Canvas.MinScale)
	setPos(&dst.Canvas.MaxScale, src.Canvas.MaxScale)
	setPos(&dst.Canvas.ZoomStep, src.Canvas.ZoomStep)
	setPos(&dst.Canvas.Smoothing, src.Canvas.Smoothing)
	setPos(&dst.Canvas.Epsilon, src.Canvas.Epsilon)
	setPos(&dst.Canvas.WheelClamp, src.Canvas.WheelClamp)
	setPos(&dst.Canvas.WheelDivisor, src.Canvas.WheelDivisor)
	if src.Canvas.FrameRate > 0 {
		dst.Canvas.FrameRate = src.Canvas.FrameRate
	}

	setStr(&dst.Server.Addr, src.Server.Addr)
	setLower(&dst.Server.Driver, src.Server.Driver)
	setStr(&dst.Server.DatabaseURL, src.Server.DatabaseURL)
	setStr(&dst.Server.SQLitePath, src.Server.SQLitePath)
	setStr(&dst.Server.FilesDir, src.Server.FilesDir)

	setLower(&dst.Logging.Level, src.Logging.Level)
	setLower(&dst.Logging.Format, src.Logging.Format)
	dst.Logging.Source = src.Logging.Source
	setStr(&dst.Logging.File, src.Logging.File)
}

func setStr(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func setLower(dst *string, v string) {
	if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
		*dst = v
	}
}

func setPos(dst *float64, v float64) {
	if v > 0 {
		*dst = v
	}
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}

func applyEnvOverrides(cfg *AppConfig) {
	env := func(k string) string { return strings.TrimSpace(os.Getenv(k)) }
	setStr(&cfg.General.UserID, env(EnvUserID))
	if v := env(EnvTelemetryOptIn); v != "" {
		cfg.General.TelemetryOptIn = truthy(v)
	}
	setStr(&cfg.Backend.BaseURL, env(EnvBackendURL))
	setStr(&cfg.Backend.RealtimeURL, env(EnvRealtimeURL))
	if v := env(EnvBackendTimeoutMs); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Backend.TimeoutMs = n
		}
	}
	if v := env(EnvBackendTLSInsec); v != "" {
		cfg.Backend.TLSInsecure = truthy(v)
	}
	setLower(&cfg.Backend.Codec, env(EnvBackendCodec))
	setStr(&cfg.Server.Addr, env(EnvServerAddr))
	setLower(&cfg.Server.Driver, env(EnvServerDriver))
	setStr(&cfg.Server.DatabaseURL, env(EnvDatabaseURL))
	setStr(&cfg.Server.SQLitePath, env(EnvSQLitePath))
	setStr(&cfg.Server.FilesDir, env(EnvFilesDir))
	setLower(&cfg.Logging.Level, env(EnvLogLevel))
	setLower(&cfg.Logging.Format, env(EnvLogFormat))
	if v := env(EnvLogSource); v != "" {
		cfg.Logging.Source = truthy(v)
	}
	setStr(&cfg.Logging.File, env(EnvLogFile))
}

var envKeys = map[string]string{
	"general.user_id":          EnvUserID,
	"general.telemetry_opt_in": EnvTelemetryOptIn,
	"backend.base_url":         EnvBackendURL,
	"backend.realtime_url":     EnvRealtimeURL,
	"backend.timeout_ms":       EnvBackendTimeoutMs,
	"backend.tls_insecure":     EnvBackendTLSInsec,
	"backend.codec":            EnvBackendCodec,
	"server.addr":              EnvServerAddr,
	"server.driver":            EnvServerDriver,
	"server.database_url":      EnvDatabaseURL,
	"server.sqlite_path":       EnvSQLitePath,
	"server.files_dir":         EnvFilesDir,
	"logging.level":            EnvLogLevel,
	"logging.format":           EnvLogFormat,
	"logging.source":           EnvLogSource,
	"logging.file":             EnvLogFile,
}

// EnvOverrideFor returns the env var name if the field is overridden by environment variables.
func EnvOverrideFor(key string) (string, bool) {
	name, ok := envKeys[key]
	if !ok || os.Getenv(name) == "" {
		return "", false
	}
	return name, true
}

// Timeout returns the backend request timeout.
func (b BackendConfig) Timeout() time.Duration {
	if b.TimeoutMs <= 0 {
		return time.Duration(Defaults().Backend.TimeoutMs) * time.Millisecond
	}
	return time.Duration(b.TimeoutMs) * time.Millisecond
}

// RealtimeEndpoint returns the websocket URL, derived from BaseURL unless set explicitly.
func (b BackendConfig) RealtimeEndpoint() string {
	if b.RealtimeURL != "" {
		return b.RealtimeURL
	}
	u := strings.TrimRight(b.BaseURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/realtime"
}

// Keys lists the dotted keys accepted by Set, sorted.
func Keys() []string {
	keys := make([]string, 0, len(envKeys))
	for k := range envKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Set assigns a dotted key such as "backend.base_url" from its string form.
func Set(cfg *AppConfig, key, value string) error {
	v := strings.TrimSpace(value)
	atoi := func() (int, error) {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", key, err)
		}
		return n, nil
	}
	switch key {
	case "general.user_id":
		cfg.General.UserID = v
	case "general.telemetry_opt_in":
		cfg.General.TelemetryOptIn = truthy(v)
	case "backend.base_url":
		cfg.Backend.BaseURL = v
	case "backend.realtime_url":
		cfg.Backend.RealtimeURL = v
	case "backend.timeout_ms":
		n, err := atoi()
		if err != nil {
			return err
		}
		cfg.Backend.TimeoutMs = n
	case "backend.tls_insecure":
		cfg.Backend.TLSInsecure = truthy(v)
	case "backend.codec":
		v = strings.ToLower(v)
		if v != "json" && v != "cbor" {
			return fmt.Errorf("%s: unsupported codec %q", key, v)
		}
		cfg.Backend.Codec = v
	case "server.addr":
		cfg.Server.Addr = v
	case "server.driver":
		v = strings.ToLower(v)
		if v != "sqlite" && v != "postgres" {
			return fmt.Errorf("%s: unsupported driver %q", key, v)
		}
		cfg.Server.Driver = v
	case "server.database_url":
		cfg.Server.DatabaseURL = v
	case "server.sqlite_path":
		cfg.Server.SQLitePath = v
	case "server.files_dir":
		cfg.Server.FilesDir = v
	case "logging.level":
		cfg.Logging.Level = strings.ToLower(v)
	case "logging.format":
		cfg.Logging.Format = strings.ToLower(v)
	case "logging.source":
		cfg.Logging.Source = truthy(v)
	case "logging.file":
		cfg.Logging.File = v
	default:
		return fmt.Errorf("unknown config key %q", key)
	}
	return nil
}
