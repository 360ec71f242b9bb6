// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/XueChenNyaCl/deepchat/internal/cloud"
	"github.com/XueChenNyaCl/deepchat/internal/model"
	"github.com/XueChenNyaCl/deepchat/internal/util"
)

// =============================================================================
// CONFIG STRUCT
// =============================================================================

// Config holds every tunable of the chat agent. All keys are always populated.
type Config struct {
	Temperature    float64 `toml:"temperature" json:"temperature"`
	MaxTokens      int     `toml:"max_tokens" json:"max_tokens"`
	EnableStream   bool    `toml:"enable_stream" json:"enable_stream"`
	TimeoutMs      int     `toml:"timeout_ms" json:"timeout_ms"`
	SummaryDir     string  `toml:"summary_dir" json:"summary_dir"`
	TruncateLength int     `toml:"truncate_length" json:"truncate_length"`
	CurrentModel   string  `toml:"current_model" json:"current_model"`
	AppName        string  `toml:"app_name" json:"app_name"`
	APIEndpoint    string  `toml:"api_endpoint" json:"api_endpoint"`
}

// Config keys, in display order.
const (
	KeyTemperature    = "temperature"
	KeyMaxTokens      = "max_tokens"
	KeyEnableStream   = "enable_stream"
	KeyTimeoutMs      = "timeout_ms"
	KeySummaryDir     = "summary_dir"
	KeyTruncateLength = "truncate_length"
	KeyCurrentModel   = "current_model"
	KeyAppName        = "app_name"
	KeyAPIEndpoint    = "api_endpoint"
)

// DefaultEndpoint is the DeepSeek chat-completions URL.
const DefaultEndpoint = cloud.DefaultEndpoint

// Default returns a new Config with default values.
func Default() *Config {
	return &Config{
		Temperature:    0.7,
		MaxTokens:      1000,
		EnableStream:   true,
		TimeoutMs:      10000,
		SummaryDir:     "./conversation_summaries",
		TruncateLength: 300,
		CurrentModel:   model.ModelChat,
		AppName:        "DeepSeek",
		APIEndpoint:    DefaultEndpoint,
	}
}

// Timeout returns TimeoutMs as a duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// String returns the TOML form of the config for debugging.
func (c *Config) String() string {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return buf.String()
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the default configuration directory (~/.deepchat).
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".deepchat"), nil
}

// ConfigPath returns the TOML config file inside dir.
func ConfigPath(dir string) string { return filepath.Join(dir, "config.toml") }

// EnvPath returns the .env file inside dir.
func EnvPath(dir string) string { return filepath.Join(dir, ".env") }

// HistoryPath returns the line-editor history file inside dir.
func HistoryPath(dir string) string { return filepath.Join(dir, "chat_history") }

// =============================================================================
// LOAD / SAVE
// =============================================================================

// LoadTOML decodes the file at path on top of the defaults. Keys that are
// missing or hold unusable values are reset to their defaults and returned.
func LoadTOML(path string) (*Config, []string, error) {
	cfg := Default()
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return cfg, fillDefaults(cfg, md), nil
}

func fillDefaults(cfg *Config, md toml.MetaData) []string {
	def := Default()
	var filled []string
	for _, st := range settings {
		if md.IsDefined(st.key) && st.sane(cfg) {
			continue
		}
		st.reset(cfg, def)
		filled = append(filled, st.key)
	}
	return filled
}

// SaveTOML writes cfg to path atomically with owner-only permissions.
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	fmt.Fprintln(&buf, "# deepchat configuration file")
	fmt.Fprintln(&buf, "# Generated by deepchat - edit with care, or use /set inside the REPL")
	fmt.Fprintln(&buf, "")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ErrUnknownKey is wrapped by a ValidationError naming a key that does not exist.
var ErrUnknownKey = errors.New("unknown config key")

// ValidationError reports a rejected value. The config is left unchanged.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("%s: %s (got %q)", e.Field, e.Reason, e.Value)
}

// Unwrap returns the underlying error.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(key, value, reason string) *ValidationError {
	return &ValidationError{Field: key, Value: value, Reason: reason}
}

// setting binds one key to its accessors.
type setting struct {
	key string
	get func(*Config) string
	// set validates raw and applies it. A non-empty warning is advisory.
	set   func(c *Config, raw string) (warning string, err error)
	reset func(c, def *Config)
	// sane reports whether a decoded value is usable without touching the filesystem.
	sane func(*Config) bool
}

func positiveInt(key, raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, invalid(key, raw, "must be an integer")
	}
	if n <= 0 {
		return 0, invalid(key, raw, "must be greater than 0")
	}
	return n, nil
}

var settings = []setting{
	{
		key: KeyTemperature,
		get: func(c *Config) string { return strconv.FormatFloat(c.Temperature, 'f', -1, 64) },
		set: func(c *Config, raw string) (string, error) {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
				return "", invalid(KeyTemperature, raw, "must be a number")
			}
			c.Temperature = v
			if v < 0 || v > 2 {
				return "temperature is usually between 0.0 and 2.0", nil
			}
			return "", nil
		},
		reset: func(c, d *Config) { c.Temperature = d.Temperature },
		sane:  func(c *Config) bool { return !math.IsNaN(c.Temperature) && !math.IsInf(c.Temperature, 0) },
	},
	{
		key: KeyMaxTokens,
		get: func(c *Config) string { return strconv.Itoa(c.MaxTokens) },
		set: func(c *Config, raw string) (string, error) {
			n, err := positiveInt(KeyMaxTokens, raw)
			if err != nil {
				return "", err
			}
			c.MaxTokens = n
			return "", nil
		},
		reset: func(c, d *Config) { c.MaxTokens = d.MaxTokens },
		sane:  func(c *Config) bool { return c.MaxTokens > 0 },
	},
	{
		key: KeyEnableStream,
		get: func(c *Config) string { return strconv.FormatBool(c.EnableStream) },
		set: func(c *Config, raw string) (string, error) {
			switch raw {
			case "true":
				c.EnableStream = true
			case "false":
				c.EnableStream = false
			default:
				return "", invalid(KeyEnableStream, raw, "must be true or false")
			}
			return "", nil
		},
		reset: func(c, d *Config) { c.EnableStream = d.EnableStream },
		sane:  func(*Config) bool { return true },
	},
	{
		key: KeyTimeoutMs,
		get: func(c *Config) string { return strconv.Itoa(c.TimeoutMs) },
		set: func(c *Config, raw string) (string, error) {
			n, err := positiveInt(KeyTimeoutMs, raw)
			if err != nil {
				return "", err
			}
			c.TimeoutMs = n
			return "", nil
		},
		reset: func(c, d *Config) { c.TimeoutMs = d.TimeoutMs },
		sane:  func(c *Config) bool { return c.TimeoutMs > 0 },
	},
	{
		key: KeySummaryDir,
		get: func(c *Config) string { return c.SummaryDir },
		set: func(c *Config, raw string) (string, error) {
			info, err := os.Stat(raw)
			if err != nil {
				return "", invalid(KeySummaryDir, raw, "directory does not exist")
			}
			if !info.IsDir() {
				return "", invalid(KeySummaryDir, raw, "not a directory")
			}
			c.SummaryDir = raw
			return "", nil
		},
		reset: func(c, d *Config) { c.SummaryDir = d.SummaryDir },
		sane:  func(c *Config) bool { return strings.TrimSpace(c.SummaryDir) != "" },
	},
	{
		key: KeyTruncateLength,
		get: func(c *Config) string { return strconv.Itoa(c.TruncateLength) },
		set: func(c *Config, raw string) (string, error) {
			n, err := positiveInt(KeyTruncateLength, raw)
			if err != nil {
				return "", err
			}
			c.TruncateLength = n
			return "", nil
		},
		reset: func(c, d *Config) { c.TruncateLength = d.TruncateLength },
		sane:  func(c *Config) bool { return c.TruncateLength > 0 },
	},
	{
		key: KeyCurrentModel,
		get: func(c *Config) string { return c.CurrentModel },
		set: func(c *Config, raw string) (string, error) {
			info, ok := model.ResolveModel(raw)
			if !ok {
				return "", invalid(KeyCurrentModel, raw,
					"must be one of "+strings.Join(model.ModelIDs(), ", "))
			}
			c.CurrentModel = info.ID
			return "", nil
		},
		reset: func(c, d *Config) { c.CurrentModel = d.CurrentModel },
		sane: func(c *Config) bool {
			_, ok := model.ResolveModel(c.CurrentModel)
			return ok
		},
	},
	{
		key: KeyAppName,
		get: func(c *Config) string { return c.AppName },
		set: func(c *Config, raw string) (string, error) {
			name := strings.TrimSpace(raw)
			if name == "" {
				return "", invalid(KeyAppName, raw, "must not be empty")
			}
			c.AppName = name
			return "", nil
		},
		reset: func(c, d *Config) { c.AppName = d.AppName },
		sane:  func(c *Config) bool { return strings.TrimSpace(c.AppName) != "" },
	},
	{
		key: KeyAPIEndpoint,
		get: func(c *Config) string { return c.APIEndpoint },
		set: func(c *Config, raw string) (string, error) {
			endpoint, err := ValidateEndpoint(raw)
			if err != nil {
				return "", err
			}
			c.APIEndpoint = endpoint
			return "", nil
		},
		reset: func(c, d *Config) { c.APIEndpoint = d.APIEndpoint },
		sane: func(c *Config) bool {
			_, err := ValidateEndpoint(c.APIEndpoint)
			return err == nil
		},
	},
}

var aliases = map[string]string{
	"stream":   KeyEnableStream,
	"timeout":  KeyTimeoutMs,
	"name":     KeyAppName,
	"model":    KeyCurrentModel,
	"endpoint": KeyAPIEndpoint,
}

// NormalizeKey maps a user-typed key (any case, dashes, short aliases) to its
// canonical name. ok is false for unknown keys.
func NormalizeKey(key string) (string, bool) {
	k := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(key)), "-", "_")
	if canonical, ok := aliases[k]; ok {
		k = canonical
	}
	_, ok := lookup(k)
	return k, ok
}

func lookup(key string) (*setting, bool) {
	for i := range settings {
		if settings[i].key == key {
			return &settings[i], true
		}
	}
	return nil, false
}

// Keys returns every config key in display order.
func Keys() []string {
	keys := make([]string, len(settings))
	for i, st := range settings {
		keys[i] = st.key
	}
	return keys
}

// =============================================================================
// STORE
// =============================================================================

// Change describes one applied mutation.
type Change struct {
	Key     string
	Old     string
	New     string
	Warning string
}

// Entry is one key/value pair for display.
type Entry struct {
	Key   string
	Value string
}

// Store owns the live config and persists it after every mutation.
// The file watcher may run on another goroutine, so access is guarded.
type Store struct {
	mu   sync.RWMutex
	path string
	cfg  Config
}

// Open loads the config file at path, creating it with defaults when absent.
// Missing keys are filled from defaults and written back.
func Open(path string) (*Store, error) {
	s := &Store{path: path}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		s.cfg = *Default()
		if err := SaveTOML(&s.cfg, path); err != nil {
			return nil, err
		}
		return s, nil
	}

	cfg, filled, err := LoadTOML(path)
	if err != nil {
		return nil, err
	}
	s.cfg = *cfg
	if len(filled) > 0 {
		if err := SaveTOML(&s.cfg, path); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// NewMemoryStore returns a store that is never persisted. Used by tests.
func NewMemoryStore(cfg Config) *Store {
	return &Store{cfg: cfg}
}

// Path returns the backing file, or "" for a memory store.
func (s *Store) Path() string { return s.path }

// Config returns a copy of the current config.
func (s *Store) Config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Get returns the display value of key.
func (s *Store) Get(key string) (string, error) {
	st, err := s.resolve(key)
	if err != nil {
		return "", err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return st.get(&s.cfg), nil
}

// Entries returns every key with its current value, in display order.
func (s *Store) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, len(settings))
	for i, st := range settings {
		out[i] = Entry{Key: st.key, Value: st.get(&s.cfg)}
	}
	return out
}

// Set validates value for key, applies it and persists. On any error the
// config is unchanged.
func (s *Store) Set(key, value string) (Change, error) {
	st, err := s.resolve(key)
	if err != nil {
		return Change{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cfg
	warning, err := st.set(&next, strings.TrimSpace(value))
	if err != nil {
		return Change{}, err
	}
	change := Change{Key: st.key, Old: st.get(&s.cfg), New: st.get(&next), Warning: warning}
	if err := s.commit(next); err != nil {
		return Change{}, err
	}
	return change, nil
}

// Reset restores the default of one key and persists.
func (s *Store) Reset(key string) (Change, error) {
	st, err := s.resolve(key)
	if err != nil {
		return Change{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cfg
	st.reset(&next, Default())
	change := Change{Key: st.key, Old: st.get(&s.cfg), New: st.get(&next)}
	if err := s.commit(next); err != nil {
		return Change{}, err
	}
	return change, nil
}

// ResetAll restores every default and persists.
func (s *Store) ResetAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commit(*Default())
}

// Reload re-reads the backing file. changed reports whether the live config
// differs afterwards. On error the live config is kept.
func (s *Store) Reload() (bool, error) {
	if s.path == "" {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, _, err := LoadTOML(s.path)
	if err != nil {
		return false, err
	}
	if *cfg == s.cfg {
		return false, nil
	}
	s.cfg = *cfg
	return true, nil
}

// commit persists next and makes it live. Callers hold s.mu.
func (s *Store) commit(next Config) error {
	if s.path != "" {
		if err := SaveTOML(&next, s.path); err != nil {
			return err
		}
	}
	s.cfg = next
	return nil
}

func (s *Store) resolve(key string) (*setting, error) {
	canonical, ok := NormalizeKey(key)
	if !ok {
		return nil, &ValidationError{Field: key, Reason: "unknown setting", Err: ErrUnknownKey}
	}
	st, _ := lookup(canonical)
	return st, nil
}
