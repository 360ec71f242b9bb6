// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides the persisted tunables and credentials for deepchat.
//
// The config is a fixed set of keys stored as TOML in <config-dir>/config.toml.
// The file is created with defaults on first run, missing keys are filled in
// on load, and every mutation through Store is written back immediately.
//
// # Key Types
//
//   - Config: the tunables (temperature, max_tokens, enable_stream, ...)
//   - Store: the live config, guarded for the watcher goroutine
//   - ValidationError: a rejected /set value
//   - Watcher: fsnotify-based change signal for external edits
//
// # Credentials
//
// The API key lives in <config-dir>/.env as DEEPSEEK_API_KEY. The process
// environment takes precedence over the file.
//
// # Usage
//
//	store, err := config.Open(config.ConfigPath(dir))
//	if err != nil {
//	    return err
//	}
//	change, err := store.Set("temperature", "1.2")
package config
