// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util holds small helpers shared by the deepchat packages.
//
// File Operations:
//   - AtomicWriteFile: temp file, fsync, rename
//
// Text:
//   - RuneLen, TruncateRunes: character-based length and truncation
//   - EscapeLine, UnescapeLine: keep multi-line text on a single line
package util
