// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session owns the live conversation.
//
// A Session appends turns to the history, builds each request from the
// config as it is at that moment and hands summaries to the storage package.
// Only the most recent model.MaxOutboundTurns turns are sent; the rest stay
// in memory.
//
// # Key Types
//
//   - Session: history plus the config store and transport it talks through
//   - Completer: the single-method transport interface (*cloud.Client)
//   - FileNotFoundError: an /upload path that does not exist
//
// # Usage
//
//	sess := session.New(store, client, logger)
//	res, err := sess.SendTurn(ctx, "你好", handler)
//	path, err := sess.SaveSummary(ctx, handler)
package session
