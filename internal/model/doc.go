// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the conversation data types.
//
// # Key Types
//
//   - Turn: one user or assistant message with its timestamp
//   - History: append-only, chronologically ordered turns
//   - ModelInfo: a selectable remote model and its short alias
//
// # Usage
//
//	h := model.NewHistory()
//	h.Append(model.NewTurn(model.RoleUser, "你好", time.Now()))
//	outbound := h.Outbound(model.MaxOutboundTurns)
package model
