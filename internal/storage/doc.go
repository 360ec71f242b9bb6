// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists conversation summaries as plain text files.
//
// A summary file is named summary_<unix-ms>_<title>.txt and looks like:
//
//	标题：<title>
//	主旨：<synopsis>
//
//	对话历史：
//	2025/1/2 15:04:05 - 用户: <content>
//	2025/1/2 15:04:09 - AI: <content>
//
// Turns longer than the truncate length are stored as [**]. Newlines inside
// a turn are escaped so that each turn stays on one line.
//
// # Usage
//
//	store, err := storage.NewSummaryStore(dir, 300)
//	path, err := store.Save(history.Turns(), reply)
//	names, err := store.List()
//	sum, err := store.Load(1)
package storage
