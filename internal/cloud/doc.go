// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cloud talks to an OpenAI-compatible chat-completions service
// (DeepSeek by default).
//
// # Key Types
//
//   - Client: sends one request at a time, bounded by a per-request timeout
//   - Decoder: reassembles SSE lines and splits content from reasoning
//   - Handler: first-byte and delta callbacks used for live rendering
//   - TransportError, StreamError: failures of a round trip
//
// # Usage
//
//	client := cloud.NewClient(apiKey).WithLogger(logger)
//	res, err := client.Complete(ctx, cloud.Request{
//	    Model:    "deepseek-chat",
//	    Messages: []cloud.ChatMessage{{Role: "user", Content: "你好"}},
//	    Stream:   true,
//	    Timeout:  10 * time.Second,
//	}, cloud.Handler{OnDelta: func(d cloud.Delta) { fmt.Print(d.Text) }})
//
// # Security
//
// API keys are never logged. Requests are tagged with an X-Request-Id that
// also appears in the log file.
package cloud
