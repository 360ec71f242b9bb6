// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Line editing for the interactive prompt.
//
// USABILITY: Supports arrow keys for history navigation, line editing and
// Tab completion of commands and config keys.

package cli

import (
	"bytes"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/peterh/liner"

	"github.com/XueChenNyaCl/deepchat/internal/config"
	"github.com/XueChenNyaCl/deepchat/internal/util"
)

// maxHistoryEntries bounds the persisted prompt history.
const maxHistoryEntries = 500

// LineReader reads one line of input after showing prompt. It returns
// io.EOF when the user ends input.
type LineReader interface {
	Prompt(prompt string) (string, error)
}

// ChatCLI is the liner-backed LineReader.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI takes over the terminal and loads the history file.
func NewChatCLI(historyFile string) *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	line.SetTabCompletionStyle(liner.TabPrints)
	line.SetCompleter(completeLine)

	c := &ChatCLI{line: line, historyFile: historyFile}
	c.loadHistory()
	return c
}

func (c *ChatCLI) loadHistory() {
	if c.historyFile == "" {
		return
	}
	if f, err := os.Open(c.historyFile); err == nil {
		c.line.ReadHistory(f)
		f.Close()
	}
}

// Prompt reads a line. Ctrl+C and Ctrl+D both end input.
func (c *ChatCLI) Prompt(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if errors.Is(err, liner.ErrPromptAborted) {
		return "", io.EOF
	}
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// saveHistory persists the history with owner-only permissions.
func (c *ChatCLI) saveHistory() error {
	if c.historyFile == "" {
		return nil
	}
	var buf bytes.Buffer
	if _, err := c.line.WriteHistory(&buf); err != nil {
		return err
	}
	return util.AtomicWriteFile(c.historyFile, trimHistory(buf.Bytes(), maxHistoryEntries), 0600)
}

// Close saves history and gives the terminal back.
func (c *ChatCLI) Close() error {
	err := c.saveHistory()
	if cerr := c.line.Close(); err == nil {
		err = cerr
	}
	return err
}

// trimHistory keeps the last n lines.
func trimHistory(data []byte, n int) []byte {
	lines := bytes.SplitAfter(data, []byte("\n"))
	if len(lines) > 0 && len(lines[len(lines)-1]) == 0 {
		lines = lines[:len(lines)-1]
	}
	if len(lines) <= n {
		return data
	}
	return bytes.Join(lines[len(lines)-n:], nil)
}

// =============================================================================
// COMPLETION
// =============================================================================

// completeLine completes command names, /m and /update variants, and config
// keys after /set and /reset.
func completeLine(line string) []string {
	lower := strings.ToLower(line)

	for _, prefix := range []string{"/set ", "/reset "} {
		if strings.HasPrefix(lower, prefix) {
			partial := strings.TrimLeft(lower[len(prefix):], " ")
			if strings.Contains(partial, " ") {
				return nil
			}
			var out []string
			candidates := config.Keys()
			if prefix == "/reset " {
				candidates = append([]string{"all"}, candidates...)
			}
			for _, key := range candidates {
				if strings.HasPrefix(key, partial) {
					out = append(out, line[:len(prefix)]+key+" ")
				}
			}
			return out
		}
	}

	var out []string
	for _, cand := range completions {
		if strings.HasPrefix(cand, lower) {
			out = append(out, cand)
		}
	}
	return out
}
