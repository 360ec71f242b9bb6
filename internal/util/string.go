// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"strings"
	"unicode/utf8"
)

// RuneLen returns the number of characters in s, not bytes.
func RuneLen(s string) int {
	return utf8.RuneCountInString(s)
}

// TruncateRunes truncates s to at most maxRunes characters, appending "..."
// when something was cut.
func TruncateRunes(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	if maxRunes <= 3 {
		return string(runes[:maxRunes])
	}
	return string(runes[:maxRunes-3]) + "..."
}

var (
	lineEscaper   = strings.NewReplacer(`\`, `\\`, "\r", `\r`, "\n", `\n`)
	lineUnescaper = strings.NewReplacer(`\\`, `\`, `\r`, "\r", `\n`, "\n")
)

// EscapeLine folds s onto a single line. Backslashes, carriage returns and
// newlines become two-character escapes.
func EscapeLine(s string) string {
	return lineEscaper.Replace(s)
}

// UnescapeLine reverses EscapeLine.
func UnescapeLine(s string) string {
	return lineUnescaper.Replace(s)
}
