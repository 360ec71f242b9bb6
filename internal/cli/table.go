// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"strings"

	"github.com/mattn/go-runewidth"
)

const columnGap = "  "

// formatTable lays rows out in columns padded by display width, so CJK cells
// line up. The header is followed by a rule. The last column is not padded.
func formatTable(headers []string, rows [][]string) (header, rule string, lines []string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = runewidth.StringWidth(h)
	}
	for _, row := range rows {
		for i := 0; i < len(row) && i < len(widths); i++ {
			if w := runewidth.StringWidth(row[i]); w > widths[i] {
				widths[i] = w
			}
		}
	}

	total := 0
	for _, w := range widths {
		total += w
	}
	total += len(columnGap) * (len(widths) - 1)

	header = joinCells(headers, widths)
	rule = strings.Repeat("-", total)
	lines = make([]string, len(rows))
	for i, row := range rows {
		lines[i] = joinCells(row, widths)
	}
	return header, rule, lines
}

func joinCells(cells []string, widths []int) string {
	var b strings.Builder
	for i, w := range widths {
		cell := ""
		if i < len(cells) {
			cell = cells[i]
		}
		if i == len(widths)-1 {
			b.WriteString(cell)
			break
		}
		b.WriteString(runewidth.FillRight(cell, w))
		b.WriteString(columnGap)
	}
	return b.String()
}
