// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

// MaxOutboundTurns caps how many turns are sent with a request.
const MaxOutboundTurns = 10

// =============================================================================
// HISTORY
// =============================================================================

// History is the ordered list of turns of the live conversation.
//
// The full history stays in memory. Outbound only caps what is sent to the
// remote service, which is a different limit from the per-turn truncation
// applied when a summary is written.
//
// History is not safe for concurrent use; the session owns it.
type History struct {
	turns []Turn
}

// NewHistory creates an empty history.
func NewHistory() *History {
	return &History{turns: make([]Turn, 0, MaxOutboundTurns)}
}

// Append adds a turn at the end.
func (h *History) Append(t Turn) {
	h.turns = append(h.turns, t)
}

// Len returns the number of turns.
func (h *History) Len() int {
	return len(h.turns)
}

// IsEmpty returns true when there are no turns.
func (h *History) IsEmpty() bool {
	return len(h.turns) == 0
}

// Turns returns a copy of all turns in chronological order.
func (h *History) Turns() []Turn {
	out := make([]Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

// Last returns the most recent turn.
func (h *History) Last() (Turn, bool) {
	if len(h.turns) == 0 {
		return Turn{}, false
	}
	return h.turns[len(h.turns)-1], true
}

// Outbound returns the last min(Len, limit) turns in original order. A
// non-positive limit returns everything.
func (h *History) Outbound(limit int) []Turn {
	start := 0
	if limit > 0 && len(h.turns) > limit {
		start = len(h.turns) - limit
	}
	out := make([]Turn, len(h.turns)-start)
	copy(out, h.turns[start:])
	return out
}

// Replace swaps the whole history for turns.
func (h *History) Replace(turns []Turn) {
	h.turns = make([]Turn, len(turns))
	copy(h.turns, turns)
}

// Clear removes every turn.
func (h *History) Clear() {
	h.turns = h.turns[:0]
}
