// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"sort"
	"strings"
)

// =============================================================================
// MODEL INFO TYPE
// =============================================================================

// ModelInfo describes a selectable remote model.
type ModelInfo struct {
	// ID is the identifier sent in requests.
	ID string `json:"id"`

	// Alias is the short name accepted by /m.
	Alias string `json:"alias"`

	// Name is the human-readable display name.
	Name string `json:"name"`

	// Reasoning is true for models that emit a reasoning channel.
	Reasoning bool `json:"reasoning"`
}

// =============================================================================
// MODEL REGISTRY
// =============================================================================

const (
	ModelChat     = "deepseek-chat"
	ModelReasoner = "deepseek-reasoner"
)

// Models is the registry of selectable models keyed by alias.
var Models = map[string]ModelInfo{
	"v3": {
		ID:    ModelChat,
		Alias: "v3",
		Name:  "DeepSeek V3",
	},
	"r1": {
		ID:        ModelReasoner,
		Alias:     "r1",
		Name:      "DeepSeek R1",
		Reasoning: true,
	},
}

// ResolveModel looks a model up by alias or ID, case-insensitively.
func ResolveModel(aliasOrID string) (ModelInfo, bool) {
	key := strings.ToLower(strings.TrimSpace(aliasOrID))
	if info, ok := Models[key]; ok {
		return info, true
	}
	for _, info := range Models {
		if info.ID == key {
			return info, true
		}
	}
	return ModelInfo{}, false
}

// ModelIDs returns the known model IDs, sorted.
func ModelIDs() []string {
	ids := make([]string, 0, len(Models))
	for _, info := range Models {
		ids = append(ids, info.ID)
	}
	sort.Strings(ids)
	return ids
}

// ModelAliases returns the known aliases, sorted.
func ModelAliases() []string {
	aliases := make([]string, 0, len(Models))
	for alias := range Models {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)
	return aliases
}
