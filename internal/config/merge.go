// fleetd - Worker Fleet Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetd

package config

import (
	"github.com/knadh/koanf/maps"
)

// Document is a configuration document: nested string-keyed maps holding
// scalars, maps and sequences. Documents reachable from a Snapshot are
// shared and must be treated as read-only; use Clone before modifying.
type Document map[string]any

// Clone returns a deep copy of d.
func (d Document) Clone() Document {
	if d == nil {
		return Document{}
	}
	return Document(maps.Copy(d))
}

// Merge deep-merges override onto defaults and returns a new document.
// Nested maps are merged key by key; any other override value (scalar or
// sequence) replaces the default wholesale. Neither input is modified.
func Merge(defaults, override Document) Document {
	out := defaults.Clone()
	maps.Merge(override.Clone(), out)
	return out
}
