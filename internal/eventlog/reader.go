// fleetd - Worker Fleet Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetd

package eventlog

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/goccy/go-json"
)

// DefaultReadLimit is the number of entries ReadEntries returns by default.
const DefaultReadLimit = 200

// ActionUnparsed marks a synthetic entry standing in for a malformed line.
const ActionUnparsed = "unparsed"

// ReadEntries returns the last limit entries of the log at path, oldest
// first. A missing file yields no entries and no error.
func ReadEntries(path string, limit int) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return []Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read event log: %w", err)
	}
	return ParseEntries(data, limit), nil
}

// ParseEntries decodes NDJSON content. Blank lines are skipped and each
// malformed line becomes an ActionUnparsed warning entry.
func ParseEntries(content []byte, limit int) []Entry {
	if limit <= 0 {
		limit = DefaultReadLimit
	}

	lines := bytes.Split(content, []byte{'\n'})
	kept := make([][]byte, 0, len(lines))
	for _, line := range lines {
		if len(bytes.TrimSpace(line)) > 0 {
			kept = append(kept, line)
		}
	}
	if len(kept) > limit {
		kept = kept[len(kept)-limit:]
	}

	entries := make([]Entry, 0, len(kept))
	for _, line := range kept {
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil || e.ID == "" {
			entries = append(entries, unparsedEntry(line))
			continue
		}
		if e.Kind == "" {
			e.Kind = KindEvent
		}
		entries = append(entries, e)
	}
	return entries
}

func unparsedEntry(line []byte) Entry {
	return Entry{
		ID:            NewID(),
		Action:        ActionUnparsed,
		Message:       strings.TrimRight(string(line), "\r"),
		Scope:         ScopeSystem,
		Severity:      SeverityWarn,
		Tags:          []string{},
		Kind:          KindEvent,
		WebhookStatus: StatusSkipped,
	}
}

// Reconcile folds delivery records into the events sharing their id. The
// result holds only events, in log order, with the latest delivery outcome
// applied. Delivery records whose event is no longer in view are dropped.
func Reconcile(entries []Entry) []Entry {
	deliveries := make(map[string]Entry)
	for _, e := range entries {
		if e.IsDelivery() && e.ID != "" {
			deliveries[e.ID] = e
		}
	}

	out := make([]Entry, 0, len(entries)-len(deliveries))
	for _, e := range entries {
		if e.IsDelivery() {
			continue
		}
		if d, ok := deliveries[e.ID]; ok {
			if d.WebhookStatus != "" {
				e.WebhookStatus = d.WebhookStatus
			}
			e.WebhookCode = d.WebhookCode
			e.WebhookError = d.WebhookError
			e.DeliveredAt = d.DeliveredAt
		}
		if e.WebhookStatus == "" {
			e.WebhookStatus = StatusSkipped
		}
		out = append(out, e)
	}
	return out
}

// Summary counts entries per webhook status.
type Summary struct {
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Queued  int `json:"queued"`
	Skipped int `json:"skipped"`
}

// Summarize counts the webhook status of each entry. Unknown or empty
// statuses count as skipped.
func Summarize(entries []Entry) Summary {
	var s Summary
	for _, e := range entries {
		switch WebhookStatus(strings.ToLower(string(e.WebhookStatus))) {
		case StatusSent:
			s.Sent++
		case StatusFailed:
			s.Failed++
		case StatusQueued:
			s.Queued++
		default:
			s.Skipped++
		}
	}
	return s
}
