// fleetd - Worker Fleet Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetd

package eventlog

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Scope classifies who an event concerns.
type Scope string

const (
	ScopeUser   Scope = "user"
	ScopeAdmin  Scope = "admin"
	ScopeSystem Scope = "system"
)

// Severity is the display level of an event.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarn    Severity = "warn"
	SeverityError   Severity = "error"
	SeveritySuccess Severity = "success"
)

// Kind distinguishes an event from the record of its webhook delivery.
type Kind string

const (
	KindEvent    Kind = "event"
	KindDelivery Kind = "delivery"
)

// WebhookStatus is the forwarding state of an entry.
type WebhookStatus string

const (
	StatusSkipped WebhookStatus = "skipped"
	StatusQueued  WebhookStatus = "queued"
	StatusSent    WebhookStatus = "sent"
	StatusFailed  WebhookStatus = "failed"
)

// MaxTags is the number of tags kept per entry.
const MaxTags = 6

// timestampLayout is ISO-8601 UTC with millisecond precision.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Entry is one line of the event log. Delivery records reuse the event's ID
// and add the Webhook* and DeliveredAt fields.
type Entry struct {
	ID             string        `json:"id"`
	Timestamp      string        `json:"timestamp"`
	Action         string        `json:"action"`
	Message        string        `json:"message"`
	Scope          Scope         `json:"scope"`
	Severity       Severity      `json:"severity"`
	ActorID        *string       `json:"actorId"`
	TargetID       *string       `json:"targetId"`
	Tags           []string      `json:"tags"`
	OriginWorkerID string        `json:"originWorkerId,omitempty"`
	Kind           Kind          `json:"kind"`
	WebhookStatus  WebhookStatus `json:"webhookStatus"`
	WebhookCode    *int          `json:"webhookCode,omitempty"`
	WebhookError   *string       `json:"webhookError,omitempty"`
	DeliveredAt    *string       `json:"deliveredAt,omitempty"`
}

// Actor returns the actor id or "".
func (e *Entry) Actor() string {
	if e.ActorID == nil {
		return ""
	}
	return *e.ActorID
}

// Target returns the target id or "".
func (e *Entry) Target() string {
	if e.TargetID == nil {
		return ""
	}
	return *e.TargetID
}

// IsDelivery reports whether e records a delivery outcome.
func (e *Entry) IsDelivery() bool {
	return e.Kind == KindDelivery
}

// NewID returns a 12 hex character entry id.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// FormatTimestamp renders t the way entries store it.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// NormalizeSeverity maps s onto a known severity, defaulting to info.
func NormalizeSeverity(s string) Severity {
	switch sev := Severity(strings.ToLower(strings.TrimSpace(s))); sev {
	case SeverityInfo, SeverityWarn, SeverityError, SeveritySuccess:
		return sev
	default:
		return SeverityInfo
	}
}

// NormalizeScope maps s onto a known scope, defaulting to user.
func NormalizeScope(s string) Scope {
	switch sc := Scope(strings.ToLower(strings.TrimSpace(s))); sc {
	case ScopeUser, ScopeAdmin, ScopeSystem:
		return sc
	default:
		return ScopeUser
	}
}

func normalizeAction(action string) string {
	action = strings.TrimSpace(action)
	if action == "" {
		return "event"
	}
	return action
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
