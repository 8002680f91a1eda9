// fleetd - Worker Fleet Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetd

package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/tomtom215/fleetd/internal/eventlog"
	"github.com/tomtom215/fleetd/internal/validation"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// EventRequest is the body of POST /api/events.
type EventRequest struct {
	Action   string   `json:"action" validate:"required,max=64"`
	Message  string   `json:"message" validate:"max=2000"`
	Scope    string   `json:"scope" validate:"omitempty,oneof=user admin system"`
	Severity string   `json:"severity" validate:"omitempty,oneof=info warn error success"`
	ActorID  string   `json:"actorId" validate:"max=128"`
	TargetID string   `json:"targetId" validate:"max=128"`
	Tags     []string `json:"tags" validate:"max=6,dive,required,max=32"`
	Force    bool     `json:"force"`
}

// Options converts the request to logger options.
func (r *EventRequest) Options() eventlog.Options {
	return eventlog.Options{
		Scope:    eventlog.Scope(r.Scope),
		Severity: eventlog.Severity(r.Severity),
		ActorID:  r.ActorID,
		TargetID: r.TargetID,
		Tags:     r.Tags,
		Force:    r.Force,
	}
}

// EventsQuery holds the validated query of GET /api/events.
type EventsQuery struct {
	Limit int `json:"limit" validate:"min=1,max=1000"`
}

// parseEventsQuery reads ?limit=, defaulting to eventlog.DefaultReadLimit.
func parseEventsQuery(r *http.Request) (EventsQuery, error) {
	q := EventsQuery{Limit: eventlog.DefaultReadLimit}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return q, validation.Errors{{Field: "limit", Tag: "int", Value: raw, Message: "limit must be an integer"}}
		}
		q.Limit = n
	}
	return q, validation.Struct(&q)
}

// validationDetails exposes field errors in the error envelope.
func validationDetails(err error) any {
	var verrs validation.Errors
	if errors.As(err, &verrs) {
		return verrs
	}
	return nil
}
