// fleetd - Worker Fleet Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetd

package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"

	"github.com/goccy/go-json"

	"github.com/tomtom215/fleetd/internal/config"
	"github.com/tomtom215/fleetd/internal/eventlog"
	"github.com/tomtom215/fleetd/internal/logging"
	"github.com/tomtom215/fleetd/internal/validation"
)

// ConfigStore is the part of *config.Store the handlers use.
type ConfigStore interface {
	Current() *config.Snapshot
	Settings() *config.Settings
	Save(ctx context.Context, doc config.Document) error
}

// EventLogger is the part of *eventlog.Logger the handlers use.
type EventLogger interface {
	Log(action, message string, opts eventlog.Options) (string, bool)
	Path() string
}

// Handler serves the admin routes of one worker.
type Handler struct {
	config     ConfigStore
	events     EventLogger
	workerCode string
	version    string
}

// NewHandler creates a Handler.
func NewHandler(store ConfigStore, events EventLogger, workerCode, version string) *Handler {
	return &Handler{
		config:     store,
		events:     events,
		workerCode: workerCode,
		version:    version,
	}
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status        string `json:"status"`
	Worker        string `json:"worker"`
	Pid           int    `json:"pid"`
	Version       string `json:"version"`
	ConfigVersion int64  `json:"configVersion"`
}

// Health reports liveness. It is "starting" until configuration is loaded.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "ok",
		Worker:  h.workerCode,
		Pid:     os.Getpid(),
		Version: h.version,
	}
	if snap := h.config.Current(); snap != nil {
		resp.ConfigVersion = snap.Version
	} else {
		resp.Status = "starting"
	}
	NewResponseWriter(w, r).Success(resp)
}

// ConfigResponse is the body of GET /api/config.
type ConfigResponse struct {
	Version  int64           `json:"version"`
	Settings config.Document `json:"settings"`
}

// GetConfig returns the current snapshot.
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	snap := h.config.Current()
	if snap == nil {
		rw.ServiceUnavailable(ErrCodeServiceUnavailable, "Configuration not loaded")
		return
	}
	rw.Success(ConfigResponse{Version: snap.Version, Settings: snap.Document})
}

// PutConfig replaces the configuration document. A backing store failure
// answers 503 even though this worker already serves the new document.
func (h *Handler) PutConfig(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		rw.BadRequest("Failed to read request body")
		return
	}

	var doc config.Document
	if err := json.Unmarshal(body, &doc); err != nil {
		rw.BadRequest("Invalid JSON document: " + err.Error())
		return
	}
	if doc == nil {
		rw.BadRequest("Configuration document must be a JSON object")
		return
	}

	err = h.config.Save(r.Context(), doc)
	var verr *config.ValidationError
	switch {
	case err == nil:
		snap := h.config.Current()
		rw.Success(ConfigResponse{Version: snap.Version, Settings: snap.Document})
	case errors.As(err, &verr):
		rw.ValidationError(verr.Reason, map[string]string{"field": verr.Field})
	case errors.Is(err, config.ErrPersist):
		rw.ServiceUnavailable(ErrCodeStoreUnavailable, "Configuration applied locally but not persisted")
	case errors.Is(err, config.ErrNotInitialized):
		rw.ServiceUnavailable(ErrCodeServiceUnavailable, "Configuration not loaded")
	default:
		rw.BadRequest(err.Error())
	}
}

// EventCreated is the body of an accepted POST /api/events.
type EventCreated struct {
	ID string `json:"id"`
}

// PostEvent records an event through the worker's logger.
func (h *Handler) PostEvent(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var req EventRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		rw.BadRequest("Invalid JSON body")
		return
	}
	if err := validation.Struct(&req); err != nil {
		rw.ValidationError(err.Error(), validationDetails(err))
		return
	}

	id, ok := h.events.Log(req.Action, req.Message, req.Options())
	if !ok {
		logging.Ctx(r.Context()).Debug().Str("action", req.Action).Msg("Event filtered")
		rw.NoContent()
		return
	}
	rw.Accepted(EventCreated{ID: id})
}

// LogInfo describes the local event log of the answering worker.
type LogInfo struct {
	Status         bool   `json:"status"`
	WebhookEnabled bool   `json:"webhookEnabled"`
	LocalEnabled   bool   `json:"localEnabled"`
	File           string `json:"file"`
	MaxSizeKB      int    `json:"maxSizeKb"`
}

// EventsResponse is the body of GET /api/events.
type EventsResponse struct {
	Entries []eventlog.Entry `json:"entries"`
	Summary eventlog.Summary `json:"summary"`
	Info    LogInfo          `json:"info"`
}

// ListEvents returns the reconciled tail of this worker's event log.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	q, err := parseEventsQuery(r)
	if err != nil {
		rw.ValidationError(err.Error(), validationDetails(err))
		return
	}

	path := h.events.Path()
	raw, err := eventlog.ReadEntries(path, q.Limit)
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Str("path", path).Msg("Failed to read event log")
		rw.InternalError("Failed to read event log")
		return
	}
	entries := eventlog.Reconcile(raw)

	s := h.config.Settings()
	rw.Success(EventsResponse{
		Entries: entries,
		Summary: eventlog.Summarize(entries),
		Info: LogInfo{
			Status:         s.Logging.Status,
			WebhookEnabled: s.WebhookEnabled(),
			LocalEnabled:   s.Logging.Local.Enabled,
			File:           path,
			MaxSizeKB:      s.Logging.Local.MaxSizeKB,
		},
	})
}
