// fleetd - Worker Fleet Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetd

package eventlog

import (
	"context"
	"errors"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tomtom215/fleetd/internal/config"
	"github.com/tomtom215/fleetd/internal/logging"
	"github.com/tomtom215/fleetd/internal/metrics"
)

// SettingsSource supplies the live settings. *config.Store implements it.
type SettingsSource interface {
	Settings() *config.Settings
}

// Options carries the optional attributes of an event.
type Options struct {
	// Scope defaults to user.
	Scope Scope
	// Severity defaults to info; unknown values become info.
	Severity Severity
	ActorID  string
	TargetID string
	// Tags beyond MaxTags are dropped.
	Tags []string
	// Force bypasses the master switch and the allow-list.
	Force bool
	// WorkerID overrides the logger's origin worker id.
	WorkerID string
}

// Config configures a Logger.
type Config struct {
	Settings SettingsSource

	// Sender delivers queued entries. Nil selects a WebhookSender.
	Sender Sender

	// Path overrides logging.local.file when set.
	Path string

	// Slot is the worker slot number, 0 for the supervisor. With
	// logging.local.per_process each slot writes its own file.
	Slot int

	// WorkerID is stamped on entries as originWorkerId. Defaults to the pid.
	WorkerID string

	QueueCapacity int
}

// Stats is a point-in-time view of the forwarding pipeline.
type Stats struct {
	Queued      int
	Dropped     uint64
	Delivered   uint64
	DrainStarts uint64
}

// Logger records events to the local log and forwards them to the webhook.
// It is safe for concurrent use.
type Logger struct {
	settings SettingsSource
	sender   Sender
	queue    *Queue
	path     string
	slot     int
	workerID string

	sinkMu sync.Mutex
	sink   *FileSink

	draining    atomic.Bool
	drainStarts atomic.Uint64
	delivered   atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	now    func() time.Time
}

// New creates a Logger.
func New(cfg Config) *Logger {
	sender := cfg.Sender
	if sender == nil {
		sender = NewWebhookSender(nil)
	}
	workerID := cfg.WorkerID
	if workerID == "" {
		workerID = strconv.Itoa(os.Getpid())
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Logger{
		settings: cfg.Settings,
		sender:   sender,
		queue:    NewQueue(cfg.QueueCapacity),
		path:     cfg.Path,
		slot:     cfg.Slot,
		workerID: workerID,
		ctx:      ctx,
		cancel:   cancel,
		now:      time.Now,
	}
}

// Log records an event. It returns the entry id and true when the event
// was accepted, or "" and false when the master switch or the allow-list
// filtered it out. Log never blocks on the webhook.
func (l *Logger) Log(action, message string, opts Options) (string, bool) {
	s := l.current()

	if !s.Logging.Status && !opts.Force {
		metrics.EventsFiltered.WithLabelValues("disabled").Inc()
		return "", false
	}

	entry := l.newEntry(action, message, opts)

	if !ActionAllowed(s.Logging.Actions, entry.Action, entry.Scope, opts.Force) {
		metrics.EventsFiltered.WithLabelValues("action").Inc()
		return "", false
	}

	queued := s.WebhookEnabled()
	if queued {
		entry.WebhookStatus = StatusQueued
	}

	if s.Logging.Local.Enabled {
		l.persist(entry, s)
	}
	metrics.EventsRecorded.WithLabelValues(string(entry.Scope), string(entry.Severity)).Inc()

	if queued {
		l.enqueue(entry)
	}
	return entry.ID, true
}

func (l *Logger) newEntry(action, message string, opts Options) Entry {
	scope := opts.Scope
	if scope == "" {
		scope = ScopeUser
	} else {
		scope = NormalizeScope(string(scope))
	}

	tags := make([]string, 0, len(opts.Tags))
	for _, tag := range opts.Tags {
		if len(tags) == MaxTags {
			break
		}
		tags = append(tags, tag)
	}

	workerID := opts.WorkerID
	if workerID == "" {
		workerID = l.workerID
	}

	return Entry{
		ID:             NewID(),
		Timestamp:      FormatTimestamp(l.now()),
		Action:         normalizeAction(action),
		Message:        message,
		Scope:          scope,
		Severity:       NormalizeSeverity(string(opts.Severity)),
		ActorID:        optional(opts.ActorID),
		TargetID:       optional(opts.TargetID),
		Tags:           tags,
		OriginWorkerID: workerID,
		Kind:           KindEvent,
		WebhookStatus:  StatusSkipped,
	}
}

// ActionAllowed applies the allow-list. Forced events always pass. With no
// action configured in any scope, or none in the event's scope, every action
// passes. Otherwise the scope must enable the action (case-insensitive).
func ActionAllowed(actions config.ActionSettings, action string, scope Scope, force bool) bool {
	if force {
		return true
	}

	groups := map[Scope]map[string]bool{
		ScopeUser:   actions.User,
		ScopeAdmin:  actions.Admin,
		ScopeSystem: actions.System,
	}

	configured := false
	for _, g := range groups {
		if len(g) > 0 {
			configured = true
			break
		}
	}
	if !configured {
		return true
	}

	group := groups[scope]
	if len(group) == 0 {
		return true
	}
	for name, enabled := range group {
		if enabled && strings.EqualFold(name, action) {
			return true
		}
	}
	return false
}

// Path returns the local log file this logger currently writes.
func (l *Logger) Path() string {
	return l.resolvePath(l.current())
}

func (l *Logger) resolvePath(s *config.Settings) string {
	if l.path != "" {
		return l.path
	}
	file := strings.TrimSpace(s.Logging.Local.File)
	if file == "" {
		file = config.DefaultSettings().Logging.Local.File
	}
	if l.slot > 0 && s.Logging.Local.PerProcess {
		return ProcessLogPath(file, l.slot)
	}
	return file
}

// sinkFor returns the sink for path, replacing it when the configured
// file has changed.
func (l *Logger) sinkFor(path string) *FileSink {
	l.sinkMu.Lock()
	defer l.sinkMu.Unlock()
	if l.sink == nil || l.sink.Path() != path {
		l.sink = NewFileSink(path)
	}
	return l.sink
}

func (l *Logger) persist(e Entry, s *config.Settings) {
	sink := l.sinkFor(l.resolvePath(s))
	if err := sink.Append(e, s.MaxLogBytes()); err != nil {
		metrics.LogWriteErrors.Inc()
		logging.Error().Err(err).Str("path", sink.Path()).Str("id", e.ID).Msg("Failed to write event log entry")
	}
}

func (l *Logger) enqueue(e Entry) {
	if dropped := l.queue.Push(e); dropped > 0 {
		metrics.WebhookQueueDropped.Add(float64(dropped))
		logging.Warn().Int("dropped", dropped).Msg("Webhook queue full, dropped oldest entries")
	}
	metrics.WebhookQueueDepth.Set(float64(l.queue.Len()))
	l.triggerDrain()
}

// triggerDrain starts the drain goroutine unless one is already running.
func (l *Logger) triggerDrain() {
	if !l.draining.CompareAndSwap(false, true) {
		return
	}
	l.drainStarts.Add(1)
	go l.drain()
}

func (l *Logger) drain() {
	for {
		for {
			e, ok := l.queue.Pop()
			if !ok {
				break
			}
			metrics.WebhookQueueDepth.Set(float64(l.queue.Len()))
			l.deliver(e)
		}

		l.draining.Store(false)

		// An entry pushed between the last Pop and the Store above saw the
		// flag still set and did not start a drain; pick it up here.
		if l.queue.Len() == 0 || !l.draining.CompareAndSwap(false, true) {
			return
		}
	}
}

func (l *Logger) deliver(e Entry) {
	s := l.current()

	var d Delivery
	if url := strings.TrimSpace(s.Logging.Webhook); url == "" {
		d = Delivery{Status: StatusFailed, Err: "webhook url not configured"}
	} else {
		ctx, cancel := context.WithTimeout(l.ctx, s.WebhookTimeout())
		d = l.sender.Send(ctx, Target{
			URL:        url,
			Author:     s.Name,
			RatePerSec: s.Logging.RatePerSec,
		}, e)
		cancel()
	}
	l.delivered.Add(1)

	record := e
	record.Kind = KindDelivery
	record.WebhookStatus = d.Status
	if d.Code != 0 {
		code := d.Code
		record.WebhookCode = &code
	}
	record.WebhookError = optional(d.Err)
	deliveredAt := FormatTimestamp(l.now())
	record.DeliveredAt = &deliveredAt

	if d.Status == StatusFailed {
		logging.Warn().
			Str("id", e.ID).
			Str("action", e.Action).
			Int("code", d.Code).
			Str("error", d.Err).
			Msg("Webhook delivery failed")
	}

	if s.Logging.Local.Enabled {
		l.persist(record, s)
	}
}

// Flush waits until the queue is empty and no delivery is in flight.
func (l *Logger) Flush(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if l.queue.Len() == 0 && !l.draining.Load() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close flushes pending deliveries until ctx is done, then aborts any
// delivery still in flight.
func (l *Logger) Close(ctx context.Context) error {
	err := l.Flush(ctx)
	l.cancel()
	if errors.Is(err, context.DeadlineExceeded) {
		logging.Warn().Int("pending", l.queue.Len()).Msg("Event logger closed with undelivered entries")
	}
	return err
}

// Stats returns forwarding counters.
func (l *Logger) Stats() Stats {
	return Stats{
		Queued:      l.queue.Len(),
		Dropped:     l.queue.Dropped(),
		Delivered:   l.delivered.Load(),
		DrainStarts: l.drainStarts.Load(),
	}
}

// Pending returns a copy of the entries awaiting delivery.
func (l *Logger) Pending() []Entry {
	return l.queue.Snapshot()
}

func (l *Logger) current() *config.Settings {
	if l.settings == nil {
		return config.DefaultSettings()
	}
	return l.settings.Settings()
}
