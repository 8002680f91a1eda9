// fleetd - Worker Fleet Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetd

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tomtom215/fleetd/internal/validation"
)

// Pool size bounds enforced at startup.
const (
	MinClusters = 1
	MaxClusters = 48
)

// Settings is the typed view of a configuration document.
// Fields are read with koanf tags; unknown document keys are preserved in
// the document but ignored here.
type Settings struct {
	Name     string          `koanf:"name"`
	Clusters int             `koanf:"clusters" validate:"min=1,max=48"`
	Console  ConsoleSettings `koanf:"console"`
	Refresh  RefreshSettings `koanf:"settings_refresh"`
	Store    StoreSettings   `koanf:"store"`
	Logging  LoggingSettings `koanf:"logging"`
	Watch    WatchSettings   `koanf:"watch"`
	Website  WebsiteSettings `koanf:"website"`
	Metrics  MetricsSettings `koanf:"metrics"`
}

// ConsoleSettings configures the process logger.
type ConsoleSettings struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format" validate:"omitempty,oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// RefreshSettings configures snapshot refresh.
type RefreshSettings struct {
	IntervalMS int    `koanf:"interval_ms" validate:"min=100"`
	Mode       string `koanf:"mode" validate:"oneof=poll watch"`
}

// StoreSettings selects the backing store. These keys are read from the
// file/env document at bootstrap, before the shared document is fetched.
type StoreSettings struct {
	Backend string         `koanf:"backend" validate:"oneof=nats badger memory"`
	NATS    NATSSettings   `koanf:"nats"`
	Badger  BadgerSettings `koanf:"badger"`
}

// NATSSettings configures the JetStream KV backend and the embedded server.
type NATSSettings struct {
	URL      string `koanf:"url"`
	Embedded bool   `koanf:"embedded"`
	Host     string `koanf:"host"`
	Port     int    `koanf:"port" validate:"min=-1,max=65535"`
	StoreDir string `koanf:"store_dir"`
	Bucket   string `koanf:"bucket"`
}

// BadgerSettings configures the local BadgerDB backend.
type BadgerSettings struct {
	Path string `koanf:"path"`
}

// LoggingSettings configures the event logger.
type LoggingSettings struct {
	// Status false disables event logging unless an event is forced.
	Status     bool             `koanf:"status"`
	Webhook    string           `koanf:"webhook" validate:"omitempty,url"`
	TimeoutMS  int              `koanf:"timeout_ms" validate:"min=0"`
	RatePerSec float64          `koanf:"rate_per_sec" validate:"min=0"`
	Local      LocalLogSettings `koanf:"local"`
	Actions    ActionSettings   `koanf:"actions"`
}

// LocalLogSettings configures the NDJSON event log file.
type LocalLogSettings struct {
	Enabled   bool   `koanf:"enabled"`
	File      string `koanf:"file"`
	MaxSizeKB int    `koanf:"max_size_kb" validate:"min=0"`

	// PerProcess gives each worker its own file next to File.
	PerProcess bool `koanf:"per_process"`
}

// ActionSettings holds the per-scope action allow-lists.
type ActionSettings struct {
	User   map[string]bool `koanf:"user"`
	Admin  map[string]bool `koanf:"admin"`
	System map[string]bool `koanf:"system"`
}

// WatchSettings configures the file-change watcher.
type WatchSettings struct {
	Enabled    bool     `koanf:"enabled"`
	Paths      []string `koanf:"paths"`
	DebounceMS int      `koanf:"debounce_ms" validate:"min=0"`
}

// WebsiteSettings configures the listener shared by the workers.
type WebsiteSettings struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port" validate:"min=0,max=65535"`
}

// MetricsSettings toggles the /metrics endpoint.
type MetricsSettings struct {
	Enabled bool `koanf:"enabled"`
}

// DefaultSettings returns the built-in defaults, the lowest configuration layer.
func DefaultSettings() *Settings {
	return &Settings{
		Name:     "fleetd",
		Clusters: 4,
		Console: ConsoleSettings{
			Level:  "info",
			Format: "json",
		},
		Refresh: RefreshSettings{
			IntervalMS: 5000,
			Mode:       "poll",
		},
		Store: StoreSettings{
			Backend: "nats",
			NATS: NATSSettings{
				Embedded: true,
				Host:     "127.0.0.1",
				Port:     4222,
				StoreDir: "data/nats",
				Bucket:   "fleetd",
			},
			Badger: BadgerSettings{Path: "data/store"},
		},
		Logging: LoggingSettings{
			Status:    true,
			TimeoutMS: 5000,
			Local: LocalLogSettings{
				Enabled:    true,
				File:       "logs/transactions.log",
				MaxSizeKB:  512,
				PerProcess: true,
			},
			Actions: ActionSettings{
				User:   map[string]bool{},
				Admin:  map[string]bool{},
				System: map[string]bool{},
			},
		},
		Watch: WatchSettings{
			Enabled:    true,
			Paths:      []string{"modules", "config.yaml"},
			DebounceMS: 300,
		},
		Website: WebsiteSettings{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Metrics: MetricsSettings{Enabled: true},
	}
}

// RefreshInterval returns the snapshot poll interval.
func (s *Settings) RefreshInterval() time.Duration {
	if s.Refresh.IntervalMS <= 0 {
		return 5 * time.Second
	}
	return time.Duration(s.Refresh.IntervalMS) * time.Millisecond
}

// WebhookEnabled reports whether events are forwarded to the webhook.
func (s *Settings) WebhookEnabled() bool {
	return s.Logging.Status && strings.TrimSpace(s.Logging.Webhook) != ""
}

// WebhookTimeout returns the per-delivery timeout.
func (s *Settings) WebhookTimeout() time.Duration {
	if s.Logging.TimeoutMS <= 0 {
		return 5 * time.Second
	}
	return time.Duration(s.Logging.TimeoutMS) * time.Millisecond
}

// MaxLogBytes returns the size at which the event log rotates.
func (s *Settings) MaxLogBytes() int64 {
	kb := s.Logging.Local.MaxSizeKB
	if kb <= 0 {
		kb = 512
	}
	return int64(kb) * 1024
}

// DebounceWindow returns the watcher quiet period.
func (s *Settings) DebounceWindow() time.Duration {
	if s.Watch.DebounceMS <= 0 {
		return 300 * time.Millisecond
	}
	return time.Duration(s.Watch.DebounceMS) * time.Millisecond
}

// ListenAddr returns the host:port the workers share.
func (s *Settings) ListenAddr() string {
	return fmt.Sprintf("%s:%d", s.Website.Host, s.Website.Port)
}

// ValidationError describes the first invalid settings field.
type ValidationError struct {
	// Field is the document path, e.g. "clusters".
	Field string
	// Reason is a readable message naming the field.
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid configuration: " + e.Reason
}

// Validate checks field constraints. The pool size bound is fatal at startup.
func (s *Settings) Validate() error {
	err := validation.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validation.Errors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &ValidationError{Field: fe.Field, Reason: fmt.Sprintf("%s (got %v)", fe.Message, fe.Value)}
	}
	return fmt.Errorf("validate settings: %w", err)
}
