// fleetd - Worker Fleet Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetd

package config

import (
	"time"

	"github.com/tomtom215/fleetd/internal/logging"
	"github.com/tomtom215/fleetd/internal/store"
)

// Bootstrap reads the file and env layers without the backing store. The
// process uses it to configure logging and to find the store before Init.
func Bootstrap(path string) (*Settings, error) {
	doc, err := LoadDefaults(path)
	if err != nil {
		return nil, err
	}
	settings, err := DecodeSettings(doc)
	if err != nil {
		return nil, err
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

// LogConfig returns the process logger configuration, with LOG_* env
// variables applied on top.
func (s *Settings) LogConfig() logging.Config {
	cfg := logging.DefaultConfig()
	if s.Console.Level != "" {
		cfg.Level = s.Console.Level
	}
	if s.Console.Format != "" {
		cfg.Format = s.Console.Format
	}
	cfg.Caller = s.Console.Caller
	return cfg.ApplyEnv()
}

// StoreOptions returns the backing store options. natsURL, when set,
// overrides store.nats.url; workers receive the supervisor's URL this way.
func (s *Settings) StoreOptions(natsURL string) store.Options {
	url := s.Store.NATS.URL
	if natsURL != "" {
		url = natsURL
	}
	return store.Options{
		Backend:        s.Store.Backend,
		NATSURL:        url,
		Bucket:         s.Store.NATS.Bucket,
		BadgerPath:     s.Store.Badger.Path,
		ConnectTimeout: 10 * time.Second,
	}
}

// EmbeddedNATS reports whether the supervisor should host a NATS server.
func (s *Settings) EmbeddedNATS() bool {
	return s.Store.Backend == store.BackendNATS && s.Store.NATS.URL == "" && s.Store.NATS.Embedded
}

// EmbeddedConfig returns the embedded server settings.
func (s *Settings) EmbeddedConfig() store.EmbeddedConfig {
	return store.EmbeddedConfig{
		Host:     s.Store.NATS.Host,
		Port:     s.Store.NATS.Port,
		StoreDir: s.Store.NATS.StoreDir,
	}
}
