// fleetd - Worker Fleet Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetd

package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tomtom215/fleetd/internal/logging"
	"github.com/tomtom215/fleetd/internal/store"
)

// NATSServerService supervises the embedded NATS server that backs the
// configuration KV bucket.
//
// The server is started with Start before the tree runs, because workers
// and the configuration store need its URL. Serve then watches it: if the
// server stops accepting clients it is started again on the same address,
// and clients reconnect on their own.
type NATSServerService struct {
	cfg           store.EmbeddedConfig
	checkInterval time.Duration
	name          string

	mu     sync.Mutex
	server *store.EmbeddedServer
}

// NewNATSServerService creates the service. Use a fixed port: the restart
// path relies on clients finding the server at the same URL.
func NewNATSServerService(cfg store.EmbeddedConfig) *NATSServerService {
	return &NATSServerService{
		cfg:           cfg,
		checkInterval: 5 * time.Second,
		name:          "nats-server",
	}
}

// Start launches the server if it is not running and returns its client URL.
func (s *NATSServerService) Start() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil && s.server.Running() {
		return s.server.ClientURL(), nil
	}
	srv, err := store.StartEmbedded(s.cfg)
	if err != nil {
		return "", fmt.Errorf("start embedded NATS: %w", err)
	}
	s.server = srv
	logging.Info().Str("url", srv.ClientURL()).Str("store_dir", s.cfg.StoreDir).Msg("Embedded NATS server started")
	return srv.ClientURL(), nil
}

// ClientURL returns the URL of the running server, or "".
func (s *NATSServerService) ClientURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return ""
	}
	return s.server.ClientURL()
}

// Serve implements suture.Service.
func (s *NATSServerService) Serve(ctx context.Context) error {
	if _, err := s.Start(); err != nil {
		return err
	}

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return ctx.Err()
		case <-ticker.C:
			if !s.running() {
				logging.Error().Msg("Embedded NATS server stopped unexpectedly")
				return errors.New("embedded NATS server not running")
			}
		}
	}
}

func (s *NATSServerService) running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.server != nil && s.server.Running()
}

func (s *NATSServerService) shutdown() {
	s.mu.Lock()
	srv := s.server
	s.server = nil
	s.mu.Unlock()

	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logging.Warn().Err(err).Msg("Embedded NATS shutdown incomplete")
	}
}

// String implements fmt.Stringer for logging.
func (s *NATSServerService) String() string {
	return s.name
}
