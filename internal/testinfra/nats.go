// fleetd - Worker Fleet Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetd

package testinfra

import (
	"context"
	"testing"
	"time"

	"github.com/tomtom215/fleetd/internal/store"
)

// StartNATS starts a JetStream-enabled server on a random port and shuts it
// down at test cleanup.
func StartNATS(t *testing.T) *store.EmbeddedServer {
	t.Helper()

	srv, err := store.StartEmbedded(store.EmbeddedConfig{
		Host:         "127.0.0.1",
		Port:         -1,
		StoreDir:     t.TempDir(),
		ReadyTimeout: 10 * time.Second,
	})
	if err != nil {
		t.Fatalf("start embedded NATS: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return srv
}

// OpenNATSStore connects a KV store to the server at url, bucket
// "fleetd-test". Each call is a separate connection, as each worker
// process would have.
func OpenNATSStore(t *testing.T, url string) store.Store {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	kv, err := store.OpenNATS(ctx, url, "fleetd-test", 5*time.Second)
	if err != nil {
		t.Fatalf("open NATS store: %v", err)
	}
	t.Cleanup(func() { _ = kv.Close() })
	return kv
}
