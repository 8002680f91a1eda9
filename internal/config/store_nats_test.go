// fleetd - Worker Fleet Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetd

package config

import (
	"context"
	"testing"
	"time"

	"github.com/tomtom215/fleetd/internal/store"
	"github.com/tomtom215/fleetd/internal/testinfra"
)

// Two workers, each with its own NATS connection, sharing one KV bucket.
func TestStoreAcrossProcessesOverNATS(t *testing.T) {
	if testing.Short() {
		t.Skip("starts an embedded NATS server")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	srv := testinfra.StartNATS(t)
	path := writeFile(t, "config.yaml", "name: shared\nclusters: 2\n")

	first := NewStore(testinfra.OpenNATSStore(t, srv.ClientURL()))
	if _, err := first.Init(ctx, path); err != nil {
		t.Fatalf("first Init: %v", err)
	}
	secondBacking := testinfra.OpenNATSStore(t, srv.ClientURL())
	second := NewStore(secondBacking)
	snap, err := second.Init(ctx, path)
	if err != nil {
		t.Fatalf("second Init: %v", err)
	}
	if snap.Version != first.LastSeenVersion() {
		t.Errorf("second saw version %d, first wrote %d", snap.Version, first.LastSeenVersion())
	}

	t.Run("save then poll", func(t *testing.T) {
		if err := first.Save(ctx, Document{"name": "shared", "clusters": 7}); err != nil {
			t.Fatalf("Save: %v", err)
		}
		if !second.PollRefresh(ctx) {
			t.Fatal("second did not refresh after save")
		}
		if got := second.Settings().Clusters; got != 7 {
			t.Errorf("Clusters = %d, want 7", got)
		}
		if second.PollRefresh(ctx) {
			t.Error("second refreshed again without a newer version")
		}
	})

	t.Run("watch", func(t *testing.T) {
		watcher, ok := secondBacking.(store.Watcher)
		if !ok {
			t.Fatal("NATS store does not implement store.Watcher")
		}

		refreshed := make(chan int, 4)
		unsubscribe := second.Subscribe(func(s *Snapshot) { refreshed <- s.Settings.Clusters })
		defer unsubscribe()

		pollCtx, stop := context.WithCancel(ctx)
		defer stop()
		go func() { _ = NewPoller(second, watcher).Serve(pollCtx) }()

		deadline := time.After(10 * time.Second)
		tick := time.NewTicker(100 * time.Millisecond)
		defer tick.Stop()
		for {
			if err := first.Save(ctx, Document{"name": "shared", "clusters": 12}); err != nil {
				t.Fatalf("Save: %v", err)
			}
			select {
			case n := <-refreshed:
				if n != 12 {
					t.Errorf("Clusters = %d, want 12", n)
				}
				return
			case <-deadline:
				t.Fatal("watch did not trigger a refresh")
			case <-tick.C:
			}
		}
	})
}
