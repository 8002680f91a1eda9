// fleetd - Worker Fleet Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetd

package config

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/fleetd/internal/store"
)

// fixedClock returns a clock that only moves when advanced.
type fixedClock struct {
	ms atomic.Int64
}

func newFixedClock(start int64) *fixedClock {
	c := &fixedClock{}
	c.ms.Store(start)
	return c
}

func (c *fixedClock) now() time.Time          { return time.UnixMilli(c.ms.Load()) }
func (c *fixedClock) advance(d time.Duration) { c.ms.Add(d.Milliseconds()) }

func newTestStore(t *testing.T, backing store.Store, clock *fixedClock) *Store {
	t.Helper()
	s := NewStore(backing)
	if clock != nil {
		s.now = clock.now
	}
	return s
}

func readVersion(t *testing.T, backing store.Store) int64 {
	t.Helper()
	data, err := backing.Get(context.Background(), VersionKey)
	if err != nil {
		t.Fatalf("get version: %v", err)
	}
	v, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		t.Fatalf("parse version: %v", err)
	}
	return v
}

func readDocument(t *testing.T, backing store.Store) Document {
	t.Helper()
	data, err := backing.Get(context.Background(), SettingsKey)
	if err != nil {
		t.Fatalf("get settings: %v", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("decode settings: %v", err)
	}
	return doc
}

func TestInitWritesCanonicalCopy(t *testing.T) {
	ctx := context.Background()
	backing := store.NewMemoryStore()
	clock := newFixedClock(1_700_000_000_000)
	path := writeFile(t, "config.yaml", "name: first\nclusters: 2\n")

	s := newTestStore(t, backing, clock)
	snap, err := s.Init(ctx, path)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	if snap.Settings.Name != "first" || snap.Settings.Clusters != 2 {
		t.Errorf("unexpected settings: %+v", snap.Settings)
	}
	if got := readDocument(t, backing)["name"]; got != "first" {
		t.Errorf("persisted name = %v, want first", got)
	}
	if v := readVersion(t, backing); v != 1_700_000_000_000 {
		t.Errorf("persisted version = %d", v)
	}
	if s.LastSeenVersion() != 1_700_000_000_000 {
		t.Errorf("LastSeenVersion() = %d", s.LastSeenVersion())
	}
}

func TestInitMergesPersistedOverride(t *testing.T) {
	ctx := context.Background()
	backing := store.NewMemoryStore()

	override, _ := json.Marshal(map[string]any{
		"clusters": 8,
		"logging":  map[string]any{"webhook": "https://hooks.example.com/x"},
	})
	if err := backing.Set(ctx, SettingsKey, override); err != nil {
		t.Fatal(err)
	}
	if err := backing.Set(ctx, VersionKey, []byte("42")); err != nil {
		t.Fatal(err)
	}

	path := writeFile(t, "config.yaml", "name: from-file\nclusters: 2\n")
	s := newTestStore(t, backing, nil)
	snap, err := s.Init(ctx, path)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	if snap.Settings.Clusters != 8 {
		t.Errorf("Clusters = %d, want override 8", snap.Settings.Clusters)
	}
	if snap.Settings.Name != "from-file" {
		t.Errorf("Name = %q, want file value", snap.Settings.Name)
	}
	if !snap.Settings.WebhookEnabled() {
		t.Error("override webhook lost")
	}
	if snap.Version != 42 {
		t.Errorf("Version = %d, want 42", snap.Version)
	}
	// The persisted override is not rewritten by a worker starting up.
	if v := readVersion(t, backing); v != 42 {
		t.Errorf("persisted version changed to %d", v)
	}
}

func TestInitFatalErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("parse error", func(t *testing.T) {
		path := writeFile(t, "config.yaml", "clusters: [\n")
		_, err := newTestStore(t, store.NewMemoryStore(), nil).Init(ctx, path)
		if !errors.Is(err, ErrParse) {
			t.Errorf("expected ErrParse, got %v", err)
		}
	})

	t.Run("store error", func(t *testing.T) {
		backing := store.NewMemoryStore()
		backing.SetFailure(errors.New("connection refused"))
		path := writeFile(t, "config.yaml", "clusters: 2\n")
		if _, err := newTestStore(t, backing, nil).Init(ctx, path); err == nil {
			t.Error("expected store error")
		}
	})

	t.Run("pool size out of range", func(t *testing.T) {
		path := writeFile(t, "config.yaml", "clusters: 49\n")
		_, err := newTestStore(t, store.NewMemoryStore(), nil).Init(ctx, path)
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("expected ValidationError, got %v", err)
		}
	})
}

func TestSaveWriteThrough(t *testing.T) {
	ctx := context.Background()
	backing := store.NewMemoryStore()
	clock := newFixedClock(1_000)
	path := writeFile(t, "config.yaml", "clusters: 2\n")

	s := newTestStore(t, backing, clock)
	if _, err := s.Init(ctx, path); err != nil {
		t.Fatalf("Init: %v", err)
	}
	before := s.Current().Version

	doc := s.Current().Document.Clone()
	doc["clusters"] = 5

	// Clock has not moved; the version must still advance.
	if err := s.Save(ctx, doc); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if s.Settings().Clusters != 5 {
		t.Errorf("cached Clusters = %d, want 5", s.Settings().Clusters)
	}
	after := readVersion(t, backing)
	if after <= before {
		t.Errorf("version did not advance: before=%d after=%d", before, after)
	}
	if s.Current().Version != after {
		t.Errorf("snapshot version %d != persisted %d", s.Current().Version, after)
	}
	if got := readDocument(t, backing)["clusters"]; got != float64(5) {
		t.Errorf("persisted clusters = %v", got)
	}
}

func TestSaveRejectsInvalidDocument(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, store.NewMemoryStore(), nil)

	if err := s.Save(ctx, Document{}); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Save before Init: got %v", err)
	}

	path := writeFile(t, "config.yaml", "clusters: 2\n")
	if _, err := s.Init(ctx, path); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(ctx, Document{"clusters": 0}); err == nil {
		t.Error("expected validation error")
	}
	if s.Settings().Clusters != 2 {
		t.Errorf("invalid save changed cache: %d", s.Settings().Clusters)
	}
}

func TestSaveStoreFailureKeepsLocalChange(t *testing.T) {
	ctx := context.Background()
	backing := store.NewMemoryStore()
	path := writeFile(t, "config.yaml", "clusters: 2\n")

	s := newTestStore(t, backing, nil)
	if _, err := s.Init(ctx, path); err != nil {
		t.Fatal(err)
	}

	backing.SetFailure(errors.New("store down"))
	err := s.Save(ctx, Document{"clusters": 3})
	if !errors.Is(err, ErrPersist) {
		t.Fatalf("expected ErrPersist, got %v", err)
	}
	if s.Settings().Clusters != 3 {
		t.Errorf("cache should hold the saved document, got %d", s.Settings().Clusters)
	}
}

func TestPollRefresh(t *testing.T) {
	ctx := context.Background()
	backing := store.NewMemoryStore()
	clock := newFixedClock(10_000)
	path := writeFile(t, "config.yaml", "clusters: 2\n")

	reader := newTestStore(t, backing, clock)
	if _, err := reader.Init(ctx, path); err != nil {
		t.Fatal(err)
	}
	writer := newTestStore(t, backing, clock)
	if _, err := writer.Init(ctx, path); err != nil {
		t.Fatal(err)
	}

	if reader.PollRefresh(ctx) {
		t.Error("refresh with unchanged version should be a no-op")
	}

	clock.advance(time.Second)
	if err := writer.Save(ctx, Document{"clusters": 7}); err != nil {
		t.Fatal(err)
	}

	if !reader.PollRefresh(ctx) {
		t.Fatal("expected refresh after newer version")
	}
	if reader.Settings().Clusters != 7 {
		t.Errorf("Clusters = %d, want 7", reader.Settings().Clusters)
	}
	if reader.PollRefresh(ctx) {
		t.Error("second refresh at same version should be a no-op")
	}

	t.Run("older version never regresses", func(t *testing.T) {
		stale, _ := json.Marshal(map[string]any{"clusters": 1})
		_ = backing.Set(ctx, SettingsKey, stale)
		_ = backing.Set(ctx, VersionKey, []byte("5"))

		if reader.PollRefresh(ctx) {
			t.Error("refresh accepted an older version")
		}
		if reader.Settings().Clusters != 7 {
			t.Errorf("Clusters regressed to %d", reader.Settings().Clusters)
		}
	})

	t.Run("store error is swallowed", func(t *testing.T) {
		backing.SetFailure(errors.New("timeout"))
		defer backing.SetFailure(nil)

		if reader.PollRefresh(ctx) {
			t.Error("refresh should report false on store error")
		}
		if reader.Settings().Clusters != 7 {
			t.Errorf("cache changed on store error: %d", reader.Settings().Clusters)
		}
	})
}

func TestSubscribe(t *testing.T) {
	ctx := context.Background()
	backing := store.NewMemoryStore()
	path := writeFile(t, "config.yaml", "clusters: 2\n")

	s := newTestStore(t, backing, nil)
	var got []int
	unsubscribe := s.Subscribe(func(snap *Snapshot) {
		got = append(got, snap.Settings.Clusters)
	})

	if _, err := s.Init(ctx, path); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(ctx, Document{"clusters": 3}); err != nil {
		t.Fatal(err)
	}
	unsubscribe()
	if err := s.Save(ctx, Document{"clusters": 4}); err != nil {
		t.Fatal(err)
	}

	if len(got) != 2 || got[0] != 2 || got[1] != 3 {
		t.Errorf("subscriber saw %v, want [2 3]", got)
	}
}

func TestOnConsoleChange(t *testing.T) {
	ctx := context.Background()
	backing := store.NewMemoryStore()
	path := writeFile(t, "config.yaml", "clusters: 2\nconsole:\n  level: info\n")

	s := newTestStore(t, backing, nil)
	if _, err := s.Init(ctx, path); err != nil {
		t.Fatal(err)
	}

	var levels []string
	unsubscribe := s.OnConsoleChange(func(settings *Settings) {
		levels = append(levels, settings.Console.Level)
	})
	defer unsubscribe()

	saves := []Document{
		{"clusters": 3, "console": map[string]any{"level": "info"}},
		{"clusters": 3, "console": map[string]any{"level": "debug"}},
		{"clusters": 4, "console": map[string]any{"level": "debug"}},
		{"clusters": 4, "console": map[string]any{"level": "debug", "format": "console"}},
	}
	for _, doc := range saves {
		if err := s.Save(ctx, doc); err != nil {
			t.Fatal(err)
		}
	}

	if len(levels) != 2 || levels[0] != "debug" || levels[1] != "debug" {
		t.Errorf("console changes seen %v, want [debug debug]", levels)
	}
}

func TestPollerWatchTriggersRefresh(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backing := store.NewMemoryStore()
	clock := newFixedClock(50_000)
	// A long interval so only the watch path can trigger the refresh.
	path := writeFile(t, "config.yaml", "clusters: 2\nsettings_refresh:\n  interval_ms: 60000\n")

	reader := newTestStore(t, backing, clock)
	if _, err := reader.Init(ctx, path); err != nil {
		t.Fatal(err)
	}
	writer := newTestStore(t, backing, clock)
	if _, err := writer.Init(ctx, path); err != nil {
		t.Fatal(err)
	}

	refreshed := make(chan int, 4)
	reader.Subscribe(func(snap *Snapshot) { refreshed <- snap.Settings.Clusters })

	poller := NewPoller(reader, backing)
	done := make(chan error, 1)
	go func() { done <- poller.Serve(ctx) }()

	// Let the poller register its watch before writing.
	deadline := time.Now().Add(2 * time.Second)
	for {
		clock.advance(time.Second)
		doc := Document{"clusters": 9, "settings_refresh": map[string]any{"interval_ms": 60000}}
		if err := writer.Save(ctx, doc); err != nil {
			t.Fatal(err)
		}
		select {
		case n := <-refreshed:
			if n != 9 {
				t.Errorf("refreshed Clusters = %d, want 9", n)
			}
			cancel()
			if err := <-done; !errors.Is(err, context.Canceled) {
				t.Errorf("Serve returned %v", err)
			}
			return
		case <-time.After(50 * time.Millisecond):
		}
		if time.Now().After(deadline) {
			t.Fatal("poller did not refresh on watch notification")
		}
	}
}

func TestPollerString(t *testing.T) {
	if got := NewPoller(NewStore(store.NewMemoryStore()), nil).String(); got != "config-poller" {
		t.Errorf("String() = %q", got)
	}
}

func TestPeekDoesNotWrite(t *testing.T) {
	ctx := context.Background()
	backing := store.NewMemoryStore()
	path := writeFile(t, "config.yaml", "clusters: 2\nname: file\n")

	s := newTestStore(t, backing, nil)
	snap, err := s.Peek(ctx, path)
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if snap.Settings.Clusters != 2 || snap.Version != 0 {
		t.Errorf("snapshot = clusters %d version %d", snap.Settings.Clusters, snap.Version)
	}
	if _, err := backing.Get(ctx, SettingsKey); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Peek wrote %s: %v", SettingsKey, err)
	}
	if s.Current() != nil {
		t.Error("Peek must not install a snapshot")
	}

	if err := backing.Set(ctx, SettingsKey, []byte(`{"name":"stored"}`)); err != nil {
		t.Fatal(err)
	}
	if err := backing.Set(ctx, VersionKey, []byte("77")); err != nil {
		t.Fatal(err)
	}
	snap, err = s.Peek(ctx, path)
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if snap.Settings.Name != "stored" || snap.Settings.Clusters != 2 || snap.Version != 77 {
		t.Errorf("merged snapshot = name %q clusters %d version %d", snap.Settings.Name, snap.Settings.Clusters, snap.Version)
	}
}
