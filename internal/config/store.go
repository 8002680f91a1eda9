// fleetd - Worker Fleet Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetd

package config

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/fleetd/internal/logging"
	"github.com/tomtom215/fleetd/internal/metrics"
	"github.com/tomtom215/fleetd/internal/store"
)

// Backing store keys.
const (
	SettingsKey = "config:settings"
	VersionKey  = "config:settings-updated"
)

var (
	// ErrNotInitialized is returned by Save before Init has succeeded.
	ErrNotInitialized = errors.New("config: store not initialized")

	// ErrPersist wraps a backing store failure in Save. The local snapshot
	// has already been swapped when it is returned.
	ErrPersist = errors.New("config: persist failed")
)

// Snapshot is an immutable view of the configuration at one version.
type Snapshot struct {
	// Version is the backing store version marker (epoch ms) this snapshot
	// was read at or written with.
	Version  int64
	Document Document
	Settings *Settings
	LoadedAt time.Time
}

// Store is the per-process handle on the shared configuration document.
//
// Readers call Current or Settings whenever they need configuration and
// always observe the latest snapshot; Subscribe delivers every swap.
type Store struct {
	backing store.Store

	// mu serializes Init, Save and refresh so lastSeen only moves forward.
	mu       sync.Mutex
	lastSeen int64
	current  atomic.Pointer[Snapshot]

	subsMu  sync.RWMutex
	subs    map[int]func(*Snapshot)
	nextSub int

	now func() time.Time
}

// NewStore creates a Store over the given backing store.
func NewStore(backing store.Store) *Store {
	return &Store{
		backing: backing,
		subs:    make(map[int]func(*Snapshot)),
		now:     time.Now,
	}
}

// Init loads the file document at path, merges the persisted override from
// the backing store on top of it and installs the result. When nothing is
// persisted yet the file document becomes the canonical copy.
//
// Errors are fatal for the caller: a parse error, a store error or a
// validation error all mean the process must not start.
func (s *Store) Init(ctx context.Context, path string) (*Snapshot, error) {
	defaults, err := LoadDefaults(path)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()

	override, found, err := s.fetchDocument(ctx)
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("fetch persisted configuration: %w", err)
	}

	var merged Document
	if found {
		merged = Merge(defaults, override)
	} else {
		merged = defaults
		if err := s.writeLocked(ctx, merged, s.nextVersionLocked()); err != nil {
			s.mu.Unlock()
			return nil, fmt.Errorf("persist initial configuration: %w", err)
		}
	}

	version, err := s.fetchVersion(ctx)
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("fetch configuration version: %w", err)
	}

	settings, err := DecodeSettings(merged)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if err := settings.Validate(); err != nil {
		s.mu.Unlock()
		return nil, err
	}

	s.lastSeen = version
	snap := s.swapLocked(merged, settings, version)
	s.mu.Unlock()

	logging.Info().
		Str("path", path).
		Bool("override", found).
		Int64("version", version).
		Msg("Configuration initialized")

	s.publish(snap)
	return snap, nil
}

// Peek computes the snapshot Init would install without writing to the
// backing store or swapping the current snapshot.
func (s *Store) Peek(ctx context.Context, path string) (*Snapshot, error) {
	defaults, err := LoadDefaults(path)
	if err != nil {
		return nil, err
	}

	override, found, err := s.fetchDocument(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch persisted configuration: %w", err)
	}
	merged := defaults
	if found {
		merged = Merge(defaults, override)
	}

	version, err := s.fetchVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch configuration version: %w", err)
	}
	settings, err := DecodeSettings(merged)
	if err != nil {
		return nil, err
	}
	return &Snapshot{Version: version, Document: merged, Settings: settings, LoadedAt: s.now()}, nil
}

// Current returns the latest snapshot, or nil before Init.
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

// Settings returns the typed settings of the latest snapshot.
// Before Init it returns DefaultSettings().
func (s *Store) Settings() *Settings {
	if snap := s.current.Load(); snap != nil {
		return snap.Settings
	}
	return DefaultSettings()
}

// LastSeenVersion returns the highest version this process has observed.
func (s *Store) LastSeenVersion() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Save replaces the configuration with doc. The local snapshot is swapped
// before the backing store write, so this process sees the change at once
// even if the write fails. Concurrent saves from different processes are
// last-writer-wins.
func (s *Store) Save(ctx context.Context, doc Document) error {
	if s.current.Load() == nil {
		return ErrNotInitialized
	}

	doc = doc.Clone()
	settings, err := DecodeSettings(doc)
	if err != nil {
		return err
	}
	if err := settings.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	version := s.nextVersionLocked()
	s.lastSeen = version
	snap := s.swapLocked(doc, settings, version)
	err = s.writeLocked(ctx, doc, version)
	s.mu.Unlock()

	s.publish(snap)

	if err != nil {
		metrics.ConfigSaves.WithLabelValues("error").Inc()
		logging.Ctx(ctx).Error().Err(err).Int64("version", version).Msg("Failed to persist configuration")
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}

	metrics.ConfigSaves.WithLabelValues("ok").Inc()
	logging.Ctx(ctx).Info().Int64("version", version).Msg("Configuration saved")
	return nil
}

// PollRefresh checks the version marker and installs the canonical document
// if it is strictly newer than anything seen so far. Store errors are logged
// and reported as "no refresh".
func (s *Store) PollRefresh(ctx context.Context) bool {
	refreshed, err := s.refresh(ctx)
	if err != nil {
		metrics.ConfigRefreshes.WithLabelValues("error").Inc()
		logging.Warn().Err(err).Msg("Configuration refresh failed")
		return false
	}
	if refreshed {
		metrics.ConfigRefreshes.WithLabelValues("refreshed").Inc()
	} else {
		metrics.ConfigRefreshes.WithLabelValues("unchanged").Inc()
	}
	return refreshed
}

func (s *Store) refresh(ctx context.Context) (bool, error) {
	if s.current.Load() == nil {
		return false, ErrNotInitialized
	}

	s.mu.Lock()

	version, err := s.fetchVersion(ctx)
	if err != nil {
		s.mu.Unlock()
		return false, err
	}
	if version <= s.lastSeen {
		s.mu.Unlock()
		return false, nil
	}

	doc, found, err := s.fetchDocument(ctx)
	if err != nil {
		s.mu.Unlock()
		return false, err
	}
	if !found {
		s.mu.Unlock()
		return false, fmt.Errorf("version %d present but %s missing", version, SettingsKey)
	}

	settings, err := DecodeSettings(doc)
	if err != nil {
		s.mu.Unlock()
		return false, err
	}

	s.lastSeen = version
	snap := s.swapLocked(doc, settings, version)
	s.mu.Unlock()

	logging.Info().Int64("version", version).Msg("Configuration refreshed")
	s.publish(snap)
	return true, nil
}

// Subscribe registers fn to run after every snapshot swap. The returned
// function removes the subscription. fn runs on the swapping goroutine.
func (s *Store) Subscribe(fn func(*Snapshot)) (unsubscribe func()) {
	s.subsMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subsMu.Unlock()

	return func() {
		s.subsMu.Lock()
		delete(s.subs, id)
		s.subsMu.Unlock()
	}
}

// OnConsoleChange calls fn after a swap that changes the console log
// settings, so a process can re-initialise its logger on refresh.
func (s *Store) OnConsoleChange(fn func(*Settings)) (unsubscribe func()) {
	var mu sync.Mutex
	last := s.Settings().Console

	return s.Subscribe(func(snap *Snapshot) {
		mu.Lock()
		changed := snap.Settings.Console != last
		last = snap.Settings.Console
		mu.Unlock()

		if changed {
			fn(snap.Settings)
		}
	})
}

func (s *Store) publish(snap *Snapshot) {
	s.subsMu.RLock()
	fns := make([]func(*Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subsMu.RUnlock()

	for _, fn := range fns {
		fn(snap)
	}
}

func (s *Store) swapLocked(doc Document, settings *Settings, version int64) *Snapshot {
	snap := &Snapshot{
		Version:  version,
		Document: doc,
		Settings: settings,
		LoadedAt: s.now(),
	}
	s.current.Store(snap)
	metrics.ConfigVersion.Set(float64(version))
	return snap
}

// nextVersionLocked returns the wall clock in ms, bumped past lastSeen when
// the clock has not advanced.
func (s *Store) nextVersionLocked() int64 {
	v := s.now().UnixMilli()
	if v <= s.lastSeen {
		v = s.lastSeen + 1
	}
	return v
}

func (s *Store) writeLocked(ctx context.Context, doc Document, version int64) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode configuration: %w", err)
	}
	if err := s.backing.Set(ctx, SettingsKey, data); err != nil {
		return err
	}
	return s.backing.Set(ctx, VersionKey, []byte(strconv.FormatInt(version, 10)))
}

func (s *Store) fetchDocument(ctx context.Context) (Document, bool, error) {
	data, err := s.backing.Get(ctx, SettingsKey)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, false, fmt.Errorf("decode %s: %w", SettingsKey, err)
	}
	if doc == nil {
		return nil, false, nil
	}
	return doc, true, nil
}

func (s *Store) fetchVersion(ctx context.Context) (int64, error) {
	data, err := s.backing.Get(ctx, VersionKey)
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("decode %s: %w", VersionKey, err)
	}
	return v, nil
}
