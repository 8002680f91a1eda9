// fleetd - Worker Fleet Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetd

// Package store provides the backing key/value store shared by every fleet
// process. Keys are atomic individually and writers are last-writer-wins.
//
// Backends:
//   - nats: a JetStream KV bucket, reachable from every process (default)
//   - badger: a local BadgerDB directory; BadgerDB holds an exclusive
//     directory lock, so this backend only suits a single-process deployment
//   - memory: process-local, for tests
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Backend names accepted by Open.
const (
	BackendNATS   = "nats"
	BackendBadger = "badger"
	BackendMemory = "memory"
)

var (
	// ErrNotFound is returned by Get when the key holds no value.
	ErrNotFound = errors.New("store: key not found")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("store: closed")

	// ErrUnknownBackend is returned by Open for an unrecognised backend name.
	ErrUnknownBackend = errors.New("store: unknown backend")
)

// Store is a durable key/value store reachable from every process.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Watcher is implemented by stores that can push change notifications.
// The returned channel receives a value after each write to key and is
// closed when ctx is done.
type Watcher interface {
	Watch(ctx context.Context, key string) (<-chan struct{}, error)
}

// Options selects and configures a backend.
type Options struct {
	Backend        string
	NATSURL        string
	Bucket         string
	BadgerPath     string
	ConnectTimeout time.Duration
}

// Open returns the backend named by opts.Backend.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case BackendNATS, "":
		return OpenNATS(ctx, opts.NATSURL, opts.Bucket, opts.ConnectTimeout)
	case BackendBadger:
		return OpenBadger(opts.BadgerPath)
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}
}

// notify performs a non-blocking send so a slow watcher coalesces bursts.
func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
