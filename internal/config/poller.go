// fleetd - Worker Fleet Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetd

package config

import (
	"context"
	"time"

	"github.com/tomtom215/fleetd/internal/logging"
	"github.com/tomtom215/fleetd/internal/store"
)

// Poller keeps a Store's snapshot fresh. It runs PollRefresh on a fixed
// interval and, when given a store.Watcher, also whenever the version marker
// changes. It implements suture.Service.
type Poller struct {
	store   *Store
	watcher store.Watcher
	name    string
}

// NewPoller creates a Poller for s. watcher may be nil for poll-only mode.
func NewPoller(s *Store, watcher store.Watcher) *Poller {
	return &Poller{
		store:   s,
		watcher: watcher,
		name:    "config-poller",
	}
}

// Serve implements suture.Service. It blocks only on the ticker, the watch
// channel and ctx.
func (p *Poller) Serve(ctx context.Context) error {
	interval := p.store.Settings().RefreshInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var changes <-chan struct{}
	if p.watcher != nil {
		ch, err := p.watcher.Watch(ctx, VersionKey)
		if err != nil {
			logging.Warn().Err(err).Msg("Configuration watch unavailable, polling only")
		} else {
			changes = ch
		}
	}

	logging.Debug().
		Dur("interval", interval).
		Bool("watch", changes != nil).
		Msg("Configuration poller started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case _, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
		}

		p.poll(ctx, interval)

		if next := p.store.Settings().RefreshInterval(); next != interval {
			interval = next
			ticker.Reset(interval)
			logging.Info().Dur("interval", interval).Msg("Configuration poll interval changed")
		}
	}
}

func (p *Poller) poll(ctx context.Context, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	p.store.PollRefresh(ctx)
}

// String implements fmt.Stringer for suture logging.
func (p *Poller) String() string {
	return p.name
}
