// fleetd - Worker Fleet Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetd

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomtom215/fleetd/internal/config"
	"github.com/tomtom215/fleetd/internal/eventlog"
	"github.com/tomtom215/fleetd/internal/logging"
	"github.com/tomtom215/fleetd/internal/store"
	"github.com/tomtom215/fleetd/internal/supervisor"
	"github.com/tomtom215/fleetd/internal/supervisor/services"
	"github.com/tomtom215/fleetd/internal/watch"
)

// errSharedStoreRequired rejects process-local backends under serve.
var errSharedStoreRequired = errors.New("serve needs the nats store backend; use `fleetd worker --standalone` for badger or memory")

func newServeCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the supervisor and its worker pool",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := runServe(ctx, root.resolveConfig()); err != nil {
				logging.Fatal().Err(err).Msg("Supervisor failed")
			}
		},
	}
}

// runServe returns only fatal startup errors or a tree failure.
func runServe(ctx context.Context, path string) error {
	boot, err := config.Bootstrap(path)
	if err != nil {
		return err
	}
	logging.Init(boot.LogConfig().WithProcess("supervisor", ""))
	if boot.Store.Backend != store.BackendNATS {
		return fmt.Errorf("%w (store.backend=%s)", errSharedStoreRequired, boot.Store.Backend)
	}

	logging.Info().Str("config", path).Str("version", version).Msg("Starting fleetd supervisor")

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{Name: boot.Name})
	if err != nil {
		return fmt.Errorf("create supervisor tree: %w", err)
	}

	natsURL := boot.Store.NATS.URL
	if boot.EmbeddedNATS() {
		natsSvc := services.NewNATSServerService(boot.EmbeddedConfig())
		if natsURL, err = natsSvc.Start(); err != nil {
			return err
		}
		tree.AddControlService(natsSvc)
	}

	backing, err := store.Open(ctx, boot.StoreOptions(natsURL))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer backing.Close()

	cfg := config.NewStore(backing)
	snap, err := cfg.Init(ctx, path)
	if err != nil {
		return err
	}
	settings := snap.Settings
	logging.Init(settings.LogConfig().WithProcess("supervisor", ""))
	defer cfg.OnConsoleChange(func(s *config.Settings) {
		logging.Init(s.LogConfig().WithProcess("supervisor", ""))
		logging.Info().Str("level", s.Console.Level).Msg("Console logging reconfigured")
	})()

	events := eventlog.New(eventlog.Config{Settings: cfg})
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := events.Close(closeCtx); err != nil {
			logging.Warn().Err(err).Msg("Event logger did not drain before exit")
		}
	}()

	var watcher store.Watcher
	if settings.Refresh.Mode == "watch" {
		watcher, _ = backing.(store.Watcher)
	}
	tree.AddControlService(config.NewPoller(cfg, watcher))

	ln, err := net.Listen("tcp", settings.ListenAddr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", settings.ListenAddr(), err)
	}
	defer ln.Close()
	lnFile, err := ln.(*net.TCPListener).File()
	if err != nil {
		return fmt.Errorf("share listener: %w", err)
	}
	defer lnFile.Close()

	args := []string{"worker"}
	if path != "" {
		args = append(args, "--config", path)
	}
	pool := supervisor.NewPool(supervisor.PoolConfig{
		Spawner: &supervisor.ExecSpawner{
			Args:     args,
			Listener: lnFile,
			NATSURL:  natsURL,
			Stdout:   os.Stdout,
			Stderr:   os.Stderr,
		},
		Events: events,
		Layer:  tree.Workers(),
	})
	if err := pool.Start(settings.Clusters); err != nil {
		return err
	}

	if settings.Watch.Enabled && len(settings.Watch.Paths) > 0 {
		tree.AddControlService(watch.New(settings.Watch.Paths, settings.DebounceWindow(), pool.Recycle))
	}

	logging.Info().
		Str("listen", ln.Addr().String()).
		Int("workers", settings.Clusters).
		Str("nats", natsURL).
		Msg("Supervisor running")

	err = tree.Serve(ctx)
	if errors.Is(err, context.Canceled) {
		logging.Info().Msg("Supervisor stopped")
		return nil
	}
	return err
}
