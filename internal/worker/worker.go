// fleetd - Worker Fleet Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetd

// Package worker is the runtime of one worker process: it joins the shared
// configuration store, serves the admin API on the inherited listener and
// tells the supervisor when it is ready.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/tomtom215/fleetd/internal/api"
	"github.com/tomtom215/fleetd/internal/config"
	"github.com/tomtom215/fleetd/internal/eventlog"
	"github.com/tomtom215/fleetd/internal/logging"
	"github.com/tomtom215/fleetd/internal/store"
	"github.com/tomtom215/fleetd/internal/supervisor"
	"github.com/tomtom215/fleetd/internal/supervisor/services"
)

// Options configures Run.
type Options struct {
	ConfigPath string
	Slot       int
	Code       string
	NATSURL    string
	Version    string

	// Ready receives one byte once the API is serving. May be nil.
	Ready io.WriteCloser
	// Listener is the shared socket. Nil binds website.host:port.
	Listener net.Listener

	// Store overrides the backing store selected by the settings.
	Store store.Store
}

// OptionsFromEnv reads the slot, code and NATS URL that ExecSpawner passes
// through the environment.
func OptionsFromEnv(configPath, version string) (Options, error) {
	opts := Options{
		ConfigPath: configPath,
		Code:       os.Getenv(supervisor.EnvWorkerCode),
		NATSURL:    os.Getenv(supervisor.EnvNATSURL),
		Version:    version,
	}

	slot, err := strconv.Atoi(os.Getenv(supervisor.EnvWorkerSlot))
	if err != nil || slot < 1 {
		return opts, fmt.Errorf("worker: %s must be a positive slot number", supervisor.EnvWorkerSlot)
	}
	opts.Slot = slot
	return opts, nil
}

// AttachInherited adopts the descriptors passed by ExecSpawner: the ready
// pipe on fd 3 and the shared listener on fd 4. Call it only in a process
// started by the supervisor.
func (o *Options) AttachInherited() error {
	o.Ready = os.NewFile(supervisor.ReadyFD, "fleetd-ready")

	lf := os.NewFile(supervisor.ListenerFD, "fleetd-listener")
	ln, err := net.FileListener(lf)
	_ = lf.Close()
	if err != nil {
		return fmt.Errorf("worker: inherit listener: %w", err)
	}
	o.Listener = ln
	return nil
}

// Run starts the worker and blocks until ctx is canceled or the tree fails.
func Run(ctx context.Context, opts Options) error {
	boot, err := config.Bootstrap(opts.ConfigPath)
	if err != nil {
		return err
	}
	logLabel := fmt.Sprintf("worker-%d", opts.Slot)
	logging.Init(boot.LogConfig().WithProcess(logLabel, opts.Code))

	backing := opts.Store
	if backing == nil {
		backing, err = store.Open(ctx, boot.StoreOptions(opts.NATSURL))
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
	}
	defer backing.Close()

	cfg := config.NewStore(backing)
	snap, err := cfg.Init(ctx, opts.ConfigPath)
	if err != nil {
		return err
	}
	logging.Init(snap.Settings.LogConfig().WithProcess(logLabel, opts.Code))
	defer cfg.OnConsoleChange(func(s *config.Settings) {
		logging.Init(s.LogConfig().WithProcess(logLabel, opts.Code))
		logging.Info().Str("level", s.Console.Level).Msg("Console logging reconfigured")
	})()

	events := eventlog.New(eventlog.Config{
		Settings: cfg,
		Slot:     opts.Slot,
	})
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := events.Close(closeCtx); err != nil {
			logging.Warn().Err(err).Msg("Event logger did not drain before exit")
		}
	}()

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		Name: "fleetd-" + logLabel,
	})
	if err != nil {
		return fmt.Errorf("create supervisor tree: %w", err)
	}

	var watcher store.Watcher
	if snap.Settings.Refresh.Mode == "watch" {
		if w, ok := backing.(store.Watcher); ok {
			watcher = w
		}
	}
	tree.AddControlService(config.NewPoller(cfg, watcher))

	server := &http.Server{
		Addr: snap.Settings.ListenAddr(),
		Handler: api.NewRouter(api.RouterConfig{
			Handler: api.NewHandler(cfg, events, opts.Code, opts.Version),
			Metrics: snap.Settings.Metrics.Enabled,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	httpSvc := services.NewHTTPServerService(server, opts.Listener, 10*time.Second)
	tree.AddAPIService(httpSvc)

	serving := httpSvc.Serving()
	if opts.Listener == nil {
		// ListenAndServe binds inside Serve; there is no earlier signal.
		bound := make(chan struct{})
		close(bound)
		serving = bound
	}
	go signalReady(ctx, serving, opts.Ready)

	logging.Info().
		Int("slot", opts.Slot).
		Str("code", opts.Code).
		Int("pid", os.Getpid()).
		Bool("shared_listener", opts.Listener != nil).
		Msg("Worker starting")

	err = tree.Serve(ctx)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		logging.Info().Int("slot", opts.Slot).Msg("Worker stopped")
		return nil
	}
	return err
}

// signalReady writes the ready byte once serving is closed.
func signalReady(ctx context.Context, serving <-chan struct{}, ready io.WriteCloser) {
	if ready == nil {
		return
	}
	defer ready.Close()

	select {
	case <-serving:
	case <-ctx.Done():
		return
	}
	if _, err := ready.Write([]byte{1}); err != nil {
		logging.Warn().Err(err).Msg("Failed to signal readiness")
	}
}
