// fleetd - Worker Fleet Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetd

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomtom215/fleetd/internal/config"
	"github.com/tomtom215/fleetd/internal/logging"
	"github.com/tomtom215/fleetd/internal/store"
	"github.com/tomtom215/fleetd/internal/worker"
)

// standaloneCode is the display code of a worker run without a supervisor.
const standaloneCode = "SOLO01"

func newWorkerCommand(root *rootOptions) *cobra.Command {
	var standalone bool

	cmd := &cobra.Command{
		Use:    "worker",
		Short:  "Run one worker process",
		Hidden: true,
		Args:   cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			path := root.resolveConfig()
			if standalone {
				if err := runStandalone(ctx, path); err != nil {
					logging.Fatal().Err(err).Msg("Standalone worker failed")
				}
				return
			}

			opts, err := worker.OptionsFromEnv(path, version)
			if err != nil {
				logging.Fatal().Err(err).Msg("Worker started outside the supervisor")
			}
			if err := opts.AttachInherited(); err != nil {
				logging.Fatal().Err(err).Int("slot", opts.Slot).Msg("Worker started outside the supervisor")
			}
			if err := worker.Run(ctx, opts); err != nil {
				logging.Fatal().Err(err).Int("slot", opts.Slot).Msg("Worker failed")
			}
		},
	}
	cmd.Flags().BoolVar(&standalone, "standalone", false,
		"run one worker without a supervisor, binding website.host:port directly")
	return cmd
}

// runStandalone runs slot 1 on its own listener. Any backend works here;
// with the embedded NATS default the server is hosted in-process.
func runStandalone(ctx context.Context, path string) error {
	boot, err := config.Bootstrap(path)
	if err != nil {
		return err
	}
	logging.Init(boot.LogConfig().WithProcess("worker-1", standaloneCode))

	opts := worker.Options{
		ConfigPath: path,
		Slot:       1,
		Code:       standaloneCode,
		Version:    version,
	}

	if boot.EmbeddedNATS() {
		srv, err := store.StartEmbedded(boot.EmbeddedConfig())
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logging.Warn().Err(err).Msg("Embedded NATS server shutdown failed")
			}
		}()
		opts.NATSURL = srv.ClientURL()
	}

	logging.Warn().Str("backend", boot.Store.Backend).Msg("Running a standalone worker without supervision")
	return worker.Run(ctx, opts)
}
