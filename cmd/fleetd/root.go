// fleetd - Worker Fleet Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetd

package main

import (
	"github.com/spf13/cobra"

	"github.com/tomtom215/fleetd/internal/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

type rootOptions struct {
	configPath string
}

// resolveConfig applies FindConfigFile to the --config flag.
func (o *rootOptions) resolveConfig() string {
	return config.FindConfigFile(o.configPath)
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "fleetd",
		Short:         "Supervise a pool of worker processes",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		"configuration file (default: $CONFIG_PATH, then ./config.yaml|yml|toml)")

	root.AddCommand(
		newServeCommand(opts),
		newWorkerCommand(opts),
		newLogsCommand(opts),
		newConfigCommand(opts),
	)
	return root
}
