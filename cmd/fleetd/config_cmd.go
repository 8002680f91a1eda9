// fleetd - Worker Fleet Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetd

package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tomtom215/fleetd/internal/config"
	"github.com/tomtom215/fleetd/internal/store"
)

type configShowOptions struct {
	format  string
	offline bool
	timeout time.Duration
}

func newConfigCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}
	cmd.AddCommand(newConfigShowCommand(root))
	return cmd
}

func newConfigShowCommand(root *rootOptions) *cobra.Command {
	opts := &configShowOptions{}

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration document",
		Long: "Prints the file defaults merged with the override persisted in the\n" +
			"backing store, the document a starting worker would install.\n" +
			"Nothing is written. With --offline only the file and environment are read.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.format != "yaml" && opts.format != "json" {
				return fmt.Errorf("unsupported format %q (want yaml or json)", opts.format)
			}
			path := root.resolveConfig()

			var (
				doc     config.Document
				version int64
			)
			if opts.offline {
				var err error
				if doc, err = config.LoadDefaults(path); err != nil {
					return err
				}
			} else {
				ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
				defer cancel()
				snap, err := peekConfig(ctx, path)
				if err != nil {
					return err
				}
				doc, version = snap.Document, snap.Version
			}
			return writeDocument(cmd.OutOrStdout(), doc, version, opts.format)
		},
	}

	cmd.Flags().StringVarP(&opts.format, "format", "o", "yaml", "output format: yaml or json")
	cmd.Flags().BoolVar(&opts.offline, "offline", false, "skip the backing store and show file and environment values only")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "backing store timeout")
	return cmd
}

// peekConfig reads the shared document without touching it. An embedded
// NATS server is not started here, so the supervisor must be running.
func peekConfig(ctx context.Context, path string) (*config.Snapshot, error) {
	boot, err := config.Bootstrap(path)
	if err != nil {
		return nil, err
	}
	natsURL := boot.Store.NATS.URL
	if boot.EmbeddedNATS() {
		cfg := boot.EmbeddedConfig()
		natsURL = fmt.Sprintf("nats://%s:%d", cfg.Host, cfg.Port)
	}

	backing, err := store.Open(ctx, boot.StoreOptions(natsURL))
	if err != nil {
		return nil, fmt.Errorf("open store (is the supervisor running? try --offline): %w", err)
	}
	defer backing.Close()

	return config.NewStore(backing).Peek(ctx, path)
}

func writeDocument(w io.Writer, doc config.Document, version int64, format string) error {
	switch format {
	case "json":
		out := map[string]any{"settings": doc}
		if version > 0 {
			out["version"] = version
		}
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	default:
		if version > 0 {
			if _, err := fmt.Fprintf(w, "# version: %d\n", version); err != nil {
				return err
			}
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(map[string]any(doc)); err != nil {
			return err
		}
		return enc.Close()
	}
}
