// fleetd - Worker Fleet Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetd

// Package main is the fleetd command.
//
// fleetd runs a fixed-size pool of worker processes that share one admin
// HTTP port, one configuration document and one event log policy.
//
// # Commands
//
//	fleetd serve                 supervisor: NATS, config, pool, file watcher
//	fleetd worker                worker runtime (started by serve)
//	fleetd worker --standalone   a single worker binding its own port
//	fleetd logs                  pretty-print the event log
//	fleetd config show           print the effective configuration
//
// # Startup order (serve)
//
//  1. Configuration file and environment (koanf), process logging
//  2. Embedded NATS JetStream server, unless store.nats.url is set
//  3. Configuration store Init: merge file defaults with the stored override
//  4. Shared listener on website.host:port
//  5. Worker pool (clusters, 1..48; anything else is fatal)
//  6. File watcher: a settled change recycles every worker
//
// # Signal Handling
//
// SIGINT and SIGTERM cancel the supervisor tree. Workers receive SIGTERM,
// finish in-flight requests and drain their webhook queue.
package main

import (
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
