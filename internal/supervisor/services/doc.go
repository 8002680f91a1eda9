// fleetd - Worker Fleet Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetd

// Package services adapts long-running components to suture.Service.
//
// Each wrapper turns a Start/Shutdown or blocking-serve lifecycle into
// Serve(ctx) that returns when ctx is canceled:
//   - HTTPServerService: the worker's admin API on the shared listener
//   - NATSServerService: the supervisor's embedded NATS JetStream server
package services
