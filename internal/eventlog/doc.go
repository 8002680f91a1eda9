// fleetd - Worker Fleet Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetd

/*
Package eventlog records operational events for the fleet.

An event passes the master switch and the per-scope action allow-list, is
appended to a local NDJSON file and, when a webhook is configured, queued for
forwarding as a Discord embed.

# Local file

Each line is one JSON Entry. Before every append the file size is compared
with logging.local.max_size_kb; when it has reached the limit the file is
renamed to <file>.<UTC timestamp>.bak and a fresh empty file takes its place.
Rotation failures are logged and the append still proceeds.

# Webhook forwarding

Queued entries live in a bounded FIFO (DefaultQueueCapacity). When the queue
is full the oldest entries are dropped; Log never blocks. A single drain
goroutine per Logger delivers entries one at a time with a timeout and
appends a delivery record (kind=delivery) carrying the outcome under the same
id. Failed deliveries are not retried.

# Reading

ReadEntries tolerates malformed lines, and Reconcile folds delivery records
into their events for display:

	entries, err := eventlog.ReadEntries(path, 200)
	view := eventlog.Reconcile(entries)
	stats := eventlog.Summarize(view)
*/
package eventlog
