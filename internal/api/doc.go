// fleetd - Worker Fleet Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetd

/*
Package api serves the admin HTTP surface of a worker process.

Every worker mounts the same router on the shared listener, so any worker
can answer. Configuration writes go through config.Store.Save, which makes
them visible to the other workers on their next refresh.

# Routes

	GET  /healthz          liveness plus worker code and config version
	GET  /api/config       current snapshot {version, settings}
	PUT  /api/config       replace the configuration document
	POST /api/events       record an event (202 with id, 204 when filtered)
	GET  /api/events       reconciled event log, delivery summary, log info
	GET  /metrics          Prometheus metrics (metrics.enabled)

# Middleware

Applied in order: request id with logging context, real IP, access log,
request metrics, panic recovery and CORS. Routes under /api add an
httprate limit.

All JSON bodies use the APIResponse envelope:

	{"success": true, "data": {...}, "meta": {"request_id": "...", "timestamp": "..."}}
*/
package api
