// fleetd - Worker Fleet Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetd

/*
Package supervisor runs the fleet: a suture v4 tree plus the worker pool
that lives inside it.

# Tree

	RootSupervisor ("fleetd")
	├── control-layer
	│   ├── NATSServerService (supervisor, embedded store)
	│   ├── config-poller
	│   └── file-watcher
	├── workers-layer
	│   └── worker-slot-1 .. worker-slot-N
	└── api-layer
	    └── HTTPServerService (worker processes)

The workers layer has its own failure threshold, sized so that a recycle,
which fails every slot at once, does not push the layer into backoff.

# Pool

Pool.Start validates the size (1..48) and adds one slot service per worker.
A slot's Serve spawns one process through a Spawner and blocks until it
exits. An unexpected exit is logged at error, recorded as a "worker exit"
event and returned as an error wrapping ErrWorkerExited; suture then calls
Serve again, which spawns the replacement with a fresh display code and
records a "worker fork" event.

Recycle stops every live process. Each exit takes the same replacement
path, so the pool never drops below its size for longer than one restart.

# Worker processes

ExecSpawner re-executes the current binary with the "worker" subcommand.
The child inherits two descriptors:

	fd 3  write end of the ready pipe; one byte means "serving"
	fd 4  the shared TCP listener

Every worker accepts on the same socket, so the kernel spreads connections
across the pool.
*/
package supervisor
