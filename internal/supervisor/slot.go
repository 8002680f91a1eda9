// fleetd - Worker Fleet Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetd

package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/fleetd/internal/eventlog"
	"github.com/tomtom215/fleetd/internal/logging"
	"github.com/tomtom215/fleetd/internal/metrics"
)

// workerSlot is the suture service owning one worker position. Every Serve
// call runs exactly one process; returning an error on exit hands the
// restart to suture.
type workerSlot struct {
	pool     *Pool
	slot     int
	starts   int
	lastCode string
}

// Serve implements suture.Service.
func (s *workerSlot) Serve(ctx context.Context) error {
	replacement := s.starts > 0
	s.starts++

	code := s.pool.assignCode(s.slot, s.lastCode)
	s.lastCode = code

	proc, err := s.pool.spawner.Spawn(ctx, SpawnRequest{Slot: s.slot, Code: code})
	if err != nil {
		s.pool.releaseCode(code)
		logging.Error().Err(err).Int("slot", s.slot).Msg("Failed to spawn worker")
		return fmt.Errorf("spawn worker slot %d: %w", s.slot, err)
	}

	pid := proc.Pid()
	log := logging.ForWorker(s.slot, code, pid)
	s.pool.register(&worker{
		proc: proc,
		info: WorkerInfo{
			Slot:      s.slot,
			Code:      code,
			Pid:       pid,
			State:     StateStarting,
			StartedAt: time.Now(),
			Restarts:  s.starts - 1,
		},
	})

	if replacement {
		metrics.WorkerForks.Inc()
		s.pool.logEvent("worker fork",
			fmt.Sprintf("Spawned replacement worker %s in slot %d (pid %d).", code, s.slot, pid),
			eventlog.Options{
				Severity: eventlog.SeverityInfo,
				Tags:     []string{"cluster"},
				WorkerID: pidString(pid),
			})
	}

	ready := proc.Ready()
	for {
		select {
		case <-ready:
			ready = nil
			log.Debug().Msg("Worker signalled readiness")
			s.pool.markOnline(s.slot)
			metrics.WorkersOnline.Inc()
			s.pool.logStatus()
			s.pool.logEvent("worker online",
				fmt.Sprintf("Worker %s in slot %d (pid %d) is online.", code, s.slot, pid),
				eventlog.Options{
					Severity: eventlog.SeverityInfo,
					Tags:     []string{"cluster"},
					WorkerID: pidString(pid),
				})

		case <-proc.Exited():
			s.pool.unregister(s.slot, code)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			metrics.WorkerExits.Inc()

			status := exitStatus(proc.ExitErr())
			log.Error().Str("status", status).Msg("Worker died, forking a replacement")
			s.pool.logEvent("worker exit",
				fmt.Sprintf("Worker %s in slot %d (pid %d) exited (%s).", code, s.slot, pid, status),
				eventlog.Options{
					Severity: eventlog.SeverityError,
					Tags:     []string{"cluster"},
					WorkerID: pidString(pid),
				})
			return fmt.Errorf("slot %d: %w: pid %d", s.slot, ErrWorkerExited, pid)

		case <-ctx.Done():
			s.shutdown(proc)
			s.pool.unregister(s.slot, code)
			return ctx.Err()
		}
	}
}

// shutdown stops proc and kills it if it outlives the stop timeout.
func (s *workerSlot) shutdown(proc Process) {
	if err := proc.Stop(); err != nil {
		logging.Warn().Err(err).Int("pid", proc.Pid()).Msg("Failed to stop worker")
	}
	select {
	case <-proc.Exited():
	case <-time.After(s.pool.stopTimeout):
		logging.Warn().Int("pid", proc.Pid()).Msg("Worker did not stop in time, killing")
		_ = proc.Kill()
		<-proc.Exited()
	}
}

// String implements fmt.Stringer for suture logging.
func (s *workerSlot) String() string {
	return fmt.Sprintf("worker-slot-%d", s.slot)
}

// exitStatus describes how a worker process ended. A nil error is a clean exit.
func exitStatus(err error) string {
	if err == nil {
		return "exit status 0"
	}
	return err.Error()
}
