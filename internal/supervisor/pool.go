// fleetd - Worker Fleet Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetd

package supervisor

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/fleetd/internal/config"
	"github.com/tomtom215/fleetd/internal/eventlog"
	"github.com/tomtom215/fleetd/internal/logging"
	"github.com/tomtom215/fleetd/internal/metrics"
)

// ErrInvalidPoolSize is returned by Start for a size outside
// [config.MinClusters, config.MaxClusters]. Startup must abort on it.
var ErrInvalidPoolSize = errors.New("supervisor: pool size out of range")

// ErrWorkerExited is wrapped in the error a slot returns when its process
// exits, which makes suture start a replacement.
var ErrWorkerExited = errors.New("worker exited")

// WorkerState is the lifecycle state of a worker.
type WorkerState string

const (
	StateStarting WorkerState = "starting"
	StateOnline   WorkerState = "online"
)

// EventLogger records fleet events. *eventlog.Logger implements it.
type EventLogger interface {
	Log(action, message string, opts eventlog.Options) (string, bool)
}

// ServiceAdder is the part of a suture supervisor the pool needs.
type ServiceAdder interface {
	Add(suture.Service) suture.ServiceToken
}

// WorkerInfo is a snapshot of one live worker.
type WorkerInfo struct {
	Slot      int         `json:"slot"`
	Code      string      `json:"code"`
	Pid       int         `json:"pid"`
	State     WorkerState `json:"state"`
	StartedAt time.Time   `json:"startedAt"`
	Restarts  int         `json:"restarts"`
}

// PoolConfig configures a Pool.
type PoolConfig struct {
	Spawner Spawner
	Events  EventLogger
	// Layer receives the slot services, normally SupervisorTree.Workers().
	Layer ServiceAdder
	// StopTimeout bounds how long a stopping worker may take before it is
	// killed. Default: 5s
	StopTimeout time.Duration
}

// Pool keeps a fixed number of worker processes alive. Each worker runs in
// a slot; when a worker exits the slot's service fails and suture restarts
// it, which spawns the replacement.
type Pool struct {
	spawner     Spawner
	events      EventLogger
	layer       ServiceAdder
	stopTimeout time.Duration

	mu      sync.Mutex
	started bool
	size    int
	workers map[int]*worker // by slot
	codes   map[string]int  // live display code -> slot
}

type worker struct {
	info WorkerInfo
	proc Process
}

// NewPool creates a Pool.
func NewPool(cfg PoolConfig) *Pool {
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 5 * time.Second
	}
	return &Pool{
		spawner:     cfg.Spawner,
		events:      cfg.Events,
		layer:       cfg.Layer,
		stopTimeout: cfg.StopTimeout,
		workers:     make(map[int]*worker),
		codes:       make(map[string]int),
	}
}

// Start validates size and adds one slot per worker to the layer. Workers
// are spawned when the layer is served.
func (p *Pool) Start(size int) error {
	if size < config.MinClusters || size > config.MaxClusters {
		return fmt.Errorf("%w: %d (must be %d..%d)", ErrInvalidPoolSize, size, config.MinClusters, config.MaxClusters)
	}

	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return errors.New("supervisor: pool already started")
	}
	p.started = true
	p.size = size
	p.mu.Unlock()

	logging.Info().Int("workers", size).Msg("Forking workers")
	for i := 1; i <= size; i++ {
		p.layer.Add(&workerSlot{pool: p, slot: i})
	}
	return nil
}

// Size returns the configured number of workers.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size
}

// Recycle asks every running worker to stop. Each exit takes the normal
// replacement path.
func (p *Pool) Recycle(reason string) {
	metrics.Recycles.Inc()
	logging.Warn().Str("reason", reason).Msg("Recycling workers")
	p.logEvent("workers reboot", fmt.Sprintf("Recycling workers after change in %s.", reason), eventlog.Options{
		Severity: eventlog.SeverityWarn,
		Tags:     []string{"cluster", "reload"},
	})

	p.mu.Lock()
	procs := make([]Process, 0, len(p.workers))
	for _, w := range p.workers {
		procs = append(procs, w.proc)
	}
	p.mu.Unlock()

	for _, proc := range procs {
		if err := proc.Stop(); err != nil {
			logging.Warn().Err(err).Int("pid", proc.Pid()).Msg("Failed to stop worker")
		}
	}
}

// Workers returns the live workers ordered by slot.
func (p *Pool) Workers() []WorkerInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]WorkerInfo, 0, len(p.workers))
	for _, w := range p.workers {
		out = append(out, w.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slot < out[j].Slot })
	return out
}

// assignCode returns a display code not held by any live worker and
// different from previous.
func (p *Pool) assignCode(slot int, previous string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		code := newDisplayCode()
		if _, taken := p.codes[code]; taken || code == previous {
			continue
		}
		p.codes[code] = slot
		return code
	}
}

func (p *Pool) releaseCode(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.codes, code)
}

func (p *Pool) register(w *worker) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.workers[w.info.Slot] = w
}

func (p *Pool) markOnline(slot int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if w, ok := p.workers[slot]; ok {
		w.info.State = StateOnline
	}
}

func (p *Pool) unregister(slot int, code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if w, ok := p.workers[slot]; ok && w.info.Code == code {
		if w.info.State == StateOnline {
			metrics.WorkersOnline.Dec()
		}
		delete(p.workers, slot)
	}
	delete(p.codes, code)
}

func (p *Pool) logEvent(action, message string, opts eventlog.Options) {
	if p.events == nil {
		return
	}
	opts.Scope = eventlog.ScopeSystem
	opts.Force = true
	p.events.Log(action, message, opts)
}

// logStatus prints the worker table to the process log.
func (p *Pool) logStatus() {
	workers := p.Workers()
	arr := zerolog.Arr()
	for _, w := range workers {
		arr.Dict(zerolog.Dict().
			Int("slot", w.Slot).
			Str("code", w.Code).
			Int("pid", w.Pid).
			Str("state", string(w.State)).
			Int("restarts", w.Restarts))
	}
	logging.Info().Array("workers", arr).Msg("Current workers status")
}

// newDisplayCode returns six upper-case hex characters.
func newDisplayCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
}

func pidString(pid int) string {
	return strconv.Itoa(pid)
}
