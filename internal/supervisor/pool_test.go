// fleetd - Worker Fleet Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetd

package supervisor

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/fleetd/internal/eventlog"
)

// fakeProcess is a controllable worker process.
type fakeProcess struct {
	pid  int
	code string

	ready     chan struct{}
	exited    chan struct{}
	readyOnce sync.Once
	exitOnce  sync.Once

	mu        sync.Mutex
	exitErr   error
	stopCalls int
}

func (p *fakeProcess) Pid() int                { return p.pid }
func (p *fakeProcess) Ready() <-chan struct{}  { return p.ready }
func (p *fakeProcess) Exited() <-chan struct{} { return p.exited }

func (p *fakeProcess) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

func (p *fakeProcess) markReady() {
	p.readyOnce.Do(func() { close(p.ready) })
}

func (p *fakeProcess) exit(err error) {
	p.exitOnce.Do(func() {
		p.mu.Lock()
		p.exitErr = err
		p.mu.Unlock()
		close(p.exited)
	})
}

func (p *fakeProcess) Stop() error {
	p.mu.Lock()
	p.stopCalls++
	p.mu.Unlock()
	p.exit(errors.New("signal: terminated"))
	return nil
}

func (p *fakeProcess) Kill() error {
	p.exit(errors.New("signal: killed"))
	return nil
}

func (p *fakeProcess) stops() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopCalls
}

// fakeSpawner hands out fakeProcesses. The first readyCount spawns report
// ready immediately; later ones stay starting.
type fakeSpawner struct {
	mu         sync.Mutex
	procs      []*fakeProcess
	nextPid    int
	readyCount int
	err        error
}

func (s *fakeSpawner) Spawn(_ context.Context, req SpawnRequest) (Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.nextPid++
	p := &fakeProcess{
		pid:    1000 + s.nextPid,
		code:   req.Code,
		ready:  make(chan struct{}),
		exited: make(chan struct{}),
	}
	if len(s.procs) < s.readyCount {
		p.markReady()
	}
	s.procs = append(s.procs, p)
	return p, nil
}

func (s *fakeSpawner) spawned() []*fakeProcess {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*fakeProcess(nil), s.procs...)
}

type recordedEvent struct {
	action  string
	message string
	opts    eventlog.Options
}

type recordingEvents struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recordingEvents) Log(action, message string, opts eventlog.Options) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{action: action, message: message, opts: opts})
	return strconv.Itoa(len(r.events)), true
}

func (r *recordingEvents) byAction(action string) []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []recordedEvent
	for _, e := range r.events {
		if e.action == action {
			out = append(out, e)
		}
	}
	return out
}

type countingAdder struct{ added int }

func (c *countingAdder) Add(suture.Service) suture.ServiceToken {
	c.added++
	return suture.ServiceToken{}
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// startPool serves a pool of size workers inside a fresh tree.
func startPool(t *testing.T, size int, spawner *fakeSpawner) (*Pool, *recordingEvents, context.CancelFunc) {
	t.Helper()
	tree, err := NewSupervisorTree(testLogger(), TreeConfig{
		FailureBackoff:  10 * time.Millisecond,
		ShutdownTimeout: 2 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewSupervisorTree: %v", err)
	}

	events := &recordingEvents{}
	pool := NewPool(PoolConfig{
		Spawner:     spawner,
		Events:      events,
		Layer:       tree.Workers(),
		StopTimeout: 100 * time.Millisecond,
	})
	if err := pool.Start(size); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)
	t.Cleanup(func() {
		cancel()
		<-errCh
	})
	return pool, events, cancel
}

func TestPoolStartValidatesSize(t *testing.T) {
	tests := []struct {
		size    int
		wantErr bool
	}{
		{-1, true},
		{0, true},
		{1, false},
		{48, false},
		{49, true},
	}
	for _, tt := range tests {
		t.Run(strconv.Itoa(tt.size), func(t *testing.T) {
			adder := &countingAdder{}
			pool := NewPool(PoolConfig{Spawner: &fakeSpawner{}, Layer: adder})
			err := pool.Start(tt.size)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidPoolSize) {
					t.Fatalf("Start(%d) = %v, want ErrInvalidPoolSize", tt.size, err)
				}
				if adder.added != 0 {
					t.Errorf("slots added for invalid size: %d", adder.added)
				}
				return
			}
			if err != nil {
				t.Fatalf("Start(%d): %v", tt.size, err)
			}
			if adder.added != tt.size || pool.Size() != tt.size {
				t.Errorf("added %d slots, Size() %d, want %d", adder.added, pool.Size(), tt.size)
			}
		})
	}

	t.Run("second start rejected", func(t *testing.T) {
		pool := NewPool(PoolConfig{Spawner: &fakeSpawner{}, Layer: &countingAdder{}})
		if err := pool.Start(2); err != nil {
			t.Fatalf("Start: %v", err)
		}
		if err := pool.Start(2); err == nil {
			t.Error("expected error on second Start")
		}
	})
}

func TestPoolWorkersComeOnline(t *testing.T) {
	spawner := &fakeSpawner{readyCount: 3}
	pool, events, _ := startPool(t, 3, spawner)

	waitUntil(t, "three online workers", func() bool {
		workers := pool.Workers()
		if len(workers) != 3 {
			return false
		}
		for _, w := range workers {
			if w.State != StateOnline {
				return false
			}
		}
		return true
	})

	online := events.byAction("worker online")
	if len(online) != 3 {
		t.Fatalf("worker online events = %d, want 3", len(online))
	}
	for _, e := range online {
		if e.opts.Scope != eventlog.ScopeSystem || !e.opts.Force {
			t.Errorf("online event not forced system scope: %+v", e.opts)
		}
		if e.opts.WorkerID == "" {
			t.Error("online event missing worker id")
		}
	}

	workers := pool.Workers()
	for i, w := range workers {
		if w.Slot != i+1 {
			t.Errorf("workers not ordered by slot: %+v", workers)
		}
		if len(w.Code) != 6 {
			t.Errorf("code %q is not 6 characters", w.Code)
		}
	}
	if len(events.byAction("worker fork")) != 0 {
		t.Error("initial spawns must not log worker fork")
	}
}

func TestPoolCrashRecovery(t *testing.T) {
	spawner := &fakeSpawner{readyCount: 1}
	pool, events, _ := startPool(t, 1, spawner)

	waitUntil(t, "first worker online", func() bool { return len(events.byAction("worker online")) == 1 })

	first := spawner.spawned()[0]
	first.exit(errors.New("exit status 1"))

	waitUntil(t, "replacement spawned", func() bool { return len(spawner.spawned()) == 2 })
	waitUntil(t, "fork event", func() bool { return len(events.byAction("worker fork")) == 1 })

	exits := events.byAction("worker exit")
	if len(exits) != 1 {
		t.Fatalf("worker exit events = %d, want 1", len(exits))
	}
	if exits[0].opts.Severity != eventlog.SeverityError {
		t.Errorf("exit severity = %q, want error", exits[0].opts.Severity)
	}
	if exits[0].opts.WorkerID != strconv.Itoa(first.pid) {
		t.Errorf("exit worker id = %q, want %d", exits[0].opts.WorkerID, first.pid)
	}
	if !strings.Contains(exits[0].message, "(exit status 1)") {
		t.Errorf("exit message = %q, want exit status 1", exits[0].message)
	}

	second := spawner.spawned()[1]
	fork := events.byAction("worker fork")[0]
	if fork.opts.Severity != eventlog.SeverityInfo {
		t.Errorf("fork severity = %q, want info", fork.opts.Severity)
	}
	if fork.opts.WorkerID != strconv.Itoa(second.pid) {
		t.Errorf("fork worker id = %q, want %d", fork.opts.WorkerID, second.pid)
	}
	if second.code == first.code {
		t.Errorf("replacement reused code %q", first.code)
	}

	workers := pool.Workers()
	if len(workers) != 1 || workers[0].Pid != second.pid || workers[0].Restarts != 1 {
		t.Errorf("workers = %+v", workers)
	}
}

func TestPoolCleanExitStatus(t *testing.T) {
	spawner := &fakeSpawner{readyCount: 1}
	_, events, _ := startPool(t, 1, spawner)

	waitUntil(t, "first worker online", func() bool { return len(events.byAction("worker online")) == 1 })
	spawner.spawned()[0].exit(nil)

	waitUntil(t, "exit event", func() bool { return len(events.byAction("worker exit")) == 1 })
	msg := events.byAction("worker exit")[0].message
	if !strings.Contains(msg, "(exit status 0)") {
		t.Errorf("exit message = %q, want exit status 0", msg)
	}
}

func TestExitStatus(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "exit status 0"},
		{errors.New("exit status 2"), "exit status 2"},
		{errors.New("signal: killed"), "signal: killed"},
	}
	for _, tt := range tests {
		if got := exitStatus(tt.err); got != tt.want {
			t.Errorf("exitStatus(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestPoolDistinctCodes(t *testing.T) {
	spawner := &fakeSpawner{}
	pool, _, _ := startPool(t, 48, spawner)

	waitUntil(t, "48 workers", func() bool { return len(pool.Workers()) == 48 })

	seen := make(map[string]bool)
	for _, w := range pool.Workers() {
		if seen[w.Code] {
			t.Fatalf("duplicate code %q", w.Code)
		}
		seen[w.Code] = true
	}
}

func TestPoolRecycle(t *testing.T) {
	spawner := &fakeSpawner{readyCount: 3}
	pool, events, _ := startPool(t, 3, spawner)

	waitUntil(t, "three online workers", func() bool { return len(events.byAction("worker online")) == 3 })
	original := spawner.spawned()

	pool.Recycle("modules/app.yaml")

	for _, p := range original {
		if p.stops() != 1 {
			t.Errorf("pid %d stopped %d times, want 1", p.pid, p.stops())
		}
	}
	waitUntil(t, "three replacements", func() bool { return len(spawner.spawned()) == 6 })

	reboot := events.byAction("workers reboot")
	if len(reboot) != 1 {
		t.Fatalf("workers reboot events = %d, want 1", len(reboot))
	}
	if reboot[0].opts.Severity != eventlog.SeverityWarn || reboot[0].opts.Scope != eventlog.ScopeSystem {
		t.Errorf("reboot event opts = %+v", reboot[0].opts)
	}
	if len(reboot[0].opts.Tags) != 2 || reboot[0].opts.Tags[1] != "reload" {
		t.Errorf("reboot tags = %v", reboot[0].opts.Tags)
	}
	waitUntil(t, "three fork events", func() bool { return len(events.byAction("worker fork")) == 3 })
}

func TestPoolShutdownDoesNotRespawn(t *testing.T) {
	spawner := &fakeSpawner{readyCount: 2}
	pool, events, cancel := startPool(t, 2, spawner)

	waitUntil(t, "two online workers", func() bool { return len(events.byAction("worker online")) == 2 })

	cancel()
	waitUntil(t, "pool drained", func() bool { return len(pool.Workers()) == 0 })

	for _, p := range spawner.spawned() {
		if p.stops() == 0 {
			t.Errorf("pid %d never stopped", p.pid)
		}
	}
	if got := len(spawner.spawned()); got != 2 {
		t.Errorf("spawned %d processes, want 2", got)
	}
	if len(events.byAction("worker exit")) != 0 {
		t.Error("shutdown must not log worker exit")
	}
}

func TestWorkerSlotSpawnFailure(t *testing.T) {
	spawnErr := errors.New("fork/exec: no such file")
	pool := NewPool(PoolConfig{Spawner: &fakeSpawner{err: spawnErr}, Layer: &countingAdder{}})
	slot := &workerSlot{pool: pool, slot: 1}

	err := slot.Serve(context.Background())
	if !errors.Is(err, spawnErr) {
		t.Fatalf("Serve = %v, want %v", err, spawnErr)
	}
	if len(pool.codes) != 0 {
		t.Errorf("code not released: %v", pool.codes)
	}
	if slot.String() != "worker-slot-1" {
		t.Errorf("String() = %q", slot.String())
	}
}

// TestHelperProcess is re-executed by TestExecSpawner as a fake worker.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("FLEETD_HELPER_PROCESS") != "1" {
		return
	}
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM)

	ready := os.NewFile(ReadyFD, "ready")
	_, _ = ready.Write([]byte{1})
	_ = ready.Close()

	<-sigs
	os.Exit(0)
}

func TestExecSpawner(t *testing.T) {
	spawner := &ExecSpawner{
		Path: os.Args[0],
		Args: []string{"-test.run=^TestHelperProcess$"},
		Env:  []string{"FLEETD_HELPER_PROCESS=1"},
	}

	proc, err := spawner.Spawn(context.Background(), SpawnRequest{Slot: 1, Code: "ABC123"})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if proc.Pid() <= 0 {
		t.Errorf("Pid() = %d", proc.Pid())
	}

	select {
	case <-proc.Ready():
	case <-time.After(10 * time.Second):
		_ = proc.Kill()
		t.Fatal("helper did not report ready")
	}

	if err := proc.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-proc.Exited():
	case <-time.After(10 * time.Second):
		_ = proc.Kill()
		t.Fatal("helper did not exit")
	}
	if proc.ExitErr() != nil {
		t.Errorf("ExitErr() = %v, want clean exit", proc.ExitErr())
	}
}
