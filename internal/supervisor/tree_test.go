// fleetd - Worker Fleet Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetd

package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/fleetd/internal/config"
)

// stubService runs until canceled, optionally failing its first n runs.
type stubService struct {
	name      string
	failFirst int32
	runs      atomic.Int32
	running   atomic.Bool
	started   chan struct{}
}

func newStubService(name string) *stubService {
	return &stubService{name: name, started: make(chan struct{}, 16)}
}

func (s *stubService) Serve(ctx context.Context) error {
	n := s.runs.Add(1)
	if n <= s.failFirst {
		return errors.New("stub failure")
	}
	s.running.Store(true)
	defer s.running.Store(false)
	s.started <- struct{}{}
	<-ctx.Done()
	return ctx.Err()
}

func (s *stubService) String() string { return s.name }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func waitStarted(t *testing.T, s *stubService) {
	t.Helper()
	select {
	case <-s.started:
	case <-time.After(2 * time.Second):
		t.Fatalf("%s did not start", s.name)
	}
}

func TestSupervisorTreeConstruction(t *testing.T) {
	t.Run("applies default values for zero config", func(t *testing.T) {
		tree, err := NewSupervisorTree(testLogger(), TreeConfig{})
		if err != nil {
			t.Fatalf("failed to create tree: %v", err)
		}

		if tree.config.Name != "fleetd" {
			t.Errorf("expected default Name fleetd, got %q", tree.config.Name)
		}
		if tree.config.FailureThreshold != 5.0 {
			t.Errorf("expected default FailureThreshold 5.0, got %f", tree.config.FailureThreshold)
		}
		if tree.config.WorkerFailureThreshold != 2*config.MaxClusters+5 {
			t.Errorf("expected default WorkerFailureThreshold %d, got %f", 2*config.MaxClusters+5, tree.config.WorkerFailureThreshold)
		}
		if tree.config.FailureDecay != 30.0 {
			t.Errorf("expected default FailureDecay 30.0, got %f", tree.config.FailureDecay)
		}
		if tree.config.FailureBackoff != 15*time.Second {
			t.Errorf("expected default FailureBackoff 15s, got %v", tree.config.FailureBackoff)
		}
		if tree.config.ShutdownTimeout != 10*time.Second {
			t.Errorf("expected default ShutdownTimeout 10s, got %v", tree.config.ShutdownTimeout)
		}
	})

	t.Run("keeps explicit values", func(t *testing.T) {
		tree, err := NewSupervisorTree(testLogger(), TreeConfig{
			Name:             "fleetd-worker-3",
			FailureThreshold: 2,
			FailureBackoff:   time.Second,
		})
		if err != nil {
			t.Fatalf("failed to create tree: %v", err)
		}
		if tree.config.Name != "fleetd-worker-3" || tree.config.FailureThreshold != 2 || tree.config.FailureBackoff != time.Second {
			t.Errorf("explicit config overwritten: %+v", tree.config)
		}
		if tree.Root() == nil || tree.Workers() == nil {
			t.Error("supervisors should not be nil")
		}
	})
}

func TestSupervisorTreeLifecycle(t *testing.T) {
	tree, err := NewSupervisorTree(testLogger(), TreeConfig{
		FailureBackoff:  10 * time.Millisecond,
		ShutdownTimeout: 2 * time.Second,
	})
	if err != nil {
		t.Fatalf("failed to create tree: %v", err)
	}

	control := newStubService("poller")
	worker := newStubService("worker-slot-1")
	api := newStubService("http-server")
	tree.AddControlService(control)
	tree.AddWorkerService(worker)
	tree.AddAPIService(api)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	waitStarted(t, control)
	waitStarted(t, worker)
	waitStarted(t, api)

	cancel()
	select {
	case <-errCh:
	case <-time.After(5 * time.Second):
		t.Fatal("tree did not stop")
	}

	for _, s := range []*stubService{control, worker, api} {
		if s.running.Load() {
			t.Errorf("%s still running after shutdown", s.name)
		}
	}
	if report, err := tree.UnstoppedServiceReport(); err == nil && len(report) != 0 {
		t.Errorf("unstopped services: %v", report)
	}
}

func TestSupervisorTreeRestartsFailedWorker(t *testing.T) {
	tree, err := NewSupervisorTree(testLogger(), TreeConfig{
		FailureBackoff:  10 * time.Millisecond,
		ShutdownTimeout: 2 * time.Second,
	})
	if err != nil {
		t.Fatalf("failed to create tree: %v", err)
	}

	worker := newStubService("worker-slot-1")
	worker.failFirst = 3
	control := newStubService("poller")
	tree.AddWorkerService(worker)
	tree.AddControlService(control)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := tree.ServeBackground(ctx)

	waitStarted(t, control)
	waitStarted(t, worker)

	if got := worker.runs.Load(); got != 4 {
		t.Errorf("worker runs = %d, want 4", got)
	}
	if got := control.runs.Load(); got != 1 {
		t.Errorf("control layer restarted: runs = %d", got)
	}

	cancel()
	<-errCh
}
