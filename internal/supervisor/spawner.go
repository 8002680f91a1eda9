// fleetd - Worker Fleet Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetd

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
)

// Environment variables passed to worker processes.
const (
	EnvWorkerSlot = "FLEETD_WORKER_SLOT"
	EnvWorkerCode = "FLEETD_WORKER_CODE"
	EnvNATSURL    = "FLEETD_NATS_URL"
)

// File descriptors inherited by worker processes.
const (
	ReadyFD    = 3
	ListenerFD = 4
)

// SpawnRequest describes the worker to start.
type SpawnRequest struct {
	Slot int
	Code string
}

// Process is a running worker.
type Process interface {
	Pid() int
	// Ready is closed when the worker reports it is serving.
	Ready() <-chan struct{}
	// Exited is closed when the process has terminated.
	Exited() <-chan struct{}
	// ExitErr returns the wait error once Exited is closed.
	ExitErr() error
	// Stop asks the process to terminate.
	Stop() error
	// Kill terminates the process immediately.
	Kill() error
}

// Spawner starts worker processes.
type Spawner interface {
	Spawn(ctx context.Context, req SpawnRequest) (Process, error)
}

// ExecSpawner re-executes a binary as a worker. The child inherits the
// write end of a ready pipe as fd 3 and the shared listener as fd 4.
type ExecSpawner struct {
	// Path is the executable. Default: os.Executable().
	Path string
	// Args follow the executable, e.g. ["worker", "--config", "config.yaml"].
	Args []string
	// Listener is the socket shared by all workers; may be nil.
	Listener *os.File
	// NATSURL is exported as FLEETD_NATS_URL when set.
	NATSURL string
	// Env is appended to the parent's environment.
	Env []string

	Stdout io.Writer
	Stderr io.Writer
}

// Spawn implements Spawner.
func (s *ExecSpawner) Spawn(_ context.Context, req SpawnRequest) (Process, error) {
	path := s.Path
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolve executable: %w", err)
		}
		path = exe
	}

	readyR, readyW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create ready pipe: %w", err)
	}

	cmd := exec.Command(path, s.Args...)
	cmd.Stdout = s.Stdout
	cmd.Stderr = s.Stderr
	cmd.Env = append(os.Environ(), s.Env...)
	cmd.Env = append(cmd.Env,
		EnvWorkerSlot+"="+strconv.Itoa(req.Slot),
		EnvWorkerCode+"="+req.Code,
	)
	if s.NATSURL != "" {
		cmd.Env = append(cmd.Env, EnvNATSURL+"="+s.NATSURL)
	}

	// ExtraFiles[i] becomes fd 3+i in the child.
	cmd.ExtraFiles = []*os.File{readyW}
	if s.Listener != nil {
		cmd.ExtraFiles = append(cmd.ExtraFiles, s.Listener)
	}

	if err := cmd.Start(); err != nil {
		_ = readyR.Close()
		_ = readyW.Close()
		return nil, fmt.Errorf("start worker: %w", err)
	}
	_ = readyW.Close()

	p := &execProcess{
		cmd:    cmd,
		ready:  make(chan struct{}),
		exited: make(chan struct{}),
	}
	go p.awaitReady(readyR)
	go p.wait()
	return p, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	ready  chan struct{}
	exited chan struct{}

	mu      sync.Mutex
	exitErr error
}

func (p *execProcess) awaitReady(r *os.File) {
	defer r.Close()
	buf := make([]byte, 1)
	// EOF without a byte means the child exited before becoming ready.
	if n, _ := r.Read(buf); n == 1 {
		close(p.ready)
	}
}

func (p *execProcess) wait() {
	err := p.cmd.Wait()
	p.mu.Lock()
	p.exitErr = err
	p.mu.Unlock()
	close(p.exited)
}

func (p *execProcess) Pid() int                { return p.cmd.Process.Pid }
func (p *execProcess) Ready() <-chan struct{}  { return p.ready }
func (p *execProcess) Exited() <-chan struct{} { return p.exited }

func (p *execProcess) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

func (p *execProcess) Stop() error {
	err := p.cmd.Process.Signal(syscall.SIGTERM)
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

func (p *execProcess) Kill() error {
	err := p.cmd.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
