// fleetd - Worker Fleet Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetd

// Package logging provides the zerolog-based process logger for fleetd.
//
// Process logs (what the supervisor and workers are doing) go through this
// package. The operational event record that operators read back through
// `fleetd logs` lives in internal/eventlog and is a separate concern.
//
// The supervisor and every worker write to the same terminal, so each line
// carries the process that wrote it:
//
//	logging.Init(cfg.WithProcess("worker-3", "K4P2QZ"))
//	logging.Info().Msg("Worker starting")
//	// {"level":"info","process":"worker-3","worker":"K4P2QZ","message":"Worker starting",...}
//
// Environment variables LOG_LEVEL, LOG_FORMAT and LOG_CALLER override the
// values from the console section of the configuration document.
package logging

import (
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Field names stamped on every line by Init.
const (
	ProcessField = "process"
	WorkerField  = "worker"
)

// Config holds logging configuration.
type Config struct {
	// Level is the minimum log level: trace, debug, info, warn, error, fatal, panic.
	Level string

	// Format is json or console.
	Format string

	Caller bool

	// Process labels the writing process, "supervisor" or "worker-N".
	Process string

	// Worker is the display code of a worker process.
	Worker string

	// Output defaults to os.Stderr.
	Output io.Writer
}

// DefaultConfig returns the default logging configuration.
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: "json",
		Output: os.Stderr,
	}
}

// ApplyEnv overlays LOG_LEVEL, LOG_FORMAT and LOG_CALLER onto c.
func (c Config) ApplyEnv() Config {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Format = v
	}
	if v := os.Getenv("LOG_CALLER"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Caller = b
		}
	}
	return c
}

// WithProcess returns c labelled with the process name and worker code.
func (c Config) WithProcess(process, worker string) Config {
	c.Process = process
	c.Worker = worker
	return c
}

var (
	log zerolog.Logger
	mu  sync.RWMutex
)

//nolint:gochecknoinits // init ensures logging works before explicit Init() call
func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log = build(DefaultConfig())
}

// Init reconfigures the global logger. Workers call it twice: once from the
// file configuration and again once the shared document is loaded.
func Init(cfg Config) {
	l := build(cfg)
	mu.Lock()
	log = l
	mu.Unlock()
}

func build(cfg Config) zerolog.Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	output := cfg.Output
	if strings.EqualFold(cfg.Format, "console") {
		cw := zerolog.ConsoleWriter{Out: cfg.Output, TimeFormat: "15:04:05.000"}
		if cfg.Process != "" {
			cw.PartsOrder = []string{zerolog.TimestampFieldName, zerolog.LevelFieldName, ProcessField, zerolog.MessageFieldName}
			cw.FieldsExclude = []string{ProcessField}
		}
		output = cw
	}

	zctx := zerolog.New(output).With().Timestamp()
	if cfg.Process != "" {
		zctx = zctx.Str(ProcessField, cfg.Process)
	}
	if cfg.Worker != "" {
		zctx = zctx.Str(WorkerField, cfg.Worker)
	}
	if cfg.Caller {
		zctx = zctx.Caller()
	}
	return zctx.Logger()
}

// parseLevel accepts zerolog level names plus "warning". Unknown and empty
// values mean info.
func parseLevel(level string) zerolog.Level {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		return zerolog.WarnLevel
	}
	if level == "" {
		return zerolog.InfoLevel
	}
	l, err := zerolog.ParseLevel(level)
	if err != nil || l == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return l
}

// Logger returns the global logger instance.
func Logger() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

// SetLogger replaces the global logger instance.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func SetLogger(l zerolog.Logger) {
	mu.Lock()
	defer mu.Unlock()
	log = l
}

// Debug starts a new message with debug level.
func Debug() *zerolog.Event {
	mu.RLock()
	defer mu.RUnlock()
	return log.Debug()
}

// Info starts a new message with info level.
func Info() *zerolog.Event {
	mu.RLock()
	defer mu.RUnlock()
	return log.Info()
}

// Warn starts a new message with warning level.
func Warn() *zerolog.Event {
	mu.RLock()
	defer mu.RUnlock()
	return log.Warn()
}

// Error starts a new message with error level.
func Error() *zerolog.Event {
	mu.RLock()
	defer mu.RUnlock()
	return log.Error()
}

// Fatal starts a new message with fatal level; os.Exit(1) follows the write.
//
//	logging.Fatal().Err(err).Msg("Supervisor failed")
func Fatal() *zerolog.Event {
	mu.RLock()
	defer mu.RUnlock()
	return log.Fatal()
}

// NewTestLogger creates a logger that writes JSON to w.
//
//	var buf bytes.Buffer
//	logging.SetLogger(logging.NewTestLogger(&buf))
func NewTestLogger(w io.Writer) zerolog.Logger {
	return zerolog.New(w).With().Timestamp().Logger()
}
