// fleetd - Worker Fleet Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetd

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/tomtom215/fleetd/internal/eventlog"
)

func findCommand(t *testing.T, root *cobra.Command, args ...string) *cobra.Command {
	t.Helper()
	cmd, _, err := root.Find(args)
	require.NoError(t, err)
	return cmd
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCommand(t *testing.T) {
	root := newRootCommand()

	assert.Equal(t, "fleetd", root.Use)
	assert.NotEmpty(t, root.Short)
	assert.Equal(t, version, root.Version)

	flag := root.PersistentFlags().Lookup("config")
	require.NotNil(t, flag)
	assert.Equal(t, "c", flag.Shorthand)

	names := make([]string, 0, len(root.Commands()))
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"serve", "worker", "logs", "config"}, names)
}

func TestSubcommands(t *testing.T) {
	root := newRootCommand()

	tests := []struct {
		path   []string
		flags  []string
		hidden bool
	}{
		{path: []string{"serve"}},
		{path: []string{"worker"}, flags: []string{"standalone"}, hidden: true},
		{path: []string{"logs"}, flags: []string{"limit", "file", "worker", "raw"}},
		{path: []string{"config", "show"}, flags: []string{"format", "offline", "timeout"}},
	}

	for _, tt := range tests {
		t.Run(strings.Join(tt.path, " "), func(t *testing.T) {
			cmd := findCommand(t, root, tt.path...)
			assert.Equal(t, tt.path[len(tt.path)-1], cmd.Name())
			assert.NotEmpty(t, cmd.Short)
			assert.Equal(t, tt.hidden, cmd.Hidden)
			assert.True(t, cmd.Run != nil || cmd.RunE != nil, "command must be runnable")
			for _, name := range tt.flags {
				assert.NotNil(t, cmd.Flags().Lookup(name), "missing flag --%s", name)
			}
		})
	}
}

func TestLogsFlagDefaults(t *testing.T) {
	cmd := findCommand(t, newRootCommand(), "logs")

	limit, err := cmd.Flags().GetInt("limit")
	require.NoError(t, err)
	assert.Equal(t, eventlog.DefaultReadLimit, limit)

	raw, err := cmd.Flags().GetBool("raw")
	require.NoError(t, err)
	assert.False(t, raw)
}

func TestLogsResolvePath(t *testing.T) {
	cfgPath := writeConfig(t, "logging:\n  local:\n    file: /var/log/fleetd/events.log\n")

	tests := []struct {
		name    string
		opts    logsOptions
		want    string
		wantErr bool
	}{
		{name: "configured file", opts: logsOptions{limit: 10}, want: "/var/log/fleetd/events.log"},
		{name: "explicit file", opts: logsOptions{limit: 10, file: "other.log"}, want: "other.log"},
		{name: "worker file", opts: logsOptions{limit: 10, worker: 3}, want: "/var/log/fleetd/events.worker-3.log"},
		{name: "bad limit", opts: logsOptions{limit: 0}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.opts.resolvePath(cfgPath)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func sampleEntries() []eventlog.Entry {
	actor := "u-1"
	code := 500
	return []eventlog.Entry{
		{
			ID: "a", Timestamp: "2026-10-18T10:00:00.000Z", Action: "deploy", Message: "Deployed",
			Scope: eventlog.ScopeAdmin, Severity: eventlog.SeveritySuccess, ActorID: &actor,
			Tags: []string{"release"}, Kind: eventlog.KindEvent, WebhookStatus: eventlog.StatusSent,
		},
		{
			ID: "b", Timestamp: "2026-10-18T10:00:01.000Z", Action: "worker exit", Message: "Worker exited",
			Scope: eventlog.ScopeSystem, Severity: eventlog.SeverityError,
			Kind: eventlog.KindEvent, WebhookStatus: eventlog.StatusFailed, WebhookCode: &code,
		},
	}
}

func TestFormatEntry(t *testing.T) {
	entries := sampleEntries()

	line := formatEntry(&entries[0])
	assert.Contains(t, line, "SUCCESS")
	assert.Contains(t, line, "[admin]")
	assert.Contains(t, line, "deploy")
	assert.Contains(t, line, "(u-1 -> -)")
	assert.Contains(t, line, "#release")
	assert.Contains(t, line, "webhook:sent")

	line = formatEntry(&entries[1])
	assert.Contains(t, line, "ERROR")
	assert.Contains(t, line, "webhook:failed(500)")
	assert.NotContains(t, line, "->")
}

func TestRenderEntries(t *testing.T) {
	var buf bytes.Buffer
	renderEntries(&buf, "events.log", sampleEntries())

	out := buf.String()
	assert.Equal(t, 2, strings.Count(out, "webhook:"))
	assert.Contains(t, out, "sent 1  failed 1  queued 0  skipped 0")

	buf.Reset()
	renderEntries(&buf, "empty.log", nil)
	assert.Contains(t, buf.String(), "no events in empty.log")
}

func TestRenderRaw(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, renderRaw(&buf, sampleEntries()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var e eventlog.Entry
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &e))
	assert.Equal(t, "worker exit", e.Action)
	assert.Equal(t, eventlog.StatusFailed, e.WebhookStatus)
}

func TestLogsCommandReadsFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "events.log")
	content := `{"id":"a","timestamp":"2026-10-18T10:00:00.000Z","action":"login","message":"hi","scope":"user","severity":"info","actorId":null,"targetId":null,"tags":[],"kind":"event","webhookStatus":"queued"}
{"id":"a","timestamp":"2026-10-18T10:00:00.500Z","action":"login","message":"hi","scope":"user","severity":"info","actorId":null,"targetId":null,"tags":[],"kind":"delivery","webhookStatus":"sent","webhookCode":204}
not json
`
	require.NoError(t, os.WriteFile(logPath, []byte(content), 0o600))

	out, err := execute(t, "logs", "--file", logPath, "--raw")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2, "delivery record folds into its event")

	var first, second eventlog.Entry
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, eventlog.StatusSent, first.WebhookStatus)
	assert.Equal(t, eventlog.ActionUnparsed, second.Action)
}

func TestConfigShowOffline(t *testing.T) {
	cfgPath := writeConfig(t, "name: edge\nclusters: 3\nwebsite:\n  port: 9090\n")

	t.Run("yaml", func(t *testing.T) {
		out, err := execute(t, "--config", cfgPath, "config", "show", "--offline")
		require.NoError(t, err)

		var doc map[string]any
		require.NoError(t, yaml.Unmarshal([]byte(out), &doc))
		assert.Equal(t, "edge", doc["name"])
		assert.Equal(t, 3, doc["clusters"])
		website, ok := doc["website"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, 9090, website["port"])
	})

	t.Run("json", func(t *testing.T) {
		out, err := execute(t, "--config", cfgPath, "config", "show", "--offline", "-o", "json")
		require.NoError(t, err)

		var resp struct {
			Version  int64          `json:"version"`
			Settings map[string]any `json:"settings"`
		}
		require.NoError(t, json.Unmarshal([]byte(out), &resp))
		assert.Zero(t, resp.Version)
		assert.Equal(t, "edge", resp.Settings["name"])
	})

	t.Run("bad format", func(t *testing.T) {
		_, err := execute(t, "--config", cfgPath, "config", "show", "--offline", "-o", "xml")
		assert.Error(t, err)
	})
}

func TestRunServeRejectsLocalBackends(t *testing.T) {
	for _, backend := range []string{"badger", "memory"} {
		t.Run(backend, func(t *testing.T) {
			cfgPath := writeConfig(t, "store:\n  backend: "+backend+"\n")
			err := runServe(context.Background(), cfgPath)
			assert.ErrorIs(t, err, errSharedStoreRequired)
		})
	}
}

func TestRunServeRejectsBadConfig(t *testing.T) {
	cfgPath := writeConfig(t, "clusters: 49\n")
	err := runServe(context.Background(), cfgPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "clusters")
}
