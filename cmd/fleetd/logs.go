// fleetd - Worker Fleet Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetd

package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/tomtom215/fleetd/internal/config"
	"github.com/tomtom215/fleetd/internal/eventlog"
)

var (
	severityStyles = map[eventlog.Severity]lipgloss.Style{
		eventlog.SeverityInfo:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#38bdf8")),
		eventlog.SeverityWarn:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#f59e0b")),
		eventlog.SeverityError:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#ef4444")),
		eventlog.SeveritySuccess: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#22c55e")),
	}
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	actionStyle  = lipgloss.NewStyle().Bold(true)
	summaryStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1)
)

type logsOptions struct {
	limit  int
	file   string
	worker int
	raw    bool
}

func newLogsCommand(root *rootOptions) *cobra.Command {
	opts := &logsOptions{}

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent entries of the event log",
		Long: "Reads the local event log, pairs each event with its webhook delivery\n" +
			"record and prints the newest entries with a delivery summary.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := opts.resolvePath(root.resolveConfig())
			if err != nil {
				return err
			}
			entries, err := eventlog.ReadEntries(path, opts.limit)
			if err != nil {
				return err
			}
			entries = eventlog.Reconcile(entries)

			out := cmd.OutOrStdout()
			if opts.raw {
				return renderRaw(out, entries)
			}
			renderEntries(out, path, entries)
			return nil
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", eventlog.DefaultReadLimit, "number of lines to read from the end of the log")
	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "log file to read (default: logging.local.file)")
	cmd.Flags().IntVarP(&opts.worker, "worker", "w", 0, "read the per-process log of this worker slot")
	cmd.Flags().BoolVar(&opts.raw, "raw", false, "print reconciled entries as JSON lines")
	return cmd
}

// resolvePath picks the log file: --file, else the configured file, with
// the per-process variant when --worker is set.
func (o *logsOptions) resolvePath(configPath string) (string, error) {
	if o.limit < 1 {
		return "", fmt.Errorf("--limit must be at least 1, got %d", o.limit)
	}
	path := o.file
	if path == "" {
		settings, err := config.Bootstrap(configPath)
		if err != nil {
			return "", err
		}
		path = settings.Logging.Local.File
	}
	if o.worker > 0 {
		path = eventlog.ProcessLogPath(path, o.worker)
	}
	return path, nil
}

func renderRaw(w io.Writer, entries []eventlog.Entry) error {
	enc := json.NewEncoder(w)
	for i := range entries {
		if err := enc.Encode(&entries[i]); err != nil {
			return err
		}
	}
	return nil
}

func renderEntries(w io.Writer, path string, entries []eventlog.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, dimStyle.Render("no events in "+path))
		return
	}
	for i := range entries {
		fmt.Fprintln(w, formatEntry(&entries[i]))
	}
	fmt.Fprintln(w, formatSummary(path, eventlog.Summarize(entries)))
}

// formatEntry renders one line:
// time severity [scope] action message (actor -> target) #tags webhook.
func formatEntry(e *eventlog.Entry) string {
	style, ok := severityStyles[e.Severity]
	if !ok {
		style = severityStyles[eventlog.SeverityInfo]
	}

	var b strings.Builder
	b.WriteString(dimStyle.Render(e.Timestamp))
	b.WriteByte(' ')
	b.WriteString(style.Render(fmt.Sprintf("%-7s", strings.ToUpper(string(e.Severity)))))
	b.WriteString(fmt.Sprintf(" [%s] ", e.Scope))
	b.WriteString(actionStyle.Render(e.Action))
	if e.Message != "" {
		b.WriteString(" " + e.Message)
	}
	if actor, target := e.Actor(), e.Target(); actor != "" || target != "" {
		b.WriteString(dimStyle.Render(fmt.Sprintf(" (%s -> %s)", orDash(actor), orDash(target))))
	}
	for _, tag := range e.Tags {
		b.WriteString(dimStyle.Render(" #" + tag))
	}
	b.WriteString(" " + webhookLabel(e))
	return b.String()
}

func webhookLabel(e *eventlog.Entry) string {
	label := "webhook:" + string(e.WebhookStatus)
	if e.WebhookCode != nil {
		label += fmt.Sprintf("(%d)", *e.WebhookCode)
	}
	if e.WebhookStatus == eventlog.StatusFailed {
		return severityStyles[eventlog.SeverityError].Render(label)
	}
	return dimStyle.Render(label)
}

func formatSummary(path string, s eventlog.Summary) string {
	return summaryStyle.Render(fmt.Sprintf("%s\nsent %d  failed %d  queued %d  skipped %d",
		path, s.Sent, s.Failed, s.Queued, s.Skipped))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
