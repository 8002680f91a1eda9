// fleetd - Worker Fleet Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetd

package eventlog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/tomtom215/fleetd/internal/logging"
	"github.com/tomtom215/fleetd/internal/metrics"
)

// Embed colours per severity.
var severityColors = map[Severity]int{
	SeverityInfo:    0x38bdf8,
	SeverityWarn:    0xf59e0b,
	SeverityError:   0xef4444,
	SeveritySuccess: 0x22c55e,
}

// SeverityColor returns the embed colour for sev, falling back to info.
func SeverityColor(sev Severity) int {
	if c, ok := severityColors[sev]; ok {
		return c
	}
	return severityColors[SeverityInfo]
}

// Delivery is the outcome of one webhook attempt.
type Delivery struct {
	Status WebhookStatus
	Code   int
	Err    string
}

// Target is where and as whom a Sender posts.
type Target struct {
	URL    string
	Author string
	// RatePerSec limits deliveries per second; 0 means unlimited.
	RatePerSec float64
}

// Sender delivers one entry to the external sink.
type Sender interface {
	Send(ctx context.Context, target Target, e Entry) Delivery
}

// errBadStatus marks responses that count as breaker failures.
var errBadStatus = errors.New("webhook returned failure status")

// WebhookSender posts Discord embeds. Transport errors and 5xx/429 responses
// feed a circuit breaker; while it is open deliveries fail immediately.
type WebhookSender struct {
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker[int]
	hostname string

	mu      sync.Mutex
	limiter *rate.Limiter
}

// NewWebhookSender creates a sender. A nil client selects a default one;
// per-delivery timeouts come from the caller's context.
func NewWebhookSender(client *http.Client) *WebhookSender {
	if client == nil {
		client = &http.Client{}
	}
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	metrics.WebhookBreakerState.Set(0)

	return &WebhookSender{
		client:   client,
		hostname: hostname,
		limiter:  rate.NewLimiter(rate.Inf, 1),
		breaker: gobreaker.NewCircuitBreaker[int](gobreaker.Settings{
			Name:        "event-webhook",
			MaxRequests: 3,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				if counts.Requests < 10 {
					return false
				}
				return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
			},
			IsSuccessful: func(err error) bool {
				var se *statusError
				return err == nil || errors.As(err, &se)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logging.Warn().
					Str("breaker", name).
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("Webhook circuit breaker state change")
				metrics.WebhookBreakerState.Set(float64(to))
			},
		}),
	}
}

// Send implements Sender.
func (w *WebhookSender) Send(ctx context.Context, target Target, e Entry) Delivery {
	start := time.Now()
	d := w.send(ctx, target, e)
	metrics.WebhookDeliveryDuration.Observe(time.Since(start).Seconds())
	metrics.WebhookDeliveries.WithLabelValues(string(d.Status)).Inc()
	return d
}

func (w *WebhookSender) send(ctx context.Context, target Target, e Entry) Delivery {
	if err := w.wait(ctx, target.RatePerSec); err != nil {
		return Delivery{Status: StatusFailed, Err: err.Error()}
	}

	body, err := json.Marshal(BuildPayload(e, target.Author, w.hostname))
	if err != nil {
		return Delivery{Status: StatusFailed, Err: fmt.Sprintf("encode payload: %v", err)}
	}

	code, err := w.breaker.Execute(func() (int, error) {
		return w.post(ctx, target.URL, body)
	})
	switch {
	case err == nil:
		return Delivery{Status: StatusSent, Code: code}
	case code != 0:
		return Delivery{Status: StatusFailed, Code: code}
	default:
		return Delivery{Status: StatusFailed, Err: err.Error()}
	}
}

func (w *WebhookSender) post(ctx context.Context, url string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp.StatusCode, nil
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return resp.StatusCode, fmt.Errorf("%w: %d", errBadStatus, resp.StatusCode)
	}
	// Other statuses are the caller's problem, not the sink's health.
	return resp.StatusCode, &statusError{code: resp.StatusCode}
}

// statusError is a non-2xx response that does not count against the breaker.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("webhook returned status %d", e.code)
}

// wait applies the configured rate limit, adjusting it when it has changed.
func (w *WebhookSender) wait(ctx context.Context, perSec float64) error {
	w.mu.Lock()
	limit := rate.Inf
	if perSec > 0 {
		limit = rate.Limit(perSec)
	}
	if w.limiter.Limit() != limit {
		w.limiter.SetLimit(limit)
	}
	limiter := w.limiter
	w.mu.Unlock()

	return limiter.Wait(ctx)
}

// BreakerState returns the current circuit breaker state.
func (w *WebhookSender) BreakerState() gobreaker.State {
	return w.breaker.State()
}

// Payload is the Discord webhook body.
type Payload struct {
	Content string  `json:"content,omitempty"`
	Embeds  []Embed `json:"embeds"`
}

// Embed is a Discord embed.
type Embed struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Color       int          `json:"color"`
	Timestamp   string       `json:"timestamp,omitempty"`
	Author      EmbedAuthor  `json:"author"`
	Fields      []EmbedField `json:"fields"`
	Footer      EmbedFooter  `json:"footer"`
}

// EmbedAuthor names the embed author.
type EmbedAuthor struct {
	Name string `json:"name"`
}

// EmbedField is one name/value row of an embed.
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// EmbedFooter is the embed footer line.
type EmbedFooter struct {
	Text string `json:"text"`
}

// BuildPayload renders e as a single-embed webhook body.
func BuildPayload(e Entry, author, hostname string) Payload {
	fields := make([]EmbedField, 0, 5)
	if e.Scope != "" {
		fields = append(fields, EmbedField{Name: "Scope", Value: string(e.Scope), Inline: true})
	}
	if actor := e.Actor(); actor != "" {
		fields = append(fields, EmbedField{Name: "Actor", Value: "`" + actor + "`", Inline: true})
	}
	if target := e.Target(); target != "" {
		fields = append(fields, EmbedField{Name: "Target", Value: "`" + target + "`", Inline: true})
	}
	if len(e.Tags) > 0 {
		quoted := make([]string, len(e.Tags))
		for i, tag := range e.Tags {
			quoted[i] = "`" + tag + "`"
		}
		fields = append(fields, EmbedField{Name: "Tags", Value: strings.Join(quoted, " "), Inline: true})
	}

	worker := e.OriginWorkerID
	if worker == "" {
		worker = fmt.Sprint(os.Getpid())
	}
	fields = append(fields, EmbedField{Name: "Host", Value: hostname + " • pid " + worker})

	if author == "" {
		author = "fleetd"
	}
	scope := string(e.Scope)
	if scope == "" {
		scope = string(ScopeSystem)
	}

	return Payload{
		Embeds: []Embed{{
			Title:       "Event: " + e.Action,
			Description: e.Message,
			Color:       SeverityColor(e.Severity),
			Timestamp:   e.Timestamp,
			Author:      EmbedAuthor{Name: author},
			Fields:      fields,
			Footer:      EmbedFooter{Text: scope + " • " + e.ID},
		}},
	}
}
