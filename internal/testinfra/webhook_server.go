// fleetd - Worker Fleet Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetd

package testinfra

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

// WebhookCapture represents a captured webhook request.
type WebhookCapture struct {
	Method  string
	Path    string
	Headers http.Header
	Body    []byte
}

// Decode unmarshals the captured body into v.
func (c WebhookCapture) Decode(v any) error {
	return json.Unmarshal(c.Body, v)
}

// MockWebhookServer provides a mock HTTP server for testing webhook deliveries.
// It captures all incoming requests for verification.
type MockWebhookServer struct {
	Server   *httptest.Server
	Captures []WebhookCapture
	mu       sync.Mutex

	// ResponseStatus is the HTTP status code to return (default: 204, as Discord does).
	ResponseStatus int

	// ResponseBody is the response body to return.
	ResponseBody []byte

	// ResponseFunc allows custom response handling per request.
	ResponseFunc func(w http.ResponseWriter, r *http.Request)

	gate     chan struct{}
	inFlight int
}

// NewMockWebhookServer creates a mock webhook server closed at test cleanup.
func NewMockWebhookServer(t *testing.T) *MockWebhookServer {
	t.Helper()

	mws := &MockWebhookServer{
		ResponseStatus: http.StatusNoContent,
		Captures:       make([]WebhookCapture, 0),
	}

	mws.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		r.Body.Close()

		mws.mu.Lock()
		mws.Captures = append(mws.Captures, WebhookCapture{
			Method:  r.Method,
			Path:    r.URL.Path,
			Headers: r.Header.Clone(),
			Body:    body,
		})
		gate := mws.gate
		mws.inFlight++
		status, respBody, fn := mws.ResponseStatus, mws.ResponseBody, mws.ResponseFunc
		mws.mu.Unlock()

		if gate != nil {
			select {
			case <-gate:
			case <-r.Context().Done():
			}
		}

		mws.mu.Lock()
		mws.inFlight--
		mws.mu.Unlock()

		if fn != nil {
			fn(w, r)
			return
		}
		w.WriteHeader(status)
		if respBody != nil {
			w.Write(respBody) //nolint:errcheck
		}
	}))

	t.Cleanup(func() {
		mws.Release()
		mws.Close()
	})
	return mws
}

// URL returns the server URL.
func (m *MockWebhookServer) URL() string {
	return m.Server.URL
}

// Close shuts down the server.
func (m *MockWebhookServer) Close() {
	m.Server.Close()
}

// SetStatus changes the status returned to subsequent requests.
func (m *MockWebhookServer) SetStatus(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ResponseStatus = status
}

// Hold makes subsequent requests block until Release.
func (m *MockWebhookServer) Hold() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gate == nil {
		m.gate = make(chan struct{})
	}
}

// Release unblocks held requests and stops holding new ones.
func (m *MockWebhookServer) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gate != nil {
		close(m.gate)
		m.gate = nil
	}
}

// InFlight returns the number of requests currently being handled.
func (m *MockWebhookServer) InFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inFlight
}

// GetCaptures returns all captured requests.
func (m *MockWebhookServer) GetCaptures() []WebhookCapture {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]WebhookCapture, len(m.Captures))
	copy(result, m.Captures)
	return result
}

// ClearCaptures clears all captured requests.
func (m *MockWebhookServer) ClearCaptures() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Captures = make([]WebhookCapture, 0)
}

// WaitForCaptures waits until at least n requests are captured or timeout.
func (m *MockWebhookServer) WaitForCaptures(n int, timeout time.Duration) bool {
	return waitFor(timeout, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return len(m.Captures) >= n
	})
}

// WaitForInFlight waits until at least n requests are being held.
func (m *MockWebhookServer) WaitForInFlight(n int, timeout time.Duration) bool {
	return waitFor(timeout, func() bool {
		return m.InFlight() >= n
	})
}

// MockDiscordResponse creates a typical Discord API success response.
func MockDiscordResponse() []byte {
	resp := map[string]interface{}{
		"id":         "123456789",
		"type":       0,
		"channel_id": "987654321",
	}
	data, _ := json.Marshal(resp)
	return data
}

func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(10 * time.Millisecond)
	}
}
