// fleetd - Worker Fleet Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetd

// Package testinfra provides in-process test doubles for external services.
//
// # Webhook Sink
//
// MockWebhookServer stands in for a Discord webhook. It captures every
// request and can hold requests open until released, which lets tests
// observe the event logger while a delivery is in flight:
//
//	sink := testinfra.NewMockWebhookServer(t)
//	sink.Hold()
//	logger.Log("login", "user signed in", eventlog.Options{})
//	sink.WaitForInFlight(1, time.Second)
//	sink.Release()
//
// # NATS
//
// StartNATS runs a JetStream-enabled NATS server on a random port for the
// lifetime of a test.
package testinfra
