// Copyright 2025 The MCP Streamable Runtime Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import "sync/atomic"

// Metrics holds the handful of process-wide counters the admin surface
// exposes. It is intentionally small: this is operability scaffolding, not
// a general metrics pipeline (spec SPEC_FULL §4.F supplement).
type Metrics struct {
	sessionsCreated atomic.Int64
	sessionsExpired atomic.Int64
	eventsEmitted   atomic.Int64
	requestsHandled atomic.Int64
}

// NewMetrics returns a zeroed Metrics.
func NewMetrics() *Metrics { return &Metrics{} }

func (m *Metrics) SessionCreated()          { m.sessionsCreated.Add(1) }
func (m *Metrics) SessionsExpired(n int)    { m.sessionsExpired.Add(int64(n)) }
func (m *Metrics) EventEmitted()            { m.eventsEmitted.Add(1) }
func (m *Metrics) RequestHandled()          { m.requestsHandled.Add(1) }

// Snapshot is a point-in-time, JSON-friendly copy of the counters.
type Snapshot struct {
	SessionsCreated int64 `json:"sessionsCreated"`
	SessionsExpired int64 `json:"sessionsExpired"`
	EventsEmitted   int64 `json:"eventsEmitted"`
	RequestsHandled int64 `json:"requestsHandled"`
}

func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		SessionsCreated: m.sessionsCreated.Load(),
		SessionsExpired: m.sessionsExpired.Load(),
		EventsEmitted:   m.eventsEmitted.Load(),
		RequestsHandled: m.requestsHandled.Load(),
	}
}
