// Copyright 2025 The MCP Streamable Runtime Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestAdminServer(t *testing.T, loopbackOnly bool) (*AdminServer, SessionStore) {
	t.Helper()
	store := NewMemorySessionStore()
	streams := NewStreamManager(store, StreamManagerOptions{})
	cfg := DefaultConfig()
	cfg.AdminLoopbackOnly = loopbackOnly
	return NewAdminServer(cfg, store, streams, NewMetrics()), store
}

func TestAdminHealthz(t *testing.T) {
	a, _ := newTestAdminServer(t, false)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
}

func TestAdminDebugSessionsListsCreatedSessions(t *testing.T) {
	a, store := newTestAdminServer(t, false)
	ctx := context.Background()
	rec, err := store.CreateSession(ctx, nil)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/debug/sessions", nil)
	rr := httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rr.Code, rr.Body.String())
	}

	var body struct {
		Count    int              `json:"count"`
		Sessions []sessionSummary `json:"sessions"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if body.Count != 1 {
		t.Fatalf("count = %d, want 1", body.Count)
	}
	if body.Sessions[0].ID != rec.ID {
		t.Errorf("listed session id = %q, want %q", body.Sessions[0].ID, rec.ID)
	}
}

func TestAdminDebugExpireTriggersExpiry(t *testing.T) {
	a, store := newTestAdminServer(t, false)
	ctx := context.Background()
	if _, err := store.CreateSession(ctx, nil); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/debug/expire", nil)
	rr := httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rr.Code, rr.Body.String())
	}
}

func TestAdminLoopbackOnlyRejectsNonLoopbackRemote(t *testing.T) {
	a, _ := newTestAdminServer(t, true)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "203.0.113.5:12345"
	rr := httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rr.Code)
	}
}

func TestAdminLoopbackOnlyAllowsLoopbackRemote(t *testing.T) {
	a, _ := newTestAdminServer(t, true)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	rr := httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
}
