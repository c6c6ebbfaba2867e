// Copyright 2025 The MCP Streamable Runtime Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestWriteEventScanEventsRoundTrip(t *testing.T) {
	events := []Event{
		{ID: 1, EventType: "message", Data: json.RawMessage(`{"a":1}`)},
		{ID: 2, EventType: "message", Data: json.RawMessage(`{"a":2}`), Retry: 5000},
		keepaliveEvent(),
		{ID: 3, EventType: "message", Data: json.RawMessage(`{"a":3}`)},
	}

	var buf bytes.Buffer
	for _, e := range events {
		if err := writeEvent(&buf, e); err != nil {
			t.Fatalf("writeEvent: %v", err)
		}
	}

	frames, err := scanEvents(&buf)
	if err != nil {
		t.Fatalf("scanEvents: %v", err)
	}
	if len(frames) != len(events) {
		t.Fatalf("got %d frames, want %d", len(frames), len(events))
	}

	for i, e := range events {
		f := frames[i]
		if e.isKeepalive() {
			if f.ID != "" || f.Event != "" {
				t.Errorf("frame %d: keepalive should omit id/event, got id=%q event=%q", i, f.ID, f.Event)
			}
			continue
		}
		if f.Event != "message" {
			t.Errorf("frame %d: event = %q, want message", i, f.Event)
		}
		if f.Data != string(e.Data) {
			t.Errorf("frame %d: data = %q, want %q", i, f.Data, e.Data)
		}
		if e.Retry != 0 && f.Retry != e.Retry {
			t.Errorf("frame %d: retry = %d, want %d", i, f.Retry, e.Retry)
		}
	}
}

func TestIsKeepalive(t *testing.T) {
	cases := []struct {
		name string
		e    Event
		want bool
	}{
		{"zero value", Event{}, true},
		{"explicit keepalive", keepaliveEvent(), true},
		{"id only", Event{ID: 1}, false},
		{"type only", Event{EventType: "message"}, false},
		{"both set", Event{ID: 1, EventType: "message"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.e.isKeepalive(); got != tc.want {
				t.Errorf("isKeepalive() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestEventJSONRoundTrip(t *testing.T) {
	e := Event{ID: 42, Timestamp: 1000, EventType: "message", Data: json.RawMessage(`{"x":true}`), Retry: 2000}
	raw, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got Event
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if diff := cmp.Diff(e, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}
