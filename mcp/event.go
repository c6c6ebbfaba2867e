// Copyright 2025 The MCP Streamable Runtime Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Event is a single persisted notification in a session's event log
// (spec §3 "SSE Event"). ID is assigned by the Store at persistence time;
// callers never set it themselves.
type Event struct {
	ID        int64           `json:"id"`
	Timestamp int64           `json:"timestamp"`
	EventType string          `json:"eventType"`
	Data      json.RawMessage `json:"data"`
	Retry     int64           `json:"retry,omitempty"`
}

// isKeepalive reports whether e is a non-consuming keepalive frame (spec
// §3: "Keepalive/ping frames MAY use id=0 and MUST NOT consume an ID").
func (e Event) isKeepalive() bool {
	return e.EventType == "" && e.ID == 0
}

func keepaliveEvent() Event {
	return Event{EventType: "", Data: json.RawMessage("{}")}
}

// writeEvent frames e onto w per spec §4.B and flushes it. A single
// `data:` line is emitted (json.RawMessage is already compact, single-line
// JSON by construction of Event producers in this package).
func writeEvent(w io.Writer, e Event) error {
	var b strings.Builder
	if !e.isKeepalive() {
		fmt.Fprintf(&b, "id: %d\n", e.ID)
		fmt.Fprintf(&b, "event: %s\n", "message")
	}
	fmt.Fprintf(&b, "data: %s\n", e.Data)
	if e.Retry > 0 {
		fmt.Fprintf(&b, "retry: %d\n", e.Retry)
	}
	b.WriteString("\n")
	_, err := io.WriteString(w, b.String())
	if err != nil {
		return err
	}
	if f, ok := w.(interface{ Flush() }); ok {
		f.Flush()
	}
	return nil
}

// sseFrame is a decoded SSE frame, as produced by scanEvents.
type sseFrame struct {
	ID    string
	Event string
	Data  string
	Retry int64
}

// scanEvents reads SSE frames from r until EOF or a read error. It is used
// by tests to validate the writeEvent/scanEvents round-trip (spec §8
// invariant 6) and by any client-side tooling that wants to tail a raw
// stream without a full client transport.
func scanEvents(r io.Reader) ([]sseFrame, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var frames []sseFrame
	cur := sseFrame{}
	var dataLines []string
	haveFrame := false

	flush := func() {
		if !haveFrame {
			return
		}
		cur.Data = strings.Join(dataLines, "\n")
		frames = append(frames, cur)
		cur = sseFrame{}
		dataLines = nil
		haveFrame = false
	}

	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			flush()
			continue
		}
		haveFrame = true
		field, value, _ := strings.Cut(line, ": ")
		switch field {
		case "id":
			cur.ID = value
		case "event":
			cur.Event = value
		case "data":
			dataLines = append(dataLines, value)
		case "retry":
			n, err := strconv.ParseInt(value, 10, 64)
			if err == nil {
				cur.Retry = n
			}
		}
	}
	flush()
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return frames, nil
}
