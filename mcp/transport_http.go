// Copyright 2025 The MCP Streamable Runtime Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Recognized MCP-Protocol-Version tokens (spec §4.F). ProtocolStreamableLatest
// is what unknown or absent versions negotiate to.
const (
	ProtocolLegacy            = "2024-11-05"
	ProtocolStreamable2025_03 = "2025-03-26"
	ProtocolStreamableLatest  = "2025-06-18"
)

// negotiateProtocolVersion implements spec §4.F's negotiation rule: the
// highest version known to both sides wins; unknown values default to the
// latest (Streamable) generation.
func negotiateProtocolVersion(header string) string {
	switch header {
	case ProtocolLegacy:
		return ProtocolLegacy
	case ProtocolStreamable2025_03:
		return ProtocolStreamable2025_03
	case ProtocolStreamableLatest, "":
		return ProtocolStreamableLatest
	default:
		return ProtocolStreamableLatest
	}
}

func isStreamable(version string) bool { return version != ProtocolLegacy }

// Server wires a SessionStore, StreamManager, and Dispatcher into the
// single-endpoint HTTP transport specified in spec §4.F.
type Server struct {
	cfg        *Config
	store      SessionStore
	streams    *StreamManager
	dispatcher *Dispatcher
	log        *slog.Logger
	metrics    *Metrics

	stopSweep chan struct{}
	sweepOnce sync.Once
}

// NewServer constructs a Server. Call Handler to obtain an http.Handler and
// StartBackgroundSweeps to begin the periodic expiry/reap tasks described in
// spec §4.F "Background tasks".
func NewServer(cfg *Config, store SessionStore, streams *StreamManager, dispatcher *Dispatcher, metrics *Metrics, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Server{cfg: cfg, store: store, streams: streams, dispatcher: dispatcher, metrics: metrics, log: log, stopSweep: make(chan struct{})}
}

// Handler returns the http.Handler serving cfg.MCPPath; any other path
// yields 404 via http.ServeMux's default behavior.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.MCPPath, s.serveMCP)
	return mux
}

func (s *Server) serveMCP(w http.ResponseWriter, r *http.Request) {
	version := negotiateProtocolVersion(r.Header.Get("MCP-Protocol-Version"))
	w.Header().Set("Mcp-Protocol-Version", version)
	if s.cfg.EnableCORS {
		w.Header().Set("Access-Control-Allow-Origin", s.cfg.CORSOrigin)
	}

	switch r.Method {
	case http.MethodPost:
		s.handlePOST(w, r, version)
	case http.MethodGet:
		s.handleGET(w, r, version)
	case http.MethodDelete:
		s.handleDELETE(w, r, version)
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
	default:
		w.Header().Set("Allow", "GET, POST, DELETE, OPTIONS")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handlePOST(w http.ResponseWriter, r *http.Request, version string) {
	s.metrics.RequestHandled()
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()

	body, err := io.ReadAll(io.LimitReader(r.Body, s.cfg.MaxBodySize+1))
	if err != nil {
		writeTransportError(w, http.StatusBadRequest, CodeParseError, "reading request body: "+err.Error())
		return
	}
	if int64(len(body)) > s.cfg.MaxBodySize {
		writeTransportError(w, http.StatusRequestEntityTooLarge, CodeInvalidRequest, "request body exceeds max_body_size")
		return
	}

	reqs, perr := ParseMessages(body)
	if perr != nil {
		var jerr *JSONRPCError
		if errors.As(perr, &jerr) {
			writeTransportError(w, http.StatusBadRequest, jerr.Code, jerr.Message)
			return
		}
		writeTransportError(w, http.StatusBadRequest, CodeParseError, perr.Error())
		return
	}

	sessionID, bindErr := s.bindSession(ctx, w, r, reqs)
	if bindErr != nil {
		writeTransportError(w, http.StatusNotFound, CodeInvalidRequest, bindErr.Error())
		return
	}
	w.Header().Set("Mcp-Session-Id", sessionID)

	wantsSSE := isStreamable(version) && s.cfg.EnablePostSSE &&
		strings.Contains(r.Header.Get("Accept"), "text/event-stream")

	if wantsSSE {
		s.respondPOSTviaSSE(ctx, w, sessionID, reqs)
		return
	}
	s.respondPOSTviaJSON(ctx, w, sessionID, reqs)
}

// bindSession implements spec §4.F's session binding rule: an existing
// Mcp-Session-Id header binds to that session (error if unknown); an
// initialize request with no header creates a fresh session.
func (s *Server) bindSession(ctx context.Context, w http.ResponseWriter, r *http.Request, reqs []*JSONRPCRequest) (string, error) {
	if id := r.Header.Get("Mcp-Session-Id"); id != "" {
		if _, err := s.store.GetSession(ctx, id); err != nil {
			return "", fmt.Errorf("unknown session: %s", id)
		}
		return id, nil
	}

	for _, req := range reqs {
		if req.Method == MethodInitialize {
			rec, err := s.store.CreateSession(ctx, nil)
			if err != nil {
				return "", err
			}
			s.metrics.SessionCreated()
			return rec.ID, nil
		}
	}
	return "", fmt.Errorf("missing Mcp-Session-Id header")
}

func (s *Server) respondPOSTviaJSON(ctx context.Context, w http.ResponseWriter, sessionID string, reqs []*JSONRPCRequest) {
	responses := s.dispatcher.DispatchBatch(ctx, sessionID, reqs)
	w.Header().Set("Content-Type", "application/json")

	if len(reqs) == 1 && !reqs[0].IsNotification() {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(responses[0])
		return
	}
	if len(responses) == 0 {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(responses)
}

// respondPOSTviaSSE implements spec §4.C's "inlined POST response": allow a
// short settle window for handler-emitted notifications, replay the
// session's most recent events (up to cfg.MaxReplayEvents, so events stored
// before this call are included too), then frame the JSON-RPC response
// itself as a final SSE event.
func (s *Server) respondPOSTviaSSE(ctx context.Context, w http.ResponseWriter, sessionID string, reqs []*JSONRPCRequest) {
	flusher, _ := w.(http.Flusher)
	setSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	responses := s.dispatcher.DispatchBatch(ctx, sessionID, reqs)

	for _, e := range s.streams.InlinedPOSTEvents(ctx, sessionID, s.cfg.MaxReplayEvents) {
		if err := writeEvent(w, e); err != nil {
			return
		}
	}

	var respData json.RawMessage
	var err error
	if len(reqs) == 1 && !reqs[0].IsNotification() {
		respData, err = json.Marshal(responses[0])
	} else if len(responses) > 0 {
		respData, err = json.Marshal(responses)
	}
	if err != nil || respData == nil {
		return
	}
	writeEvent(w, Event{EventType: "message", Data: respData})
	if flusher != nil {
		flusher.Flush()
	}
}

func (s *Server) handleGET(w http.ResponseWriter, r *http.Request, version string) {
	if !s.cfg.EnableGetSSE {
		http.Error(w, "GET subscriptions are disabled", http.StatusMethodNotAllowed)
		return
	}
	sessionID := r.Header.Get("Mcp-Session-Id")
	if sessionID == "" {
		writeTransportError(w, http.StatusNotFound, CodeInvalidRequest, "missing Mcp-Session-Id header")
		return
	}
	if _, err := s.store.GetSession(r.Context(), sessionID); err != nil {
		writeTransportError(w, http.StatusNotFound, CodeInvalidRequest, "unknown session")
		return
	}
	if !strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		writeTransportError(w, http.StatusBadRequest, CodeInvalidRequest, "Accept header must include text/event-stream")
		return
	}

	var lastEventID int64
	if v := r.Header.Get("Last-Event-ID"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			lastEventID = int64(n)
		}
	}

	w.Header().Set("Mcp-Session-Id", sessionID)
	setSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	sink := &httpFrameSink{w: w, flusher: flusher}
	s.streams.OpenClientStream(r.Context(), sessionID, lastEventID, sink)
}

// httpFrameSink adapts an http.ResponseWriter to the frameSink interface
// StreamManager.OpenClientStream writes through.
type httpFrameSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (s *httpFrameSink) write(e Event) bool {
	if err := writeEvent(s.w, e); err != nil {
		return false
	}
	return true
}

func (s *Server) handleDELETE(w http.ResponseWriter, r *http.Request, version string) {
	sessionID := r.Header.Get("Mcp-Session-Id")
	if sessionID == "" {
		writeTransportError(w, http.StatusNotFound, CodeInvalidRequest, "missing Mcp-Session-Id header")
		return
	}
	existed, err := s.store.DeleteSession(r.Context(), sessionID)
	if err != nil {
		writeTransportError(w, http.StatusInternalServerError, CodeInternalError, err.Error())
		return
	}
	if !existed {
		writeTransportError(w, http.StatusNotFound, CodeInvalidRequest, "unknown session")
		return
	}
	s.streams.CloseSession(sessionID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{"terminated": sessionID})
}

func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
}

func writeTransportError(w http.ResponseWriter, status int, code int64, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := &JSONRPCResponse{Error: &JSONRPCError{Code: code, Message: message}}
	json.NewEncoder(w).Encode(resp)
}

// StartBackgroundSweeps launches the periodic expiry and broadcaster-reap
// tasks named in spec §4.F "Background tasks", running roughly every 60s
// until ctx is cancelled or Stop is called.
func (s *Server) StartBackgroundSweeps(ctx context.Context) {
	interval := 60 * time.Second
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopSweep:
				return
			case <-ticker.C:
				s.runSweep(ctx)
			}
		}
	}()
}

func (s *Server) runSweep(ctx context.Context) {
	threshold := nowMillis() - int64(s.cfg.SessionExpiryMinutes)*60*1000
	expired, err := s.store.ExpireSessions(ctx, threshold)
	if err != nil {
		s.log.Warn("session expiry sweep failed", "error", err)
	} else if len(expired) > 0 {
		s.log.Info("expired idle sessions", "count", len(expired), "session_ids", expired)
		s.metrics.SessionsExpired(len(expired))
		for _, id := range expired {
			s.streams.CloseSession(id)
		}
	}
	s.streams.ReapBroadcasters(ctx)
}

// Stop halts background sweeps started by StartBackgroundSweeps.
func (s *Server) Stop() {
	s.sweepOnce.Do(func() { close(s.stopSweep) })
}
