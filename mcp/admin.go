// Copyright 2025 The MCP Streamable Runtime Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mcpstream/runtime/internal/util"
)

// AdminServer exposes the operator HTTP surface described in SPEC_FULL §4.F:
// health, a session debug listing, and a manual expiry trigger. It is
// deliberately separate from the /mcp endpoint — different port, different
// router, different error conventions — since it is pure operability
// scaffold with no bearing on MCP wire semantics.
type AdminServer struct {
	cfg     *Config
	store   SessionStore
	streams *StreamManager
	metrics *Metrics
	engine  *gin.Engine
}

// NewAdminServer builds the admin router. When cfg.AdminLoopbackOnly is set,
// every request from a non-loopback remote address is rejected with 403.
func NewAdminServer(cfg *Config, store SessionStore, streams *StreamManager, metrics *Metrics) *AdminServer {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	a := &AdminServer{cfg: cfg, store: store, streams: streams, metrics: metrics, engine: engine}

	if cfg.AdminLoopbackOnly {
		engine.Use(a.loopbackOnly)
	}
	engine.GET("/healthz", a.handleHealthz)
	engine.GET("/debug/sessions", a.handleDebugSessions)
	engine.POST("/debug/expire", a.handleDebugExpire)
	return a
}

func (a *AdminServer) Handler() http.Handler { return a.engine }

func (a *AdminServer) loopbackOnly(c *gin.Context) {
	if !util.IsLoopback(c.Request.RemoteAddr) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin surface is loopback-only"})
		return
	}
	c.Next()
}

func (a *AdminServer) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// sessionSummary is the trimmed view of a SessionRecord the admin surface
// reports, obtained via remarshal rather than hand-copying every field.
type sessionSummary struct {
	ID            string `json:"id"`
	CreatedAt     int64  `json:"createdAt"`
	LastActivity  int64  `json:"lastActivity"`
	IsInitialized bool   `json:"isInitialized"`
}

func (a *AdminServer) handleDebugSessions(c *gin.Context) {
	ids, err := a.store.ListSessions(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	summaries := make([]sessionSummary, 0, len(ids))
	var oldest, newest int64
	for i, id := range ids {
		rec, err := a.store.GetSession(c.Request.Context(), id)
		if err != nil {
			continue
		}
		var sum sessionSummary
		if err := remarshal(rec, &sum); err != nil {
			assert(false, "sessionSummary must be a strict subset of SessionRecord's JSON fields")
			continue
		}
		summaries = append(summaries, sum)
		if i == 0 || rec.LastActivity < oldest {
			oldest = rec.LastActivity
		}
		if i == 0 || rec.LastActivity > newest {
			newest = rec.LastActivity
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"count":        len(summaries),
		"oldest":       oldest,
		"newest":       newest,
		"sessions":     summaries,
		"metrics":      a.metrics.Snapshot(),
		"storeBackend": a.cfg.StoreBackend,
	})
}

func (a *AdminServer) handleDebugExpire(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	threshold := nowMillis() - int64(a.cfg.SessionExpiryMinutes)*60*1000
	expired, err := a.store.ExpireSessions(ctx, threshold)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	a.metrics.SessionsExpired(len(expired))
	for _, id := range expired {
		a.streams.CloseSession(id)
	}
	c.JSON(http.StatusOK, gin.H{"expired": expired})
}
