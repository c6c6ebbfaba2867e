// Copyright 2025 The MCP Streamable Runtime Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every runtime option named in spec §6, plus the handful of
// supplemental knobs this implementation needs to run as a complete server
// (storage backend selection, the admin surface, production hardening).
type Config struct {
	BindAddress  string
	MCPPath      string
	EnableCORS   bool
	CORSOrigin   string
	MaxBodySize  int64

	EnableGetSSE  bool
	EnablePostSSE bool

	SessionExpiryMinutes int
	ChannelBufferSize    int
	MaxReplayEvents      int
	KeepaliveInterval    time.Duration

	// PostSSESettle is the grace period an inlined POST-SSE response waits
	// for handler-emitted notifications to land before framing the
	// response (spec §4.C "inlined POST response").
	PostSSESettle time.Duration

	// RequestTimeout bounds a single POST dispatch (spec §5 "Cancellation
	// & timeouts").
	RequestTimeout time.Duration

	// Production, when true, makes GuardSessionStore wrap the configured
	// SessionStore so CreateSessionWithID always fails with
	// ErrForbiddenSessionID: caller-chosen session ids are a test
	// convenience only, never a production entry point for session
	// hijacking via id guessing.
	Production bool

	// StoreBackend selects the SessionStore implementation: "memory",
	// "sqlite", "postgres", or "redis".
	StoreBackend string
	StoreDSN     string

	EnableAdminServer  bool
	AdminBindAddress   string
	AdminLoopbackOnly  bool

	LogLevel string
}

// DefaultConfig returns the option defaults named throughout spec §4 and §6.
func DefaultConfig() *Config {
	return &Config{
		BindAddress:          ":8080",
		MCPPath:              "/mcp",
		EnableCORS:           false,
		CORSOrigin:           "*",
		MaxBodySize:          4 << 20, // 4 MiB
		EnableGetSSE:         true,
		EnablePostSSE:        true,
		SessionExpiryMinutes: 30,
		ChannelBufferSize:    1000,
		MaxReplayEvents:      1000,
		KeepaliveInterval:    30 * time.Second,
		PostSSESettle:        50 * time.Millisecond,
		RequestTimeout:       30 * time.Second,
		Production:           false,
		StoreBackend:         "memory",
		EnableAdminServer:    false,
		AdminBindAddress:     "127.0.0.1:8081",
		AdminLoopbackOnly:    true,
		LogLevel:             "info",
	}
}

// LoadConfig builds a Config from defaults, an optional .env file, process
// environment variables, and command-line flags, in that ascending order of
// precedence — matching the layered configuration idiom used across this
// codebase's service entrypoints.
func LoadConfig(args []string, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("mcp: loading env file %s: %w", envFile, err)
		}
	}

	cfg := DefaultConfig()
	applyEnv(cfg)

	fs := flag.NewFlagSet("mcpserver", flag.ContinueOnError)
	fs.StringVar(&cfg.BindAddress, "bind-address", cfg.BindAddress, "address to listen on for the /mcp endpoint")
	fs.StringVar(&cfg.MCPPath, "mcp-path", cfg.MCPPath, "HTTP path for the MCP endpoint")
	fs.BoolVar(&cfg.EnableCORS, "enable-cors", cfg.EnableCORS, "emit permissive CORS headers")
	fs.StringVar(&cfg.CORSOrigin, "cors-origin", cfg.CORSOrigin, "Access-Control-Allow-Origin value")
	fs.Int64Var(&cfg.MaxBodySize, "max-body-size", cfg.MaxBodySize, "maximum accepted POST body size, in bytes")
	fs.BoolVar(&cfg.EnableGetSSE, "enable-get-sse", cfg.EnableGetSSE, "accept GET subscription requests")
	fs.BoolVar(&cfg.EnablePostSSE, "enable-post-sse", cfg.EnablePostSSE, "allow SSE-framed POST responses")
	fs.IntVar(&cfg.SessionExpiryMinutes, "session-expiry-minutes", cfg.SessionExpiryMinutes, "idle session timeout, in minutes")
	fs.IntVar(&cfg.ChannelBufferSize, "channel-buffer-size", cfg.ChannelBufferSize, "per-session broadcaster channel buffer size")
	fs.IntVar(&cfg.MaxReplayEvents, "max-replay-events", cfg.MaxReplayEvents, "maximum historical events replayed on reconnect")
	fs.DurationVar(&cfg.KeepaliveInterval, "keepalive-interval", cfg.KeepaliveInterval, "SSE keepalive ping interval")
	fs.DurationVar(&cfg.PostSSESettle, "post-sse-settle", cfg.PostSSESettle, "grace period before framing an inlined POST-SSE response")
	fs.DurationVar(&cfg.RequestTimeout, "request-timeout", cfg.RequestTimeout, "per-request timeout for POST dispatch")
	fs.BoolVar(&cfg.Production, "production", cfg.Production, "reject caller-chosen session ids")
	fs.StringVar(&cfg.StoreBackend, "store-backend", cfg.StoreBackend, "session store backend: memory, sqlite, postgres, redis")
	fs.StringVar(&cfg.StoreDSN, "store-dsn", cfg.StoreDSN, "data source name for the selected store backend")
	fs.BoolVar(&cfg.EnableAdminServer, "enable-admin-server", cfg.EnableAdminServer, "serve the operator admin surface")
	fs.StringVar(&cfg.AdminBindAddress, "admin-bind-address", cfg.AdminBindAddress, "address to listen on for the admin surface")
	fs.BoolVar(&cfg.AdminLoopbackOnly, "admin-loopback-only", cfg.AdminLoopbackOnly, "reject non-loopback admin requests")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "minimum slog level: debug, info, warn, error")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables onto cfg's defaults, ahead of
// flag parsing so flags retain the final say.
func applyEnv(cfg *Config) {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := os.LookupEnv(key); ok {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}

	str("MCP_BIND_ADDRESS", &cfg.BindAddress)
	str("MCP_PATH", &cfg.MCPPath)
	boolean("MCP_ENABLE_CORS", &cfg.EnableCORS)
	str("MCP_CORS_ORIGIN", &cfg.CORSOrigin)
	boolean("MCP_ENABLE_GET_SSE", &cfg.EnableGetSSE)
	boolean("MCP_ENABLE_POST_SSE", &cfg.EnablePostSSE)
	integer("MCP_SESSION_EXPIRY_MINUTES", &cfg.SessionExpiryMinutes)
	integer("MCP_CHANNEL_BUFFER_SIZE", &cfg.ChannelBufferSize)
	integer("MCP_MAX_REPLAY_EVENTS", &cfg.MaxReplayEvents)
	duration("MCP_KEEPALIVE_INTERVAL", &cfg.KeepaliveInterval)
	duration("MCP_POST_SSE_SETTLE", &cfg.PostSSESettle)
	duration("MCP_REQUEST_TIMEOUT", &cfg.RequestTimeout)
	boolean("MCP_PRODUCTION", &cfg.Production)
	str("MCP_STORE_BACKEND", &cfg.StoreBackend)
	str("MCP_STORE_DSN", &cfg.StoreDSN)
	boolean("MCP_ENABLE_ADMIN_SERVER", &cfg.EnableAdminServer)
	str("MCP_ADMIN_BIND_ADDRESS", &cfg.AdminBindAddress)
	boolean("MCP_ADMIN_LOOPBACK_ONLY", &cfg.AdminLoopbackOnly)
	str("MCP_LOG_LEVEL", &cfg.LogLevel)
}
