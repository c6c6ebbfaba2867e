// Copyright 2025 The MCP Streamable Runtime Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// mcpserver runs a standalone MCP Streamable HTTP server: one /mcp endpoint
// backed by a pluggable session store, plus an optional operator admin
// surface on a separate port.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/mcpstream/runtime/mcp"
)

func main() {
	envFile := flag.String("env-file", ".env", "optional .env file to load before flags/env")
	flag.Parse()

	cfg, err := mcp.LoadConfig(flag.Args(), *envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mcpserver: loading config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func run(cfg *mcp.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("opening session store: %w", err)
	}
	defer store.Close()
	store = mcp.GuardSessionStore(store, cfg)

	metrics := mcp.NewMetrics()
	streams := mcp.NewStreamManager(store, mcp.StreamManagerOptions{
		ChannelBufferSize:  cfg.ChannelBufferSize,
		MaxReplayEvents:    cfg.MaxReplayEvents,
		KeepaliveInterval:  cfg.KeepaliveInterval,
		PostSSESettleDelay: cfg.PostSSESettle,
		Logger:             logger,
		Metrics:            metrics,
	})

	dispatcher := mcp.NewDispatcher(store, streams)
	dispatcher.Use(mcp.RecoverMiddleware(logger), mcp.LoggingMiddleware(logger))
	registerHandlers(dispatcher)

	server := mcp.NewServer(cfg, store, streams, dispatcher, metrics, logger)
	server.StartBackgroundSweeps(ctx)
	defer server.Stop()

	httpServer := &http.Server{Addr: cfg.BindAddress, Handler: server.Handler()}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("mcp server listening", "addr", cfg.BindAddress, "path", cfg.MCPPath, "store_backend", cfg.StoreBackend)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("mcp listener: %w", err)
		}
	}()

	var adminServer *http.Server
	if cfg.EnableAdminServer {
		admin := mcp.NewAdminServer(cfg, store, streams, metrics)
		adminServer = &http.Server{Addr: cfg.AdminBindAddress, Handler: admin.Handler()}
		go func() {
			logger.Info("admin server listening", "addr", cfg.AdminBindAddress)
			if err := adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("admin listener: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
	defer cancel()
	httpServer.Shutdown(shutdownCtx)
	if adminServer != nil {
		adminServer.Shutdown(shutdownCtx)
	}
	return nil
}

// openStore selects and constructs the SessionStore backend named by
// cfg.StoreBackend.
func openStore(ctx context.Context, cfg *mcp.Config) (mcp.SessionStore, error) {
	switch cfg.StoreBackend {
	case "", "memory":
		return mcp.NewMemorySessionStore(), nil
	case "sqlite":
		return mcp.NewSQLiteSessionStore(ctx, cfg.StoreDSN)
	case "postgres":
		return mcp.NewSQLSessionStore(ctx, cfg.StoreDSN)
	case "redis":
		return mcp.NewRedisSessionStore(ctx, cfg.StoreDSN)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// registerHandlers wires up the handshake required before any other method
// runs (spec §6: "initialize must be the first request on a session").
// Application-specific tool/resource/prompt handlers are a caller concern,
// out of scope for this core — this registers only the protocol-level
// initialize/initialized exchange and logging/setLevel.
func registerHandlers(d *mcp.Dispatcher) {
	d.Handle(mcp.MethodInitialize, handleInitialize)
	d.Handle(mcp.NotificationInitialized, handleInitialized)
	d.Handle("logging/setLevel", handleSetLevel)
}
