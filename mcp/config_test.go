// Copyright 2025 The MCP Streamable Runtime Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(nil, "")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	want := DefaultConfig()
	if cfg.BindAddress != want.BindAddress || cfg.MCPPath != want.MCPPath || cfg.StoreBackend != want.StoreBackend {
		t.Errorf("LoadConfig(nil, \"\") = %+v, want defaults %+v", cfg, want)
	}
}

func TestLoadConfigEnvOverridesDefaults(t *testing.T) {
	t.Setenv("MCP_BIND_ADDRESS", ":9999")
	t.Setenv("MCP_STORE_BACKEND", "sqlite")
	t.Setenv("MCP_SESSION_EXPIRY_MINUTES", "45")

	cfg, err := LoadConfig(nil, "")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.BindAddress != ":9999" {
		t.Errorf("BindAddress = %q, want :9999", cfg.BindAddress)
	}
	if cfg.StoreBackend != "sqlite" {
		t.Errorf("StoreBackend = %q, want sqlite", cfg.StoreBackend)
	}
	if cfg.SessionExpiryMinutes != 45 {
		t.Errorf("SessionExpiryMinutes = %d, want 45", cfg.SessionExpiryMinutes)
	}
}

func TestLoadConfigFlagsOverrideEnv(t *testing.T) {
	t.Setenv("MCP_BIND_ADDRESS", ":9999")

	cfg, err := LoadConfig([]string{"-bind-address", ":7777"}, "")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.BindAddress != ":7777" {
		t.Errorf("BindAddress = %q, want :7777 (flag should win over env)", cfg.BindAddress)
	}
}

func TestLoadConfigDurationFlag(t *testing.T) {
	cfg, err := LoadConfig([]string{"-keepalive-interval", "10s"}, "")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.KeepaliveInterval != 10*time.Second {
		t.Errorf("KeepaliveInterval = %v, want 10s", cfg.KeepaliveInterval)
	}
}
