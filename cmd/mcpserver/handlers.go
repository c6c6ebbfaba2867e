// Copyright 2025 The MCP Streamable Runtime Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"encoding/json"

	"github.com/mcpstream/runtime/mcp"
)

// serverInfo identifies this runtime during the initialize handshake.
var serverInfo = &mcp.Implementation{Name: "mcpserver", Version: "0.1.0"}

func handleInitialize(ctx context.Context, sess *mcp.SessionContext, params json.RawMessage) (any, error) {
	var in mcp.InitializeParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &in); err != nil {
			return nil, mcp.NewJSONRPCError(mcp.CodeInvalidParams, "invalid initialize params: %v", err)
		}
	}
	return &mcp.InitializeResult{
		ProtocolVersion: in.ProtocolVersion,
		ServerInfo:      serverInfo,
	}, nil
}

func handleInitialized(ctx context.Context, sess *mcp.SessionContext, params json.RawMessage) (any, error) {
	if err := sess.MarkInitialized(ctx); err != nil {
		return nil, err
	}
	return nil, nil
}

type setLevelParams struct {
	Level mcp.LoggingLevel `json:"level"`
}

func handleSetLevel(ctx context.Context, sess *mcp.SessionContext, params json.RawMessage) (any, error) {
	var in setLevelParams
	if err := json.Unmarshal(params, &in); err != nil {
		return nil, mcp.NewJSONRPCError(mcp.CodeInvalidParams, "invalid logging/setLevel params: %v", err)
	}
	if err := sess.SetLogLevel(ctx, in.Level); err != nil {
		return nil, err
	}
	return struct{}{}, nil
}
