// Copyright 2025 The MCP Streamable Runtime Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

// LoggingLevel is the severity of a notifications/message log entry. Levels
// map to syslog severities (RFC 5424 §6.2.1), matching the values the MCP
// spec uses on the wire.
type LoggingLevel string

const (
	LevelDebug     LoggingLevel = "debug"
	LevelInfo      LoggingLevel = "info"
	LevelNotice    LoggingLevel = "notice"
	LevelWarning   LoggingLevel = "warning"
	LevelError     LoggingLevel = "error"
	LevelCritical  LoggingLevel = "critical"
	LevelAlert     LoggingLevel = "alert"
	LevelEmergency LoggingLevel = "emergency"
)

// levelPriority totally orders the levels, low to high severity.
var levelPriority = map[LoggingLevel]int{
	LevelDebug:     0,
	LevelInfo:      1,
	LevelNotice:    2,
	LevelWarning:   3,
	LevelError:     4,
	LevelCritical:  5,
	LevelAlert:     6,
	LevelEmergency: 7,
}

// priority returns l's position in the total order. Unknown levels decode
// to the same priority as LevelInfo, per spec §4.D.
func (l LoggingLevel) priority() int {
	if p, ok := levelPriority[l]; ok {
		return p
	}
	return levelPriority[LevelInfo]
}

// normalized returns l, or LevelInfo if l is not a recognized level.
func (l LoggingLevel) normalized() LoggingLevel {
	if _, ok := levelPriority[l]; ok {
		return l
	}
	return LevelInfo
}

// atLeast reports whether l is at least as severe as threshold.
func (l LoggingLevel) atLeast(threshold LoggingLevel) bool {
	return l.priority() >= threshold.priority()
}

// sessionStateLogLevelKey is the reserved session-state key under which the
// per-session log-level threshold is persisted (spec §4.D).
//
// This repository only ever emits notifications/message on the wire; the
// legacy notifications/logging/message alias some MCP implementations also
// send is deliberately not produced here (spec §9 open question, resolved).
const sessionStateLogLevelKey = "mcp:logging:level"
