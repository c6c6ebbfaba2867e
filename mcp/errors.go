// Copyright 2025 The MCP Streamable Runtime Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"errors"
	"fmt"
)

// StoreErrorKind is the typed error taxonomy a SessionStore backend reports,
// per spec §4.A / §7. Callers should use errors.As to recover a *StoreError
// and switch on Kind rather than matching error strings.
type StoreErrorKind int

const (
	ErrSessionNotFound StoreErrorKind = iota
	ErrMaxSessionsReached
	ErrSerialization
	ErrBackend
	ErrConcurrentModification
)

func (k StoreErrorKind) String() string {
	switch k {
	case ErrSessionNotFound:
		return "session not found"
	case ErrMaxSessionsReached:
		return "max sessions reached"
	case ErrSerialization:
		return "serialization failure"
	case ErrBackend:
		return "backend connectivity error"
	case ErrConcurrentModification:
		return "concurrent modification"
	default:
		return "unknown store error"
	}
}

// StoreError is returned by every SessionStore operation that can fail.
type StoreError struct {
	Kind      StoreErrorKind
	SessionID string
	Err       error // underlying cause, if any
}

func (e *StoreError) Error() string {
	if e.SessionID != "" {
		if e.Err != nil {
			return fmt.Sprintf("mcp: session %s: %s: %v", e.SessionID, e.Kind, e.Err)
		}
		return fmt.Sprintf("mcp: session %s: %s", e.SessionID, e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("mcp: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("mcp: %s", e.Kind)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Is reports equality by Kind so that errors.Is(err, &StoreError{Kind: ...})
// works without comparing SessionID/Err.
func (e *StoreError) Is(target error) bool {
	t, ok := target.(*StoreError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func newStoreErr(kind StoreErrorKind, sessionID string, cause error) *StoreError {
	return &StoreError{Kind: kind, SessionID: sessionID, Err: cause}
}

// IsStoreErrorKind reports whether err is (or wraps) a *StoreError of the
// given kind. It is the idiomatic way for callers to check "is this
// session-not-found" without constructing a sentinel value to compare
// against.
func IsStoreErrorKind(err error, kind StoreErrorKind) bool {
	var serr *StoreError
	if !errors.As(err, &serr) {
		return false
	}
	return serr.Kind == kind
}

// ErrForbiddenSessionID is returned by CreateSessionWithID when
// Config.Production forbids caller-supplied session ids (spec §9 open
// question).
var ErrForbiddenSessionID = fmt.Errorf("mcp: caller-supplied session ids are forbidden in production")
