// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package errors provides the error taxonomy surfaced by the router's
// core components: configuration, selection, connect, protocol, and
// session errors, plus a context-carrying wrapper used for logging.
package errors

import (
	"errors"
	"fmt"

	"github.com/gravitational/trace"
)

// Configuration errors. Fatal at startup; never seen after a bind's
// listener has opened.
var (
	ErrInvalidAddress  = errors.New("invalid address")
	ErrInvalidURI      = errors.New("invalid destination URI")
	ErrMissingOption   = errors.New("missing required option")
	ErrUnknownScheme   = errors.New("unknown destination scheme")
	ErrUnsupportedMode = errors.New("unsupported access mode")
)

// Selection errors, returned by the destination set and connector.
var (
	ErrEmptySet       = errors.New("destination set is empty")
	ErrNoEligible     = errors.New("no eligible destination for the requested access mode")
	ErrNoDestinations = errors.New("no destination accepted a connection")
	ErrNotFound       = errors.New("destination not found")
)

// Connect errors, returned by the socket abstraction and classified
// by the connector.
var (
	ErrConnectTimeout     = errors.New("connect timeout")
	ErrConnectRefused     = errors.New("connect refused")
	ErrAddressUnreachable = errors.New("address unreachable")
	ErrConnectOther       = errors.New("connect failed")
)

// Protocol errors, returned by the handshake inspector.
var (
	ErrShortHeader         = errors.New("short packet header")
	ErrBadSeqno            = errors.New("unexpected packet sequence number")
	ErrMalformedCapability = errors.New("malformed capability field")
	ErrOversizePayload     = errors.New("oversize payload")
)

// Session errors, returned by the relay loop.
var (
	ErrIdleTimeout   = errors.New("idle timeout")
	ErrPeerClosed    = errors.New("peer closed connection")
	ErrIO            = errors.New("i/o error")
	ErrCancelled     = errors.New("cancelled")
	ErrClientBlocked = errors.New("client blocked by acl")
)

// RouterError wraps an underlying error with the operation, bind name,
// and session id it occurred under, so logs can be filtered without
// parsing message strings.
type RouterError struct {
	Op      string
	Bind    string
	Session string
	Err     error
}

func (e *RouterError) Error() string {
	if e.Session != "" {
		return fmt.Sprintf("%s[%s] session=%s: %v", e.Op, e.Bind, e.Session, e.Err)
	}
	return fmt.Sprintf("%s[%s]: %v", e.Op, e.Bind, e.Err)
}

func (e *RouterError) Unwrap() error {
	return e.Err
}

// Wrap builds a RouterError, returning nil if err is nil.
func Wrap(op, bind, session string, err error) error {
	if err == nil {
		return nil
	}
	return &RouterError{Op: op, Bind: bind, Session: session, Err: err}
}

// WrapConfig wraps a configuration-time error with a stack trace, for
// operator-facing startup diagnostics.
func WrapConfig(op string, err error) error {
	if err == nil {
		return nil
	}
	return trace.Wrap(err, op)
}
