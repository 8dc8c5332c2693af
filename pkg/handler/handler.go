// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package handler

import (
	"context"
	"crypto/x509"
)

// Context carries per-session metadata through the Handler callbacks
// a routing session drives as it progresses from accept through
// backend selection to the end of the relay.
type Context struct {
	// SessionID is a unique identifier for this connection/session.
	SessionID string

	// RemoteAddr is the client's network address.
	RemoteAddr string

	// BindName identifies which configured bind accepted this session.
	BindName string

	// Protocol is the wire protocol tag, "classic" or "x".
	Protocol string

	// BackendAddr is the selected destination, set once backend
	// selection succeeds; empty beforehand.
	BackendAddr string

	// Cert is the client's TLS certificate, if the session upgraded to
	// TLS and presented one.
	Cert *x509.Certificate
}

// Handler defines the authorization and notification callbacks a
// routing session invokes at the points where an operator-supplied
// policy (an ACL, an audit log, a metrics sink) can observe or veto a
// session's progress.
//
// AuthAccept is called before backend selection; returning an error
// blocks the client without ever dialing a backend. AuthBackend is
// called after a backend has been selected but before the handshake
// begins relaying; returning an error sends a canned failure response
// to the backend (so no credentials leak) and closes the client
// socket. The On* methods are notification hooks called after the
// fact; errors from them are logged but never abort the session.
type Handler interface {
	// AuthAccept authorizes a newly accepted client connection, before
	// any backend has been selected. Return an error to reject the
	// client outright.
	AuthAccept(ctx context.Context, hctx *Context) error

	// AuthBackend authorizes the connection after backend selection but
	// before the handshake relay begins. Return an error to block the
	// session post-selection.
	AuthBackend(ctx context.Context, hctx *Context) error

	// OnHandshakeDone is called when the session ends, just before
	// OnDisconnect, and only if the handshake inspector had reported the
	// connection settled into transparent relay. It is not called at the
	// moment the handshake settles.
	OnHandshakeDone(ctx context.Context, hctx *Context) error

	// OnDisconnect is called when a session ends, gracefully or due to
	// an error, for audit logging, metrics, or cleanup.
	OnDisconnect(ctx context.Context, hctx *Context, err error) error
}

// NoopHandler is a Handler implementation that allows every
// connection through. Useful for tests or binds with no ACL.
type NoopHandler struct{}

var _ Handler = (*NoopHandler)(nil)

func (h *NoopHandler) AuthAccept(ctx context.Context, hctx *Context) error { return nil }

func (h *NoopHandler) AuthBackend(ctx context.Context, hctx *Context) error { return nil }

func (h *NoopHandler) OnHandshakeDone(ctx context.Context, hctx *Context) error { return nil }

func (h *NoopHandler) OnDisconnect(ctx context.Context, hctx *Context, err error) error {
	return nil
}
