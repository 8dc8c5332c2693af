// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package handler provides the interface linking a routing session to
// operator-supplied policy: ACL checks on accept and on backend
// selection, plus notification hooks for audit logging and metrics.
//
// # Data flow
//
//	accept → AuthAccept → backend selection → AuthBackend → handshake → relay → OnHandshakeDone → OnDisconnect
//
// OnHandshakeDone runs after the relay has ended, and only when the
// handshake had settled.
//
// AuthAccept runs before a backend is ever dialed, so rejecting here
// never touches the destination set. AuthBackend runs after selection
// but before any payload bytes relay; rejecting here sends a canned
// failure response to the backend so no client credentials leak, then
// closes the client socket.
//
// # Implementation
//
// Applications implement Handler to wire their own ACL or audit
// system into a bind. NoopHandler passes every session through
// unchanged, the default for binds configured without an ACL.
package handler
