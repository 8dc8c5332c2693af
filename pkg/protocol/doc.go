// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package protocol defines the Inspector contract a session's
// handshake phase drives: examine each packet exchanged between
// client and server until the handshake settles, then step aside and
// let the session relay bytes without looking at them again.
package protocol

// Outcome reports what a session should do with the packet an
// Inspector just examined.
type Outcome struct {
	// Forward is true when the packet (or the bytes read so far) should
	// be written verbatim to the receiver. It is false only when an
	// error aborts the handshake outright.
	Forward bool
	// TLS is true when this packet was a client handshake response
	// requesting an encrypted channel; the session should stop
	// inspecting and hand the connection to a TLS upgrade path.
	TLS bool
	// ServerError is true when the packet carried a server-side error
	// response during handshaking; the session should forward it and
	// then let the connection close normally rather than treat this as
	// a protocol violation.
	ServerError bool
}

// Inspector examines the handshake exchange between a client and a
// backend, one packet at a time, until it reports Done. After Done it
// must not be called again; the session becomes a transparent
// forwarder.
type Inspector interface {
	// Inspect processes n bytes read from one side of the handshake.
	// fromServer distinguishes the two directions, since the MySQL
	// classic handshake has direction-dependent framing rules.
	Inspect(buf []byte, n int, fromServer bool) (Outcome, error)

	// Done reports whether the handshake has settled.
	Done() bool
}
