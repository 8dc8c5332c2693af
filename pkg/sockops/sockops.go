// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package sockops is the capability set the connector and session
// packages use to reach the network, injected at construction so
// tests can substitute a fake implementation instead of touching real
// sockets. It is the Go re-expression of the original's
// SocketOperationsBase virtual-call boundary (spec.md §4.2, §9).
package sockops

import (
	"context"
	"errors"
	"net"
	"syscall"
	"time"

	rerrors "github.com/relaydb/sqlrouter/pkg/errors"
)

// Ops is the capability set injected into the connector and the
// session relay loop. A real implementation wraps net.Dial and
// net.Conn directly; a mock implementation is used in tests.
type Ops interface {
	// Dial connects to addr, bounding the attempt by timeout. The
	// returned error is one of the connect-* sentinels in pkg/errors.
	Dial(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error)

	// Read reads into buf, returning the classic io.Reader contract.
	Read(conn net.Conn, buf []byte) (int, error)

	// WriteAll writes buf in full, looping over short writes and
	// reporting only the final success or failure.
	WriteAll(conn net.Conn, buf []byte) error

	// Close closes a connection.
	Close(conn net.Conn) error
}

// Real is the production Ops implementation, backed by the standard
// library's net package (whose Dialer and net.Conn already integrate
// with the runtime's poller, which is this module's re-expression of
// the original's poll() step).
type Real struct{}

var _ Ops = Real{}

// Dial connects to addr within timeout and classifies failures into
// the connect-error taxonomy.
func (Real) Dial(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, classifyDialError(err)
	}
	return conn, nil
}

// Read reads once into buf.
func (Real) Read(conn net.Conn, buf []byte) (int, error) {
	return conn.Read(buf)
}

// WriteAll writes buf in full, looping over short writes.
func (Real) WriteAll(conn net.Conn, buf []byte) error {
	total := 0
	for total < len(buf) {
		n, err := conn.Write(buf[total:])
		if err != nil {
			return err
		}
		total += n
	}
	return nil
}

// Close closes conn.
func (Real) Close(conn net.Conn) error {
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// classifyDialError maps a net.Dial error to the connect-error
// taxonomy spec.md §4.5/§7 requires the connector to surface.
func classifyDialError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return rerrors.ErrConnectTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return rerrors.ErrConnectTimeout
	}

	if errors.Is(err, syscall.ECONNREFUSED) {
		return rerrors.ErrConnectRefused
	}
	if errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH) {
		return rerrors.ErrAddressUnreachable
	}

	return rerrors.ErrConnectOther
}
