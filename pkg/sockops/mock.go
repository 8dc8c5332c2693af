// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package sockops

import (
	"context"
	"net"
	"sync"
	"time"

	rerrors "github.com/relaydb/sqlrouter/pkg/errors"
)

// Behavior describes how a Mock should respond when asked to dial a
// given address.
type Behavior struct {
	// Err, if non-nil, is returned instead of dialing.
	Err error
	// Conn, if non-nil, is returned as the dialed connection. When nil
	// and Err is nil, Mock dials a real net.Pipe-backed loopback so
	// callers still get a functioning net.Conn.
	Conn net.Conn
	// Delay simulates connect latency, useful for exercising timeouts.
	Delay time.Duration
}

// Mock is a test double for Ops. Tests register per-address behavior
// and the mock answers Dial calls from that table without touching
// real sockets, mirroring the original's mock SocketOperations used
// by the destination/connector tests.
type Mock struct {
	mu        sync.Mutex
	behaviors map[string]Behavior
	dials     []string
}

var _ Ops = (*Mock)(nil)

// NewMock creates an empty Mock.
func NewMock() *Mock {
	return &Mock{behaviors: make(map[string]Behavior)}
}

// Set registers the behavior for a given address.
func (m *Mock) Set(addr string, b Behavior) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.behaviors[addr] = b
}

// Dials returns the addresses dialed so far, in order.
func (m *Mock) Dials() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.dials))
	copy(out, m.dials)
	return out
}

func (m *Mock) Dial(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error) {
	m.mu.Lock()
	m.dials = append(m.dials, addr)
	b, ok := m.behaviors[addr]
	m.mu.Unlock()

	if !ok {
		return nil, rerrors.ErrConnectRefused
	}

	if b.Delay > 0 {
		select {
		case <-time.After(b.Delay):
		case <-ctx.Done():
			return nil, rerrors.ErrConnectTimeout
		case <-time.After(timeout):
			return nil, rerrors.ErrConnectTimeout
		}
	}

	if b.Err != nil {
		return nil, b.Err
	}
	if b.Conn != nil {
		return b.Conn, nil
	}

	client, server := net.Pipe()
	go discardReads(server)
	return client, nil
}

func (m *Mock) Read(conn net.Conn, buf []byte) (int, error) {
	return conn.Read(buf)
}

func (m *Mock) WriteAll(conn net.Conn, buf []byte) error {
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

func (m *Mock) Close(conn net.Conn) error {
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// discardReads drains and closes a net.Pipe peer so a Mock-dialed
// connection with no configured Conn does not deadlock callers that
// only care about successfully connecting.
func discardReads(c net.Conn) {
	buf := make([]byte, 4096)
	for {
		if _, err := c.Read(buf); err != nil {
			return
		}
	}
}
