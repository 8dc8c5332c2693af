// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package sockops

import (
	"context"
	"net"
	"testing"
	"time"

	rerrors "github.com/relaydb/sqlrouter/pkg/errors"
)

func TestRealDialSuccess(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		c, err := ln.Accept()
		if err == nil {
			c.Close()
		}
	}()

	var ops Real
	conn, err := ops.Dial(context.Background(), ln.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer conn.Close()
}

func TestRealDialRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	var ops Real
	_, err = ops.Dial(context.Background(), addr, time.Second)
	if err != rerrors.ErrConnectRefused {
		t.Errorf("got %v, want ErrConnectRefused", err)
	}
}

func TestRealDialTimeout(t *testing.T) {
	// 10.255.255.1 is a non-routable address commonly used to exercise
	// connect timeouts without relying on external network state.
	var ops Real
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := ops.Dial(ctx, "10.255.255.1:3306", 10*time.Millisecond)
	if err != rerrors.ErrConnectTimeout && err != rerrors.ErrConnectOther {
		t.Errorf("got %v, want a connect timeout/other classification", err)
	}
}

func TestRealWriteAllShortWrites(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	payload := make([]byte, 4096)
	for i := range payload {
		payload[i] = byte(i)
	}

	done := make(chan error, 1)
	go func() {
		var ops Real
		done <- ops.WriteAll(client, payload)
	}()

	buf := make([]byte, 0, len(payload))
	chunk := make([]byte, 17)
	for len(buf) < len(payload) {
		n, err := server.Read(chunk)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		buf = append(buf, chunk[:n]...)
	}

	if err := <-done; err != nil {
		t.Fatalf("WriteAll: %v", err)
	}
	for i := range payload {
		if buf[i] != payload[i] {
			t.Fatalf("payload mismatch at %d", i)
		}
	}
}

func TestRealClose(t *testing.T) {
	var ops Real
	if err := ops.Close(nil); err != nil {
		t.Errorf("Close(nil) should be a no-op, got %v", err)
	}

	client, server := net.Pipe()
	defer server.Close()
	if err := ops.Close(client); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestMockDialUnconfiguredAddress(t *testing.T) {
	m := NewMock()
	_, err := m.Dial(context.Background(), "10.0.0.9:3306", time.Second)
	if err != rerrors.ErrConnectRefused {
		t.Errorf("got %v, want ErrConnectRefused for unconfigured address", err)
	}
}

func TestMockDialConfiguredError(t *testing.T) {
	m := NewMock()
	m.Set("10.0.0.1:3306", Behavior{Err: rerrors.ErrAddressUnreachable})
	_, err := m.Dial(context.Background(), "10.0.0.1:3306", time.Second)
	if err != rerrors.ErrAddressUnreachable {
		t.Errorf("got %v, want ErrAddressUnreachable", err)
	}
}

func TestMockDialSuccessAndWrite(t *testing.T) {
	m := NewMock()
	m.Set("10.0.0.1:3306", Behavior{})

	conn, err := m.Dial(context.Background(), "10.0.0.1:3306", time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer m.Close(conn)

	if err := m.WriteAll(conn, []byte("hello")); err != nil {
		t.Errorf("WriteAll: %v", err)
	}

	dials := m.Dials()
	if len(dials) != 1 || dials[0] != "10.0.0.1:3306" {
		t.Errorf("got dials %v", dials)
	}
}

func TestMockDialTimeout(t *testing.T) {
	m := NewMock()
	m.Set("10.0.0.1:3306", Behavior{Delay: 50 * time.Millisecond})

	_, err := m.Dial(context.Background(), "10.0.0.1:3306", 5*time.Millisecond)
	if err != rerrors.ErrConnectTimeout {
		t.Errorf("got %v, want ErrConnectTimeout", err)
	}
}
