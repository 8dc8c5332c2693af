// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package router

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/relaydb/sqlrouter/pkg/connector"
	"github.com/relaydb/sqlrouter/pkg/destination"
	"github.com/relaydb/sqlrouter/pkg/handler"
	"github.com/relaydb/sqlrouter/pkg/quarantine"
	"github.com/relaydb/sqlrouter/pkg/sockops"
)

// echoBackend starts a backend listener that echoes whatever it
// receives, returning its address and a close func.
func echoBackend(t *testing.T) (string, func()) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to start echo backend: %v", err)
	}
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				buf := make([]byte, 4096)
				for {
					n, err := conn.Read(buf)
					if err != nil {
						return
					}
					if _, err := conn.Write(buf[:n]); err != nil {
						return
					}
				}
			}()
		}
	}()
	return l.Addr().String(), func() { l.Close() }
}

func testBindConfig(t *testing.T, name, backendAddr string) BindConfig {
	t.Helper()
	set := destination.New()
	set.Add(backendAddr, destination.RoleAny)

	return BindConfig{
		Name:           name,
		ListenAddress:  "127.0.0.1:0",
		Mode:           connector.ModeReadWrite,
		Protocol:       "classic",
		ConnectTimeout: time.Second,
		MaxConnections: 4,
		BlockOnCap:     true,
		Set:            set,
		Quarantine:     quarantine.New(quarantine.Config{}, sockops.Real{}),
		Ops:            sockops.Real{},
		Handler:        &handler.NoopHandler{},
	}
}

func TestServiceAcceptsAndRelays(t *testing.T) {
	backendAddr, closeBackend := echoBackend(t)
	defer closeBackend()

	bc := testBindConfig(t, "bind-0", backendAddr)
	b := newBind(bc)
	if err := b.listen(); err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer b.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.serve(ctx)

	conn, err := net.Dial("tcp", b.listener.Addr().String())
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	// A seq-1 client handshake response with CLIENT_SSL set settles the
	// classic inspector at once, so the echoed bytes relay untouched.
	msg := []byte{0x04, 0x00, 0x00, 0x01, 0x00, 0x08, 0x00, 0x00}
	if _, err := conn.Write(msg); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	buf := make([]byte, len(msg))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := conn.Read(buf); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	for i := range msg {
		if buf[i] != msg[i] {
			t.Fatalf("got %v, want echo of %v", buf, msg)
		}
	}
}

func TestServiceCapacityRejection(t *testing.T) {
	backendAddr, closeBackend := echoBackend(t)
	defer closeBackend()

	bc := testBindConfig(t, "bind-cap", backendAddr)
	bc.MaxConnections = 1
	bc.BlockOnCap = false
	b := newBind(bc)
	if err := b.listen(); err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer b.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.serve(ctx)

	first, err := net.Dial("tcp", b.listener.Addr().String())
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer first.Close()

	time.Sleep(50 * time.Millisecond) // let the first accept claim the permit

	second, err := net.Dial("tcp", b.listener.Addr().String())
	if err != nil {
		t.Fatalf("second dial failed: %v", err)
	}
	defer second.Close()

	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 5)
	n, err := second.Read(buf)
	if n == 0 && err == nil {
		t.Fatal("expected either a capacity error packet or a closed connection")
	}
	if n > 0 {
		want := []byte{0x01, 0x00, 0x00, 0x00, 0xff}
		if n != len(want) || !bytes.Equal(buf[:n], want) {
			t.Fatalf("got capacity error packet %v, want %v", buf[:n], want)
		}
	}
}

func TestBindDrainForceClosesBlockedSession(t *testing.T) {
	backendAddr, closeBackend := echoBackend(t)
	defer closeBackend()

	bc := testBindConfig(t, "bind-block", backendAddr)
	b := newBind(bc)
	if err := b.listen(); err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer b.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.serve(ctx)

	conn, err := net.Dial("tcp", b.listener.Addr().String())
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	time.Sleep(50 * time.Millisecond) // let handleConn start a session blocked in its first Read

	b.close()

	drained := make(chan struct{})
	go func() {
		b.drain(200 * time.Millisecond)
		close(drained)
	}()

	select {
	case <-drained:
	case <-time.After(2 * time.Second):
		t.Fatal("drain never returned; the blocked session's sockets were not force-closed")
	}

	conn.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 1)
	if _, err := conn.Read(buf); err == nil {
		t.Fatal("expected the client socket to be closed by the forced drain")
	}
}

func TestServiceTwoPhaseShutdown(t *testing.T) {
	backendAddr, closeBackend := echoBackend(t)
	defer closeBackend()

	svc := New(ServiceConfig{DrainTimeout: 500 * time.Millisecond}, []BindConfig{
		testBindConfig(t, "bind-0", backendAddr),
	})

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- svc.Run(ctx) }()

	time.Sleep(100 * time.Millisecond) // let the listener open

	cancel()

	select {
	case err := <-runErr:
		if err != nil {
			t.Fatalf("unexpected shutdown error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("service did not shut down in time")
	}
}
