// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package handler

import (
	"context"
	"errors"
	"testing"
)

func TestNoopHandler(t *testing.T) {
	h := &NoopHandler{}
	ctx := context.Background()
	hctx := &Context{SessionID: "test-session", RemoteAddr: "127.0.0.1:1234", Protocol: "classic"}

	tests := []struct {
		name string
		fn   func() error
	}{
		{"AuthAccept", func() error { return h.AuthAccept(ctx, hctx) }},
		{"AuthBackend", func() error { return h.AuthBackend(ctx, hctx) }},
		{"OnHandshakeDone", func() error { return h.OnHandshakeDone(ctx, hctx) }},
		{"OnDisconnect", func() error { return h.OnDisconnect(ctx, hctx, nil) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); err != nil {
				t.Errorf("%s() returned error: %v", tt.name, err)
			}
		})
	}
}

// MockHandler is a configurable Handler used by router tests.
type MockHandler struct {
	AcceptErr  error
	BackendErr error

	AcceptCalled     bool
	BackendCalled    bool
	HandshakeCalled  bool
	DisconnectCalled bool
	LastDisconnectErr error
}

var _ Handler = (*MockHandler)(nil)

func (m *MockHandler) AuthAccept(ctx context.Context, hctx *Context) error {
	m.AcceptCalled = true
	return m.AcceptErr
}

func (m *MockHandler) AuthBackend(ctx context.Context, hctx *Context) error {
	m.BackendCalled = true
	return m.BackendErr
}

func (m *MockHandler) OnHandshakeDone(ctx context.Context, hctx *Context) error {
	m.HandshakeCalled = true
	return nil
}

func (m *MockHandler) OnDisconnect(ctx context.Context, hctx *Context, err error) error {
	m.DisconnectCalled = true
	m.LastDisconnectErr = err
	return nil
}

func TestMockHandlerRejectsOnAccept(t *testing.T) {
	m := &MockHandler{AcceptErr: errors.New("blocked by acl")}
	ctx := context.Background()
	hctx := &Context{SessionID: "s1", RemoteAddr: "10.0.0.9:4512"}

	if err := m.AuthAccept(ctx, hctx); err == nil {
		t.Error("expected AuthAccept to reject")
	}
	if !m.AcceptCalled {
		t.Error("expected AcceptCalled to be true")
	}
}

func TestMockHandlerNotifications(t *testing.T) {
	m := &MockHandler{}
	ctx := context.Background()
	hctx := &Context{SessionID: "s1"}

	if err := m.AuthBackend(ctx, hctx); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if !m.BackendCalled {
		t.Error("expected BackendCalled to be true")
	}

	if err := m.OnHandshakeDone(ctx, hctx); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if !m.HandshakeCalled {
		t.Error("expected HandshakeCalled to be true")
	}

	sessionErr := errors.New("peer closed")
	if err := m.OnDisconnect(ctx, hctx, sessionErr); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if !m.DisconnectCalled || m.LastDisconnectErr != sessionErr {
		t.Errorf("expected disconnect notified with %v, got %v", sessionErr, m.LastDisconnectErr)
	}
}
