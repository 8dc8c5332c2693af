// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package session owns one client connection and one backend
// connection for the life of a routed request: it drives the
// handshake inspector until the connection settles, then relays bytes
// in both directions until either side closes or the session is
// cancelled.
package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	rerrors "github.com/relaydb/sqlrouter/pkg/errors"
	"github.com/relaydb/sqlrouter/pkg/handler"
	"github.com/relaydb/sqlrouter/pkg/metrics"
	"github.com/relaydb/sqlrouter/pkg/protocol"
	"github.com/relaydb/sqlrouter/pkg/sockops"
)

// Config bounds a session's behavior.
type Config struct {
	BindName    string
	Protocol    string
	BufferSize  int
	IdleTimeout time.Duration
}

// Session owns exactly one client net.Conn and one backend net.Conn.
type Session struct {
	ID   string
	cfg  Config
	ops  sockops.Ops
	insp protocol.Inspector
	h    handler.Handler
	m    *metrics.Metrics
	log  *slog.Logger

	client net.Conn
	server net.Conn

	mu           sync.Mutex // guards insp across the two handshake pumps
	handshakeDone atomic.Bool

	bytesUp   atomic.Int64
	bytesDown atomic.Int64
}

// New builds a Session around an already-dialed backend connection.
func New(id string, cfg Config, client, server net.Conn, insp protocol.Inspector, ops sockops.Ops, h handler.Handler, m *metrics.Metrics, log *slog.Logger) *Session {
	if id == "" {
		id = uuid.New().String()
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 16 * 1024
	}
	if log == nil {
		log = slog.Default()
	}
	return &Session{
		ID: id, cfg: cfg, client: client, server: server,
		insp: insp, ops: ops, h: h, m: m, log: log,
	}
}

// Run drives the session to completion: an ACL check against the
// selected backend, the handshake phase, then the relay phase. It
// returns once both directions have finished or the session is
// cancelled or aborted by a protocol or ACL error.
func (s *Session) Run(ctx context.Context, backendAddr string) error {
	hctx := &handler.Context{
		SessionID:   s.ID,
		RemoteAddr:  s.client.RemoteAddr().String(),
		BindName:    s.cfg.BindName,
		Protocol:    s.cfg.Protocol,
		BackendAddr: backendAddr,
	}

	if err := s.h.AuthBackend(ctx, hctx); err != nil {
		s.blockClient(hctx)
		blockErr := rerrors.Wrap("session.auth_backend", s.cfg.BindName, s.ID, rerrors.ErrClientBlocked)
		if notifyErr := s.h.OnDisconnect(ctx, hctx, blockErr); notifyErr != nil {
			s.log.Warn("disconnect hook failed", "session", s.ID, "error", notifyErr)
		}
		return blockErr
	}

	runErr := s.handshakeAndRelay(ctx)

	if s.handshakeDone.Load() {
		if err := s.h.OnHandshakeDone(ctx, hctx); err != nil {
			s.log.Warn("handshake-done hook failed", "session", s.ID, "error", err)
		}
	}
	if err := s.h.OnDisconnect(ctx, hctx, runErr); err != nil {
		s.log.Warn("disconnect hook failed", "session", s.ID, "error", err)
	}

	s.client.Close()
	s.server.Close()

	if s.m != nil {
		s.m.BytesUp.WithLabelValues(s.cfg.BindName).Add(float64(s.bytesUp.Load()))
		s.m.BytesDown.WithLabelValues(s.cfg.BindName).Add(float64(s.bytesDown.Load()))
	}

	return runErr
}

// Close force-closes both of the session's sockets. It unblocks any
// pump currently parked in Read, letting Run return even though
// IdleTimeout has not elapsed. Safe to call concurrently with Run.
func (s *Session) Close() {
	s.client.Close()
	s.server.Close()
}

// blockClient sends a canned failure response to the backend so no
// client credentials leak across it, then closes both the backend and
// the client socket.
func (s *Session) blockClient(hctx *handler.Context) {
	fake := cannedRejection()
	if err := s.ops.WriteAll(s.server, fake); err != nil {
		s.log.Debug("failed writing canned rejection to backend", "session", s.ID, "error", err)
	}
	s.server.Close()
	s.client.Close()
}

// cannedRejection is a minimal handshake-response-shaped payload used
// to close a backend connection cleanly when a session is blocked
// post-selection, without echoing any real client credentials.
func cannedRejection() []byte {
	return []byte{0x00, 0x00, 0x00, 0x01}
}

// handshakeAndRelay runs two pumps, one per direction. Each pump
// drives the shared Inspector (under mu) until the handshake settles,
// then becomes a plain byte copier for the rest of the connection.
func (s *Session) handshakeAndRelay(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() { errCh <- s.pump(ctx, s.client, s.server, false, &s.bytesUp) }()
	go func() { errCh <- s.pump(ctx, s.server, s.client, true, &s.bytesDown) }()

	var first error
	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil && first == nil {
			first = err
			cancel()
		}
	}
	return first
}

// pump reads from src and writes to dst until EOF, a read/write
// error, idle timeout, or cancellation. While the handshake is not
// yet settled it routes every read through the shared Inspector.
func (s *Session) pump(ctx context.Context, src, dst net.Conn, fromServer bool, counter *atomic.Int64) error {
	buf := make([]byte, s.cfg.BufferSize)
	for {
		select {
		case <-ctx.Done():
			return rerrors.ErrCancelled
		default:
		}

		if s.cfg.IdleTimeout > 0 {
			src.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		}

		n, err := s.ops.Read(src, buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return rerrors.ErrIdleTimeout
			}
			return rerrors.ErrPeerClosed
		}
		if n == 0 {
			continue
		}

		if !s.handshakeDone.Load() {
			s.mu.Lock()
			outcome, inspErr := s.insp.Inspect(buf, n, fromServer)
			done := s.insp.Done()
			s.mu.Unlock()

			if inspErr != nil {
				if s.m != nil {
					s.m.HandshakeErrors.WithLabelValues(s.cfg.BindName, inspErr.Error()).Inc()
				}
				return rerrors.Wrap("session.handshake", s.cfg.BindName, s.ID, inspErr)
			}
			if done {
				s.handshakeDone.Store(true)
			}
			if outcome.TLS && s.m != nil {
				s.m.TLSUpgrades.WithLabelValues(s.cfg.BindName).Inc()
			}
			if !outcome.Forward {
				continue
			}
		}

		if err := s.ops.WriteAll(dst, buf[:n]); err != nil {
			return rerrors.ErrIO
		}
		counter.Add(int64(n))
	}
}
