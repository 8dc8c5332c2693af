// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package router

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/relaydb/sqlrouter/pkg/connector"
	"github.com/relaydb/sqlrouter/pkg/destination"
	rerrors "github.com/relaydb/sqlrouter/pkg/errors"
	"github.com/relaydb/sqlrouter/pkg/handler"
	"github.com/relaydb/sqlrouter/pkg/metrics"
	"github.com/relaydb/sqlrouter/pkg/protocol"
	"github.com/relaydb/sqlrouter/pkg/protocol/classic"
	"github.com/relaydb/sqlrouter/pkg/protocol/x"
	"github.com/relaydb/sqlrouter/pkg/quarantine"
	"github.com/relaydb/sqlrouter/pkg/ratelimit"
	"github.com/relaydb/sqlrouter/pkg/session"
	"github.com/relaydb/sqlrouter/pkg/sockops"
)

// BindConfig is everything one listening bind needs, assembled by the
// caller (normally from a config.ResolvedBind) before the service
// starts it.
type BindConfig struct {
	Name           string
	ListenAddress  string
	Mode           connector.Mode
	Fallback       connector.FallbackPolicy
	Protocol       string // "classic" or "x"
	ConnectTimeout time.Duration
	IdleTimeout    time.Duration
	MaxConnections int64
	Deny           []*net.IPNet

	Set        *destination.Set
	Quarantine *quarantine.Manager
	Ops        sockops.Ops
	Handler    handler.Handler
	Limiter    *ratelimit.TokenBucket // nil disables rate limiting
	BlockOnCap bool                   // false sends a capacity error instead of blocking

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// bind owns one listening socket and the resources a session needs to
// be constructed for every accepted client.
type bind struct {
	cfg       BindConfig
	connector *connector.Connector
	sem       *semaphore.Weighted
	listener  net.Listener

	mu       sync.Mutex
	active   map[*session.Session]struct{}
	sessions sync.WaitGroup
}

func newBind(cfg BindConfig) *bind {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	maxConns := cfg.MaxConnections
	if maxConns <= 0 {
		maxConns = 1 << 20 // effectively unbounded
	}
	return &bind{
		cfg:    cfg,
		active: make(map[*session.Session]struct{}),
		sem:    semaphore.NewWeighted(maxConns),
		connector: &connector.Connector{
			Set:        cfg.Set,
			Quarantine: cfg.Quarantine,
			Ops:        cfg.Ops,
			Timeout:    cfg.ConnectTimeout,
			Fallback:   cfg.Fallback,
			Logger:     cfg.Logger,
		},
	}
}

// newInspector builds a fresh handshake inspector for one session,
// chosen by the bind's protocol tag.
func (b *bind) newInspector() protocol.Inspector {
	if b.cfg.Protocol == "x" {
		return x.New()
	}
	return classic.New()
}

// listen opens the bind's listener. Call before serve.
func (b *bind) listen() error {
	l, err := net.Listen("tcp", b.cfg.ListenAddress)
	if err != nil {
		return rerrors.Wrap("router.listen", b.cfg.Name, "", err)
	}
	b.listener = l
	return nil
}

// serve runs the accept loop until ctx is cancelled or the listener is
// closed. It never returns a non-nil error on a clean shutdown.
func (b *bind) serve(ctx context.Context) error {
	b.cfg.Logger.Info("bind listening", "bind", b.cfg.Name, "addr", b.cfg.ListenAddress)

	for {
		conn, err := b.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			var netErr net.Error
			if errors.As(err, &netErr) && !netErr.Timeout() {
				return nil // listener closed underneath us
			}
			b.cfg.Logger.Warn("accept failed", "bind", b.cfg.Name, "error", err)
			continue
		}

		if b.cfg.Limiter != nil && !b.cfg.Limiter.Allow() {
			if b.cfg.Metrics != nil {
				b.cfg.Metrics.RateLimitedAccepts.WithLabelValues(b.cfg.Name).Inc()
			}
			conn.Close()
			continue
		}

		if err := b.acquireOrReject(ctx, conn); err != nil {
			continue
		}

		b.sessions.Add(1)
		go func() {
			defer b.sessions.Done()
			defer b.sem.Release(1)
			b.handleConn(ctx, conn)
		}()
	}
}

// acquireOrReject takes a semaphore permit for conn, or rejects it per
// the bind's capacity policy. It consumes and closes conn itself when
// rejecting.
func (b *bind) acquireOrReject(ctx context.Context, conn net.Conn) error {
	if b.cfg.BlockOnCap {
		if err := b.sem.Acquire(ctx, 1); err != nil {
			conn.Close()
			return err
		}
		return nil
	}

	if b.sem.TryAcquire(1) {
		return nil
	}
	if b.cfg.Metrics != nil {
		b.cfg.Metrics.CapacityRejections.WithLabelValues(b.cfg.Name).Inc()
	}
	writeCapacityError(conn, b.cfg.Protocol)
	conn.Close()
	return rerrors.ErrNoEligible
}

// writeCapacityError sends a protocol-shaped busy response before
// closing a connection rejected for capacity, rather than a bare
// reset, so the client driver reports a clean error.
func writeCapacityError(conn net.Conn, proto string) {
	var pkt []byte
	if proto == "x" {
		pkt = []byte{0x01, 0x00, 0x00, 0x00, 0x00}
	} else {
		pkt = []byte{0x01, 0x00, 0x00, 0x00, 0xff}
	}
	_, _ = conn.Write(pkt)
}

// handleConn runs the ACL pre-selection check, backend selection, and
// the full session lifecycle for one accepted client.
func (b *bind) handleConn(ctx context.Context, client net.Conn) {
	defer client.Close()

	remote := client.RemoteAddr().String()
	hctx := &handler.Context{
		RemoteAddr: remote,
		BindName:   b.cfg.Name,
		Protocol:   b.cfg.Protocol,
	}

	if b.denied(client) {
		if b.cfg.Metrics != nil {
			b.cfg.Metrics.AuthRejected.WithLabelValues(b.cfg.Name, "acl_deny").Inc()
		}
		b.cfg.Logger.Info("client denied by acl", "bind", b.cfg.Name, "remote", remote)
		return
	}

	if b.cfg.Metrics != nil {
		b.cfg.Metrics.AuthAttempts.WithLabelValues(b.cfg.Name, "accept").Inc()
	}
	if err := b.cfg.Handler.AuthAccept(ctx, hctx); err != nil {
		if b.cfg.Metrics != nil {
			b.cfg.Metrics.AuthRejected.WithLabelValues(b.cfg.Name, "accept").Inc()
		}
		b.cfg.Logger.Info("client rejected by handler", "bind", b.cfg.Name, "remote", remote, "error", err)
		return
	}

	result, err := b.connector.Connect(ctx, b.cfg.Mode)
	if err != nil {
		if b.cfg.Metrics != nil {
			b.cfg.Metrics.ConnectionErrors.WithLabelValues(b.cfg.Name, "no_destination").Inc()
		}
		b.cfg.Logger.Warn("backend selection failed", "bind", b.cfg.Name, "remote", remote, "error", err)
		writeNoDestinationsError(b.cfg.Ops, client, b.cfg.Protocol)
		return
	}
	defer result.Conn.Close()

	sessCfg := session.Config{
		BindName:    b.cfg.Name,
		Protocol:    b.cfg.Protocol,
		IdleTimeout: b.cfg.IdleTimeout,
	}
	sess := session.New("", sessCfg, client, result.Conn, b.newInspector(), b.cfg.Ops, b.cfg.Handler, b.cfg.Metrics, b.cfg.Logger)

	b.trackSession(sess)
	defer b.untrackSession(sess)

	var runErr error
	if b.cfg.Metrics != nil {
		runErr = b.cfg.Metrics.ObserveSession(b.cfg.Name, func() error {
			return sess.Run(ctx, result.Addr)
		})
	} else {
		runErr = sess.Run(ctx, result.Addr)
	}
	if runErr != nil && !errors.Is(runErr, io.EOF) {
		b.cfg.Logger.Debug("session ended", "bind", b.cfg.Name, "remote", remote, "error", runErr)
	}
}

// writeNoDestinationsError sends a protocol-level error packet to the
// client when no backend could be reached, rather than a bare close,
// matching the no-destinations response decision recorded for this
// design.
func writeNoDestinationsError(ops sockops.Ops, client net.Conn, proto string) {
	var pkt []byte
	if proto == "x" {
		pkt = []byte{0x01, 0x00, 0x00, 0x00, 0x00}
	} else {
		pkt = []byte{0x01, 0x00, 0x00, 0x00, 0xff}
	}
	_ = ops.WriteAll(client, pkt)
}

// denied reports whether client's remote IP matches the bind's ACL
// deny list.
func (b *bind) denied(client net.Conn) bool {
	if len(b.cfg.Deny) == 0 {
		return false
	}
	host, _, err := net.SplitHostPort(client.RemoteAddr().String())
	if err != nil {
		return false
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	for _, n := range b.cfg.Deny {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// close stops accepting new connections on this bind.
func (b *bind) close() error {
	if b.listener == nil {
		return nil
	}
	return b.listener.Close()
}

// trackSession registers sess as in-flight so drain can force-close it
// if the deadline passes before it finishes on its own.
func (b *bind) trackSession(sess *session.Session) {
	b.mu.Lock()
	b.active[sess] = struct{}{}
	b.mu.Unlock()
}

// untrackSession removes sess once handleConn has returned.
func (b *bind) untrackSession(sess *session.Session) {
	b.mu.Lock()
	delete(b.active, sess)
	b.mu.Unlock()
}

// drain waits up to timeout for active sessions to finish. If the
// deadline passes with sessions still running, it force-closes their
// client and backend sockets so a pump blocked in a read unblocks with
// an error instead of lingering up to its idle timeout.
func (b *bind) drain(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		b.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		b.cfg.Logger.Warn("drain timeout exceeded, force-closing sessions", "bind", b.cfg.Name)
		b.closeActiveSessions()
		<-done
	}
}

// closeActiveSessions force-closes every session still tracked as
// in-flight.
func (b *bind) closeActiveSessions() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sess := range b.active {
		sess.Close()
	}
}

// eligibleCount reports how many of the bind's destinations are
// currently not quarantined, for readiness checks. Access-mode role
// tags are not considered.
func (b *bind) eligibleCount() int {
	entries := b.cfg.Set.Iter()
	n := 0
	for _, e := range entries {
		if !b.cfg.Quarantine.IsEligible(e.Addr) {
			continue
		}
		n++
	}
	return n
}
