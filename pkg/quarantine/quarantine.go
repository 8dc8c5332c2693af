// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package quarantine tracks backends that have recently failed to
// connect and periodically probes them so they can rejoin the
// eligible set without operator intervention.
package quarantine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"

	"github.com/relaydb/sqlrouter/pkg/breaker"
	"github.com/relaydb/sqlrouter/pkg/sockops"
)

// Config controls probe cadence and per-probe connect timeout.
type Config struct {
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration
	Clock         clockwork.Clock
	Logger        *slog.Logger
}

// Manager is the quarantine map plus its background probe loop. Per
// the flat quarantine policy, an address is either fully eligible or
// fully quarantined: it is modeled as a circuit breaker with
// MaxFailures=1 and SuccessThreshold=1, so a single failed connect
// evicts it and a single successful probe restores it.
type Manager struct {
	cfg Config
	ops sockops.Ops

	mu      sync.Mutex
	entries map[string]*breaker.CircuitBreaker

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New builds a Manager. ops is used by the background probe loop to
// attempt reconnects; it is never called while the entries mutex is
// held.
func New(cfg Config, ops sockops.Ops) *Manager {
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 500 * time.Millisecond
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		cfg:     cfg,
		ops:     ops,
		entries: make(map[string]*breaker.CircuitBreaker),
	}
}

// ReportFailure evicts addr from the eligible set. Reporting an
// already-quarantined address is a no-op: first_failure_time, tracked
// implicitly by the breaker's open-state transition, is left
// untouched.
func (m *Manager) ReportFailure(addr string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[addr]; ok {
		return
	}
	cb := breaker.New(breaker.Config{
		MaxFailures:      1,
		SuccessThreshold: 1,
		ResetTimeout:     m.cfg.ProbeInterval,
		Timeout:          m.cfg.ProbeTimeout,
		Clock:            m.cfg.Clock,
	})
	cb.Call(func() error { return errConnectFailed })
	m.entries[addr] = cb
	m.cfg.Logger.Debug("quarantined destination", "addr", addr)
}

var errConnectFailed = &quarantineSeedError{}

type quarantineSeedError struct{}

func (*quarantineSeedError) Error() string { return "connect failed" }

// IsEligible reports whether addr is currently eligible for
// selection, i.e. not quarantined.
func (m *Manager) IsEligible(addr string) bool {
	m.mu.Lock()
	cb, ok := m.entries[addr]
	m.mu.Unlock()
	if !ok {
		return true
	}
	return cb.State() != breaker.StateOpen
}

// Forget removes addr's entry immediately, used when the underlying
// destination is removed from its set so the probe loop stops
// carrying a stale entry past one cycle.
func (m *Manager) Forget(addr string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, addr)
}

// Run starts the background probe loop. It returns immediately; call
// Shutdown to stop it. member reports whether addr is still part of
// the owning destination set, used to garbage-collect entries for
// addresses removed from underneath the quarantine manager.
func (m *Manager) Run(ctx context.Context, member func(addr string) bool) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	ticker := backoff.NewTicker(backoff.NewConstantBackOff(m.cfg.ProbeInterval))
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ticker.C:
				if !ok {
					return
				}
				m.probeOnce(ctx, member)
			}
		}
	}()
}

// probeOnce attempts a reconnect against every currently quarantined
// address. It never holds m.mu while blocked on I/O: the candidate
// list is copied out, then each dial happens outside the lock.
func (m *Manager) probeOnce(ctx context.Context, member func(addr string) bool) {
	m.mu.Lock()
	candidates := make([]string, 0, len(m.entries))
	for addr := range m.entries {
		candidates = append(candidates, addr)
	}
	m.mu.Unlock()

	for _, addr := range candidates {
		if member != nil && !member(addr) {
			m.Forget(addr)
			continue
		}

		m.mu.Lock()
		_, ok := m.entries[addr]
		m.mu.Unlock()
		if !ok {
			continue
		}

		conn, dialErr := m.ops.Dial(ctx, addr, m.cfg.ProbeTimeout)
		if dialErr != nil {
			continue
		}
		_ = m.ops.Close(conn)
		m.mu.Lock()
		delete(m.entries, addr)
		m.mu.Unlock()
		m.cfg.Logger.Info("destination rejoined eligible set", "addr", addr)
	}
}

// Shutdown cancels the probe loop and waits for it to exit.
func (m *Manager) Shutdown() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// Snapshot returns the addresses currently quarantined, for metrics
// and health reporting.
func (m *Manager) Snapshot() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.entries))
	for addr := range m.entries {
		out = append(out, addr)
	}
	return out
}
