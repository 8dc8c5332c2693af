// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package router assembles the per-bind resources (destination set,
// quarantine manager, connector, handler) into running listeners and
// owns their combined lifecycle: start, accept, and a two-phase
// shutdown that drains in-flight sessions before forcing the rest
// closed.
package router

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// ServiceConfig bounds the service's shutdown behavior.
type ServiceConfig struct {
	DrainTimeout time.Duration
	Logger       *slog.Logger
}

// Service owns a set of binds and runs them together under one
// cancellable group, exactly as the teacher's cmd/main.go runs its
// listeners.
type Service struct {
	cfg   ServiceConfig
	binds []*bind
}

// New builds a Service around already-assembled bind configurations.
func New(cfg ServiceConfig, binds []BindConfig) *Service {
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Service{cfg: cfg}
	for _, bc := range binds {
		if bc.Logger == nil {
			bc.Logger = cfg.Logger
		}
		s.binds = append(s.binds, newBind(bc))
	}
	return s
}

// Run opens every bind's listener and serves until ctx is cancelled,
// then runs the two-phase shutdown: stop accepting, drain up to
// DrainTimeout, and report which binds had sessions force-cancelled.
func (s *Service) Run(ctx context.Context) error {
	for _, b := range s.binds {
		if err := b.listen(); err != nil {
			return err
		}
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for _, b := range s.binds {
		b := b
		group.Go(func() error {
			return b.serve(groupCtx)
		})
	}

	<-ctx.Done()
	s.shutdown()

	return group.Wait()
}

// shutdown stops every bind from accepting, then blocks up to
// DrainTimeout waiting for in-flight sessions to finish cleanly.
// Sessions still running past the deadline have their client and
// backend sockets force-closed, so a pump parked in a read unblocks
// immediately instead of waiting out its idle timeout.
func (s *Service) shutdown() {
	for _, b := range s.binds {
		if err := b.close(); err != nil {
			s.cfg.Logger.Warn("error closing listener", "bind", b.cfg.Name, "error", err)
		}
	}

	done := make(chan struct{}, len(s.binds))
	for _, b := range s.binds {
		b := b
		go func() {
			b.drain(s.cfg.DrainTimeout)
			done <- struct{}{}
		}()
	}
	for range s.binds {
		<-done
	}
}

// EligibleDestinations reports, per bind, how many destinations are
// currently eligible for selection — consulted by the health server
// to decide whether the process should report "all binds down".
func (s *Service) EligibleDestinations() map[string]int {
	out := make(map[string]int, len(s.binds))
	for _, b := range s.binds {
		out[b.cfg.Name] = b.eligibleCount()
	}
	return out
}

// StartQuarantineProbes starts each bind's quarantine manager probe
// loop, scoped to ctx.
func (s *Service) StartQuarantineProbes(ctx context.Context) {
	for _, b := range s.binds {
		b := b
		b.cfg.Quarantine.Run(ctx, func(addr string) bool {
			_, err := b.cfg.Set.Get(addr)
			return err == nil
		})
	}
}
