// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package connector implements backend selection: walking a
// destination set's eligible entries in round-robin order, skipping
// quarantined and mode-ineligible addresses, until one accepts a
// connection or the candidates are exhausted.
package connector

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/relaydb/sqlrouter/pkg/destination"
	rerrors "github.com/relaydb/sqlrouter/pkg/errors"
	"github.com/relaydb/sqlrouter/pkg/sockops"
)

// Mode selects which destination role is eligible for a connect
// attempt.
type Mode int

const (
	ModeReadWrite Mode = iota
	ModeReadOnly
)

// FallbackPolicy controls what happens when a read-only selection
// finds no read-only-tagged destinations.
type FallbackPolicy int

const (
	// FallbackNone returns ErrNoEligible when the role subset is empty.
	FallbackNone FallbackPolicy = iota
	// FallbackReadWrite falls back to the read-write subset.
	FallbackReadWrite
)

// Quarantine is the capability the connector needs from the
// quarantine manager: eligibility checks and failure reporting.
type Quarantine interface {
	IsEligible(addr string) bool
	ReportFailure(addr string)
}

// Connector walks a destination set's eligible entries and returns
// the first live connection.
type Connector struct {
	Set        *destination.Set
	Quarantine Quarantine
	Ops        sockops.Ops
	Timeout    time.Duration
	Fallback   FallbackPolicy
	Logger     *slog.Logger
}

// Result is a successful connect outcome.
type Result struct {
	Conn net.Conn
	Addr string
}

// Connect attempts to reach an eligible destination for mode,
// returning the first successful connection. Candidates are visited
// starting at the set's current round-robin cursor, which advances
// once for every slot visited: once per connect attempt regardless of
// outcome, and once more for each ineligible or quarantined slot that
// is skipped without a connect attempt.
func (c *Connector) Connect(ctx context.Context, mode Mode) (Result, error) {
	entries := c.Set.Iter()
	if len(entries) == 0 {
		return Result{}, rerrors.ErrEmptySet
	}

	eligible := c.eligibleIndices(entries, mode)
	if len(eligible) == 0 {
		if mode == ModeReadOnly && c.Fallback == FallbackReadWrite {
			eligible = c.eligibleIndices(entries, ModeReadWrite)
		}
		if len(eligible) == 0 {
			return Result{}, rerrors.ErrNoEligible
		}
	}

	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var attempts error
	tried := 0
	// At most len(entries) cursor advances are needed to visit every
	// eligible candidate once, since the cursor walks the full vector
	// and eligible is a subset of it.
	for i := 0; i < len(entries) && tried < len(eligible); i++ {
		cursor, err := c.Set.NextIndex()
		if err != nil {
			return Result{}, err
		}
		slot := cursor % len(entries)
		if !containsIndex(eligible, slot) {
			continue
		}
		tried++
		addr := entries[slot].Addr

		conn, dialErr := c.Ops.Dial(ctx, addr, c.Timeout)
		if dialErr == nil {
			return Result{Conn: conn, Addr: addr}, nil
		}

		logger.Debug("failed connecting to destination", "addr", addr, "error", dialErr)
		c.Quarantine.ReportFailure(addr)
		attempts = multierror.Append(attempts, rerrors.Wrap("connect", addr, "", dialErr))
	}

	if attempts != nil {
		logger.Debug("no destination accepted a connection", "error", attempts)
	}
	return Result{}, rerrors.ErrNoDestinations
}

func (c *Connector) eligibleIndices(entries []destination.Entry, mode Mode) []int {
	var wantRole destination.Role
	switch mode {
	case ModeReadOnly:
		wantRole = destination.RoleReadOnly
	default:
		wantRole = destination.RoleReadWrite
	}

	var out []int
	for i, e := range entries {
		if e.Role != destination.RoleAny && e.Role != wantRole {
			continue
		}
		if !c.Quarantine.IsEligible(e.Addr) {
			continue
		}
		out = append(out, i)
	}
	return out
}

func containsIndex(set []int, v int) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
