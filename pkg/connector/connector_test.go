// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package connector

import (
	"context"
	"testing"
	"time"

	"github.com/relaydb/sqlrouter/pkg/destination"
	rerrors "github.com/relaydb/sqlrouter/pkg/errors"
	"github.com/relaydb/sqlrouter/pkg/sockops"
)

type noopQuarantine struct {
	quarantined map[string]bool
	reported    []string
}

func newNoopQuarantine() *noopQuarantine {
	return &noopQuarantine{quarantined: map[string]bool{}}
}

func (q *noopQuarantine) IsEligible(addr string) bool { return !q.quarantined[addr] }
func (q *noopQuarantine) ReportFailure(addr string)   { q.reported = append(q.reported, addr) }

func TestConnectRoundRobinOrder(t *testing.T) {
	set := destination.New()
	set.Add("A", destination.RoleAny)
	set.Add("B", destination.RoleAny)
	set.Add("C", destination.RoleAny)

	ops := sockops.NewMock()
	ops.Set("A", sockops.Behavior{})
	ops.Set("B", sockops.Behavior{})
	ops.Set("C", sockops.Behavior{})

	c := &Connector{Set: set, Quarantine: newNoopQuarantine(), Ops: ops, Timeout: time.Second}

	var order []string
	for i := 0; i < 6; i++ {
		res, err := c.Connect(context.Background(), ModeReadWrite)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		order = append(order, res.Addr)
	}
	want := []string{"A", "B", "C", "A", "B", "C"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestConnectFailoverSkipsDeadNode(t *testing.T) {
	set := destination.New()
	set.Add("P1", destination.RoleAny)
	set.Add("P2", destination.RoleAny)
	set.Add("P3", destination.RoleAny)

	ops := sockops.NewMock()
	ops.Set("P1", sockops.Behavior{Err: rerrors.ErrConnectRefused})
	ops.Set("P2", sockops.Behavior{Err: rerrors.ErrAddressUnreachable})
	ops.Set("P3", sockops.Behavior{})

	q := newNoopQuarantine()
	c := &Connector{Set: set, Quarantine: q, Ops: ops, Timeout: time.Second}

	res, err := c.Connect(context.Background(), ModeReadWrite)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Addr != "P3" {
		t.Fatalf("got %q, want P3", res.Addr)
	}
	if len(q.reported) != 2 {
		t.Fatalf("got %d reported failures, want 2", len(q.reported))
	}
}

func TestConnectNoDestinationsWhenAllFail(t *testing.T) {
	set := destination.New()
	set.Add("A", destination.RoleAny)
	set.Add("B", destination.RoleAny)

	ops := sockops.NewMock()
	ops.Set("A", sockops.Behavior{Err: rerrors.ErrConnectRefused})
	ops.Set("B", sockops.Behavior{Err: rerrors.ErrConnectRefused})

	c := &Connector{Set: set, Quarantine: newNoopQuarantine(), Ops: ops, Timeout: time.Second}

	_, err := c.Connect(context.Background(), ModeReadWrite)
	if err != rerrors.ErrNoDestinations {
		t.Fatalf("got %v, want ErrNoDestinations", err)
	}
}

func TestConnectEmptySet(t *testing.T) {
	c := &Connector{Set: destination.New(), Quarantine: newNoopQuarantine(), Ops: sockops.NewMock(), Timeout: time.Second}
	if _, err := c.Connect(context.Background(), ModeReadWrite); err != rerrors.ErrEmptySet {
		t.Fatalf("got %v, want ErrEmptySet", err)
	}
}

func TestConnectReadOnlyNoEligibleWithoutFallback(t *testing.T) {
	set := destination.New()
	set.Add("RW1", destination.RoleReadWrite)

	c := &Connector{Set: set, Quarantine: newNoopQuarantine(), Ops: sockops.NewMock(), Timeout: time.Second}
	_, err := c.Connect(context.Background(), ModeReadOnly)
	if err != rerrors.ErrNoEligible {
		t.Fatalf("got %v, want ErrNoEligible", err)
	}
}

func TestConnectReadOnlyFallsBackToReadWrite(t *testing.T) {
	set := destination.New()
	set.Add("RW1", destination.RoleReadWrite)

	ops := sockops.NewMock()
	ops.Set("RW1", sockops.Behavior{})

	c := &Connector{
		Set: set, Quarantine: newNoopQuarantine(), Ops: ops, Timeout: time.Second,
		Fallback: FallbackReadWrite,
	}
	res, err := c.Connect(context.Background(), ModeReadOnly)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Addr != "RW1" {
		t.Fatalf("got %q, want RW1", res.Addr)
	}
}

func TestConnectSkipsQuarantined(t *testing.T) {
	set := destination.New()
	set.Add("A", destination.RoleAny)
	set.Add("B", destination.RoleAny)

	ops := sockops.NewMock()
	ops.Set("B", sockops.Behavior{})

	q := newNoopQuarantine()
	q.quarantined["A"] = true

	c := &Connector{Set: set, Quarantine: q, Ops: ops, Timeout: time.Second}
	res, err := c.Connect(context.Background(), ModeReadWrite)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Addr != "B" {
		t.Fatalf("got %q, want B", res.Addr)
	}
}
