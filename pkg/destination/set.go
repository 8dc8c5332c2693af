// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package destination holds the ordered, round-robin backend set each
// bind routes against. A Set is mutated rarely (add/remove from config
// reload or resolver refresh) and read constantly (every connect
// attempt), so mutation builds a new immutable snapshot and swaps it
// atomically rather than holding a lock across reads.
package destination

import (
	"sync"
	"sync/atomic"

	rerrors "github.com/relaydb/sqlrouter/pkg/errors"
)

// Role tags a destination for access-mode filtering.
type Role int

const (
	// RoleAny marks a destination eligible regardless of access mode,
	// the tag given to literal (non-resolved) destination lists.
	RoleAny Role = iota
	RoleReadWrite
	RoleReadOnly
)

// Entry pairs an Address with the role it was added under.
type Entry struct {
	Addr string
	Role Role
}

// snapshot is the immutable backing array a Set swaps atomically on
// mutation. The cursor lives outside the snapshot so it survives
// add/remove without resetting round-robin fairness.
type snapshot struct {
	entries []Entry
}

// Set is an ordered, concurrently-readable sequence of destinations
// with a monotonically advancing round-robin cursor.
type Set struct {
	mu   sync.Mutex // guards mutation of snap
	snap atomic.Pointer[snapshot]
	cur  atomic.Uint64
}

// New builds an empty Set.
func New() *Set {
	s := &Set{}
	s.snap.Store(&snapshot{})
	return s
}

// Add appends addr with the given role if not already present by
// host+port equality. Returns false if addr was already present.
func (s *Set) Add(addr string, role Role) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.snap.Load()
	for _, e := range cur.entries {
		if e.Addr == addr {
			return false
		}
	}

	next := make([]Entry, len(cur.entries)+1)
	copy(next, cur.entries)
	next[len(cur.entries)] = Entry{Addr: addr, Role: role}
	s.snap.Store(&snapshot{entries: next})
	return true
}

// Remove deletes the first entry matching addr. The cursor is
// reconciled so it continues to point at the same logical successor:
// if the removed index was before the cursor's position, the cursor is
// decremented by one; the result is taken mod the new length.
func (s *Set) Remove(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.snap.Load()
	idx := -1
	for i, e := range cur.entries {
		if e.Addr == addr {
			idx = i
			break
		}
	}
	if idx == -1 {
		return rerrors.ErrNotFound
	}

	next := make([]Entry, 0, len(cur.entries)-1)
	next = append(next, cur.entries[:idx]...)
	next = append(next, cur.entries[idx+1:]...)
	s.snap.Store(&snapshot{entries: next})

	if len(next) == 0 {
		s.cur.Store(0)
		return nil
	}
	pos := s.cur.Load() % uint64(len(cur.entries))
	if uint64(idx) < pos {
		pos--
	}
	s.cur.Store(pos % uint64(len(next)))
	return nil
}

// Get returns the entry matching addr, or ErrNotFound.
func (s *Set) Get(addr string) (Entry, error) {
	cur := s.snap.Load()
	for _, e := range cur.entries {
		if e.Addr == addr {
			return e, nil
		}
	}
	return Entry{}, rerrors.ErrNotFound
}

// Len returns the current size of the set.
func (s *Set) Len() int {
	return len(s.snap.Load().entries)
}

// Iter returns a snapshot slice of the current sequence. The returned
// slice must not be mutated by callers.
func (s *Set) Iter() []Entry {
	return s.snap.Load().entries
}

// NextIndex atomically returns and advances the round-robin cursor
// modulo the current size. Fails with ErrEmptySet if the set is
// empty. The index is reduced modulo the size seen at call time, so it
// can be out of range for a snapshot taken after a concurrent Remove.
func (s *Set) NextIndex() (int, error) {
	n := uint64(s.Len())
	if n == 0 {
		return 0, rerrors.ErrEmptySet
	}
	v := s.cur.Add(1) - 1
	return int(v % n), nil
}

// Clear empties the set and resets the cursor.
func (s *Set) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Store(&snapshot{})
	s.cur.Store(0)
}
