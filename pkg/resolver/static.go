// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package resolver

// Static is a Resolver backed by a fixed, in-memory group/shard
// membership table, used for tests and for configuration that favors
// a literal list over a live discovery backend.
type Static struct {
	Groups map[string][]Member
	Shards map[string][]Member // keyed by table+"/"+shardKey
}

var _ Resolver = (*Static)(nil)

func (s *Static) LookupGroup(groupID string) ([]Member, error) {
	members, ok := s.Groups[groupID]
	if !ok {
		return nil, ErrUnknownGroup
	}
	return members, nil
}

func (s *Static) LookupShard(table, shardKey string) ([]Member, error) {
	members, ok := s.Shards[table+"/"+shardKey]
	if !ok {
		return nil, ErrUnknownGroup
	}
	return members, nil
}
