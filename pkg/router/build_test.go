// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package router

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/relaydb/sqlrouter/pkg/config"
	"github.com/relaydb/sqlrouter/pkg/resolver"
)

func writeTempConfig(t *testing.T, content string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "router.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed writing temp config: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("failed loading config: %v", err)
	}
	return cfg
}

func TestBuildLiteralDestinations(t *testing.T) {
	cfg := writeTempConfig(t, `
binds:
  - bind_address: "127.0.0.1:6446"
    mode: read-write
    destinations: "10.0.0.1:3306,10.0.0.2:3306"
    protocol: classic
`)

	result, err := Build(cfg, Dependencies{})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(result.Binds) != 1 {
		t.Fatalf("got %d binds, want 1", len(result.Binds))
	}
	bc := result.Binds[0]
	if bc.Set.Len() != 2 {
		t.Fatalf("got %d destinations, want 2", bc.Set.Len())
	}
	if !bc.BlockOnCap {
		t.Error("expected BlockOnCap to default true when reject_on_capacity is unset")
	}
}

func TestBuildRejectOnCapacity(t *testing.T) {
	cfg := writeTempConfig(t, `
binds:
  - bind_address: "127.0.0.1:6447"
    mode: read-write
    destinations: "10.0.0.1:3306"
    reject_on_capacity: true
`)

	result, err := Build(cfg, Dependencies{})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if result.Binds[0].BlockOnCap {
		t.Error("expected BlockOnCap to be false when reject_on_capacity is true")
	}
}

func TestBuildAcceptRateLimitWiresLimiter(t *testing.T) {
	cfg := writeTempConfig(t, `
binds:
  - bind_address: "127.0.0.1:6450"
    mode: read-write
    destinations: "10.0.0.1:3306"
    max_accepts_per_second: 50
    accept_burst: 100
`)

	result, err := Build(cfg, Dependencies{})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	bc := result.Binds[0]
	if bc.Limiter == nil {
		t.Fatal("expected a non-nil Limiter when max_accepts_per_second is set")
	}
	if got := bc.Limiter.Available(); got != 100 {
		t.Fatalf("got %d available tokens, want accept_burst=100", got)
	}
}

func TestBuildNoRateLimitByDefault(t *testing.T) {
	cfg := writeTempConfig(t, `
binds:
  - bind_address: "127.0.0.1:6451"
    mode: read-write
    destinations: "10.0.0.1:3306"
`)

	result, err := Build(cfg, Dependencies{})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if result.Binds[0].Limiter != nil {
		t.Error("expected a nil Limiter when max_accepts_per_second is unset")
	}
}

func TestBuildResolverURIWithoutRegistryFails(t *testing.T) {
	cfg := writeTempConfig(t, `
binds:
  - bind_address: "127.0.0.1:6448"
    mode: read-write
    destinations: "fabric+cache://prod/group/shard-1"
`)

	if _, err := Build(cfg, Dependencies{}); err == nil {
		t.Fatal("expected an error when no resolver registry is provided for a resolver URI")
	}
}

func TestBuildResolverURIWithRegistry(t *testing.T) {
	cfg := writeTempConfig(t, `
binds:
  - bind_address: "127.0.0.1:6449"
    mode: read-write
    destinations: "fabric+cache://prod/group/shard-1"
`)

	reg := resolver.NewRegistry()
	reg.Init("prod", &resolver.Static{
		Groups: map[string][]resolver.Member{
			"shard-1": {
				{Addr: "10.0.1.1:3306", ReadOnly: false},
				{Addr: "10.0.1.2:3306", ReadOnly: true},
			},
		},
	})

	result, err := Build(cfg, Dependencies{Resolver: reg})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if result.Binds[0].Set.Len() != 2 {
		t.Fatalf("got %d destinations, want 2", result.Binds[0].Set.Len())
	}
}
