// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package router

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/relaydb/sqlrouter/pkg/address"
	"github.com/relaydb/sqlrouter/pkg/config"
	"github.com/relaydb/sqlrouter/pkg/connector"
	"github.com/relaydb/sqlrouter/pkg/destination"
	rerrors "github.com/relaydb/sqlrouter/pkg/errors"
	"github.com/relaydb/sqlrouter/pkg/handler"
	"github.com/relaydb/sqlrouter/pkg/metrics"
	"github.com/relaydb/sqlrouter/pkg/quarantine"
	"github.com/relaydb/sqlrouter/pkg/ratelimit"
	"github.com/relaydb/sqlrouter/pkg/resolver"
	"github.com/relaydb/sqlrouter/pkg/sockops"
)

// Dependencies bundles the collaborators every bind built from
// configuration shares: the socket abstraction, the handler chain,
// the resolver registry for fabric+cache destinations, metrics, and a
// logger.
type Dependencies struct {
	Ops      sockops.Ops
	Handler  handler.Handler
	Resolver *resolver.Registry
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// BuildResult is what Build returns: the bind configurations ready
// for a Service. Each BindConfig carries its own quarantine manager,
// whose probe loop Service.StartQuarantineProbes starts.
type BuildResult struct {
	Binds []BindConfig
}

// Build turns a validated configuration into the bind configurations
// a Service runs, resolving each bind's destination list (literal or
// fabric+cache URI) into a destination.Set and giving it its own
// quarantine manager.
func Build(cfg *config.Config, deps Dependencies) (BuildResult, error) {
	if deps.Ops == nil {
		deps.Ops = sockops.Real{}
	}
	if deps.Handler == nil {
		deps.Handler = &handler.NoopHandler{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	var result BuildResult
	for _, rb := range cfg.Binds {
		bc, err := buildBind(rb, cfg.ProbeInterval, deps)
		if err != nil {
			return BuildResult{}, err
		}
		result.Binds = append(result.Binds, bc)
	}
	return result, nil
}

func buildBind(rb config.ResolvedBind, probeInterval time.Duration, deps Dependencies) (BindConfig, error) {
	set, err := resolveDestinations(rb, deps.Resolver)
	if err != nil {
		return BindConfig{}, rerrors.WrapConfig("router.build_bind", fmt.Errorf("%s: %w", rb.Name, err))
	}

	qm := quarantine.New(quarantine.Config{
		ProbeInterval: probeInterval,
		Logger:        deps.Logger,
	}, deps.Ops)

	mode := connector.ModeReadWrite
	if rb.Mode == "read-only" {
		mode = connector.ModeReadOnly
	}

	var limiter *ratelimit.TokenBucket
	if rb.MaxAcceptsPerSecond > 0 {
		burst := rb.AcceptBurst
		if burst <= 0 {
			burst = rb.MaxAcceptsPerSecond
		}
		limiter = ratelimit.NewTokenBucket(burst, rb.MaxAcceptsPerSecond)
	}

	return BindConfig{
		Name:           rb.Name,
		ListenAddress:  rb.Address.String(),
		Mode:           mode,
		Fallback:       connector.FallbackReadWrite,
		Protocol:       rb.Protocol,
		ConnectTimeout: rb.ConnectTimeout,
		IdleTimeout:    rb.WaitTimeout,
		MaxConnections: int64(rb.MaxConnections),
		Deny:           rb.Deny,
		BlockOnCap:     !rb.RejectOnCapacity,
		Limiter:        limiter,
		Set:            set,
		Quarantine:     qm,
		Ops:            deps.Ops,
		Handler:        deps.Handler,
		Metrics:        deps.Metrics,
		Logger:         deps.Logger,
	}, nil
}

// resolveDestinations builds a destination.Set from a bind's
// configured destination string, either a literal comma list (tagged
// RoleAny) or a fabric+cache URI resolved through the named-cache
// registry (tagged by each member's ReadOnly flag).
func resolveDestinations(rb config.ResolvedBind, reg *resolver.Registry) (*destination.Set, error) {
	set := destination.New()

	if !rb.IsResolverURI {
		addrs, err := address.ParseList(rb.Destinations, address.DefaultPort(rb.Protocol))
		if err != nil {
			return nil, err
		}
		for _, a := range addrs {
			set.Add(a.String(), destination.RoleAny)
		}
		return set, nil
	}

	if reg == nil {
		return nil, fmt.Errorf("destinations %q requires a resolver registry", rb.Destinations)
	}
	uri, err := address.ParseURI(rb.Destinations)
	if err != nil {
		return nil, err
	}
	members, err := reg.LookupGroup(uri.CacheName, uri.Group)
	if err != nil {
		return nil, err
	}
	for _, m := range members {
		role := destination.RoleReadWrite
		if m.ReadOnly {
			role = destination.RoleReadOnly
		}
		set.Add(m.Addr, role)
	}
	return set, nil
}
