// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package proxy provides single-bind coordinators that wire a
// destination set, quarantine manager, and router bind together
// around a literal destination list, for callers that want one bind
// without assembling a full YAML configuration document. Package
// config remains the entry point for multi-bind deployments.
package proxy

import (
	"context"
	"log/slog"
	"time"

	"github.com/relaydb/sqlrouter/pkg/address"
	"github.com/relaydb/sqlrouter/pkg/connector"
	"github.com/relaydb/sqlrouter/pkg/destination"
	rerrors "github.com/relaydb/sqlrouter/pkg/errors"
	"github.com/relaydb/sqlrouter/pkg/handler"
	"github.com/relaydb/sqlrouter/pkg/quarantine"
	"github.com/relaydb/sqlrouter/pkg/router"
	"github.com/relaydb/sqlrouter/pkg/sockops"
)

// singleBindConfig is the shared shape behind ClassicConfig and
// XConfig.
type singleBindConfig struct {
	Host            string
	Port            string
	Protocol        string
	DefaultPort     uint16
	Destinations    []string
	ReadOnly        bool
	ConnectTimeout  time.Duration
	IdleTimeout     time.Duration
	MaxConnections  int64
	ProbeInterval   time.Duration
	ShutdownTimeout time.Duration
	Logger          *slog.Logger
}

// singleBind is the coordinator both ClassicProxy and XProxy embed:
// one router.Service with exactly one bind, plus the quarantine
// manager whose probe loop must run alongside it.
type singleBind struct {
	svc *router.Service
	qm  *quarantine.Manager
}

func newSingleBind(cfg singleBindConfig, h handler.Handler) (*singleBind, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if h == nil {
		h = &handler.NoopHandler{}
	}
	if len(cfg.Destinations) == 0 {
		return nil, rerrors.ErrMissingOption
	}

	set := destination.New()
	for _, d := range cfg.Destinations {
		addr, err := address.Parse(d, cfg.DefaultPort)
		if err != nil {
			return nil, err
		}
		set.Add(addr.String(), destination.RoleAny)
	}

	bindAddr, err := address.Parse(cfg.Host+":"+cfg.Port, cfg.DefaultPort)
	if err != nil {
		return nil, err
	}

	ops := sockops.Real{}
	qm := quarantine.New(quarantine.Config{
		ProbeInterval: cfg.ProbeInterval,
		Logger:        cfg.Logger,
	}, ops)

	mode := connector.ModeReadWrite
	if cfg.ReadOnly {
		mode = connector.ModeReadOnly
	}

	svc := router.New(router.ServiceConfig{
		DrainTimeout: cfg.ShutdownTimeout,
		Logger:       cfg.Logger,
	}, []router.BindConfig{
		{
			Name:           "proxy",
			ListenAddress:  bindAddr.String(),
			Mode:           mode,
			Fallback:       connector.FallbackReadWrite,
			Protocol:       cfg.Protocol,
			ConnectTimeout: cfg.ConnectTimeout,
			IdleTimeout:    cfg.IdleTimeout,
			MaxConnections: cfg.MaxConnections,
			BlockOnCap:     true,
			Set:            set,
			Quarantine:     qm,
			Ops:            ops,
			Handler:        h,
			Logger:         cfg.Logger,
		},
	})

	return &singleBind{svc: svc, qm: qm}, nil
}

// Listen starts the bind's accept loop and the quarantine probe loop,
// blocking until ctx is cancelled.
func (sb *singleBind) Listen(ctx context.Context) error {
	sb.qm.Run(ctx, func(addr string) bool { return true })
	defer sb.qm.Shutdown()
	return sb.svc.Run(ctx)
}
