// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"context"
	"log/slog"
	"time"

	"github.com/relaydb/sqlrouter/pkg/address"
	"github.com/relaydb/sqlrouter/pkg/handler"
)

// XConfig configures a single X-protocol (port 33060) bind, for
// callers that want one bind without building a full YAML
// configuration document.
type XConfig struct {
	Host            string
	Port            string
	Destinations    []string // host:port literals, RoleAny
	ReadOnly        bool
	ConnectTimeout  time.Duration
	IdleTimeout     time.Duration
	MaxConnections  int64
	ProbeInterval   time.Duration
	ShutdownTimeout time.Duration
	Logger          *slog.Logger
}

// XProxy coordinates a destination set, quarantine manager, and
// router bind for one X-protocol listener.
type XProxy struct {
	*singleBind
}

// NewX builds an XProxy from literal destinations.
func NewX(cfg XConfig, h handler.Handler) (*XProxy, error) {
	sb, err := newSingleBind(singleBindConfig{
		Host:            cfg.Host,
		Port:            cfg.Port,
		Protocol:        "x",
		DefaultPort:     address.DefaultXPort,
		Destinations:    cfg.Destinations,
		ReadOnly:        cfg.ReadOnly,
		ConnectTimeout:  cfg.ConnectTimeout,
		IdleTimeout:     cfg.IdleTimeout,
		MaxConnections:  cfg.MaxConnections,
		ProbeInterval:   cfg.ProbeInterval,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Logger:          cfg.Logger,
	}, h)
	if err != nil {
		return nil, err
	}
	return &XProxy{singleBind: sb}, nil
}

// Listen starts the proxy's accept loop and quarantine probes,
// blocking until ctx is cancelled.
func (p *XProxy) Listen(ctx context.Context) error {
	return p.singleBind.Listen(ctx)
}
