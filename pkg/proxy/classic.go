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

// ClassicConfig configures a single classic-protocol (port 3306)
// bind, for callers that want one bind without building a full YAML
// configuration document.
type ClassicConfig struct {
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

// ClassicProxy coordinates a destination set, quarantine manager, and
// router bind for one classic-protocol listener.
type ClassicProxy struct {
	*singleBind
}

// NewClassic builds a ClassicProxy from literal destinations.
func NewClassic(cfg ClassicConfig, h handler.Handler) (*ClassicProxy, error) {
	sb, err := newSingleBind(singleBindConfig{
		Host:            cfg.Host,
		Port:            cfg.Port,
		Protocol:        "classic",
		DefaultPort:     address.DefaultClassicPort,
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
	return &ClassicProxy{singleBind: sb}, nil
}

// Listen starts the proxy's accept loop and quarantine probes,
// blocking until ctx is cancelled.
func (p *ClassicProxy) Listen(ctx context.Context) error {
	return p.singleBind.Listen(ctx)
}
