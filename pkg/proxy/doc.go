// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package proxy provides single-bind convenience coordinators that
// wire a destination set, quarantine manager, and router bind
// together around a literal destination list.
//
// # Overview
//
// ClassicProxy and XProxy each combine three pieces for one listener:
//
//  1. destination.Set, built from a literal host:port list
//  2. quarantine.Manager, with its probe loop running alongside the bind
//  3. router.Service, running exactly one bind
//
// For multi-bind deployments driven by a YAML document, use package
// config and router.Build instead; these coordinators exist for
// callers — tests, examples, embedders — that want one bind without
// assembling a full configuration document.
//
// # Usage
//
//	cfg := proxy.ClassicConfig{
//		Host:            "0.0.0.0",
//		Port:            "3306",
//		Destinations:    []string{"db1:3306", "db2:3306"},
//		ConnectTimeout:  2 * time.Second,
//		IdleTimeout:     10 * time.Minute,
//		MaxConnections:  1024,
//		ProbeInterval:   time.Second,
//		ShutdownTimeout: 30 * time.Second,
//	}
//
//	p, err := proxy.NewClassic(cfg, myHandler)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	if err := p.Listen(ctx); err != nil {
//		log.Printf("shutdown: %v", err)
//	}
//
// NewX builds the X-protocol equivalent, defaulting unqualified
// destination ports to 33060 instead of 3306.
//
// # Read-only routing
//
// Setting ClassicConfig.ReadOnly or XConfig.ReadOnly selects
// connector.ModeReadOnly; destinations added with RoleAny remain
// eligible under either mode, so a single-role destination list works
// for both.
package proxy
