// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Command router loads a YAML bind configuration and runs the
// listening service: one accept loop per bind, backend selection with
// quarantine and failover, handshake inspection, and transparent
// relay, alongside metrics and health HTTP endpoints.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/relaydb/sqlrouter/pkg/config"
	"github.com/relaydb/sqlrouter/pkg/handler"
	"github.com/relaydb/sqlrouter/pkg/health"
	"github.com/relaydb/sqlrouter/pkg/metrics"
	"github.com/relaydb/sqlrouter/pkg/resolver"
	"github.com/relaydb/sqlrouter/pkg/router"
	"github.com/relaydb/sqlrouter/pkg/sockops"
)

// Exit codes, matching the configuration/runtime/unrecoverable
// distinction carried through from configuration error handling.
const (
	exitOK                  = 0
	exitError               = 1
	exitAllDestinationsDown = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", envOr("SQLROUTER_CONFIG", "router.yaml"), "path to the bind configuration file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("configuration error", "error", err.Error())
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitError
	}

	m := metrics.New("sqlrouter")
	reg := resolver.NewRegistry()

	build, err := router.Build(cfg, router.Dependencies{
		Ops:      sockops.Real{},
		Handler:  &handler.NoopHandler{},
		Resolver: reg,
		Metrics:  m,
		Logger:   logger,
	})
	if err != nil {
		logger.Error("failed to build router service", "error", err.Error())
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitError
	}

	svc := router.New(router.ServiceConfig{
		DrainTimeout: 30 * time.Second,
		Logger:       logger,
	}, build.Binds)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	svc.StartQuarantineProbes(groupCtx)

	checker := health.NewChecker(5 * time.Second)
	checker.Register("destinations", func(ctx context.Context) error {
		eligible := svc.EligibleDestinations()
		for bind, n := range eligible {
			if n == 0 {
				return fmt.Errorf("bind %s has no eligible destinations", bind)
			}
		}
		return nil
	})

	if cfg.MetricsAddress != "" {
		group.Go(func() error { return serveHTTP(groupCtx, cfg.MetricsAddress, metricsMux(), logger) })
	}
	if cfg.HealthAddress != "" {
		group.Go(func() error { return serveHTTP(groupCtx, cfg.HealthAddress, healthMux(checker), logger) })
	}

	allDown := make(chan struct{})
	group.Go(func() error { return watchAllDestinationsDown(groupCtx, svc, allDown) })

	group.Go(func() error {
		logger.Info("router starting", "binds", len(build.Binds))
		return svc.Run(groupCtx)
	})

	err = group.Wait()
	select {
	case <-allDown:
		logger.Error("all binds have no eligible destinations, exiting")
		return exitAllDestinationsDown
	default:
	}
	if err != nil {
		logger.Error("router exited with error", "error", err.Error())
		return exitError
	}
	logger.Info("router stopped")
	return exitOK
}

// watchAllDestinationsDown polls the service's per-bind eligibility
// and signals allDown, then returns, once every configured bind has
// zero eligible destinations — the unrecoverable-runtime-error
// condition that maps to exit code 2.
func watchAllDestinationsDown(ctx context.Context, svc *router.Service, allDown chan struct{}) error {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			eligible := svc.EligibleDestinations()
			if len(eligible) == 0 {
				continue
			}
			allZero := true
			for _, n := range eligible {
				if n > 0 {
					allZero = false
					break
				}
			}
			if allZero {
				close(allDown)
				return fmt.Errorf("all binds have no eligible destinations")
			}
		}
	}
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func healthMux(checker *health.Checker) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", checker.HTTPHandler())
	mux.HandleFunc("/ready", checker.ReadinessHandler())
	mux.HandleFunc("/live", health.LivenessHandler())
	return mux
}

func serveHTTP(ctx context.Context, addr string, mux *http.ServeMux, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", "addr", addr, "error", err.Error())
			return err
		}
		return nil
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
