// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package config loads and validates the router's YAML configuration,
// grounded on the original plugin configuration's required-keys and
// defaulting logic, with environment overrides layered on top.
package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/relaydb/sqlrouter/pkg/address"
	rerrors "github.com/relaydb/sqlrouter/pkg/errors"
)

const (
	defaultConnectTimeout = time.Second
	defaultWaitTimeout    = 10 * time.Minute
	defaultProbeInterval  = time.Second
	defaultProtocol       = "classic"
)

// ACL is a per-bind CIDR deny list.
type ACL struct {
	Deny []string `yaml:"deny"`
}

// Bind is one configured listening bind, as written in the document.
type Bind struct {
	BindAddress    string        `yaml:"bind_address"`
	Mode           string        `yaml:"mode"`
	Destinations   string        `yaml:"destinations"`
	Protocol       string        `yaml:"protocol"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	WaitTimeout    time.Duration `yaml:"wait_timeout"`
	MaxConnections int           `yaml:"max_connections"`
	ACL            ACL           `yaml:"acl"`
	// RejectOnCapacity opts a bind out of the default blocking behavior
	// at max_connections, sending a canned busy error instead.
	RejectOnCapacity bool `yaml:"reject_on_capacity"`
	// MaxAcceptsPerSecond caps the rate of new connections the bind
	// will accept, after an initial burst of AcceptBurst. Zero disables
	// accept rate limiting.
	MaxAcceptsPerSecond int64 `yaml:"max_accepts_per_second"`
	AcceptBurst         int64 `yaml:"accept_burst"`
}

// Document is the raw YAML shape.
type Document struct {
	Binds          []Bind        `yaml:"binds"`
	MetricsAddress string        `yaml:"metrics_address" env:"METRICS_ADDRESS"`
	HealthAddress  string        `yaml:"health_address" env:"HEALTH_ADDRESS"`
	ProbeInterval  time.Duration `yaml:"probe_interval" env:"PROBE_INTERVAL"`
	MaxConnections int           `yaml:"max_connections" env:"MAX_CONNECTIONS"`
}

// ResolvedBind is a Bind after default application and validation,
// ready to be handed to the router service.
type ResolvedBind struct {
	Name                string
	Address             address.Address
	Mode                string // "read-write" or "read-only"
	Protocol            string
	Destinations        string
	IsResolverURI       bool
	ConnectTimeout      time.Duration
	WaitTimeout         time.Duration
	MaxConnections      int
	Deny                []*net.IPNet
	RejectOnCapacity    bool
	MaxAcceptsPerSecond int64
	AcceptBurst         int64
}

// Config is the fully validated, default-applied configuration.
type Config struct {
	Binds          []ResolvedBind
	MetricsAddress string
	HealthAddress  string
	ProbeInterval  time.Duration
	MaxConnections int
}

// Load reads path, loads a .env file from the working directory if
// present, applies
// SQLROUTER_-prefixed environment overrides, validates, and returns
// the resolved configuration. All failures are configuration errors,
// returned before any listener is opened.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, rerrors.WrapConfig("config.load_dotenv", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, rerrors.WrapConfig("config.read_file", err)
	}

	var doc Document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, rerrors.WrapConfig("config.parse_yaml", err)
	}

	if err := env.ParseWithOptions(&doc, env.Options{Prefix: "SQLROUTER_"}); err != nil {
		return nil, rerrors.WrapConfig("config.parse_env", err)
	}

	return validate(&doc)
}

func validate(doc *Document) (*Config, error) {
	if len(doc.Binds) == 0 {
		return nil, rerrors.WrapConfig("config.validate", fmt.Errorf("binds: %w", rerrors.ErrMissingOption))
	}
	if doc.ProbeInterval <= 0 {
		doc.ProbeInterval = defaultProbeInterval
	}

	cfg := &Config{
		MetricsAddress: doc.MetricsAddress,
		HealthAddress:  doc.HealthAddress,
		ProbeInterval:  doc.ProbeInterval,
		MaxConnections: doc.MaxConnections,
	}

	for i, b := range doc.Binds {
		rb, err := validateBind(i, b, doc.MaxConnections)
		if err != nil {
			return nil, err
		}
		cfg.Binds = append(cfg.Binds, rb)
	}
	return cfg, nil
}

func validateBind(idx int, b Bind, processMax int) (ResolvedBind, error) {
	name := fmt.Sprintf("bind-%d", idx)

	if b.BindAddress == "" {
		return ResolvedBind{}, rerrors.WrapConfig("config.validate_bind",
			fmt.Errorf("%s: bind_address: %w", name, rerrors.ErrMissingOption))
	}
	addr, err := address.Parse(b.BindAddress, address.DefaultClassicPort)
	if err != nil {
		return ResolvedBind{}, rerrors.WrapConfig("config.validate_bind",
			fmt.Errorf("%s: bind_address: %w", name, err))
	}

	mode := strings.ToLower(b.Mode)
	if mode != "read-write" && mode != "read-only" {
		return ResolvedBind{}, rerrors.WrapConfig("config.validate_bind",
			fmt.Errorf("%s: mode: %w", name, rerrors.ErrUnsupportedMode))
	}

	if b.Destinations == "" {
		return ResolvedBind{}, rerrors.WrapConfig("config.validate_bind",
			fmt.Errorf("%s: destinations: %w", name, rerrors.ErrMissingOption))
	}
	isURI := address.IsURI(b.Destinations)
	if isURI {
		if _, err := address.ParseURI(b.Destinations); err != nil {
			return ResolvedBind{}, rerrors.WrapConfig("config.validate_bind",
				fmt.Errorf("%s: destinations: %w", name, err))
		}
	} else if _, err := address.ParseList(b.Destinations, address.DefaultPort(b.Protocol)); err != nil {
		return ResolvedBind{}, rerrors.WrapConfig("config.validate_bind",
			fmt.Errorf("%s: destinations: %w", name, err))
	}

	protocol := strings.ToLower(b.Protocol)
	if protocol == "" {
		protocol = defaultProtocol
	}
	if protocol != "classic" && protocol != "x" {
		return ResolvedBind{}, rerrors.WrapConfig("config.validate_bind",
			fmt.Errorf("%s: protocol: %w", name, rerrors.ErrUnknownScheme))
	}

	connectTimeout := b.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = defaultConnectTimeout
	}
	waitTimeout := b.WaitTimeout
	if waitTimeout <= 0 {
		waitTimeout = defaultWaitTimeout
	}
	maxConns := b.MaxConnections
	if maxConns <= 0 {
		maxConns = processMax
	}

	deny, err := parseDenyList(b.ACL.Deny)
	if err != nil {
		return ResolvedBind{}, rerrors.WrapConfig("config.validate_bind",
			fmt.Errorf("%s: acl.deny: %w", name, err))
	}

	return ResolvedBind{
		Name: name, Address: addr, Mode: mode, Protocol: protocol,
		Destinations: b.Destinations, IsResolverURI: isURI,
		ConnectTimeout: connectTimeout, WaitTimeout: waitTimeout,
		MaxConnections: maxConns, Deny: deny,
		RejectOnCapacity:    b.RejectOnCapacity,
		MaxAcceptsPerSecond: b.MaxAcceptsPerSecond,
		AcceptBurst:         b.AcceptBurst,
	}, nil
}

func parseDenyList(cidrs []string) ([]*net.IPNet, error) {
	var out []*net.IPNet
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(strings.TrimSpace(c))
		if err != nil {
			return nil, rerrors.ErrInvalidAddress
		}
		out = append(out, n)
	}
	return out, nil
}
