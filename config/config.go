// Package config holds the process configuration for a LiteMCP server.
// Values are read from LITEMCP_* environment variables via envdecode and may
// be overridden by an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// TransportType selects the wire transport.
type TransportType string

const (
	TransportStdio TransportType = "stdio"
	TransportSSE   TransportType = "sse"
)

// DefaultSSEEndpoint and DefaultSSEPort apply when an SSE transport is
// requested without explicit values.
const (
	DefaultSSEEndpoint = "/sse"
	DefaultSSEPort     = 8080
)

// SSE configures the HTTP+SSE transport.
type SSE struct {
	// Endpoint is the stream path. It must start with "/". ENV: LITEMCP_SSE_ENDPOINT
	Endpoint string `env:"LITEMCP_SSE_ENDPOINT,default=/sse" yaml:"endpoint"`
	// Port is the TCP listen port. ENV: LITEMCP_SSE_PORT
	Port int `env:"LITEMCP_SSE_PORT,default=8080" yaml:"port"`
}

// Transport is the argument to Server.Start.
type Transport struct {
	// Type is stdio or sse. ENV: LITEMCP_TRANSPORT
	Type TransportType `env:"LITEMCP_TRANSPORT,default=stdio" yaml:"type"`
	SSE  SSE           `yaml:"sse"`
}

// Stdio returns the default stdio transport configuration.
func Stdio() Transport { return Transport{Type: TransportStdio} }

// SSEOn returns an SSE transport configuration.
func SSEOn(endpoint string, port int) Transport {
	return Transport{Type: TransportSSE, SSE: SSE{Endpoint: endpoint, Port: port}}
}

// Normalize fills zero values with defaults.
func (t Transport) Normalize() Transport {
	if t.Type == "" {
		t.Type = TransportStdio
	}
	if t.Type == TransportSSE {
		if t.SSE.Endpoint == "" {
			t.SSE.Endpoint = DefaultSSEEndpoint
		}
		if t.SSE.Port == 0 {
			t.SSE.Port = DefaultSSEPort
		}
	}
	return t
}

// Validate reports whether t can be started.
func (t Transport) Validate() error {
	switch t.Type {
	case TransportStdio, "":
		return nil
	case TransportSSE:
	default:
		return fmt.Errorf("unknown transport type %q", t.Type)
	}
	if !strings.HasPrefix(t.SSE.Endpoint, "/") {
		return fmt.Errorf("sse endpoint %q must start with \"/\"", t.SSE.Endpoint)
	}
	if t.SSE.Port < 0 || t.SSE.Port > 65535 {
		return fmt.Errorf("sse port %d out of range", t.SSE.Port)
	}
	return nil
}

// Auth configures bearer-token verification for the SSE transport. Auth is
// disabled when Issuer is empty.
type Auth struct {
	Issuer   string `env:"LITEMCP_AUTH_ISSUER" yaml:"issuer"`
	Audience string `env:"LITEMCP_AUTH_AUDIENCE" yaml:"audience"`
	// JWKSURL skips OIDC discovery when set.
	JWKSURL string `env:"LITEMCP_AUTH_JWKS_URL" yaml:"jwks_url"`
}

// Enabled reports whether token verification is configured.
func (a Auth) Enabled() bool { return a.Issuer != "" }

// RateLimit bounds how fast each SSE session may POST messages. A zero
// PerSecond disables limiting.
type RateLimit struct {
	PerSecond float64 `env:"LITEMCP_SSE_RATE_LIMIT" yaml:"per_second"`
	Burst     int     `env:"LITEMCP_SSE_RATE_BURST,default=10" yaml:"burst"`
}

// Config is the complete process configuration.
type Config struct {
	Transport Transport `yaml:"transport"`
	Auth      Auth      `yaml:"auth"`
	RateLimit RateLimit `yaml:"rate_limit"`
	LogLevel  string    `env:"LITEMCP_LOG_LEVEL,default=info" yaml:"log_level"`
	RedisAddr string    `env:"LITEMCP_REDIS_ADDR" yaml:"redis_addr"`
}

// FromEnv decodes Config from the environment.
func FromEnv() (Config, error) {
	return Load("")
}

// Load decodes Config from the environment and then overlays the YAML file
// at path, when path is non-empty. Keys present in the file win over the
// environment.
func Load(path string) (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("decode env: %w", err)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("unmarshal config: %w", err)
		}
	}
	cfg.Transport = cfg.Transport.Normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports whether cfg is usable.
func (c Config) Validate() error {
	if err := c.Transport.Validate(); err != nil {
		return err
	}
	if c.Auth.Issuer != "" && c.Auth.Audience == "" {
		return errors.New("auth audience is required when an issuer is set")
	}
	if c.RateLimit.PerSecond < 0 {
		return fmt.Errorf("rate limit %v must not be negative", c.RateLimit.PerSecond)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return l, nil
}
