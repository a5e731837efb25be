package sse

import (
	"log/slog"
	"net"

	"github.com/ggoodman/litemcp/auth"
	"github.com/ggoodman/litemcp/internal/metrics"
	"golang.org/x/time/rate"
)

// Option customizes a Transport.
type Option func(*Transport)

// WithLogger sets the operational logger. Logs are discarded by default.
func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) {
		if l != nil {
			t.log = l
		}
	}
}

// WithAuthenticator requires a valid bearer token on the stream and message
// endpoints.
func WithAuthenticator(a auth.Authenticator) Option {
	return func(t *Transport) { t.authn = a }
}

// WithMetrics records session gauges and serves GET /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Transport) { t.metrics = m }
}

// WithHost sets the listen host. Defaults to all interfaces.
func WithHost(host string) Option {
	return func(t *Transport) { t.host = host }
}

// WithListener serves on an existing listener instead of opening one.
func WithListener(ln net.Listener) Option {
	return func(t *Transport) { t.ln = ln }
}

// WithMaxMessageSize bounds a single POST body. Non-positive values are
// ignored.
func WithMaxMessageSize(n int64) Option {
	return func(t *Transport) {
		if n > 0 {
			t.maxMessageSize = n
		}
	}
}

// WithRateLimit caps how many messages each session may POST per second.
// Sessions are unlimited by default. A burst below 1 is raised to 1.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(t *Transport) {
		if perSecond <= 0 {
			t.rps = rate.Inf
			return
		}
		if burst < 1 {
			burst = 1
		}
		t.rps = rate.Limit(perSecond)
		t.burst = burst
	}
}
