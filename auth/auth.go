package auth

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnauthorized indicates the token was missing, malformed or failed
	// verification. Transports map it to a 401 challenge.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInsufficientScope indicates a valid token lacking a required scope.
	ErrInsufficientScope = errors.New("insufficient scope")
)

// UserInfo describes an authenticated caller.
type UserInfo interface {
	UserID() string
	Claims(ref any) error
}

// Authenticator validates bearer tokens.
type Authenticator interface {
	CheckAuthentication(ctx context.Context, tok string) (UserInfo, error)
}

// Config controls token validation.
type Config struct {
	Issuer    string
	Audiences []string

	// AllowedAlgs defaults to RS256. "none" is never accepted.
	AllowedAlgs []string

	// RequiredScopes must all appear in the space-delimited "scope" claim.
	RequiredScopes []string

	// Leeway is the clock skew tolerance for time-based claims.
	Leeway time.Duration
}

func (c Config) withDefaults() Config {
	if len(c.AllowedAlgs) == 0 {
		c.AllowedAlgs = []string{"RS256"}
	}
	if c.Leeway == 0 {
		c.Leeway = 60 * time.Second
	}
	return c
}

func (c Config) validate() error {
	if c.Issuer == "" {
		return errors.New("auth: issuer required")
	}
	if len(c.Audiences) == 0 {
		return errors.New("auth: at least one audience required")
	}
	for _, alg := range c.AllowedAlgs {
		if alg == "none" {
			return errors.New("auth: alg none is not allowed")
		}
	}
	return nil
}

type ctxKey struct{}

// WithUser returns a context carrying the authenticated user.
func WithUser(ctx context.Context, u UserInfo) context.Context {
	return context.WithValue(ctx, ctxKey{}, u)
}

// UserFromContext returns the user stored by Middleware, if any.
func UserFromContext(ctx context.Context) (UserInfo, bool) {
	u, ok := ctx.Value(ctxKey{}).(UserInfo)
	return u, ok
}
