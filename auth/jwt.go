package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
)

type jwtAuthenticator struct {
	cfg     Config
	keyfunc jwt.Keyfunc
}

// NewFromDiscovery performs OpenID Connect discovery against cfg.Issuer and
// verifies tokens using the advertised jwks_uri.
func NewFromDiscovery(ctx context.Context, cfg Config) (Authenticator, error) {
	if cfg.Issuer == "" {
		return nil, errors.New("auth: issuer required")
	}
	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery: %w", err)
	}
	var meta struct {
		JWKSURI string `json:"jwks_uri"`
	}
	if err := provider.Claims(&meta); err != nil {
		return nil, fmt.Errorf("decode discovery metadata: %w", err)
	}
	if meta.JWKSURI == "" {
		return nil, errors.New("auth: discovery metadata missing jwks_uri")
	}
	return NewStatic(ctx, cfg, meta.JWKSURI)
}

// NewStatic verifies tokens against a known JWKS URL. Keys are refreshed in
// the background for the lifetime of ctx.
func NewStatic(ctx context.Context, cfg Config, jwksURL string) (Authenticator, error) {
	if jwksURL == "" {
		return nil, errors.New("auth: jwks url required")
	}
	kf, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("init jwks: %w", err)
	}
	return NewWithKeyfunc(cfg, kf.Keyfunc)
}

// NewWithKeyfunc verifies tokens with a caller-supplied key lookup.
func NewWithKeyfunc(cfg Config, kf jwt.Keyfunc) (Authenticator, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if kf == nil {
		return nil, errors.New("auth: keyfunc required")
	}
	return &jwtAuthenticator{cfg: cfg, keyfunc: kf}, nil
}

func (a *jwtAuthenticator) CheckAuthentication(ctx context.Context, tok string) (UserInfo, error) {
	if tok == "" {
		return nil, fmt.Errorf("%w: empty token", ErrUnauthorized)
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods(a.cfg.AllowedAlgs),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(a.cfg.Issuer),
		jwt.WithLeeway(a.cfg.Leeway),
	)
	parsed, err := parser.Parse(tok, a.keyfunc)
	if err != nil {
		return nil, fmt.Errorf("%w: token parse/verify failed: %v", ErrUnauthorized, err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: invalid claims type", ErrUnauthorized)
	}
	aud, err := claims.GetAudience()
	if err != nil || !audIntersects(aud, a.cfg.Audiences) {
		return nil, fmt.Errorf("%w: audience mismatch", ErrUnauthorized)
	}
	sub, _ := claims.GetSubject()
	if sub == "" {
		return nil, fmt.Errorf("%w: missing sub", ErrUnauthorized)
	}
	if len(a.cfg.RequiredScopes) > 0 {
		scope, _ := claims["scope"].(string)
		granted := strings.Fields(scope)
		for _, want := range a.cfg.RequiredScopes {
			if !slices.Contains(granted, want) {
				return nil, fmt.Errorf("%w: missing %q", ErrInsufficientScope, want)
			}
		}
	}
	return &userInfo{sub: sub, claims: claims}, nil
}

func audIntersects(aud []string, wants []string) bool {
	for _, a := range aud {
		if slices.Contains(wants, a) {
			return true
		}
	}
	return false
}

type userInfo struct {
	sub    string
	claims jwt.MapClaims
}

func (u *userInfo) UserID() string { return u.sub }

// Claims decodes the raw claim set into ref.
func (u *userInfo) Claims(ref any) error {
	b, err := json.Marshal(u.claims)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, ref)
}

var _ Authenticator = (*jwtAuthenticator)(nil)
