// Package auth provides bearer token authentication for the HTTP-based
// transports. An Authenticator validates a raw token string and returns a
// UserInfo describing the caller. Middleware extracts the token from the
// Authorization header and answers 401 challenges on failure.
//
// NewFromDiscovery resolves the issuer's JWKS via OpenID Connect discovery:
//
//	authn, err := auth.NewFromDiscovery(ctx, auth.Config{
//	    Issuer:    "https://issuer.example",
//	    Audiences: []string{"https://mcp.example/sse"},
//	})
//	if err != nil { log.Fatal(err) }
//	http.Handle("/sse", auth.Middleware(authn, handler))
//
// NewStatic skips discovery when the JWKS URL is known up front.
package auth
