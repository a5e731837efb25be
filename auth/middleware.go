package auth

import (
	"errors"
	"net/http"
	"strings"
)

// Middleware rejects requests without a valid bearer token. Authenticated
// users are attached to the request context; see UserFromContext.
func Middleware(a Authenticator, next http.Handler) http.Handler {
	if a == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok, ok := bearerToken(r)
		if !ok {
			challenge(w, http.StatusUnauthorized, "")
			return
		}
		user, err := a.CheckAuthentication(r.Context(), tok)
		switch {
		case err == nil:
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		case errors.Is(err, ErrInsufficientScope):
			challenge(w, http.StatusForbidden, "insufficient_scope")
		default:
			challenge(w, http.StatusUnauthorized, "invalid_token")
		}
	})
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, tok, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	tok = strings.TrimSpace(tok)
	return tok, tok != ""
}

func challenge(w http.ResponseWriter, status int, code string) {
	v := "Bearer"
	if code != "" {
		v += ` error="` + code + `"`
	}
	w.Header().Set("WWW-Authenticate", v)
	http.Error(w, http.StatusText(status), status)
}
