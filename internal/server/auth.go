package server

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Authenticator decides whether a peer may connect.
type Authenticator interface {
	Authenticate(r *http.Request) error
}

// TokenAuth accepts a static set of bearer tokens, passed either in the
// Authorization header or in the token query parameter. An empty set accepts
// every peer.
type TokenAuth struct {
	tokens []string
}

func NewTokenAuth(tokens ...string) *TokenAuth {
	var kept []string
	for _, t := range tokens {
		if t != "" {
			kept = append(kept, t)
		}
	}
	return &TokenAuth{tokens: kept}
}

func (a *TokenAuth) Authenticate(r *http.Request) error {
	if len(a.tokens) == 0 {
		return nil
	}
	token := r.URL.Query().Get("token")
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		token = strings.TrimPrefix(h, "Bearer ")
	}
	if token == "" {
		return ErrUnauthorized
	}
	for _, t := range a.tokens {
		if subtle.ConstantTimeCompare([]byte(t), []byte(token)) == 1 {
			return nil
		}
	}
	return ErrUnauthorized
}
