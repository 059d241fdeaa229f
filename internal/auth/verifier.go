package auth

import (
	"net/http"
	"strings"
)

// Verifier resolves a bearer token to a principal on the relay side.
type Verifier interface {
	Verify(token string) (Principal, error)
}

// StaticVerifier is a fixed token table loaded from configuration.
// It is a development stand-in for the real auth service.
type StaticVerifier struct {
	tokens map[string]Principal
}

// NewStaticVerifier copies the token table.
func NewStaticVerifier(tokens map[string]Principal) *StaticVerifier {
	m := make(map[string]Principal, len(tokens))
	for k, v := range tokens {
		m[k] = v
	}
	return &StaticVerifier{tokens: m}
}

// Verify implements Verifier.
func (v *StaticVerifier) Verify(token string) (Principal, error) {
	if token == "" {
		return Principal{}, ErrMissingToken
	}
	p, ok := v.tokens[token]
	if !ok {
		return Principal{}, ErrInvalidToken
	}
	return p, nil
}

// BearerToken extracts the token from an Authorization header, falling back
// to the "token" query parameter used by socket upgrades.
func BearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		const prefix = "Bearer "
		if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
			return strings.TrimSpace(h[len(prefix):])
		}
		return ""
	}
	return r.URL.Query().Get("token")
}
