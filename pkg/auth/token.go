package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// TokenHeader is the custom header accepted alongside Authorization: Bearer.
const TokenHeader = "X-OpenClaw-Token"

// queryCredentialKeys are URL parameters that would carry a secret.
var queryCredentialKeys = []string{"token", "access_token", "secret"}

// BearerToken extracts the credential presented in the request headers.
// The Authorization header wins over the custom token header.
func BearerToken(r *http.Request) (string, bool) {
	if h := strings.TrimSpace(r.Header.Get("Authorization")); h != "" {
		scheme, token, found := strings.Cut(h, " ")
		if found && strings.EqualFold(scheme, "Bearer") {
			if token = strings.TrimSpace(token); token != "" {
				return token, true
			}
		}
	}
	if token := strings.TrimSpace(r.Header.Get(TokenHeader)); token != "" {
		return token, true
	}
	return "", false
}

// HasQueryCredential reports whether a credential was placed in the URL.
func HasQueryCredential(r *http.Request) bool {
	q := r.URL.Query()
	for _, key := range queryCredentialKeys {
		if q.Has(key) {
			return true
		}
	}
	return false
}

// TokenEqual compares a presented token against the expected secret byte for
// byte. An empty secret never matches.
func TokenEqual(presented, secret string) bool {
	if secret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(secret)) == 1
}
