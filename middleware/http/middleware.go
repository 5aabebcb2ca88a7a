// Package http provides net/http middleware guarding the billing endpoints.
// The sweep and onboarding routes are system-caller-only: requests must
// present the shared service key as a bearer token. Comparison is constant
// time so the key cannot be probed byte by byte.
package http

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/gymops/membill/pkg/membill"
)

// TokenExtractor extracts the presented credential from an HTTP request
// Return empty string if no credential is present
type TokenExtractor func(r *http.Request) string

// Config holds middleware configuration
type Config struct {
	// ServiceKey is the shared secret system callers must present (required)
	ServiceKey string

	// GetToken extracts the presented credential from the request
	// Default: bearer token from the Authorization header
	GetToken TokenExtractor

	// OnUnauthorized is called when the credential is missing or wrong
	// If nil, returns 401 with a JSON error body
	OnUnauthorized func(w http.ResponseWriter, r *http.Request)
}

// Middleware creates an HTTP middleware that rejects requests without the
// service key
func Middleware(config Config) func(http.Handler) http.Handler {
	// Set defaults
	if config.GetToken == nil {
		config.GetToken = BearerToken()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !Authorized(config.ServiceKey, config.GetToken(r)) {
				if config.OnUnauthorized != nil {
					config.OnUnauthorized(w, r)
				} else {
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusUnauthorized)
					_, _ = fmt.Fprintf(w, `{"error":%q}`, membill.ErrUnauthorized)
				}
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// HandlerFunc creates an HTTP middleware that rejects requests without the
// service key (HandlerFunc version)
func HandlerFunc(config Config) func(http.HandlerFunc) http.HandlerFunc {
	middleware := Middleware(config)
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			middleware(next).ServeHTTP(w, r)
		}
	}
}

// Authorized reports whether the presented token matches the service key.
// An empty service key never authorizes anything, so a missing deployment
// secret fails closed.
func Authorized(serviceKey, token string) bool {
	if serviceKey == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(serviceKey), []byte(token)) == 1
}

// BearerToken returns a TokenExtractor reading the Authorization header's
// bearer credential
func BearerToken() TokenExtractor {
	return func(r *http.Request) string {
		return ParseBearer(r.Header.Get("Authorization"))
	}
}

// FromHeader returns a TokenExtractor reading the raw value of a header
func FromHeader(headerName string) TokenExtractor {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}

// ParseBearer extracts the credential from an "Authorization: Bearer x"
// header value; the scheme match is case-insensitive.
func ParseBearer(header string) string {
	const prefix = "bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
