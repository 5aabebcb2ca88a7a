// Package gin provides Gin middleware guarding the billing endpoints with
// the shared service key.
package gin

import (
	"net/http"

	gongin "github.com/gin-gonic/gin"

	mwhttp "github.com/gymops/membill/middleware/http"
	"github.com/gymops/membill/pkg/membill"
)

// TokenExtractor extracts the presented credential from a Gin context
// Return empty string if no credential is present
type TokenExtractor func(c *gongin.Context) string

// Config holds middleware configuration
type Config struct {
	// ServiceKey is the shared secret system callers must present (required)
	ServiceKey string

	// GetToken extracts the presented credential from the context
	// Default: bearer token from the Authorization header
	GetToken TokenExtractor

	// OnUnauthorized is called when the credential is missing or wrong
	// If nil, aborts with 401 and a JSON error body
	OnUnauthorized func(c *gongin.Context)
}

// Middleware creates a Gin middleware that rejects requests without the
// service key
func Middleware(config Config) gongin.HandlerFunc {
	// Set defaults
	if config.GetToken == nil {
		config.GetToken = BearerToken()
	}

	return func(c *gongin.Context) {
		if !mwhttp.Authorized(config.ServiceKey, config.GetToken(c)) {
			if config.OnUnauthorized != nil {
				config.OnUnauthorized(c)
			} else {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gongin.H{
					"error": membill.ErrUnauthorized.Error(),
				})
			}
			return
		}

		c.Next()
	}
}

// BearerToken returns a TokenExtractor reading the Authorization header's
// bearer credential
func BearerToken() TokenExtractor {
	return func(c *gongin.Context) string {
		return mwhttp.ParseBearer(c.GetHeader("Authorization"))
	}
}

// FromHeader returns a TokenExtractor reading the raw value of a header
func FromHeader(headerName string) TokenExtractor {
	return func(c *gongin.Context) string {
		return c.GetHeader(headerName)
	}
}
