// Package echo provides Echo middleware guarding the billing endpoints with
// the shared service key.
package echo

import (
	"net/http"

	"github.com/labstack/echo/v4"

	mwhttp "github.com/gymops/membill/middleware/http"
	"github.com/gymops/membill/pkg/membill"
)

// TokenExtractor extracts the presented credential from an Echo context
// Return empty string if no credential is present
type TokenExtractor func(c echo.Context) string

// Config holds middleware configuration
type Config struct {
	// ServiceKey is the shared secret system callers must present (required)
	ServiceKey string

	// GetToken extracts the presented credential from the context
	// Default: bearer token from the Authorization header
	GetToken TokenExtractor

	// OnUnauthorized is called when the credential is missing or wrong
	// If nil, returns 401 with a JSON error body
	OnUnauthorized func(c echo.Context) error
}

// Middleware creates an Echo middleware that rejects requests without the
// service key
func Middleware(config Config) echo.MiddlewareFunc {
	// Set defaults
	if config.GetToken == nil {
		config.GetToken = BearerToken()
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !mwhttp.Authorized(config.ServiceKey, config.GetToken(c)) {
				if config.OnUnauthorized != nil {
					return config.OnUnauthorized(c)
				}
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"error": membill.ErrUnauthorized.Error(),
				})
			}

			return next(c)
		}
	}
}

// BearerToken returns a TokenExtractor reading the Authorization header's
// bearer credential
func BearerToken() TokenExtractor {
	return func(c echo.Context) string {
		return mwhttp.ParseBearer(c.Request().Header.Get("Authorization"))
	}
}

// FromHeader returns a TokenExtractor reading the raw value of a header
func FromHeader(headerName string) TokenExtractor {
	return func(c echo.Context) string {
		return c.Request().Header.Get(headerName)
	}
}
