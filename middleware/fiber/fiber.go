// Package fiber provides Fiber middleware guarding the billing endpoints
// with the shared service key.
package fiber

import (
	"github.com/gofiber/fiber/v2"

	mwhttp "github.com/gymops/membill/middleware/http"
	"github.com/gymops/membill/pkg/membill"
)

// TokenExtractor extracts the presented credential from a Fiber context
// Return empty string if no credential is present
type TokenExtractor func(c *fiber.Ctx) string

// Config holds middleware configuration
type Config struct {
	// ServiceKey is the shared secret system callers must present (required)
	ServiceKey string

	// GetToken extracts the presented credential from the context
	// Default: bearer token from the Authorization header
	GetToken TokenExtractor

	// OnUnauthorized is called when the credential is missing or wrong
	// If nil, returns 401 with a JSON error body
	OnUnauthorized func(c *fiber.Ctx) error
}

// Middleware creates a Fiber middleware that rejects requests without the
// service key
func Middleware(config Config) fiber.Handler {
	// Set defaults
	if config.GetToken == nil {
		config.GetToken = BearerToken()
	}

	return func(c *fiber.Ctx) error {
		if !mwhttp.Authorized(config.ServiceKey, config.GetToken(c)) {
			if config.OnUnauthorized != nil {
				return config.OnUnauthorized(c)
			}
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": membill.ErrUnauthorized.Error(),
			})
		}

		return c.Next()
	}
}

// BearerToken returns a TokenExtractor reading the Authorization header's
// bearer credential
func BearerToken() TokenExtractor {
	return func(c *fiber.Ctx) string {
		return mwhttp.ParseBearer(c.Get("Authorization"))
	}
}

// FromHeader returns a TokenExtractor reading the raw value of a header
func FromHeader(headerName string) TokenExtractor {
	return func(c *fiber.Ctx) string {
		return c.Get(headerName)
	}
}
