package gin

import (
	"net/http"
	"net/http/httptest"
	"testing"

	gongin "github.com/gin-gonic/gin"
)

const testServiceKey = "service-role-key"

func newRouter(config Config) (*gongin.Engine, *bool) {
	gongin.SetMode(gongin.TestMode)
	called := false

	router := gongin.New()
	router.Use(Middleware(config))
	router.POST("/billing/sweep", func(c *gongin.Context) {
		called = true
		c.Status(http.StatusOK)
	})
	return router, &called
}

func TestMiddleware_ValidKey(t *testing.T) {
	router, called := newRouter(Config{ServiceKey: testServiceKey})

	req := httptest.NewRequest(http.MethodPost, "/billing/sweep", nil)
	req.Header.Set("Authorization", "Bearer "+testServiceKey)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
	if !*called {
		t.Fatal("handler was not called")
	}
}

func TestMiddleware_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong key", "Bearer not-the-key"},
		{"wrong scheme", "Basic " + testServiceKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, called := newRouter(Config{ServiceKey: testServiceKey})

			req := httptest.NewRequest(http.MethodPost, "/billing/sweep", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("status: got %d, want 401", rec.Code)
			}
			if *called {
				t.Fatal("handler must not run for unauthorized requests")
			}
		})
	}
}

func TestMiddleware_CustomUnauthorized(t *testing.T) {
	router, _ := newRouter(Config{
		ServiceKey: testServiceKey,
		OnUnauthorized: func(c *gongin.Context) {
			c.AbortWithStatus(http.StatusForbidden)
		},
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/billing/sweep", nil))

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status: got %d, want custom 403", rec.Code)
	}
}

func TestMiddleware_FromHeader(t *testing.T) {
	router, called := newRouter(Config{
		ServiceKey: testServiceKey,
		GetToken:   FromHeader("X-Service-Key"),
	})

	req := httptest.NewRequest(http.MethodPost, "/billing/sweep", nil)
	req.Header.Set("X-Service-Key", testServiceKey)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || !*called {
		t.Fatalf("status: got %d, called %v", rec.Code, *called)
	}
}
