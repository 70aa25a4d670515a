package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/ksred/marketracker-api/pkg/apperror"
	"golang.org/x/time/rate"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubValidator struct{}

func (stubValidator) Authenticate(ctx context.Context, token string) (uint, string, error) {
	switch token {
	case "good":
		return 7, "a@x.com", nil
	case "other":
		return 8, "b@x.com", nil
	case "expired":
		return 0, "", apperror.ErrTokenExpired
	default:
		return 0, "", apperror.ErrInvalidToken
	}
}

func newAuthRouter() *gin.Engine {
	r := gin.New()
	r.GET("/me", JWTAuth(stubValidator{}), func(c *gin.Context) {
		id, _ := UserID(c)
		c.JSON(http.StatusOK, gin.H{"id": id, "email": Email(c)})
	})
	return r
}

func TestJWTAuth(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnprocessableEntity},
		{"invalid token", "Bearer forged", http.StatusUnprocessableEntity},
		{"expired token", "Bearer expired", http.StatusUnprocessableEntity},
		{"valid token", "Bearer good", http.StatusOK},
	}

	r := newAuthRouter()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter([]RateRule{
		{Prefix: "/api/login", Limit: rate.Limit(0.001), Burst: 2},
	})

	r := gin.New()
	r.Use(rl.Middleware())
	r.POST("/api/login", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/api/search", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/login", nil))
		codes = append(codes, w.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("expected burst of 2 then 429, got %v", codes)
	}

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/search", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("unmatched path should not be limited, got %d", w.Code)
		}
	}
}

func TestRateLimiterKeysByAccountAfterAuth(t *testing.T) {
	rl := NewRateLimiter([]RateRule{
		{Prefix: "/api/trade", Limit: rate.Limit(0.001), Burst: 1},
	})

	r := gin.New()
	r.POST("/api/trade", JWTAuth(stubValidator{}), rl.Middleware(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	trade := func(token string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/trade", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	// same client IP, two accounts: each gets its own bucket
	if code := trade("good"); code != http.StatusOK {
		t.Fatalf("first trade for a@x.com: expected 200, got %d", code)
	}
	if code := trade("other"); code != http.StatusOK {
		t.Fatalf("first trade for b@x.com: expected 200, got %d", code)
	}
	if code := trade("good"); code != http.StatusTooManyRequests {
		t.Errorf("second trade for a@x.com: expected 429, got %d", code)
	}
}

func TestRequestLoggerSetsRequestID(t *testing.T) {
	r := gin.New()
	r.Use(RequestLogger())
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected a generated X-Request-ID")
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("expected incoming request id to be kept, got %q", got)
	}
}
