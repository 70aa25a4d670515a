package middleware

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ksred/marketracker-api/pkg/apperror"
	"github.com/ksred/marketracker-api/pkg/response"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Context keys set by JWTAuth and RequestLogger
const (
	UserIDKey    = "userID"
	EmailKey     = "email"
	RequestIDKey = "requestID"
)

// TokenValidator turns a bearer token into the identity it was issued for
type TokenValidator interface {
	Authenticate(ctx context.Context, token string) (userID uint, email string, err error)
}

// JWTAuth rejects requests without a valid bearer token. A missing header is
// a 401; a malformed, invalid or expired token is a 422.
func JWTAuth(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := strings.TrimSpace(c.GetHeader("Authorization"))
		if header == "" {
			response.Handle(c, nil, apperror.ErrMissingToken)
			c.Abort()
			return
		}

		bearerToken := strings.Fields(header)
		if len(bearerToken) != 2 || !strings.EqualFold(bearerToken[0], "bearer") {
			response.Handle(c, nil, apperror.ErrInvalidToken.WithMessage("Authorization header must be 'Bearer <token>'"))
			c.Abort()
			return
		}

		userID, email, err := validator.Authenticate(c.Request.Context(), bearerToken[1])
		if err != nil {
			response.Handle(c, nil, err)
			c.Abort()
			return
		}

		c.Set(UserIDKey, userID)
		c.Set(EmailKey, email)
		c.Next()
	}
}

// UserID returns the authenticated user id
func UserID(c *gin.Context) (uint, bool) {
	v, ok := c.Get(UserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint)
	return id, ok
}

// Email returns the authenticated email, the token subject
func Email(c *gin.Context) string {
	return c.GetString(EmailKey)
}

// RateRule limits every path starting with Prefix
type RateRule struct {
	Prefix string
	Limit  rate.Limit
	Burst  int
}

// DefaultRateRules are applied per client IP to every request. They throttle
// credential guessing and leave read endpoints generous.
var DefaultRateRules = []RateRule{
	{Prefix: "/api/login", Limit: rate.Limit(10.0 / 60.0), Burst: 5},
	{Prefix: "/api/register", Limit: rate.Limit(10.0 / 60.0), Burst: 5},
	{Prefix: "/api/", Limit: rate.Limit(1000.0 / 60.0), Burst: 50},
}

// AccountRateRules are applied per authenticated account, so the limiter
// using them must run after JWTAuth
var AccountRateRules = []RateRule{
	{Prefix: "/api/trade", Limit: rate.Limit(100.0 / 60.0), Burst: 10},
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per client and rule
type RateLimiter struct {
	rules []RateRule

	mu       sync.Mutex
	visitors map[string]*visitor
}

// NewRateLimiter creates a limiter. Paths matching no rule are not limited.
func NewRateLimiter(rules []RateRule) *RateLimiter {
	return &RateLimiter{
		rules:    rules,
		visitors: make(map[string]*visitor),
	}
}

func (rl *RateLimiter) getLimiter(path, clientID string) *rate.Limiter {
	var rule *RateRule
	for i := range rl.rules {
		if strings.HasPrefix(path, rl.rules[i].Prefix) {
			rule = &rl.rules[i]
			break
		}
	}
	if rule == nil {
		return nil
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	key := clientID + ":" + rule.Prefix
	v, exists := rl.visitors[key]
	if !exists {
		v = &visitor{limiter: rate.NewLimiter(rule.Limit, rule.Burst)}
		rl.visitors[key] = v
	}
	v.lastSeen = time.Now()
	return v.limiter
}

// Cleanup drops idle visitors every minute until ctx is done
func (rl *RateLimiter) Cleanup(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.mu.Lock()
			for key, v := range rl.visitors {
				if time.Since(v.lastSeen) > 3*time.Minute {
					delete(rl.visitors, key)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// Middleware returns the gin handler. Requests are keyed by account once
// JWTAuth has run, by client IP before that.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := c.ClientIP()
		if email := Email(c); email != "" {
			clientID = email
		}

		limiter := rl.getLimiter(c.Request.URL.Path, clientID)
		if limiter != nil && !limiter.Allow() {
			response.TooManyRequests(c, "Rate limit exceeded. Please try again later.")
			c.Abort()
			return
		}

		c.Next()
	}
}

// CORS allows the dashboard origins to call the API with credentials
func CORS(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Idempotency-Key", "X-Request-ID"},
		ExposeHeaders:    []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowOrigins = nil
		cfg.AllowAllOrigins = true
		cfg.AllowCredentials = false
	}
	return cors.New(cfg)
}

// RequestLogger tags each request with an id and logs it on completion
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set(RequestIDKey, requestID)
		c.Header("X-Request-ID", requestID)

		c.Next()

		status := c.Writer.Status()
		event := log.Info()
		switch {
		case status >= 500:
			event = log.Error()
		case status >= 400:
			event = log.Warn()
		}
		event.
			Str("request_id", requestID).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("request completed")
	}
}
