package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/ksred/marketracker-api/internal/database"
	"github.com/ksred/marketracker-api/pkg/apperror"
	"github.com/ksred/marketracker-api/pkg/middleware"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	return NewService(database.SetupTestDB(t), Options{
		JWTSecret:       "test-secret",
		TokenTTL:        30 * time.Minute,
		StartingBalance: decimal.NewFromInt(1000000),
		BcryptCost:      bcrypt.MinCost,
	})
}

func TestRegister(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, Credentials{Email: "  A@X.com ", Password: "pw1"})
	if err != nil {
		t.Fatalf("Register() unexpected error = %v", err)
	}
	if user.Email != "a@x.com" {
		t.Errorf("expected normalized email, got %q", user.Email)
	}
	if !user.CashBalance.Equal(decimal.NewFromInt(1000000)) {
		t.Errorf("expected starting balance 1000000, got %s", user.CashBalance)
	}
	if bytes.Equal(user.PasswordHash, []byte("pw1")) {
		t.Error("password stored in clear text")
	}

	if _, err := svc.Register(ctx, Credentials{Email: "a@x.com", Password: "other"}); !errors.Is(err, apperror.ErrEmailExists) {
		t.Errorf("expected ErrEmailExists, got %v", err)
	}
	if _, err := svc.Register(ctx, Credentials{Email: "b@x.com"}); !errors.Is(err, apperror.ErrMissingFields) {
		t.Errorf("expected ErrMissingFields, got %v", err)
	}
}

func TestLogin(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, Credentials{Email: "a@x.com", Password: "pw1"}); err != nil {
		t.Fatalf("Register() unexpected error = %v", err)
	}

	if _, err := svc.Login(ctx, Credentials{Email: "a@x.com", Password: "wrong"}); !errors.Is(err, apperror.ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials for wrong password, got %v", err)
	}
	if _, err := svc.Login(ctx, Credentials{Email: "nobody@x.com", Password: "pw1"}); !errors.Is(err, apperror.ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials for unknown email, got %v", err)
	}

	resp, err := svc.Login(ctx, Credentials{Email: "A@x.com", Password: "pw1"})
	if err != nil {
		t.Fatalf("Login() unexpected error = %v", err)
	}
	if resp.AccessToken == "" {
		t.Fatal("expected an access token")
	}
	if resp.User.VirtualBalance != 1000000 {
		t.Errorf("expected balance 1000000, got %v", resp.User.VirtualBalance)
	}

	id, email, err := svc.Authenticate(ctx, resp.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate() unexpected error = %v", err)
	}
	if id == 0 || email != "a@x.com" {
		t.Errorf("unexpected identity %d %q", id, email)
	}
}

func TestValidateToken(t *testing.T) {
	svc := newTestService(t)

	token, _, err := svc.GenerateToken("a@x.com")
	if err != nil {
		t.Fatalf("GenerateToken() unexpected error = %v", err)
	}
	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken() unexpected error = %v", err)
	}
	if claims.Subject != "a@x.com" {
		t.Errorf("expected subject a@x.com, got %q", claims.Subject)
	}

	t.Run("expired", func(t *testing.T) {
		svc.now = func() time.Time { return time.Now().Add(-time.Hour) }
		old, _, err := svc.GenerateToken("a@x.com")
		svc.now = time.Now
		if err != nil {
			t.Fatalf("GenerateToken() unexpected error = %v", err)
		}
		if _, err := svc.ValidateToken(old); !errors.Is(err, apperror.ErrTokenExpired) {
			t.Errorf("expected ErrTokenExpired, got %v", err)
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		forged := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
			Subject:   "a@x.com",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		})
		signed, _ := forged.SignedString([]byte("not-the-secret"))
		if _, err := svc.ValidateToken(signed); !errors.Is(err, apperror.ErrInvalidToken) {
			t.Errorf("expected ErrInvalidToken, got %v", err)
		}
	})

	t.Run("garbage", func(t *testing.T) {
		if _, err := svc.ValidateToken("not.a.token"); !errors.Is(err, apperror.ErrInvalidToken) {
			t.Errorf("expected ErrInvalidToken, got %v", err)
		}
	})
}

func TestAuthenticateDeletedUser(t *testing.T) {
	svc := newTestService(t)

	token, _, err := svc.GenerateToken("ghost@x.com")
	if err != nil {
		t.Fatalf("GenerateToken() unexpected error = %v", err)
	}
	if _, _, err := svc.Authenticate(context.Background(), token); !errors.Is(err, apperror.ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}
}

func TestHandlers(t *testing.T) {
	svc := newTestService(t)
	h := NewGinHandlers(svc)

	r := gin.New()
	r.POST("/api/register", h.RegisterHandler())
	r.POST("/api/login", h.LoginHandler())
	r.GET("/api/test-auth", middleware.JWTAuth(svc), h.TestAuthHandler())

	post := func(path, body string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)
		return w
	}

	if w := post("/api/register", `{"email":"a@x.com","password":"pw1"}`); w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if w := post("/api/register", `{"email":"a@x.com","password":"pw1"}`); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for duplicate, got %d", w.Code)
	}
	if w := post("/api/register", `{"email":"c@x.com"}`); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing password, got %d", w.Code)
	}
	if w := post("/api/login", `{"email":"a@x.com","password":"nope"}`); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for wrong password, got %d", w.Code)
	}

	w := post("/api/login", `{"email":"a@x.com","password":"pw1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var login LoginResponse
	if err := json.Unmarshal(w.Body.Bytes(), &login); err != nil {
		t.Fatalf("failed to decode login: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/test-auth", nil)
	req.Header.Set("Authorization", "Bearer "+login.AccessToken)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 from test-auth, got %d", w.Code)
	}
	var body map[string]string
	json.Unmarshal(w.Body.Bytes(), &body)
	if body["user_id"] != "a@x.com" {
		t.Errorf("expected identity a@x.com, got %q", body["user_id"])
	}
}
