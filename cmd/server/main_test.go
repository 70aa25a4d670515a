package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/ksred/marketracker-api/internal/config"
	"github.com/ksred/marketracker-api/internal/database"
	"github.com/ksred/marketracker-api/internal/marketdata"
)

func setupTestApp(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Default()
	cfg.JWTSecret = "test-secret"
	cfg.AllowedOrigins = nil

	a := newApp(cfg, database.SetupTestDB(t), marketdata.FixedPrice(150))
	t.Cleanup(a.stream.Close)
	return a.setupRouter()
}

func do(t *testing.T, r http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAccountAndPortfolioFlow(t *testing.T) {
	r := setupTestApp(t)
	creds := map[string]string{"email": "a@x.com", "password": "p"}

	if w := do(t, r, http.MethodPost, "/api/register", "", creds); w.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d: %s", w.Code, w.Body.String())
	}

	wrong := map[string]string{"email": "a@x.com", "password": "nope"}
	if w := do(t, r, http.MethodPost, "/api/login", "", wrong); w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password: expected 401, got %d", w.Code)
	}

	w := do(t, r, http.MethodPost, "/api/login", "", creds)
	if w.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var login struct {
		AccessToken string `json:"access_token"`
		User        struct {
			Email          string  `json:"email"`
			VirtualBalance float64 `json:"virtual_balance"`
		} `json:"user"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &login); err != nil {
		t.Fatalf("login: bad body %s", w.Body.String())
	}
	if login.AccessToken == "" || login.User.VirtualBalance != 1000000 {
		t.Fatalf("login: unexpected body %s", w.Body.String())
	}

	if w := do(t, r, http.MethodGet, "/api/portfolio", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("portfolio without token: expected 401, got %d", w.Code)
	}

	w = do(t, r, http.MethodGet, "/api/portfolio", login.AccessToken, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("portfolio: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	want := `{"portfolio":[],"total_value":1000000,"cash_balance":1000000}`
	if w.Body.String() != want {
		t.Errorf("portfolio: expected %s, got %s", want, w.Body.String())
	}
}

func TestTradeFlow(t *testing.T) {
	r := setupTestApp(t)
	creds := map[string]string{"email": "b@x.com", "password": "p"}
	do(t, r, http.MethodPost, "/api/register", "", creds)

	var login struct {
		AccessToken string `json:"access_token"`
	}
	json.Unmarshal(do(t, r, http.MethodPost, "/api/login", "", creds).Body.Bytes(), &login)

	trade := map[string]any{"symbol": "aapl", "action": "buy", "shares": 10}
	w := do(t, r, http.MethodPost, "/api/trade", login.AccessToken, trade)
	if w.Code != http.StatusOK {
		t.Fatalf("trade: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = do(t, r, http.MethodGet, "/api/portfolio", login.AccessToken, nil)
	var summary struct {
		Portfolio []struct {
			Symbol string `json:"symbol"`
			Shares int64  `json:"shares"`
		} `json:"portfolio"`
		TotalValue  float64 `json:"total_value"`
		CashBalance float64 `json:"cash_balance"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &summary); err != nil {
		t.Fatalf("portfolio: bad body %s", w.Body.String())
	}
	if len(summary.Portfolio) != 1 || summary.Portfolio[0].Symbol != "AAPL" || summary.Portfolio[0].Shares != 10 {
		t.Errorf("unexpected holdings %+v", summary.Portfolio)
	}
	if summary.CashBalance != 998500 || summary.TotalValue != 1000000 {
		t.Errorf("unexpected totals cash=%v total=%v", summary.CashBalance, summary.TotalValue)
	}

	sell := map[string]any{"symbol": "AAPL", "action": "sell", "shares": 11}
	if w := do(t, r, http.MethodPost, "/api/trade", login.AccessToken, sell); w.Code != http.StatusBadRequest {
		t.Errorf("oversell: expected 400, got %d", w.Code)
	}
}

func TestHealthAndPublicRoutes(t *testing.T) {
	r := setupTestApp(t)

	if w := do(t, r, http.MethodGet, "/health", "", nil); w.Code != http.StatusOK {
		t.Errorf("health: expected 200, got %d", w.Code)
	}
	w := do(t, r, http.MethodGet, "/api/search?q=", "", nil)
	if w.Code != http.StatusOK || w.Body.String() != "[]" {
		t.Errorf("search: expected empty list, got %d %s", w.Code, w.Body.String())
	}
	if w := do(t, r, http.MethodGet, "/api/test-auth", "garbage", nil); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("test-auth with bad token: expected 422, got %d", w.Code)
	}
}
