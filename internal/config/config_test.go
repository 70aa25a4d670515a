package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Port != "8080" {
		t.Errorf("expected port 8080, got %s", cfg.Port)
	}
	if !cfg.StartingBalance.Equal(decimal.NewFromInt(1000000)) {
		t.Errorf("expected starting balance 1000000, got %s", cfg.StartingBalance)
	}
	if cfg.TokenTTL != 30*time.Minute {
		t.Errorf("expected 30m token ttl, got %s", cfg.TokenTTL)
	}
}

func TestValidate_MissingSecret(t *testing.T) {
	cfg := Default()

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected default config without secret to be invalid")
	}

	found := false
	for _, f := range FieldErrors(err) {
		if f.Field == "jwt_secret_key" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected jwt_secret_key error, got %v", err)
	}
}

func TestValidate_ReportsEveryField(t *testing.T) {
	cfg := Default()
	cfg.JWTSecret = "secret"
	cfg.Port = "http"
	cfg.DBDriver = "mysql"
	cfg.StartingBalance = decimal.Zero

	fields := FieldErrors(cfg.Validate())
	if len(fields) != 3 {
		t.Fatalf("expected 3 field errors, got %d: %v", len(fields), fields)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte("port: \"9090\"\njwt_secret_key: from-file\nstarting_balance: 5000.50\nprice_timeout: 3s\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("JWT_SECRET_KEY", "from-env")
	t.Setenv("COMMIT_TIMEOUT", "2s")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() unexpected error = %v", err)
	}

	if cfg.Port != "9090" {
		t.Errorf("expected port from file, got %s", cfg.Port)
	}
	if cfg.JWTSecret != "from-env" {
		t.Errorf("expected env to override file, got %s", cfg.JWTSecret)
	}
	if !cfg.StartingBalance.Equal(decimal.RequireFromString("5000.50")) {
		t.Errorf("expected starting balance 5000.50, got %s", cfg.StartingBalance)
	}
	if cfg.PriceTimeout != 3*time.Second {
		t.Errorf("expected price timeout 3s, got %s", cfg.PriceTimeout)
	}
	if cfg.CommitTimeout != 2*time.Second {
		t.Errorf("expected commit timeout 2s, got %s", cfg.CommitTimeout)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("unexpected origins %v", cfg.AllowedOrigins)
	}
}

func TestLoad_PostgresURL(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", "secret")
	t.Setenv("POSTGRES_URL", "postgres://trader:pw@localhost:5432/trading?sslmode=require")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() unexpected error = %v", err)
	}
	if cfg.DBDriver != "postgres" {
		t.Errorf("expected postgres driver, got %s", cfg.DBDriver)
	}
}

func TestLoad_BadDuration(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", "secret")
	t.Setenv("PRICE_TIMEOUT", "soon")

	if _, err := Load(); err == nil {
		t.Error("expected error for unparsable duration")
	}
}

func TestLoadDataService_NoSecretNeeded(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", "")
	t.Setenv("MARKETDATA_PROVIDER", "simulated")

	cfg, err := LoadDataService()
	if err != nil {
		t.Fatalf("LoadDataService() unexpected error = %v", err)
	}
	if cfg.MarketDataProvider != "simulated" {
		t.Errorf("expected simulated provider, got %s", cfg.MarketDataProvider)
	}

	if _, err := Load(); err == nil {
		t.Error("expected the API server config to still require a secret")
	}
}
