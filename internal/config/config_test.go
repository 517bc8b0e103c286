package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DATA_DIR", dir)
	t.Setenv("JWT_SECRET", "unit-secret")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 8080 || cfg.StoreBackend != "file" {
		t.Fatalf("unexpected defaults: port=%d backend=%s", cfg.Port, cfg.StoreBackend)
	}
	if cfg.AuthRateLimit != (RateLimit{Requests: 5, Window: 15 * time.Minute}) {
		t.Fatalf("auth limit %+v", cfg.AuthRateLimit)
	}
	if cfg.UploadRateLimit != (RateLimit{Requests: 10, Window: time.Minute}) {
		t.Fatalf("upload limit %+v", cfg.UploadRateLimit)
	}
	if cfg.MaxUploadBytes != 10<<20 {
		t.Fatalf("max upload %d", cfg.MaxUploadBytes)
	}
	if cfg.Domains.Primary == "" || cfg.MainSiteURL != "https://"+cfg.Domains.Primary {
		t.Fatalf("main site url %q for primary %q", cfg.MainSiteURL, cfg.Domains.Primary)
	}
	if string(cfg.JWTSecret) != "unit-secret" {
		t.Fatalf("jwt secret %q", cfg.JWTSecret)
	}
}

func TestLoadJWTSecretFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "jwt")
	if err := os.WriteFile(path, []byte("from-file\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("DATA_DIR", dir)
	t.Setenv("JWT_SECRET", "")
	t.Setenv("JWT_SECRET_FILE", path)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(cfg.JWTSecret) != "from-file" {
		t.Fatalf("jwt secret %q", cfg.JWTSecret)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"PORT":              "eighty",
		"AUTH_RATE_LIMIT":   "5",
		"UPLOAD_RATE_LIMIT": "ten/1m",
		"SANITIZE_HTML":     "perhaps",
		"STORE_BACKEND":     "sqlite",
		"CSRF_TOKEN_TTL":    "-1h",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv("DATA_DIR", t.TempDir())
			t.Setenv("JWT_SECRET", "x")
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%s", key, value)
			}
		})
	}
}

func TestPostgresRequiresURL(t *testing.T) {
	t.Setenv("DATA_DIR", t.TempDir())
	t.Setenv("JWT_SECRET", "x")
	t.Setenv("STORE_BACKEND", "postgres")
	t.Setenv("DATABASE_URL", "")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error without DATABASE_URL")
	}
}

func TestGetEnvRate(t *testing.T) {
	t.Setenv("TEST_RATE", "7/30s")
	got, err := getEnvRate("TEST_RATE", RateLimit{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got != (RateLimit{Requests: 7, Window: 30 * time.Second}) {
		t.Fatalf("got %+v", got)
	}
}

func TestLockDuration(t *testing.T) {
	tiers, err := parseLockoutTiers("10:5m, 3:30s")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	cfg := &Config{LoginLockTiers: tiers}
	cases := map[int]time.Duration{1: 0, 3: 30 * time.Second, 9: 30 * time.Second, 10: 5 * time.Minute, 40: 5 * time.Minute}
	for failures, want := range cases {
		if got := cfg.LockDuration(failures); got != want {
			t.Fatalf("LockDuration(%d) = %s, want %s", failures, got, want)
		}
	}
	none, err := parseLockoutTiers("none")
	if err != nil || len(none) != 0 {
		t.Fatalf("expected no tiers, got %v %v", none, err)
	}
}
