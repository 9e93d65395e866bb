package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":8080")
	}
	if cfg.JWTIssuer != "ams-auth" {
		t.Errorf("JWTIssuer = %q, want %q", cfg.JWTIssuer, "ams-auth")
	}
	if cfg.JWTAccessTTL != "15m" {
		t.Errorf("JWTAccessTTL = %q, want %q", cfg.JWTAccessTTL, "15m")
	}
	if cfg.BcryptCost != 12 {
		t.Errorf("BcryptCost = %d, want 12", cfg.BcryptCost)
	}
	if cfg.MaxActiveSessions != 5 {
		t.Errorf("MaxActiveSessions = %d, want 5", cfg.MaxActiveSessions)
	}
	if cfg.BlacklistBackend != "postgres" {
		t.Errorf("BlacklistBackend = %q, want postgres", cfg.BlacklistBackend)
	}
	if cfg.DevCodeCapture {
		t.Error("DevCodeCapture should default to false")
	}
	if cfg.SweepEvery() != time.Minute {
		t.Errorf("SweepEvery = %v, want 1m", cfg.SweepEvery())
	}
}

func TestLoad_EnvVarOverride(t *testing.T) {
	os.Clearenv()
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("JWT_ISSUER", "custom-issuer")
	t.Setenv("BCRYPT_COST", "14")
	t.Setenv("MAX_ACTIVE_SESSIONS", "3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":9090" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":9090")
	}
	if cfg.JWTIssuer != "custom-issuer" {
		t.Errorf("JWTIssuer = %q, want %q", cfg.JWTIssuer, "custom-issuer")
	}
	if cfg.BcryptCost != 14 {
		t.Errorf("BcryptCost = %d, want 14", cfg.BcryptCost)
	}
	if cfg.MaxActiveSessions != 3 {
		t.Errorf("MaxActiveSessions = %d, want 3", cfg.MaxActiveSessions)
	}
}

func TestLoad_Validation(t *testing.T) {
	testCases := []struct {
		name string
		env  map[string]string
	}{
		{"bcrypt too low", map[string]string{"BCRYPT_COST": "3"}},
		{"bcrypt too high", map[string]string{"BCRYPT_COST": "32"}},
		{"zero sessions", map[string]string{"MAX_ACTIVE_SESSIONS": "0"}},
		{"unknown backend", map[string]string{"BLACKLIST_BACKEND": "memcached"}},
		{"redis without addr", map[string]string{"BLACKLIST_BACKEND": "redis"}},
		{"bad smtp tls", map[string]string{"SMTP_TLS": "maybe"}},
		{"dev capture in production", map[string]string{"DEV_CODE_CAPTURE": "true", "APP_ENV": "production"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			os.Clearenv()
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatalf("Load with %v: want error", tc.env)
			}
		})
	}
}

func TestLoad_RedisBackend(t *testing.T) {
	os.Clearenv()
	t.Setenv("BLACKLIST_BACKEND", "Redis")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BlacklistBackend != "redis" {
		t.Errorf("BlacklistBackend = %q, want redis", cfg.BlacklistBackend)
	}
}

func TestConfig_TTLs(t *testing.T) {
	testCases := []struct {
		name    string
		access  string
		refresh string
		wantA   time.Duration
		wantR   time.Duration
	}{
		{"go durations", "30m", "24h", 30 * time.Minute, 24 * time.Hour},
		{"days suffix", "15m", "7d", 15 * time.Minute, 7 * 24 * time.Hour},
		{"invalid falls back", "soon", "-1h", 15 * time.Minute, 168 * time.Hour},
		{"empty falls back", "", "", 15 * time.Minute, 168 * time.Hour},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := &Config{JWTAccessTTL: tc.access, JWTRefreshTTL: tc.refresh}
			if got := c.AccessTTL(); got != tc.wantA {
				t.Errorf("AccessTTL = %v, want %v", got, tc.wantA)
			}
			if got := c.RefreshTTL(); got != tc.wantR {
				t.Errorf("RefreshTTL = %v, want %v", got, tc.wantR)
			}
		})
	}
}

func TestConfig_Secrets(t *testing.T) {
	access := "access-secret-0123456789abcdefghijklmnop"
	refresh := "refresh-secret-0123456789abcdefghijklmno"

	dir := t.TempDir()
	path := filepath.Join(dir, "refresh.key")
	if err := os.WriteFile(path, []byte(refresh+"\n"), 0o600); err != nil {
		t.Fatalf("write secret: %v", err)
	}

	c := &Config{JWTAccessSecret: access, JWTRefreshSecret: "file:" + path}
	a, r, err := c.Secrets()
	if err != nil {
		t.Fatalf("Secrets: %v", err)
	}
	if string(a) != access || string(r) != refresh {
		t.Errorf("Secrets = %q, %q", a, r)
	}

	same := &Config{JWTAccessSecret: access, JWTRefreshSecret: access}
	if _, _, err := same.Secrets(); err == nil {
		t.Error("Secrets with identical values: want error")
	}

	short := &Config{JWTAccessSecret: "short", JWTRefreshSecret: refresh}
	if _, _, err := short.Secrets(); err == nil {
		t.Error("Secrets with short access secret: want error")
	}

	missing := &Config{JWTAccessSecret: access, JWTRefreshSecret: "file:" + filepath.Join(dir, "nope")}
	if _, _, err := missing.Secrets(); err == nil {
		t.Error("Secrets with missing file: want error")
	}
}
