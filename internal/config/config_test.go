package config

import (
	"bytes"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var testSecret = base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{9}, 32))

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesYAMLOverDefaults(t *testing.T) {
	path := writeConfig(t, `
cookie:
  secret: `+testSecret+`
  secure: false
identity:
  delegationExpiry: 24h
storage:
  backend: sqlite
  path: /var/lib/visitorid/kv.db
throttle:
  generationsPerMinute: 30
  burst: 5
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Cookie.Name != DefaultCookieName {
		t.Fatalf("expected default cookie name, got %q", cfg.Cookie.Name)
	}
	if cfg.CookieSecure() {
		t.Fatal("expected secure=false from yaml")
	}
	if cfg.Cookie.RefreshExpiry != DefaultRefreshExpiry {
		t.Fatalf("unexpected refresh expiry %s", cfg.Cookie.RefreshExpiry)
	}
	if cfg.Identity.DelegationExpiry != 24*time.Hour {
		t.Fatalf("unexpected delegation expiry %s", cfg.Identity.DelegationExpiry)
	}
	if cfg.Storage.Backend != "sqlite" || cfg.Throttle.Burst != 5 {
		t.Fatalf("unexpected storage/throttle config: %+v %+v", cfg.Storage, cfg.Throttle)
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("VISITORID_COOKIE_SECRET", testSecret)
	t.Setenv("VISITORID_STORAGE_BACKEND", "file")
	t.Setenv("VISITORID_STORAGE_PATH", "/tmp/kv.json")
	t.Setenv("VISITORID_DELEGATION_EXPIRY", "1h")
	t.Setenv("VISITORID_COOKIE_SECURE", "off")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Backend != "file" || cfg.Storage.Path != "/tmp/kv.json" {
		t.Fatalf("env storage override not applied: %+v", cfg.Storage)
	}
	if cfg.Identity.DelegationExpiry != time.Hour {
		t.Fatalf("env delegation override not applied: %s", cfg.Identity.DelegationExpiry)
	}
	if cfg.CookieSecure() {
		t.Fatal("env secure override not applied")
	}
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	cases := map[string]func(*Config){
		"missing secret": func(c *Config) { c.Cookie.Secret = "" },
		"short secret":   func(c *Config) { c.Cookie.Secret = base64.StdEncoding.EncodeToString([]byte("short")) },
		"bad base64":     func(c *Config) { c.Cookie.Secret = "%%%" },
		"no path":        func(c *Config) { c.Storage.Backend = "file" },
		"bad backend":    func(c *Config) { c.Storage.Backend = "redis" },
		"zero expiry":    func(c *Config) { c.Identity.DelegationExpiry = 0 },
		"negative burst": func(c *Config) { c.Throttle.Burst = -1 },
	}
	for name, mutate := range cases {
		cfg := Default()
		cfg.Cookie.Secret = testSecret
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestNewLoggerSanitizes(t *testing.T) {
	var buf bytes.Buffer
	logger := LogConfig{Level: "debug", Format: "json"}.NewLogger(&buf)
	logger.Debug("issued", "principal", "aaaaa-aa", "to_secret", "jwk")
	out := buf.String()
	if strings.Contains(out, "aaaaa-aa") || strings.Contains(out, `"jwk"`) {
		t.Fatalf("logger leaked sensitive values: %s", out)
	}
	if !strings.Contains(out, "principal_fp") {
		t.Fatalf("expected fingerprinted principal: %s", out)
	}
}

func TestThrottleLimiterDisabledByDefault(t *testing.T) {
	if Default().Throttle.Limiter() != nil {
		t.Fatal("default config must not throttle")
	}
	throttle := ThrottleConfig{GenerationsPerMinute: 6, Burst: 1}
	if throttle.Limiter() == nil {
		t.Fatal("configured throttle must build a limiter")
	}
}
