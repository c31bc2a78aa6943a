package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"visitorid/go-backend/internal/kvstore"
	"visitorid/go-backend/internal/platform/privacylog"
	"visitorid/go-backend/internal/platform/ratelimiter"

	"gopkg.in/yaml.v3"
)

const (
	DefaultCookieName       = "user-identity"
	DefaultRefreshExpiry    = 30 * 24 * time.Hour
	DefaultDelegationExpiry = 7 * 24 * time.Hour
	minCookieSecretBytes    = 32
)

var ErrCookieSecretRequired = errors.New("cookie secret is required")

// Config is built once at startup and passed by value afterwards.
type Config struct {
	Cookie   CookieConfig   `yaml:"cookie"`
	Identity IdentityConfig `yaml:"identity"`
	Storage  StorageConfig  `yaml:"storage"`
	Throttle ThrottleConfig `yaml:"throttle"`
	Log      LogConfig      `yaml:"log"`
}

type CookieConfig struct {
	Name string `yaml:"name"`
	// Secret is the base64 master secret for cookie signing.
	Secret        string        `yaml:"secret"`
	Secure        *bool         `yaml:"secure"`
	RefreshExpiry time.Duration `yaml:"refreshExpiry"`
}

type IdentityConfig struct {
	DelegationExpiry time.Duration `yaml:"delegationExpiry"`
}

type StorageConfig struct {
	Backend  string `yaml:"backend"`
	Path     string `yaml:"path"`
	Secret   string `yaml:"secret"`
	PoolSize int    `yaml:"poolSize"`
}

type ThrottleConfig struct {
	GenerationsPerMinute float64 `yaml:"generationsPerMinute"`
	Burst                int     `yaml:"burst"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Default() Config {
	secure := true
	return Config{
		Cookie: CookieConfig{
			Name:          DefaultCookieName,
			Secure:        &secure,
			RefreshExpiry: DefaultRefreshExpiry,
		},
		Identity: IdentityConfig{DelegationExpiry: DefaultDelegationExpiry},
		Storage:  StorageConfig{Backend: kvstore.BackendMemory},
		Log:      LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads defaults, then the YAML file at path (if any), then environment
// overrides, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	path = strings.TrimSpace(path)
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		var parsed Config
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
		Merge(&cfg, parsed)
	}
	ApplyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Merge(dst *Config, src Config) {
	if src.Cookie.Name != "" {
		dst.Cookie.Name = src.Cookie.Name
	}
	if src.Cookie.Secret != "" {
		dst.Cookie.Secret = src.Cookie.Secret
	}
	if src.Cookie.Secure != nil {
		dst.Cookie.Secure = src.Cookie.Secure
	}
	if src.Cookie.RefreshExpiry != 0 {
		dst.Cookie.RefreshExpiry = src.Cookie.RefreshExpiry
	}
	if src.Identity.DelegationExpiry != 0 {
		dst.Identity.DelegationExpiry = src.Identity.DelegationExpiry
	}
	if src.Storage.Backend != "" {
		dst.Storage.Backend = src.Storage.Backend
	}
	if src.Storage.Path != "" {
		dst.Storage.Path = src.Storage.Path
	}
	if src.Storage.Secret != "" {
		dst.Storage.Secret = src.Storage.Secret
	}
	if src.Storage.PoolSize != 0 {
		dst.Storage.PoolSize = src.Storage.PoolSize
	}
	if src.Throttle.GenerationsPerMinute != 0 {
		dst.Throttle.GenerationsPerMinute = src.Throttle.GenerationsPerMinute
	}
	if src.Throttle.Burst != 0 {
		dst.Throttle.Burst = src.Throttle.Burst
	}
	if src.Log.Level != "" {
		dst.Log.Level = src.Log.Level
	}
	if src.Log.Format != "" {
		dst.Log.Format = src.Log.Format
	}
}

func ApplyEnvOverrides(cfg *Config) {
	if v := envString("VISITORID_COOKIE_NAME"); v != "" {
		cfg.Cookie.Name = v
	}
	if v := envString("VISITORID_COOKIE_SECRET"); v != "" {
		cfg.Cookie.Secret = v
	}
	if cfg.Cookie.Secure != nil {
		secure := envBoolWithFallback("VISITORID_COOKIE_SECURE", *cfg.Cookie.Secure)
		cfg.Cookie.Secure = &secure
	}
	cfg.Cookie.RefreshExpiry = envDurationWithFallback("VISITORID_REFRESH_EXPIRY", cfg.Cookie.RefreshExpiry)
	cfg.Identity.DelegationExpiry = envDurationWithFallback("VISITORID_DELEGATION_EXPIRY", cfg.Identity.DelegationExpiry)
	if v := envString("VISITORID_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := envString("VISITORID_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := envString("VISITORID_STORAGE_SECRET"); v != "" {
		cfg.Storage.Secret = v
	}
	cfg.Storage.PoolSize = envBoundedIntWithFallback("VISITORID_STORAGE_POOL_SIZE", cfg.Storage.PoolSize, 0, 64)
	cfg.Throttle.GenerationsPerMinute = envFloatWithFallback("VISITORID_THROTTLE_PER_MINUTE", cfg.Throttle.GenerationsPerMinute)
	cfg.Throttle.Burst = envBoundedIntWithFallback("VISITORID_THROTTLE_BURST", cfg.Throttle.Burst, 0, 10_000)
	if v := envString("VISITORID_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := envString("VISITORID_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Cookie.Name) == "" {
		return errors.New("cookie name is required")
	}
	if _, err := c.CookieMasterSecret(); err != nil {
		return err
	}
	if c.Cookie.RefreshExpiry <= 0 {
		return fmt.Errorf("refresh expiry must be positive, got %s", c.Cookie.RefreshExpiry)
	}
	if c.Identity.DelegationExpiry <= 0 {
		return fmt.Errorf("delegation expiry must be positive, got %s", c.Identity.DelegationExpiry)
	}
	switch strings.ToLower(strings.TrimSpace(c.Storage.Backend)) {
	case kvstore.BackendMemory:
	case kvstore.BackendFile, kvstore.BackendSQLite:
		if strings.TrimSpace(c.Storage.Path) == "" {
			return fmt.Errorf("storage path is required for backend %q", c.Storage.Backend)
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Throttle.GenerationsPerMinute < 0 || c.Throttle.Burst < 0 {
		return errors.New("throttle values must not be negative")
	}
	return nil
}

// CookieMasterSecret decodes the configured base64 cookie secret.
func (c Config) CookieMasterSecret() ([]byte, error) {
	raw := strings.TrimSpace(c.Cookie.Secret)
	if raw == "" {
		return nil, ErrCookieSecretRequired
	}
	secret, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("cookie secret is not valid base64: %w", err)
	}
	if len(secret) < minCookieSecretBytes {
		return nil, fmt.Errorf("cookie secret must decode to at least %d bytes, got %d", minCookieSecretBytes, len(secret))
	}
	return secret, nil
}

func (c Config) CookieSecure() bool {
	return c.Cookie.Secure == nil || *c.Cookie.Secure
}

func (c Config) StorageOptions(logger *slog.Logger) kvstore.Options {
	return kvstore.Options{
		Backend:  c.Storage.Backend,
		Path:     c.Storage.Path,
		Secret:   c.Storage.Secret,
		PoolSize: c.Storage.PoolSize,
		Logger:   logger,
	}
}

// NewLogger builds the process logger. Every record passes through the
// privacy sanitizer before reaching w.
func (c LogConfig) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(c.Level)}
	var handler slog.Handler
	if strings.EqualFold(strings.TrimSpace(c.Format), "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(privacylog.WrapHandler(handler))
}

func parseLevel(raw string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(raw))); err != nil {
		return slog.LevelInfo
	}
	return level
}

// Limiter returns nil when generation throttling is not configured.
func (c ThrottleConfig) Limiter() *ratelimiter.KeyedLimiter {
	return ratelimiter.New(ratelimiter.Config{PerMinute: c.GenerationsPerMinute, Burst: c.Burst})
}
