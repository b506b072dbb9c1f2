package app

import (
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		JWTSecret:          "0123456789abcdef",
		StoreDriver:        StoreDriverMemory,
		AuditSink:          AuditSinkLog,
		IncludeMaxDepth:    8,
		RateLimitPerMinute: 60,
		PGMaxConns:         10,
	}
}

func TestConfigValidate(t *testing.T) {
	if cfg := validConfig(); cfg.Validate() != nil {
		t.Fatalf("expected valid config, got %v", cfg.Validate())
	}
	cases := map[string]func(*Config){
		"short secret":  func(c *Config) { c.JWTSecret = "secret" },
		"store driver":  func(c *Config) { c.StoreDriver = "mongo" },
		"audit sink":    func(c *Config) { c.AuditSink = "kafka" },
		"include depth": func(c *Config) { c.IncludeMaxDepth = 0 },
		"rate limit":    func(c *Config) { c.RateLimitPerMinute = -1 },
		"log level":     func(c *Config) { c.LogLevel = "loud" },
		"pool bounds":   func(c *Config) { c.PGMinConns = 11 },
	}
	for name, mutate := range cases {
		cfg := validConfig()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("JWT_SECRET", "0123456789abcdef0123")
	t.Setenv("STORE_DRIVER", StoreDriverMemory)
	t.Setenv("ROLE_CACHE_TTL", "90s")
	t.Setenv("APP_ENV", "production")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.RoleCacheTTL != 90*time.Second {
		t.Fatalf("expected 90s role cache ttl, got %s", cfg.RoleCacheTTL)
	}
	if cfg.AuditSink != AuditSinkDB || cfg.IncludeMaxDepth != 8 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if !cfg.IsProduction() {
		t.Fatalf("expected production")
	}

	t.Setenv("JWT_SECRET", "short")
	if _, err := LoadConfig(); err == nil {
		t.Fatalf("expected error for short secret")
	}
}

func TestInTestMode(t *testing.T) {
	t.Setenv(testModeEnv, "1")
	RefreshTestMode()
	if !InTestMode() {
		t.Fatalf("expected test mode")
	}
	for _, off := range []string{"", "0", "maybe"} {
		t.Setenv(testModeEnv, off)
		RefreshTestMode()
		if InTestMode() {
			t.Fatalf("%q: expected test mode off", off)
		}
	}
	t.Setenv(testModeEnv, " true ")
	RefreshTestMode()
	if !InTestMode() {
		t.Fatalf("expected test mode for true")
	}
}
