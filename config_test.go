package goElevate

import "testing"

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if !cfg.Production {
		t.Fatal("defaults must be production-safe")
	}
	if cfg.degradedAllowed() || cfg.sentinel() != "" {
		t.Fatal("production defaults must not allow degraded mode or a sentinel")
	}
}

func TestConfigValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"username bounds":   func(c *Config) { c.Credentials.MaxUsernameLength = 1 },
		"password bounds":   func(c *Config) { c.Credentials.MinPasswordLength = 0 },
		"captcha threshold": func(c *Config) { c.Credentials.CaptchaThreshold = 0 },
		"timeout":           func(c *Config) { c.BotMitigation.Timeout = 0 },
		"sentinel in prod":  func(c *Config) { c.BotMitigation.SentinelToken = "x" },
		"max attempts":      func(c *Config) { c.TwoFactor.MaxAttempts = 0 },
		"confirm attempts":  func(c *Config) { c.Session.ElevateConfirmAttempts = 0 },
		"reconnect bounds":  func(c *Config) { c.Bridge.ReconnectMax = c.Bridge.ReconnectMin / 2 },
		"dedup window":      func(c *Config) { c.Bridge.DedupWindow = 0 },
		"audit buffer": func(c *Config) {
			c.Audit.Enabled = true
			c.Audit.BufferSize = 0
		},
	}
	for name, mutate := range cases {
		cfg := DefaultConfig()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestDegradedOnlyOutsideProduction(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BotMitigation.AllowDegraded = true
	if cfg.degradedAllowed() {
		t.Fatal("degraded mode must be ignored in production")
	}
	cfg.Production = false
	cfg.BotMitigation.SentinelToken = "dev"
	if !cfg.degradedAllowed() || cfg.sentinel() != "dev" {
		t.Fatal("expected degraded mode and sentinel outside production")
	}
}
