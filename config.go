package goElevate

import (
	"errors"
	"time"
)

// Config is the client configuration. Start from [DefaultConfig].
type Config struct {
	// Production disables the bot-mitigation sentinel and degraded mode.
	Production bool

	Credentials   CredentialConfig
	BotMitigation BotMitigationConfig
	TwoFactor     TwoFactorConfig
	Session       SessionConfig
	Bridge        BridgeConfig
	Redirect      RedirectConfig
	Audit         AuditConfig
	Metrics       MetricsConfig
}

/*
====================================
CREDENTIAL CONFIG
====================================
*/

// CredentialConfig mirrors the server's length policy so obviously invalid
// input never costs a round trip. The server stays authoritative.
type CredentialConfig struct {
	MinUsernameLength int
	MaxUsernameLength int
	MinPasswordLength int
	MaxPasswordLength int

	// CaptchaThreshold is the local failure count after which a visible
	// CAPTCHA is attached up front. It mirrors the server threshold.
	CaptchaThreshold int
}

/*
====================================
BOT MITIGATION CONFIG
====================================
*/

type BotMitigationConfig struct {
	Timeout  time.Duration
	TokenTTL time.Duration

	// SentinelToken replaces the provider outside production.
	SentinelToken string

	// AllowDegraded lets logins proceed without a token when acquisition
	// fails. Ignored in production.
	AllowDegraded bool
}

/*
====================================
TWO-FACTOR CONFIG
====================================
*/

// CodeLength is the fixed length of an authenticator code.
const CodeLength = 6

type TwoFactorConfig struct {
	MaxAttempts int
}

/*
====================================
SESSION CONFIG
====================================
*/

type SessionConfig struct {
	// ElevateConfirmAttempts bounds the refreshes that confirm an elevation.
	ElevateConfirmAttempts int
	ElevateConfirmDelay    time.Duration
}

/*
====================================
PUSH BRIDGE CONFIG
====================================
*/

type BridgeConfig struct {
	ReconnectMin time.Duration
	ReconnectMax time.Duration

	// DedupWindow is how many recent event ids are remembered.
	DedupWindow int
}

// RedirectConfig maps roles to paths. Empty fields use the defaults.
type RedirectConfig struct {
	AdminPath      string
	EmployeePath   string
	ContractorPath string
	ClientPath     string
}

/*
====================================
OBSERVABILITY CONFIG
====================================
*/

type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns production-safe defaults.
func DefaultConfig() Config {
	return Config{
		Production: true,
		Credentials: CredentialConfig{
			MinUsernameLength: 3,
			MaxUsernameLength: 128,
			MinPasswordLength: 8,
			MaxPasswordLength: 256,
			CaptchaThreshold:  5,
		},
		BotMitigation: BotMitigationConfig{
			Timeout:  5 * time.Second,
			TokenTTL: 2 * time.Minute,
		},
		TwoFactor: TwoFactorConfig{
			MaxAttempts: 5,
		},
		Session: SessionConfig{
			ElevateConfirmAttempts: 3,
			ElevateConfirmDelay:    250 * time.Millisecond,
		},
		Bridge: BridgeConfig{
			ReconnectMin: 500 * time.Millisecond,
			ReconnectMax: 30 * time.Second,
			DedupWindow:  256,
		},
		Redirect: DefaultRedirectConfig(),
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 128,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
	}
}

// DefaultRedirectConfig returns the standard role destinations.
func DefaultRedirectConfig() RedirectConfig {
	return RedirectConfig{
		AdminPath:      "/admin",
		EmployeePath:   "/employee",
		ContractorPath: "/contractor",
		ClientPath:     "/dashboard",
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	cr := c.Credentials
	if cr.MinUsernameLength < 1 || cr.MaxUsernameLength < cr.MinUsernameLength {
		return errors.New("Credentials username bounds are invalid")
	}
	if cr.MinPasswordLength < 1 || cr.MaxPasswordLength < cr.MinPasswordLength {
		return errors.New("Credentials password bounds are invalid")
	}
	if cr.CaptchaThreshold <= 0 {
		return errors.New("Credentials CaptchaThreshold must be > 0")
	}

	if c.BotMitigation.Timeout <= 0 {
		return errors.New("BotMitigation Timeout must be > 0")
	}
	if c.BotMitigation.TokenTTL <= 0 {
		return errors.New("BotMitigation TokenTTL must be > 0")
	}
	if c.Production && c.BotMitigation.SentinelToken != "" {
		return errors.New("BotMitigation SentinelToken is not allowed in production")
	}

	if c.TwoFactor.MaxAttempts <= 0 {
		return errors.New("TwoFactor MaxAttempts must be > 0")
	}

	if c.Session.ElevateConfirmAttempts <= 0 {
		return errors.New("Session ElevateConfirmAttempts must be > 0")
	}
	if c.Session.ElevateConfirmDelay < 0 {
		return errors.New("Session ElevateConfirmDelay must be >= 0")
	}

	if c.Bridge.ReconnectMin <= 0 || c.Bridge.ReconnectMax < c.Bridge.ReconnectMin {
		return errors.New("Bridge reconnect bounds are invalid")
	}
	if c.Bridge.DedupWindow <= 0 {
		return errors.New("Bridge DedupWindow must be > 0")
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}
	return nil
}

func (c Config) degradedAllowed() bool {
	return !c.Production && c.BotMitigation.AllowDegraded
}

func (c Config) sentinel() string {
	if c.Production {
		return ""
	}
	return c.BotMitigation.SentinelToken
}
