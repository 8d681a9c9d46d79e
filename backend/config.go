package backend

import (
	"errors"
	"time"

	"github.com/MrEthical07/goElevate/jwt"
	"github.com/MrEthical07/goElevate/password"
)

// Config is the top-level backend configuration.
type Config struct {
	Production bool
	JWT        JWTConfig
	Session    SessionConfig
	Password   password.Config
	Login      LoginConfig
	TwoFactor  TwoFactorConfig
	Captcha    CaptchaConfig
	Audit      AuditConfig
	Metrics    MetricsConfig
}

/*
====================================
SESSION / TOKEN CONFIG
====================================
*/

type JWTConfig struct {
	SigningMethod jwt.SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	KeyID         string
	Leeway        time.Duration
}

type SessionConfig struct {
	TTL         time.Duration
	RedisPrefix string
}

/*
====================================
LOGIN / BOT MITIGATION CONFIG
====================================
*/

// LoginConfig controls credential validation and failure escalation.
type LoginConfig struct {
	MinUsernameLength int
	MaxUsernameLength int
	MinPasswordLength int
	MaxPasswordLength int
	EnableIPThrottle  bool
	CaptchaThreshold  int
	BanThreshold      int
	FailureWindow     time.Duration
}

// CaptchaConfig controls server-side token verification. SentinelToken is
// accepted only when Config.Production is false.
type CaptchaConfig struct {
	SentinelToken string
}

/*
====================================
TWO-FACTOR CONFIG
====================================
*/

type TwoFactorConfig struct {
	Issuer                  string
	Digits                  int
	Period                  int
	Algorithm               string
	Skew                    int
	EnforceReplayProtection bool
	ChallengeTTL            time.Duration
	MaxAttempts             int
	ChallengeRedisPrefix    string
	BackupCodeCount         int
	BackupCodeLength        int
	BackupCodeMaxAttempts   int
	BackupCodeCooldown      time.Duration
	TOTPMaxAttempts         int
	TOTPCooldown            time.Duration
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

// DefaultConfig returns a development configuration. Production deployments
// must set signing keys and Production.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			SigningMethod: jwt.MethodHS256,
			Issuer:        "goelevate",
			Leeway:        30 * time.Second,
		},
		Session: SessionConfig{
			TTL:         12 * time.Hour,
			RedisPrefix: "gss",
		},
		Password: password.DefaultConfig(),
		Login: LoginConfig{
			MinUsernameLength: 3,
			MaxUsernameLength: 128,
			MinPasswordLength: 8,
			MaxPasswordLength: 256,
			EnableIPThrottle:  true,
			CaptchaThreshold:  5,
			BanThreshold:      10,
			FailureWindow:     15 * time.Minute,
		},
		TwoFactor: TwoFactorConfig{
			Issuer:                  "Exchange",
			Digits:                  6,
			Period:                  30,
			Algorithm:               "SHA1",
			Skew:                    1,
			EnforceReplayProtection: true,
			ChallengeTTL:            5 * time.Minute,
			MaxAttempts:             5,
			ChallengeRedisPrefix:    "gtc",
			BackupCodeCount:         10,
			BackupCodeLength:        10,
			BackupCodeMaxAttempts:   5,
			BackupCodeCooldown:      10 * time.Minute,
			TOTPMaxAttempts:         5,
			TOTPCooldown:            time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if len(c.JWT.PrivateKey) == 0 {
		return errors.New("JWT PrivateKey is required")
	}
	if c.Session.TTL <= 0 {
		return errors.New("Session TTL must be > 0")
	}

	if c.Login.MinUsernameLength < 1 || c.Login.MaxUsernameLength < c.Login.MinUsernameLength {
		return errors.New("Login username bounds are invalid")
	}
	if c.Login.MinPasswordLength < 1 || c.Login.MaxPasswordLength < c.Login.MinPasswordLength {
		return errors.New("Login password bounds are invalid")
	}
	if c.Login.CaptchaThreshold <= 0 || c.Login.BanThreshold <= c.Login.CaptchaThreshold {
		return errors.New("Login BanThreshold must be greater than CaptchaThreshold > 0")
	}
	if c.Login.FailureWindow <= 0 {
		return errors.New("Login FailureWindow must be > 0")
	}
	if c.Production && c.Captcha.SentinelToken != "" {
		return errors.New("Captcha SentinelToken is not allowed in production")
	}

	tf := c.TwoFactor
	if tf.Digits != 6 && tf.Digits != 8 {
		return errors.New("TwoFactor Digits must be 6 or 8")
	}
	if tf.Period <= 0 {
		return errors.New("TwoFactor Period must be > 0")
	}
	if tf.Skew < 0 || tf.Skew > 3 {
		return errors.New("TwoFactor Skew must be between 0 and 3")
	}
	switch tf.Algorithm {
	case "SHA1", "SHA256", "SHA512":
	default:
		return errors.New("TwoFactor Algorithm must be SHA1, SHA256 or SHA512")
	}
	if tf.ChallengeTTL <= 0 || tf.MaxAttempts <= 0 {
		return errors.New("TwoFactor ChallengeTTL and MaxAttempts must be > 0")
	}
	if tf.BackupCodeCount <= 0 || tf.BackupCodeLength < 8 {
		return errors.New("TwoFactor backup codes need count > 0 and length >= 8")
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}
	return nil
}
