package backend

import (
	"errors"
	"log/slog"

	"github.com/MrEthical07/goElevate/internal/audit"
	"github.com/MrEthical07/goElevate/internal/limiters"
	"github.com/MrEthical07/goElevate/internal/logging"
	"github.com/MrEthical07/goElevate/internal/rate"
	"github.com/MrEthical07/goElevate/internal/stores"
	"github.com/MrEthical07/goElevate/jwt"
	"github.com/MrEthical07/goElevate/metrics"
	"github.com/MrEthical07/goElevate/password"
	"github.com/redis/go-redis/v9"
)

// Builder assembles a [Service]. A builder can be used once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	userProvider UserProvider
	captcha      CaptchaVerifier
	publisher    Publisher
	auditSink    audit.Sink
	logger       *slog.Logger

	built bool
}

// New starts a builder with [DefaultConfig].
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithUserProvider(up UserProvider) *Builder {
	b.userProvider = up
	return b
}

// WithCaptchaVerifier sets the provider used once the CAPTCHA threshold is
// crossed. Without one only the non-production sentinel is accepted.
func (b *Builder) WithCaptchaVerifier(v CaptchaVerifier) *Builder {
	b.captcha = v
	return b
}

func (b *Builder) WithPublisher(p Publisher) *Builder {
	b.publisher = p
	return b
}

func (b *Builder) WithAuditSink(sink audit.Sink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// Build validates the configuration and wires every store.
func (b *Builder) Build() (*Service, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.userProvider == nil {
		return nil, errors.New("user provider required")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	signer, err := jwt.NewSigner(jwt.Config{
		SessionTTL:    cfg.Session.TTL,
		SigningMethod: cfg.JWT.SigningMethod,
		PrivateKey:    cfg.JWT.PrivateKey,
		PublicKey:     cfg.JWT.PublicKey,
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		KeyID:         cfg.JWT.KeyID,
		Leeway:        cfg.JWT.Leeway,
	})
	if err != nil {
		return nil, err
	}

	hasher, err := password.New(cfg.Password)
	if err != nil {
		return nil, err
	}
	otp, err := newTOTP(cfg.TwoFactor)
	if err != nil {
		return nil, err
	}

	publisher := b.publisher
	if publisher == nil {
		publisher = noopPublisher{}
	}
	sink := b.auditSink
	if sink == nil {
		sink = audit.NoOpSink{}
	}

	b.built = true

	return &Service{
		config:       cfg,
		users:        b.userProvider,
		captcha:      b.captcha,
		publisher:    publisher,
		logger:       logging.OrDiscard(b.logger),
		jwt:          signer,
		passwordHash: hasher,
		totp:         otp,
		sessions:     stores.NewSessionStore(b.redis, cfg.Session.RedisPrefix),
		challenges:   stores.NewChallengeStore(b.redis, cfg.TwoFactor.ChallengeRedisPrefix),
		loginLimiter: rate.New(b.redis, rate.Config{
			EnableIPThrottle: cfg.Login.EnableIPThrottle,
			CaptchaThreshold: cfg.Login.CaptchaThreshold,
			BanThreshold:     cfg.Login.BanThreshold,
			Window:           cfg.Login.FailureWindow,
		}),
		backupLimiter: limiters.NewBackupCodeLimiter(b.redis, limiters.Config{
			MaxAttempts: cfg.TwoFactor.BackupCodeMaxAttempts,
			Cooldown:    cfg.TwoFactor.BackupCodeCooldown,
		}),
		totpLimiter: limiters.NewTOTPLimiter(b.redis, limiters.Config{
			MaxAttempts: cfg.TwoFactor.TOTPMaxAttempts,
			Cooldown:    cfg.TwoFactor.TOTPCooldown,
		}),
		audit: audit.NewDispatcher(audit.Config{
			Enabled:    cfg.Audit.Enabled,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, sink),
		metrics: metrics.NewSet(cfg.Metrics.Enabled, cfg.Metrics.EnableLatencyHistograms, metricDefs),
	}, nil
}
