package goElevate

import (
	"errors"
	"log/slog"

	"github.com/MrEthical07/goElevate/internal/audit"
	"github.com/MrEthical07/goElevate/internal/logging"
	"github.com/MrEthical07/goElevate/metrics"
)

// Builder assembles a [Client]. Configure it once and call Build.
type Builder struct {
	config Config

	backend   Backend
	captcha   CaptchaProvider
	biometric BiometricAuthenticator
	store     DeviceStore
	transport Transport
	logger    *slog.Logger
	auditSink AuditSink

	onChallengeRequired func(userID string)
	onVerified          func(view SessionView, dest Destination)
	onInvalidated       func()

	built bool
}

// New returns a builder with [DefaultConfig].
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithBackend sets the server adapter. Required.
func (b *Builder) WithBackend(be Backend) *Builder {
	b.backend = be
	return b
}

func (b *Builder) WithCaptchaProvider(p CaptchaProvider) *Builder {
	b.captcha = p
	return b
}

// WithBiometric sets the platform prompt. Leave it unset on web.
func (b *Builder) WithBiometric(a BiometricAuthenticator) *Builder {
	b.biometric = a
	return b
}

// WithDeviceStore sets persistent device storage. Defaults to a [MemoryStore].
func (b *Builder) WithDeviceStore(s DeviceStore) *Builder {
	b.store = s
	return b
}

// WithTransport enables the push [Bridge].
func (b *Builder) WithTransport(t Transport) *Builder {
	b.transport = t
	return b
}

func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// WithAuditSink receives client audit events when Config.Audit.Enabled.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) OnChallengeRequired(fn func(userID string)) *Builder {
	b.onChallengeRequired = fn
	return b
}

// OnVerified fires once per elevated login with the resolved destination.
func (b *Builder) OnVerified(fn func(view SessionView, dest Destination)) *Builder {
	b.onVerified = fn
	return b
}

// OnSessionInvalidated fires once per authenticated to unauthenticated
// transition caused by the server.
func (b *Builder) OnSessionInvalidated(fn func()) *Builder {
	b.onInvalidated = fn
	return b
}

// Build validates the configuration and wires the components.
func (b *Builder) Build() (*Client, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	cfg := b.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.backend == nil {
		return nil, errors.New("backend required")
	}

	logger := logging.OrDiscard(b.logger)
	store := b.store
	if store == nil {
		store = NewMemoryStore()
	}

	m := metrics.NewSet(cfg.Metrics.Enabled, cfg.Metrics.EnableLatencyHistograms, metricDefs)
	d := audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)
	em := emitter{d: d}

	session := newSessionService(b.backend, store, cfg.Session, m, em, logger.With("component", "session"))
	gate := newBotGate(b.captcha, cfg, m, logger.With("component", "botgate"))

	c := &Client{
		cfg:                 cfg,
		session:             session,
		gate:                gate,
		verifier:            newCredentialVerifier(b.backend, gate, cfg, m, em, logger.With("component", "credentials")),
		twoFactor:           newTwoFactorManager(b.backend, session, cfg.TwoFactor, m, em, logger.With("component", "twofactor")),
		biometric:           newBiometricGate(b.biometric, store, m, em, logger.With("component", "biometric")),
		metrics:             m,
		audit:               d,
		logger:              logger,
		onChallengeRequired: b.onChallengeRequired,
		onVerified:          b.onVerified,
		onInvalidated:       b.onInvalidated,
	}
	c.bridge = newBridge(b.transport, session, cfg.Bridge, m, logger.With("component", "bridge"))
	session.onInvalidated = c.sessionInvalidated

	b.built = true
	return c, nil
}
