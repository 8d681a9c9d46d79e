package goElevate

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MrEthical07/goElevate/metrics"
)

// ChallengeMode selects how the provider challenges the user.
type ChallengeMode uint8

const (
	// ModeInvisible runs without interaction where the provider supports it.
	ModeInvisible ChallengeMode = iota
	// ModeVisible always shows an interactive challenge.
	ModeVisible
)

func (m ChallengeMode) String() string {
	if m == ModeVisible {
		return "visible"
	}
	return "invisible"
}

// CaptchaProvider is the platform's bot-mitigation widget. Challenge blocks
// until the widget produces a token, fails, or ctx ends.
type CaptchaProvider interface {
	Challenge(ctx context.Context, mode ChallengeMode) (string, error)
}

// TokenStatus tags a [TokenResult].
type TokenStatus uint8

const (
	TokenOK TokenStatus = iota
	TokenTimedOut
	TokenProviderError
)

func (s TokenStatus) String() string {
	switch s {
	case TokenOK:
		return "ok"
	case TokenTimedOut:
		return "timed_out"
	default:
		return "provider_error"
	}
}

// TokenResult is the single outcome of one acquisition. Token is set only
// when Status is TokenOK; Err only when it is TokenProviderError.
type TokenResult struct {
	Status TokenStatus
	Token  ChallengeToken
	Err    error
}

// OK reports whether a token was acquired.
func (r TokenResult) OK() bool {
	return r.Status == TokenOK
}

var errNoProvider = errors.New("no captcha provider configured")

// BotGate acquires bot-mitigation tokens. Each token it returns is handed out
// once; a token must not be attached to more than one request.
type BotGate struct {
	provider CaptchaProvider
	cfg      BotMitigationConfig
	sentinel string
	metrics  *metrics.Set
	logger   *slog.Logger
	now      func() time.Time

	mu        sync.Mutex
	escalated bool
	prewarmed *ChallengeToken
	// generation invalidates prewarms that finish after Discard or Escalate.
	generation uint64
	warming    bool
}

func newBotGate(provider CaptchaProvider, cfg Config, m *metrics.Set, logger *slog.Logger) *BotGate {
	return &BotGate{
		provider: provider,
		cfg:      cfg.BotMitigation,
		sentinel: cfg.sentinel(),
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

// Configured reports whether the gate can produce tokens at all.
func (g *BotGate) Configured() bool {
	return g.provider != nil || g.sentinel != ""
}

// Escalated reports whether the next challenge will be visible.
func (g *BotGate) Escalated() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.escalated
}

// Escalate forces every following challenge to be visible until [BotGate.Reset].
// Any prewarmed invisible token is dropped.
func (g *BotGate) Escalate() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.escalated = true
	g.prewarmed = nil
	g.generation++
}

// Reset clears the escalation after a successful login.
func (g *BotGate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.escalated = false
}

// Discard drops a prewarmed token that will never be sent.
func (g *BotGate) Discard() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prewarmed = nil
	g.generation++
}

// Prewarm starts an invisible acquisition in the background so a token is
// ready when the form is submitted. It is a no-op while escalated, since
// visible challenges need the user.
func (g *BotGate) Prewarm(ctx context.Context) {
	g.mu.Lock()
	if g.provider == nil || g.sentinel != "" || g.escalated || g.warming ||
		(g.prewarmed != nil && !g.prewarmed.Stale(g.now())) {
		g.mu.Unlock()
		return
	}
	g.warming = true
	gen := g.generation
	g.mu.Unlock()

	go func() {
		res := g.challenge(ctx, ModeInvisible, g.cfg.Timeout)

		g.mu.Lock()
		defer g.mu.Unlock()
		g.warming = false
		if !res.OK() || gen != g.generation || g.escalated {
			return
		}
		tok := res.Token
		g.prewarmed = &tok
	}()
}

// AcquireToken returns a token or a non-OK result within timeout. It never
// blocks longer than timeout, whatever the provider does.
func (g *BotGate) AcquireToken(ctx context.Context, timeout time.Duration) TokenResult {
	if timeout <= 0 {
		timeout = g.cfg.Timeout
	}

	if g.sentinel != "" {
		g.metrics.Inc(MetricCaptchaSentinel)
		now := g.now()
		return TokenResult{Status: TokenOK, Token: ChallengeToken{
			Value:     g.sentinel,
			IssuedAt:  now,
			ExpiresAt: now.Add(g.cfg.TokenTTL),
			Sentinel:  true,
		}}
	}

	g.mu.Lock()
	mode := ModeInvisible
	if g.escalated {
		mode = ModeVisible
	}
	if mode == ModeInvisible && g.prewarmed != nil {
		tok := *g.prewarmed
		g.prewarmed = nil
		if !tok.Stale(g.now()) {
			g.mu.Unlock()
			return TokenResult{Status: TokenOK, Token: tok}
		}
	}
	g.mu.Unlock()

	if g.provider == nil {
		g.metrics.Inc(MetricCaptchaProviderError)
		return TokenResult{Status: TokenProviderError, Err: errNoProvider}
	}
	return g.challenge(ctx, mode, timeout)
}

type providerReply struct {
	value string
	err   error
}

func (g *BotGate) challenge(ctx context.Context, mode ChallengeMode, timeout time.Duration) TokenResult {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	replies := make(chan providerReply, 1)
	go func() {
		v, err := g.provider.Challenge(cctx, mode)
		replies <- providerReply{value: v, err: err}
	}()

	select {
	case r := <-replies:
		if r.err == nil && r.value == "" {
			r.err = errors.New("provider returned an empty token")
		}
		if r.err != nil {
			g.metrics.Inc(MetricCaptchaProviderError)
			g.logger.Warn("captcha provider failed", "mode", mode.String(), "error", r.err)
			return TokenResult{Status: TokenProviderError, Err: r.err}
		}
		g.metrics.Inc(MetricCaptchaAcquired)
		now := g.now()
		return TokenResult{Status: TokenOK, Token: ChallengeToken{
			Value:     r.value,
			IssuedAt:  now,
			ExpiresAt: now.Add(g.cfg.TokenTTL),
			Visible:   mode == ModeVisible,
		}}
	case <-cctx.Done():
		if ctx.Err() != nil {
			g.metrics.Inc(MetricCaptchaProviderError)
			return TokenResult{Status: TokenProviderError, Err: ctx.Err()}
		}
		g.metrics.Inc(MetricCaptchaTimedOut)
		g.logger.Warn("captcha provider timed out", "mode", mode.String(), "timeout", timeout)
		return TokenResult{Status: TokenTimedOut}
	}
}
