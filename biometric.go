package goElevate

import (
	"context"
	"log/slog"
	"strconv"
	"sync"

	"github.com/MrEthical07/goElevate/metrics"
)

// BiometricAuthenticator is the platform's fingerprint or face prompt. Web
// clients have none.
type BiometricAuthenticator interface {
	Available(ctx context.Context) bool
	// Authenticate returns false without an error when the user cancels.
	Authenticate(ctx context.Context, prompt string) (bool, error)
}

// LocalAccess tells the UI what it may render after a foreground check.
// Logout is always reachable.
type LocalAccess struct {
	ContentUnlocked bool
	LogoutAllowed   bool
}

// BiometricGate gates local rendering only. Results and enrollment flags are
// kept on the device and are independent of the server session.
type BiometricGate struct {
	auth    BiometricAuthenticator
	store   DeviceStore
	metrics *metrics.Set
	audit   emitter
	logger  *slog.Logger

	mu         sync.Mutex
	enrollment BiometricEnrollment
}

func newBiometricGate(auth BiometricAuthenticator, store DeviceStore, m *metrics.Set, a emitter, logger *slog.Logger) *BiometricGate {
	return &BiometricGate{
		auth:    auth,
		store:   store,
		metrics: m,
		audit:   a,
		logger:  logger,
	}
}

// Supported reports whether this platform has a biometric adapter.
func (g *BiometricGate) Supported() bool {
	return g.auth != nil
}

func (g *BiometricGate) Enrollment() BiometricEnrollment {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.enrollment
}

func (g *BiometricGate) load(ctx context.Context) error {
	e, err := g.store.LoadBiometric(ctx)
	if err != nil {
		return err
	}
	g.mu.Lock()
	g.enrollment = e.Normalize()
	g.mu.Unlock()
	return nil
}

// SetEnabled switches the master flag. Turning it off clears both policies
// before returning.
func (g *BiometricGate) SetEnabled(ctx context.Context, enabled bool) error {
	if enabled && (g.auth == nil || !g.auth.Available(ctx)) {
		return ErrBiometricUnavailable
	}
	return g.update(ctx, func(e *BiometricEnrollment) error {
		e.Enabled = enabled
		return nil
	})
}

func (g *BiometricGate) SetRequireOnStartup(ctx context.Context, on bool) error {
	return g.update(ctx, func(e *BiometricEnrollment) error {
		if on && !e.Enabled {
			return ErrBiometricNotEnrolled
		}
		e.RequireOnStartup = on
		return nil
	})
}

func (g *BiometricGate) SetRequireForTransactions(ctx context.Context, on bool) error {
	return g.update(ctx, func(e *BiometricEnrollment) error {
		if on && !e.Enabled {
			return ErrBiometricNotEnrolled
		}
		e.RequireForTransactions = on
		return nil
	})
}

func (g *BiometricGate) update(ctx context.Context, fn func(*BiometricEnrollment) error) error {
	g.mu.Lock()
	next := g.enrollment
	if err := fn(&next); err != nil {
		g.mu.Unlock()
		return err
	}
	next = next.Normalize()
	g.enrollment = next
	g.mu.Unlock()

	g.audit.emit(ctx, auditBiometricPolicy, true, "", nil, map[string]string{
		"enabled":                  strconv.FormatBool(next.Enabled),
		"require_on_startup":       strconv.FormatBool(next.RequireOnStartup),
		"require_for_transactions": strconv.FormatBool(next.RequireForTransactions),
	})
	return g.store.SaveBiometric(ctx, next)
}

// ShouldChallengeOnStartup reports whether a foreground transition with an
// existing session must pass the biometric prompt.
func (g *BiometricGate) ShouldChallengeOnStartup(hasSession bool) bool {
	if g.auth == nil || !hasSession {
		return false
	}
	e := g.Enrollment()
	return e.Enabled && e.RequireOnStartup
}

// Authenticate runs the platform prompt. Errors and cancellation are false.
func (g *BiometricGate) Authenticate(ctx context.Context, prompt string) bool {
	if g.auth == nil || !g.auth.Available(ctx) {
		g.metrics.Inc(MetricBiometricFailure)
		return false
	}
	ok, err := g.auth.Authenticate(ctx, prompt)
	if err != nil {
		g.logger.Warn("biometric prompt failed", "error", err)
		ok = false
	}
	if ok {
		g.metrics.Inc(MetricBiometricSuccess)
	} else {
		g.metrics.Inc(MetricBiometricFailure)
	}
	g.audit.emit(ctx, auditBiometric, ok, "", err, nil)
	return ok
}

// OnForeground is consulted on every foreground-to-active transition.
func (g *BiometricGate) OnForeground(ctx context.Context, hasSession bool) LocalAccess {
	if !g.ShouldChallengeOnStartup(hasSession) {
		return LocalAccess{ContentUnlocked: true, LogoutAllowed: true}
	}
	return LocalAccess{
		ContentUnlocked: g.Authenticate(ctx, "Unlock your account"),
		LogoutAllowed:   true,
	}
}

// AuthorizeSensitive gates a sensitive transaction when the policy asks for
// it and passes otherwise.
func (g *BiometricGate) AuthorizeSensitive(ctx context.Context, prompt string) bool {
	if g.auth == nil {
		return true
	}
	e := g.Enrollment()
	if !e.Enabled || !e.RequireForTransactions {
		return true
	}
	return g.Authenticate(ctx, prompt)
}
