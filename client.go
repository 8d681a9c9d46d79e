package goElevate

import (
	"context"
	"log/slog"
	"sync"

	"github.com/MrEthical07/goElevate/internal/audit"
	"github.com/MrEthical07/goElevate/metrics"
)

// Client runs the login flow for one device. The stages of a login attempt
// (credentials, second factor, elevation) run strictly one after another;
// the push bridge and session reads may run concurrently with them.
type Client struct {
	cfg Config

	session   *SessionService
	verifier  *CredentialVerifier
	gate      *BotGate
	twoFactor *TwoFactorManager
	biometric *BiometricGate
	bridge    *Bridge

	metrics *metrics.Set
	audit   *audit.Dispatcher
	logger  *slog.Logger

	flow sync.Mutex

	onChallengeRequired func(userID string)
	onVerified          func(view SessionView, dest Destination)
	onInvalidated       func()
}

// Login submits credentials. On [OutcomeElevated] the session is refreshed
// and OnVerified fires with the single resolved destination; on
// [OutcomeTwoFactorRequired] a fresh challenge is pending and
// OnChallengeRequired fires. Any previous challenge is abandoned first.
func (c *Client) Login(ctx context.Context, username, password string) (LoginOutcome, error) {
	c.flow.Lock()
	defer c.flow.Unlock()

	c.twoFactor.Abandon()

	out, err := c.verifier.Verify(ctx, username, password)
	if err != nil {
		return out, err
	}

	switch out.Kind {
	case OutcomeElevated:
		c.session.adopt(ctx, out.token)
		view, err := c.session.Refresh(ctx)
		if err != nil {
			return out, err
		}
		if !view.IsElevated() {
			return out, ErrElevationUnconfirmed
		}
		if view.Identity != nil {
			id := *view.Identity
			out.Identity = &id
		}
		c.verified(view)

	case OutcomeTwoFactorRequired:
		c.session.adopt(ctx, out.token)
		if _, err := c.session.Refresh(ctx); err != nil {
			c.logger.Debug("session read before second factor failed", "error", err)
		}
		c.twoFactor.Begin(out.UserID)
		if c.onChallengeRequired != nil {
			c.onChallengeRequired(out.UserID)
		}
	}
	out.token = ""
	return out, nil
}

// SubmitCode verifies a TOTP code for the pending challenge and elevates the
// session.
func (c *Client) SubmitCode(ctx context.Context, userID, code string) (SessionView, error) {
	c.flow.Lock()
	defer c.flow.Unlock()

	res, err := c.twoFactor.SubmitCode(ctx, userID, code)
	if err != nil {
		return c.session.View(), err
	}
	return c.elevate(ctx, res)
}

// SubmitBackupCode is SubmitCode with a single-use backup code.
func (c *Client) SubmitBackupCode(ctx context.Context, userID, code string) (SessionView, error) {
	c.flow.Lock()
	defer c.flow.Unlock()

	res, err := c.twoFactor.SubmitBackupCode(ctx, userID, code)
	if err != nil {
		return c.session.View(), err
	}
	return c.elevate(ctx, res)
}

func (c *Client) elevate(ctx context.Context, res ChallengeResult) (SessionView, error) {
	view, err := c.session.Elevate(ctx, res)
	if err != nil {
		return view, err
	}
	c.verified(view)
	return view, nil
}

// verified is the one redirect point: the destination is computed once
// from the refreshed, elevated view.
func (c *Client) verified(view SessionView) {
	if c.onVerified == nil {
		return
	}
	var id Identity
	if view.Identity != nil {
		id = *view.Identity
	}
	c.onVerified(view, Resolve(id, c.cfg.Redirect))
}

// Abandon drops the pending challenge, for example when the user leaves the
// code screen. It does not wait for an in-flight submission.
func (c *Client) Abandon() {
	c.twoFactor.Abandon()
	c.gate.Discard()
}

// Logout ends the session and forgets the challenge and cached backup codes.
func (c *Client) Logout(ctx context.Context) error {
	c.flow.Lock()
	defer c.flow.Unlock()

	c.twoFactor.reset()
	c.gate.Discard()
	return c.session.Logout(ctx)
}

// Restore loads persisted device state and, when a token exists, refreshes
// the session. A failed refresh keeps the cached view.
func (c *Client) Restore(ctx context.Context) (SessionView, error) {
	if err := c.biometric.load(ctx); err != nil {
		return SessionView{}, err
	}
	ok, err := c.session.restore(ctx)
	if err != nil || !ok {
		return c.session.View(), err
	}
	return c.session.Refresh(ctx)
}

// OnForeground runs the biometric startup check for the current session.
func (c *Client) OnForeground(ctx context.Context) LocalAccess {
	return c.biometric.OnForeground(ctx, c.session.View().Authenticated)
}

// Destination returns where an elevated session lands.
func (c *Client) Destination() (Destination, error) {
	view := c.session.View()
	if !view.IsElevated() {
		return Destination{}, ErrNotElevated
	}
	var id Identity
	if view.Identity != nil {
		id = *view.Identity
	}
	return Resolve(id, c.cfg.Redirect), nil
}

// IsElevated is derived from the current session view.
func (c *Client) IsElevated() bool {
	return c.session.IsElevated()
}

// PrewarmCaptcha starts acquiring a bot-mitigation token before submit.
func (c *Client) PrewarmCaptcha(ctx context.Context) {
	c.gate.Prewarm(ctx)
}

func (c *Client) Session() *SessionService { return c.session }
func (c *Client) Verifier() *CredentialVerifier { return c.verifier }
func (c *Client) BotGate() *BotGate { return c.gate }
func (c *Client) TwoFactor() *TwoFactorManager { return c.twoFactor }
func (c *Client) Biometric() *BiometricGate { return c.biometric }
func (c *Client) Bridge() *Bridge { return c.bridge }
func (c *Client) Config() Config { return c.cfg }

// Close flushes pending audit events.
func (c *Client) Close() {
	c.audit.Close()
}

func (c *Client) sessionInvalidated() {
	c.twoFactor.reset()
	if c.onInvalidated != nil {
		c.onInvalidated()
	}
}
