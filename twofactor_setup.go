package goElevate

import (
	"context"
	"errors"
	"strings"
)

// BeginSetup starts enrolling a second factor. The returned secret is shown
// once; nothing is enabled until [TwoFactorManager.ConfirmSetup] succeeds.
func (m *TwoFactorManager) BeginSetup(ctx context.Context) (TwoFactorSetup, error) {
	if !m.session.IsElevated() {
		return TwoFactorSetup{}, ErrNotElevated
	}
	setup, err := m.backend.BeginTwoFactorSetup(m.session.withToken(ctx))
	if err != nil {
		return TwoFactorSetup{}, m.sessionError(ctx, err)
	}

	m.mu.Lock()
	m.setupPending = true
	m.mu.Unlock()
	return setup, nil
}

// ConfirmSetup verifies the first code from the authenticator app and
// returns the initial backup code set.
func (m *TwoFactorManager) ConfirmSetup(ctx context.Context, code string) ([]BackupCode, error) {
	code = strings.TrimSpace(code)
	if !m.validCode(code) {
		return nil, ErrInvalidCodeFormat
	}
	m.mu.Lock()
	pending := m.setupPending
	m.mu.Unlock()
	if !pending {
		return nil, ErrSetupNotStarted
	}

	codes, err := m.backend.ConfirmTwoFactorSetup(m.session.withToken(ctx), code)
	if err != nil {
		if errors.Is(err, ErrSetupNotStarted) {
			m.mu.Lock()
			m.setupPending = false
			m.mu.Unlock()
		}
		return nil, m.sessionError(ctx, err)
	}

	m.mu.Lock()
	m.setupPending = false
	m.setEnabledLocked(true)
	m.backupCodes = toBackupCodes(codes)
	out := append([]BackupCode(nil), m.backupCodes...)
	m.mu.Unlock()

	m.audit.emit(ctx, auditTwoFactorSetup, true, m.userID(), nil, map[string]string{"action": "enable"})
	m.refresh(ctx)
	return out, nil
}

// Disable turns the second factor off. It needs an elevated session and a
// currently valid code or backup code.
func (m *TwoFactorManager) Disable(ctx context.Context, code string, useBackup bool) error {
	if !m.session.IsElevated() {
		return ErrNotElevated
	}
	code = strings.TrimSpace(code)
	if useBackup {
		if canonicalBackupCode(code) == "" {
			return ErrInvalidInput
		}
	} else if !m.validCode(code) {
		return ErrInvalidCodeFormat
	}

	if err := m.backend.DisableTwoFactor(m.session.withToken(ctx), code, useBackup); err != nil {
		return m.sessionError(ctx, err)
	}

	m.mu.Lock()
	m.setEnabledLocked(false)
	m.backupCodes = nil
	m.mu.Unlock()

	m.audit.emit(ctx, auditTwoFactorSetup, true, m.userID(), nil, map[string]string{"action": "disable"})
	m.refresh(ctx)
	return nil
}

// RegenerateBackupCodes replaces the whole backup code set. The cached old
// set is dropped only once the server confirms.
func (m *TwoFactorManager) RegenerateBackupCodes(ctx context.Context) ([]BackupCode, error) {
	if !m.session.IsElevated() {
		return nil, ErrNotElevated
	}
	codes, err := m.backend.RegenerateBackupCodes(m.session.withToken(ctx))
	if err != nil {
		return nil, m.sessionError(ctx, err)
	}

	m.mu.Lock()
	m.backupCodes = toBackupCodes(codes)
	out := append([]BackupCode(nil), m.backupCodes...)
	m.mu.Unlock()

	m.audit.emit(ctx, auditTwoFactorSetup, true, m.userID(), nil, map[string]string{"action": "regenerate"})
	return out, nil
}

// BackupCodes returns the cached set from the last confirm or regenerate.
func (m *TwoFactorManager) BackupCodes() []BackupCode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]BackupCode(nil), m.backupCodes...)
}

// SetupPending reports whether BeginSetup succeeded without a confirm yet.
func (m *TwoFactorManager) SetupPending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setupPending
}

// Enabled reports whether a second factor is enabled. A local confirm or
// disable is used until a newer session read supersedes it.
func (m *TwoFactorManager) Enabled() bool {
	v := m.session.View()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.enabledAt.IsZero() || v.FetchedAt.After(m.enabledAt) {
		return v.TwoFactorEnabled
	}
	return m.enabled
}

func (m *TwoFactorManager) setEnabledLocked(on bool) {
	m.enabled = on
	m.enabledAt = m.now()
}

// reset forgets everything tied to the signed-in user.
func (m *TwoFactorManager) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generation++
	m.challenge = AuthChallenge{}
	m.setupPending = false
	m.enabled = false
	m.enabledAt = m.now()
	m.backupCodes = nil
}

func (m *TwoFactorManager) refresh(ctx context.Context) {
	if _, err := m.session.Refresh(ctx); err != nil {
		m.logger.Warn("session refresh after two-factor change failed", "error", err)
	}
}

func (m *TwoFactorManager) userID() string {
	if id := m.session.View().Identity; id != nil {
		return id.ID
	}
	return ""
}

// sessionError invalidates local state when the server no longer knows the
// session.
func (m *TwoFactorManager) sessionError(ctx context.Context, err error) error {
	if errors.Is(err, ErrSessionInvalidated) {
		m.session.Invalidate(ctx)
		return ErrSessionInvalidated
	}
	return err
}

func toBackupCodes(codes []string) []BackupCode {
	out := make([]BackupCode, 0, len(codes))
	for _, c := range codes {
		out = append(out, BackupCode{Value: c})
	}
	return out
}
