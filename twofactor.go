package goElevate

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/goElevate/metrics"
)

// ChallengeResult proves that the current challenge reached VERIFIED. Only
// [TwoFactorManager] mints it and only [SessionService.Elevate] consumes it.
type ChallengeResult struct {
	userID     string
	method     string
	returnURL  string
	verifiedAt time.Time
}

func (r ChallengeResult) UserID() string { return r.userID }
func (r ChallengeResult) Method() string { return r.method }
func (r ChallengeResult) ReturnURL() string { return r.returnURL }
func (r ChallengeResult) VerifiedAt() time.Time { return r.verifiedAt }

func (r ChallengeResult) valid() bool {
	return r.userID != "" && !r.verifiedAt.IsZero()
}

// TwoFactorManager owns the pending second factor of the current login and
// the two-factor setup sub-flows.
//
// State machine: NONE -> PENDING -> {VERIFIED | FAILED}. FAILED returns to
// PENDING on the next submission until the attempt cap, then EXPIRED.
// VERIFIED and EXPIRED are terminal for the challenge; a new login starts a
// new one.
type TwoFactorManager struct {
	backend Backend
	session *SessionService
	cfg     TwoFactorConfig
	metrics *metrics.Set
	audit   emitter
	logger  *slog.Logger
	now     func() time.Time

	mu         sync.Mutex
	challenge  AuthChallenge
	generation uint64

	setupPending bool
	enabled      bool
	enabledAt    time.Time
	backupCodes  []BackupCode
}

func newTwoFactorManager(b Backend, s *SessionService, cfg TwoFactorConfig, m *metrics.Set, a emitter, logger *slog.Logger) *TwoFactorManager {
	return &TwoFactorManager{
		backend: b,
		session: s,
		cfg:     cfg,
		metrics: m,
		audit:   a,
		logger:  logger,
		now:     time.Now,
	}
}

// Begin starts a fresh challenge for userID, replacing any previous one.
func (m *TwoFactorManager) Begin(userID string) AuthChallenge {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.generation++
	m.challenge = AuthChallenge{
		UserID:      userID,
		State:       ChallengePending,
		MaxAttempts: m.cfg.MaxAttempts,
		Method:      MethodTOTP,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return m.challenge
}

// Current returns a copy of the challenge.
func (m *TwoFactorManager) Current() AuthChallenge {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.challenge
}

// Abandon drops the challenge locally. The server-side challenge is left to
// expire. Submissions still in flight for it resolve to
// [ErrChallengeAbandoned].
func (m *TwoFactorManager) Abandon() {
	m.mu.Lock()
	open := m.challenge.State == ChallengePending || m.challenge.State == ChallengeFailed
	userID := m.challenge.UserID
	m.generation++
	m.challenge = AuthChallenge{}
	m.mu.Unlock()

	if open {
		m.metrics.Inc(MetricTwoFactorAbandoned)
		m.audit.emit(context.Background(), auditChallengeAbandon, true, userID, nil, nil)
	}
}

// SubmitCode submits a TOTP code. Malformed codes fail locally with
// [ErrInvalidCodeFormat] and do not count as an attempt.
func (m *TwoFactorManager) SubmitCode(ctx context.Context, userID, code string) (ChallengeResult, error) {
	code = strings.TrimSpace(code)
	if !m.validCode(code) {
		return ChallengeResult{}, ErrInvalidCodeFormat
	}
	return m.submit(ctx, userID, VerifyRequest{UserID: userID, Code: code}, MethodTOTP)
}

// SubmitBackupCode submits a single-use backup code.
func (m *TwoFactorManager) SubmitBackupCode(ctx context.Context, userID, code string) (ChallengeResult, error) {
	code = strings.TrimSpace(code)
	if canonicalBackupCode(code) == "" {
		return ChallengeResult{}, ErrInvalidInput
	}
	return m.submit(ctx, userID, VerifyRequest{UserID: userID, BackupCode: code}, MethodBackup)
}

func (m *TwoFactorManager) submit(ctx context.Context, userID string, req VerifyRequest, method string) (ChallengeResult, error) {
	m.mu.Lock()
	switch m.challenge.State {
	case ChallengeNone, ChallengeVerified:
		m.mu.Unlock()
		return ChallengeResult{}, ErrNoChallenge
	case ChallengeExpired:
		m.mu.Unlock()
		return ChallengeResult{}, ErrChallengeExpired
	}
	if m.challenge.UserID != userID {
		m.mu.Unlock()
		return ChallengeResult{}, ErrNoChallenge
	}
	gen := m.generation
	m.challenge.State = ChallengePending
	m.challenge.Method = method
	m.challenge.UpdatedAt = m.now()
	m.mu.Unlock()

	resp, err := m.backend.VerifyTwoFactor(m.session.withToken(ctx), req)

	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return ChallengeResult{}, ErrChallengeAbandoned
	}
	m.challenge.UpdatedAt = m.now()

	if err != nil {
		return m.failed(ctx, userID, method, err)
	}

	m.challenge.State = ChallengeVerified
	if method == MethodBackup {
		m.markSpentLocked(req.BackupCode)
	}
	res := ChallengeResult{
		userID:     userID,
		method:     method,
		returnURL:  resp.ReturnURL,
		verifiedAt: m.now(),
	}
	m.mu.Unlock()

	m.metrics.Inc(MetricTwoFactorVerified)
	m.audit.emit(ctx, auditTwoFactorVerified, true, userID, nil, map[string]string{"method": method})
	return res, nil
}

// failed applies a rejected submission. Called with m.mu held; releases it.
func (m *TwoFactorManager) failed(ctx context.Context, userID, method string, err error) (ChallengeResult, error) {
	rej, isRejection := AsRejection(err)
	if !isRejection {
		// no answer: the challenge is still pending on the server
		m.mu.Unlock()
		return ChallengeResult{}, err
	}

	switch {
	case errors.Is(rej, ErrSessionInvalidated):
		m.generation++
		m.challenge = AuthChallenge{}
		m.mu.Unlock()
		m.session.Invalidate(ctx)
		return ChallengeResult{}, ErrSessionInvalidated

	case errors.Is(rej, ErrChallengeExpired):
		m.challenge.State = ChallengeExpired
		m.mu.Unlock()
		m.metrics.Inc(MetricTwoFactorExpired)
		m.audit.emit(ctx, auditTwoFactorFailed, false, userID, rej, map[string]string{"method": method})
		return ChallengeResult{}, rej

	case errors.Is(rej, ErrInvalidCode):
		m.challenge.Attempts++
		if rej.AttemptsRemaining >= 0 {
			if used := m.challenge.MaxAttempts - rej.AttemptsRemaining; used > m.challenge.Attempts {
				m.challenge.Attempts = used
			}
		}
		expired := m.challenge.Attempts >= m.challenge.MaxAttempts || rej.AttemptsRemaining == 0
		if expired {
			m.challenge.State = ChallengeExpired
		} else {
			m.challenge.State = ChallengeFailed
		}
		attempts := m.challenge.Attempts
		m.mu.Unlock()

		m.metrics.Inc(MetricTwoFactorFailed)
		m.audit.emit(ctx, auditTwoFactorFailed, false, userID, rej, map[string]string{
			"method":   method,
			"attempts": strconv.Itoa(attempts),
		})
		if expired {
			m.metrics.Inc(MetricTwoFactorExpired)
			return ChallengeResult{}, ErrChallengeExpired
		}
		return ChallengeResult{}, rej

	default:
		m.challenge.State = ChallengeFailed
		m.mu.Unlock()
		m.metrics.Inc(MetricTwoFactorFailed)
		return ChallengeResult{}, rej
	}
}

func (m *TwoFactorManager) validCode(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}

func (m *TwoFactorManager) markSpentLocked(code string) {
	want := canonicalBackupCode(code)
	for i := range m.backupCodes {
		if canonicalBackupCode(m.backupCodes[i].Value) == want {
			m.backupCodes[i].Spent = true
		}
	}
}
