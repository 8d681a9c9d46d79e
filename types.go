package goElevate

import (
	"encoding/json"
	"strings"
	"time"
)

// Identity is the backend's principal. Role flags may overlap; [Resolve]
// picks the highest-priority one.
type Identity struct {
	ID                 string
	Username           string
	IsAdmin            bool
	IsEmployee         bool
	IsContractor       bool
	VerificationStatus string
}

// LoginAttempt tracks failures for one username on this client. Failures
// reset on a successful login; CaptchaRequired is sticky until then.
type LoginAttempt struct {
	Username        string
	Failures        int
	CaptchaRequired bool
	LastAttemptAt   time.Time
}

// ChallengeToken is one bot-mitigation token. A token is attached to at most
// one request.
type ChallengeToken struct {
	Value     string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Visible   bool
	Sentinel  bool
}

// Stale reports whether the token can no longer be sent.
func (t ChallengeToken) Stale(now time.Time) bool {
	return t.Value == "" || (!t.ExpiresAt.IsZero() && !now.Before(t.ExpiresAt))
}

type ChallengeState uint8

const (
	ChallengeNone ChallengeState = iota
	ChallengePending
	ChallengeVerified
	ChallengeFailed
	ChallengeExpired
)

func (s ChallengeState) String() string {
	switch s {
	case ChallengeNone:
		return "NONE"
	case ChallengePending:
		return "PENDING"
	case ChallengeVerified:
		return "VERIFIED"
	case ChallengeFailed:
		return "FAILED"
	case ChallengeExpired:
		return "EXPIRED"
	default:
		return "UNKNOWN"
	}
}

// Second factor methods.
const (
	MethodTOTP   = "totp"
	MethodBackup = "backup"
)

// AuthChallenge is the pending second factor of the current login attempt.
// It never carries the password.
type AuthChallenge struct {
	UserID      string
	State       ChallengeState
	Attempts    int
	MaxAttempts int
	Method      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SessionView mirrors the server session. It is only produced by
// [SessionService]; elevation is always derived, never stored. FetchedAt
// records when the view was read and is not part of its identity: two views
// are the same when [SessionView.SameState] says so.
type SessionView struct {
	Authenticated     bool
	TwoFactorEnabled  bool
	TwoFactorVerified bool
	Identity          *Identity
	FetchedAt         time.Time
}

// IsElevated reports authenticated && (!twoFactorEnabled || twoFactorVerified).
func (v SessionView) IsElevated() bool {
	return v.Authenticated && (!v.TwoFactorEnabled || v.TwoFactorVerified)
}

// SameState is view identity: every field except FetchedAt.
func (v SessionView) SameState(o SessionView) bool {
	if v.Authenticated != o.Authenticated || v.TwoFactorEnabled != o.TwoFactorEnabled || v.TwoFactorVerified != o.TwoFactorVerified {
		return false
	}
	if (v.Identity == nil) != (o.Identity == nil) {
		return false
	}
	return v.Identity == nil || *v.Identity == *o.Identity
}

// BackupCode is one single-use fallback code as shown to the user.
type BackupCode struct {
	Value string
	Spent bool
}

// canonicalBackupCode drops separators and case so "abcd-efgh" and
// "ABCDEFGH" compare equal.
func canonicalBackupCode(code string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(code) {
		if r == '-' || r == ' ' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// BiometricEnrollment is device-local and never leaves the device.
type BiometricEnrollment struct {
	Enabled                bool
	RequireOnStartup       bool
	RequireForTransactions bool
}

// Normalize clears the dependent policies when the master flag is off.
func (e BiometricEnrollment) Normalize() BiometricEnrollment {
	if !e.Enabled {
		return BiometricEnrollment{}
	}
	return e
}

type Role uint8

const (
	RoleClient Role = iota
	RoleContractor
	RoleEmployee
	RoleAdmin
)

func (r Role) String() string {
	switch r {
	case RoleAdmin:
		return "admin"
	case RoleEmployee:
		return "employee"
	case RoleContractor:
		return "contractor"
	default:
		return "client"
	}
}

type Destination struct {
	Role Role
	Path string
}

type OutcomeKind uint8

const (
	OutcomeElevated OutcomeKind = iota + 1
	OutcomeTwoFactorRequired
	OutcomeRejected
	OutcomeRateLimited
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeElevated:
		return "elevated"
	case OutcomeTwoFactorRequired:
		return "two_factor_required"
	case OutcomeRejected:
		return "rejected"
	case OutcomeRateLimited:
		return "rate_limited"
	default:
		return "unknown"
	}
}

// LoginOutcome is the result of one credential submission.
//
//   - OutcomeElevated: Identity is set.
//   - OutcomeTwoFactorRequired: UserID is set and a challenge is pending.
//   - OutcomeRejected: Reason and Message explain why.
//   - OutcomeRateLimited: Message is the server's text and RetryAfter its hint.
type LoginOutcome struct {
	Kind            OutcomeKind
	Identity        *Identity
	UserID          string
	Reason          Reason
	Message         string
	RetryAfter      time.Duration
	CaptchaRequired bool

	token string
}

// Event is one push message.
type Event struct {
	ID     string
	Topic  string
	UserID string
	At     time.Time
	Data   json.RawMessage
}

// Push topics.
const (
	TopicVerificationStatusChanged = "verification-status-changed"
	TopicTransactionConfirmed      = "transaction-confirmed"
	TopicSessionInvalidated        = "session-invalidated"
)

// sessionRelevant topics trigger a session refresh before handlers run.
func sessionRelevant(topic string) bool {
	return topic == TopicSessionInvalidated || topic == TopicVerificationStatusChanged
}
