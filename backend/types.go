package backend

import (
	"context"
	"encoding/json"
	"time"
)

// Verification status values carried on [UserRecord] and [Identity].
const (
	VerificationPending  = "pending"
	VerificationVerified = "verified"
	VerificationRejected = "rejected"
)

// Two-factor methods accepted by [Service.VerifyTwoFactor].
const (
	MethodTOTP   = "totp"
	MethodBackup = "backup"
)

// UserRecord is the account record returned by a [UserProvider].
type UserRecord struct {
	UserID             string
	Username           string
	PasswordHash       string
	IsAdmin            bool
	IsEmployee         bool
	IsContractor       bool
	VerificationStatus string
	TwoFactorEnabled   bool
}

// TOTPRecord carries the active secret, an enrollment secret awaiting
// confirmation, and the last accepted time-step counter.
type TOTPRecord struct {
	Secret          []byte
	PendingSecret   []byte
	Enabled         bool
	LastUsedCounter int64
}

// BackupCodeRecord stores the hash of one unspent backup code.
type BackupCodeRecord struct {
	Hash [32]byte
}

// UserProvider is the persistence boundary. Implementations must be safe for
// concurrent use; ConsumeBackupCode must remove a matching hash atomically.
type UserProvider interface {
	GetUserByUsername(ctx context.Context, username string) (UserRecord, error)
	GetUserByID(ctx context.Context, userID string) (UserRecord, error)
	UpdatePasswordHash(ctx context.Context, userID, hash string) error
	UpdateVerificationStatus(ctx context.Context, userID, status string) error

	GetTOTP(ctx context.Context, userID string) (TOTPRecord, error)
	SetPendingTOTP(ctx context.Context, userID string, secret []byte) error
	EnableTOTP(ctx context.Context, userID string, secret []byte, counter int64) error
	DisableTOTP(ctx context.Context, userID string) error
	UpdateTOTPLastUsedCounter(ctx context.Context, userID string, counter int64) error

	GetBackupCodes(ctx context.Context, userID string) ([]BackupCodeRecord, error)
	ReplaceBackupCodes(ctx context.Context, userID string, codes []BackupCodeRecord) error
	ConsumeBackupCode(ctx context.Context, userID string, hash [32]byte) (bool, error)
}

// Identity is the public view of a user.
type Identity struct {
	ID                 string `json:"id"`
	Username           string `json:"username"`
	IsAdmin            bool   `json:"isAdmin"`
	IsEmployee         bool   `json:"isEmployee"`
	IsContractor       bool   `json:"isContractor"`
	VerificationStatus string `json:"verificationStatus"`
}

// SessionView is the authoritative session state.
type SessionView struct {
	Authenticated     bool      `json:"authenticated"`
	TwoFactorEnabled  bool      `json:"twoFactorEnabled"`
	TwoFactorVerified bool      `json:"twoFactorVerified"`
	User              *Identity `json:"user,omitempty"`
}

// LoginInput is one credential submission.
type LoginInput struct {
	Username     string
	Password     string
	CaptchaToken string
	IP           string
}

// LoginResult is returned alongside both success and failure. On failure
// CaptchaRequired and RetryAfter tell the client how to proceed.
type LoginResult struct {
	Token             string
	UserID            string
	RequiresTwoFactor bool
	User              *Identity
	CaptchaRequired   bool
	RetryAfter        time.Duration
}

// VerifyResult reports the remaining attempts after a failed submission.
type VerifyResult struct {
	AttemptsRemaining int
}

// SetupResult is the enrollment material shown to the user once.
type SetupResult struct {
	Secret    string
	QRPayload string
}

// Push topics.
const (
	TopicVerificationStatusChanged = "verification-status-changed"
	TopicTransactionConfirmed      = "transaction-confirmed"
	TopicSessionInvalidated        = "session-invalidated"
)

// Event is one push notification addressed to a user.
type Event struct {
	ID     string          `json:"id"`
	Topic  string          `json:"topic"`
	UserID string          `json:"userId"`
	At     time.Time       `json:"at"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Publisher delivers events to connected clients.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, Event) error { return nil }

func identityFromUser(u UserRecord) *Identity {
	return &Identity{
		ID:                 u.UserID,
		Username:           u.Username,
		IsAdmin:            u.IsAdmin,
		IsEmployee:         u.IsEmployee,
		IsContractor:       u.IsContractor,
		VerificationStatus: u.VerificationStatus,
	}
}
