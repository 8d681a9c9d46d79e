package goElevate

import "context"

// Backend is the server contract consumed by the client. Adapters read the
// session token with [SessionTokenFrom] and report failures as:
//
//   - *[RejectionError] for authoritative server rejections;
//   - errors wrapping [ErrNetworkUnavailable] when no response arrived;
//   - errors wrapping [ErrServerUnavailable] for 5xx or unreadable replies.
type Backend interface {
	Login(ctx context.Context, req LoginRequest) (LoginResponse, error)
	VerifyTwoFactor(ctx context.Context, req VerifyRequest) (VerifyResponse, error)
	ElevateSession(ctx context.Context, userID string) error
	Session(ctx context.Context) (SessionView, error)
	BeginTwoFactorSetup(ctx context.Context) (TwoFactorSetup, error)
	ConfirmTwoFactorSetup(ctx context.Context, code string) ([]string, error)
	DisableTwoFactor(ctx context.Context, code string, backup bool) error
	RegenerateBackupCodes(ctx context.Context) ([]string, error)
	Logout(ctx context.Context) error
}

type LoginRequest struct {
	Username       string
	Password       string
	ChallengeToken string
}

type LoginResponse struct {
	RequiresTwoFactor bool
	UserID            string
	Token             string
	Identity          Identity
	Message           string
}

// VerifyRequest carries exactly one of Code and BackupCode.
type VerifyRequest struct {
	UserID     string
	Code       string
	BackupCode string
}

type VerifyResponse struct {
	UserID    string
	ReturnURL string
	Message   string
}

// TwoFactorSetup is the enrollment material shown once to the user.
type TwoFactorSetup struct {
	Secret    string
	QRPayload string
}
