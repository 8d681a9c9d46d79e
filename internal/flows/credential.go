package flows

import "context"

// CredentialErrors carries host-level sentinel errors.
type CredentialErrors struct {
	BotMitigationFailed error
}

// CredentialDeps wires one credential submission.
type CredentialDeps struct {
	// Login submits the credentials with token, which may be empty.
	Login func(ctx context.Context, token string) error

	// AcquireToken returns a fresh token. visible forces an interactive
	// challenge.
	AcquireToken func(ctx context.Context, visible bool) (string, bool)

	// Escalate is called before any visible acquisition.
	Escalate func()

	IsCaptchaRejection func(error) bool

	// AllowWithoutToken lets a required token be skipped after acquisition
	// failed twice.
	AllowWithoutToken bool

	OnAcquireRetry func()
	OnCaptchaRetry func()

	Errors CredentialErrors
}

// CredentialInput describes the attempt.
type CredentialInput struct {
	// CaptchaRequired is set when the identity already crossed the CAPTCHA
	// threshold, so a visible token is attached up front.
	CaptchaRequired bool
}

// CredentialResult reports what the flow did.
type CredentialResult struct {
	SentToken      bool
	CaptchaRetried bool
}

// RunCredentialLogin submits credentials with at most one automatic retry
// after a CAPTCHA rejection. Token acquisition gets one silent retry; a
// token that is still missing is fatal only when it is required.
func RunCredentialLogin(ctx context.Context, deps CredentialDeps, in CredentialInput) (CredentialResult, error) {
	var res CredentialResult

	token, err := acquire(ctx, deps, in.CaptchaRequired)
	if err != nil {
		return res, err
	}
	res.SentToken = token != ""

	err = deps.Login(ctx, token)
	if err == nil || deps.IsCaptchaRejection == nil || !deps.IsCaptchaRejection(err) {
		return res, err
	}

	token, aerr := acquire(ctx, deps, true)
	if aerr != nil {
		return res, aerr
	}
	if deps.OnCaptchaRetry != nil {
		deps.OnCaptchaRetry()
	}
	res.CaptchaRetried = true
	res.SentToken = token != ""
	return res, deps.Login(ctx, token)
}

func acquire(ctx context.Context, deps CredentialDeps, required bool) (string, error) {
	if deps.AcquireToken == nil {
		if required && !deps.AllowWithoutToken {
			return "", deps.Errors.BotMitigationFailed
		}
		return "", nil
	}
	if required && deps.Escalate != nil {
		deps.Escalate()
	}

	token, ok := deps.AcquireToken(ctx, required)
	if !ok {
		if deps.OnAcquireRetry != nil {
			deps.OnAcquireRetry()
		}
		token, ok = deps.AcquireToken(ctx, required)
	}
	if ok {
		return token, nil
	}
	if required && !deps.AllowWithoutToken {
		return "", deps.Errors.BotMitigationFailed
	}
	return "", nil
}
