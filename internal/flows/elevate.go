package flows

import (
	"context"
	"time"
)

// ElevateErrors carries host-level sentinel errors.
type ElevateErrors struct {
	SessionInvalidated error
	Unconfirmed        error
}

// RefreshState is the part of a session read the elevate flow needs.
type RefreshState struct {
	Authenticated bool
	Elevated      bool
}

type ElevateDeps struct {
	Elevate       func(ctx context.Context) error
	Refresh       func(ctx context.Context) (RefreshState, error)
	IsInvalidated func(error) bool
	Invalidate    func(ctx context.Context)

	ConfirmAttempts int
	ConfirmDelay    time.Duration
	Sleep           func(ctx context.Context, d time.Duration) error

	Errors ElevateErrors
}

// RunElevate asks the server to elevate, then confirms with at least one
// refresh. A refresh showing an elevated session wins even when the elevate
// call failed. An explicit requires-login answer invalidates local state and
// is never retried.
func RunElevate(ctx context.Context, deps ElevateDeps) error {
	elevateErr := deps.Elevate(ctx)
	if elevateErr != nil && deps.IsInvalidated(elevateErr) {
		deps.Invalidate(ctx)
		return deps.Errors.SessionInvalidated
	}

	attempts := deps.ConfirmAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := deps.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			if err := sleep(ctx, deps.ConfirmDelay); err != nil {
				return err
			}
		}
		st, err := deps.Refresh(ctx)
		if err != nil {
			lastErr = err
			continue
		}
		if st.Elevated {
			return nil
		}
		if !st.Authenticated {
			return deps.Errors.SessionInvalidated
		}
		lastErr = nil
		// a rejected elevate call against an authenticated, unverified
		// session will not change by waiting
		if elevateErr != nil {
			return elevateErr
		}
	}

	if lastErr != nil {
		return lastErr
	}
	if elevateErr != nil {
		return elevateErr
	}
	return deps.Errors.Unconfirmed
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
