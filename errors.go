package eventify

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredentials is returned when the identifier or the supplied
	// credential is wrong. It never distinguishes which, to avoid account
	// enumeration.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrNotConfirmed is returned when the account exists but neither its
	// email nor its phone number has been confirmed.
	ErrNotConfirmed = errors.New("account not confirmed")
	// ErrLockedOut is returned while the account's lockout window is open.
	// The concrete error is a [LockedOutError] carrying the remaining wait.
	ErrLockedOut = errors.New("account locked out")
	// ErrThrottled is returned when a challenge resend is attempted before
	// the previous challenge's lifetime has elapsed. The concrete error is a
	// [ThrottledError] carrying the remaining wait.
	ErrThrottled = errors.New("challenge resend throttled")
	// ErrTwoFactorRequired signals that the first factor succeeded and a
	// second-factor code must be supplied. It is control flow, not a fault.
	ErrTwoFactorRequired = errors.New("two-factor code required")
	// ErrTokenInvalid is returned for malformed, expired, or tampered refresh
	// and elevation credentials. It carries no partial data.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrTokenReused is returned when a refresh credential's embedded stamp
	// no longer matches the session's stored stamp. The session is revoked
	// before this error surfaces.
	ErrTokenReused = errors.New("refresh credential reuse detected")
	// ErrConcurrentModification is returned when a refresh loses a race
	// against another rotation of the same session in the same instant.
	// Callers must not retry the rotation with the same credential.
	ErrConcurrentModification = errors.New("concurrent session modification")
	// ErrSessionNotFound is returned when the referenced session does not exist.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionConflict is returned when a session id collides on creation.
	ErrSessionConflict = errors.New("session id conflict")
	// ErrUserNotFound is returned by operations that may disclose existence,
	// such as challenge dispatch for a known account.
	ErrUserNotFound = errors.New("user not found")
	// ErrDuplicateIdentifier is returned by SignUp when the email or phone
	// number is already registered.
	ErrDuplicateIdentifier = errors.New("duplicate email or phone number")
	// ErrTwoFactorDisabled is returned when a two-factor operation is
	// requested for an account without two-factor enabled.
	ErrTwoFactorDisabled = errors.New("two-factor not enabled")
	// ErrStoreUnavailable wraps session store infrastructure failures.
	ErrStoreUnavailable = errors.New("session store unavailable")
	// ErrDirectoryUnavailable wraps user directory infrastructure failures.
	ErrDirectoryUnavailable = errors.New("user directory unavailable")
	// ErrEngineNotReady is returned when the engine is used before Build
	// completed or a required dependency is missing.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// LockedOutError reports an open lockout window. It unwraps to [ErrLockedOut].
type LockedOutError struct {
	// TryAgainIn is the remaining wait until the lockout window closes.
	TryAgainIn time.Duration
}

func (e *LockedOutError) Error() string {
	return fmt.Sprintf("account locked out, try again in %s", e.TryAgainIn)
}

// Unwrap makes errors.Is(err, ErrLockedOut) hold.
func (e *LockedOutError) Unwrap() error { return ErrLockedOut }

// ThrottledError reports a challenge resend attempted before the previous
// challenge expired. It unwraps to [ErrThrottled].
type ThrottledError struct {
	// TryAgainIn is the remaining wait until a resend is accepted, equal to
	// the challenge lifetime minus the time elapsed since the last request.
	TryAgainIn time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("challenge resend throttled, try again in %s", e.TryAgainIn)
}

// Unwrap makes errors.Is(err, ErrThrottled) hold.
func (e *ThrottledError) Unwrap() error { return ErrThrottled }
