package eventify

import (
	"context"
	"time"
)

// ChallengePurpose scopes a one-time code to the flow that requested it.
// A code generated for one purpose never verifies under another.
type ChallengePurpose string

const (
	// PurposeOneTimeSignIn is a primary-factor one-time sign-in code.
	PurposeOneTimeSignIn ChallengePurpose = "Otp"
	// PurposeTwoFactor is a second-factor token for two-factor sign-in.
	PurposeTwoFactor ChallengePurpose = "TwoFactor"
	// PurposeElevatedAccess is a step-up proof consumed during refresh; the
	// access token minted by that rotation carries the elevated claim.
	PurposeElevatedAccess ChallengePurpose = "ElevatedAccess"
)

// User is the account record consumed from the caller's user directory.
//
// The three RequestedOn timestamps are the engine's only signal that a code
// of the corresponding purpose is currently live: set when the code is
// issued, cleared to nil when it is consumed, and the basis of resend
// throttling.
type User struct {
	ID           string
	UserName     string
	Email        string
	PhoneNumber  string
	PasswordHash string

	EmailConfirmed       bool
	PhoneNumberConfirmed bool
	TwoFactorEnabled     bool

	// AuthenticatorKey is the shared secret for an authenticator app, nil
	// when none is enrolled. Accepted as an elevation proof during refresh.
	AuthenticatorKey []byte

	LockoutEnd        *time.Time
	AccessFailedCount int

	OtpRequestedOn                 *time.Time
	TwoFactorTokenRequestedOn      *time.Time
	ElevatedAccessTokenRequestedOn *time.Time
}

// Confirmed reports whether at least one sign-in identifier has been verified.
func (u *User) Confirmed() bool {
	return u.EmailConfirmed || u.PhoneNumberConfirmed
}

// UserDirectory is the interface callers must implement to integrate the
// engine with their user database. Identifier lookup accepts email, phone
// number, or username. Update must persist the whole record atomically.
type UserDirectory interface {
	FindUser(ctx context.Context, identifier string) (*User, error)
	FindUserByID(ctx context.Context, userID string) (*User, error)
	Create(ctx context.Context, user *User) error
	Update(ctx context.Context, user *User) error

	// ConsumeRecoveryCode atomically checks and invalidates a two-factor
	// recovery code. It returns false when the code does not match an
	// unused code for the user.
	ConsumeRecoveryCode(ctx context.Context, userID, code string) (bool, error)
}

// TokenPair is an access credential plus the refresh credential that can
// rotate it.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// SignUpRequest is the input for [Engine.SignUp]. At least one of Email or
// PhoneNumber is required.
type SignUpRequest struct {
	UserName    string
	Email       string
	PhoneNumber string
	Password    string
}

// SignInRequest is the input for [Engine.SignIn] and
// [Engine.SendTwoFactorToken]. Exactly one of Password or Otp supplies the
// first factor; TwoFactorCode may accompany either for a one-shot sign-in.
type SignInRequest struct {
	Identifier    string
	Password      string
	Otp           string
	TwoFactorCode string
}

// SignInResult is returned by [Engine.SignIn]. When RequiresTwoFactor is
// true the token pair is empty and the caller must collect a second-factor
// code; otherwise Tokens carries the issued pair.
type SignInResult struct {
	RequiresTwoFactor bool
	Tokens            *TokenPair
	SessionID         string
}

// RefreshRequest is the input for [Engine.Refresh]. ElevatedAccessToken is
// optional; when present it is verified as a step-up proof and the re-issued
// access credential carries the elevated claim.
type RefreshRequest struct {
	RefreshToken        string
	ElevatedAccessToken string
}
