package eventify

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/zoha-shobbar/Eventify/dispatch"
	"github.com/zoha-shobbar/Eventify/otp"
	"github.com/zoha-shobbar/Eventify/session"
)

// SignUp registers a new account. The password is hashed before the record
// ever reaches the directory; duplicate identifiers surface as
// ErrDuplicateIdentifier.
func (e *Engine) SignUp(ctx context.Context, req SignUpRequest) (*User, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if strings.TrimSpace(req.UserName) == "" {
		return nil, errors.New("eventify: user name is required")
	}
	if req.Email == "" && req.PhoneNumber == "" {
		return nil, errors.New("eventify: an email or phone number is required")
	}

	hash, err := e.hasher.Hash(req.Password)
	if err != nil {
		return nil, err
	}

	user := &User{
		ID:           uuid.NewString(),
		UserName:     req.UserName,
		Email:        req.Email,
		PhoneNumber:  req.PhoneNumber,
		PasswordHash: hash,
	}
	if err := e.users.Create(ctx, user); err != nil {
		if errors.Is(err, ErrDuplicateIdentifier) {
			e.metrics.Inc(MetricSignUpDuplicate)
		}
		return nil, err
	}

	e.metrics.Inc(MetricSignUpSuccess)
	e.emitAudit(ctx, AuditEvent{
		EventType: AuditSignUp,
		UserID:    user.ID,
		Success:   true,
	})
	return user, nil
}

// SignIn runs the full first-factor / second-factor state machine.
//
// The first factor is the password, or a one-time sign-in code previously
// requested via SendOtp. When the account has two-factor enabled and no
// second-factor code accompanies the request, SignIn dispatches a challenge
// and returns ErrTwoFactorRequired together with a result whose
// RequiresTwoFactor flag is set; the caller retries with the code.
//
// Every failed credential or code check counts toward lockout.
func (e *Engine) SignIn(ctx context.Context, req SignInRequest) (*SignInResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	user, err := e.users.FindUser(ctx, req.Identifier)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			// Indistinguishable from a wrong password on purpose.
			e.metrics.Inc(MetricSignInFailure)
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !user.Confirmed() {
		return nil, ErrNotConfirmed
	}
	if err := e.checkLockout(ctx, user); err != nil {
		return nil, err
	}

	// First factor.
	var firstFactorKind dispatch.Kind
	if req.Otp != "" {
		kind, ok := e.verifyOtp(user, req.Otp)
		if !ok {
			return nil, e.signInFailed(ctx, user, "invalid otp")
		}
		firstFactorKind = kind
		// Retire the code before anything is issued on its strength.
		user.OtpRequestedOn = nil
		if err := e.users.Update(ctx, user); err != nil {
			return nil, err
		}
	} else {
		ok, err := e.hasher.Verify(req.Password, user.PasswordHash)
		if err != nil || !ok {
			return nil, e.signInFailed(ctx, user, "invalid password")
		}
	}

	// Second factor.
	if user.TwoFactorEnabled {
		if req.TwoFactorCode == "" {
			if err := e.sendTwoFactorToken(ctx, user, firstFactorKind); err != nil && !errors.Is(err, ErrThrottled) {
				return nil, err
			}
			e.metrics.Inc(MetricTwoFactorRequired)
			e.emitAudit(ctx, AuditEvent{
				EventType: AuditTwoFactorRequired,
				UserID:    user.ID,
				Success:   true,
			})
			return &SignInResult{RequiresTwoFactor: true}, ErrTwoFactorRequired
		}

		ok, err := e.verifyTwoFactor(ctx, user, req.TwoFactorCode)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, e.signInFailed(ctx, user, "invalid two-factor code")
		}
	}

	if err := e.settleSignIn(ctx, user); err != nil {
		return nil, err
	}
	// A sign-in that cleared a second factor mints an elevated access token.
	return e.startSession(ctx, user, user.TwoFactorEnabled)
}

func (e *Engine) signInFailed(ctx context.Context, user *User, reason string) error {
	e.metrics.Inc(MetricSignInFailure)
	e.emitAudit(ctx, AuditEvent{
		EventType: AuditSignInFailed,
		UserID:    user.ID,
		Success:   false,
		Error:     reason,
	})
	return e.registerAccessFailure(ctx, user)
}

// verifyOtp checks a one-time sign-in code against the recorded request
// time. The matching channel comes back so the second-factor fan-out can
// skip it.
func (e *Engine) verifyOtp(user *User, code string) (dispatch.Kind, bool) {
	if user.OtpRequestedOn == nil {
		return "", false
	}
	if e.now().Sub(*user.OtpRequestedOn) > e.cfg.Identity.OtpTokenLifetime {
		return "", false
	}
	for _, kind := range e.channels.Kinds() {
		if e.codes.Verify(channelPurpose(PurposeOneTimeSignIn, kind), user.ID, code, *user.OtpRequestedOn) {
			return kind, true
		}
	}
	return "", false
}

// verifyTwoFactor accepts, in order: a recovery code, a challenge token sent
// over a channel, or an authenticator app code.
func (e *Engine) verifyTwoFactor(ctx context.Context, user *User, code string) (bool, error) {
	ok, err := e.users.ConsumeRecoveryCode(ctx, user.ID, code)
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}

	if user.TwoFactorTokenRequestedOn != nil &&
		e.now().Sub(*user.TwoFactorTokenRequestedOn) <= e.cfg.Identity.TwoFactorTokenLifetime {
		for _, kind := range e.channels.Kinds() {
			if e.codes.Verify(channelPurpose(PurposeTwoFactor, kind), user.ID, code, *user.TwoFactorTokenRequestedOn) {
				return true, nil
			}
		}
	}

	if len(user.AuthenticatorKey) > 0 && otp.VerifyAuthenticator(user.AuthenticatorKey, code, e.now()) {
		return true, nil
	}
	return false, nil
}

// startSession creates the durable session and mints the first token pair.
// The store decides the privileged flag under the per-user cap; elevated
// marks the first access token as backed by a second factor.
func (e *Engine) startSession(ctx context.Context, user *User, elevated bool) (*SignInResult, error) {
	now := e.now()
	sess := &session.Session{
		ID:         uuid.NewString(),
		UserID:     user.ID,
		DeviceInfo: deviceInfoFromContext(ctx),
		IP:         clientIPFromContext(ctx),
		Address:    addressFromContext(ctx),
		StartedOn:  now.Unix(),
	}

	stored, err := e.sessions.Create(ctx, sess, e.cfg.Identity.MaxConcurrentPrivilegedSessions)
	if err != nil {
		if errors.Is(err, session.ErrConflict) {
			return nil, ErrSessionConflict
		}
		if isStoreUnavailable(err) {
			return nil, ErrStoreUnavailable
		}
		return nil, err
	}
	e.metrics.Inc(MetricSessionCreated)

	pair, err := e.issuePair(stored, elevated)
	if err != nil {
		return nil, err
	}

	e.metrics.Inc(MetricSignInSuccess)
	e.emitAudit(ctx, AuditEvent{
		EventType: AuditSignIn,
		UserID:    user.ID,
		SessionID: stored.ID,
		Success:   true,
		Metadata: map[string]string{
			"privileged": boolString(stored.Privileged),
		},
	})
	return &SignInResult{Tokens: pair, SessionID: stored.ID}, nil
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
