package eventify

import (
	"context"
	"errors"
	"time"

	"github.com/zoha-shobbar/Eventify/dispatch"
	"github.com/zoha-shobbar/Eventify/session"
)

// SendOtp dispatches a one-time sign-in code to every channel the user can
// receive on. While a previous code is still inside its lifetime the request
// is refused with a ThrottledError carrying the remaining wait; requesting
// again after it lapses issues a fresh code that supersedes the old one.
func (e *Engine) SendOtp(ctx context.Context, identifier string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	user, err := e.users.FindUser(ctx, identifier)
	if err != nil {
		return err
	}
	if !user.Confirmed() {
		return ErrNotConfirmed
	}
	if err := e.checkLockout(ctx, user); err != nil {
		return err
	}

	if err := e.throttle(ctx, user, user.OtpRequestedOn, e.cfg.Identity.OtpTokenLifetime); err != nil {
		return err
	}

	now := e.now()
	user.OtpRequestedOn = &now
	if err := e.users.Update(ctx, user); err != nil {
		return err
	}

	return e.broadcastChallenge(ctx, user, PurposeOneTimeSignIn, "", now, e.cfg.Identity.OtpTokenLifetime)
}

// SendTwoFactorToken re-dispatches the second-factor challenge, for users
// who lost the code sent during sign-in. Same throttle rules as SendOtp.
func (e *Engine) SendTwoFactorToken(ctx context.Context, identifier string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	user, err := e.users.FindUser(ctx, identifier)
	if err != nil {
		return err
	}
	if !user.Confirmed() {
		return ErrNotConfirmed
	}
	if !user.TwoFactorEnabled {
		return ErrTwoFactorDisabled
	}
	if err := e.checkLockout(ctx, user); err != nil {
		return err
	}

	return e.sendTwoFactorToken(ctx, user, "")
}

// sendTwoFactorToken is the shared path for sign-in fan-out and explicit
// resends. exclude names the channel that already carried the first factor.
func (e *Engine) sendTwoFactorToken(ctx context.Context, user *User, exclude dispatch.Kind) error {
	if err := e.throttle(ctx, user, user.TwoFactorTokenRequestedOn, e.cfg.Identity.TwoFactorTokenLifetime); err != nil {
		return err
	}

	now := e.now()
	user.TwoFactorTokenRequestedOn = &now
	if err := e.users.Update(ctx, user); err != nil {
		return err
	}

	return e.broadcastChallenge(ctx, user, PurposeTwoFactor, exclude, now, e.cfg.Identity.TwoFactorTokenLifetime)
}

// RequestElevatedAccess dispatches an elevation code bound to one session.
// The caller presents the code on a later Refresh to promote the session to
// privileged.
func (e *Engine) RequestElevatedAccess(ctx context.Context, userID, sessionID string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	user, err := e.users.FindUserByID(ctx, userID)
	if err != nil {
		return err
	}

	sess, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return ErrSessionNotFound
		}
		if isStoreUnavailable(err) {
			return ErrStoreUnavailable
		}
		return err
	}
	if sess.UserID != user.ID {
		return ErrSessionNotFound
	}

	if err := e.throttle(ctx, user, user.ElevatedAccessTokenRequestedOn, e.cfg.Identity.ElevatedAccessTokenLifetime); err != nil {
		return err
	}

	now := e.now()
	user.ElevatedAccessTokenRequestedOn = &now
	if err := e.users.Update(ctx, user); err != nil {
		return err
	}

	purpose := elevationPurpose(sessionID)
	code := e.codes.Code(purpose, user.ID, now)
	kinds := e.eligibleKinds(user, "")
	err = e.channels.Broadcast(ctx, kinds, recipientFor(user), func(dispatch.Kind) dispatch.Message {
		return dispatch.Message{
			Purpose:  purpose,
			Code:     code,
			Lifetime: e.cfg.Identity.ElevatedAccessTokenLifetime,
		}
	})
	if err != nil {
		return err
	}

	e.metrics.Inc(MetricChallengeSent)
	e.emitAudit(ctx, AuditEvent{
		EventType: AuditChallengeSent,
		UserID:    user.ID,
		SessionID: sessionID,
		Success:   true,
		Metadata:  map[string]string{"purpose": string(PurposeElevatedAccess)},
	})
	return nil
}

// throttle refuses a new challenge while the previous one is still live. The
// remaining wait is the unexpired portion of the lifetime.
func (e *Engine) throttle(ctx context.Context, user *User, requestedOn *time.Time, lifetime time.Duration) error {
	if requestedOn == nil {
		return nil
	}
	elapsed := e.now().Sub(*requestedOn)
	if elapsed >= lifetime {
		return nil
	}

	e.metrics.Inc(MetricSignInThrottled)
	e.emitAudit(ctx, AuditEvent{
		EventType: AuditChallengeThrottle,
		UserID:    user.ID,
		Success:   false,
	})
	return &ThrottledError{TryAgainIn: lifetime - elapsed}
}

// broadcastChallenge derives a per-channel code and sends it over every
// eligible channel, best-effort.
func (e *Engine) broadcastChallenge(ctx context.Context, user *User, base ChallengePurpose, exclude dispatch.Kind, requestedOn time.Time, lifetime time.Duration) error {
	kinds := e.eligibleKinds(user, exclude)
	err := e.channels.Broadcast(ctx, kinds, recipientFor(user), func(kind dispatch.Kind) dispatch.Message {
		purpose := channelPurpose(base, kind)
		return dispatch.Message{
			Purpose:  purpose,
			Code:     e.codes.Code(purpose, user.ID, requestedOn),
			Lifetime: lifetime,
		}
	})
	if err != nil {
		return err
	}

	e.metrics.Inc(MetricChallengeSent)
	e.emitAudit(ctx, AuditEvent{
		EventType: AuditChallengeSent,
		UserID:    user.ID,
		Success:   true,
		Metadata:  map[string]string{"purpose": string(base)},
	})
	return nil
}
