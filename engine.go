package eventify

import (
	"context"
	"errors"
	"time"

	"github.com/zoha-shobbar/Eventify/dispatch"
	"github.com/zoha-shobbar/Eventify/otp"
	"github.com/zoha-shobbar/Eventify/password"
	"github.com/zoha-shobbar/Eventify/session"
	"github.com/zoha-shobbar/Eventify/token"
)

// Engine is the authentication and session-lifecycle orchestrator. Build one
// with the [Builder]; all methods are safe for concurrent use.
type Engine struct {
	cfg      Config
	users    UserDirectory
	sessions session.Store
	hasher   *password.Hasher
	issuer   *token.Issuer
	refresh  *token.RefreshProtector
	codes    *otp.Provider
	channels *dispatch.Set
	metrics  *Metrics
	audit    *auditDispatcher

	// now is replaceable in tests.
	now func() time.Time
}

// Close flushes the audit dispatcher and releases store resources.
func (e *Engine) Close() error {
	if e == nil {
		return nil
	}
	e.audit.Close()
	if e.sessions != nil {
		return e.sessions.Close()
	}
	return nil
}

// MetricsSnapshot returns a copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}
	return e.metrics.Snapshot()
}

// AuditDropped reports how many audit events were discarded under
// backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// Validate verifies an access token offline: signature, expiry, issuer, and
// audience. It does not consult the session store; a token stays valid for
// its full lifetime even if the session behind it was since rotated or
// removed.
func (e *Engine) Validate(tokenStr string) (*token.AccessClaims, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	claims, err := e.issuer.ParseAccess(tokenStr)
	if err != nil {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

func (e *Engine) emitAudit(ctx context.Context, event AuditEvent) {
	event.Timestamp = e.now()
	if event.IP == "" {
		event.IP = clientIPFromContext(ctx)
	}
	e.audit.Emit(ctx, event)
}

// issuePair mints the access/refresh pair for one session generation. The
// elevated flag marks tokens minted right after a step-up proof; it applies
// to this access token only and is not stored on the session.
func (e *Engine) issuePair(sess *session.Session, elevated bool) (*TokenPair, error) {
	now := e.now()
	stamp := sess.Stamp()

	access, accessExp, err := e.issuer.IssueAccess(sess.UserID, sess.ID, stamp, sess.Privileged, elevated, now)
	if err != nil {
		return nil, err
	}
	refresh, refreshExp, err := e.refresh.Seal(sess.ID, stamp, now)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// registerAccessFailure bumps the user's failed-attempt counter and starts a
// lockout once the cap is hit. Returns the error the caller should surface.
func (e *Engine) registerAccessFailure(ctx context.Context, user *User) error {
	user.AccessFailedCount++
	if user.AccessFailedCount >= e.cfg.Identity.MaxFailedAccessAttempts {
		end := e.now().Add(e.cfg.Identity.LockoutDuration)
		user.LockoutEnd = &end
		user.AccessFailedCount = 0
	}
	if err := e.users.Update(ctx, user); err != nil {
		return err
	}

	if user.LockoutEnd != nil && user.LockoutEnd.After(e.now()) {
		e.metrics.Inc(MetricSignInLockedOut)
		e.emitAudit(ctx, AuditEvent{
			EventType: AuditLockout,
			UserID:    user.ID,
			Success:   false,
		})
		return &LockedOutError{TryAgainIn: user.LockoutEnd.Sub(e.now())}
	}
	return ErrInvalidCredentials
}

// settleSignIn clears the failure counter and retires any pending
// second-factor token. The token dies with the sign-in no matter which proof
// satisfied the second factor, so a code dispatched earlier cannot outlive
// the session it gated.
func (e *Engine) settleSignIn(ctx context.Context, user *User) error {
	if user.AccessFailedCount == 0 && user.TwoFactorTokenRequestedOn == nil {
		return nil
	}
	user.AccessFailedCount = 0
	user.TwoFactorTokenRequestedOn = nil
	return e.users.Update(ctx, user)
}

// checkLockout gates every credential check.
func (e *Engine) checkLockout(ctx context.Context, user *User) error {
	if user.LockoutEnd == nil {
		return nil
	}
	now := e.now()
	if user.LockoutEnd.After(now) {
		e.metrics.Inc(MetricSignInLockedOut)
		e.emitAudit(ctx, AuditEvent{
			EventType: AuditSignInFailed,
			UserID:    user.ID,
			Success:   false,
			Error:     "locked out",
		})
		return &LockedOutError{TryAgainIn: user.LockoutEnd.Sub(now)}
	}
	// The window has lapsed; clear it so the record doesn't carry a stale
	// lockout forever.
	user.LockoutEnd = nil
	return e.users.Update(ctx, user)
}

func recipientFor(user *User) dispatch.Recipient {
	return dispatch.Recipient{
		UserID:      user.ID,
		Email:       user.Email,
		PhoneNumber: user.PhoneNumber,
	}
}

// eligibleKinds filters registered channels down to the ones this user can
// actually receive on: a channel counts only when its address is present and
// confirmed.
func (e *Engine) eligibleKinds(user *User, exclude dispatch.Kind) []dispatch.Kind {
	var out []dispatch.Kind
	for _, kind := range e.channels.Kinds() {
		if kind == exclude {
			continue
		}
		switch kind {
		case dispatch.KindEmail:
			if user.Email != "" && user.EmailConfirmed {
				out = append(out, kind)
			}
		case dispatch.KindSMS:
			if user.PhoneNumber != "" && user.PhoneNumberConfirmed {
				out = append(out, kind)
			}
		default:
			out = append(out, kind)
		}
	}
	return out
}

// channelPurpose scopes a challenge purpose to one delivery channel, so a
// code sent over email never verifies as an SMS code.
func channelPurpose(base ChallengePurpose, kind dispatch.Kind) string {
	return string(base) + ":" + string(kind)
}

// elevationPurpose binds an elevation code to one session.
func elevationPurpose(sessionID string) string {
	return string(PurposeElevatedAccess) + ":" + sessionID
}

func isStoreUnavailable(err error) bool {
	return errors.Is(err, session.ErrUnavailable)
}
