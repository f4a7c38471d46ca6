package eventify

import (
	"context"
	"errors"
	"strconv"

	"github.com/zoha-shobbar/Eventify/otp"
	"github.com/zoha-shobbar/Eventify/session"
)

// Refresh rotates a token pair. The refresh credential carries the session
// ID and the stamp generation that minted it; rotation is a compare-and-swap
// against the store's authoritative stamp, so of any number of concurrent
// attempts exactly one wins.
//
// A credential whose stamp no longer matches belonged to a retired
// generation. Someone — the legitimate client or a thief — already spent it,
// and there is no way to tell which party is presenting it now, so the whole
// session is terminated and ErrTokenReused returned. The one exception is a
// rotation that lands in the same clock second as the winner: the stamp the
// loser would have written is already stored, which reads as a lost race,
// and surfaces as ErrConcurrentModification with the session intact.
//
// Every rotation re-evaluates the privileged flag: a standard session is
// promoted when the cap has room, and a privileged one never reverts. An
// elevation code obtained via RequestElevatedAccess (or an authenticator app
// code) may accompany the refresh; on success the re-issued access token
// carries the elevated claim.
func (e *Engine) Refresh(ctx context.Context, req RefreshRequest) (*TokenPair, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	now := e.now()
	payload, err := e.refresh.Open(req.RefreshToken, now)
	if err != nil {
		e.metrics.Inc(MetricRefreshFailure)
		return nil, ErrTokenInvalid
	}

	sess, err := e.sessions.Get(ctx, payload.SessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			e.metrics.Inc(MetricRefreshFailure)
			return nil, ErrSessionNotFound
		}
		if isStoreUnavailable(err) {
			return nil, ErrStoreUnavailable
		}
		return nil, err
	}

	// Reuse detection runs before anything else looks at the request. A
	// replayed credential must terminate the session even when it arrives
	// with a garbage elevation code; routing it through the elevation check
	// first would let a thief try codes without ever tripping the response.
	if payload.Stamp != sess.Stamp() {
		if sess.Stamp() == now.Unix() {
			e.metrics.Inc(MetricRefreshConflict)
			return nil, ErrConcurrentModification
		}
		return nil, e.terminateReusedSession(ctx, sess)
	}

	// Optional elevation, verified before the rotation so a bad code never
	// consumes the credential.
	var user *User
	elevate := false
	if req.ElevatedAccessToken != "" {
		user, err = e.users.FindUserByID(ctx, sess.UserID)
		if err != nil {
			return nil, err
		}
		if err := e.checkLockout(ctx, user); err != nil {
			return nil, err
		}
		if !e.verifyElevation(user, sess.ID, req.ElevatedAccessToken) {
			e.metrics.Inc(MetricElevationDenied)
			return nil, e.registerAccessFailure(ctx, user)
		}
		elevate = true
	}

	renewed, err := e.sessions.Renew(ctx, session.RenewInput{
		SessionID:     sess.ID,
		UserID:        sess.UserID,
		ExpectedStamp: payload.Stamp,
		StartedOn:     sess.StartedOn,
		Now:           now,
		DeviceInfo:    fallback(deviceInfoFromContext(ctx), sess.DeviceInfo),
		IP:            fallback(clientIPFromContext(ctx), sess.IP),
		Address:       fallback(addressFromContext(ctx), sess.Address),
	}, e.cfg.Identity.MaxConcurrentPrivilegedSessions)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrNotFound):
			e.metrics.Inc(MetricRefreshFailure)
			return nil, ErrSessionNotFound
		case errors.Is(err, session.ErrStampMismatch):
			return nil, e.terminateReusedSession(ctx, sess)
		case errors.Is(err, session.ErrConcurrentUpdate):
			e.metrics.Inc(MetricRefreshConflict)
			return nil, ErrConcurrentModification
		case isStoreUnavailable(err):
			return nil, ErrStoreUnavailable
		}
		return nil, err
	}

	if elevate {
		// The code is single-use; retire it and forgive past failures.
		user.ElevatedAccessTokenRequestedOn = nil
		user.AccessFailedCount = 0
		if err := e.users.Update(ctx, user); err != nil {
			return nil, err
		}
		e.metrics.Inc(MetricElevationSuccess)
		e.emitAudit(ctx, AuditEvent{
			EventType: AuditElevation,
			UserID:    renewed.UserID,
			SessionID: renewed.ID,
			Success:   true,
		})
	}

	pair, err := e.issuePair(renewed, elevate)
	if err != nil {
		return nil, err
	}

	e.metrics.Inc(MetricRefreshSuccess)
	e.emitAudit(ctx, AuditEvent{
		EventType: AuditRefresh,
		UserID:    renewed.UserID,
		SessionID: renewed.ID,
		Success:   true,
	})
	return pair, nil
}

// terminateReusedSession is the theft-detection response: the session behind
// a replayed credential is destroyed so neither holder keeps access.
func (e *Engine) terminateReusedSession(ctx context.Context, sess *session.Session) error {
	if err := e.sessions.Delete(ctx, sess.ID); err != nil && !isStoreUnavailable(err) {
		return err
	}
	e.metrics.Inc(MetricRefreshReuseDetected)
	e.metrics.Inc(MetricSessionDeleted)
	e.emitAudit(ctx, AuditEvent{
		EventType: AuditRefreshReuse,
		UserID:    sess.UserID,
		SessionID: sess.ID,
		Success:   false,
		Error:     "refresh credential replayed",
	})
	return ErrTokenReused
}

// verifyElevation accepts the session-bound code from RequestElevatedAccess
// or, equivalently, an authenticator app code.
func (e *Engine) verifyElevation(user *User, sessionID, code string) bool {
	if user.ElevatedAccessTokenRequestedOn != nil &&
		e.now().Sub(*user.ElevatedAccessTokenRequestedOn) <= e.cfg.Identity.ElevatedAccessTokenLifetime &&
		e.codes.Verify(elevationPurpose(sessionID), user.ID, code, *user.ElevatedAccessTokenRequestedOn) {
		return true
	}
	return len(user.AuthenticatorKey) > 0 && otp.VerifyAuthenticator(user.AuthenticatorKey, code, e.now())
}

// SignOut removes one session. The access token stays valid until its own
// expiry; the refresh credential dies with the session.
func (e *Engine) SignOut(ctx context.Context, sessionID string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if err := e.sessions.Delete(ctx, sessionID); err != nil {
		if isStoreUnavailable(err) {
			return ErrStoreUnavailable
		}
		return err
	}
	e.metrics.Inc(MetricSessionDeleted)
	e.emitAudit(ctx, AuditEvent{
		EventType: AuditSignOut,
		SessionID: sessionID,
		Success:   true,
	})
	return nil
}

// SignOutAll removes every session the user has and reports how many were
// dropped.
func (e *Engine) SignOutAll(ctx context.Context, userID string) (int, error) {
	if e == nil {
		return 0, ErrEngineNotReady
	}
	n, err := e.sessions.DeleteAllForUser(ctx, userID)
	if err != nil {
		if isStoreUnavailable(err) {
			return 0, ErrStoreUnavailable
		}
		return 0, err
	}
	for i := 0; i < n; i++ {
		e.metrics.Inc(MetricSessionDeleted)
	}
	e.emitAudit(ctx, AuditEvent{
		EventType: AuditSignOutAll,
		UserID:    userID,
		Success:   true,
		Metadata:  map[string]string{"sessions": strconv.Itoa(n)},
	})
	return n, nil
}

func fallback(v, old string) string {
	if v != "" {
		return v
	}
	return old
}
