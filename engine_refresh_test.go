package eventify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zoha-shobbar/Eventify/session"
)

func signInUser(t *testing.T, env *testEnv, name, pass string) *SignInResult {
	t.Helper()
	res, err := env.engine.SignIn(context.Background(), SignInRequest{Identifier: name, Password: pass})
	if err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	return res
}

func TestRefreshRotatesAndDetectsReuse(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	env.seedUser(t, "alice", "a-long-password", nil)
	res := signInUser(t, env, "alice", "a-long-password")
	original := res.Tokens.RefreshToken

	env.advance(2 * time.Second)
	rotated, err := env.engine.Refresh(ctx, RefreshRequest{RefreshToken: original})
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if rotated.RefreshToken == original {
		t.Fatal("expected a new refresh credential")
	}

	// The spent credential is a replay: the session dies with it.
	env.advance(2 * time.Second)
	_, err = env.engine.Refresh(ctx, RefreshRequest{RefreshToken: original})
	if !errors.Is(err, ErrTokenReused) {
		t.Fatalf("expected ErrTokenReused, got %v", err)
	}

	// Even the legitimate holder is out now.
	env.advance(2 * time.Second)
	_, err = env.engine.Refresh(ctx, RefreshRequest{RefreshToken: rotated.RefreshToken})
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound after termination, got %v", err)
	}

	if got := env.engine.MetricsSnapshot().Counters[MetricRefreshReuseDetected]; got != 1 {
		t.Fatalf("expected 1 reuse detection, got %d", got)
	}
}

func TestRefreshGarbageCredential(t *testing.T) {
	env := newTestEnv(t, testConfig())

	_, err := env.engine.Refresh(context.Background(), RefreshRequest{RefreshToken: "not-a-token"})
	if !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestRefreshTamperedCredential(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	env.seedUser(t, "bob", "a-long-password", nil)
	res := signInUser(t, env, "bob", "a-long-password")

	tok := []byte(res.Tokens.RefreshToken)
	tok[len(tok)/2] ^= 0x01
	_, err := env.engine.Refresh(ctx, RefreshRequest{RefreshToken: string(tok)})
	if !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for tampered credential, got %v", err)
	}

	// The legitimate credential still works.
	env.advance(time.Second)
	if _, err := env.engine.Refresh(ctx, RefreshRequest{RefreshToken: res.Tokens.RefreshToken}); err != nil {
		t.Fatalf("Refresh failed after tamper attempt: %v", err)
	}
}

func TestRefreshSameSecondIsConflictNotReuse(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	env.seedUser(t, "carol", "a-long-password", nil)
	res := signInUser(t, env, "carol", "a-long-password")

	env.advance(time.Second)
	if _, err := env.engine.Refresh(ctx, RefreshRequest{RefreshToken: res.Tokens.RefreshToken}); err != nil {
		t.Fatalf("first Refresh failed: %v", err)
	}

	// Same credential, same clock second: the stored stamp equals what this
	// rotation would write, so it's a lost race, not theft.
	_, err := env.engine.Refresh(ctx, RefreshRequest{RefreshToken: res.Tokens.RefreshToken})
	if !errors.Is(err, ErrConcurrentModification) {
		t.Fatalf("expected ErrConcurrentModification, got %v", err)
	}

	// The session survived the conflict.
	if _, storeErr := env.engine.sessions.Get(ctx, res.SessionID); storeErr != nil {
		t.Fatalf("session should survive a same-second conflict: %v", storeErr)
	}
}

func TestRefreshUpdatesSessionMetadata(t *testing.T) {
	env := newTestEnv(t, testConfig())

	env.seedUser(t, "dave", "a-long-password", nil)
	ctx := WithClientIP(context.Background(), "203.0.113.7")
	res, err := env.engine.SignIn(ctx, SignInRequest{Identifier: "dave", Password: "a-long-password"})
	if err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}

	env.advance(time.Second)
	ctx2 := WithClientIP(context.Background(), "198.51.100.9")
	if _, err := env.engine.Refresh(ctx2, RefreshRequest{RefreshToken: res.Tokens.RefreshToken}); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	sess, err := env.engine.sessions.Get(context.Background(), res.SessionID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if sess.IP != "198.51.100.9" {
		t.Fatalf("expected refreshed IP, got %q", sess.IP)
	}
}

func TestRefreshPromotesWhenCapHasRoom(t *testing.T) {
	cfg := testConfig()
	cfg.Identity.MaxConcurrentPrivilegedSessions = 1
	env := newTestEnv(t, cfg)
	ctx := context.Background()

	env.seedUser(t, "erin", "a-long-password", nil)
	first := signInUser(t, env, "erin", "a-long-password")
	second := signInUser(t, env, "erin", "a-long-password")

	// Cap full: the rotation succeeds but the session stays standard.
	env.advance(time.Second)
	pair, err := env.engine.Refresh(ctx, RefreshRequest{RefreshToken: second.Tokens.RefreshToken})
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if env.claims(t, pair.AccessToken).Privileged {
		t.Fatal("refresh must not push the session past the cap")
	}

	// Free the slot; the next plain rotation re-evaluates and takes it.
	if err := env.engine.SignOut(ctx, first.SessionID); err != nil {
		t.Fatalf("SignOut failed: %v", err)
	}
	env.advance(time.Second)
	pair, err = env.engine.Refresh(ctx, RefreshRequest{RefreshToken: pair.RefreshToken})
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	claims := env.claims(t, pair.AccessToken)
	if !claims.Privileged {
		t.Fatal("expected promotion once the cap had room")
	}
	if claims.Elevated {
		t.Fatal("a plain refresh mints no elevated claim")
	}

	// Privilege is monotonic: later rotations keep it.
	env.advance(time.Second)
	pair, err = env.engine.Refresh(ctx, RefreshRequest{RefreshToken: pair.RefreshToken})
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if !env.claims(t, pair.AccessToken).Privileged {
		t.Fatal("privileged flag must survive rotation")
	}
}

func TestElevationGrantsElevatedClaim(t *testing.T) {
	cfg := testConfig()
	cfg.Identity.MaxConcurrentPrivilegedSessions = 1
	env := newTestEnv(t, cfg)
	ctx := context.Background()

	id := env.seedUser(t, "zoe", "a-long-password", nil)
	signInUser(t, env, "zoe", "a-long-password") // holds the only slot
	second := signInUser(t, env, "zoe", "a-long-password")

	if err := env.engine.RequestElevatedAccess(ctx, id, second.SessionID); err != nil {
		t.Fatalf("RequestElevatedAccess failed: %v", err)
	}
	code := env.email.last(t).Code

	env.advance(time.Second)
	pair, err := env.engine.Refresh(ctx, RefreshRequest{
		RefreshToken:        second.Tokens.RefreshToken,
		ElevatedAccessToken: code,
	})
	if err != nil {
		t.Fatalf("Refresh with elevation failed: %v", err)
	}
	claims := env.claims(t, pair.AccessToken)
	if !claims.Elevated {
		t.Fatal("expected the elevated claim after a verified step-up code")
	}
	// The privileged flag is still governed by the cap.
	if claims.Privileged {
		t.Fatal("elevation must not push the session past the cap")
	}

	// Elevation codes are single-use.
	if env.dir.get(id).ElevatedAccessTokenRequestedOn != nil {
		t.Fatal("expected elevation timestamp cleared after use")
	}

	// The claim is per-token: it dies with the next plain rotation.
	env.advance(time.Second)
	pair, err = env.engine.Refresh(ctx, RefreshRequest{RefreshToken: pair.RefreshToken})
	if err != nil {
		t.Fatalf("plain Refresh failed: %v", err)
	}
	if env.claims(t, pair.AccessToken).Elevated {
		t.Fatal("elevated claim must not survive a plain rotation")
	}
}

func TestReplayWithElevationCodeStillTerminates(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	id := env.seedUser(t, "hank", "a-long-password", nil)
	res := signInUser(t, env, "hank", "a-long-password")
	spent := res.Tokens.RefreshToken

	env.advance(time.Second)
	if _, err := env.engine.Refresh(ctx, RefreshRequest{RefreshToken: spent}); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	// A thief replaying the spent credential cannot hide behind a garbage
	// step-up code: reuse detection fires first and the session dies.
	env.advance(time.Second)
	_, err := env.engine.Refresh(ctx, RefreshRequest{
		RefreshToken:        spent,
		ElevatedAccessToken: "000000",
	})
	if !errors.Is(err, ErrTokenReused) {
		t.Fatalf("expected ErrTokenReused, got %v", err)
	}
	if _, err := env.engine.sessions.Get(ctx, res.SessionID); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected the session terminated, got %v", err)
	}
	// And the bad code never reached the failure counter.
	if got := env.dir.get(id).AccessFailedCount; got != 0 {
		t.Fatalf("expected no failed attempts recorded, got %d", got)
	}
}

func TestElevationWrongCodeCountsFailure(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	id := env.seedUser(t, "frank", "a-long-password", nil)
	res := signInUser(t, env, "frank", "a-long-password")

	if err := env.engine.RequestElevatedAccess(ctx, id, res.SessionID); err != nil {
		t.Fatalf("RequestElevatedAccess failed: %v", err)
	}

	env.advance(time.Second)
	_, err := env.engine.Refresh(ctx, RefreshRequest{
		RefreshToken:        res.Tokens.RefreshToken,
		ElevatedAccessToken: "000000",
	})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if env.dir.get(id).AccessFailedCount != 1 {
		t.Fatal("expected a failed attempt recorded")
	}

	// The refresh credential wasn't consumed by the failed elevation.
	if _, err := env.engine.Refresh(ctx, RefreshRequest{RefreshToken: res.Tokens.RefreshToken}); err != nil {
		t.Fatalf("Refresh after failed elevation failed: %v", err)
	}
}

func TestSignOutAll(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	id := env.seedUser(t, "grace", "a-long-password", nil)
	first := signInUser(t, env, "grace", "a-long-password")
	signInUser(t, env, "grace", "a-long-password")

	n, err := env.engine.SignOutAll(ctx, id)
	if err != nil {
		t.Fatalf("SignOutAll failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 sessions dropped, got %d", n)
	}

	env.advance(time.Second)
	_, err = env.engine.Refresh(ctx, RefreshRequest{RefreshToken: first.Tokens.RefreshToken})
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}
