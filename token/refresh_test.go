package token

import (
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

var refreshKey = []byte("0123456789abcdef0123456789abcdef")

func newProtector(t *testing.T, ttl time.Duration) *RefreshProtector {
	t.Helper()

	p, err := NewRefreshProtector(refreshKey, ttl)
	if err != nil {
		t.Fatalf("NewRefreshProtector failed: %v", err)
	}
	return p
}

func TestRefreshSealOpen(t *testing.T) {
	p := newProtector(t, time.Hour)
	sid := uuid.NewString()
	now := time.Unix(1_700_000_000, 0)

	credential, expiresAt, err := p.Seal(sid, 1234, now)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if !expiresAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("expiresAt = %v", expiresAt)
	}

	payload, err := p.Open(credential, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if payload.SessionID != sid || payload.Stamp != 1234 {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if !payload.ExpiresAt.Equal(expiresAt) {
		t.Fatalf("payload expiry %v, want %v", payload.ExpiresAt, expiresAt)
	}
}

func TestRefreshCredentialsAreUnique(t *testing.T) {
	p := newProtector(t, time.Hour)
	sid := uuid.NewString()
	now := time.Now()

	a, _, err := p.Seal(sid, 1, now)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	b, _, err := p.Seal(sid, 1, now)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if a == b {
		t.Fatal("two credentials for the same payload must not collide")
	}
}

func TestRefreshOpenRejectsTampering(t *testing.T) {
	p := newProtector(t, time.Hour)
	now := time.Now()

	credential, _, err := p.Seal(uuid.NewString(), 1, now)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	raw, err := base64.RawURLEncoding.DecodeString(credential)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	raw[len(raw)/2] ^= 0x01
	tampered := base64.RawURLEncoding.EncodeToString(raw)

	if _, err := p.Open(tampered, now); !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("expected ErrRefreshInvalid, got %v", err)
	}
}

func TestRefreshOpenRejectsGarbage(t *testing.T) {
	p := newProtector(t, time.Hour)
	now := time.Now()

	for _, credential := range []string{"", "not!base64!", "AAAA", base64.RawURLEncoding.EncodeToString(make([]byte, 64))} {
		if _, err := p.Open(credential, now); !errors.Is(err, ErrRefreshInvalid) {
			t.Fatalf("Open(%q) = %v, want ErrRefreshInvalid", credential, err)
		}
	}
}

func TestRefreshOpenRejectsExpired(t *testing.T) {
	p := newProtector(t, time.Hour)
	now := time.Unix(1_700_000_000, 0)

	credential, _, err := p.Seal(uuid.NewString(), 1, now)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if _, err := p.Open(credential, now.Add(time.Hour)); !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("expected ErrRefreshInvalid at expiry, got %v", err)
	}
	if _, err := p.Open(credential, now.Add(59*time.Minute)); err != nil {
		t.Fatalf("credential should still be valid before expiry: %v", err)
	}
}

func TestRefreshOpenWrongKey(t *testing.T) {
	p := newProtector(t, time.Hour)
	credential, _, err := p.Seal(uuid.NewString(), 1, time.Now())
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	other, err := NewRefreshProtector([]byte("ffffffffffffffffffffffffffffffff"), time.Hour)
	if err != nil {
		t.Fatalf("NewRefreshProtector failed: %v", err)
	}
	if _, err := other.Open(credential, time.Now()); !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("expected ErrRefreshInvalid, got %v", err)
	}
}

func TestRefreshSealRejectsNonUUID(t *testing.T) {
	p := newProtector(t, time.Hour)
	if _, _, err := p.Seal("not-a-uuid", 1, time.Now()); err == nil {
		t.Fatal("expected a non-UUID session ID to be rejected")
	}
}

func TestNewRefreshProtectorValidation(t *testing.T) {
	if _, err := NewRefreshProtector([]byte("short"), time.Hour); err == nil {
		t.Fatal("expected a short key to be rejected")
	}
	if _, err := NewRefreshProtector(refreshKey, 0); err == nil {
		t.Fatal("expected a zero TTL to be rejected")
	}
}
