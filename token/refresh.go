package token

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
)

// ErrRefreshInvalid covers every way a refresh credential can fail to open:
// bad encoding, wrong key, truncated or tampered ciphertext, unknown payload
// version, or expiry. Callers get no finer detail; a credential either
// yields a payload or it doesn't.
var ErrRefreshInvalid = errors.New("token: invalid refresh credential")

const refreshPayloadVersion = 1

// refresh payload: version(1) + session UUID(16) + stamp(8) + expiresAt(8)
const refreshPayloadLen = 1 + 16 + 8 + 8

// RefreshPayload is what a refresh credential carries: which session it
// belongs to, which stamp generation minted it, and when it lapses.
type RefreshPayload struct {
	SessionID string
	Stamp     int64
	ExpiresAt time.Time
}

// RefreshProtector seals and opens refresh credentials with AES-256-GCM.
// The credential is opaque to clients; only engines holding the key can
// read or mint one. Any failure to open is terminal for the credential.
type RefreshProtector struct {
	aead cipher.AEAD
	ttl  time.Duration
}

func NewRefreshProtector(key []byte, ttl time.Duration) (*RefreshProtector, error) {
	if len(key) != 32 {
		return nil, errors.New("token: refresh key must be 32 bytes")
	}
	if ttl <= 0 {
		return nil, errors.New("token: refresh TTL must be > 0")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &RefreshProtector{aead: aead, ttl: ttl}, nil
}

// Seal mints a refresh credential for the given session generation.
func (p *RefreshProtector) Seal(sessionID string, stamp int64, now time.Time) (string, time.Time, error) {
	sid, err := uuid.Parse(sessionID)
	if err != nil {
		return "", time.Time{}, err
	}
	expiresAt := now.Add(p.ttl)

	plaintext := make([]byte, refreshPayloadLen)
	plaintext[0] = refreshPayloadVersion
	copy(plaintext[1:17], sid[:])
	binary.BigEndian.PutUint64(plaintext[17:], uint64(stamp))
	binary.BigEndian.PutUint64(plaintext[25:], uint64(expiresAt.Unix()))

	nonce := make([]byte, p.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", time.Time{}, err
	}

	sealed := p.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.RawURLEncoding.EncodeToString(sealed), expiresAt, nil
}

// Open decrypts and validates a refresh credential. Expired credentials fail
// the same way tampered ones do.
func (p *RefreshProtector) Open(credential string, now time.Time) (*RefreshPayload, error) {
	raw, err := base64.RawURLEncoding.DecodeString(credential)
	if err != nil {
		return nil, ErrRefreshInvalid
	}
	if len(raw) < p.aead.NonceSize() {
		return nil, ErrRefreshInvalid
	}

	nonce, ciphertext := raw[:p.aead.NonceSize()], raw[p.aead.NonceSize():]
	plaintext, err := p.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrRefreshInvalid
	}
	if len(plaintext) != refreshPayloadLen || plaintext[0] != refreshPayloadVersion {
		return nil, ErrRefreshInvalid
	}

	var sid uuid.UUID
	copy(sid[:], plaintext[1:17])
	expiresAt := time.Unix(int64(binary.BigEndian.Uint64(plaintext[25:])), 0)
	if !now.Before(expiresAt) {
		return nil, ErrRefreshInvalid
	}

	return &RefreshPayload{
		SessionID: sid.String(),
		Stamp:     int64(binary.BigEndian.Uint64(plaintext[17:])),
		ExpiresAt: expiresAt,
	}, nil
}
