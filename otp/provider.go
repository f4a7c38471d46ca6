// Package otp derives and verifies the one-time codes used for sign-in
// challenges, second factors, and elevation.
//
// Codes are deterministic: HMAC-SHA256 over (purpose, user, request time),
// truncated to digits the HOTP way. The engine never stores a code — only
// the request timestamp. A code is valid exactly while its timestamp is
// within the configured lifetime, and clearing the timestamp retires it.
package otp

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Provider derives purpose-scoped one-time codes from a shared secret.
type Provider struct {
	secret []byte
	digits int
}

func NewProvider(secret []byte, digits int) (*Provider, error) {
	if len(secret) == 0 {
		return nil, errors.New("otp: empty secret")
	}
	if digits < 4 || digits > 10 {
		return nil, errors.New("otp: digits must be between 4 and 10")
	}
	return &Provider{secret: secret, digits: digits}, nil
}

// Code derives the code for one (purpose, user, request time) triple. The
// same inputs always yield the same code; a new request time yields a new
// one.
func (p *Provider) Code(purpose, userID string, requestedOn time.Time) string {
	mac := hmac.New(sha256.New, p.secret)
	_, _ = mac.Write([]byte(purpose))
	_, _ = mac.Write([]byte{0})
	_, _ = mac.Write([]byte(userID))
	_, _ = mac.Write([]byte{0})

	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(requestedOn.Unix()))
	_, _ = mac.Write(ts[:])

	return truncate(mac.Sum(nil), p.digits)
}

// Verify recomputes the code for the stored request time and compares in
// constant time. Liveness (request time within lifetime) is the caller's
// check; Verify only answers "is this the code that request would produce".
func (p *Provider) Verify(purpose, userID, code string, requestedOn time.Time) bool {
	trimmed := strings.TrimSpace(code)
	if len(trimmed) != p.digits || !isNumeric(trimmed) {
		return false
	}
	expected := p.Code(purpose, userID, requestedOn)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(trimmed)) == 1
}

// truncate is RFC 4226 dynamic truncation over an arbitrary-length MAC.
func truncate(sum []byte, digits int) string {
	offset := sum[len(sum)-1] & 0x0f
	bin := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)

	mod := 1
	for i := 0; i < digits; i++ {
		mod *= 10
	}
	return fmt.Sprintf("%0*d", digits, bin%mod)
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
