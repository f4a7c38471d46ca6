package otp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"net/url"
	"strings"
	"time"
)

// RFC 6238 defaults; authenticator apps assume them unless told otherwise.
const (
	authenticatorSecretBytes = 20
	authenticatorPeriod      = 30
	authenticatorDigits      = 6
	authenticatorSkew        = 1
)

// GenerateAuthenticatorSecret returns a fresh TOTP secret as raw bytes and
// its base32 form for provisioning.
func GenerateAuthenticatorSecret() ([]byte, string, error) {
	raw := make([]byte, authenticatorSecretBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, "", err
	}
	enc := base32.StdEncoding.WithPadding(base32.NoPadding)
	return raw, enc.EncodeToString(raw), nil
}

// AuthenticatorURI builds the otpauth:// provisioning URI for QR display.
func AuthenticatorURI(secretBase32, issuer, account string) string {
	label := url.PathEscape(issuer + ":" + account)
	v := url.Values{}
	v.Set("secret", secretBase32)
	v.Set("issuer", issuer)
	return "otpauth://totp/" + label + "?" + v.Encode()
}

// VerifyAuthenticator checks a TOTP code against the user's secret,
// accepting one period of clock skew either way.
func VerifyAuthenticator(secret []byte, code string, now time.Time) bool {
	trimmed := strings.TrimSpace(code)
	if len(trimmed) != authenticatorDigits || !isNumeric(trimmed) || len(secret) == 0 {
		return false
	}

	baseCounter := now.Unix() / authenticatorPeriod
	for step := -authenticatorSkew; step <= authenticatorSkew; step++ {
		counter := baseCounter + int64(step)
		if counter < 0 {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(hotp(secret, counter)), []byte(trimmed)) == 1 {
			return true
		}
	}
	return false
}

func hotp(secret []byte, counter int64) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	mac := hmac.New(sha1.New, secret)
	_, _ = mac.Write(msg[:])
	return truncate(mac.Sum(nil), authenticatorDigits)
}
