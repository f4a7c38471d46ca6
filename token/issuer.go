// Package token issues the two credentials a session carries: a short-lived
// signed access token (JWT) and a reversible refresh credential bound to the
// session's stamp.
//
// The two halves deliberately use different mechanisms. Access tokens are
// verified offline by resource servers, so they are signed. The refresh
// credential is only ever read back by this engine, carries the session
// stamp, and must be opaque to the client, so it is sealed with AES-256-GCM
// instead.
package token

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod selects the access-token signature algorithm.
type SigningMethod string

const (
	MethodEd25519 SigningMethod = "ed25519"
	MethodHS256   SigningMethod = "hs256"
)

// IssuerConfig configures access-token issuance and verification.
type IssuerConfig struct {
	AccessTTL     time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration

	// TimeFunc supplies the clock used to validate expiry and not-before
	// claims. Defaults to time.Now; an engine with an injected clock must
	// pass the same clock here or tokens it just issued read as expired.
	TimeFunc func() time.Time
}

// AccessClaims are the claims carried by an access token. The session ID and
// the two boolean flags let resource servers authorize without a store
// round-trip; the stamp ties the token to the session generation that minted
// it.
//
// Privileged reflects the session's durable flag. Elevated marks a token
// minted right after a step-up proof (a second factor at sign-in, or an
// elevation code during refresh) and is not carried forward: the next plain
// rotation issues a token without it.
type AccessClaims struct {
	UID        string `json:"uid"`
	SID        string `json:"sid"`
	Stamp      int64  `json:"stp"`
	Privileged bool   `json:"prv,omitempty"`
	Elevated   bool   `json:"elv,omitempty"`
	jwt.RegisteredClaims
}

// Issuer creates and parses access tokens.
type Issuer struct {
	config IssuerConfig
}

func NewIssuer(cfg IssuerConfig) (*Issuer, error) {
	if cfg.AccessTTL <= 0 {
		return nil, errors.New("token: invalid access TTL")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("token: invalid leeway")
	}
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("token: hs256 requires private key")
		}
	case MethodEd25519:
		if _, err := parseEdPrivateKey(cfg.PrivateKey); err != nil {
			return nil, err
		}
		if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("token: unsupported signing method")
	}
	return &Issuer{config: cfg}, nil
}

// IssueAccess signs a new access token for one session generation.
func (i *Issuer) IssueAccess(uid, sid string, stamp int64, privileged, elevated bool, now time.Time) (string, time.Time, error) {
	expiresAt := now.Add(i.config.AccessTTL)
	claims := AccessClaims{
		UID:        uid,
		SID:        sid,
		Stamp:      stamp,
		Privileged: privileged,
		Elevated:   elevated,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    i.config.Issuer,
		},
	}
	if i.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{i.config.Audience}
	}

	tok := jwt.NewWithClaims(i.method(), claims)
	signKey, err := i.signKey()
	if err != nil {
		return "", time.Time{}, err
	}
	signed, err := tok.SignedString(signKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ParseAccess verifies the signature and registered claims.
func (i *Issuer) ParseAccess(tokenStr string) (*AccessClaims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{i.method().Alg()}),
	}
	if i.config.TimeFunc != nil {
		options = append(options, jwt.WithTimeFunc(i.config.TimeFunc))
	}
	if i.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(i.config.Leeway))
	}
	if i.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(i.config.Issuer))
	}
	if i.config.Audience != "" {
		options = append(options, jwt.WithAudience(i.config.Audience))
	}

	parser := jwt.NewParser(options...)
	tok, err := parser.ParseWithClaims(tokenStr, &AccessClaims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != i.method().Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return i.verifyKey()
	})
	if err != nil {
		return nil, err
	}

	claims, ok := tok.Claims.(*AccessClaims)
	if !ok || !tok.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

func (i *Issuer) method() jwt.SigningMethod {
	if i.config.SigningMethod == MethodHS256 {
		return jwt.SigningMethodHS256
	}
	return jwt.SigningMethodEdDSA
}

func (i *Issuer) signKey() (interface{}, error) {
	if i.config.SigningMethod == MethodHS256 {
		return i.config.PrivateKey, nil
	}
	return parseEdPrivateKey(i.config.PrivateKey)
}

func (i *Issuer) verifyKey() (interface{}, error) {
	if i.config.SigningMethod == MethodHS256 {
		return i.config.PrivateKey, nil
	}
	return parseEdPublicKey(i.config.PublicKey)
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("token: invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("token: invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("token: invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("token: invalid ed25519 public key type")
	}
	return edKey, nil
}
