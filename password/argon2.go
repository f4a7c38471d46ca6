// Package password implements Argon2id password hashing and verification.
//
// Hashes are stored in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Verify is constant-time over the derived key. NeedsRehash reports when a
// stored hash was produced with weaker parameters than the current
// configuration, so callers can re-hash on the next successful sign-in.
//
// This package owns hashing only; password policy and lockout live in the
// engine.
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	minMemoryKB    uint32 = 8 * 1024
	minSaltLength  uint32 = 8
	minPassBytes          = 8
	algorithmID           = "argon2id"
)

// ErrMalformedHash is returned when a stored hash cannot be parsed. Callers
// should treat it as a verification failure, not a transient error.
var ErrMalformedHash = errors.New("password: malformed hash")

// Params are the Argon2id cost settings.
type Params struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Hasher hashes and verifies passwords with fixed parameters.
type Hasher struct {
	params Params
}

func NewHasher(p Params) (*Hasher, error) {
	switch {
	case p.Memory < minMemoryKB:
		return nil, errors.New("password: memory must be >= 8192 KB")
	case p.Time < 1:
		return nil, errors.New("password: time must be >= 1")
	case p.Parallelism < 1:
		return nil, errors.New("password: parallelism must be >= 1")
	case p.SaltLength < minSaltLength:
		return nil, errors.New("password: salt length must be >= 8")
	case p.KeyLength < 16:
		return nil, errors.New("password: key length must be >= 16")
	}
	return &Hasher{params: p}, nil
}

// Hash derives a PHC-encoded Argon2id hash. Password bytes are used exactly
// as provided; no Unicode normalization.
func (h *Hasher) Hash(password string) (string, error) {
	if len(password) < minPassBytes {
		return "", fmt.Errorf("password: must be at least %d bytes", minPassBytes)
	}

	salt := make([]byte, h.params.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	key := argon2.IDKey([]byte(password), salt,
		h.params.Time, h.params.Memory, h.params.Parallelism, h.params.KeyLength)

	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID, argon2.Version,
		h.params.Memory, h.params.Time, h.params.Parallelism,
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether password matches the encoded hash.
func (h *Hasher) Verify(password, encoded string) (bool, error) {
	parsed, err := parse(encoded)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey([]byte(password), parsed.salt,
		parsed.time, parsed.memory, parsed.parallelism, uint32(len(parsed.key)))

	return subtle.ConstantTimeCompare(computed, parsed.key) == 1, nil
}

// NeedsRehash reports whether the stored hash is weaker than the current
// parameters.
func (h *Hasher) NeedsRehash(encoded string) (bool, error) {
	parsed, err := parse(encoded)
	if err != nil {
		return false, err
	}
	return h.params.Memory > parsed.memory ||
		h.params.Time > parsed.time ||
		h.params.Parallelism > parsed.parallelism ||
		h.params.KeyLength != uint32(len(parsed.key)), nil
}

type parsedHash struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

func parse(encoded string) (*parsedHash, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != algorithmID {
		return nil, ErrMalformedHash
	}

	version, err := strconv.Atoi(strings.TrimPrefix(parts[2], "v="))
	if err != nil || !strings.HasPrefix(parts[2], "v=") || version != argon2.Version {
		return nil, ErrMalformedHash
	}

	var p parsedHash
	for _, pair := range strings.Split(parts[3], ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			return nil, ErrMalformedHash
		}
		v, err := strconv.ParseUint(kv[1], 10, 32)
		if err != nil {
			return nil, ErrMalformedHash
		}
		switch kv[0] {
		case "m":
			p.memory = uint32(v)
		case "t":
			p.time = uint32(v)
		case "p":
			if v > 255 {
				return nil, ErrMalformedHash
			}
			p.parallelism = uint8(v)
		default:
			return nil, ErrMalformedHash
		}
	}
	if p.memory == 0 || p.time == 0 || p.parallelism == 0 {
		return nil, ErrMalformedHash
	}

	if p.salt, err = base64.StdEncoding.DecodeString(parts[4]); err != nil || len(p.salt) < int(minSaltLength) {
		return nil, ErrMalformedHash
	}
	if p.key, err = base64.StdEncoding.DecodeString(parts[5]); err != nil || len(p.key) == 0 {
		return nil, ErrMalformedHash
	}
	return &p, nil
}
