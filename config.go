package eventify

import (
	"errors"
	"time"
)

// Config carries every tunable of the engine. Build one with defaultConfig
// via the Builder, or load it from a file with LoadConfig, then treat it as
// immutable.
type Config struct {
	Identity  IdentityConfig
	JWT       JWTConfig
	Refresh   RefreshConfig
	Session   SessionConfig
	Password  PasswordConfig
	Challenge ChallengeConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
}

// IdentityConfig controls sign-in policy: lockout, challenge lifetimes, and
// the privileged session cap.
type IdentityConfig struct {
	// MaxConcurrentPrivilegedSessions caps how many of a user's sessions may
	// hold the privileged flag at once. Negative means unlimited.
	MaxConcurrentPrivilegedSessions int

	// One-time code lifetimes. Each doubles as the resend throttle window:
	// a new code for the same purpose is refused until the previous one has
	// aged past its lifetime.
	OtpTokenLifetime            time.Duration
	TwoFactorTokenLifetime      time.Duration
	ElevatedAccessTokenLifetime time.Duration

	MaxFailedAccessAttempts int
	LockoutDuration         time.Duration
}

// JWTConfig controls access-token issuance.
type JWTConfig struct {
	AccessTTL     time.Duration
	SigningMethod string // "ed25519" (default) or "hs256"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string

	// Leeway is the clock-skew allowance applied when validating expiry.
	// At most two minutes; zero disables it.
	Leeway time.Duration
}

// RefreshConfig controls the reversible refresh credential. EncryptionKey
// must be 32 bytes; the credential is AES-256-GCM sealed and any key or
// ciphertext problem invalidates the token outright.
type RefreshConfig struct {
	TTL           time.Duration
	EncryptionKey []byte
}

// SessionConfig controls the session store namespace.
type SessionConfig struct {
	RedisPrefix string
}

// PasswordConfig carries Argon2id parameters.
type PasswordConfig struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// ChallengeConfig controls one-time code generation. Secret keys the HMAC
// that derives codes; Digits is the code length.
type ChallengeConfig struct {
	Secret []byte
	Digits int
}

// AuditConfig controls the buffered audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig enables the internal counters.
type MetricsConfig struct {
	Enabled bool
}

func defaultConfig() Config {
	return Config{
		Identity: IdentityConfig{
			MaxConcurrentPrivilegedSessions: -1,
			OtpTokenLifetime:                5 * time.Minute,
			TwoFactorTokenLifetime:          5 * time.Minute,
			ElevatedAccessTokenLifetime:     5 * time.Minute,
			MaxFailedAccessAttempts:         5,
			LockoutDuration:                 5 * time.Minute,
		},
		JWT: JWTConfig{
			AccessTTL:     5 * time.Minute,
			SigningMethod: "ed25519",
			Issuer:        "eventify",
			Audience:      "eventify",
		},
		Refresh: RefreshConfig{
			TTL: 14 * 24 * time.Hour,
		},
		Session: SessionConfig{
			RedisPrefix: "ev",
		},
		Password: PasswordConfig{
			Memory:      65536,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
		},
		Challenge: ChallengeConfig{
			Digits: 6,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	out.Refresh.EncryptionKey = cloneBytes(cfg.Refresh.EncryptionKey)
	out.Challenge.Secret = cloneBytes(cfg.Challenge.Secret)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate checks the configuration for internal consistency. The Builder
// calls it before constructing an Engine.
func (c *Config) Validate() error {
	// Identity
	if c.Identity.OtpTokenLifetime <= 0 {
		return errors.New("Identity OtpTokenLifetime must be > 0")
	}
	if c.Identity.TwoFactorTokenLifetime <= 0 {
		return errors.New("Identity TwoFactorTokenLifetime must be > 0")
	}
	if c.Identity.ElevatedAccessTokenLifetime <= 0 {
		return errors.New("Identity ElevatedAccessTokenLifetime must be > 0")
	}
	if c.Identity.MaxFailedAccessAttempts < 1 {
		return errors.New("Identity MaxFailedAccessAttempts must be >= 1")
	}
	if c.Identity.LockoutDuration <= 0 {
		return errors.New("Identity LockoutDuration must be > 0")
	}

	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.SigningMethod != "ed25519" && c.JWT.SigningMethod != "hs256" {
		return errors.New("unsupported JWT signing method")
	}
	if c.JWT.SigningMethod == "ed25519" && (len(c.JWT.PrivateKey) == 0 || len(c.JWT.PublicKey) == 0) {
		return errors.New("ed25519 requires PrivateKey and PublicKey")
	}
	if c.JWT.SigningMethod == "hs256" && len(c.JWT.PrivateKey) == 0 {
		return errors.New("hs256 requires PrivateKey")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be between 0 and 2m")
	}

	// Refresh
	if c.Refresh.TTL <= 0 {
		return errors.New("Refresh TTL must be > 0")
	}
	if len(c.Refresh.EncryptionKey) != 32 {
		return errors.New("Refresh EncryptionKey must be 32 bytes")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 8 {
		return errors.New("Password SaltLength must be >= 8")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}

	// Challenge
	if len(c.Challenge.Secret) == 0 {
		return errors.New("Challenge Secret must be set")
	}
	if c.Challenge.Digits < 4 || c.Challenge.Digits > 10 {
		return errors.New("Challenge Digits must be between 4 and 10")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when Audit is enabled")
	}

	return nil
}
