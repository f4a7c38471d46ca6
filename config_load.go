package eventify

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// fileConfig is the flat on-disk shape LoadConfig reads. Durations are
// strings in time.ParseDuration form; keys are base64.
type fileConfig struct {
	MaxConcurrentPrivilegedSessions int    `mapstructure:"max_concurrent_privileged_sessions"`
	OtpTokenLifetime                string `mapstructure:"otp_token_lifetime"`
	TwoFactorTokenLifetime          string `mapstructure:"two_factor_token_lifetime"`
	ElevatedAccessTokenLifetime     string `mapstructure:"elevated_access_token_lifetime"`
	MaxFailedAccessAttempts         int    `mapstructure:"max_failed_access_attempts"`
	LockoutDuration                 string `mapstructure:"lockout_duration"`

	JWTAccessTTL     string `mapstructure:"jwt_access_ttl"`
	JWTSigningMethod string `mapstructure:"jwt_signing_method"`
	JWTPrivateKey    string `mapstructure:"jwt_private_key"`
	JWTPublicKey     string `mapstructure:"jwt_public_key"`
	JWTIssuer        string `mapstructure:"jwt_issuer"`
	JWTAudience      string `mapstructure:"jwt_audience"`
	JWTLeeway        string `mapstructure:"jwt_leeway"`

	RefreshTTL           string `mapstructure:"refresh_ttl"`
	RefreshEncryptionKey string `mapstructure:"refresh_encryption_key"`

	RedisPrefix string `mapstructure:"redis_prefix"`

	ChallengeSecret string `mapstructure:"challenge_secret"`
	ChallengeDigits int    `mapstructure:"challenge_digits"`

	AuditEnabled   bool `mapstructure:"audit_enabled"`
	MetricsEnabled bool `mapstructure:"metrics_enabled"`
}

// LoadConfig reads a config file (YAML, TOML, or JSON by extension), applies
// it over the defaults, and validates the result. Environment variables with
// the EVENTIFY_ prefix override file values.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("EVENTIFY")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var fc fileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	cfg := defaultConfig()

	if v.IsSet("max_concurrent_privileged_sessions") {
		cfg.Identity.MaxConcurrentPrivilegedSessions = fc.MaxConcurrentPrivilegedSessions
	}
	if err := overrideDuration(&cfg.Identity.OtpTokenLifetime, fc.OtpTokenLifetime, "otp_token_lifetime"); err != nil {
		return Config{}, err
	}
	if err := overrideDuration(&cfg.Identity.TwoFactorTokenLifetime, fc.TwoFactorTokenLifetime, "two_factor_token_lifetime"); err != nil {
		return Config{}, err
	}
	if err := overrideDuration(&cfg.Identity.ElevatedAccessTokenLifetime, fc.ElevatedAccessTokenLifetime, "elevated_access_token_lifetime"); err != nil {
		return Config{}, err
	}
	if fc.MaxFailedAccessAttempts > 0 {
		cfg.Identity.MaxFailedAccessAttempts = fc.MaxFailedAccessAttempts
	}
	if err := overrideDuration(&cfg.Identity.LockoutDuration, fc.LockoutDuration, "lockout_duration"); err != nil {
		return Config{}, err
	}

	if err := overrideDuration(&cfg.JWT.AccessTTL, fc.JWTAccessTTL, "jwt_access_ttl"); err != nil {
		return Config{}, err
	}
	if fc.JWTSigningMethod != "" {
		cfg.JWT.SigningMethod = fc.JWTSigningMethod
	}
	if err := overrideKey(&cfg.JWT.PrivateKey, fc.JWTPrivateKey, "jwt_private_key"); err != nil {
		return Config{}, err
	}
	if err := overrideKey(&cfg.JWT.PublicKey, fc.JWTPublicKey, "jwt_public_key"); err != nil {
		return Config{}, err
	}
	if fc.JWTIssuer != "" {
		cfg.JWT.Issuer = fc.JWTIssuer
	}
	if fc.JWTAudience != "" {
		cfg.JWT.Audience = fc.JWTAudience
	}
	if err := overrideDuration(&cfg.JWT.Leeway, fc.JWTLeeway, "jwt_leeway"); err != nil {
		return Config{}, err
	}

	if err := overrideDuration(&cfg.Refresh.TTL, fc.RefreshTTL, "refresh_ttl"); err != nil {
		return Config{}, err
	}
	if err := overrideKey(&cfg.Refresh.EncryptionKey, fc.RefreshEncryptionKey, "refresh_encryption_key"); err != nil {
		return Config{}, err
	}

	if fc.RedisPrefix != "" {
		cfg.Session.RedisPrefix = fc.RedisPrefix
	}

	if err := overrideKey(&cfg.Challenge.Secret, fc.ChallengeSecret, "challenge_secret"); err != nil {
		return Config{}, err
	}
	if fc.ChallengeDigits > 0 {
		cfg.Challenge.Digits = fc.ChallengeDigits
	}

	cfg.Audit.Enabled = fc.AuditEnabled
	cfg.Metrics.Enabled = fc.MetricsEnabled

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func overrideDuration(dst *time.Duration, raw, key string) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("config %s: %w", key, err)
	}
	*dst = d
	return nil
}

func overrideKey(dst *[]byte, raw, key string) error {
	if raw == "" {
		return nil
	}
	b, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return fmt.Errorf("config %s: not base64: %w", key, err)
	}
	*dst = b
	return nil
}
