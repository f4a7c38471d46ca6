package eventify

import (
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/zoha-shobbar/Eventify/dispatch"
	"github.com/zoha-shobbar/Eventify/otp"
	"github.com/zoha-shobbar/Eventify/password"
	"github.com/zoha-shobbar/Eventify/session"
	"github.com/zoha-shobbar/Eventify/token"
)

// Builder assembles an Engine. Exactly one session backend (Redis or
// Postgres, or a custom session.Store), a UserDirectory, and at least one
// delivery channel are required; everything else has defaults.
type Builder struct {
	config Config

	redis        redis.UniversalClient
	postgres     *pgxpool.Pool
	sessionStore session.Store

	users     UserDirectory
	channels  []dispatch.Channel
	auditSink AuditSink

	built bool
}

// New returns a Builder preloaded with defaultConfig.
func New() *Builder {
	return &Builder{config: defaultConfig()}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis selects the Redis session backend.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithPostgres selects the Postgres session backend.
func (b *Builder) WithPostgres(pool *pgxpool.Pool) *Builder {
	b.postgres = pool
	return b
}

// WithSessionStore injects a custom session backend, overriding WithRedis
// and WithPostgres.
func (b *Builder) WithSessionStore(store session.Store) *Builder {
	b.sessionStore = store
	return b
}

// WithUserDirectory sets the account backend.
func (b *Builder) WithUserDirectory(dir UserDirectory) *Builder {
	b.users = dir
	return b
}

// WithChannels registers the challenge delivery channels.
func (b *Builder) WithChannels(channels ...dispatch.Channel) *Builder {
	b.channels = append(b.channels, channels...)
	return b
}

// WithAuditSink sets the sink the dispatcher drains into and turns auditing
// on.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	b.config.Audit.Enabled = true
	return b
}

// WithMetricsEnabled toggles the internal counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration and wires the Engine. A Builder is
// single-use.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	if err := b.config.Validate(); err != nil {
		return nil, err
	}
	if b.users == nil {
		return nil, errors.New("a user directory is required")
	}
	if len(b.channels) == 0 {
		return nil, errors.New("at least one delivery channel is required")
	}

	var store session.Store
	switch {
	case b.sessionStore != nil:
		store = b.sessionStore
	case b.redis != nil:
		store = session.NewRedisStore(b.redis, b.config.Session.RedisPrefix, b.config.Refresh.TTL)
	case b.postgres != nil:
		store = session.NewPostgresStore(b.postgres, b.config.Refresh.TTL)
	default:
		return nil, errors.New("a session backend is required")
	}

	hasher, err := password.NewHasher(password.Params{
		Memory:      b.config.Password.Memory,
		Time:        b.config.Password.Time,
		Parallelism: b.config.Password.Parallelism,
		SaltLength:  b.config.Password.SaltLength,
		KeyLength:   b.config.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:      b.config,
		users:    b.users,
		sessions: store,
		hasher:   hasher,
		channels: dispatch.NewSet(b.channels...),
		metrics:  NewMetrics(b.config.Metrics),
		now:      time.Now,
	}

	// The issuer validates against the engine clock, not the wall clock, so
	// issuance and verification can never disagree about "now".
	issuer, err := token.NewIssuer(token.IssuerConfig{
		AccessTTL:     b.config.JWT.AccessTTL,
		SigningMethod: token.SigningMethod(b.config.JWT.SigningMethod),
		PrivateKey:    b.config.JWT.PrivateKey,
		PublicKey:     b.config.JWT.PublicKey,
		Issuer:        b.config.JWT.Issuer,
		Audience:      b.config.JWT.Audience,
		Leeway:        b.config.JWT.Leeway,
		TimeFunc:      func() time.Time { return e.now() },
	})
	if err != nil {
		return nil, err
	}
	e.issuer = issuer

	e.refresh, err = token.NewRefreshProtector(b.config.Refresh.EncryptionKey, b.config.Refresh.TTL)
	if err != nil {
		return nil, err
	}

	e.codes, err = otp.NewProvider(b.config.Challenge.Secret, b.config.Challenge.Digits)
	if err != nil {
		return nil, err
	}

	// Started last so no goroutine is left behind when an earlier step fails.
	e.audit = newAuditDispatcher(b.config.Audit, b.auditSink)

	b.built = true
	return e, nil
}
