package eventify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/zoha-shobbar/Eventify/dispatch"
	"github.com/zoha-shobbar/Eventify/token"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	return mr, redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

// memDirectory is a map-backed UserDirectory for tests.
type memDirectory struct {
	mu            sync.Mutex
	users         map[string]*User
	byIdentifier  map[string]string
	recoveryCodes map[string]map[string]bool
	updateErr     error
}

func newMemDirectory() *memDirectory {
	return &memDirectory{
		users:         map[string]*User{},
		byIdentifier:  map[string]string{},
		recoveryCodes: map[string]map[string]bool{},
	}
}

func (d *memDirectory) add(u *User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := *u
	d.users[u.ID] = &cp
	for _, id := range []string{u.UserName, u.Email, u.PhoneNumber} {
		if id != "" {
			d.byIdentifier[id] = u.ID
		}
	}
}

func (d *memDirectory) get(id string) *User {
	d.mu.Lock()
	defer d.mu.Unlock()
	if u, ok := d.users[id]; ok {
		cp := *u
		return &cp
	}
	return nil
}

func (d *memDirectory) FindUser(_ context.Context, identifier string) (*User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id, ok := d.byIdentifier[identifier]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *d.users[id]
	return &cp, nil
}

func (d *memDirectory) FindUserByID(_ context.Context, userID string) (*User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (d *memDirectory) Create(_ context.Context, u *User) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range []string{u.UserName, u.Email, u.PhoneNumber} {
		if id == "" {
			continue
		}
		if _, exists := d.byIdentifier[id]; exists {
			return ErrDuplicateIdentifier
		}
	}
	cp := *u
	d.users[u.ID] = &cp
	for _, id := range []string{u.UserName, u.Email, u.PhoneNumber} {
		if id != "" {
			d.byIdentifier[id] = u.ID
		}
	}
	return nil
}

func (d *memDirectory) Update(_ context.Context, u *User) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.updateErr != nil {
		return d.updateErr
	}
	if _, ok := d.users[u.ID]; !ok {
		return ErrUserNotFound
	}
	cp := *u
	d.users[u.ID] = &cp
	return nil
}

func (d *memDirectory) ConsumeRecoveryCode(_ context.Context, userID, code string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	codes := d.recoveryCodes[userID]
	if codes == nil || !codes[code] {
		return false, nil
	}
	delete(codes, code)
	return true, nil
}

// captureChannel records every message instead of sending it.
type captureChannel struct {
	mu   sync.Mutex
	kind dispatch.Kind
	sent []dispatch.Message
	fail error
}

func (c *captureChannel) Kind() dispatch.Kind { return c.kind }

func (c *captureChannel) Send(_ context.Context, _ dispatch.Recipient, msg dispatch.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	c.sent = append(c.sent, msg)
	return nil
}

func (c *captureChannel) last(t *testing.T) dispatch.Message {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		t.Fatal("expected a delivered message")
	}
	return c.sent[len(c.sent)-1]
}

func (c *captureChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func testConfig() Config {
	cfg := defaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte("test-jwt-secret")
	cfg.Refresh.EncryptionKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Challenge.Secret = []byte("test-challenge-secret")
	cfg.Metrics.Enabled = true
	return cfg
}

type testEnv struct {
	engine *Engine
	dir    *memDirectory
	email  *captureChannel
	sms    *captureChannel
	mr     *miniredis.Miniredis

	mu  sync.Mutex
	now time.Time
}

func (env *testEnv) setNow(t time.Time) {
	env.mu.Lock()
	defer env.mu.Unlock()
	env.now = t
}

func (env *testEnv) advance(d time.Duration) {
	env.mu.Lock()
	defer env.mu.Unlock()
	env.now = env.now.Add(d)
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()

	mr, rdb := newTestRedis(t)
	dir := newMemDirectory()
	email := &captureChannel{kind: dispatch.KindEmail}
	sms := &captureChannel{kind: dispatch.KindSMS}

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserDirectory(dir).
		WithChannels(email, sms).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(func() { _ = engine.Close() })

	env := &testEnv{
		engine: engine,
		dir:    dir,
		email:  email,
		sms:    sms,
		mr:     mr,
		now:    time.Unix(1_700_000_000, 0),
	}
	engine.now = func() time.Time {
		env.mu.Lock()
		defer env.mu.Unlock()
		return env.now
	}
	return env
}

// claims parses an access token through the engine, failing the test on any
// validation error.
func (env *testEnv) claims(t *testing.T, accessToken string) *token.AccessClaims {
	t.Helper()
	claims, err := env.engine.Validate(accessToken)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	return claims
}

// seedUser registers a confirmed user with the given password and returns
// its ID.
func (env *testEnv) seedUser(t *testing.T, userName, pass string, mutate func(*User)) string {
	t.Helper()

	hash, err := env.engine.hasher.Hash(pass)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	u := &User{
		ID:             "user-" + userName,
		UserName:       userName,
		Email:          userName + "@example.com",
		EmailConfirmed: true,
		PasswordHash:   hash,
	}
	if mutate != nil {
		mutate(u)
	}
	env.dir.add(u)
	return u.ID
}
