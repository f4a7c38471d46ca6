package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Script status codes shared by createSessionScript and renewSessionScript.
const (
	statusNotFound   int64 = 0
	statusOK         int64 = 1
	statusMismatch   int64 = 2
	statusConcurrent int64 = 3
	statusConflict   int64 = 4
	statusCorrupt    int64 = 5
)

// luaHelpers is prepended to every script that needs to inspect a stored
// record. Offsets match encoder.go: stamp at bytes 2..9 (Lua is 1-indexed),
// flags at byte 26, user ID length at byte 27.
const luaHelpers = `
local function read_be64(s, i)
  local b1 = string.byte(s, i)
  local b2 = string.byte(s, i + 1)
  local b3 = string.byte(s, i + 2)
  local b4 = string.byte(s, i + 3)
  local b5 = string.byte(s, i + 4)
  local b6 = string.byte(s, i + 5)
  local b7 = string.byte(s, i + 6)
  local b8 = string.byte(s, i + 7)
  if not b8 then
    return nil
  end
  return ((((((((b1 * 256) + b2) * 256 + b3) * 256 + b4) * 256 + b5) * 256 + b6) * 256 + b7) * 256 + b8)
end

local function live_privileged(priv_key, sess_prefix)
  local members = redis.call("SMEMBERS", priv_key)
  local count = 0
  for _, id in ipairs(members) do
    if redis.call("EXISTS", sess_prefix .. id) == 1 then
      count = count + 1
    else
      redis.call("SREM", priv_key, id)
    end
  end
  return count
end

local function set_privileged(blob)
  local flags = string.byte(blob, 26)
  if flags % 2 == 0 then
    flags = flags + 1
  end
  return string.sub(blob, 1, 25) .. string.char(flags) .. string.sub(blob, 27)
end
`

// createSessionScript inserts a new session and decides its privileged flag
// under the per-user cap in the same atomic step. A cap below zero means
// unlimited.
const createSessionScript = luaHelpers + `
local session_key = KEYS[1]
local user_key = KEYS[2]
local priv_key = KEYS[3]
local session_id = ARGV[1]
local blob = ARGV[2]
local cap = tonumber(ARGV[3])
local ttl_ms = tonumber(ARGV[4])
local sess_prefix = ARGV[5]

if redis.call("EXISTS", session_key) == 1 then
  return {4}
end

local privileged = 0
if cap < 0 then
  privileged = 1
elseif live_privileged(priv_key, sess_prefix) < cap then
  privileged = 1
end

if privileged == 1 then
  blob = set_privileged(blob)
end

redis.call("SET", session_key, blob, "PX", ttl_ms)
redis.call("SADD", user_key, session_id)
if privileged == 1 then
  redis.call("SADD", priv_key, session_id)
end

return {1, blob}
`

var createSessionLua = redis.NewScript(createSessionScript)

// renewSessionScript is the rotation CAS. It succeeds only when the stored
// stamp equals the caller's expected stamp; exactly one of any number of
// concurrent renewals can win. A stored stamp that already equals the stamp
// this call would write means another renewal landed within the same second,
// which is a lost race rather than a replayed credential. The privileged
// flag is re-evaluated against the cap on every renewal, in the same atomic
// step as the stamp swap.
const renewSessionScript = luaHelpers + `
local session_key = KEYS[1]
local user_key = KEYS[2]
local priv_key = KEYS[3]
local session_id = ARGV[1]
local expected_stamp = tonumber(ARGV[2])
local new_blob = ARGV[3]
local new_stamp = tonumber(ARGV[4])
local cap = tonumber(ARGV[5])
local ttl_ms = tonumber(ARGV[6])
local sess_prefix = ARGV[7]

local data = redis.call("GET", session_key)
if not data then
  return {0}
end

if string.byte(data, 1) ~= 1 then
  return {5}
end

local stamp = read_be64(data, 2)
if stamp ~= expected_stamp then
  if stamp == new_stamp then
    return {3}
  end
  return {2}
end

local flags = string.byte(data, 26)
local privileged = flags % 2
if privileged == 0 then
  if cap < 0 then
    privileged = 1
  elseif live_privileged(priv_key, sess_prefix) < cap then
    privileged = 1
  end
end

if privileged == 1 then
  new_blob = set_privileged(new_blob)
end

redis.call("SET", session_key, new_blob, "PX", ttl_ms)
redis.call("SADD", user_key, session_id)
if privileged == 1 then
  redis.call("SADD", priv_key, session_id)
end

return {1, new_blob}
`

var renewSessionLua = redis.NewScript(renewSessionScript)

// deleteSessionScript removes a session and unlinks it from the user's
// indexes. The user ID is parsed out of the stored record so callers only
// need the session ID.
const deleteSessionScript = `
local session_key = KEYS[1]
local session_id = ARGV[1]
local user_prefix = ARGV[2]
local priv_prefix = ARGV[3]

local data = redis.call("GET", session_key)
if not data then
  return 0
end

local user_len = string.byte(data, 27)
local user_id = string.sub(data, 28, 27 + user_len)

redis.call("DEL", session_key)
redis.call("SREM", user_prefix .. user_id, session_id)
redis.call("SREM", priv_prefix .. user_id, session_id)
return 1
`

var deleteSessionLua = redis.NewScript(deleteSessionScript)

const deleteAllScript = `
local user_key = KEYS[1]
local priv_key = KEYS[2]
local sess_prefix = ARGV[1]

local members = redis.call("SMEMBERS", user_key)
local deleted = 0
for _, id in ipairs(members) do
  deleted = deleted + redis.call("DEL", sess_prefix .. id)
end
redis.call("DEL", user_key)
redis.call("DEL", priv_key)
return deleted
`

var deleteAllLua = redis.NewScript(deleteAllScript)

const privilegedCountScript = luaHelpers + `
return live_privileged(KEYS[1], ARGV[1])
`

var privilegedCountLua = redis.NewScript(privilegedCountScript)

// RedisStore is the primary session backend. All stamp checks and privileged
// cap decisions run server-side in Lua so they are atomic with the write.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a session store on the given Redis client. prefix
// namespaces the keys; ttl is the session lifetime, reset on every renewal.
func NewRedisStore(rdb redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "ev"
	}
	return &RedisStore{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) sessionKey(id string) string { return s.prefix + ":s:" + id }
func (s *RedisStore) userKey(userID string) string {
	return s.prefix + ":u:" + userID
}
func (s *RedisStore) privKey(userID string) string {
	return s.prefix + ":p:" + userID
}
func (s *RedisStore) sessPrefix() string { return s.prefix + ":s:" }

func (s *RedisStore) Create(ctx context.Context, sess *Session, privilegedCap int) (*Session, error) {
	keys := []string{s.sessionKey(sess.ID), s.userKey(sess.UserID), s.privKey(sess.UserID)}
	res, err := createSessionLua.Run(ctx, s.rdb, keys,
		sess.ID, encode(sess), privilegedCap, s.ttl.Milliseconds(), s.sessPrefix()).Slice()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	status, stored, err := scriptResult(res)
	if err != nil {
		return nil, err
	}
	if status == statusConflict {
		return nil, ErrConflict
	}
	return decode(sess.ID, stored)
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	data, err := s.rdb.Get(ctx, s.sessionKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return decode(id, data)
}

func (s *RedisStore) Renew(ctx context.Context, in RenewInput, privilegedCap int) (*Session, error) {
	now := in.Now.Unix()
	next := &Session{
		ID:         in.SessionID,
		UserID:     in.UserID,
		DeviceInfo: in.DeviceInfo,
		IP:         in.IP,
		Address:    in.Address,
		StartedOn:  in.StartedOn,
		RenewedOn:  now,
	}

	keys := []string{s.sessionKey(in.SessionID), s.userKey(in.UserID), s.privKey(in.UserID)}
	res, err := renewSessionLua.Run(ctx, s.rdb, keys,
		in.SessionID, in.ExpectedStamp, encode(next), now,
		privilegedCap, s.ttl.Milliseconds(), s.sessPrefix()).Slice()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	status, stored, err := scriptResult(res)
	if err != nil {
		return nil, err
	}
	switch status {
	case statusNotFound:
		return nil, ErrNotFound
	case statusMismatch:
		return nil, ErrStampMismatch
	case statusConcurrent:
		return nil, ErrConcurrentUpdate
	}
	return decode(in.SessionID, stored)
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	err := deleteSessionLua.Run(ctx, s.rdb, []string{s.sessionKey(id)},
		id, s.prefix+":u:", s.prefix+":p:").Err()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *RedisStore) DeleteAllForUser(ctx context.Context, userID string) (int, error) {
	n, err := deleteAllLua.Run(ctx, s.rdb,
		[]string{s.userKey(userID), s.privKey(userID)}, s.sessPrefix()).Int()
	if err != nil && err != redis.Nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n, nil
}

func (s *RedisStore) PrivilegedCount(ctx context.Context, userID string) (int, error) {
	n, err := privilegedCountLua.Run(ctx, s.rdb,
		[]string{s.privKey(userID)}, s.sessPrefix()).Int()
	if err != nil && err != redis.Nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n, nil
}

func (s *RedisStore) Close() error { return nil }

func scriptResult(res []interface{}) (int64, []byte, error) {
	if len(res) == 0 {
		return 0, nil, fmt.Errorf("%w: empty script reply", ErrUnavailable)
	}
	status, ok := res[0].(int64)
	if !ok {
		return 0, nil, fmt.Errorf("%w: bad script reply %T", ErrUnavailable, res[0])
	}
	if status == statusCorrupt {
		return 0, nil, errCorruptRecord
	}
	var blob []byte
	if len(res) > 1 {
		switch v := res[1].(type) {
		case string:
			blob = []byte(v)
		case []byte:
			blob = v
		}
	}
	return status, blob, nil
}
