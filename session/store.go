package session

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wrtnlabs/authcore/internal"
)

var (
	// ErrNotFound is returned when no ledger row exists for a session id.
	ErrNotFound = errors.New("session not found")
	// ErrReused is returned when a redeemed or revoked row is presented
	// again. This is the reuse-detection signal, deliberately distinct
	// from ErrNotFound.
	ErrReused = errors.New("session already revoked")
	// ErrExpired is returned when the row exists but its expiry has
	// passed.
	ErrExpired = errors.New("session expired")
	// ErrUnavailable wraps Redis transport failures.
	ErrUnavailable = errors.New("session backend unavailable")
)

// Tombstones for rows that would otherwise vanish immediately keep reuse
// detectable for a short floor even when the remaining TTL is exhausted.
const minTombstoneTTLMillis = 1000

const luaReadBE64 = `
local function read_be64(s, i)
  local v = 0
  for k = i, i + 7 do
    local b = string.byte(s, k)
    if not b then
      return nil
    end
    v = v * 256 + b
  end
  return v
end
`

// Row header offsets, 1-based for Lua: version at 1, issued_at 2..9,
// expires_at 10..17, revoked_at 18..25, principal length byte at 26.
const luaParseRow = luaReadBE64 + `
local function parse_row(data)
  if string.byte(data, 1) ~= 1 then
    return nil
  end
  local expires = read_be64(data, 10)
  local revoked = read_be64(data, 18)
  local plen = string.byte(data, 26)
  if not expires or not revoked or not plen then
    return nil
  end
  local principal = string.sub(data, 27, 26 + plen)
  if #principal ~= plen then
    return nil
  end
  return { expires = expires, revoked = revoked, principal = principal }
end

local function revoke_blob(data, revoked8)
  return string.sub(data, 1, 17) .. revoked8 .. string.sub(data, 26)
end
`

var redeemScript = luaParseRow + `
local old_key = KEYS[1]
local new_key = KEYS[2]
local old_id = ARGV[1]
local new_id = ARGV[2]
local now_unix = tonumber(ARGV[3])
local issued8 = ARGV[4]
local expires8 = ARGV[5]
local new_ttl_ms = tonumber(ARGV[6])
local principal_prefix = ARGV[7]
local revoked8 = ARGV[8]

local data = redis.call("GET", old_key)
if not data then
  return {0}
end

local row = parse_row(data)
if not row then
  return {4}
end

local pkey = principal_prefix .. row.principal

if row.revoked > 0 then
  return {2, data}
end

if row.expires <= now_unix then
  redis.call("DEL", old_key)
  redis.call("SREM", pkey, old_id)
  return {1}
end

local ttl = redis.call("PTTL", old_key)
if ttl <= 0 then
  ttl = ` + fmt.Sprint(minTombstoneTTLMillis) + `
end

redis.call("SET", old_key, revoke_blob(data, revoked8), "PX", ttl)

local successor = string.sub(data, 1, 1) .. issued8 .. expires8 .. string.rep("\0", 8) .. string.sub(data, 26)
redis.call("SET", new_key, successor, "PX", new_ttl_ms)
redis.call("SREM", pkey, old_id)
redis.call("SADD", pkey, new_id)

return {3, data}
`

var revokeScript = luaParseRow + `
local data = redis.call("GET", KEYS[1])
if not data then
  return 0
end

local row = parse_row(data)
if not row then
  return 0
end

redis.call("SREM", ARGV[2] .. row.principal, ARGV[1])

if row.revoked > 0 then
  return 0
end

local ttl = redis.call("PTTL", KEYS[1])
if ttl <= 0 then
  ttl = ` + fmt.Sprint(minTombstoneTTLMillis) + `
end
redis.call("SET", KEYS[1], revoke_blob(data, ARGV[3]), "PX", ttl)
return 1
`

var revokeAllScript = luaParseRow + `
local ids = redis.call("SMEMBERS", KEYS[1])
local session_prefix = ARGV[1]
local revoked8 = ARGV[2]
local now_unix = tonumber(ARGV[3])
local count = 0

for _, id in ipairs(ids) do
  local key = session_prefix .. id
  local data = redis.call("GET", key)
  if data then
    local row = parse_row(data)
    if row and row.revoked == 0 and row.expires > now_unix then
      local ttl = redis.call("PTTL", key)
      if ttl <= 0 then
        ttl = ` + fmt.Sprint(minTombstoneTTLMillis) + `
      end
      redis.call("SET", key, revoke_blob(data, revoked8), "PX", ttl)
      count = count + 1
    end
  end
end

redis.call("DEL", KEYS[1])
return count
`

var (
	redeemLua    = redis.NewScript(redeemScript)
	revokeLua    = redis.NewScript(revokeScript)
	revokeAllLua = redis.NewScript(revokeAllScript)
)

const (
	redeemStatusNotFound int64 = 0
	redeemStatusExpired  int64 = 1
	redeemStatusReused   int64 = 2
	redeemStatusRotated  int64 = 3
	redeemStatusCorrupt  int64 = 4
)

// Store is the Redis-backed session ledger.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

// NewStore returns a ledger using the given Redis client. prefix
// namespaces every key this store touches.
func NewStore(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "ac"
	}
	return &Store{redis: client, prefix: prefix}
}

func (s *Store) sessionKey(sessionID string) string {
	return s.prefix + ":s:" + sessionID
}

func (s *Store) sessionKeyPrefix() string {
	return s.prefix + ":s:"
}

func (s *Store) principalKey(principalID string) string {
	return s.prefix + ":p:" + principalID
}

func (s *Store) principalKeyPrefix() string {
	return s.prefix + ":p:"
}

// Open creates a new Active row for the principal and returns it. The
// returned session ID is embedded into the refresh token by the caller.
func (s *Store) Open(ctx context.Context, principalID, role, sessionContext string, ttl time.Duration, now time.Time) (*Session, error) {
	id, err := internal.NewID()
	if err != nil {
		return nil, err
	}

	sess := &Session{
		ID:          id.String(),
		PrincipalID: principalID,
		Role:        role,
		Context:     sessionContext,
		IssuedAt:    now.Unix(),
		ExpiresAt:   now.Add(ttl).Unix(),
	}

	data, err := Encode(sess)
	if err != nil {
		return nil, err
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.sessionKey(sess.ID), data, ttl)
		pipe.SAdd(ctx, s.principalKey(principalID), sess.ID)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return sess, nil
}

// Redeem atomically consumes the row for sessionID and opens its
// successor. A missing row yields ErrNotFound, a revoked tombstone yields
// ErrReused, an expired row yields ErrExpired. On success both the
// consumed row and the new Active row are returned; no interleaving can
// make two concurrent redeems of the same row both succeed.
func (s *Store) Redeem(ctx context.Context, sessionID string, ttl time.Duration, now time.Time) (*Session, *Session, error) {
	newID, err := internal.NewID()
	if err != nil {
		return nil, nil, err
	}

	res, err := redeemLua.Run(ctx, s.redis,
		[]string{s.sessionKey(sessionID), s.sessionKey(newID.String())},
		sessionID,
		newID.String(),
		now.Unix(),
		be64(now.Unix()),
		be64(now.Add(ttl).Unix()),
		ttl.Milliseconds(),
		s.principalKeyPrefix(),
		be64(now.Unix()),
	).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	reply, ok := res.([]interface{})
	if !ok || len(reply) == 0 {
		return nil, nil, fmt.Errorf("%w: unexpected script reply", ErrUnavailable)
	}
	status, ok := reply[0].(int64)
	if !ok {
		return nil, nil, fmt.Errorf("%w: unexpected script reply", ErrUnavailable)
	}

	switch status {
	case redeemStatusNotFound:
		return nil, nil, ErrNotFound
	case redeemStatusExpired:
		return nil, nil, ErrExpired
	case redeemStatusCorrupt:
		return nil, nil, ErrCorruptRecord
	case redeemStatusReused:
		old, decodeErr := decodeReply(reply, sessionID)
		if decodeErr != nil {
			return nil, nil, ErrReused
		}
		return old, nil, ErrReused
	case redeemStatusRotated:
		old, decodeErr := decodeReply(reply, sessionID)
		if decodeErr != nil {
			return nil, nil, decodeErr
		}
		next := &Session{
			ID:          newID.String(),
			PrincipalID: old.PrincipalID,
			Role:        old.Role,
			Context:     old.Context,
			IssuedAt:    now.Unix(),
			ExpiresAt:   now.Add(ttl).Unix(),
		}
		return old, next, nil
	default:
		return nil, nil, fmt.Errorf("%w: unexpected script status %d", ErrUnavailable, status)
	}
}

// Revoke marks the row revoked. Revoking a missing or already-revoked
// session is a no-op success.
func (s *Store) Revoke(ctx context.Context, sessionID string, now time.Time) error {
	err := revokeLua.Run(ctx, s.redis,
		[]string{s.sessionKey(sessionID)},
		sessionID,
		s.principalKeyPrefix(),
		be64(now.Unix()),
	).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// RevokeAll revokes every Active row for the principal in one script and
// returns the count revoked. Because the script is atomic, a concurrent
// Redeem either completes before the sweep (its successor is then part of
// the swept set) or observes its row as revoked and reports reuse.
func (s *Store) RevokeAll(ctx context.Context, principalID string, now time.Time) (int, error) {
	count, err := revokeAllLua.Run(ctx, s.redis,
		[]string{s.principalKey(principalID)},
		s.sessionKeyPrefix(),
		be64(now.Unix()),
		now.Unix(),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return count, nil
}

// Get returns the row for sessionID regardless of its state, or
// ErrNotFound.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	data, err := s.redis.Get(ctx, s.sessionKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	sess, err := Decode(data)
	if err != nil {
		return nil, err
	}
	sess.ID = sessionID
	return sess, nil
}

// List returns the principal's Active rows at now, for session
// enumeration ("signed-in devices") surfaces.
func (s *Store) List(ctx context.Context, principalID string, now time.Time) ([]*Session, error) {
	ids, err := s.redis.SMembers(ctx, s.principalKey(principalID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	sessions := make([]*Session, 0, len(ids))
	for _, id := range ids {
		sess, err := s.Get(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) || errors.Is(err, ErrCorruptRecord) {
				continue
			}
			return nil, err
		}
		if sess.Active(now) {
			sessions = append(sessions, sess)
		}
	}

	return sessions, nil
}

func decodeReply(reply []interface{}, sessionID string) (*Session, error) {
	if len(reply) < 2 {
		return nil, ErrCorruptRecord
	}
	blob, ok := reply[1].(string)
	if !ok {
		return nil, ErrCorruptRecord
	}
	sess, err := Decode([]byte(blob))
	if err != nil {
		return nil, err
	}
	sess.ID = sessionID
	return sess, nil
}

func be64(v int64) string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v))
	return string(buf[:])
}
