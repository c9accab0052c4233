// Package redisstore persists entitlements as Redis hashes, one per identity.
// Conditional updates run as Lua scripts so each one is atomic on the server.
package redisstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"scriptgate/internal/entitlement"
)

// DefaultKeyPrefix namespaces entitlement hashes.
const DefaultKeyPrefix = "scriptgate:entitlement:"

const (
	fieldUserID             = "user_id"
	fieldTrialStart         = "trial_start"
	fieldTrialEndedLogged   = "trial_ended_logged"
	fieldLicenseActive      = "license_active"
	fieldLicenseActivatedAt = "license_activated_at"
	fieldLicenseEndedLogged = "license_ended_logged"
)

// ARGV: trialEnded(0|1), licenseEnded(0|1), licenseCycle(ms).
// Returns {-1} for unknown keys, else {trialApplied, licenseApplied, HGETALL...}.
var applyScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return {-1}
end
local trial = 0
local license = 0
if ARGV[1] == '1' and redis.call('HGET', KEYS[1], 'trial_ended_logged') ~= '1' then
  redis.call('HSET', KEYS[1], 'trial_ended_logged', '1')
  trial = 1
end
if ARGV[2] == '1'
  and redis.call('HGET', KEYS[1], 'license_ended_logged') ~= '1'
  and redis.call('HGET', KEYS[1], 'license_activated_at') == ARGV[3] then
  redis.call('HSET', KEYS[1], 'license_ended_logged', '1', 'license_active', '0')
  license = 1
end
local out = {trial, license}
local all = redis.call('HGETALL', KEYS[1])
for i = 1, #all do
  out[#out + 1] = all[i]
end
return out
`)

// ARGV: activatedAt(ms). Returns {-1} for unknown keys, else {0, HGETALL...}.
var activateScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return {-1}
end
redis.call('HSET', KEYS[1],
  'license_active', '1',
  'license_activated_at', ARGV[1],
  'license_ended_logged', '0')
local out = {0}
local all = redis.call('HGETALL', KEYS[1])
for i = 1, #all do
  out[#out + 1] = all[i]
end
return out
`)

// Store is a Redis-backed entitlement.Store.
type Store struct {
	rdb   *redis.Client
	keyNS string
}

// New creates a store on rdb. An empty keyPrefix uses DefaultKeyPrefix.
func New(rdb *redis.Client, keyPrefix string) *Store {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &Store{rdb: rdb, keyNS: keyPrefix}
}

var (
	_ entitlement.Store  = (*Store)(nil)
	_ entitlement.Pinger = (*Store)(nil)
)

func (s *Store) key(userID string) string { return s.keyNS + userID }

func (s *Store) GetOrCreate(ctx context.Context, userID string, now time.Time) (entitlement.Entitlement, error) {
	key := s.key(userID)

	pipe := s.rdb.TxPipeline()
	pipe.HSetNX(ctx, key, fieldUserID, userID)
	pipe.HSetNX(ctx, key, fieldTrialStart, entitlement.Millis(now))
	all := pipe.HGetAll(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return entitlement.Entitlement{}, unavailable("get_or_create", err)
	}

	return decode(userID, all.Val())
}

func (s *Store) Get(ctx context.Context, userID string) (entitlement.Entitlement, error) {
	fields, err := s.rdb.HGetAll(ctx, s.key(userID)).Result()
	if err != nil {
		return entitlement.Entitlement{}, unavailable("get", err)
	}
	if len(fields) == 0 {
		return entitlement.Entitlement{}, entitlement.ErrNotFound
	}
	return decode(userID, fields)
}

func (s *Store) ApplyTransitions(ctx context.Context, userID string, t entitlement.Transitions) (entitlement.Entitlement, entitlement.Transitions, error) {
	if t.Empty() {
		rec, err := s.Get(ctx, userID)
		return rec, entitlement.Transitions{}, err
	}

	res, err := applyScript.Run(ctx, s.rdb, []string{s.key(userID)},
		flag(t.TrialEnded), flag(t.LicenseEnded), entitlement.Millis(t.LicenseCycle)).Slice()
	if err != nil {
		return entitlement.Entitlement{}, entitlement.Transitions{}, unavailable("apply_transitions", err)
	}
	if isMissing(res) {
		return entitlement.Entitlement{}, entitlement.Transitions{}, entitlement.ErrNotFound
	}
	if len(res) < 2 {
		return entitlement.Entitlement{}, entitlement.Transitions{}, unavailable("apply_transitions", fmt.Errorf("short script reply: %v", res))
	}

	rec, err := decode(userID, pairs(res[2:]))
	if err != nil {
		return entitlement.Entitlement{}, entitlement.Transitions{}, err
	}

	var applied entitlement.Transitions
	applied.TrialEnded = asInt(res[0]) == 1
	if asInt(res[1]) == 1 {
		applied.LicenseEnded = true
		applied.LicenseCycle = t.LicenseCycle
	}
	return rec, applied, nil
}

func (s *Store) Activate(ctx context.Context, userID string, now time.Time) (entitlement.Entitlement, error) {
	res, err := activateScript.Run(ctx, s.rdb, []string{s.key(userID)}, entitlement.Millis(now)).Slice()
	if err != nil {
		return entitlement.Entitlement{}, unavailable("activate", err)
	}
	if isMissing(res) {
		return entitlement.Entitlement{}, entitlement.ErrNotFound
	}
	return decode(userID, pairs(res[1:]))
}

// Ping checks connectivity to Redis.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: redis %s: %w", entitlement.ErrStoreUnavailable, op, err)
}

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func isMissing(res []interface{}) bool {
	return len(res) == 1 && asInt(res[0]) == -1
}

func asInt(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	default:
		return 0
	}
}

func pairs(flat []interface{}) map[string]string {
	fields := make(map[string]string, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		k, _ := flat[i].(string)
		v, _ := flat[i+1].(string)
		fields[k] = v
	}
	return fields
}

func decode(userID string, fields map[string]string) (entitlement.Entitlement, error) {
	start, err := strconv.ParseInt(fields[fieldTrialStart], 10, 64)
	if err != nil {
		return entitlement.Entitlement{}, unavailable("decode", fmt.Errorf("trial_start %q: %w", fields[fieldTrialStart], err))
	}

	rec := entitlement.Entitlement{
		UserID:             userID,
		TrialStart:         entitlement.FromMillis(start),
		TrialEndedLogged:   fields[fieldTrialEndedLogged] == "1",
		LicenseActive:      fields[fieldLicenseActive] == "1",
		LicenseEndedLogged: fields[fieldLicenseEndedLogged] == "1",
	}
	if raw := fields[fieldLicenseActivatedAt]; raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return entitlement.Entitlement{}, unavailable("decode", fmt.Errorf("license_activated_at %q: %w", raw, err))
		}
		activatedAt := entitlement.FromMillis(ms)
		rec.LicenseActivatedAt = &activatedAt
	}
	return rec, nil
}
