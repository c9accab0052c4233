package redisstore

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scriptgate/internal/entitlement"
	"scriptgate/internal/storage/storetest"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, "test:ent:"), mr
}

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) entitlement.Store {
		s, _ := newTestStore(t)
		return s
	})
}

func TestStore_HashLayout(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)

	_, err := s.GetOrCreate(ctx, "u1", entitlement.FromMillis(1_000))
	require.NoError(t, err)
	_, err = s.Activate(ctx, "u1", entitlement.FromMillis(180_000))
	require.NoError(t, err)

	assert.Equal(t, "u1", mr.HGet("test:ent:u1", fieldUserID))
	assert.Equal(t, "1000", mr.HGet("test:ent:u1", fieldTrialStart))
	assert.Equal(t, "1", mr.HGet("test:ent:u1", fieldLicenseActive))
	assert.Equal(t, "180000", mr.HGet("test:ent:u1", fieldLicenseActivatedAt))
	assert.Equal(t, "0", mr.HGet("test:ent:u1", fieldLicenseEndedLogged))
}

func TestStore_DefaultPrefix(t *testing.T) {
	s := New(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), "")
	assert.Equal(t, DefaultKeyPrefix+"abc", s.key("abc"))
}

func TestStore_Unavailable(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)

	_, err := s.GetOrCreate(ctx, "u1", entitlement.FromMillis(0))
	require.NoError(t, err)
	require.NoError(t, s.Ping(ctx))

	mr.Close()

	_, err = s.GetOrCreate(ctx, "u1", entitlement.FromMillis(0))
	assert.ErrorIs(t, err, entitlement.ErrStoreUnavailable)

	_, _, err = s.ApplyTransitions(ctx, "u1", entitlement.Transitions{TrialEnded: true})
	assert.ErrorIs(t, err, entitlement.ErrStoreUnavailable)
	assert.NotErrorIs(t, err, entitlement.ErrNotFound)

	_, err = s.Activate(ctx, "u1", entitlement.FromMillis(1))
	assert.ErrorIs(t, err, entitlement.ErrStoreUnavailable)

	assert.ErrorIs(t, s.Ping(ctx), entitlement.ErrStoreUnavailable)
}

func TestStore_CorruptRecord(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)

	mr.HSet("test:ent:bad", fieldTrialStart, "not-a-number")
	_, err := s.Get(ctx, "bad")
	assert.ErrorIs(t, err, entitlement.ErrStoreUnavailable)
}
