package memorystore

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scriptgate/internal/entitlement"
	"scriptgate/internal/storage/storetest"
)

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) entitlement.Store {
		return New()
	})
}

func TestStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.GetOrCreate(ctx, "u1", entitlement.FromMillis(0))
	require.NoError(t, err)
	rec, err := s.Activate(ctx, "u1", entitlement.FromMillis(10))
	require.NoError(t, err)

	*rec.LicenseActivatedAt = entitlement.FromMillis(999)
	rec.LicenseActive = false

	stored, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, stored.LicenseActive)
	assert.Equal(t, int64(10), entitlement.Millis(*stored.LicenseActivatedAt))
}

func TestStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := New()

	_, err := s.GetOrCreate(ctx, "u1", entitlement.FromMillis(0))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, s.Len(), "a cancelled request must not create a record")
}

func TestStore_GetOrCreateExistingDoesNotAllocateRecord(t *testing.T) {
	ctx := context.Background()
	s := New()
	start := time.UnixMilli(0)

	_, err := s.GetOrCreate(ctx, "alice", start)
	require.NoError(t, err)

	hit := testing.AllocsPerRun(100, func() {
		_, _ = s.GetOrCreate(ctx, "alice", start.Add(time.Minute))
	})

	ids := make([]string, 200)
	for i := range ids {
		ids[i] = "user-" + strconv.Itoa(i)
	}
	next := 0
	miss := testing.AllocsPerRun(100, func() {
		_, _ = s.GetOrCreate(ctx, ids[next], start)
		next++
	})

	assert.Less(t, hit, miss)

	rec, err := s.GetOrCreate(ctx, "alice", start.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, start, rec.TrialStart)
}
