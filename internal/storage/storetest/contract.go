// Package storetest holds the behavioural contract every entitlement.Store
// adapter must satisfy. Adapter tests call Run with a factory that returns an
// empty store.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"scriptgate/internal/entitlement"
)

// Factory returns an empty store for one subtest.
type Factory func(t *testing.T) entitlement.Store

func at(ms int64) time.Time { return entitlement.FromMillis(ms) }

// Run executes the full contract against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("GetOrCreateCreatesOnce", func(t *testing.T) { testGetOrCreate(t, newStore(t)) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, newStore(t)) })
	t.Run("ConcurrentFirstAccess", func(t *testing.T) { testConcurrentFirstAccess(t, newStore(t)) })
	t.Run("ApplyTrialEnded", func(t *testing.T) { testApplyTrialEnded(t, newStore(t)) })
	t.Run("ApplyEmptySet", func(t *testing.T) { testApplyEmpty(t, newStore(t)) })
	t.Run("ApplyLicenseEnded", func(t *testing.T) { testApplyLicenseEnded(t, newStore(t)) })
	t.Run("StaleLicenseEndedAfterReactivation", func(t *testing.T) { testStaleLicenseEnded(t, newStore(t)) })
	t.Run("ActivateResetsEndedFlag", func(t *testing.T) { testActivateResets(t, newStore(t)) })
	t.Run("UpdatesOnUnknownIdentity", func(t *testing.T) { testUnknownIdentity(t, newStore(t)) })
	t.Run("ConcurrentApplyIsExactlyOnce", func(t *testing.T) { testConcurrentApply(t, newStore(t)) })
	t.Run("IndependentIdentities", func(t *testing.T) { testIndependentIdentities(t, newStore(t)) })
}

func testGetOrCreate(t *testing.T, s entitlement.Store) {
	ctx := context.Background()

	rec, err := s.GetOrCreate(ctx, "u1", at(1_000))
	require.NoError(t, err)
	assert.Equal(t, "u1", rec.UserID)
	assert.Equal(t, int64(1_000), entitlement.Millis(rec.TrialStart))
	assert.False(t, rec.TrialEndedLogged)
	assert.False(t, rec.LicenseActive)
	assert.Nil(t, rec.LicenseActivatedAt)
	assert.False(t, rec.LicenseEndedLogged)

	again, err := s.GetOrCreate(ctx, "u1", at(99_000))
	require.NoError(t, err)
	assert.Equal(t, int64(1_000), entitlement.Millis(again.TrialStart), "trial start must never move")

	got, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, rec.Equal(got))
}

func testGetMissing(t *testing.T, s entitlement.Store) {
	_, err := s.Get(context.Background(), "nobody")
	assert.ErrorIs(t, err, entitlement.ErrNotFound)
}

func testConcurrentFirstAccess(t *testing.T, s entitlement.Store) {
	ctx := context.Background()
	const workers = 32

	starts := make([]int64, workers)
	var start sync.WaitGroup
	start.Add(1)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		i := i
		g.Go(func() error {
			start.Wait()
			rec, err := s.GetOrCreate(gctx, "racer", at(int64(1_000+i)))
			if err != nil {
				return err
			}
			starts[i] = entitlement.Millis(rec.TrialStart)
			return nil
		})
	}
	start.Done()
	require.NoError(t, g.Wait())

	for i := 1; i < workers; i++ {
		assert.Equal(t, starts[0], starts[i], "every caller must observe the single winner")
	}
}

func testApplyTrialEnded(t *testing.T, s entitlement.Store) {
	ctx := context.Background()
	_, err := s.GetOrCreate(ctx, "u1", at(0))
	require.NoError(t, err)

	rec, applied, err := s.ApplyTransitions(ctx, "u1", entitlement.Transitions{TrialEnded: true})
	require.NoError(t, err)
	assert.True(t, applied.TrialEnded)
	assert.True(t, rec.TrialEndedLogged)

	again, applied, err := s.ApplyTransitions(ctx, "u1", entitlement.Transitions{TrialEnded: true})
	require.NoError(t, err)
	assert.True(t, applied.Empty(), "second application must not report a change")
	assert.True(t, rec.Equal(again))
}

func testApplyEmpty(t *testing.T, s entitlement.Store) {
	ctx := context.Background()
	created, err := s.GetOrCreate(ctx, "u1", at(0))
	require.NoError(t, err)

	rec, applied, err := s.ApplyTransitions(ctx, "u1", entitlement.Transitions{})
	require.NoError(t, err)
	assert.True(t, applied.Empty())
	assert.True(t, created.Equal(rec))
}

func testApplyLicenseEnded(t *testing.T, s entitlement.Store) {
	ctx := context.Background()
	_, err := s.GetOrCreate(ctx, "u1", at(0))
	require.NoError(t, err)
	_, err = s.Activate(ctx, "u1", at(180_000))
	require.NoError(t, err)

	set := entitlement.Transitions{TrialEnded: true, LicenseEnded: true, LicenseCycle: at(180_000)}
	rec, applied, err := s.ApplyTransitions(ctx, "u1", set)
	require.NoError(t, err)
	assert.Equal(t, []string{entitlement.TransitionTrialEnded, entitlement.TransitionLicenseEnded}, applied.Kinds())
	assert.True(t, rec.LicenseEndedLogged)
	assert.False(t, rec.LicenseActive)
	require.NotNil(t, rec.LicenseActivatedAt, "activation instant is left in place")
	assert.Equal(t, int64(180_000), entitlement.Millis(*rec.LicenseActivatedAt))

	twice, applied, err := s.ApplyTransitions(ctx, "u1", set)
	require.NoError(t, err)
	assert.True(t, applied.Empty())
	assert.True(t, rec.Equal(twice))
}

func testStaleLicenseEnded(t *testing.T, s entitlement.Store) {
	ctx := context.Background()
	_, err := s.GetOrCreate(ctx, "u1", at(0))
	require.NoError(t, err)
	_, err = s.Activate(ctx, "u1", at(180_000))
	require.NoError(t, err)
	_, err = s.Activate(ctx, "u1", at(310_000))
	require.NoError(t, err)

	rec, applied, err := s.ApplyTransitions(ctx, "u1",
		entitlement.Transitions{LicenseEnded: true, LicenseCycle: at(180_000)})
	require.NoError(t, err)
	assert.True(t, applied.Empty(), "expiry of an older cycle must not touch the new activation")
	assert.True(t, rec.LicenseActive)
	assert.False(t, rec.LicenseEndedLogged)
	require.NotNil(t, rec.LicenseActivatedAt)
	assert.Equal(t, int64(310_000), entitlement.Millis(*rec.LicenseActivatedAt))
}

func testActivateResets(t *testing.T, s entitlement.Store) {
	ctx := context.Background()
	_, err := s.GetOrCreate(ctx, "u1", at(0))
	require.NoError(t, err)
	_, err = s.Activate(ctx, "u1", at(180_000))
	require.NoError(t, err)
	_, _, err = s.ApplyTransitions(ctx, "u1",
		entitlement.Transitions{TrialEnded: true, LicenseEnded: true, LicenseCycle: at(180_000)})
	require.NoError(t, err)

	rec, err := s.Activate(ctx, "u1", at(310_000))
	require.NoError(t, err)
	assert.True(t, rec.LicenseActive)
	assert.False(t, rec.LicenseEndedLogged)
	assert.True(t, rec.TrialEndedLogged, "activation must not touch trial fields")
	assert.Equal(t, int64(0), entitlement.Millis(rec.TrialStart))
	require.NotNil(t, rec.LicenseActivatedAt)
	assert.Equal(t, int64(310_000), entitlement.Millis(*rec.LicenseActivatedAt))

	same, err := s.Activate(ctx, "u1", at(310_000))
	require.NoError(t, err)
	assert.True(t, rec.Equal(same), "activation at the same instant is idempotent")
}

func testUnknownIdentity(t *testing.T, s entitlement.Store) {
	ctx := context.Background()

	_, _, err := s.ApplyTransitions(ctx, "ghost", entitlement.Transitions{TrialEnded: true})
	assert.ErrorIs(t, err, entitlement.ErrNotFound)

	_, err = s.Activate(ctx, "ghost", at(1))
	assert.ErrorIs(t, err, entitlement.ErrNotFound)
}

func testConcurrentApply(t *testing.T, s entitlement.Store) {
	ctx := context.Background()
	_, err := s.GetOrCreate(ctx, "u1", at(0))
	require.NoError(t, err)

	const workers = 16
	var mu sync.Mutex
	reported := 0

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			_, applied, err := s.ApplyTransitions(gctx, "u1", entitlement.Transitions{TrialEnded: true})
			if err != nil {
				return err
			}
			if applied.TrialEnded {
				mu.Lock()
				reported++
				mu.Unlock()
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 1, reported, "exactly one writer may observe the transition as applied")
}

func testIndependentIdentities(t *testing.T, s entitlement.Store) {
	ctx := context.Background()

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("user-%d", i)
		ms := int64(i * 1_000)
		g.Go(func() error {
			if _, err := s.GetOrCreate(gctx, id, at(ms)); err != nil {
				return err
			}
			_, err := s.Activate(gctx, id, at(ms+500))
			return err
		})
	}
	require.NoError(t, g.Wait())

	for i := 0; i < 20; i++ {
		rec, err := s.Get(ctx, fmt.Sprintf("user-%d", i))
		require.NoError(t, err)
		assert.Equal(t, int64(i*1_000), entitlement.Millis(rec.TrialStart))
		require.NotNil(t, rec.LicenseActivatedAt)
		assert.Equal(t, int64(i*1_000+500), entitlement.Millis(*rec.LicenseActivatedAt))
	}
}
