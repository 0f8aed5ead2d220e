package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbitlabs/orbit/internal/config"
	"github.com/orbitlabs/orbit/internal/core"
	"github.com/orbitlabs/orbit/internal/decay"
	"github.com/orbitlabs/orbit/internal/learning"
	"github.com/orbitlabs/orbit/internal/storage"
)

var testNow = time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)

type testEnv struct {
	engine *Engine
	svc    *learning.Service
	db     *storage.DB
	clock  *core.FakeClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := storage.Open(storage.Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())

	clock := core.NewFakeClock(testNow)
	svc := learning.NewService(db, clock, time.Hour)
	cfg := ConfigFrom(config.Default())
	e, err := New(db, svc, decay.NewProcess(db, clock), clock, cfg)
	require.NoError(t, err)
	return &testEnv{engine: e, svc: svc, db: db, clock: clock}
}

func (env *testEnv) user(t *testing.T, id string) core.UserID {
	t.Helper()
	u, err := env.svc.RegisterUser(context.Background(), &core.User{ID: core.UserID(id), Name: id})
	require.NoError(t, err)
	return u.ID
}

func TestConfigFrom_Defaults(t *testing.T) {
	cfg := ConfigFrom(config.Default())
	assert.Equal(t, time.Hour, cfg.LearningInterval)
	assert.Equal(t, time.Hour, cfg.DecayInterval)
	assert.Equal(t, 6*time.Hour, cfg.ConsolidationInterval)
	assert.Equal(t, 2*time.Hour, cfg.Lookback)
	assert.Equal(t, 24*time.Hour, cfg.ActiveWindow)
	assert.Equal(t, 12*time.Hour, cfg.ConsolidationAge)
	assert.Equal(t, 3, cfg.PromoteRetrievals)
}

func TestEngine_RunLearning(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	alice := env.user(t, "alice")
	bob := env.user(t, "bob")
	env.user(t, "idle")

	for i := 0; i < 3; i++ {
		_, err := env.svc.Emit(ctx, alice, core.EventIntentExpressed, "", "", nil)
		require.NoError(t, err)
	}
	_, err := env.svc.Emit(ctx, bob, core.EventGoalSet, "", "", nil)
	require.NoError(t, err)

	summary, err := env.engine.RunLearning(ctx)
	require.NoError(t, err)
	assert.Equal(t, LearningSummary{Users: 2, Updated: 2, EventsAnalyzed: 4}, summary)

	p, err := env.svc.Profile(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, 3, p.DataPointsCollected)

	t.Run("second pass finds nothing new", func(t *testing.T) {
		summary, err := env.engine.RunLearning(ctx)
		require.NoError(t, err)
		assert.Equal(t, LearningSummary{Users: 2}, summary)
	})

	t.Run("users outside the active window are skipped", func(t *testing.T) {
		env.clock.Advance(25 * time.Hour)
		summary, err := env.engine.RunLearning(ctx)
		require.NoError(t, err)
		assert.Zero(t, summary.Users)
	})
}

func TestEngine_RunNow_Decay(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.user(t, "alice")

	intent, err := env.svc.Tracker().ExpressIntent(ctx, alice, learning.NewIntent{RawInput: "tidy garage"})
	require.NoError(t, err)

	env.clock.Advance(4 * time.Hour)
	require.NoError(t, env.engine.RunNow(ctx, JobDecay))

	got, err := storage.NewIntentStore(env.db).Get(ctx, intent.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.6, got.CurrentPriority, 1e-9)
	assert.EqualValues(t, 1, env.engine.Stats().TotalRuns)
}

func TestEngine_RunConsolidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	memories := storage.NewMemoryStore(env.db)

	expires := testNow.Add(48 * time.Hour)
	mk := func(retrievals int, created time.Time) *core.Memory {
		m := &core.Memory{
			UserID:         "alice",
			Content:        "likes mornings",
			Type:           core.MemoryShortTerm,
			RetrievalCount: retrievals,
			IsActive:       true,
			ExpiresAt:      &expires,
			CreatedAt:      created,
		}
		require.NoError(t, memories.Create(ctx, m))
		return m
	}
	old := testNow.Add(-13 * time.Hour)
	popular := mk(3, old)
	forgotten := mk(0, old)
	middling := mk(1, old)
	fresh := mk(0, testNow.Add(-time.Hour))

	result, err := env.engine.RunConsolidation(ctx)
	require.NoError(t, err)
	assert.Equal(t, storage.ConsolidationResult{Promoted: 1, Deactivated: 1}, result)

	get := func(id string) *core.Memory {
		m, err := memories.Get(ctx, id)
		require.NoError(t, err)
		return m
	}
	assert.Equal(t, core.MemoryLongTerm, get(popular.ID).Type)
	assert.Nil(t, get(popular.ID).ExpiresAt)
	assert.False(t, get(forgotten.ID).IsActive)
	assert.True(t, get(middling.ID).IsActive)
	assert.Equal(t, core.MemoryShortTerm, get(middling.ID).Type)
	assert.True(t, get(fresh.ID).IsActive)
}

func TestEngine_StartStop(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.engine.Start())
	assert.True(t, env.engine.Stats().Started)
	assert.Equal(t, 3, env.engine.Stats().TotalJobs)
	require.NoError(t, env.engine.Stop())
	assert.False(t, env.engine.Stats().Started)
}
