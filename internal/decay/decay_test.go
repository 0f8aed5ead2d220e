package decay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbitlabs/orbit/internal/core"
	"github.com/orbitlabs/orbit/internal/storage"
)

var testNow = time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)

func TestCompute(t *testing.T) {
	tests := []struct {
		name    string
		initial float64
		rate    float64
		elapsed time.Duration
		want    float64
	}{
		{"fresh", 1.0, 0.1, 0, 1.0},
		{"three hours", 1.0, 0.1, 3 * time.Hour, 0.7},
		{"partial hour", 1.0, 0.1, 90 * time.Minute, 0.85},
		{"floored", 1.0, 0.1, 48 * time.Hour, core.MinIntentPriority},
		{"multi day uses total hours", 5.0, 0.1, 26 * time.Hour, 2.4},
		{"zero rate", 0.8, 0, 100 * time.Hour, 0.8},
		{"negative elapsed", 1.0, 0.1, -time.Hour, 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Compute(tt.initial, tt.rate, tt.elapsed), 1e-9)
		})
	}
}

func TestCompute_Monotonic(t *testing.T) {
	prev := Compute(1.0, 0.25, 0)
	for h := 1; h <= 10; h++ {
		next := Compute(1.0, 0.25, time.Duration(h)*time.Hour)
		assert.LessOrEqual(t, next, prev)
		prev = next
	}
}

type fixture struct {
	process *Process
	intents *storage.IntentStore
	clock   *core.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := storage.Open(storage.Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())

	clock := core.NewFakeClock(testNow)
	return &fixture{
		process: NewProcess(db, clock),
		intents: storage.NewIntentStore(db),
		clock:   clock,
	}
}

func (f *fixture) intent(t *testing.T, current float64) *core.Intent {
	t.Helper()
	in := &core.Intent{
		UserID:          "u1",
		RawInput:        "plan trip",
		InitialPriority: 1.0,
		CurrentPriority: current,
		DecayRate:       0.1,
		CreatedAt:       f.clock.Now(),
	}
	require.NoError(t, f.intents.Create(context.Background(), in))
	return in
}

func (f *fixture) priority(t *testing.T, id string) float64 {
	t.Helper()
	in, err := f.intents.Get(context.Background(), id)
	require.NoError(t, err)
	return in.CurrentPriority
}

func TestProcess_Run(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := f.intent(t, 1.0)

	t.Run("young intents are skipped", func(t *testing.T) {
		f.clock.Advance(30 * time.Minute)
		res, err := f.process.Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, Result{}, res)
	})

	t.Run("decays by elapsed hours", func(t *testing.T) {
		f.clock.Set(testNow.Add(3 * time.Hour))
		res, err := f.process.Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, Result{Scanned: 1, Lowered: 1}, res)
		assert.InDelta(t, 0.7, f.priority(t, in.ID), 1e-9)
	})

	t.Run("rerun at the same time writes nothing", func(t *testing.T) {
		res, err := f.process.Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, Result{Scanned: 1, Lowered: 0}, res)
		assert.InDelta(t, 0.7, f.priority(t, in.ID), 1e-9)
	})

	t.Run("floors at the minimum", func(t *testing.T) {
		f.clock.Set(testNow.Add(72 * time.Hour))
		_, err := f.process.Run(ctx)
		require.NoError(t, err)
		assert.InDelta(t, core.MinIntentPriority, f.priority(t, in.ID), 1e-9)
	})
}

func TestProcess_Run_NeverRaises(t *testing.T) {
	f := newFixture(t)
	in := f.intent(t, 0.2)

	f.clock.Advance(2 * time.Hour)
	res, err := f.process.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Lowered)
	assert.InDelta(t, 0.2, f.priority(t, in.ID), 1e-9)
}

func TestProcess_Run_SkipsProcessed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := f.intent(t, 1.0)
	require.NoError(t, f.intents.MarkProcessed(ctx, in.ID, testNow))

	f.clock.Advance(5 * time.Hour)
	res, err := f.process.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Scanned)
	assert.InDelta(t, 1.0, f.priority(t, in.ID), 1e-9)
}
