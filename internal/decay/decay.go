// Package decay lowers the priority of intents that sit unprocessed.
package decay

import (
	"context"
	"math"
	"time"

	"github.com/orbitlabs/orbit/internal/core"
	"github.com/orbitlabs/orbit/internal/logging"
	"github.com/orbitlabs/orbit/internal/metrics"
	"github.com/orbitlabs/orbit/internal/storage"
)

// MinAge is how old an intent must be before it starts decaying
const MinAge = time.Hour

// Result reports one decay run
type Result struct {
	Scanned int `json:"scanned"`
	Lowered int `json:"lowered"`
}

// Process applies linear priority decay to unprocessed intents
type Process struct {
	intents *storage.IntentStore
	clock   core.Clock
	metrics *metrics.Exporter
}

// NewProcess creates a decay process
func NewProcess(db *storage.DB, clock core.Clock) *Process {
	return &Process{
		intents: storage.NewIntentStore(db),
		clock:   clock,
	}
}

// SetMetrics attaches a metrics exporter
func (p *Process) SetMetrics(m *metrics.Exporter) {
	p.metrics = m
}

// Compute returns the decayed priority after elapsed time. It never goes below
// core.MinIntentPriority and never rises with more elapsed time.
func Compute(initial, rate float64, elapsed time.Duration) float64 {
	if elapsed < 0 {
		elapsed = 0
	}
	return math.Max(core.MinIntentPriority, initial-rate*elapsed.Hours())
}

// Run decays every unprocessed intent older than MinAge. A write happens only when
// it lowers the stored priority, so repeated runs are idempotent.
func (p *Process) Run(ctx context.Context) (Result, error) {
	now := p.clock.Now()
	intents, err := p.intents.ListDecayable(ctx, now.Add(-MinAge))
	if err != nil {
		return Result{}, err
	}

	result := Result{Scanned: len(intents)}
	for _, in := range intents {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		next := Compute(in.InitialPriority, in.DecayRate, now.Sub(in.CreatedAt))
		if next >= in.CurrentPriority {
			continue
		}
		lowered, err := p.intents.UpdatePriority(ctx, in.ID, next)
		if err != nil {
			return result, err
		}
		if lowered {
			result.Lowered++
		}
	}

	p.metrics.RecordIntentsDecayed(result.Lowered)
	if result.Lowered > 0 {
		logging.Info("Intent decay lowered %d of %d intents", result.Lowered, result.Scanned)
	}
	return result, nil
}
