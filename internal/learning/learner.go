package learning

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/orbitlabs/orbit/internal/core"
	"github.com/orbitlabs/orbit/internal/logging"
	"github.com/orbitlabs/orbit/internal/metrics"
	"github.com/orbitlabs/orbit/internal/storage"
)

// Smoothing weights: new = keep*old + (1-keep)*observed
const (
	smoothKeep    = 0.8
	smoothObserve = 0.2

	minFocusMinutes = 5.0
	maxFocusMinutes = 180.0

	peakHourCount     = 4
	peakDistinctHours = 3
)

// Overcommitment ratchet thresholds
const (
	overcommitRisePending = 10
	overcommitRiseAbandon = 0.3
	overcommitRiseStep    = 0.1
	overcommitFallPending = 5
	overcommitFallAbandon = 0.2
	overcommitFallStep    = 0.05
)

// Learn pass update keys
const (
	UpdateAvgActiveHour          = "avg_active_hour"
	UpdatePeakFocusHours         = "peak_focus_hours"
	UpdateSessionCompletionRate  = "session_completion_rate"
	UpdateSessionAbandonmentRate = "session_abandonment_rate"
	UpdateAvgFocusDuration       = "avg_focus_duration"
	UpdateAverageIntentsPerDay   = "average_intents_per_day"
	UpdateOvercommitmentScore    = "overcommitment_score"
)

// LearnResult reports one learning pass
type LearnResult struct {
	EventsAnalyzed int            `json:"events_analyzed"`
	Updates        map[string]any `json:"updates,omitempty"`
	Message        string         `json:"message,omitempty"`
}

// Learner folds unanalyzed behavioral events into the cognitive profile
type Learner struct {
	db       *storage.DB
	profiles *storage.ProfileStore
	events   *storage.EventStore
	tasks    *storage.TaskStore
	clock    core.Clock
	metrics  *metrics.Exporter
}

// NewLearner creates a profile learner
func NewLearner(db *storage.DB, clock core.Clock) *Learner {
	return &Learner{
		db:       db,
		profiles: storage.NewProfileStore(db),
		events:   storage.NewEventStore(db),
		tasks:    storage.NewTaskStore(db),
		clock:    clock,
	}
}

// SetMetrics attaches a metrics exporter
func (l *Learner) SetMetrics(m *metrics.Exporter) {
	l.metrics = m
}

// Learn analyzes the user's unanalyzed events newer than now-lookback.
// Reading the events, marking them analyzed and saving the profile happen in one
// transaction, so an event contributes at most once even under concurrent passes.
func (l *Learner) Learn(ctx context.Context, userID core.UserID, lookback time.Duration) (*LearnResult, error) {
	if userID == "" {
		return nil, core.Invalid("user_id", "required")
	}
	if lookback <= 0 {
		return nil, core.Invalid("lookback", "must be positive")
	}

	start := time.Now()
	now := l.clock.Now()
	result := &LearnResult{}

	err := l.db.Transaction(ctx, func(tx *storage.Tx) error {
		profiles := l.profiles.WithTx(tx)
		events := l.events.WithTx(tx)

		profile, err := profiles.GetOrCreate(ctx, userID, now)
		if err != nil {
			return err
		}

		batch, err := events.ListUnanalyzed(ctx, userID, now.Add(-lookback))
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			result.Message = "No new events to analyze"
			return nil
		}

		updates := ApplyEvents(profile, batch)

		pending, err := l.tasks.WithTx(tx).CountByStatus(ctx, userID, core.TaskPending)
		if err != nil {
			return err
		}
		ApplyOvercommitment(profile, pending)
		updates[UpdateOvercommitmentScore] = profile.OvercommitmentScore

		ids := make([]string, len(batch))
		for i, e := range batch {
			ids[i] = e.ID
		}
		flipped, err := events.MarkAnalyzed(ctx, ids)
		if err != nil {
			return err
		}
		if flipped != len(ids) {
			return core.NewStorageError("learn", errors.Errorf("%d of %d events were analyzed concurrently", len(ids)-flipped, len(ids)))
		}

		profile.DataPointsCollected += len(batch)
		profile.ProfileConfidence = core.ConfidenceFor(profile.DataPointsCollected)
		profile.LastUpdated = now
		profile.UpdatedAt = now
		if err := profiles.Save(ctx, profile); err != nil {
			return err
		}

		result.EventsAnalyzed = len(batch)
		result.Updates = updates
		return nil
	})

	log := logging.WithField("user_id", userID)
	switch {
	case err != nil:
		l.metrics.RecordLearningPass("error", 0, time.Since(start))
		log.WithError(err).Error("Learning pass failed")
		return nil, err
	case result.EventsAnalyzed == 0:
		l.metrics.RecordLearningPass("noop", 0, time.Since(start))
		log.Debug("Learning pass: no new events")
	default:
		l.metrics.RecordLearningPass("updated", result.EventsAnalyzed, time.Since(start))
		log.Info("Learning pass analyzed %d events", result.EventsAnalyzed)
	}
	return result, nil
}

// ApplyEvents folds a batch of events into the profile and returns what was observed.
// Event order within the batch does not change the result except for peak hour ties,
// which go to the hour seen first.
func ApplyEvents(p *core.CognitiveProfile, events []*core.BehavioralEvent) map[string]any {
	updates := make(map[string]any)

	// Work hours
	var hours []int
	for _, e := range events {
		if e.TimeOfDay != nil {
			hours = append(hours, *e.TimeOfDay)
		}
	}
	if len(hours) > 0 {
		sum := 0
		for _, h := range hours {
			sum += h
		}
		updates[UpdateAvgActiveHour] = float64(sum) / float64(len(hours))

		if peak := PeakHours(hours); peak != nil {
			p.PeakFocusHours = peak
			updates[UpdatePeakFocusHours] = peak
		}
	}

	// Task dynamics
	var starts, completes, abandons int
	for _, e := range events {
		if e.EntityType != core.EntityTask {
			continue
		}
		switch e.Type {
		case core.EventTaskStarted:
			starts++
		case core.EventTaskCompleted:
			completes++
		case core.EventTaskAbandoned:
			abandons++
		}
	}
	if starts > 0 {
		rate := core.Clamp01(float64(completes) / float64(starts))
		p.TaskCompletionRate = core.Clamp01(smoothKeep*p.TaskCompletionRate + smoothObserve*rate)
		updates[UpdateSessionCompletionRate] = rate
	}
	if total := starts + completes + abandons; total > 0 {
		rate := float64(abandons) / float64(total)
		p.TaskAbandonmentRate = core.Clamp01(smoothKeep*p.TaskAbandonmentRate + smoothObserve*rate)
		updates[UpdateSessionAbandonmentRate] = rate
	}

	// Focus sessions
	var focusStarts, focusEnds []*core.BehavioralEvent
	for _, e := range events {
		switch e.Type {
		case core.EventFocusSessionStart:
			focusStarts = append(focusStarts, e)
		case core.EventFocusSessionEnd:
			focusEnds = append(focusEnds, e)
		}
	}
	if durations := PairFocusSessions(focusStarts, focusEnds); len(durations) > 0 {
		var sum float64
		for _, d := range durations {
			sum += d
		}
		avg := sum / float64(len(durations))
		p.AverageFocusDuration = int(math.Round(smoothKeep*float64(p.AverageFocusDuration) + smoothObserve*avg))
		updates[UpdateAvgFocusDuration] = avg
	}

	// Intent cadence
	intents := 0
	days := make(map[string]bool)
	for _, e := range events {
		if e.Type == core.EventIntentExpressed {
			intents++
			days[e.CreatedAt.UTC().Format("2006-01-02")] = true
		}
	}
	if intents > 0 {
		p.AverageIntentsPerDay = float64(intents) / float64(max(1, len(days)))
		updates[UpdateAverageIntentsPerDay] = p.AverageIntentsPerDay
	}

	return updates
}

// PeakHours returns the up to 4 most frequent hours, most frequent first with ties
// going to the hour seen first. It returns nil when fewer than 3 distinct hours occur.
func PeakHours(hours []int) []int {
	counts := make(map[int]int)
	var order []int
	for _, h := range hours {
		if counts[h] == 0 {
			order = append(order, h)
		}
		counts[h]++
	}
	if len(order) < peakDistinctHours {
		return nil
	}

	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	if len(order) > peakHourCount {
		order = order[:peakHourCount]
	}
	return order
}

// PairFocusSessions matches every start with the earliest unmatched later end that
// shares its entity id and returns the durations, in minutes, that fall inside (5,180).
// An end is consumed by its match even when the duration is rejected.
func PairFocusSessions(starts, ends []*core.BehavioralEvent) []float64 {
	if len(starts) == 0 || len(ends) == 0 {
		return nil
	}

	byTime := func(events []*core.BehavioralEvent) []*core.BehavioralEvent {
		sorted := make([]*core.BehavioralEvent, len(events))
		copy(sorted, events)
		sort.SliceStable(sorted, func(i, j int) bool {
			return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
		})
		return sorted
	}
	starts, ends = byTime(starts), byTime(ends)

	used := make([]bool, len(ends))
	var durations []float64
	for _, s := range starts {
		for i, e := range ends {
			if used[i] || e.EntityID != s.EntityID || !e.CreatedAt.After(s.CreatedAt) {
				continue
			}
			used[i] = true
			minutes := e.CreatedAt.Sub(s.CreatedAt).Minutes()
			if minutes > minFocusMinutes && minutes < maxFocusMinutes {
				durations = append(durations, minutes)
			}
			break
		}
	}
	return durations
}

// ApplyOvercommitment moves the overcommitment score one ratchet step given the
// pending task count: up 0.1 when overloaded, down 0.05 when clearly not.
func ApplyOvercommitment(p *core.CognitiveProfile, pending int) {
	switch {
	case pending > overcommitRisePending && p.TaskAbandonmentRate > overcommitRiseAbandon:
		p.OvercommitmentScore = core.Clamp01(p.OvercommitmentScore + overcommitRiseStep)
	case pending < overcommitFallPending && p.TaskAbandonmentRate < overcommitFallAbandon:
		p.OvercommitmentScore = core.Clamp01(p.OvercommitmentScore - overcommitFallStep)
	}
}
