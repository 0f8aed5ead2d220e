package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/orbitlabs/orbit/internal/core"
)

// ProfileStore handles cognitive profile persistence
type ProfileStore struct {
	r runner
}

// NewProfileStore creates a new profile store
func NewProfileStore(db *DB) *ProfileStore {
	return &ProfileStore{r: db.runner()}
}

// WithTx returns a store bound to tx
func (s *ProfileStore) WithTx(tx *Tx) *ProfileStore {
	return &ProfileStore{r: tx.runner()}
}

const profileColumns = `
	id, user_id, preferred_work_hours_start, preferred_work_hours_end, peak_focus_hours,
	average_focus_duration, optimal_focus_duration, focus_decay_rate,
	task_completion_rate, task_abandonment_rate, overcommitment_score, consistency_score,
	average_intents_per_day, intent_clarity_score, intent_to_action_rate,
	profile_confidence, data_points_collected, last_updated, preferences,
	created_at, updated_at`

// Get returns the profile for a user, or ErrProfileNotFound
func (s *ProfileStore) Get(ctx context.Context, userID core.UserID) (*core.CognitiveProfile, error) {
	row := s.r.queryRow(ctx, `SELECT `+profileColumns+` FROM cognitive_profiles WHERE user_id = ?`+s.r.lockClause(), userID)
	p, err := scanProfile(row)
	if err == sql.ErrNoRows {
		return nil, core.ErrProfileNotFound
	}
	if err != nil {
		return nil, wrap("get profile", err)
	}
	return p, nil
}

// GetOrCreate returns the user's profile, creating one with default scores if absent.
// Inside a transaction on postgres the row stays locked until commit.
func (s *ProfileStore) GetOrCreate(ctx context.Context, userID core.UserID, now time.Time) (*core.CognitiveProfile, error) {
	if err := s.createIfMissing(ctx, core.NewCognitiveProfile(userID, now)); err != nil {
		return nil, err
	}
	return s.Get(ctx, userID)
}

// Create inserts a new profile. An existing profile for the user is left untouched.
func (s *ProfileStore) Create(ctx context.Context, p *core.CognitiveProfile) error {
	return s.createIfMissing(ctx, p)
}

func (s *ProfileStore) createIfMissing(ctx context.Context, p *core.CognitiveProfile) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}

	peak, prefs, err := encodeProfileJSON(p)
	if err != nil {
		return err
	}

	_, err = s.r.exec(ctx, `
		INSERT INTO cognitive_profiles (`+profileColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO NOTHING
	`,
		p.ID, p.UserID, p.PreferredWorkHoursStart, p.PreferredWorkHoursEnd, peak,
		p.AverageFocusDuration, p.OptimalFocusDuration, p.FocusDecayRate,
		p.TaskCompletionRate, p.TaskAbandonmentRate, p.OvercommitmentScore, p.ConsistencyScore,
		p.AverageIntentsPerDay, p.IntentClarityScore, p.IntentToActionRate,
		p.ProfileConfidence, p.DataPointsCollected, toMillis(p.LastUpdated), prefs,
		toMillis(p.CreatedAt), toMillis(p.UpdatedAt),
	)
	return wrap("create profile", err)
}

// Save writes every mutable field of the profile
func (s *ProfileStore) Save(ctx context.Context, p *core.CognitiveProfile) error {
	peak, prefs, err := encodeProfileJSON(p)
	if err != nil {
		return err
	}

	res, err := s.r.exec(ctx, `
		UPDATE cognitive_profiles SET
			preferred_work_hours_start = ?, preferred_work_hours_end = ?, peak_focus_hours = ?,
			average_focus_duration = ?, optimal_focus_duration = ?, focus_decay_rate = ?,
			task_completion_rate = ?, task_abandonment_rate = ?, overcommitment_score = ?, consistency_score = ?,
			average_intents_per_day = ?, intent_clarity_score = ?, intent_to_action_rate = ?,
			profile_confidence = ?, data_points_collected = ?, last_updated = ?, preferences = ?,
			updated_at = ?
		WHERE user_id = ?
	`,
		p.PreferredWorkHoursStart, p.PreferredWorkHoursEnd, peak,
		p.AverageFocusDuration, p.OptimalFocusDuration, p.FocusDecayRate,
		p.TaskCompletionRate, p.TaskAbandonmentRate, p.OvercommitmentScore, p.ConsistencyScore,
		p.AverageIntentsPerDay, p.IntentClarityScore, p.IntentToActionRate,
		p.ProfileConfidence, p.DataPointsCollected, toMillis(p.LastUpdated), prefs,
		toMillis(p.UpdatedAt),
		p.UserID,
	)
	if err != nil {
		return wrap("save profile", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrProfileNotFound
	}
	return nil
}

// GetPreferences returns the user's notification preferences
func (s *ProfileStore) GetPreferences(ctx context.Context, userID core.UserID) (core.Preferences, error) {
	p, err := s.Get(ctx, userID)
	if err != nil {
		return core.Preferences{}, err
	}
	return p.Preferences, nil
}

// UpdatePreferences replaces the preferences column only
func (s *ProfileStore) UpdatePreferences(ctx context.Context, userID core.UserID, prefs core.Preferences, now time.Time) error {
	data, err := json.Marshal(prefs)
	if err != nil {
		return wrap("encode preferences", err)
	}

	res, err := s.r.exec(ctx, `
		UPDATE cognitive_profiles SET preferences = ?, updated_at = ? WHERE user_id = ?
	`, string(data), toMillis(now), userID)
	if err != nil {
		return wrap("update preferences", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrProfileNotFound
	}
	return nil
}

func encodeProfileJSON(p *core.CognitiveProfile) (string, string, error) {
	peakHours := p.PeakFocusHours
	if peakHours == nil {
		peakHours = []int{}
	}
	peak, err := json.Marshal(peakHours)
	if err != nil {
		return "", "", wrap("encode peak hours", err)
	}
	prefs, err := json.Marshal(p.Preferences)
	if err != nil {
		return "", "", wrap("encode preferences", err)
	}
	return string(peak), string(prefs), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (*core.CognitiveProfile, error) {
	p := &core.CognitiveProfile{}
	var peak, prefs string
	var lastUpdated, createdAt, updatedAt int64

	err := row.Scan(
		&p.ID, &p.UserID, &p.PreferredWorkHoursStart, &p.PreferredWorkHoursEnd, &peak,
		&p.AverageFocusDuration, &p.OptimalFocusDuration, &p.FocusDecayRate,
		&p.TaskCompletionRate, &p.TaskAbandonmentRate, &p.OvercommitmentScore, &p.ConsistencyScore,
		&p.AverageIntentsPerDay, &p.IntentClarityScore, &p.IntentToActionRate,
		&p.ProfileConfidence, &p.DataPointsCollected, &lastUpdated, &prefs,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(peak), &p.PeakFocusHours); err != nil {
		return nil, errors.Wrap(err, "decode peak hours")
	}
	// Absent keys keep their defaults
	p.Preferences = core.DefaultPreferences()
	if prefs != "" {
		if err := json.Unmarshal([]byte(prefs), &p.Preferences); err != nil {
			return nil, errors.Wrap(err, "decode preferences")
		}
	}

	p.LastUpdated = fromMillis(lastUpdated)
	p.CreatedAt = fromMillis(createdAt)
	p.UpdatedAt = fromMillis(updatedAt)
	return p, nil
}
