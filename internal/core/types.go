// Package core defines the fundamental types for ORBIT.
// The behavioral engine, the attention gate and the storage layer all speak these types.
package core

import (
	"time"
)

// -----------------------------------------------------------------------------
// USER
// -----------------------------------------------------------------------------

// UserID is a type-safe identifier for users
type UserID string

// User is the person whose behavior the engine learns from.
type User struct {
	ID           UserID     `json:"id"`
	Name         string     `json:"name"`
	Email        string     `json:"email,omitempty"`
	Timezone     string     `json:"timezone"`
	IsActive     bool       `json:"is_active"`
	CreatedAt    time.Time  `json:"created_at"`
	LastActiveAt *time.Time `json:"last_active_at,omitempty"`
}

// -----------------------------------------------------------------------------
// COGNITIVE PROFILE - slowly evolving per-user behavioral scores
// -----------------------------------------------------------------------------

// CognitiveProfile holds the running scores learned from behavioral events.
// Every bounded score stays inside its range after every update.
type CognitiveProfile struct {
	ID     string `json:"id"`
	UserID UserID `json:"user_id"`

	// Work patterns
	PreferredWorkHoursStart int   `json:"preferred_work_hours_start"`
	PreferredWorkHoursEnd   int   `json:"preferred_work_hours_end"`
	PeakFocusHours          []int `json:"peak_focus_hours"` // at most 4, most frequent first

	// Focus
	AverageFocusDuration int     `json:"average_focus_duration"` // minutes, smoothed
	OptimalFocusDuration int     `json:"optimal_focus_duration"` // minutes
	FocusDecayRate       float64 `json:"focus_decay_rate"`

	// Behavioral scores, all 0-1
	TaskCompletionRate  float64 `json:"task_completion_rate"`
	TaskAbandonmentRate float64 `json:"task_abandonment_rate"`
	OvercommitmentScore float64 `json:"overcommitment_score"`
	ConsistencyScore    float64 `json:"consistency_score"`

	// Intents
	AverageIntentsPerDay float64 `json:"average_intents_per_day"`
	IntentClarityScore   float64 `json:"intent_clarity_score"`
	IntentToActionRate   float64 `json:"intent_to_action_rate"`

	// Meta
	ProfileConfidence   float64   `json:"profile_confidence"`
	DataPointsCollected int       `json:"data_points_collected"`
	LastUpdated         time.Time `json:"last_updated"`

	Preferences Preferences `json:"preferences"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewCognitiveProfile returns a profile with the starting values every new user gets.
func NewCognitiveProfile(userID UserID, now time.Time) *CognitiveProfile {
	return &CognitiveProfile{
		UserID:                  userID,
		PreferredWorkHoursStart: 9,
		PreferredWorkHoursEnd:   17,
		PeakFocusHours:          []int{10, 11, 14, 15},
		AverageFocusDuration:    25,
		OptimalFocusDuration:    45,
		FocusDecayRate:          0.1,
		ConsistencyScore:        0.5,
		AverageIntentsPerDay:    5.0,
		IntentClarityScore:      0.5,
		IntentToActionRate:      0.5,
		LastUpdated:             now,
		Preferences:             DefaultPreferences(),
		CreatedAt:               now,
		UpdatedAt:               now,
	}
}

// ConfidenceFor maps a data point count to profile confidence.
func ConfidenceFor(dataPoints int) float64 {
	return Clamp01(float64(dataPoints) / 100)
}

// Preferences are the user-controlled notification settings stored on the profile.
type Preferences struct {
	QuietHoursStart       *int  `json:"quiet_hours_start,omitempty"`
	QuietHoursEnd         *int  `json:"quiet_hours_end,omitempty"`
	NotificationTimes     []int `json:"notification_times,omitempty"` // preferred hours for low priority
	AllowInsights         bool  `json:"allow_insights"`
	AllowReminders        bool  `json:"allow_reminders"`
	AllowCelebrations     bool  `json:"allow_celebrations"`
	UrgentOnlyDuringFocus bool  `json:"urgent_only_during_focus"`
}

// DefaultPreferences allows every category and sets no quiet window.
func DefaultPreferences() Preferences {
	return Preferences{
		AllowInsights:         true,
		AllowReminders:        true,
		AllowCelebrations:     true,
		UrgentOnlyDuringFocus: true,
	}
}

// HasQuietHours reports whether both quiet hour bounds are configured.
func (p Preferences) HasQuietHours() bool {
	return p.QuietHoursStart != nil && p.QuietHoursEnd != nil
}

// -----------------------------------------------------------------------------
// BEHAVIORAL EVENT - append-only learning input
// -----------------------------------------------------------------------------

// EventType enumerates the behavioral events the engine understands
type EventType string

const (
	EventTaskStarted       EventType = "task_started"
	EventTaskCompleted     EventType = "task_completed"
	EventTaskAbandoned     EventType = "task_abandoned"
	EventFocusSessionStart EventType = "focus_session_start"
	EventFocusSessionEnd   EventType = "focus_session_end"
	EventIntentExpressed   EventType = "intent_expressed"
	EventGoalSet           EventType = "goal_set"
	EventOverwhelmDetected EventType = "overwhelm_detected"
	EventPatternRecognized EventType = "pattern_recognized"
)

// Valid reports whether t is a known event type
func (t EventType) Valid() bool {
	switch t {
	case EventTaskStarted, EventTaskCompleted, EventTaskAbandoned,
		EventFocusSessionStart, EventFocusSessionEnd, EventIntentExpressed,
		EventGoalSet, EventOverwhelmDetected, EventPatternRecognized:
		return true
	}
	return false
}

// Entity types referenced by events
const (
	EntityTask   = "task"
	EntityIntent = "intent"
	EntityGoal   = "goal"
)

// BehavioralEvent is an immutable record of a user action.
// Only IsAnalyzed and ContributedToProfile ever change, and only once.
type BehavioralEvent struct {
	ID                   string         `json:"id"`
	UserID               UserID         `json:"user_id"`
	Type                 EventType      `json:"event_type"`
	EntityType           string         `json:"entity_type,omitempty"`
	EntityID             string         `json:"entity_id,omitempty"`
	Data                 map[string]any `json:"event_data,omitempty"`
	TimeOfDay            *int           `json:"time_of_day,omitempty"` // 0-23
	DayOfWeek            *int           `json:"day_of_week,omitempty"` // 0-6, Monday=0
	IsAnalyzed           bool           `json:"is_analyzed"`
	ContributedToProfile bool           `json:"contributed_to_profile"`
	CreatedAt            time.Time      `json:"created_at"`
}

// -----------------------------------------------------------------------------
// TASK / INTENT / MEMORY - collaborator entities the engine reads
// -----------------------------------------------------------------------------

// TaskStatus is the lifecycle state of a task
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskAbandoned  TaskStatus = "abandoned"
	TaskDeferred   TaskStatus = "deferred"
)

// Task is a unit of work owned by a user
type Task struct {
	ID                string     `json:"id"`
	UserID            UserID     `json:"user_id"`
	IntentID          string     `json:"intent_id,omitempty"`
	Title             string     `json:"title"`
	Description       string     `json:"description,omitempty"`
	Status            TaskStatus `json:"status"`
	Priority          float64    `json:"priority"`
	EstimatedMinutes  *int       `json:"estimated_minutes,omitempty"`
	AbandonmentReason string     `json:"abandonment_reason,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}

// Intent is an expressed want whose priority decays until it is processed.
// CurrentPriority never drops below MinIntentPriority.
type Intent struct {
	ID              string     `json:"id"`
	UserID          UserID     `json:"user_id"`
	RawInput        string     `json:"raw_input"`
	InitialPriority float64    `json:"initial_priority"`
	CurrentPriority float64    `json:"current_priority"`
	DecayRate       float64    `json:"decay_rate"` // per hour
	IsProcessed     bool       `json:"is_processed"`
	CreatedAt       time.Time  `json:"created_at"`
	ProcessedAt     *time.Time `json:"processed_at,omitempty"`
}

// MinIntentPriority is the floor for decayed intent priority
const MinIntentPriority = 0.1

// MemoryType classifies stored memories
type MemoryType string

const (
	MemoryShortTerm MemoryType = "short_term"
	MemoryLongTerm  MemoryType = "long_term"
	MemoryIdentity  MemoryType = "identity"
	MemoryEpisodic  MemoryType = "episodic"
	MemorySemantic  MemoryType = "semantic"
)

// Memory is a remembered fact about the user
type Memory struct {
	ID              string     `json:"id"`
	UserID          UserID     `json:"user_id"`
	Content         string     `json:"content"`
	Type            MemoryType `json:"memory_type"`
	ImportanceScore float64    `json:"importance_score"`
	RetrievalCount  int        `json:"retrieval_count"`
	IsActive        bool       `json:"is_active"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// -----------------------------------------------------------------------------
// NOTIFICATIONS
// -----------------------------------------------------------------------------

// PendingNotification is a suppressed notification waiting in the per-user queue.
type PendingNotification struct {
	ID       string         `json:"id"`
	UserID   UserID         `json:"user_id"`
	Title    string         `json:"title"`
	Message  string         `json:"message"`
	Type     string         `json:"type"`
	Priority Priority       `json:"priority"`
	Data     map[string]any `json:"data,omitempty"`
	QueuedAt time.Time      `json:"queued_at"`
}

// Notification is what gets published on the user's realtime topic.
type Notification struct {
	ID        string         `json:"id"`
	UserID    UserID         `json:"user_id"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Type      string         `json:"type"`
	Priority  Priority       `json:"priority"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
	Read      bool           `json:"read"`
}

// -----------------------------------------------------------------------------
// INSIGHTS
// -----------------------------------------------------------------------------

// InsightType is the register of an insight
type InsightType string

const (
	InsightSuggestion  InsightType = "suggestion"
	InsightObservation InsightType = "observation"
	InsightWarning     InsightType = "warning"
)

// Insight is a human-readable observation derived from a profile snapshot
type Insight struct {
	Type            InsightType `json:"type"`
	Message         string      `json:"message"`
	Confidence      float64     `json:"confidence"`
	RelatedMetric   string      `json:"related_metric"`
	SuggestedAction string      `json:"suggested_action,omitempty"`
}

// -----------------------------------------------------------------------------
// helpers
// -----------------------------------------------------------------------------

// Clamp01 bounds v to [0,1]
func Clamp01(v float64) float64 {
	return Clamp(v, 0, 1)
}

// Clamp bounds v to [lo,hi]
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// IntPtr returns a pointer to v
func IntPtr(v int) *int { return &v }

// WeekdayIndex maps a time to 0-6 with Monday=0
func WeekdayIndex(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// AttentionWindows are the retention periods of the attention gate state.
type AttentionWindows struct {
	Counter  time.Duration // hourly send counter, fixed window from the first send
	LastSent time.Duration // how long the last-sent timestamp is remembered
	Queue    time.Duration // how long a suppressed notification waits
}

// DefaultAttentionWindows returns one hour for the counter and 24h for the rest.
func DefaultAttentionWindows() AttentionWindows {
	return AttentionWindows{
		Counter:  time.Hour,
		LastSent: 24 * time.Hour,
		Queue:    24 * time.Hour,
	}
}
