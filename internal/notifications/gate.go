package notifications

import (
	"context"
	"errors"
	"time"

	"github.com/orbitlabs/orbit/internal/core"
)

// GateConfig holds the attention gate limits.
type GateConfig struct {
	HourlyCap int           // sends per counter window before only urgent passes
	MinGap    time.Duration // minimum gap before a low priority send
}

// DefaultGateConfig returns 3 sends per hour and a 30 minute gap.
func DefaultGateConfig() GateConfig {
	return GateConfig{HourlyCap: 3, MinGap: 30 * time.Minute}
}

// Decision is the outcome of a gate check and the rule that produced it.
type Decision struct {
	Allowed bool
	Rule    string
}

// Gate rules, in evaluation order
const (
	RuleNoProfile  = "no_profile"
	RuleFocus      = "focus_mode"
	RuleQuietHours = "quiet_hours"
	RuleRateLimit  = "rate_limit"
	RuleMinGap     = "min_gap"
	RulePreferred  = "preferred_hours"
	RuleAllow      = "allow"
)

// Gate decides whether a user may be interrupted right now.
type Gate struct {
	profiles ProfileSource
	state    State
	clock    core.Clock
	cfg      GateConfig
}

// NewGate creates an attention gate
func NewGate(profiles ProfileSource, state State, clock core.Clock, cfg GateConfig) *Gate {
	if cfg.HourlyCap <= 0 {
		cfg.HourlyCap = DefaultGateConfig().HourlyCap
	}
	return &Gate{profiles: profiles, state: state, clock: clock, cfg: cfg}
}

// ShouldNotify reports whether a notification at the given tier may be sent now.
func (g *Gate) ShouldNotify(ctx context.Context, userID core.UserID, tier core.Priority) (bool, error) {
	d, err := g.Decide(ctx, userID, tier)
	return d.Allowed, err
}

// Decide evaluates the gate rules in order; the first matching rule wins.
func (g *Gate) Decide(ctx context.Context, userID core.UserID, tier core.Priority) (Decision, error) {
	urgent := tier == core.PriorityUrgent
	deny := func(rule string) Decision { return Decision{Allowed: urgent, Rule: rule} }

	profile, err := g.profiles.Get(ctx, userID)
	if errors.Is(err, core.ErrNotFound) {
		return deny(RuleNoProfile), nil
	}
	if err != nil {
		return Decision{}, err
	}
	prefs := profile.Preferences

	inFocus, err := g.state.InFocus(ctx, userID)
	if err != nil {
		return Decision{}, err
	}
	if inFocus {
		return deny(RuleFocus), nil
	}

	now := g.clock.Now()
	if InQuietHours(prefs, now.Hour()) {
		return deny(RuleQuietHours), nil
	}

	count, err := g.state.HourlyCount(ctx, userID)
	if err != nil {
		return Decision{}, err
	}
	if count >= g.cfg.HourlyCap {
		return deny(RuleRateLimit), nil
	}

	if tier == core.PriorityLow {
		last, ok, err := g.state.LastSent(ctx, userID)
		if err != nil {
			return Decision{}, err
		}
		if ok && now.Sub(last) < g.cfg.MinGap {
			return Decision{Rule: RuleMinGap}, nil
		}
		if len(prefs.NotificationTimes) > 0 && !containsHour(prefs.NotificationTimes, now.Hour()) {
			return Decision{Rule: RulePreferred}, nil
		}
	}

	return Decision{Allowed: true, Rule: RuleAllow}, nil
}

// InQuietHours reports whether hour falls in the configured quiet window.
// A window with start > end wraps past midnight; start == end is no window.
func InQuietHours(prefs core.Preferences, hour int) bool {
	if !prefs.HasQuietHours() {
		return false
	}
	start, end := *prefs.QuietHoursStart, *prefs.QuietHoursEnd
	switch {
	case start == end:
		return false
	case start > end:
		return hour >= start || hour < end
	default:
		return hour >= start && hour < end
	}
}

func containsHour(hours []int, h int) bool {
	for _, v := range hours {
		if v == h {
			return true
		}
	}
	return false
}
