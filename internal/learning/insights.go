package learning

import (
	"fmt"

	"github.com/orbitlabs/orbit/internal/core"
)

// Insight thresholds
const (
	insightMinConfidence  = 0.2
	insightOvercommitment = 0.6
	insightAbandonment    = 0.4
	insightShortFocus     = 20
	insightLongFocus      = 60
	insightConsistency    = 0.7
)

// GenerateInsights derives insights from a profile snapshot in a fixed emission order.
// Profiles below 0.2 confidence yield none.
func GenerateInsights(p *core.CognitiveProfile) []core.Insight {
	insights := []core.Insight{}
	if p == nil || p.ProfileConfidence < insightMinConfidence {
		return insights
	}

	if p.OvercommitmentScore > insightOvercommitment {
		insights = append(insights, core.Insight{
			Type:            core.InsightSuggestion,
			Message:         "You might be taking on more than you can complete. Consider focusing on fewer tasks.",
			Confidence:      p.OvercommitmentScore,
			RelatedMetric:   "overcommitment_score",
			SuggestedAction: "Review pending tasks and defer some",
		})
	}

	if p.TaskAbandonmentRate > insightAbandonment {
		insights = append(insights, core.Insight{
			Type:            core.InsightObservation,
			Message:         "Many tasks are started but not finished. Smaller, more specific tasks might help.",
			Confidence:      0.7,
			RelatedMetric:   "task_abandonment_rate",
			SuggestedAction: "Break tasks into 15-minute chunks",
		})
	}

	if len(p.PeakFocusHours) > 0 {
		insights = append(insights, core.Insight{
			Type:          core.InsightObservation,
			Message:       fmt.Sprintf("You seem most active around %d:00. Consider scheduling important work then.", p.PeakFocusHours[0]),
			Confidence:    p.ProfileConfidence,
			RelatedMetric: "peak_focus_hours",
		})
	}

	switch {
	case p.AverageFocusDuration < insightShortFocus:
		insights = append(insights, core.Insight{
			Type:            core.InsightSuggestion,
			Message:         "Your focus sessions are quite short. Try committing to 25 minutes without interruption.",
			Confidence:      0.6,
			RelatedMetric:   "average_focus_duration",
			SuggestedAction: "Use the Pomodoro technique",
		})
	case p.AverageFocusDuration > insightLongFocus:
		insights = append(insights, core.Insight{
			Type:          core.InsightObservation,
			Message:       "You can focus for long periods. Make sure to take breaks to maintain quality.",
			Confidence:    0.7,
			RelatedMetric: "average_focus_duration",
		})
	}

	if p.ConsistencyScore > insightConsistency {
		insights = append(insights, core.Insight{
			Type:          core.InsightObservation,
			Message:       "You have good follow-through on tasks. Keep it up.",
			Confidence:    p.ConsistencyScore,
			RelatedMetric: "consistency_score",
		})
	}

	return insights
}
