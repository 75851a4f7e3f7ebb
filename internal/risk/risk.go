// Package risk stratifies decisions by model confidence and tracks their
// review deadlines. Everything here is pure; persistence and ledger writes
// belong to the caller.
package risk

import (
	"time"

	"github.com/davidahmann/afaap/internal/policy"
	"github.com/davidahmann/afaap/pkg/types"
)

// Classify assigns the tier, deadline and hold flag for a new decision.
// The high threshold is exclusive and the medium threshold inclusive.
func Classify(confidence float64, createdAt time.Time, thresholds policy.Risk) types.Classification {
	switch {
	case confidence > thresholds.HighRiskConfidenceThreshold:
		deadline := createdAt.Add(hours(thresholds.HighRiskSLAHours))
		return types.Classification{Tier: types.RiskHigh, SLADeadline: &deadline, Held: true}
	case confidence >= thresholds.MediumRiskConfidenceThreshold:
		deadline := createdAt.Add(hours(thresholds.MediumRiskSLAHours))
		return types.Classification{Tier: types.RiskMedium, SLADeadline: &deadline}
	default:
		return types.Classification{Tier: types.RiskLow}
	}
}

// SLAMet is nil when there is no deadline to meet.
func SLAMet(deadline *time.Time, reviewedAt time.Time) *bool {
	if deadline == nil {
		return nil
	}
	met := !reviewedAt.After(*deadline)
	return &met
}

// IsOverdue reports a tracked decision still waiting for review past its deadline.
func IsOverdue(d types.Decision, now time.Time) bool {
	return d.RiskTier.SLATracked() &&
		d.ReviewedBy == nil &&
		d.SLADeadline != nil &&
		now.After(*d.SLADeadline)
}

func hours(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}
