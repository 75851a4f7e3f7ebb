package risk

import (
	"time"

	"github.com/davidahmann/afaap/pkg/types"
)

type ViolationKind string

const (
	ViolationOverdue    ViolationKind = "overdue"
	ViolationLateReview ViolationKind = "late_review"
)

type Violation struct {
	DecisionID string         `json:"decision_id"`
	Tier       types.RiskTier `json:"risk_tier"`
	Deadline   time.Time      `json:"sla_deadline"`
	Kind       ViolationKind  `json:"kind"`
	ReviewedAt *time.Time     `json:"reviewed_at,omitempty"`
	ReviewedBy *string        `json:"reviewed_by,omitempty"`
}

// Violations keeps the input order, so callers pass decisions sorted by deadline.
func Violations(decisions []types.Decision, now time.Time) []Violation {
	out := []Violation{}
	for _, d := range decisions {
		if !d.RiskTier.SLATracked() || d.SLADeadline == nil {
			continue
		}
		v := Violation{DecisionID: d.DecisionID, Tier: d.RiskTier, Deadline: *d.SLADeadline}
		switch {
		case IsOverdue(d, now):
			v.Kind = ViolationOverdue
		case d.SLAMet != nil && !*d.SLAMet:
			v.Kind = ViolationLateReview
			v.ReviewedAt = d.ReviewedAt
			v.ReviewedBy = d.ReviewedBy
		default:
			continue
		}
		out = append(out, v)
	}
	return out
}
