package types

import "time"

type RiskTier string

const (
	RiskUnclassified RiskTier = "Unclassified"
	RiskHigh         RiskTier = "High"
	RiskMedium       RiskTier = "Medium"
	RiskLow          RiskTier = "Low"
)

// SLATracked reports whether decisions in this tier carry a review deadline.
func (t RiskTier) SLATracked() bool {
	return t == RiskHigh || t == RiskMedium
}

type ReviewOutcome string

const (
	ReviewApprove       ReviewOutcome = "approve_transaction"
	ReviewBlock         ReviewOutcome = "block_transaction"
	ReviewEscalate      ReviewOutcome = "escalate"
	ReviewFalsePositive ReviewOutcome = "false_positive"
)

func (o ReviewOutcome) Valid() bool {
	switch o {
	case ReviewApprove, ReviewBlock, ReviewEscalate, ReviewFalsePositive:
		return true
	default:
		return false
	}
}

// Decision is one model prediction on one transaction plus the governance
// fields written by the core.
type Decision struct {
	DecisionID     string         `json:"decision_id"`
	ModelID        string         `json:"model_id"`
	TransactionID  string         `json:"transaction_id"`
	PredictedFraud bool           `json:"predicted_fraud"`
	Confidence     float64        `json:"confidence"`
	CreatedAt      time.Time      `json:"created_at"`
	RiskTier       RiskTier       `json:"risk_tier"`
	SLADeadline    *time.Time     `json:"sla_deadline,omitempty"`
	Held           bool           `json:"held"`
	ReviewedBy     *string        `json:"reviewed_by,omitempty"`
	ReviewDecision *ReviewOutcome `json:"review_decision,omitempty"`
	ReviewedAt     *time.Time     `json:"reviewed_at,omitempty"`
	EscalatedTo    *string        `json:"escalated_to,omitempty"`
	SLAMet         *bool          `json:"sla_met,omitempty"`
}

// Classification is the atomic result of risk stratification.
type Classification struct {
	Tier        RiskTier   `json:"risk_tier"`
	SLADeadline *time.Time `json:"sla_deadline,omitempty"`
	Held        bool       `json:"held"`
}

// Review is the write-once review completion for a decision.
type Review struct {
	DecisionID  string
	ReviewedBy  string
	Outcome     ReviewOutcome
	ReviewedAt  time.Time
	EscalatedTo *string
	SLAMet      *bool
}
