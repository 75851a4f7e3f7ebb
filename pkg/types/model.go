package types

import "time"

type DeploymentState string

const (
	DeploymentCandidate DeploymentState = "Candidate"
	DeploymentAdmitted  DeploymentState = "Admitted"
	DeploymentBlocked   DeploymentState = "Blocked"
)

// Model carries the upstream metrics a candidate is gated on.
// The metrics are opaque here; they are produced by bootstrap resampling elsewhere.
type Model struct {
	ModelID         string          `json:"model_id" yaml:"model_id"`
	F1              float64         `json:"f1" yaml:"f1"`
	F1CILower       float64         `json:"f1_ci_lower" yaml:"f1_ci_lower"`
	F1CIUpper       float64         `json:"f1_ci_upper" yaml:"f1_ci_upper"`
	FPR             float64         `json:"fpr" yaml:"fpr"`
	FPRCIUpper      float64         `json:"fpr_ci_upper" yaml:"fpr_ci_upper"`
	Approved        bool            `json:"approved" yaml:"approved"`
	DeploymentState DeploymentState `json:"deployment_state" yaml:"deployment_state"`
	CreatedAt       time.Time       `json:"created_at" yaml:"-"`
}

type Transaction struct {
	TransactionID string    `json:"transaction_id"`
	AmountCents   int64     `json:"amount_cents"`
	Currency      string    `json:"currency"`
	CreatedAt     time.Time `json:"created_at"`
}
