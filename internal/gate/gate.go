// Package gate decides whether a candidate model may serve decisions.
package gate

import (
	"fmt"

	"github.com/davidahmann/afaap/internal/crypto"
	"github.com/davidahmann/afaap/internal/policy"
	"github.com/davidahmann/afaap/pkg/types"
)

const CriterionNotApproved = "model not approved"

type Result struct {
	ModelID         string   `json:"model_id"`
	Admitted        bool     `json:"admitted"`
	FailingCriteria []string `json:"failing_criteria"`
	PolicyHash      string   `json:"policy_hash,omitempty"`
}

// State maps the verdict onto the model's deployment state.
func (r Result) State() types.DeploymentState {
	if r.Admitted {
		return types.DeploymentAdmitted
	}
	return types.DeploymentBlocked
}

// Evaluate runs every rule and collects all failures. The criteria order is
// fixed so repeated runs on the same inputs yield identical output:
// F1, F1 CI lower, FPR, FPR CI upper (opt-in), approval.
//
// The F1 interval is checked right after F1, as in the documented verdict
// example ("F1 0.82 < 0.85", "F1 CI lower 0.79 < 0.85", "FPR 0.015 > 0.01"),
// not after FPR as in the older metrics check. Verdict values are hashed
// into the ledger, so this order must not change.
func Evaluate(model types.Model, loaded policy.LoadedPolicy) Result {
	d := loaded.Policy.Deployment
	failing := []string{}

	if model.F1 < d.MinF1Score {
		failing = append(failing, fmt.Sprintf("F1 %s < %s", num(model.F1), num(d.MinF1Score)))
	}
	if model.F1CILower < d.MinF1Score {
		failing = append(failing, fmt.Sprintf("F1 CI lower %s < %s", num(model.F1CILower), num(d.MinF1Score)))
	}
	if model.FPR > d.MaxFPR {
		failing = append(failing, fmt.Sprintf("FPR %s > %s", num(model.FPR), num(d.MaxFPR)))
	}
	if d.EnforceFPRCIUpper && model.FPRCIUpper > d.MaxFPR {
		failing = append(failing, fmt.Sprintf("FPR CI upper %s > %s", num(model.FPRCIUpper), num(d.MaxFPR)))
	}
	if d.ApprovalRequired() && !model.Approved {
		failing = append(failing, CriterionNotApproved)
	}

	return Result{
		ModelID:         model.ModelID,
		Admitted:        len(failing) == 0,
		FailingCriteria: failing,
		PolicyHash:      loaded.Hash,
	}
}

// VerdictValue is the canonical JSON stored as the Verdict entry's new_value.
// Metrics are rendered as decimal strings so the record never depends on
// float formatting.
func VerdictValue(model types.Model, result Result) (string, error) {
	criteria := make([]any, len(result.FailingCriteria))
	for i, c := range result.FailingCriteria {
		criteria[i] = c
	}
	payload := map[string]any{
		"admitted":         result.Admitted,
		"failing_criteria": criteria,
		"policy_hash":      result.PolicyHash,
		"metrics": map[string]any{
			"f1":           num(model.F1),
			"f1_ci_lower":  num(model.F1CILower),
			"f1_ci_upper":  num(model.F1CIUpper),
			"fpr":          num(model.FPR),
			"fpr_ci_upper": num(model.FPRCIUpper),
			"approved":     model.Approved,
		},
	}
	b, err := crypto.Canonicalize(payload)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func num(f float64) string {
	return crypto.FormatFloat(f)
}
