package policy

import (
	"errors"
	"fmt"
)

var ErrInvalidPolicy = errors.New("invalid governance policy")

func (p Policy) Validate() error {
	var problems []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			problems = append(problems, fmt.Errorf(format, args...))
		}
	}

	d, r := p.Deployment, p.Risk
	check(d.MinF1Score > 0 && d.MinF1Score <= 1, "min_f1_score %v must be in (0,1]", d.MinF1Score)
	check(d.MaxFPR >= 0 && d.MaxFPR <= 1, "max_fpr %v must be in [0,1]", d.MaxFPR)
	check(r.HighRiskConfidenceThreshold >= 0 && r.HighRiskConfidenceThreshold <= 1,
		"high_risk_confidence_threshold %v must be in [0,1]", r.HighRiskConfidenceThreshold)
	check(r.MediumRiskConfidenceThreshold >= 0 && r.MediumRiskConfidenceThreshold <= 1,
		"medium_risk_confidence_threshold %v must be in [0,1]", r.MediumRiskConfidenceThreshold)
	check(r.MediumRiskConfidenceThreshold < r.HighRiskConfidenceThreshold,
		"medium_risk_confidence_threshold %v must be below high_risk_confidence_threshold %v",
		r.MediumRiskConfidenceThreshold, r.HighRiskConfidenceThreshold)
	check(r.HighRiskSLAHours > 0, "high_risk_sla_hours %v must be positive", r.HighRiskSLAHours)
	check(r.MediumRiskSLAHours > 0, "medium_risk_sla_hours %v must be positive", r.MediumRiskSLAHours)

	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidPolicy, errors.Join(problems...))
}
