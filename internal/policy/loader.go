package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/davidahmann/afaap/internal/crypto"
)

type LoadedPolicy struct {
	Policy Policy
	Hash   string
	Bytes  []byte
}

// Overrides replace individual deployment thresholds after the file is read.
type Overrides struct {
	MinF1Score *float64
	MaxFPR     *float64
}

// LoadPolicy reads a YAML policy, fills defaults and validates it. An empty
// path yields the default policy.
func LoadPolicy(path string, overrides Overrides) (LoadedPolicy, error) {
	var data []byte
	var p Policy
	if path != "" {
		// #nosec G304 -- path comes from operator-configured policy path.
		raw, err := os.ReadFile(path)
		if err != nil {
			return LoadedPolicy{}, err
		}
		if err := yaml.Unmarshal(raw, &p); err != nil {
			return LoadedPolicy{}, fmt.Errorf("parse policy %s: %w", path, err)
		}
		data = raw
	}
	return Build(p, data, overrides)
}

// Build finalizes p: defaults, overrides, validation, hash.
func Build(p Policy, data []byte, overrides Overrides) (LoadedPolicy, error) {
	p.applyDefaults()
	if overrides.MinF1Score != nil {
		p.Deployment.MinF1Score = *overrides.MinF1Score
	}
	if overrides.MaxFPR != nil {
		p.Deployment.MaxFPR = *overrides.MaxFPR
	}
	if err := p.Validate(); err != nil {
		return LoadedPolicy{}, err
	}
	hash, err := Hash(p)
	if err != nil {
		return LoadedPolicy{}, err
	}
	return LoadedPolicy{Policy: p, Hash: hash, Bytes: data}, nil
}

// Hash digests the effective thresholds, so two files that differ only in
// comments or key order share a hash.
func Hash(p Policy) (string, error) {
	return crypto.DigestCanonical(map[string]any{
		"policy_id":      p.PolicyID,
		"policy_version": p.PolicyVersion,
		"deployment": map[string]any{
			"min_f1_score":         crypto.FormatFloat(p.Deployment.MinF1Score),
			"max_fpr":              crypto.FormatFloat(p.Deployment.MaxFPR),
			"require_approval":     p.Deployment.ApprovalRequired(),
			"enforce_fpr_ci_upper": p.Deployment.EnforceFPRCIUpper,
		},
		"risk": map[string]any{
			"high_risk_confidence_threshold":   crypto.FormatFloat(p.Risk.HighRiskConfidenceThreshold),
			"medium_risk_confidence_threshold": crypto.FormatFloat(p.Risk.MediumRiskConfidenceThreshold),
			"high_risk_sla_hours":              crypto.FormatFloat(p.Risk.HighRiskSLAHours),
			"medium_risk_sla_hours":            crypto.FormatFloat(p.Risk.MediumRiskSLAHours),
		},
	})
}
