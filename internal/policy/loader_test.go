package policy

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadPolicyExampleMatchesDefaults(t *testing.T) {
	loaded, err := LoadPolicy("../../policies/governance.yaml", Overrides{})
	if err != nil {
		t.Fatalf("load policy: %v", err)
	}
	if loaded.Policy.PolicyVersion != "2026-10-01" {
		t.Fatalf("unexpected version: %q", loaded.Policy.PolicyVersion)
	}
	if len(loaded.Bytes) == 0 {
		t.Fatalf("expected raw bytes to be kept")
	}

	defaults := Defaults()
	defaults.PolicyVersion = "2026-10-01"
	want, err := Hash(defaults)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if loaded.Hash != want {
		t.Fatalf("policy hash mismatch: got %s want %s", loaded.Hash, want)
	}
}

func TestLoadPolicyEmptyPathUsesDefaults(t *testing.T) {
	loaded, err := LoadPolicy("", Overrides{})
	if err != nil {
		t.Fatalf("load policy: %v", err)
	}
	d, r := loaded.Policy.Deployment, loaded.Policy.Risk
	if d.MinF1Score != 0.85 || d.MaxFPR != 0.01 || !d.ApprovalRequired() || d.EnforceFPRCIUpper {
		t.Fatalf("unexpected deployment defaults: %+v", d)
	}
	if r.HighRiskConfidenceThreshold != 0.80 || r.MediumRiskConfidenceThreshold != 0.50 || r.HighRiskSLAHours != 1 || r.MediumRiskSLAHours != 24 {
		t.Fatalf("unexpected risk defaults: %+v", r)
	}
}

func TestLoadPolicyPartialFileAndOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	body := "deployment:\n  require_approval: false\nrisk:\n  high_risk_sla_hours: 2\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	minF1 := 0.9
	loaded, err := LoadPolicy(path, Overrides{MinF1Score: &minF1})
	if err != nil {
		t.Fatalf("load policy: %v", err)
	}
	if loaded.Policy.Deployment.ApprovalRequired() {
		t.Fatalf("explicit require_approval: false must be kept")
	}
	if loaded.Policy.Risk.HighRiskSLAHours != 2 || loaded.Policy.Risk.MediumRiskSLAHours != 24 {
		t.Fatalf("unexpected risk: %+v", loaded.Policy.Risk)
	}
	if loaded.Policy.Deployment.MinF1Score != 0.9 {
		t.Fatalf("override not applied: %v", loaded.Policy.Deployment.MinF1Score)
	}

	plain, _ := LoadPolicy(path, Overrides{})
	if plain.Hash == loaded.Hash {
		t.Fatalf("hash must cover overridden thresholds")
	}
}

func TestLoadPolicyRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	body := "risk:\n  high_risk_confidence_threshold: 0.4\n  medium_risk_confidence_threshold: 0.6\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadPolicy(path, Overrides{}); !errors.Is(err, ErrInvalidPolicy) {
		t.Fatalf("expected ErrInvalidPolicy, got %v", err)
	}

	if _, err := LoadPolicy(filepath.Join(t.TempDir(), "missing.yaml"), Overrides{}); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(p *Policy){
		"min_f1_above_one":   func(p *Policy) { p.Deployment.MinF1Score = 1.2 },
		"negative_fpr":       func(p *Policy) { p.Deployment.MaxFPR = -0.1 },
		"high_above_one":     func(p *Policy) { p.Risk.HighRiskConfidenceThreshold = 1.5 },
		"medium_equals_high": func(p *Policy) { p.Risk.MediumRiskConfidenceThreshold = p.Risk.HighRiskConfidenceThreshold },
		"zero_sla_hours":     func(p *Policy) { p.Risk.MediumRiskSLAHours = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			p := Defaults()
			mutate(&p)
			if err := p.Validate(); !errors.Is(err, ErrInvalidPolicy) {
				t.Fatalf("expected ErrInvalidPolicy, got %v", err)
			}
		})
	}

	if err := Defaults().Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}
