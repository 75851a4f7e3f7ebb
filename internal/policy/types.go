package policy

// Policy holds the governance thresholds. Zero values are replaced by
// Defaults when the policy is loaded.
type Policy struct {
	PolicyID      string     `yaml:"policy_id"`
	PolicyVersion string     `yaml:"policy_version"`
	Deployment    Deployment `yaml:"deployment"`
	Risk          Risk       `yaml:"risk"`
}

type Deployment struct {
	MinF1Score        float64 `yaml:"min_f1_score"`
	MaxFPR            float64 `yaml:"max_fpr"`
	RequireApproval   *bool   `yaml:"require_approval"`
	EnforceFPRCIUpper bool    `yaml:"enforce_fpr_ci_upper"`
}

type Risk struct {
	HighRiskConfidenceThreshold   float64 `yaml:"high_risk_confidence_threshold"`
	MediumRiskConfidenceThreshold float64 `yaml:"medium_risk_confidence_threshold"`
	HighRiskSLAHours              float64 `yaml:"high_risk_sla_hours"`
	MediumRiskSLAHours            float64 `yaml:"medium_risk_sla_hours"`
}

// ApprovalRequired reports whether the gate needs the approval flag.
func (d Deployment) ApprovalRequired() bool {
	return d.RequireApproval == nil || *d.RequireApproval
}

const (
	DefaultPolicyID                      = "afaap-governance"
	DefaultMinF1Score                    = 0.85
	DefaultMaxFPR                        = 0.01
	DefaultHighRiskConfidenceThreshold   = 0.80
	DefaultMediumRiskConfidenceThreshold = 0.50
	DefaultHighRiskSLAHours              = 1
	DefaultMediumRiskSLAHours            = 24
)

func Defaults() Policy {
	var p Policy
	p.applyDefaults()
	return p
}

func (p *Policy) applyDefaults() {
	if p.PolicyID == "" {
		p.PolicyID = DefaultPolicyID
	}
	if p.Deployment.MinF1Score == 0 {
		p.Deployment.MinF1Score = DefaultMinF1Score
	}
	if p.Deployment.MaxFPR == 0 {
		p.Deployment.MaxFPR = DefaultMaxFPR
	}
	if p.Deployment.RequireApproval == nil {
		v := true
		p.Deployment.RequireApproval = &v
	}
	if p.Risk.HighRiskConfidenceThreshold == 0 {
		p.Risk.HighRiskConfidenceThreshold = DefaultHighRiskConfidenceThreshold
	}
	if p.Risk.MediumRiskConfidenceThreshold == 0 {
		p.Risk.MediumRiskConfidenceThreshold = DefaultMediumRiskConfidenceThreshold
	}
	if p.Risk.HighRiskSLAHours == 0 {
		p.Risk.HighRiskSLAHours = DefaultHighRiskSLAHours
	}
	if p.Risk.MediumRiskSLAHours == 0 {
		p.Risk.MediumRiskSLAHours = DefaultMediumRiskSLAHours
	}
}
