package govern

import (
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/unicode/norm"

	"github.com/davidahmann/afaap/pkg/types"
)

type NewTransaction struct {
	TransactionID string    `json:"transaction_id" validate:"required,max=128,nfc"`
	AmountCents   int64     `json:"amount_cents" validate:"gte=0"`
	Currency      string    `json:"currency" validate:"required,len=3,uppercase"`
	CreatedAt     time.Time `json:"created_at"`
}

type NewModel struct {
	ModelID    string  `json:"model_id" yaml:"model_id" validate:"required,max=128,nfc"`
	F1         float64 `json:"f1" yaml:"f1" validate:"gte=0,lte=1"`
	F1CILower  float64 `json:"f1_ci_lower" yaml:"f1_ci_lower" validate:"gte=0,lte=1"`
	F1CIUpper  float64 `json:"f1_ci_upper" yaml:"f1_ci_upper" validate:"gte=0,lte=1"`
	FPR        float64 `json:"fpr" yaml:"fpr" validate:"gte=0,lte=1"`
	FPRCIUpper float64 `json:"fpr_ci_upper" yaml:"fpr_ci_upper" validate:"gte=0,lte=1"`
}

type NewDecision struct {
	DecisionID     string    `json:"decision_id" validate:"required,max=128,nfc"`
	ModelID        string    `json:"model_id" validate:"required,nfc"`
	TransactionID  string    `json:"transaction_id" validate:"required,nfc"`
	PredictedFraud bool      `json:"predicted_fraud"`
	Confidence     float64   `json:"confidence" validate:"gte=0,lte=1"`
	CreatedAt      time.Time `json:"created_at"`
}

type ReviewInput struct {
	DecisionID  string              `json:"decision_id" validate:"required,nfc"`
	Outcome     types.ReviewOutcome `json:"review_decision" validate:"required,oneof=approve_transaction block_transaction escalate false_positive"`
	EscalatedTo *string             `json:"escalated_to,omitempty" validate:"omitempty,min=1,nfc"`
}

// canonicalText reports whether s is valid UTF-8 in NFC form, the only text
// the ledger will hash.
func canonicalText(s string) bool {
	return utf8.ValidString(s) && norm.NFC.IsNormalString(s)
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("nfc", func(fl validator.FieldLevel) bool {
		return canonicalText(fl.Field().String())
	})
	return v
}
