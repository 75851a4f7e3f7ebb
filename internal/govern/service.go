// Package govern is the write path of the governance core. Every entity
// mutation it performs is followed by the ledger entries that record it, and
// contract violations are rejected before anything is written.
package govern

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/davidahmann/afaap/internal/crypto"
	"github.com/davidahmann/afaap/internal/entity"
	"github.com/davidahmann/afaap/internal/gate"
	"github.com/davidahmann/afaap/internal/ledger"
	"github.com/davidahmann/afaap/internal/metrics"
	"github.com/davidahmann/afaap/internal/policy"
	"github.com/davidahmann/afaap/internal/risk"
	"github.com/davidahmann/afaap/pkg/types"
)

type Service struct {
	entities entity.Store
	ledger   *ledger.Ledger
	policy   policy.LoadedPolicy
	logger   *slog.Logger
	now      func() time.Time
	validate *validator.Validate
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(entities entity.Store, l *ledger.Ledger, loaded policy.LoadedPolicy, opts ...Option) *Service {
	s := &Service{
		entities: entities,
		ledger:   l,
		policy:   loaded,
		logger:   slog.Default(),
		now:      time.Now,
		validate: newValidator(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Policy() policy.LoadedPolicy {
	return s.policy
}

func (s *Service) Ledger() *ledger.Ledger {
	return s.ledger
}

// timestamp is UTC with microsecond precision so it survives every store.
func (s *Service) timestamp(t time.Time) time.Time {
	if t.IsZero() {
		t = s.now()
	}
	return t.UTC().Truncate(time.Microsecond)
}

func (s *Service) check(actor string, input any) error {
	if strings.TrimSpace(actor) == "" {
		return ErrActorMissing
	}
	if !canonicalText(actor) {
		return fmt.Errorf("%w: actor_id must be valid UTF-8 in NFC form", ErrInvalidInput)
	}
	if input == nil {
		return nil
	}
	if err := s.validate.Struct(input); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return nil
}

func (s *Service) RegisterTransaction(ctx context.Context, actor string, in NewTransaction) (types.Transaction, error) {
	if err := s.check(actor, in); err != nil {
		return types.Transaction{}, err
	}
	tx := types.Transaction{
		TransactionID: in.TransactionID,
		AmountCents:   in.AmountCents,
		Currency:      in.Currency,
		CreatedAt:     s.timestamp(in.CreatedAt),
	}
	if err := s.entities.PutTransaction(ctx, tx); err != nil {
		return types.Transaction{}, err
	}

	snapshot, err := canonical(map[string]any{
		"transaction_id": tx.TransactionID,
		"amount_cents":   strconv.FormatInt(tx.AmountCents, 10),
		"currency":       tx.Currency,
		"created_at":     crypto.FormatTime(tx.CreatedAt),
	})
	if err != nil {
		return types.Transaction{}, err
	}
	if _, err := s.appendCreate(ctx, types.TableTransactions, tx.TransactionID, actor, snapshot); err != nil {
		return types.Transaction{}, err
	}
	return tx, nil
}

// RegisterModel stores a candidate. Approval and deployment state only
// change through ApproveModel and EvaluateDeployment.
func (s *Service) RegisterModel(ctx context.Context, actor string, in NewModel) (types.Model, error) {
	if err := s.check(actor, in); err != nil {
		return types.Model{}, err
	}
	model := types.Model{
		ModelID:         in.ModelID,
		F1:              in.F1,
		F1CILower:       in.F1CILower,
		F1CIUpper:       in.F1CIUpper,
		FPR:             in.FPR,
		FPRCIUpper:      in.FPRCIUpper,
		DeploymentState: types.DeploymentCandidate,
		CreatedAt:       s.timestamp(time.Time{}),
	}
	if err := s.entities.PutModel(ctx, model); err != nil {
		return types.Model{}, err
	}

	snapshot, err := canonical(map[string]any{
		"model_id":         model.ModelID,
		"f1":               crypto.FormatFloat(model.F1),
		"f1_ci_lower":      crypto.FormatFloat(model.F1CILower),
		"f1_ci_upper":      crypto.FormatFloat(model.F1CIUpper),
		"fpr":              crypto.FormatFloat(model.FPR),
		"fpr_ci_upper":     crypto.FormatFloat(model.FPRCIUpper),
		"approved":         model.Approved,
		"deployment_state": string(model.DeploymentState),
	})
	if err != nil {
		return types.Model{}, err
	}
	if _, err := s.appendCreate(ctx, types.TableModels, model.ModelID, actor, snapshot); err != nil {
		return types.Model{}, err
	}
	return model, nil
}

// ApproveModel sets the approval flag. Approving twice writes nothing.
func (s *Service) ApproveModel(ctx context.Context, actor, modelID string) (types.Model, error) {
	if err := s.check(actor, nil); err != nil {
		return types.Model{}, err
	}
	if err := s.entities.ApproveModel(ctx, modelID); err != nil {
		if errors.Is(err, entity.ErrAlreadyApproved) {
			return s.entities.GetModel(ctx, modelID)
		}
		return types.Model{}, subjectNotFound(types.TableModels, modelID, err)
	}
	model, err := s.entities.GetModel(ctx, modelID)
	if err != nil {
		return types.Model{}, err
	}

	err = s.appendChanges(ctx, types.TableModels, modelID, actor, []fieldChange{
		{field: "approved", old: types.StringPtr("false"), value: "true"},
	})
	if err != nil {
		return types.Model{}, err
	}
	s.logger.Info("model approved", "model_id", modelID, "actor_id", actor)
	return model, nil
}

// CreateDecision stores a decision and classifies it in the same call.
//
// A retry with the same fields resumes a call that stored the row but failed
// before its ledger entries were written. Any other repeat is ErrAlreadyExists.
func (s *Service) CreateDecision(ctx context.Context, actor string, in NewDecision) (types.Decision, error) {
	if err := s.check(actor, in); err != nil {
		return types.Decision{}, err
	}
	d := types.Decision{
		DecisionID:     in.DecisionID,
		ModelID:        in.ModelID,
		TransactionID:  in.TransactionID,
		PredictedFraud: in.PredictedFraud,
		Confidence:     in.Confidence,
		CreatedAt:      s.timestamp(in.CreatedAt),
		RiskTier:       types.RiskUnclassified,
	}
	err := s.entities.PutDecision(ctx, d)
	if errors.Is(err, entity.ErrAlreadyExists) {
		return s.resumeDecision(ctx, actor, in)
	}
	if err != nil {
		return types.Decision{}, err
	}

	if err := s.appendDecisionCreate(ctx, actor, d); err != nil {
		return types.Decision{}, err
	}
	return s.Classify(ctx, actor, d.DecisionID)
}

func (s *Service) resumeDecision(ctx context.Context, actor string, in NewDecision) (types.Decision, error) {
	existing, err := s.entities.GetDecision(ctx, in.DecisionID)
	if err != nil {
		return types.Decision{}, err
	}
	if !sameDecision(existing, in) || existing.RiskTier != types.RiskUnclassified {
		return types.Decision{}, fmt.Errorf("%w: %s", ErrAlreadyExists, in.DecisionID)
	}

	err = s.appendDecisionCreate(ctx, actor, existing)
	if err != nil && !errors.Is(err, ledger.ErrChainExists) {
		return types.Decision{}, err
	}
	s.logger.Warn("resuming decision create", "decision_id", in.DecisionID, "actor_id", actor)
	return s.Classify(ctx, actor, existing.DecisionID)
}

func (s *Service) appendDecisionCreate(ctx context.Context, actor string, d types.Decision) error {
	snapshot, err := canonical(map[string]any{
		"decision_id":     d.DecisionID,
		"model_id":        d.ModelID,
		"transaction_id":  d.TransactionID,
		"predicted_fraud": d.PredictedFraud,
		"confidence":      crypto.FormatFloat(d.Confidence),
		"created_at":      crypto.FormatTime(d.CreatedAt),
		"risk_tier":       string(types.RiskUnclassified),
	})
	if err != nil {
		return err
	}
	_, err = s.ledger.AppendGenesis(ctx, ledger.AppendInput{
		SubjectTable: types.TableDecisions,
		SubjectID:    d.DecisionID,
		Operation:    types.OperationCreate,
		NewValue:     &snapshot,
		ActorID:      actor,
	})
	return err
}

// sameDecision ignores created_at when the caller left it to the clock.
func sameDecision(d types.Decision, in NewDecision) bool {
	if !in.CreatedAt.IsZero() && !d.CreatedAt.Equal(in.CreatedAt.UTC().Truncate(time.Microsecond)) {
		return false
	}
	return d.ModelID == in.ModelID &&
		d.TransactionID == in.TransactionID &&
		d.PredictedFraud == in.PredictedFraud &&
		d.Confidence == in.Confidence
}

// Classify assigns tier, deadline and hold to an Unclassified decision.
// An already classified decision is returned unchanged.
func (s *Service) Classify(ctx context.Context, actor, decisionID string) (types.Decision, error) {
	if err := s.check(actor, nil); err != nil {
		return types.Decision{}, err
	}
	d, err := s.entities.GetDecision(ctx, decisionID)
	if err != nil {
		return types.Decision{}, subjectNotFound(types.TableDecisions, decisionID, err)
	}
	if d.RiskTier != types.RiskUnclassified {
		return d, nil
	}

	c := risk.Classify(d.Confidence, d.CreatedAt, s.policy.Policy.Risk)
	if err := s.entities.SetClassification(ctx, decisionID, c); err != nil {
		if errors.Is(err, entity.ErrAlreadyClassified) {
			return s.entities.GetDecision(ctx, decisionID)
		}
		return types.Decision{}, subjectNotFound(types.TableDecisions, decisionID, err)
	}

	changes := []fieldChange{
		{field: "risk_tier", old: types.StringPtr(string(d.RiskTier)), value: string(c.Tier)},
	}
	if c.SLADeadline != nil {
		changes = append(changes, fieldChange{field: "sla_deadline", value: crypto.FormatTime(*c.SLADeadline)})
	}
	if c.Held != d.Held {
		changes = append(changes, fieldChange{field: "held", old: types.StringPtr(strconv.FormatBool(d.Held)), value: strconv.FormatBool(c.Held)})
	}
	if err := s.appendChanges(ctx, types.TableDecisions, decisionID, actor, changes); err != nil {
		return types.Decision{}, err
	}

	d.RiskTier = c.Tier
	d.SLADeadline = c.SLADeadline
	d.Held = c.Held
	metrics.DecisionsClassified.WithLabelValues(string(c.Tier)).Inc()
	s.logger.Info("decision classified",
		"decision_id", decisionID,
		"risk_tier", c.Tier,
		"held", c.Held,
		"actor_id", actor,
	)
	return d, nil
}

// RecordReview completes the single review of a decision. The actor is the
// reviewer. sla_met is computed here, once, and only for tracked tiers.
func (s *Service) RecordReview(ctx context.Context, actor string, in ReviewInput) (types.Decision, error) {
	if err := s.check(actor, in); err != nil {
		return types.Decision{}, err
	}
	if in.EscalatedTo != nil && in.Outcome != types.ReviewEscalate {
		return types.Decision{}, fmt.Errorf("%w: escalated_to requires review_decision %q", ErrInvalidInput, types.ReviewEscalate)
	}

	d, err := s.entities.GetDecision(ctx, in.DecisionID)
	if err != nil {
		return types.Decision{}, subjectNotFound(types.TableDecisions, in.DecisionID, err)
	}
	if d.ReviewedBy != nil {
		return types.Decision{}, fmt.Errorf("%w: %s", ErrAlreadyReviewed, in.DecisionID)
	}

	reviewedAt := s.timestamp(time.Time{})
	var slaMet *bool
	if d.RiskTier.SLATracked() {
		slaMet = risk.SLAMet(d.SLADeadline, reviewedAt)
	}
	review := types.Review{
		DecisionID:  in.DecisionID,
		ReviewedBy:  actor,
		Outcome:     in.Outcome,
		ReviewedAt:  reviewedAt,
		EscalatedTo: in.EscalatedTo,
		SLAMet:      slaMet,
	}
	if err := s.entities.CompleteReview(ctx, review); err != nil {
		if errors.Is(err, entity.ErrAlreadyReviewed) {
			return types.Decision{}, fmt.Errorf("%w: %s", ErrAlreadyReviewed, in.DecisionID)
		}
		return types.Decision{}, subjectNotFound(types.TableDecisions, in.DecisionID, err)
	}

	changes := []fieldChange{
		{field: "reviewed_by", value: actor},
		{field: "review_decision", value: string(in.Outcome)},
		{field: "reviewed_at", value: crypto.FormatTime(reviewedAt)},
	}
	if in.EscalatedTo != nil {
		changes = append(changes, fieldChange{field: "escalated_to", value: *in.EscalatedTo})
	}
	if slaMet != nil {
		changes = append(changes, fieldChange{field: "sla_met", value: strconv.FormatBool(*slaMet)})
	}
	if err := s.appendChanges(ctx, types.TableDecisions, in.DecisionID, actor, changes); err != nil {
		return types.Decision{}, err
	}

	outcome := in.Outcome
	d.ReviewedBy = &review.ReviewedBy
	d.ReviewDecision = &outcome
	d.ReviewedAt = &reviewedAt
	d.EscalatedTo = in.EscalatedTo
	d.SLAMet = slaMet

	switch {
	case slaMet == nil:
		metrics.Reviews.WithLabelValues("untracked").Inc()
	case *slaMet:
		metrics.Reviews.WithLabelValues("met").Inc()
	default:
		metrics.Reviews.WithLabelValues("missed").Inc()
		s.logger.Warn("review missed SLA",
			"decision_id", in.DecisionID,
			"risk_tier", d.RiskTier,
			"sla_deadline", d.SLADeadline,
			"reviewed_at", reviewedAt,
		)
	}
	s.logger.Info("decision reviewed",
		"decision_id", in.DecisionID,
		"review_decision", in.Outcome,
		"actor_id", actor,
	)
	return d, nil
}

// EvaluateDeployment runs the gate, records the verdict on the model chain
// and moves the model to Admitted or Blocked. Every call writes a verdict.
func (s *Service) EvaluateDeployment(ctx context.Context, actor, modelID string) (gate.Result, error) {
	if err := s.check(actor, nil); err != nil {
		return gate.Result{}, err
	}
	model, err := s.entities.GetModel(ctx, modelID)
	if err != nil {
		return gate.Result{}, subjectNotFound(types.TableModels, modelID, err)
	}

	result := gate.Evaluate(model, s.policy)
	verdict, err := gate.VerdictValue(model, result)
	if err != nil {
		return gate.Result{}, err
	}
	previous := string(model.DeploymentState)
	if _, err := s.ledger.Append(ctx, ledger.AppendInput{
		SubjectTable: types.TableModels,
		SubjectID:    modelID,
		Operation:    types.OperationVerdict,
		OldValue:     &previous,
		NewValue:     &verdict,
		ActorID:      actor,
	}); err != nil {
		return gate.Result{}, err
	}
	if err := s.entities.SetDeploymentState(ctx, modelID, result.State()); err != nil {
		return gate.Result{}, subjectNotFound(types.TableModels, modelID, err)
	}

	verdictLabel := "blocked"
	if result.Admitted {
		verdictLabel = "admitted"
	}
	metrics.GateVerdicts.WithLabelValues(verdictLabel).Inc()
	s.logger.Info("deployment gate verdict",
		"model_id", modelID,
		"admitted", result.Admitted,
		"failing_criteria", result.FailingCriteria,
		"policy_hash", result.PolicyHash,
		"actor_id", actor,
	)
	return result, nil
}

func (s *Service) GetModel(ctx context.Context, modelID string) (types.Model, error) {
	model, err := s.entities.GetModel(ctx, modelID)
	if err != nil {
		return types.Model{}, subjectNotFound(types.TableModels, modelID, err)
	}
	return model, nil
}

func (s *Service) GetDecision(ctx context.Context, decisionID string) (types.Decision, error) {
	d, err := s.entities.GetDecision(ctx, decisionID)
	if err != nil {
		return types.Decision{}, subjectNotFound(types.TableDecisions, decisionID, err)
	}
	return d, nil
}

// SLAViolations lists overdue and late-reviewed decisions ordered by deadline.
func (s *Service) SLAViolations(ctx context.Context, now time.Time) ([]risk.Violation, error) {
	decisions, err := s.entities.ListSLATracked(ctx)
	if err != nil {
		return nil, err
	}
	return risk.Violations(decisions, now), nil
}

type fieldChange struct {
	field string
	old   *string
	value string
}

func (s *Service) appendCreate(ctx context.Context, table, id, actor, snapshot string) (types.LedgerEntry, error) {
	return s.ledger.Append(ctx, ledger.AppendInput{
		SubjectTable: table,
		SubjectID:    id,
		Operation:    types.OperationCreate,
		NewValue:     &snapshot,
		ActorID:      actor,
	})
}

func (s *Service) appendChanges(ctx context.Context, table, id, actor string, changes []fieldChange) error {
	for _, c := range changes {
		field, value := c.field, c.value
		if _, err := s.ledger.Append(ctx, ledger.AppendInput{
			SubjectTable: table,
			SubjectID:    id,
			Operation:    types.OperationFieldChange,
			Field:        &field,
			OldValue:     c.old,
			NewValue:     &value,
			ActorID:      actor,
		}); err != nil {
			return fmt.Errorf("record %s: %w", c.field, err)
		}
	}
	return nil
}

func canonical(v map[string]any) (string, error) {
	b, err := crypto.Canonicalize(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
