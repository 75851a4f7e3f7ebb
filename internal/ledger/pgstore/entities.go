package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/davidahmann/afaap/internal/entity"
	"github.com/davidahmann/afaap/pkg/types"
)

func (s *Store) PutTransaction(ctx context.Context, tx types.Transaction) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO afaap_transactions (transaction_id, amount_cents, currency, created_at)
VALUES ($1, $2, $3, $4)`, tx.TransactionID, tx.AmountCents, tx.Currency, tx.CreatedAt.UTC())
	if isUniqueViolation(err) {
		return entity.ErrAlreadyExists
	}
	return err
}

func (s *Store) GetTransaction(ctx context.Context, transactionID string) (types.Transaction, error) {
	var tx types.Transaction
	row := s.db.QueryRowContext(ctx, `SELECT transaction_id, amount_cents, currency, created_at FROM afaap_transactions WHERE transaction_id = $1`, transactionID)
	if err := row.Scan(&tx.TransactionID, &tx.AmountCents, &tx.Currency, &tx.CreatedAt); err != nil {
		return types.Transaction{}, notFound(err)
	}
	tx.CreatedAt = tx.CreatedAt.UTC()
	return tx, nil
}

func (s *Store) PutModel(ctx context.Context, model types.Model) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO afaap_models (model_id, f1, f1_ci_lower, f1_ci_upper, fpr, fpr_ci_upper, approved, deployment_state, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		model.ModelID,
		model.F1,
		model.F1CILower,
		model.F1CIUpper,
		model.FPR,
		model.FPRCIUpper,
		model.Approved,
		string(model.DeploymentState),
		model.CreatedAt.UTC(),
	)
	if isUniqueViolation(err) {
		return entity.ErrAlreadyExists
	}
	return err
}

func (s *Store) GetModel(ctx context.Context, modelID string) (types.Model, error) {
	var model types.Model
	var state string
	row := s.db.QueryRowContext(ctx, `SELECT model_id, f1, f1_ci_lower, f1_ci_upper, fpr, fpr_ci_upper, approved, deployment_state, created_at
FROM afaap_models WHERE model_id = $1`, modelID)
	if err := row.Scan(&model.ModelID, &model.F1, &model.F1CILower, &model.F1CIUpper, &model.FPR, &model.FPRCIUpper, &model.Approved, &state, &model.CreatedAt); err != nil {
		return types.Model{}, notFound(err)
	}
	model.DeploymentState = types.DeploymentState(state)
	model.CreatedAt = model.CreatedAt.UTC()
	return model, nil
}

func (s *Store) ApproveModel(ctx context.Context, modelID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE afaap_models SET approved = TRUE WHERE model_id = $1 AND NOT approved`, modelID)
		return explainZeroRows(ctx, tx, res, err, modelExists, modelID, entity.ErrAlreadyApproved)
	})
}

func (s *Store) SetDeploymentState(ctx context.Context, modelID string, state types.DeploymentState) error {
	res, err := s.db.ExecContext(ctx, `UPDATE afaap_models SET deployment_state = $1 WHERE model_id = $2`, string(state), modelID)
	return requireRow(res, err)
}

const decisionColumns = `decision_id, model_id, transaction_id, predicted_fraud, confidence, created_at, risk_tier, sla_deadline, held, reviewed_by, review_decision, reviewed_at, escalated_to, sla_met`

func (s *Store) PutDecision(ctx context.Context, d types.Decision) error {
	var outcome *string
	if d.ReviewDecision != nil {
		v := string(*d.ReviewDecision)
		outcome = &v
	}
	tier := d.RiskTier
	if tier == "" {
		tier = types.RiskUnclassified
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO afaap_decisions (`+decisionColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		d.DecisionID,
		d.ModelID,
		d.TransactionID,
		d.PredictedFraud,
		d.Confidence,
		d.CreatedAt.UTC(),
		string(tier),
		utcPtr(d.SLADeadline),
		d.Held,
		d.ReviewedBy,
		outcome,
		utcPtr(d.ReviewedAt),
		d.EscalatedTo,
		d.SLAMet,
	)
	if isUniqueViolation(err) {
		return entity.ErrAlreadyExists
	}
	return err
}

func (s *Store) GetDecision(ctx context.Context, decisionID string) (types.Decision, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+decisionColumns+` FROM afaap_decisions WHERE decision_id = $1`, decisionID)
	d, err := scanDecision(row)
	if err != nil {
		return types.Decision{}, notFound(err)
	}
	return d, nil
}

func (s *Store) SetClassification(ctx context.Context, decisionID string, c types.Classification) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE afaap_decisions SET risk_tier = $1, sla_deadline = $2, held = $3
WHERE decision_id = $4 AND risk_tier = 'Unclassified'`,
			string(c.Tier), utcPtr(c.SLADeadline), c.Held, decisionID)
		return explainZeroRows(ctx, tx, res, err, decisionExists, decisionID, entity.ErrAlreadyClassified)
	})
}

func (s *Store) CompleteReview(ctx context.Context, review types.Review) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE afaap_decisions
SET reviewed_by = $1, review_decision = $2, reviewed_at = $3, escalated_to = $4, sla_met = $5
WHERE decision_id = $6 AND reviewed_by IS NULL`,
			review.ReviewedBy,
			string(review.Outcome),
			review.ReviewedAt.UTC(),
			review.EscalatedTo,
			review.SLAMet,
			review.DecisionID,
		)
		return explainZeroRows(ctx, tx, res, err, decisionExists, review.DecisionID, entity.ErrAlreadyReviewed)
	})
}

func (s *Store) ListSLATracked(ctx context.Context) ([]types.Decision, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+decisionColumns+` FROM afaap_decisions
WHERE risk_tier IN ('High', 'Medium')
ORDER BY sla_deadline ASC NULLS LAST, decision_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []types.Decision{}
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanDecision(row rowScanner) (types.Decision, error) {
	var d types.Decision
	var tier string
	var outcome *string
	if err := row.Scan(
		&d.DecisionID,
		&d.ModelID,
		&d.TransactionID,
		&d.PredictedFraud,
		&d.Confidence,
		&d.CreatedAt,
		&tier,
		&d.SLADeadline,
		&d.Held,
		&d.ReviewedBy,
		&outcome,
		&d.ReviewedAt,
		&d.EscalatedTo,
		&d.SLAMet,
	); err != nil {
		return types.Decision{}, err
	}
	d.RiskTier = types.RiskTier(tier)
	if outcome != nil {
		o := types.ReviewOutcome(*outcome)
		d.ReviewDecision = &o
	}
	d.CreatedAt = d.CreatedAt.UTC()
	d.SLADeadline = utcPtr(d.SLADeadline)
	d.ReviewedAt = utcPtr(d.ReviewedAt)
	return d, nil
}

const (
	modelExists    = `SELECT 1 FROM afaap_models WHERE model_id = $1`
	decisionExists = `SELECT 1 FROM afaap_decisions WHERE decision_id = $1`
)

func explainZeroRows(ctx context.Context, tx *sql.Tx, res sql.Result, err error, existsQuery, id string, stateErr error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var exists int
	if err := tx.QueryRowContext(ctx, existsQuery, id).Scan(&exists); err != nil {
		return notFound(err)
	}
	return stateErr
}

func requireRow(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return entity.ErrNotFound
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return entity.ErrNotFound
	}
	return err
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
