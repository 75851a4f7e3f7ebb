package sqlstore

import (
	"context"
	"database/sql"
	"errors"

	"github.com/davidahmann/afaap/internal/entity"
	"github.com/davidahmann/afaap/pkg/types"
)

func (s *Store) PutTransaction(ctx context.Context, tx types.Transaction) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO transactions (transaction_id, amount_cents, currency, created_at)
VALUES (?, ?, ?, ?)`, tx.TransactionID, tx.AmountCents, tx.Currency, formatTime(tx.CreatedAt))
	if isUniqueViolation(err) {
		return entity.ErrAlreadyExists
	}
	return err
}

func (s *Store) GetTransaction(ctx context.Context, transactionID string) (types.Transaction, error) {
	var tx types.Transaction
	var createdAt string
	row := s.db.QueryRowContext(ctx, `SELECT transaction_id, amount_cents, currency, created_at FROM transactions WHERE transaction_id = ?`, transactionID)
	if err := row.Scan(&tx.TransactionID, &tx.AmountCents, &tx.Currency, &createdAt); err != nil {
		return types.Transaction{}, notFound(err)
	}
	at, err := parseTime(createdAt)
	if err != nil {
		return types.Transaction{}, err
	}
	tx.CreatedAt = at
	return tx, nil
}

func (s *Store) PutModel(ctx context.Context, model types.Model) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO models (model_id, f1, f1_ci_lower, f1_ci_upper, fpr, fpr_ci_upper, approved, deployment_state, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		model.ModelID,
		model.F1,
		model.F1CILower,
		model.F1CIUpper,
		model.FPR,
		model.FPRCIUpper,
		boolToInt(model.Approved),
		string(model.DeploymentState),
		formatTime(model.CreatedAt),
	)
	if isUniqueViolation(err) {
		return entity.ErrAlreadyExists
	}
	return err
}

func (s *Store) GetModel(ctx context.Context, modelID string) (types.Model, error) {
	var model types.Model
	var state, createdAt string
	row := s.db.QueryRowContext(ctx, `SELECT model_id, f1, f1_ci_lower, f1_ci_upper, fpr, fpr_ci_upper, approved, deployment_state, created_at
FROM models WHERE model_id = ?`, modelID)
	if err := row.Scan(&model.ModelID, &model.F1, &model.F1CILower, &model.F1CIUpper, &model.FPR, &model.FPRCIUpper, &model.Approved, &state, &createdAt); err != nil {
		return types.Model{}, notFound(err)
	}
	model.DeploymentState = types.DeploymentState(state)
	at, err := parseTime(createdAt)
	if err != nil {
		return types.Model{}, err
	}
	model.CreatedAt = at
	return model, nil
}

func (s *Store) ApproveModel(ctx context.Context, modelID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE models SET approved = 1 WHERE model_id = ? AND approved = 0`, modelID)
		return explainZeroRows(ctx, tx, res, err, modelExists, modelID, entity.ErrAlreadyApproved)
	})
}

func (s *Store) SetDeploymentState(ctx context.Context, modelID string, state types.DeploymentState) error {
	res, err := s.db.ExecContext(ctx, `UPDATE models SET deployment_state = ? WHERE model_id = ?`, string(state), modelID)
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
	_, err := s.db.ExecContext(ctx, `INSERT INTO decisions (`+decisionColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.DecisionID,
		d.ModelID,
		d.TransactionID,
		boolToInt(d.PredictedFraud),
		d.Confidence,
		formatTime(d.CreatedAt),
		string(tier),
		formatNullableTime(d.SLADeadline),
		boolToInt(d.Held),
		d.ReviewedBy,
		outcome,
		formatNullableTime(d.ReviewedAt),
		d.EscalatedTo,
		nullableBool(d.SLAMet),
	)
	if isUniqueViolation(err) {
		return entity.ErrAlreadyExists
	}
	return err
}

func (s *Store) GetDecision(ctx context.Context, decisionID string) (types.Decision, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+decisionColumns+` FROM decisions WHERE decision_id = ?`, decisionID)
	d, err := scanDecision(row)
	if err != nil {
		return types.Decision{}, notFound(err)
	}
	return d, nil
}

func (s *Store) SetClassification(ctx context.Context, decisionID string, c types.Classification) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE decisions SET risk_tier = ?, sla_deadline = ?, held = ?
WHERE decision_id = ? AND risk_tier = 'Unclassified'`,
			string(c.Tier), formatNullableTime(c.SLADeadline), boolToInt(c.Held), decisionID)
		return explainZeroRows(ctx, tx, res, err, decisionExists, decisionID, entity.ErrAlreadyClassified)
	})
}

func (s *Store) CompleteReview(ctx context.Context, review types.Review) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE decisions
SET reviewed_by = ?, review_decision = ?, reviewed_at = ?, escalated_to = ?, sla_met = ?
WHERE decision_id = ? AND reviewed_by IS NULL`,
			review.ReviewedBy,
			string(review.Outcome),
			formatTime(review.ReviewedAt),
			review.EscalatedTo,
			nullableBool(review.SLAMet),
			review.DecisionID,
		)
		return explainZeroRows(ctx, tx, res, err, decisionExists, review.DecisionID, entity.ErrAlreadyReviewed)
	})
}

func (s *Store) ListSLATracked(ctx context.Context) ([]types.Decision, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+decisionColumns+` FROM decisions WHERE risk_tier IN ('High', 'Medium')`)
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
	if err := rows.Err(); err != nil {
		return nil, err
	}
	entity.SortByDeadline(out)
	return out, nil
}

func scanDecision(row rowScanner) (types.Decision, error) {
	var d types.Decision
	var createdAt, tier string
	var deadline, reviewedAt, outcome *string
	if err := row.Scan(
		&d.DecisionID,
		&d.ModelID,
		&d.TransactionID,
		&d.PredictedFraud,
		&d.Confidence,
		&createdAt,
		&tier,
		&deadline,
		&d.Held,
		&d.ReviewedBy,
		&outcome,
		&reviewedAt,
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
	var err error
	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return types.Decision{}, err
	}
	if d.SLADeadline, err = parseNullableTime(deadline); err != nil {
		return types.Decision{}, err
	}
	if d.ReviewedAt, err = parseNullableTime(reviewedAt); err != nil {
		return types.Decision{}, err
	}
	return d, nil
}

const (
	modelExists    = `SELECT 1 FROM models WHERE model_id = ?`
	decisionExists = `SELECT 1 FROM decisions WHERE decision_id = ?`
)

// explainZeroRows turns a conditional update that matched nothing into
// ErrNotFound or the given state error.
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

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableBool(b *bool) any {
	if b == nil {
		return nil
	}
	return boolToInt(*b)
}
