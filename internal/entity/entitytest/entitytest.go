// Package entitytest holds the behavioural checks every entity.Store
// implementation must pass.
package entitytest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidahmann/afaap/internal/entity"
	"github.com/davidahmann/afaap/pkg/types"
)

var base = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

func RunStoreTests(t *testing.T, newStore func(t *testing.T) entity.Store) {
	t.Run("transactions", func(t *testing.T) { testTransactions(t, newStore(t)) })
	t.Run("models", func(t *testing.T) { testModels(t, newStore(t)) })
	t.Run("classification", func(t *testing.T) { testClassification(t, newStore(t)) })
	t.Run("review", func(t *testing.T) { testReview(t, newStore(t)) })
	t.Run("sla_tracked", func(t *testing.T) { testSLATracked(t, newStore(t)) })
}

func testTransactions(t *testing.T, s entity.Store) {
	ctx := context.Background()
	tx := types.Transaction{TransactionID: "tx1", AmountCents: 125000, Currency: "USD", CreatedAt: base}

	require.NoError(t, s.PutTransaction(ctx, tx))
	require.ErrorIs(t, s.PutTransaction(ctx, tx), entity.ErrAlreadyExists)

	got, err := s.GetTransaction(ctx, "tx1")
	require.NoError(t, err)
	assert.Equal(t, tx.AmountCents, got.AmountCents)
	assert.Equal(t, tx.Currency, got.Currency)
	assert.True(t, tx.CreatedAt.Equal(got.CreatedAt))

	_, err = s.GetTransaction(ctx, "missing")
	require.ErrorIs(t, err, entity.ErrNotFound)
}

func testModels(t *testing.T, s entity.Store) {
	ctx := context.Background()
	model := types.Model{
		ModelID:         "m1",
		F1:              0.82,
		F1CILower:       0.79,
		F1CIUpper:       0.85,
		FPR:             0.015,
		FPRCIUpper:      0.02,
		DeploymentState: types.DeploymentCandidate,
		CreatedAt:       base,
	}
	require.NoError(t, s.PutModel(ctx, model))
	require.ErrorIs(t, s.PutModel(ctx, model), entity.ErrAlreadyExists)

	require.NoError(t, s.ApproveModel(ctx, "m1"))
	require.ErrorIs(t, s.ApproveModel(ctx, "m1"), entity.ErrAlreadyApproved)
	require.NoError(t, s.SetDeploymentState(ctx, "m1", types.DeploymentBlocked))

	got, err := s.GetModel(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, got.Approved)
	assert.Equal(t, types.DeploymentBlocked, got.DeploymentState)
	assert.InDelta(t, 0.015, got.FPR, 1e-12)

	require.ErrorIs(t, s.ApproveModel(ctx, "missing"), entity.ErrNotFound)
	require.ErrorIs(t, s.SetDeploymentState(ctx, "missing", types.DeploymentAdmitted), entity.ErrNotFound)
}

func newDecision(id string, confidence float64) types.Decision {
	return types.Decision{
		DecisionID:     id,
		ModelID:        "m1",
		TransactionID:  "tx-" + id,
		PredictedFraud: true,
		Confidence:     confidence,
		CreatedAt:      base,
		RiskTier:       types.RiskUnclassified,
	}
}

func testClassification(t *testing.T, s entity.Store) {
	ctx := context.Background()
	require.NoError(t, s.PutDecision(ctx, newDecision("d1", 0.95)))
	require.ErrorIs(t, s.PutDecision(ctx, newDecision("d1", 0.95)), entity.ErrAlreadyExists)

	deadline := base.Add(time.Hour)
	require.NoError(t, s.SetClassification(ctx, "d1", types.Classification{Tier: types.RiskHigh, SLADeadline: &deadline, Held: true}))
	require.ErrorIs(t, s.SetClassification(ctx, "d1", types.Classification{Tier: types.RiskLow}), entity.ErrAlreadyClassified)
	require.ErrorIs(t, s.SetClassification(ctx, "missing", types.Classification{Tier: types.RiskLow}), entity.ErrNotFound)

	got, err := s.GetDecision(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, types.RiskHigh, got.RiskTier)
	assert.True(t, got.Held)
	require.NotNil(t, got.SLADeadline)
	assert.True(t, deadline.Equal(*got.SLADeadline))
	assert.Nil(t, got.ReviewedBy)
	assert.Nil(t, got.SLAMet)
}

func testReview(t *testing.T, s entity.Store) {
	ctx := context.Background()
	require.NoError(t, s.PutDecision(ctx, newDecision("d1", 0.6)))

	met := true
	to := "fraud-lead"
	review := types.Review{
		DecisionID:  "d1",
		ReviewedBy:  "analyst-1",
		Outcome:     types.ReviewEscalate,
		ReviewedAt:  base.Add(30 * time.Minute),
		EscalatedTo: &to,
		SLAMet:      &met,
	}
	require.NoError(t, s.CompleteReview(ctx, review))

	second := review
	second.ReviewedBy = "analyst-2"
	require.ErrorIs(t, s.CompleteReview(ctx, second), entity.ErrAlreadyReviewed)

	missing := review
	missing.DecisionID = "missing"
	require.ErrorIs(t, s.CompleteReview(ctx, missing), entity.ErrNotFound)

	got, err := s.GetDecision(ctx, "d1")
	require.NoError(t, err)
	require.NotNil(t, got.ReviewedBy)
	assert.Equal(t, "analyst-1", *got.ReviewedBy)
	require.NotNil(t, got.ReviewDecision)
	assert.Equal(t, types.ReviewEscalate, *got.ReviewDecision)
	require.NotNil(t, got.EscalatedTo)
	assert.Equal(t, "fraud-lead", *got.EscalatedTo)
	require.NotNil(t, got.SLAMet)
	assert.True(t, *got.SLAMet)
	require.NotNil(t, got.ReviewedAt)
	assert.True(t, review.ReviewedAt.Equal(*got.ReviewedAt))
}

func testSLATracked(t *testing.T, s entity.Store) {
	ctx := context.Background()
	classify := func(id string, tier types.RiskTier, deadline *time.Time) {
		require.NoError(t, s.PutDecision(ctx, newDecision(id, 0.9)))
		require.NoError(t, s.SetClassification(ctx, id, types.Classification{Tier: tier, SLADeadline: deadline, Held: tier == types.RiskHigh}))
	}
	late := base.Add(24 * time.Hour)
	early := base.Add(time.Hour)
	classify("medium", types.RiskMedium, &late)
	classify("high", types.RiskHigh, &early)
	classify("low", types.RiskLow, nil)
	require.NoError(t, s.PutDecision(ctx, newDecision("pending", 0.9)))

	got, err := s.ListSLATracked(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "high", got[0].DecisionID)
	assert.Equal(t, "medium", got[1].DecisionID)
}
