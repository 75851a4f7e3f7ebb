// Package entity stores the governed records (transactions, models and
// decisions). Every mutation here is paired with ledger entries by the
// govern service.
package entity

import (
	"context"
	"errors"

	"github.com/davidahmann/afaap/pkg/types"
)

var (
	ErrNotFound          = errors.New("entity not found")
	ErrAlreadyExists     = errors.New("entity already exists")
	ErrAlreadyClassified = errors.New("decision already classified")
	ErrAlreadyReviewed   = errors.New("decision already reviewed")
	ErrAlreadyApproved   = errors.New("model already approved")
)

type Store interface {
	PutTransaction(ctx context.Context, tx types.Transaction) error
	GetTransaction(ctx context.Context, transactionID string) (types.Transaction, error)

	PutModel(ctx context.Context, model types.Model) error
	GetModel(ctx context.Context, modelID string) (types.Model, error)
	// ApproveModel sets approved only while it is false; otherwise it
	// returns ErrAlreadyApproved.
	ApproveModel(ctx context.Context, modelID string) error
	SetDeploymentState(ctx context.Context, modelID string, state types.DeploymentState) error

	PutDecision(ctx context.Context, decision types.Decision) error
	GetDecision(ctx context.Context, decisionID string) (types.Decision, error)
	// SetClassification applies c only while the decision is Unclassified;
	// otherwise it returns ErrAlreadyClassified.
	SetClassification(ctx context.Context, decisionID string, c types.Classification) error
	// CompleteReview fills the review fields only while reviewed_by is
	// unset; otherwise it returns ErrAlreadyReviewed.
	CompleteReview(ctx context.Context, review types.Review) error
	// ListSLATracked returns High and Medium decisions ordered by deadline.
	ListSLATracked(ctx context.Context) ([]types.Decision, error)
}
