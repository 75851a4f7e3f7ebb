package entity

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/davidahmann/afaap/pkg/types"
)

type InMemoryStore struct {
	mu           sync.RWMutex
	transactions map[string]types.Transaction
	models       map[string]types.Model
	decisions    map[string]types.Decision
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		transactions: make(map[string]types.Transaction),
		models:       make(map[string]types.Model),
		decisions:    make(map[string]types.Decision),
	}
}

func (s *InMemoryStore) PutTransaction(_ context.Context, tx types.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.transactions[tx.TransactionID]; ok {
		return ErrAlreadyExists
	}
	s.transactions[tx.TransactionID] = tx
	return nil
}

func (s *InMemoryStore) GetTransaction(_ context.Context, transactionID string) (types.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.transactions[transactionID]
	if !ok {
		return types.Transaction{}, ErrNotFound
	}
	return tx, nil
}

func (s *InMemoryStore) PutModel(_ context.Context, model types.Model) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.models[model.ModelID]; ok {
		return ErrAlreadyExists
	}
	s.models[model.ModelID] = model
	return nil
}

func (s *InMemoryStore) GetModel(_ context.Context, modelID string) (types.Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	model, ok := s.models[modelID]
	if !ok {
		return types.Model{}, ErrNotFound
	}
	return model, nil
}

func (s *InMemoryStore) ApproveModel(_ context.Context, modelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	model, ok := s.models[modelID]
	if !ok {
		return ErrNotFound
	}
	if model.Approved {
		return ErrAlreadyApproved
	}
	model.Approved = true
	s.models[modelID] = model
	return nil
}

func (s *InMemoryStore) SetDeploymentState(_ context.Context, modelID string, state types.DeploymentState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	model, ok := s.models[modelID]
	if !ok {
		return ErrNotFound
	}
	model.DeploymentState = state
	s.models[modelID] = model
	return nil
}

func (s *InMemoryStore) PutDecision(_ context.Context, decision types.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.decisions[decision.DecisionID]; ok {
		return ErrAlreadyExists
	}
	s.decisions[decision.DecisionID] = cloneDecision(decision)
	return nil
}

func (s *InMemoryStore) GetDecision(_ context.Context, decisionID string) (types.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	decision, ok := s.decisions[decisionID]
	if !ok {
		return types.Decision{}, ErrNotFound
	}
	return cloneDecision(decision), nil
}

func (s *InMemoryStore) SetClassification(_ context.Context, decisionID string, c types.Classification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	decision, ok := s.decisions[decisionID]
	if !ok {
		return ErrNotFound
	}
	if decision.RiskTier != types.RiskUnclassified {
		return ErrAlreadyClassified
	}
	decision.RiskTier = c.Tier
	decision.SLADeadline = cloneTime(c.SLADeadline)
	decision.Held = c.Held
	s.decisions[decisionID] = decision
	return nil
}

func (s *InMemoryStore) CompleteReview(_ context.Context, review types.Review) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	decision, ok := s.decisions[review.DecisionID]
	if !ok {
		return ErrNotFound
	}
	if decision.ReviewedBy != nil {
		return ErrAlreadyReviewed
	}
	reviewer := review.ReviewedBy
	outcome := review.Outcome
	reviewedAt := review.ReviewedAt
	decision.ReviewedBy = &reviewer
	decision.ReviewDecision = &outcome
	decision.ReviewedAt = &reviewedAt
	if review.EscalatedTo != nil {
		to := *review.EscalatedTo
		decision.EscalatedTo = &to
	}
	if review.SLAMet != nil {
		met := *review.SLAMet
		decision.SLAMet = &met
	}
	s.decisions[review.DecisionID] = decision
	return nil
}

func (s *InMemoryStore) ListSLATracked(_ context.Context) ([]types.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []types.Decision{}
	for _, d := range s.decisions {
		if d.RiskTier.SLATracked() {
			out = append(out, cloneDecision(d))
		}
	}
	SortByDeadline(out)
	return out, nil
}

// SortByDeadline orders decisions by SLA deadline, then decision id.
// Decisions without a deadline sort last.
func SortByDeadline(decisions []types.Decision) {
	sort.SliceStable(decisions, func(i, j int) bool {
		a, b := decisions[i].SLADeadline, decisions[j].SLADeadline
		switch {
		case a == nil && b == nil:
		case a == nil:
			return false
		case b == nil:
			return true
		case !a.Equal(*b):
			return a.Before(*b)
		}
		return decisions[i].DecisionID < decisions[j].DecisionID
	})
}

func cloneDecision(d types.Decision) types.Decision {
	d.SLADeadline = cloneTime(d.SLADeadline)
	d.ReviewedAt = cloneTime(d.ReviewedAt)
	if d.ReviewedBy != nil {
		v := *d.ReviewedBy
		d.ReviewedBy = &v
	}
	if d.ReviewDecision != nil {
		v := *d.ReviewDecision
		d.ReviewDecision = &v
	}
	if d.EscalatedTo != nil {
		v := *d.EscalatedTo
		d.EscalatedTo = &v
	}
	if d.SLAMet != nil {
		v := *d.SLAMet
		d.SLAMet = &v
	}
	return d
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
