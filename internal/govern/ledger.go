package govern

import (
	"context"

	"github.com/davidahmann/afaap/internal/auth"
	"github.com/davidahmann/afaap/internal/ledger"
	"github.com/davidahmann/afaap/pkg/types"
)

// Append writes a caller-supplied entry directly onto a chain.
func (s *Service) Append(ctx context.Context, in ledger.AppendInput) (types.LedgerEntry, error) {
	return s.ledger.Append(ctx, in)
}

// Verify reports chain validity for one subject. A broken chain is a
// result, not an error.
func (s *Service) Verify(ctx context.Context, subjectTable, subjectID string) (types.VerifyResult, error) {
	res, err := s.ledger.Verify(ctx, subjectTable, subjectID)
	if err != nil {
		return types.VerifyResult{}, subjectNotFound(subjectTable, subjectID, err)
	}
	return res, nil
}

func (s *Service) VerifyTable(ctx context.Context, subjectTable string) ([]types.VerifyResult, error) {
	return s.ledger.VerifyTable(ctx, subjectTable)
}

// History returns the entries of one chain that principal may read.
func (s *Service) History(ctx context.Context, principal auth.Principal, subjectTable, subjectID string) ([]types.LedgerEntry, error) {
	entries, err := s.ledger.Entries(ctx, subjectTable, subjectID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, subjectNotFound(subjectTable, subjectID, ledger.ErrNotFound)
	}
	out := make([]types.LedgerEntry, 0, len(entries))
	for _, e := range entries {
		if principal.CanRead(e) {
			out = append(out, e)
		}
	}
	return out, nil
}
