package ledger

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/davidahmann/afaap/internal/metrics"
	"github.com/davidahmann/afaap/pkg/types"
)

const defaultVerifyConcurrency = 8

// VerifyChain replays entries (ordered by Seq) from an empty predecessor and
// reports the first entry whose recomputed hash or stored prev_hash
// disagrees. It only certifies the prefix it was given.
func VerifyChain(subjectTable, subjectID string, entries []types.LedgerEntry) types.VerifyResult {
	result := types.VerifyResult{SubjectTable: subjectTable, SubjectID: subjectID}

	var expectedPrev *string
	for i, entry := range entries {
		if !samePrev(entry.PrevHash, expectedPrev) {
			return broken(result, i, entry, "prev_hash does not match predecessor")
		}
		recomputed, err := ComputeHash(entry, expectedPrev)
		if err != nil {
			return broken(result, i, entry, "hash input: "+err.Error())
		}
		if recomputed != entry.Hash {
			return broken(result, i, entry, fmt.Sprintf("hash mismatch: stored %s, recomputed %s", entry.Hash, recomputed))
		}
		h := entry.Hash
		expectedPrev = &h
	}

	result.Valid = true
	result.Entries = len(entries)
	return result
}

func broken(result types.VerifyResult, index int, entry types.LedgerEntry, reason string) types.VerifyResult {
	result.Valid = false
	result.Entries = index
	result.BrokenAt = entry.EntryID
	result.Reason = reason
	return result
}

// Verify certifies (or refutes) one subject chain from a store snapshot.
func (l *Ledger) Verify(ctx context.Context, subjectTable, subjectID string) (types.VerifyResult, error) {
	if subjectTable == "" || subjectID == "" {
		return types.VerifyResult{}, ErrMissingSubject
	}
	entries, err := l.store.Entries(ctx, subjectTable, subjectID)
	if err != nil {
		return types.VerifyResult{}, err
	}
	if len(entries) == 0 {
		return types.VerifyResult{}, fmt.Errorf("%w: %s", ErrNotFound, chainKey(subjectTable, subjectID))
	}

	result := VerifyChain(subjectTable, subjectID, entries)
	if result.Valid {
		metrics.LedgerVerifications.WithLabelValues("valid").Inc()
	} else {
		metrics.LedgerVerifications.WithLabelValues("broken").Inc()
		l.logger.Warn("ledger chain broken",
			"subject_table", subjectTable,
			"subject_id", subjectID,
			"broken_at", result.BrokenAt,
			"reason", result.Reason,
		)
	}
	return result, nil
}

// VerifyTable verifies every chain in subjectTable concurrently. Results are
// ordered by subject id.
func (l *Ledger) VerifyTable(ctx context.Context, subjectTable string) ([]types.VerifyResult, error) {
	subjects, err := l.store.Subjects(ctx, subjectTable)
	if err != nil {
		return nil, err
	}

	results := make([]types.VerifyResult, len(subjects))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(defaultVerifyConcurrency)
	for i, id := range subjects {
		g.Go(func() error {
			res, err := l.Verify(gctx, subjectTable, id)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].SubjectID < results[j].SubjectID })
	return results, nil
}
