package ledger

import (
	"context"

	"github.com/davidahmann/afaap/pkg/types"
)

// Store persists ledger entries. It has no update or delete.
//
// Insert is the compare half of compare-and-append: it must store entry only
// if entry.Seq is exactly one past the current tail and entry.PrevHash equals
// the tail's hash (nil for an empty chain). Otherwise it returns
// ErrConcurrentAppendConflict and stores nothing.
type Store interface {
	Tail(ctx context.Context, subjectTable, subjectID string) (types.LedgerEntry, bool, error)
	Insert(ctx context.Context, entry types.LedgerEntry) error

	// Entries returns a snapshot of one chain ordered by Seq.
	Entries(ctx context.Context, subjectTable, subjectID string) ([]types.LedgerEntry, error)
	// Subjects lists the subject ids that have a chain in subjectTable.
	Subjects(ctx context.Context, subjectTable string) ([]string, error)
}

func chainKey(subjectTable, subjectID string) string {
	return subjectTable + "/" + subjectID
}
