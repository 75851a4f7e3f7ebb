package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/davidahmann/afaap/internal/entity"
	"github.com/davidahmann/afaap/internal/ledger"
	"github.com/davidahmann/afaap/pkg/types"
)

var (
	_ ledger.Store = (*Store)(nil)
	_ entity.Store = (*Store)(nil)
)

const uniqueViolation = "23505"

type Store struct {
	db *sql.DB
}

func OpenPostgres(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return New(db), nil
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

const entryColumns = `entry_id, subject_table, subject_id, seq, operation, field, old_value, new_value, actor_id, occurred_at, prev_hash, hash`

func (s *Store) Tail(ctx context.Context, subjectTable, subjectID string) (types.LedgerEntry, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM afaap_ledger_entries
WHERE subject_table = $1 AND subject_id = $2
ORDER BY seq DESC LIMIT 1`, subjectTable, subjectID)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.LedgerEntry{}, false, nil
	}
	if err != nil {
		return types.LedgerEntry{}, false, err
	}
	return entry, true, nil
}

// Insert serializes writers of one chain on a transaction-scoped advisory
// lock; the unique indexes still reject a fork from any writer that skips it.
func (s *Store) Insert(ctx context.Context, entry types.LedgerEntry) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		key := entry.SubjectTable + "/" + entry.SubjectID
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
			return err
		}

		var tailSeq int64
		var tailHash string
		err := tx.QueryRowContext(ctx, `SELECT seq, hash FROM afaap_ledger_entries
WHERE subject_table = $1 AND subject_id = $2
ORDER BY seq DESC LIMIT 1`, entry.SubjectTable, entry.SubjectID).Scan(&tailSeq, &tailHash)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if entry.Seq != tailSeq+1 {
			return ledger.ErrConcurrentAppendConflict
		}
		if (entry.PrevHash == nil) != (tailSeq == 0) || (entry.PrevHash != nil && *entry.PrevHash != tailHash) {
			return ledger.ErrConcurrentAppendConflict
		}

		_, err = tx.ExecContext(ctx, `INSERT INTO afaap_ledger_entries (`+entryColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			entry.EntryID,
			entry.SubjectTable,
			entry.SubjectID,
			entry.Seq,
			string(entry.Operation),
			entry.Field,
			entry.OldValue,
			entry.NewValue,
			entry.ActorID,
			entry.OccurredAt.UTC(),
			entry.PrevHash,
			entry.Hash,
		)
		if isUniqueViolation(err) {
			return ledger.ErrConcurrentAppendConflict
		}
		return err
	})
}

func (s *Store) Entries(ctx context.Context, subjectTable, subjectID string) ([]types.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+entryColumns+` FROM afaap_ledger_entries
WHERE subject_table = $1 AND subject_id = $2
ORDER BY seq ASC`, subjectTable, subjectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []types.LedgerEntry{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (s *Store) Subjects(ctx context.Context, subjectTable string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT subject_id FROM afaap_ledger_entries
WHERE subject_table = $1
ORDER BY subject_id ASC`, subjectTable)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (types.LedgerEntry, error) {
	var entry types.LedgerEntry
	var operation string
	var occurredAt time.Time
	if err := row.Scan(
		&entry.EntryID,
		&entry.SubjectTable,
		&entry.SubjectID,
		&entry.Seq,
		&operation,
		&entry.Field,
		&entry.OldValue,
		&entry.NewValue,
		&entry.ActorID,
		&occurredAt,
		&entry.PrevHash,
		&entry.Hash,
	); err != nil {
		return types.LedgerEntry{}, err
	}
	entry.Operation = types.Operation(operation)
	entry.OccurredAt = occurredAt.UTC()
	return entry, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
