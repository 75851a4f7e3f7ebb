package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/davidahmann/afaap/internal/entity"
	"github.com/davidahmann/afaap/internal/ledger"
	"github.com/davidahmann/afaap/pkg/types"
)

var (
	_ ledger.Store = (*Store)(nil)
	_ entity.Store = (*Store)(nil)
)

// Store keeps the ledger and the governed entities in one SQLite database.
// It holds a single connection, so every transaction is serialized.
type Store struct {
	db *sql.DB
}

func OpenSQLite(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, err
	}
	return New(db), nil
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

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
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM ledger_entries
WHERE subject_table = ? AND subject_id = ?
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

func (s *Store) Insert(ctx context.Context, entry types.LedgerEntry) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var tailSeq int64
		var tailHash string
		err := tx.QueryRowContext(ctx, `SELECT seq, hash FROM ledger_entries
WHERE subject_table = ? AND subject_id = ?
ORDER BY seq DESC LIMIT 1`, entry.SubjectTable, entry.SubjectID).Scan(&tailSeq, &tailHash)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		prev := ""
		if entry.PrevHash != nil {
			prev = *entry.PrevHash
		}
		if entry.Seq != tailSeq+1 || prev != tailHash {
			return ledger.ErrConcurrentAppendConflict
		}

		_, err = tx.ExecContext(ctx, `INSERT INTO ledger_entries (`+entryColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			entry.EntryID,
			entry.SubjectTable,
			entry.SubjectID,
			entry.Seq,
			string(entry.Operation),
			entry.Field,
			entry.OldValue,
			entry.NewValue,
			entry.ActorID,
			formatTime(entry.OccurredAt),
			prev,
			entry.Hash,
		)
		if isUniqueViolation(err) {
			return ledger.ErrConcurrentAppendConflict
		}
		return err
	})
}

func (s *Store) Entries(ctx context.Context, subjectTable, subjectID string) ([]types.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+entryColumns+` FROM ledger_entries
WHERE subject_table = ? AND subject_id = ?
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
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT subject_id FROM ledger_entries
WHERE subject_table = ?
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
	var operation, occurredAt, prev string
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
		&prev,
		&entry.Hash,
	); err != nil {
		return types.LedgerEntry{}, err
	}
	entry.Operation = types.Operation(operation)
	at, err := parseTime(occurredAt)
	if err != nil {
		return types.LedgerEntry{}, err
	}
	entry.OccurredAt = at
	if prev != "" {
		entry.PrevHash = &prev
	}
	return entry, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func formatNullableTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func parseNullableTime(s *string) (*time.Time, error) {
	if s == nil {
		return nil, nil
	}
	t, err := parseTime(*s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
