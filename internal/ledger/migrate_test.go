package ledger

import (
	"context"
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"
)

func TestMigrateSQLiteIdempotent(t *testing.T) {
	db, err := sql.Open("sqlite", "file:migrate_idempotent?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	if err := Migrate(db, DBSQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := Migrate(db, DBSQLite); err != nil {
		t.Fatalf("migrate second: %v", err)
	}

	for _, table := range []string{"ledger_entries", "decisions", "models", "transactions"} {
		var name string
		if err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name); err != nil {
			t.Fatalf("expected %s table: %v", table, err)
		}
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&count); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 migrations applied, got %d", count)
	}
}

func TestMigrateSQLiteLedgerIsImmutable(t *testing.T) {
	db, err := sql.Open("sqlite", "file:migrate_immutable?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	if err := Migrate(db, DBSQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO ledger_entries(entry_id, subject_table, subject_id, seq, operation, actor_id, occurred_at, hash)
VALUES('e1', 'decisions', 'd1', 1, 'Create', 'a', '2026-10-01T00:00:00Z', 'sha256:x')`); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := db.Exec(`UPDATE ledger_entries SET actor_id = 'b' WHERE entry_id = 'e1'`); err == nil {
		t.Fatalf("expected update to be rejected")
	}
	if _, err := db.Exec(`DELETE FROM ledger_entries WHERE entry_id = 'e1'`); err == nil {
		t.Fatalf("expected delete to be rejected")
	}
}

func TestMigrateContextReportsAppliedVersions(t *testing.T) {
	db, err := sql.Open("sqlite", "file:migrate_versions?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	applied, err := MigrateContext(context.Background(), db, DBSQLite)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if len(applied) != 2 || applied[0] != "0001_ledger" || applied[1] != "0002_entities" {
		t.Fatalf("unexpected applied versions: %v", applied)
	}
	again, err := MigrateContext(context.Background(), db, DBSQLite)
	if err != nil || len(again) != 0 {
		t.Fatalf("expected nothing pending, got %v %v", again, err)
	}
}

func TestMigrationHelpers(t *testing.T) {
	if _, err := dialectFor(DBPostgres); err != nil {
		t.Fatalf("expected postgres dialect, got %v", err)
	}
	if _, err := dialectFor(DBMemory); err == nil {
		t.Fatalf("expected error for memory driver")
	}
	if err := Migrate(nil, DBSQLite); err == nil {
		t.Fatalf("expected error for nil db")
	}

	versions, err := migrationVersions("migrations/postgres")
	if err != nil {
		t.Fatalf("list migrations: %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("expected 2 postgres migrations, got %d", len(versions))
	}
}

func TestParseDriver(t *testing.T) {
	cases := map[string]DBDriver{
		"":           DBMemory,
		"memory":     DBMemory,
		"SQLite":     DBSQLite,
		"postgres":   DBPostgres,
		"postgresql": DBPostgres,
	}
	for in, want := range cases {
		got, err := ParseDriver(in)
		if err != nil || got != want {
			t.Fatalf("ParseDriver(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseDriver("mysql"); err == nil {
		t.Fatalf("expected error for mysql")
	}
}
