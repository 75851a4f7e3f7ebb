package ledger

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"
)

//go:embed migrations/*/*.sql
var migrationsFS embed.FS

type DBDriver string

const (
	DBMemory   DBDriver = "memory"
	DBSQLite   DBDriver = "sqlite"
	DBPostgres DBDriver = "postgres"
)

// ParseDriver maps a config value to a DBDriver. Empty means memory.
func ParseDriver(name string) (DBDriver, error) {
	switch DBDriver(strings.ToLower(strings.TrimSpace(name))) {
	case "", DBMemory:
		return DBMemory, nil
	case DBSQLite:
		return DBSQLite, nil
	case DBPostgres, "postgresql":
		return DBPostgres, nil
	default:
		return "", fmt.Errorf("unsupported db driver: %s", name)
	}
}

// dialect holds the per-driver pieces of the migration runner.
type dialect struct {
	dir         string
	createTable string
	record      string
	appliedAt   func(time.Time) any
}

const (
	sqliteMigrationsTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
  version TEXT PRIMARY KEY,
  applied_at TEXT NOT NULL
)`
	postgresMigrationsTable = `CREATE TABLE IF NOT EXISTS afaap_schema_migrations (
  version TEXT PRIMARY KEY,
  applied_at TIMESTAMPTZ NOT NULL
)`
)

func dialectFor(driver DBDriver) (dialect, error) {
	switch driver {
	case DBSQLite:
		return dialect{
			dir:         "migrations/sqlite",
			createTable: sqliteMigrationsTable,
			record:      `INSERT INTO schema_migrations(version, applied_at) VALUES(?, ?) ON CONFLICT(version) DO NOTHING`,
			appliedAt:   func(t time.Time) any { return t.Format(time.RFC3339Nano) },
		}, nil
	case DBPostgres:
		return dialect{
			dir:         "migrations/postgres",
			createTable: postgresMigrationsTable,
			record:      `INSERT INTO afaap_schema_migrations(version, applied_at) VALUES($1, $2) ON CONFLICT(version) DO NOTHING`,
			appliedAt:   func(t time.Time) any { return t },
		}, nil
	default:
		return dialect{}, fmt.Errorf("no migrations for db driver: %s", driver)
	}
}

// Migrate applies the embedded ledger and entity schema.
func Migrate(db *sql.DB, driver DBDriver) error {
	_, err := MigrateContext(context.Background(), db, driver)
	return err
}

// MigrateContext applies each pending migration in its own transaction and
// returns the versions it applied. A version is claimed in the migrations
// table before its SQL runs, so concurrent gateways apply it once.
func MigrateContext(ctx context.Context, db *sql.DB, driver DBDriver) ([]string, error) {
	if db == nil {
		return nil, fmt.Errorf("missing db")
	}
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}
	if _, err := db.ExecContext(ctx, d.createTable); err != nil {
		return nil, fmt.Errorf("create migrations table: %w", err)
	}

	versions, err := migrationVersions(d.dir)
	if err != nil {
		return nil, err
	}

	applied := []string{}
	for _, version := range versions {
		ok, err := applyMigration(ctx, db, d, version)
		if err != nil {
			return applied, fmt.Errorf("apply migration %s: %w", version, err)
		}
		if ok {
			applied = append(applied, version)
		}
	}
	return applied, nil
}

func applyMigration(ctx context.Context, db *sql.DB, d dialect, version string) (bool, error) {
	contents, err := migrationsFS.ReadFile(path.Join(d.dir, version+".sql"))
	if err != nil {
		return false, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, d.record, version, d.appliedAt(time.Now().UTC()))
	if err != nil {
		return false, err
	}
	claimed, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if claimed == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, string(contents)); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

// migrationVersions lists the .sql files in dir without extension, sorted.
func migrationVersions(dir string) ([]string, error) {
	entries, err := migrationsFS.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		out = append(out, strings.TrimSuffix(e.Name(), ".sql"))
	}
	sort.Strings(out)
	return out, nil
}
