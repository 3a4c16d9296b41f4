/*
Package sqlstore provides the relational implementation of finance.DB.

PURPOSE:
  Implements every finance accessor on database/sql, for two drivers:
  SQLite (mattn/go-sqlite3, the default and the test store) and MySQL
  (go-sql-driver/mysql). The same queries serve both; only the locking
  clause differs.

ROW SHAPE:
  Every table stores the full record as a JSON document next to the key
  columns the queries filter on. Reads decode the document; writes
  re-encode it. Key columns are always written from the same struct as
  the document so they cannot drift.

KEY TABLES:
  transactions:                          all six transaction types
  budgets:                               unique per (fund_id, fiscal_year_id)
  funds / ledgers:                       read by the batch engine
  ledger_fiscal_year_rollovers:          one row per rollover
  ledger_fiscal_year_rollover_progress:  one row per rollover
  ledger_fiscal_year_rollover_errors:    per-budget failures
  ledger_fiscal_year_rollover_budgets:   per-budget rollover results

LOCKING:
  BudgetsForUpdate is the only concurrency guard between batches.
  - MySQL:  SELECT ... FOR UPDATE inside the batch transaction
  - SQLite: every transaction starts with BEGIN IMMEDIATE (_txlock=immediate),
            so the database write lock is held from the first read

MIGRATION:
  SQLite schema is auto-migrated on Open(). MySQL schema is versioned under
  migrations/mysql and applied with golang-migrate (cmd/server -migrate up).

USAGE:
  store, err := sqlstore.Open("sqlite3", "./data/finance.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := batch.NewService(store, logger)

SEE ALSO:
  - finance/store.go: interface definitions
  - financial.go: the financial rollover script
*/
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/finance-ledger/finance"
)

const (
	DriverSQLite = "sqlite3"
	DriverMySQL  = "mysql"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn implements finance.Conn on a querier.
type conn struct {
	q         querier
	forUpdate string
}

// Store implements finance.DB. Used directly, every call autocommits.
type Store struct {
	*conn
	db     *sql.DB
	driver string
}

var _ finance.DB = (*Store)(nil)

// Open connects to the database. For SQLite, use ":memory:" for an
// in-memory database; the schema is created on open.
func Open(driver, dsn string) (*Store, error) {
	switch driver {
	case DriverSQLite:
		dsn = sqliteDSN(dsn)
	case DriverMySQL:
		dsn = mysqlDSN(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db, driver: driver, conn: &conn{q: db}}
	if driver == DriverMySQL {
		store.conn.forUpdate = " FOR UPDATE"
	} else {
		// One connection: ":memory:" databases are per connection, and
		// SQLite has a single writer anyway.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if driver == DriverSQLite {
		if err := store.migrate(); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}
	return store, nil
}

func sqliteDSN(dsn string) string {
	params := []string{"_foreign_keys=on", "_txlock=immediate", "_busy_timeout=5000"}
	if dsn != ":memory:" && !strings.Contains(dsn, "mode=memory") {
		params = append(params, "_journal_mode=WAL")
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}

// mysqlDSN makes UPDATE report matched rows, so rewriting an unchanged
// document is not mistaken for a missing row.
func mysqlDSN(dsn string) string {
	if strings.Contains(dsn, "clientFoundRows") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "clientFoundRows=true"
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Driver returns the driver the store was opened with.
func (s *Store) Driver() string {
	return s.driver
}

// migrate creates the SQLite schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS ledgers (
		id TEXT PRIMARY KEY,
		document TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS funds (
		id TEXT PRIMARY KEY,
		ledger_id TEXT NOT NULL,
		document TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_funds_ledger ON funds(ledger_id);

	CREATE TABLE IF NOT EXISTS budgets (
		id TEXT PRIMARY KEY,
		fund_id TEXT NOT NULL,
		fiscal_year_id TEXT NOT NULL,
		budget_status TEXT NOT NULL,
		document TEXT NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_budgets_fund_fy ON budgets(fund_id, fiscal_year_id);

	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		transaction_type TEXT NOT NULL,
		fiscal_year_id TEXT NOT NULL,
		from_fund_id TEXT,
		to_fund_id TEXT,
		source_invoice_id TEXT,
		encumbrance_id TEXT,
		document TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_transactions_invoice
		ON transactions(source_invoice_id) WHERE source_invoice_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_transactions_encumbrance
		ON transactions(encumbrance_id) WHERE encumbrance_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_transactions_fund_fy
		ON transactions(from_fund_id, fiscal_year_id, transaction_type);

	CREATE TABLE IF NOT EXISTS ledger_fiscal_year_rollovers (
		id TEXT PRIMARY KEY,
		ledger_id TEXT NOT NULL,
		from_fiscal_year_id TEXT NOT NULL,
		rollover_type TEXT NOT NULL,
		document TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_rollovers_ledger_fy
		ON ledger_fiscal_year_rollovers(ledger_id, from_fiscal_year_id, rollover_type);

	CREATE TABLE IF NOT EXISTS ledger_fiscal_year_rollover_progress (
		id TEXT PRIMARY KEY,
		ledger_rollover_id TEXT NOT NULL UNIQUE,
		document TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS ledger_fiscal_year_rollover_errors (
		id TEXT PRIMARY KEY,
		ledger_rollover_id TEXT NOT NULL,
		document TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_rollover_errors_rollover
		ON ledger_fiscal_year_rollover_errors(ledger_rollover_id);

	CREATE TABLE IF NOT EXISTS ledger_fiscal_year_rollover_budgets (
		id TEXT PRIMARY KEY,
		ledger_rollover_id TEXT NOT NULL,
		document TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_rollover_budgets_rollover
		ON ledger_fiscal_year_rollover_budgets(ledger_rollover_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTION SUPPORT
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(finance.Conn) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&conn{q: sqlTx, forUpdate: s.conn.forUpdate}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// =============================================================================
// HELPERS
// =============================================================================

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "Duplicate entry")
}
