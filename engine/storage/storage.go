// Package storage owns the single database handle behind the engine's
// broker worker pool. Every SQL statement for the lifetime of an open
// database flows through a Store; no other package touches *gorm.DB
// directly (spec.md §4.1, §5 "ownership of the handle"). A Store is safe
// for concurrent use by the broker's multiple worker goroutines: an open
// transaction is carried in the caller's context, never in Store state
// shared across calls, so two concurrent callers can never see or affect
// each other's transaction (spec.md §4.2 invariant 6, §8 scenario 6).
package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gorm.io/gorm"

	"github.com/strataeng/strata/internal/database"
	"github.com/strataeng/strata/internal/fault"
)

// SchemaVersion is the current schema version this package knows how to
// create and migrate to. Forward migrations only (spec.md §4.1, §6).
const SchemaVersion = 4

// Pragmas are the SQLite pragmas applied at open, matching spec.md §4.1 and
// the gotchas in §9: disk journaling to avoid WASM-style heap pressure
// (there is no WASM heap in native Go, but the same disk-over-memory
// tradeoff holds for the cgo sqlite3 driver's page cache), NORMAL
// synchronous durability, and a cache size sized conservatively rather
// than the SQLite default.
type Pragmas struct {
	JournalMode string // default "DELETE"
	Synchronous string // default "NORMAL"
	TempStore   string // default "MEMORY"
	CacheSizeKB int    // default 8192 (~8MB, see spec §9 gotcha 4)
}

// DefaultPragmas returns the pragma set spec.md §4.1 names explicitly.
func DefaultPragmas() Pragmas {
	return Pragmas{
		JournalMode: "DELETE",
		Synchronous: "NORMAL",
		TempStore:   "MEMORY",
		CacheSizeKB: 8192,
	}
}

// Store owns one database handle for the lifetime of an engine. The
// broker runs a pool of worker goroutines (not one goroutine), so a Store
// must tolerate concurrent callers directly: an open transaction is never
// kept in a field shared across calls, only in the context of the request
// that owns it (see txKey/withTx/txFromContext below), so one caller's
// Begin/Commit bracket can never catch an unrelated concurrent request's
// statements (spec.md §4.2's "same execution context" requirement means
// the caller threads the same context through Begin..Commit, not that the
// whole Store is single-threaded).
type Store struct {
	dbMu     sync.RWMutex
	db       database.Database
	filename string
	pragmas  Pragmas
	logger   *slog.Logger
}

// txKey is the context key an open transaction's *gorm.DB is stored under.
type txKey struct{}

// withTx returns a copy of ctx carrying tx as its active transaction.
// Every Store call made with the returned context (or any context derived
// from it) runs against tx rather than the ambient session.
func withTx(ctx context.Context, tx *gorm.DB) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// txFromContext returns the transaction carried by ctx, if any.
func txFromContext(ctx context.Context) (*gorm.DB, bool) {
	tx, ok := ctx.Value(txKey{}).(*gorm.DB)
	return tx, ok
}

// Rows is the result of a SELECT: column names plus row data, matching the
// `exec` operation's response shape in spec.md §6.
type Rows struct {
	Columns []string
	Rows    [][]any
	// Affected is the number of rows affected by a non-SELECT statement.
	Affected int64
}

// Open opens or creates filename, applies pragmas, and initializes (or
// migrates) the schema. filename is a DSN understood by internal/database
// ("sqlite:///path", "postgres://...", or "sqlite:///:memory:" for tests).
func Open(ctx context.Context, filename string, pragmas Pragmas, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := database.NewDatabase(ctx, filename)
	if err != nil {
		return nil, fault.Wrap(fault.KindSqlError, "open database", err)
	}

	s := &Store{db: db, filename: filename, pragmas: pragmas, logger: logger}

	if db.IsSQLite() {
		if err := s.applyPragmas(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) applyPragmas(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf("PRAGMA journal_mode=%s", orDefault(s.pragmas.JournalMode, "DELETE")),
		fmt.Sprintf("PRAGMA synchronous=%s", orDefault(s.pragmas.Synchronous, "NORMAL")),
		fmt.Sprintf("PRAGMA temp_store=%s", orDefault(s.pragmas.TempStore, "MEMORY")),
		fmt.Sprintf("PRAGMA cache_size=-%d", cacheSizeOrDefault(s.pragmas.CacheSizeKB)),
	}
	for _, stmt := range stmts {
		if err := s.db.Session(ctx).Exec(stmt).Error; err != nil {
			return fault.Wrap(fault.KindSqlError, "apply pragma", err).WithDetails(map[string]any{"stmt": stmt})
		}
	}
	return nil
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func cacheSizeOrDefault(kb int) int {
	if kb <= 0 {
		return 8192
	}
	return kb
}

// session returns the gorm session to issue statements against: ctx's
// carried transaction if one is present (via withTx), otherwise a plain
// session against the ambient database handle.
func (s *Store) session(ctx context.Context) *gorm.DB {
	if tx, ok := txFromContext(ctx); ok {
		return tx.WithContext(ctx)
	}
	return s.dbHandle().Session(ctx)
}

// dbHandle returns the current database handle, synchronized against
// Import's handle swap (the only mutation s.db ever undergoes after Open).
func (s *Store) dbHandle() database.Database {
	s.dbMu.RLock()
	defer s.dbMu.RUnlock()
	return s.db
}

// DB exposes the active session for other engine packages (ingest,
// search, embed cache tier 3) that need direct GORM access. Those
// packages still only ever reach the handle through a Store value — this
// keeps exclusive ownership (spec.md §5) while letting sibling packages
// compose real queries instead of a closed Exec(sql, params) surface that
// can't express joins or struct scanning.
func (s *Store) DB(ctx context.Context) *gorm.DB {
	return s.session(ctx)
}

// IsPostgres reports whether the store was opened against Postgres.
func (s *Store) IsPostgres() bool { return s.db.IsPostgres() }

// IsSQLite reports whether the store was opened against SQLite.
func (s *Store) IsSQLite() bool { return s.db.IsSQLite() }

// Logger returns the store's logger for sibling packages that log
// storage-adjacent events (e.g. ingest's per-document failures).
func (s *Store) Logger() *slog.Logger { return s.logger }

// Exec executes a single statement. For SELECT statements it returns
// Rows{Columns, Rows}; for everything else it returns Rows{Affected}. If
// ctx carries a transaction (via BeginTx/Transaction), the statement runs
// against it; otherwise it runs against the ambient session.
func (s *Store) Exec(ctx context.Context, sql string, params ...any) (Rows, error) {
	trimmed := strings.TrimSpace(strings.ToUpper(sql))
	if strings.HasPrefix(trimmed, "SELECT") || strings.HasPrefix(trimmed, "PRAGMA") || strings.HasPrefix(trimmed, "WITH") {
		return s.query(ctx, sql, params...)
	}

	result := s.session(ctx).Exec(sql, params...)
	if result.Error != nil {
		return Rows{}, classifySQLError(result.Error)
	}
	return Rows{Affected: result.RowsAffected}, nil
}

func (s *Store) query(ctx context.Context, sql string, params ...any) (Rows, error) {
	sqlRows, err := s.session(ctx).Raw(sql, params...).Rows()
	if err != nil {
		return Rows{}, classifySQLError(err)
	}
	defer func() { _ = sqlRows.Close() }()

	cols, err := sqlRows.Columns()
	if err != nil {
		return Rows{}, fault.Wrap(fault.KindSqlError, "read columns", err)
	}

	var out [][]any
	for sqlRows.Next() {
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := sqlRows.Scan(ptrs...); err != nil {
			return Rows{}, fault.Wrap(fault.KindSqlError, "scan row", err)
		}
		out = append(out, raw)
	}
	if err := sqlRows.Err(); err != nil {
		return Rows{}, fault.Wrap(fault.KindSqlError, "iterate rows", err)
	}

	return Rows{Columns: cols, Rows: out}, nil
}

// BulkExec executes many statements in order under an implicit
// transaction (spec.md §4.1 bulk_exec). If any statement fails the whole
// batch rolls back. If ctx already carries a transaction (a Begin/Commit
// bracket, or an enclosing Transaction call), bulk_exec participates in
// it rather than nesting (spec.md §4.1 "nesting is not supported").
func (s *Store) BulkExec(ctx context.Context, statements []Statement) error {
	if _, ok := txFromContext(ctx); ok {
		for _, stmt := range statements {
			if _, err := s.Exec(ctx, stmt.SQL, stmt.Params...); err != nil {
				return err
			}
		}
		return nil
	}

	return s.dbHandle().Session(ctx).Transaction(func(gtx *gorm.DB) error {
		txCtx := withTx(ctx, gtx)
		for _, stmt := range statements {
			if _, err := s.Exec(txCtx, stmt.SQL, stmt.Params...); err != nil {
				return err
			}
		}
		return nil
	})
}

// Statement is one entry of a BulkExec batch.
type Statement struct {
	SQL    string
	Params []any
}

// BeginTx opens an explicit transaction and returns a context carrying it.
// Every subsequent Store call made with the returned context (or any
// context derived from it) runs inside this transaction, until CommitTx
// or RollbackTx is called with that same context — this is the "same
// execution context" requirement spec.md §4.2 calls a hard requirement.
// The broker is responsible for threading that one context through every
// request of a begin/commit bracket (see engine/broker's transaction-
// token ownership); a Store itself places no restriction on which
// goroutine calls it, since the transaction lives in ctx, never in Store
// state shared across callers.
func (s *Store) BeginTx(ctx context.Context) (context.Context, error) {
	if _, ok := txFromContext(ctx); ok {
		return nil, fault.NewError(fault.KindInvalidRequest, "transaction already open; nesting is not supported")
	}
	tx := s.dbHandle().Session(ctx).Begin()
	if tx.Error != nil {
		return nil, fault.Wrap(fault.KindSqlError, "begin transaction", tx.Error)
	}
	return withTx(ctx, tx), nil
}

// CommitTx commits the transaction carried by ctx.
func (s *Store) CommitTx(ctx context.Context) error {
	tx, ok := txFromContext(ctx)
	if !ok {
		return fault.NewError(fault.KindInvalidRequest, "no transaction open")
	}
	if err := tx.WithContext(ctx).Commit().Error; err != nil {
		return fault.Wrap(fault.KindSqlError, "commit transaction", err)
	}
	return nil
}

// RollbackTx rolls back the transaction carried by ctx.
func (s *Store) RollbackTx(ctx context.Context) error {
	tx, ok := txFromContext(ctx)
	if !ok {
		return fault.NewError(fault.KindInvalidRequest, "no transaction open")
	}
	if err := tx.WithContext(ctx).Rollback().Error; err != nil {
		return fault.Wrap(fault.KindSqlError, "rollback transaction", err)
	}
	return nil
}

// Transaction runs fn under a single transaction boundary and commits or
// rolls back based on its return value, passing fn the context to use for
// every store call made inside the transaction. This is the closure style
// the ingest coordinator uses for batch_insert (spec.md §4.2), distinct
// from the explicit BeginTx/CommitTx/RollbackTx surface the broker exposes
// to foreground callers for the `begin`/`commit` message pair (spec.md
// §4.5).
func (s *Store) Transaction(ctx context.Context, fn func(txCtx context.Context) error) error {
	if _, ok := txFromContext(ctx); ok {
		return fault.NewError(fault.KindInvalidRequest, "transaction already open; nesting is not supported")
	}

	return s.dbHandle().Session(ctx).Transaction(func(gtx *gorm.DB) error {
		return fn(withTx(ctx, gtx))
	})
}

// Export serializes the entire SQLite database file as a byte blob
// (spec.md §6 `export`). Only supported for file-backed SQLite stores;
// in-memory stores and Postgres stores return an error, since there is
// no single portable file to read.
func (s *Store) Export() ([]byte, error) {
	path, err := s.sqlitePath()
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fault.Wrap(fault.KindSqlError, "open database file for export", err)
	}
	defer func() { _ = f.Close() }()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fault.Wrap(fault.KindSqlError, "read database file", err)
	}
	return data, nil
}

// Import replaces the current database file with bytes, after validating
// its schema version (spec.md §6 `import`). Import reopens the same file
// itself and swaps the store's handle to it; the reopened handle does not
// have Open's pragmas re-applied and is not migrated.
func (s *Store) Import(ctx context.Context, data []byte) error {
	path, err := s.sqlitePath()
	if err != nil {
		return err
	}

	tmp := path + ".import.tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fault.Wrap(fault.KindSqlError, "write import temp file", err)
	}

	tmpDB, err := database.NewDatabase(ctx, "sqlite:///"+tmp)
	if err != nil {
		_ = os.Remove(tmp)
		return fault.Wrap(fault.KindSchemaMismatch, "open imported database", err)
	}
	version, err := readSchemaVersion(ctx, tmpDB)
	_ = tmpDB.Close()
	if err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if version > SchemaVersion {
		_ = os.Remove(tmp)
		return fault.NewError(fault.KindSchemaMismatch, fmt.Sprintf("imported schema version %d is newer than supported version %d", version, SchemaVersion))
	}

	s.dbMu.Lock()
	defer s.dbMu.Unlock()
	if err := s.db.Close(); err != nil {
		_ = os.Remove(tmp)
		return fault.Wrap(fault.KindSqlError, "close current database before import", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fault.Wrap(fault.KindSqlError, "replace database file", err)
	}

	newDB, err := database.NewDatabase(ctx, s.filename)
	if err != nil {
		return fault.Wrap(fault.KindSqlError, "reopen database after import", err)
	}
	s.db = newDB
	return nil
}

// FilePath returns the on-disk path of a file-backed SQLite store, for
// callers that need to stat the file directly (e.g. reporting db_size_bytes
// in `stats`). Returns an error for Postgres or in-memory stores.
func (s *Store) FilePath() (string, error) {
	return s.sqlitePath()
}

func (s *Store) sqlitePath() (string, error) {
	const prefix = "sqlite:///"
	if !strings.HasPrefix(s.filename, prefix) {
		return "", fault.NewError(fault.KindInvalidRequest, "export/import is only supported for file-backed SQLite databases")
	}
	path := strings.TrimPrefix(s.filename, prefix)
	if path == ":memory:" {
		return "", fault.NewError(fault.KindInvalidRequest, "export/import is not supported for in-memory databases")
	}
	return path, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	s.dbMu.Lock()
	defer s.dbMu.Unlock()
	return s.db.Close()
}

// classifySQLError maps a raw driver/gorm error into the closed error
// taxonomy (spec.md §7), preserving the engine's numeric code in Details
// where available.
func classifySQLError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unique constraint"), strings.Contains(msg, "unique_violation"),
		strings.Contains(msg, "duplicate key"), strings.Contains(msg, "not null constraint"),
		strings.Contains(msg, "check constraint"):
		return fault.Wrap(fault.KindConstraintViolation, "constraint violation", err)
	case strings.Contains(msg, "database or disk is full"), strings.Contains(msg, "disk full"):
		return fault.Wrap(fault.KindQuotaExceeded, "storage quota exceeded", err)
	default:
		return fault.Wrap(fault.KindSqlError, "sql statement failed", err)
	}
}
