// Package persistence checkpoints orchestration runs into SQLite: the brief,
// every ledger, handler outputs, revisions and review reports.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/lmandrelli/grape-coder/internal/orchestrator"
)

// ErrNotFound is wrapped when a run or revision does not exist.
var ErrNotFound = errors.New("not found")

// connPragmas apply to every pooled connection; modernc.org/sqlite reads
// them from the DSN, not from a one-off PRAGMA statement.
const connPragmas = "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

// queryTimeout bounds every statement.
const queryTimeout = 5 * time.Second

// SQLiteStore implements orchestrator.Checkpointer using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ orchestrator.Checkpointer = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite-backed store at the given path.
// Creates parent directories if needed. Enables WAL mode, foreign keys, and busy timeout.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&%s", dbPath, connPragmas)
	return open(ctx, connStr)
}

// NewMemoryStore creates an in-memory store. Each call gets its own
// database, shared by that store's connections.
func NewMemoryStore(ctx context.Context) (*SQLiteStore, error) {
	connStr := fmt.Sprintf("file:%s?mode=memory&cache=shared&%s", uuid.NewString(), connPragmas)
	return open(ctx, connStr)
}

func open(ctx context.Context, connStr string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	// Two connections: one for a query, one for the lookups made while
	// iterating its rows.
	db.SetMaxOpenConns(2)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// tx runs fn in a serializable transaction bounded by queryTimeout.
func (s *SQLiteStore) tx(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
