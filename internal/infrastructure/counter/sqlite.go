// Package counter persists per-target execution counts between runs.
package counter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/alexisbeaulieu97/convergo/internal/domain/reconcile"
	"github.com/alexisbeaulieu97/convergo/internal/ports"
)

// DefaultFileName is the database created inside the state directory.
const DefaultFileName = "convergo.db"

const (
	lastOutcomeUnsatisfied = "unsatisfied"
	lastOutcomeSatisfied   = "satisfied"
)

// SQLite stores counters in a single table.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
	mu  sync.Mutex
}

var _ ports.ExecutionCounter = (*SQLite)(nil)

// Open creates or opens the counter database at path. Use ":memory:" for a
// throwaway store.
func Open(path string) (*SQLite, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, reconcile.NewError(reconcile.ErrCodeValidation, "counter database path is required", nil, nil)
	}

	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, reconcile.NewError(reconcile.ErrCodeInternal, "create state directory", err,
				map[string]interface{}{"path": path})
		}
		dsn = path + "?" + url.Values{
			"_pragma": []string{
				"busy_timeout(30000)",
				"journal_mode(WAL)",
				"synchronous(NORMAL)",
			},
		}.Encode()
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, reconcile.NewError(reconcile.ErrCodeInternal, "open counter database", err,
			map[string]interface{}{"path": path})
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLite{db: db, now: time.Now}
	if err := s.initSchema(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, errors.Join(err, fmt.Errorf("close counter db after schema init failure: %w", closeErr))
		}
		return nil, err
	}
	return s, nil
}

func (s *SQLite) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS execution_counters (
		target_key TEXT PRIMARY KEY,
		executions INTEGER NOT NULL DEFAULT 0,
		last_outcome TEXT NOT NULL DEFAULT '',
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return reconcile.NewError(reconcile.ErrCodeInternal, "init counter schema", err, nil)
	}
	return nil
}

// Increment records one more unsatisfied execution of key.
func (s *SQLite) Increment(ctx context.Context, key string) (int, error) {
	if err := validateKey(key); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO execution_counters (target_key, executions, last_outcome, updated_at)
		VALUES (?, 1, ?, ?)
		ON CONFLICT(target_key) DO UPDATE SET
			executions = executions + 1,
			last_outcome = excluded.last_outcome,
			updated_at = excluded.updated_at`,
		key, lastOutcomeUnsatisfied, s.now().UTC().Unix())
	if err != nil {
		return 0, wrap(ctx, "increment counter", key, err)
	}

	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT executions FROM execution_counters WHERE target_key = ?`, key).Scan(&n); err != nil {
		return 0, wrap(ctx, "read counter", key, err)
	}
	return n, nil
}

// Get returns the stored count for key.
func (s *SQLite) Get(ctx context.Context, key string) (int, error) {
	if err := validateKey(key); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT executions FROM execution_counters WHERE target_key = ?`, key).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, wrap(ctx, "read counter", key, err)
	}
	return n, nil
}

// Reset zeroes the count and marks the target satisfied.
func (s *SQLite) Reset(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO execution_counters (target_key, executions, last_outcome, updated_at)
		VALUES (?, 0, ?, ?)
		ON CONFLICT(target_key) DO UPDATE SET
			executions = 0,
			last_outcome = excluded.last_outcome,
			updated_at = excluded.updated_at`,
		key, lastOutcomeSatisfied, s.now().UTC().Unix())
	if err != nil {
		return wrap(ctx, "reset counter", key, err)
	}
	return nil
}

// History lists every counter ordered by key.
func (s *SQLite) History(ctx context.Context) ([]ports.CounterEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT target_key, executions, last_outcome, updated_at
		FROM execution_counters
		ORDER BY target_key`)
	if err != nil {
		return nil, wrap(ctx, "list counters", "", err)
	}
	defer rows.Close()

	var entries []ports.CounterEntry
	for rows.Next() {
		var (
			entry   ports.CounterEntry
			updated int64
		)
		if err := rows.Scan(&entry.Key, &entry.Executions, &entry.LastOutcome, &updated); err != nil {
			return nil, wrap(ctx, "scan counter", "", err)
		}
		entry.UpdatedAt = time.Unix(updated, 0).UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(ctx, "list counters", "", err)
	}
	return entries, nil
}

// Close releases the database handle.
func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func validateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return reconcile.NewError(reconcile.ErrCodeValidation, "counter key is required", nil, nil)
	}
	return nil
}

func wrap(ctx context.Context, message, key string, err error) error {
	code := reconcile.ErrCodeInternal
	if ctx.Err() != nil {
		code = reconcile.ErrCodeCancelled
	}
	var details map[string]interface{}
	if key != "" {
		details = map[string]interface{}{"key": key}
	}
	return reconcile.NewError(code, message, err, details)
}
