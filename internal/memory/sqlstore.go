package memory

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLStore is a durable Store backed by SQLite, shared across runs over the
// same target.
type SQLStore struct {
	DBPath string
	db     *sql.DB
}

// OpenSQL opens or creates the outcome memory database at path.
func OpenSQL(path string) (*SQLStore, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve memory db path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return nil, fmt.Errorf("ensure memory db dir: %w", err)
	}

	db, err := sql.Open("sqlite", absPath)
	if err != nil {
		return nil, fmt.Errorf("open memory db: %w", err)
	}

	store := &SQLStore{DBPath: absPath, db: db}
	if err := store.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLStore) ensureSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS attempts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	file TEXT NOT NULL,
	line INTEGER NOT NULL,
	operation TEXT NOT NULL,
	result TEXT NOT NULL,
	actual_line INTEGER,
	line_offset INTEGER,
	run_id TEXT,
	note TEXT,
	recorded_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_attempts_triple ON attempts(file, line, operation);

CREATE TABLE IF NOT EXISTS rejections (
	file TEXT NOT NULL,
	line INTEGER NOT NULL,
	operation TEXT NOT NULL,
	note TEXT,
	recorded_at TEXT NOT NULL,
	PRIMARY KEY (file, line, operation)
);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create memory schema: %w", err)
	}
	return nil
}

func (s *SQLStore) Record(ctx context.Context, rec Record) error {
	if rec.File == "" || rec.Line <= 0 || rec.Operation == "" {
		return fmt.Errorf("record requires file, positive line, and operation")
	}
	if rec.RecordedAt == "" {
		rec.RecordedAt = time.Now().UTC().Format(time.RFC3339)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attempts (file, line, operation, result, actual_line, line_offset, run_id, note, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.File, rec.Line, rec.Operation, string(rec.Result), rec.ActualLine, rec.Offset, rec.RunID, rec.Note, rec.RecordedAt)
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

func (s *SQLStore) Failed(ctx context.Context, file string, line int, operation string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM attempts
		WHERE file = ? AND line = ? AND operation = ? AND result IN (?, ?)
	`, file, line, operation, string(ResultSkippedMismatch), string(ResultSkippedNotFound)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query attempts: %w", err)
	}
	return n > 0, nil
}

func (s *SQLStore) Rejected(ctx context.Context, file string, line int, operation string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM rejections WHERE file = ? AND line = ? AND operation = ?",
		file, line, operation,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query rejections: %w", err)
	}
	return n > 0, nil
}

func (s *SQLStore) MarkRejected(ctx context.Context, file string, line int, operation string, note string) error {
	if file == "" || line <= 0 || operation == "" {
		return fmt.Errorf("rejection requires file, positive line, and operation")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO rejections (file, line, operation, note, recorded_at)
		VALUES (?, ?, ?, ?, ?)
	`, file, line, operation, note, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("insert rejection: %w", err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
