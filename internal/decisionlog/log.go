// Package decisionlog durably appends resolved approval decisions. The log
// is keyed by (run, checkpoint) with a uniqueness constraint so the same
// checkpoint's decision can never be stored twice.
package decisionlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ErrAlreadyStored marks a duplicate append for a checkpoint that already
// has a stored decision.
var ErrAlreadyStored = errors.New("decision already stored for checkpoint")

// Entry is one durably stored decision.
type Entry struct {
	RunID        string `json:"run_id"`
	CheckpointID string `json:"checkpoint_id"`
	Action       string `json:"action"`
	Feedback     string `json:"feedback,omitempty"`
	PayloadJSON  string `json:"payload_json,omitempty"`
	DecidedAt    string `json:"decided_at"`
}

// Log writes decisions to a SQLite database.
type Log struct {
	DBPath string
	db     *sql.DB
}

// Open opens or creates the decision log at path.
func Open(path string) (*Log, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve decision db path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return nil, fmt.Errorf("ensure decision db dir: %w", err)
	}

	db, err := sql.Open("sqlite", absPath)
	if err != nil {
		return nil, fmt.Errorf("open decision db: %w", err)
	}

	l := &Log{DBPath: absPath, db: db}
	if err := l.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Log) ensureSchema() error {
	_, err := l.db.Exec(`
		CREATE TABLE IF NOT EXISTS decisions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			checkpoint_id TEXT NOT NULL,
			action TEXT NOT NULL,
			feedback TEXT,
			payload_json TEXT,
			decided_at TEXT NOT NULL,
			UNIQUE (run_id, checkpoint_id)
		)
	`)
	if err != nil {
		return fmt.Errorf("create decision schema: %w", err)
	}
	return nil
}

// Append stores a resolved decision. Appending a second decision for the
// same (run, checkpoint) returns ErrAlreadyStored.
func (l *Log) Append(ctx context.Context, entry Entry, payload any) error {
	if entry.RunID == "" || entry.CheckpointID == "" || entry.Action == "" {
		return fmt.Errorf("decision entry requires run_id, checkpoint_id, and action")
	}
	if entry.DecidedAt == "" {
		entry.DecidedAt = time.Now().UTC().Format(time.RFC3339)
	}
	payloadJSON := entry.PayloadJSON
	if payloadJSON == "" && payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal decision payload: %w", err)
		}
		payloadJSON = string(data)
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO decisions (run_id, checkpoint_id, action, feedback, payload_json, decided_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, entry.RunID, entry.CheckpointID, entry.Action, entry.Feedback, payloadJSON, entry.DecidedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyStored
		}
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

// Get returns the stored decision for a checkpoint, if any.
func (l *Log) Get(ctx context.Context, runID, checkpointID string) (*Entry, error) {
	var entry Entry
	var feedback, payloadJSON sql.NullString
	err := l.db.QueryRowContext(ctx, `
		SELECT run_id, checkpoint_id, action, feedback, payload_json, decided_at
		FROM decisions
		WHERE run_id = ? AND checkpoint_id = ?
	`, runID, checkpointID).Scan(
		&entry.RunID, &entry.CheckpointID, &entry.Action,
		&feedback, &payloadJSON, &entry.DecidedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get decision: %w", err)
	}
	if feedback.Valid {
		entry.Feedback = feedback.String
	}
	if payloadJSON.Valid {
		entry.PayloadJSON = payloadJSON.String
	}
	return &entry, nil
}

// GetByCheckpoint returns the stored decision for a checkpoint without
// knowing its run. Checkpoint IDs embed the run ID, so at most one row
// matches.
func (l *Log) GetByCheckpoint(ctx context.Context, checkpointID string) (*Entry, error) {
	var entry Entry
	var feedback, payloadJSON sql.NullString
	err := l.db.QueryRowContext(ctx, `
		SELECT run_id, checkpoint_id, action, feedback, payload_json, decided_at
		FROM decisions
		WHERE checkpoint_id = ?
	`, checkpointID).Scan(
		&entry.RunID, &entry.CheckpointID, &entry.Action,
		&feedback, &payloadJSON, &entry.DecidedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get decision: %w", err)
	}
	if feedback.Valid {
		entry.Feedback = feedback.String
	}
	if payloadJSON.Valid {
		entry.PayloadJSON = payloadJSON.String
	}
	return &entry, nil
}

// List returns all decisions for a run in append order.
func (l *Log) List(ctx context.Context, runID string) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT run_id, checkpoint_id, action, feedback, payload_json, decided_at
		FROM decisions
		WHERE run_id = ?
		ORDER BY id ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var entry Entry
		var feedback, payloadJSON sql.NullString
		if err := rows.Scan(
			&entry.RunID, &entry.CheckpointID, &entry.Action,
			&feedback, &payloadJSON, &entry.DecidedAt,
		); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		if feedback.Valid {
			entry.Feedback = feedback.String
		}
		if payloadJSON.Valid {
			entry.PayloadJSON = payloadJSON.String
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate decisions: %w", err)
	}
	return entries, nil
}

func (l *Log) Close() error {
	if l.db != nil {
		return l.db.Close()
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique")
}
