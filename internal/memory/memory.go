// Package memory records past edit attempts so planners can stop
// re-proposing edits that already failed or were rejected by a reviewer.
//
// Records are keyed by (file, stated line, operation) against the target
// file's identity, not by run: two runs over the same target share memory.
package memory

import "context"

// Result classifies the outcome of a single planned edit.
type Result string

const (
	ResultApplied         Result = "applied"
	ResultSkippedMismatch Result = "skipped_mismatch"
	ResultSkippedNotFound Result = "skipped_not_found"
)

// Record is one observed attempt at a (file, line, operation) triple.
type Record struct {
	File       string `json:"file"`
	Line       int    `json:"line"`
	Operation  string `json:"operation"`
	Result     Result `json:"result"`
	ActualLine int    `json:"actual_line,omitempty"`
	Offset     int    `json:"offset,omitempty"`
	RunID      string `json:"run_id,omitempty"`
	Note       string `json:"note,omitempty"`
	RecordedAt string `json:"recorded_at"`
}

// Store is the outcome memory consulted by the planner and appended to by
// the executor. Implementations must support concurrent readers and
// serialized appends.
type Store interface {
	// Record appends an attempt. Append-only; existing records are never
	// rewritten.
	Record(ctx context.Context, rec Record) error

	// Failed reports whether the triple previously resolved to a skip.
	Failed(ctx context.Context, file string, line int, operation string) (bool, error)

	// Rejected reports whether a reviewer explicitly rejected the triple.
	Rejected(ctx context.Context, file string, line int, operation string) (bool, error)

	// MarkRejected records a reviewer rejection for the triple.
	MarkRejected(ctx context.Context, file string, line int, operation string, note string) error

	Close() error
}
