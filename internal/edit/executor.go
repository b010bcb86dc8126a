// Package edit applies change plans to the target tree. Application is
// deterministic and purely textual: every edit is verified against the
// trimmed content of the line it claims to touch, with a small bounded
// search to recover from stale line numbers, and skipped otherwise.
package edit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pmezard/go-difflib/difflib"
	"go.uber.org/zap"

	"polish/internal/memory"
	"polish/internal/plan"
)

// DefaultFallbackRadius is the default ±K window for the fallback search.
const DefaultFallbackRadius = 5

// MaxFallbackRadius caps K so the fallback stays a safety net, not a
// semantic search.
const MaxFallbackRadius = 10

// Outcome is the recorded result of one planned edit.
type Outcome struct {
	Edit       plan.PlannedEdit `json:"edit"`
	Result     memory.Result    `json:"result"`
	ActualLine int              `json:"actual_line,omitempty"`
	Offset     int              `json:"offset,omitempty"`
	Note       string           `json:"note,omitempty"`
	Diff       string           `json:"diff,omitempty"`
}

// Executor applies plans under a per-file single-writer discipline.
type Executor struct {
	// Root is the target tree; edit paths are resolved against it.
	Root string
	// FallbackRadius is K for the bounded fallback search. Zero means
	// DefaultFallbackRadius; values above MaxFallbackRadius are clipped.
	FallbackRadius int
	Memory         memory.Store
	RunID          string
	Log            *zap.Logger

	mu        sync.Mutex
	fileLocks map[string]*sync.Mutex
}

// NewExecutor returns an executor rooted at the target tree.
func NewExecutor(root string, mem memory.Store, log *zap.Logger) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{
		Root:      root,
		Memory:    mem,
		Log:       log,
		fileLocks: make(map[string]*sync.Mutex),
	}
}

func (e *Executor) radius() int {
	k := e.FallbackRadius
	if k <= 0 {
		k = DefaultFallbackRadius
	}
	if k > MaxFallbackRadius {
		k = MaxFallbackRadius
	}
	return k
}

func (e *Executor) lockFor(path string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fileLocks == nil {
		e.fileLocks = make(map[string]*sync.Mutex)
	}
	lock, ok := e.fileLocks[path]
	if !ok {
		lock = &sync.Mutex{}
		e.fileLocks[path] = lock
	}
	return lock
}

type fileState struct {
	lines   []string
	trailNL bool
	changed bool
}

// Apply executes every edit of the plan in list order. One edit's failure
// never aborts the plan; each resolves to exactly one Outcome and is
// appended to outcome memory. Files are written back once, and only when an
// edit actually changed content.
//
// Cancellation is honored between edits: the in-flight edit finishes, files
// already changed are still written back, and ctx.Err() is returned
// alongside the outcomes gathered so far.
func (e *Executor) Apply(ctx context.Context, p *plan.ChangePlan) ([]Outcome, error) {
	if p == nil || len(p.Edits) == 0 {
		return nil, fmt.Errorf("plan with edits is required")
	}

	paths := planPaths(p)
	for _, path := range paths {
		lock := e.lockFor(path)
		lock.Lock()
		defer lock.Unlock()
	}

	files := make(map[string]*fileState)
	outcomes := make([]Outcome, 0, len(p.Edits))

	var applyErr error
	for _, planned := range p.Edits {
		if err := ctx.Err(); err != nil {
			applyErr = err
			break
		}
		outcome := e.applyOne(planned, files)
		outcomes = append(outcomes, outcome)
		e.record(ctx, outcome)
	}

	for _, path := range paths {
		state, ok := files[path]
		if !ok || !state.changed {
			continue
		}
		if err := e.writeBack(path, state); err != nil {
			return outcomes, err
		}
	}

	return outcomes, applyErr
}

func (e *Executor) applyOne(planned plan.PlannedEdit, files map[string]*fileState) Outcome {
	state, err := e.loadFile(planned.File, files)
	if err != nil {
		return Outcome{
			Edit:   planned,
			Result: memory.ResultSkippedNotFound,
			Note:   err.Error(),
		}
	}

	expected := strings.TrimSpace(planned.ExpectedLine)
	target, offset, found := findTarget(state.lines, planned.LineNumber, expected, e.radius())
	if !found {
		result := memory.ResultSkippedMismatch
		note := "no line within the fallback window matches the expected content"
		if planned.LineNumber > len(state.lines) {
			result = memory.ResultSkippedNotFound
			note = fmt.Sprintf("stated line %d is beyond end of file (%d lines)", planned.LineNumber, len(state.lines))
		}
		return Outcome{
			Edit:   planned,
			Result: result,
			Note:   note,
			Diff:   mismatchDiff(planned, state.lines),
		}
	}

	line := state.lines[target-1]
	newLine, applied, opErr := applyOperation(line, planned.Operation, planned.Params)
	if opErr != nil {
		return Outcome{
			Edit:   planned,
			Result: memory.ResultSkippedNotFound,
			Note:   opErr.Error(),
		}
	}
	if !applied || newLine == line {
		return Outcome{
			Edit:       planned,
			Result:     memory.ResultSkippedNotFound,
			ActualLine: target,
			Offset:     offset,
			Note:       "operation target not present in the matched line",
		}
	}

	state.lines[target-1] = newLine
	state.changed = true
	e.Log.Debug("edit applied",
		zap.String("file", planned.File),
		zap.Int("stated_line", planned.LineNumber),
		zap.Int("actual_line", target),
		zap.String("operation", string(planned.Operation)),
	)
	return Outcome{
		Edit:       planned,
		Result:     memory.ResultApplied,
		ActualLine: target,
		Offset:     offset,
	}
}

// findTarget verifies the stated line and, on mismatch, scans outward within
// ±radius for an exact trimmed match, nearest first with upward (toward line
// 1) winning ties.
func findTarget(lines []string, stated int, expected string, radius int) (line, offset int, found bool) {
	matches := func(n int) bool {
		if n < 1 || n > len(lines) {
			return false
		}
		return strings.TrimSpace(lines[n-1]) == expected
	}

	if matches(stated) {
		return stated, 0, true
	}
	for d := 1; d <= radius; d++ {
		if matches(stated - d) {
			return stated - d, -d, true
		}
		if matches(stated + d) {
			return stated + d, d, true
		}
	}
	return 0, 0, false
}

func (e *Executor) loadFile(rel string, files map[string]*fileState) (*fileState, error) {
	if state, ok := files[rel]; ok {
		return state, nil
	}
	data, err := os.ReadFile(e.resolve(rel))
	if err != nil {
		return nil, fmt.Errorf("read target file: %w", err)
	}
	content := string(data)
	state := &fileState{
		lines:   plan.SplitLines(content),
		trailNL: strings.HasSuffix(content, "\n"),
	}
	files[rel] = state
	return state, nil
}

func (e *Executor) writeBack(rel string, state *fileState) error {
	content := strings.Join(state.lines, "\n")
	if state.trailNL {
		content += "\n"
	}
	if err := os.WriteFile(e.resolve(rel), []byte(content), 0o644); err != nil {
		return fmt.Errorf("write target file %s: %w", rel, err)
	}
	return nil
}

func (e *Executor) resolve(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(e.Root, rel)
}

func (e *Executor) record(ctx context.Context, outcome Outcome) {
	if e.Memory == nil {
		return
	}
	rec := memory.Record{
		File:       outcome.Edit.File,
		Line:       outcome.Edit.LineNumber,
		Operation:  string(outcome.Edit.Operation),
		Result:     outcome.Result,
		ActualLine: outcome.ActualLine,
		Offset:     outcome.Offset,
		RunID:      e.RunID,
		Note:       outcome.Note,
	}
	if err := e.Memory.Record(ctx, rec); err != nil {
		e.Log.Warn("outcome memory append failed", zap.Error(err))
	}
}

// mismatchDiff renders a unified diff of the expected line against the
// window around the stated line, so a skip can be reconstructed later.
func mismatchDiff(planned plan.PlannedEdit, lines []string) string {
	lo := planned.LineNumber - 2
	if lo < 1 {
		lo = 1
	}
	hi := planned.LineNumber + 2
	if hi > len(lines) {
		hi = len(lines)
	}
	var window []string
	for n := lo; n <= hi; n++ {
		window = append(window, strings.TrimSpace(lines[n-1])+"\n")
	}
	diff := difflib.UnifiedDiff{
		A:        []string{strings.TrimSpace(planned.ExpectedLine) + "\n"},
		B:        window,
		FromFile: fmt.Sprintf("expected:%d", planned.LineNumber),
		ToFile:   fmt.Sprintf("%s:%d-%d", planned.File, lo, hi),
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return ""
	}
	return text
}

func planPaths(p *plan.ChangePlan) []string {
	seen := make(map[string]struct{}, len(p.Edits))
	var paths []string
	for _, edit := range p.Edits {
		if _, ok := seen[edit.File]; ok {
			continue
		}
		seen[edit.File] = struct{}{}
		paths = append(paths, edit.File)
	}
	sort.Strings(paths)
	return paths
}
