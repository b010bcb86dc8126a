// Package plan turns a single recommendation into a verified, line-anchored
// change plan. The planner is read-only: it inspects candidate files and
// outcome memory but never writes to the target tree.
package plan

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"polish/internal/memory"
	"polish/internal/oracle"
)

// DefaultMaxCandidateFiles bounds how many files are offered per plan.
const DefaultMaxCandidateFiles = 10

// ProposeRequest is what a Source sees: the recommendation and the numbered
// candidate files.
type ProposeRequest struct {
	Recommendation oracle.Recommendation
	Files          []CandidateFile
}

// Source produces a draft plan for a recommendation. Implementations
// include a model-backed source and a deterministic mock.
type Source interface {
	Name() string
	Propose(ctx context.Context, req ProposeRequest) (*ChangePlan, error)
}

// Planner validates and filters draft plans from a Source.
type Planner struct {
	Source   Source
	MaxFiles int
	Log      *zap.Logger
}

// NewPlanner returns a planner over the given source. A nil logger is
// replaced with a no-op logger.
func NewPlanner(source Source, log *zap.Logger) *Planner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Planner{Source: source, MaxFiles: DefaultMaxCandidateFiles, Log: log}
}

// Plan produces a validated change plan for rec, or ErrNoActionableChange
// when nothing viable remains after schema checks and memory exclusions.
func (p *Planner) Plan(ctx context.Context, rec oracle.Recommendation, files []CandidateFile, mem memory.Store) (*ChangePlan, error) {
	if p.Source == nil {
		return nil, fmt.Errorf("plan source is required")
	}
	if len(files) == 0 {
		return nil, ErrNoActionableChange
	}
	maxFiles := p.MaxFiles
	if maxFiles <= 0 {
		maxFiles = DefaultMaxCandidateFiles
	}
	if len(files) > maxFiles {
		return nil, fmt.Errorf("%d candidate files exceeds the cap of %d", len(files), maxFiles)
	}

	draft, err := p.Source.Propose(ctx, ProposeRequest{Recommendation: rec, Files: files})
	if err != nil {
		return nil, fmt.Errorf("propose plan: %w", err)
	}
	if err := Validate(draft); err != nil {
		return nil, fmt.Errorf("invalid plan from %s: %w", p.Source.Name(), err)
	}

	kept, err := p.filterKnownFailures(ctx, draft.Edits, mem)
	if err != nil {
		return nil, err
	}
	if len(kept) == 0 {
		return nil, ErrNoActionableChange
	}
	if dropped := len(draft.Edits) - len(kept); dropped > 0 {
		p.Log.Debug("dropped edits with prior failures",
			zap.Int("dropped", dropped),
			zap.String("recommendation", rec.Title),
		)
	}

	return &ChangePlan{
		Recommendation: rec,
		Strategy:       draft.Strategy,
		ExpectedImpact: draft.ExpectedImpact,
		Edits:          kept,
	}, nil
}

// filterKnownFailures drops edits whose (file, line, operation) triple
// previously skipped or was rejected by a reviewer.
func (p *Planner) filterKnownFailures(ctx context.Context, edits []PlannedEdit, mem memory.Store) ([]PlannedEdit, error) {
	if mem == nil {
		return edits, nil
	}
	kept := make([]PlannedEdit, 0, len(edits))
	for _, edit := range edits {
		failed, err := mem.Failed(ctx, edit.File, edit.LineNumber, string(edit.Operation))
		if err != nil {
			return nil, fmt.Errorf("consult outcome memory: %w", err)
		}
		if failed {
			continue
		}
		rejected, err := mem.Rejected(ctx, edit.File, edit.LineNumber, string(edit.Operation))
		if err != nil {
			return nil, fmt.Errorf("consult outcome memory: %w", err)
		}
		if rejected {
			continue
		}
		kept = append(kept, edit)
	}
	return kept, nil
}
