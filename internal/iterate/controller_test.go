package iterate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"polish/internal/approval"
	"polish/internal/edit"
	"polish/internal/events"
	"polish/internal/memory"
	"polish/internal/oracle"
	"polish/internal/plan"
)

// autoChannel answers every checkpoint immediately with a fixed action.
type autoChannel struct {
	action   approval.Action
	feedback string
}

func (a autoChannel) Name() string { return "auto" }

func (a autoChannel) Deliver(_ context.Context, _ approval.Request, submit func(approval.Decision) error) {
	submit(approval.Decision{Action: a.action, Feedback: a.feedback})
}

func rec(title string) oracle.Recommendation {
	return oracle.Recommendation{
		Dimension:   "visual_hierarchy",
		Title:       title,
		Description: "test recommendation",
		Impact:      6,
		Effort:      2,
	}
}

func review(score float64, titles ...string) oracle.Review {
	r := oracle.Review{Score: score}
	for _, title := range titles {
		r.Recommendations = append(r.Recommendations, rec(title))
	}
	return r
}

// textDraft plans one text_content_update of old → new at line 1.
func textDraft(old, new string) *plan.ChangePlan {
	return &plan.ChangePlan{
		Strategy: "test",
		Edits: []plan.PlannedEdit{{
			File:         "index.html",
			LineNumber:   1,
			ExpectedLine: fmt.Sprintf("<p>%s</p>", old),
			Operation:    plan.OpTextContentUpdate,
			Params:       map[string]string{"old_text": old, "new_text": new},
		}},
	}
}

type fixture struct {
	dir        string
	mem        *memory.MemStore
	gate       *approval.Gate
	controller *Controller
	scorer     *oracle.MockScorer
}

func newFixture(t *testing.T, scorer *oracle.MockScorer, drafts []*plan.ChangePlan, action approval.Action) *fixture {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<p>v1</p>\n"), 0o644); err != nil {
		t.Fatalf("write target: %v", err)
	}

	mem := memory.NewMemStore()
	gate := approval.NewGate(nil, nil, nil)
	gate.Attach(autoChannel{action: action, feedback: "because"})

	controller := &Controller{
		Planner:  plan.NewPlanner(&plan.MockSource{Drafts: drafts}, nil),
		Executor: edit.NewExecutor(dir, mem, nil),
		Gate:     gate,
		Scorer:   scorer,
		Memory:   mem,
		LoadFiles: func(context.Context) ([]plan.CandidateFile, error) {
			return plan.LoadCandidates(dir, nil, 0)
		},
	}
	return &fixture{dir: dir, mem: mem, gate: gate, controller: controller, scorer: scorer}
}

func TestBaselineStopsWhenTargetReached(t *testing.T) {
	scorer := &oracle.MockScorer{Reviews: []oracle.Review{
		review(6.0, "improve contrast"),
		review(7.0, "improve contrast"),
		review(8.0, "improve contrast"),
		review(8.7),
	}}
	f := newFixture(t, scorer, []*plan.ChangePlan{
		textDraft("v1", "v2"),
		textDraft("v2", "v3"),
		textDraft("v3", "v4"),
	}, approval.ActionApprove)

	result, err := f.controller.RunPhase(context.Background(), PhaseConfig{
		Phase:         PhaseBaseline,
		RunID:         "run-t",
		TargetScore:   8.5,
		MaxIterations: 5,
		OracleRetries: 1,
	})
	if err != nil {
		t.Fatalf("RunPhase: %v", err)
	}
	if result.Reason != ReasonTargetReached {
		t.Fatalf("reason = %s, want target_reached", result.Reason)
	}
	if len(result.Iterations) != 3 {
		t.Fatalf("ran %d iterations, want 3", len(result.Iterations))
	}
	if result.FinalScore != 8.7 {
		t.Fatalf("final score = %g, want 8.7", result.FinalScore)
	}
	if scorer.Calls() != 4 {
		t.Fatalf("oracle called %d times, want 4", scorer.Calls())
	}
}

func TestInitialScoreAlreadyAtTarget(t *testing.T) {
	scorer := &oracle.MockScorer{Reviews: []oracle.Review{review(9.0)}}
	f := newFixture(t, scorer, nil, approval.ActionApprove)

	result, err := f.controller.RunPhase(context.Background(), PhaseConfig{
		Phase:         PhaseBaseline,
		RunID:         "run-t",
		TargetScore:   8.5,
		MaxIterations: 5,
	})
	if err != nil {
		t.Fatalf("RunPhase: %v", err)
	}
	if result.Reason != ReasonTargetReached || len(result.Iterations) != 0 {
		t.Fatalf("reason = %s with %d iterations, want target_reached with none", result.Reason, len(result.Iterations))
	}
}

func TestRefinementStopsOnPlateau(t *testing.T) {
	// Deltas per iteration: +0.5, +0.02, +0.01, +0.03. With a window of 3
	// below 0.05 the phase must stop after the fourth iteration.
	scorer := &oracle.MockScorer{Reviews: []oracle.Review{
		review(7.00, "polish spacing"),
		review(7.50, "polish spacing"),
		review(7.52, "polish spacing"),
		review(7.53, "polish spacing"),
		review(7.56, "polish spacing"),
	}}
	f := newFixture(t, scorer, []*plan.ChangePlan{
		textDraft("v1", "v2"),
		textDraft("v2", "v3"),
		textDraft("v3", "v4"),
		textDraft("v4", "v5"),
	}, approval.ActionApprove)

	result, err := f.controller.RunPhase(context.Background(), PhaseConfig{
		Phase:             PhaseRefinement,
		RunID:             "run-t",
		TargetScore:       10,
		MaxIterations:     10,
		MinImprovement:    0.05,
		PlateauIterations: 3,
	})
	if err != nil {
		t.Fatalf("RunPhase: %v", err)
	}
	if result.Reason != ReasonPlateau {
		t.Fatalf("reason = %s, want plateau", result.Reason)
	}
	if len(result.Iterations) != 4 {
		t.Fatalf("ran %d iterations, want 4", len(result.Iterations))
	}
}

func TestRejectionEndsPhaseAndMarksMemory(t *testing.T) {
	scorer := &oracle.MockScorer{Reviews: []oracle.Review{
		review(6.0, "improve contrast"),
	}}
	f := newFixture(t, scorer, []*plan.ChangePlan{textDraft("v1", "v2")}, approval.ActionReject)

	result, err := f.controller.RunPhase(context.Background(), PhaseConfig{
		Phase:         PhaseBaseline,
		RunID:         "run-t",
		TargetScore:   8.5,
		MaxIterations: 5,
	})
	if err != nil {
		t.Fatalf("RunPhase: %v", err)
	}
	if result.Reason != ReasonRejected {
		t.Fatalf("reason = %s, want rejected", result.Reason)
	}
	if len(result.Iterations) != 1 {
		t.Fatalf("ran %d iterations, want 1", len(result.Iterations))
	}

	rejected, err := f.mem.Rejected(context.Background(), "index.html", 1, string(plan.OpTextContentUpdate))
	if err != nil {
		t.Fatalf("Rejected: %v", err)
	}
	if !rejected {
		t.Fatal("rejected edit not recorded in outcome memory")
	}

	// The target file must be untouched.
	data, err := os.ReadFile(filepath.Join(f.dir, "index.html"))
	if err != nil {
		t.Fatalf("read target: %v", err)
	}
	if string(data) != "<p>v1</p>\n" {
		t.Fatalf("target changed after rejection: %q", data)
	}
}

func TestSkipAdvancesWithoutApplying(t *testing.T) {
	scorer := &oracle.MockScorer{Reviews: []oracle.Review{
		review(6.0, "improve contrast"),
	}}
	f := newFixture(t, scorer, []*plan.ChangePlan{
		textDraft("v1", "v2"),
		textDraft("v1", "v2"),
	}, approval.ActionSkip)

	result, err := f.controller.RunPhase(context.Background(), PhaseConfig{
		Phase:         PhaseBaseline,
		RunID:         "run-t",
		TargetScore:   8.5,
		MaxIterations: 2,
	})
	if err != nil {
		t.Fatalf("RunPhase: %v", err)
	}
	if result.Reason != ReasonBudgetExhausted {
		t.Fatalf("reason = %s, want budget_exhausted", result.Reason)
	}
	if len(result.Iterations) != 2 {
		t.Fatalf("ran %d iterations, want 2", len(result.Iterations))
	}
	for i, record := range result.Iterations {
		if len(record.Outcomes) != 0 {
			t.Fatalf("iteration %d applied edits despite skip", i+1)
		}
		if record.ScoreAfter != record.ScoreBefore {
			t.Fatalf("iteration %d changed score without applying", i+1)
		}
	}
	// No re-scoring happens when nothing was applied.
	if scorer.Calls() != 1 {
		t.Fatalf("oracle called %d times, want 1", scorer.Calls())
	}
}

// modifyChannel answers the first checkpoint with substituted
// recommendations and counts how many checkpoints it was shown.
type modifyChannel struct {
	modified  []oracle.Recommendation
	delivered int
}

func (m *modifyChannel) Name() string { return "modify" }

func (m *modifyChannel) Deliver(_ context.Context, _ approval.Request, submit func(approval.Decision) error) {
	m.delivered++
	submit(approval.Decision{Action: approval.ActionModify, Modified: m.modified})
}

func TestModifyReplansWithoutSecondCheckpoint(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<p>v1</p>\n"), 0o644); err != nil {
		t.Fatalf("write target: %v", err)
	}

	// The oracle suggests contrast work; the reviewer substitutes spacing.
	source := plan.SourceFunc(func(_ context.Context, req plan.ProposeRequest) (*plan.ChangePlan, error) {
		switch req.Recommendation.Title {
		case "improve contrast":
			return textDraft("v1", "contrast"), nil
		case "tighten spacing":
			return textDraft("v1", "spacing"), nil
		}
		return nil, fmt.Errorf("unexpected recommendation %q", req.Recommendation.Title)
	})

	channel := &modifyChannel{modified: []oracle.Recommendation{{
		Dimension: "spacing",
		Title:     "tighten spacing",
		Impact:    5,
		Effort:    2,
	}}}
	gate := approval.NewGate(nil, nil, nil)
	gate.Attach(channel)

	scorer := &oracle.MockScorer{Reviews: []oracle.Review{
		review(6.0, "improve contrast"),
		review(9.0),
	}}
	mem := memory.NewMemStore()
	plansDir := t.TempDir()
	controller := &Controller{
		Planner:  plan.NewPlanner(source, nil),
		Executor: edit.NewExecutor(dir, mem, nil),
		Gate:     gate,
		Scorer:   scorer,
		Memory:   mem,
		LoadFiles: func(context.Context) ([]plan.CandidateFile, error) {
			return plan.LoadCandidates(dir, nil, 0)
		},
		SavePlan: func(checkpointID string, p *plan.ChangePlan) error {
			return plan.Write(filepath.Join(plansDir, checkpointID+".json"), p)
		},
	}

	result, err := controller.RunPhase(context.Background(), PhaseConfig{
		Phase:         PhaseBaseline,
		RunID:         "run-t",
		TargetScore:   8.5,
		MaxIterations: 3,
	})
	if err != nil {
		t.Fatalf("RunPhase: %v", err)
	}
	if result.Reason != ReasonTargetReached {
		t.Fatalf("reason = %s, want target_reached", result.Reason)
	}
	if channel.delivered != 1 {
		t.Fatalf("channel saw %d checkpoints, want 1", channel.delivered)
	}

	// The substituted recommendation's plan must have been applied.
	data, err := os.ReadFile(filepath.Join(dir, "index.html"))
	if err != nil {
		t.Fatalf("read target: %v", err)
	}
	if string(data) != "<p>spacing</p>\n" {
		t.Fatalf("target = %q, want the re-planned spacing edit applied", data)
	}

	record := result.Iterations[0]
	if record.Decision == nil || record.Decision.Action != approval.ActionModify {
		t.Fatalf("decision = %+v, want modify", record.Decision)
	}
	if record.Plan == nil || record.Plan.Recommendation.Title != "tighten spacing" {
		t.Fatalf("recorded plan = %+v, want the re-planned one", record.Plan)
	}

	// The executed plan is persisted under the checkpoint that approved it.
	artifact, err := os.ReadFile(filepath.Join(plansDir, "run-t-baseline-001-01.json"))
	if err != nil {
		t.Fatalf("read plan artifact: %v", err)
	}
	if !strings.Contains(string(artifact), "tighten spacing") {
		t.Fatalf("plan artifact holds the wrong plan:\n%s", artifact)
	}
}

func TestOracleExhaustionIsFatal(t *testing.T) {
	boom := errors.New("oracle down")
	scorer := &oracle.MockScorer{Errs: []error{boom, boom, boom}}
	f := newFixture(t, scorer, nil, approval.ActionApprove)

	result, err := f.controller.RunPhase(context.Background(), PhaseConfig{
		Phase:         PhaseBaseline,
		RunID:         "run-t",
		TargetScore:   8.5,
		MaxIterations: 3,
		OracleRetries: 2,
	})
	if err == nil {
		t.Fatal("expected error from exhausted oracle")
	}
	if result.Reason != ReasonOracleFailure {
		t.Fatalf("reason = %s, want oracle_failure", result.Reason)
	}
	if scorer.Calls() != 3 {
		t.Fatalf("oracle called %d times, want initial plus 2 retries", scorer.Calls())
	}
}

func TestPhaseCompleteEventPublished(t *testing.T) {
	broker := events.NewBroker()
	sub, cancel := broker.Subscribe()
	defer cancel()

	scorer := &oracle.MockScorer{Reviews: []oracle.Review{review(9.0)}}
	f := newFixture(t, scorer, nil, approval.ActionApprove)
	f.controller.Broker = broker

	if _, err := f.controller.RunPhase(context.Background(), PhaseConfig{
		Phase:         PhaseBaseline,
		RunID:         "run-t",
		TargetScore:   8.5,
		MaxIterations: 1,
	}); err != nil {
		t.Fatalf("RunPhase: %v", err)
	}

	select {
	case ev := <-sub:
		if ev.Type != events.TypePhaseComplete {
			t.Fatalf("event type = %s, want phase_complete", ev.Type)
		}
		result, ok := ev.Payload.(PhaseResult)
		if !ok {
			t.Fatalf("payload is %T, want PhaseResult", ev.Payload)
		}
		if result.Reason != ReasonTargetReached {
			t.Fatalf("payload reason = %s", result.Reason)
		}
	default:
		t.Fatal("no phase_complete event published")
	}
}
