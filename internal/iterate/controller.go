// Package iterate drives repeated score → plan → approve → execute cycles
// to convergence. A run has a baseline phase that chases a target score and
// an optional refinement phase that polishes until the score plateaus.
package iterate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"polish/internal/approval"
	"polish/internal/edit"
	"polish/internal/events"
	"polish/internal/memory"
	"polish/internal/observability"
	"polish/internal/oracle"
	"polish/internal/plan"
)

// Phase names the two independently configured improvement phases.
type Phase string

const (
	PhaseBaseline   Phase = "baseline"
	PhaseRefinement Phase = "refinement"
)

// Reason is a phase's terminal state. A phase always ends with one of
// these; there is no bare success/failure boolean.
type Reason string

const (
	ReasonTargetReached   Reason = "target_reached"
	ReasonPlateau         Reason = "plateau"
	ReasonBudgetExhausted Reason = "budget_exhausted"
	ReasonRejected        Reason = "rejected"
	ReasonAbandoned       Reason = "abandoned"
	ReasonOracleFailure   Reason = "oracle_failure"
	ReasonCanceled        Reason = "canceled"
)

// Defaults for refinement plateau detection.
const (
	DefaultPlateauIterations = 3
	DefaultMinImprovement    = 0.05
	DefaultOracleRetries     = 3
)

// PhaseConfig configures one phase of a run.
type PhaseConfig struct {
	Phase             Phase
	RunID             string
	URL               string
	TargetScore       float64
	MaxIterations     int
	MinImprovement    float64
	PlateauIterations int
	ApprovalTimeout   time.Duration
	BaseCostCents     int
	OracleRetries     int
}

// IterationRecord is one sealed cycle. Records form a strictly ordered,
// append-only history per run; plateau detection reads their score deltas.
type IterationRecord struct {
	Index       int                `json:"index"`
	Phase       Phase              `json:"phase"`
	ScoreBefore float64            `json:"score_before"`
	ScoreAfter  float64            `json:"score_after"`
	Plan        *plan.ChangePlan   `json:"plan,omitempty"`
	Outcomes    []edit.Outcome     `json:"outcomes,omitempty"`
	Decision    *approval.Decision `json:"decision,omitempty"`
	Notes       []string           `json:"notes,omitempty"`
	StartedAt   string             `json:"started_at"`
	SealedAt    string             `json:"sealed_at"`
}

// PhaseResult is the terminal report for one phase.
type PhaseResult struct {
	Phase      Phase             `json:"phase"`
	Reason     Reason            `json:"reason"`
	FinalScore float64           `json:"final_score"`
	Iterations []IterationRecord `json:"iterations"`
}

// Summary renders the result for notifications.
func (r PhaseResult) Summary() string {
	return fmt.Sprintf("%s ended (%s) at score %.1f after %d iterations",
		r.Phase, r.Reason, r.FinalScore, len(r.Iterations))
}

// Controller orchestrates one run. It is the only caller of the planner,
// executor, gate, and oracle; iterations are strictly sequential because
// each plan depends on the post-execution state of the previous one.
type Controller struct {
	Planner  *plan.Planner
	Executor *edit.Executor
	Gate     *approval.Gate
	Scorer   oracle.Scorer
	Capturer oracle.Capturer
	Memory   memory.Store
	Broker   *events.Broker
	Metrics  *observability.Metrics
	Log      *zap.Logger

	// LoadFiles returns the candidate files offered to the planner. Called
	// once per planning attempt so post-execution content is always fresh.
	LoadFiles func(ctx context.Context) ([]plan.CandidateFile, error)

	// SavePlan, when set, persists the plan a checkpoint decision put into
	// effect, keyed by checkpoint ID. Failures are logged, never fatal.
	SavePlan func(checkpointID string, p *plan.ChangePlan) error
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return fmt.Sprintf("run-%s-%s", time.Now().UTC().Format("20060102T150405Z"), uuid.NewString()[:8])
}

// RunPhase executes one phase to a terminal reason. The returned result is
// non-nil even on fatal failures; err is non-nil only for fatal ones
// (oracle exhaustion, cancellation).
func (c *Controller) RunPhase(ctx context.Context, cfg PhaseConfig) (*PhaseResult, error) {
	if err := c.checkConfig(&cfg); err != nil {
		return nil, err
	}
	log := c.Log
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("run_id", cfg.RunID), zap.String("phase", string(cfg.Phase)))

	result := &PhaseResult{Phase: cfg.Phase}
	defer func() {
		if c.Broker != nil && result.Reason != "" {
			c.Broker.Publish(events.Event{
				Type:    events.TypePhaseComplete,
				RunID:   cfg.RunID,
				Payload: *result,
			})
		}
	}()

	review, err := c.observe(ctx, cfg)
	if err != nil {
		result.Reason = terminalReasonFor(ctx, err)
		return result, err
	}
	score := review.Score
	result.FinalScore = score
	c.gaugeScore(cfg.RunID, score)

	if score >= cfg.TargetScore {
		result.Reason = ReasonTargetReached
		return result, nil
	}

	var deltas []float64
	for index := 1; index <= cfg.MaxIterations; index++ {
		if err := ctx.Err(); err != nil {
			result.Reason = ReasonCanceled
			return result, err
		}

		record := IterationRecord{
			Index:       index,
			Phase:       cfg.Phase,
			ScoreBefore: score,
			StartedAt:   time.Now().UTC().Format(time.RFC3339),
		}

		stop, fatalErr := c.runRecommendations(ctx, cfg, index, review.Recommendations, &record)

		record.ScoreAfter = record.ScoreBefore
		if len(record.Outcomes) > 0 && anyApplied(record.Outcomes) {
			after, err := c.observe(ctx, cfg)
			if err != nil {
				c.seal(&record, result, cfg)
				result.Reason = terminalReasonFor(ctx, err)
				result.FinalScore = score
				return result, err
			}
			record.ScoreAfter = after.Score
			review = after
		}

		c.seal(&record, result, cfg)
		score = record.ScoreAfter
		result.FinalScore = score
		c.gaugeScore(cfg.RunID, score)
		log.Info("iteration sealed",
			zap.Int("iteration", index),
			zap.Float64("score_before", record.ScoreBefore),
			zap.Float64("score_after", record.ScoreAfter),
		)

		if stop != "" {
			result.Reason = stop
			return result, fatalErr
		}
		if score >= cfg.TargetScore {
			result.Reason = ReasonTargetReached
			return result, nil
		}

		if cfg.Phase == PhaseRefinement {
			deltas = append(deltas, record.ScoreAfter-record.ScoreBefore)
			if len(deltas) > cfg.PlateauIterations {
				deltas = deltas[len(deltas)-cfg.PlateauIterations:]
			}
			if len(deltas) == cfg.PlateauIterations && allBelow(deltas, cfg.MinImprovement) {
				result.Reason = ReasonPlateau
				return result, nil
			}
		}
	}

	result.Reason = ReasonBudgetExhausted
	return result, nil
}

// runRecommendations walks recommendations in descending impact/effort
// order until one produces a plan and a decision. It returns a non-empty
// terminal reason when the decision ends the run.
func (c *Controller) runRecommendations(ctx context.Context, cfg PhaseConfig, index int, recs []oracle.Recommendation, record *IterationRecord) (Reason, error) {
	log := c.Log
	if log == nil {
		log = zap.NewNop()
	}

	sorted := sortByLeverage(recs)
	for seq, rec := range sorted {
		changePlan, err := c.planFor(ctx, rec)
		if err != nil {
			if errors.Is(err, plan.ErrNoActionableChange) {
				record.Notes = append(record.Notes, fmt.Sprintf("no actionable change for %q", rec.Title))
			} else {
				record.Notes = append(record.Notes, fmt.Sprintf("planning %q failed: %v", rec.Title, err))
				log.Warn("planning failed", zap.String("recommendation", rec.Title), zap.Error(err))
			}
			continue
		}

		risk, cost := Estimate(changePlan, cfg.BaseCostCents)
		req := approval.Request{
			CheckpointID:       fmt.Sprintf("%s-%s-%03d-%02d", cfg.RunID, cfg.Phase, index, seq+1),
			RunID:              cfg.RunID,
			Phase:              string(cfg.Phase),
			Iteration:          index,
			Plan:               changePlan,
			Recommendations:    []oracle.Recommendation{rec},
			Risk:               risk,
			EstimatedCostCents: cost,
		}

		decision, err := c.Gate.Request(ctx, req, cfg.ApprovalTimeout)
		if err != nil {
			if errors.Is(err, approval.ErrAbandoned) {
				record.Notes = append(record.Notes, "approval abandoned")
				return ReasonAbandoned, err
			}
			return ReasonCanceled, err
		}
		record.Decision = &decision
		c.countApproval(decision.Action)

		switch decision.Action {
		case approval.ActionApprove:
			record.Plan = changePlan
			c.savePlan(req.CheckpointID, changePlan)
			record.Outcomes = c.apply(ctx, changePlan, record)
			return "", nil

		case approval.ActionModify:
			replanned, err := c.replan(ctx, decision.Modified)
			if err != nil {
				record.Notes = append(record.Notes, fmt.Sprintf("re-planning after modify failed: %v", err))
				return "", nil
			}
			record.Plan = replanned
			c.savePlan(req.CheckpointID, replanned)
			record.Outcomes = c.apply(ctx, replanned, record)
			return "", nil

		case approval.ActionSkip:
			record.Plan = changePlan
			if decision.Synthetic {
				record.Notes = append(record.Notes, fmt.Sprintf("checkpoint %s skipped: %s", req.CheckpointID, decision.Reason))
			}
			return "", nil

		case approval.ActionReject:
			record.Plan = changePlan
			record.Notes = append(record.Notes, fmt.Sprintf("rejected: %s", decision.Feedback))
			c.markRejected(ctx, changePlan)
			if decision.Synthetic && decision.Reason == "canceled" {
				return ReasonCanceled, ctx.Err()
			}
			return ReasonRejected, nil
		}
	}

	if len(sorted) == 0 {
		record.Notes = append(record.Notes, "oracle returned no recommendations")
	}
	return "", nil
}

func (c *Controller) planFor(ctx context.Context, rec oracle.Recommendation) (*plan.ChangePlan, error) {
	files, err := c.LoadFiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("load candidate files: %w", err)
	}
	return c.Planner.Plan(ctx, rec, files, c.Memory)
}

// replan substitutes the reviewer's modified recommendations and plans the
// first that yields edits. The re-planned change executes without a second
// checkpoint: the reviewer already spoke.
func (c *Controller) replan(ctx context.Context, modified []oracle.Recommendation) (*plan.ChangePlan, error) {
	if len(modified) == 0 {
		return nil, fmt.Errorf("modify decision carried no recommendations")
	}
	var lastErr error
	for _, rec := range sortByLeverage(modified) {
		replanned, err := c.planFor(ctx, rec)
		if err != nil {
			lastErr = err
			continue
		}
		return replanned, nil
	}
	return nil, lastErr
}

func (c *Controller) apply(ctx context.Context, p *plan.ChangePlan, record *IterationRecord) []edit.Outcome {
	outcomes, err := c.Executor.Apply(ctx, p)
	if err != nil {
		record.Notes = append(record.Notes, fmt.Sprintf("apply: %v", err))
	}
	if c.Metrics != nil {
		for _, outcome := range outcomes {
			c.Metrics.EditsTotal.WithLabelValues(string(outcome.Result)).Inc()
		}
	}
	return outcomes
}

func (c *Controller) savePlan(checkpointID string, p *plan.ChangePlan) {
	if c.SavePlan == nil {
		return
	}
	if err := c.SavePlan(checkpointID, p); err != nil && c.Log != nil {
		c.Log.Warn("persist plan artifact failed",
			zap.String("checkpoint_id", checkpointID),
			zap.Error(err),
		)
	}
}

func (c *Controller) markRejected(ctx context.Context, p *plan.ChangePlan) {
	if c.Memory == nil || p == nil {
		return
	}
	for _, planned := range p.Edits {
		if err := c.Memory.MarkRejected(ctx, planned.File, planned.LineNumber, string(planned.Operation), p.Recommendation.Title); err != nil && c.Log != nil {
			c.Log.Warn("record rejection failed", zap.Error(err))
		}
	}
}

// observe captures a screenshot and asks the oracle to score it, retrying
// transient oracle failures with exponential backoff.
func (c *Controller) observe(ctx context.Context, cfg PhaseConfig) (*oracle.Review, error) {
	var shot oracle.Screenshot
	if c.Capturer != nil {
		var err error
		shot, err = c.Capturer.Capture(ctx, cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("capture: %w", err)
		}
	}

	var review *oracle.Review
	operation := func() error {
		r, err := c.Scorer.Score(ctx, shot)
		if err != nil {
			return err
		}
		review = r
		return nil
	}
	notify := func(err error, _ time.Duration) {
		if c.Metrics != nil {
			c.Metrics.OracleRetries.Inc()
		}
		if c.Log != nil {
			c.Log.Warn("oracle call failed, retrying", zap.Error(err))
		}
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(cfg.OracleRetries)),
		ctx,
	)
	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return nil, fmt.Errorf("oracle: %w", err)
	}
	return review, nil
}

func (c *Controller) seal(record *IterationRecord, result *PhaseResult, cfg PhaseConfig) {
	record.SealedAt = time.Now().UTC().Format(time.RFC3339)
	result.Iterations = append(result.Iterations, *record)
	if c.Metrics != nil {
		c.Metrics.IterationsTotal.WithLabelValues(string(cfg.Phase)).Inc()
	}
	if c.Broker != nil {
		c.Broker.Publish(events.Event{
			Type:    events.TypeIterationComplete,
			RunID:   cfg.RunID,
			Payload: *record,
		})
	}
}

func (c *Controller) checkConfig(cfg *PhaseConfig) error {
	if c.Planner == nil || c.Executor == nil || c.Gate == nil || c.Scorer == nil {
		return fmt.Errorf("controller requires planner, executor, gate, and scorer")
	}
	if c.LoadFiles == nil {
		return fmt.Errorf("controller requires a candidate file loader")
	}
	if cfg.Phase == "" {
		cfg.Phase = PhaseBaseline
	}
	if cfg.RunID == "" {
		cfg.RunID = NewRunID()
	}
	if cfg.MaxIterations <= 0 {
		return fmt.Errorf("max iterations must be positive")
	}
	if cfg.PlateauIterations <= 0 {
		cfg.PlateauIterations = DefaultPlateauIterations
	}
	if cfg.MinImprovement <= 0 {
		cfg.MinImprovement = DefaultMinImprovement
	}
	if cfg.OracleRetries <= 0 {
		cfg.OracleRetries = DefaultOracleRetries
	}
	return nil
}

func (c *Controller) gaugeScore(runID string, score float64) {
	if c.Metrics != nil {
		c.Metrics.Score.WithLabelValues(runID).Set(score)
	}
}

func (c *Controller) countApproval(action approval.Action) {
	if c.Metrics != nil {
		c.Metrics.ApprovalsTotal.WithLabelValues(string(action)).Inc()
	}
}

// sortByLeverage orders recommendations by impact/effort descending, the
// cheap-big-wins-first order the reviewer sees.
func sortByLeverage(recs []oracle.Recommendation) []oracle.Recommendation {
	sorted := make([]oracle.Recommendation, len(recs))
	copy(sorted, recs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return leverage(sorted[i]) > leverage(sorted[j])
	})
	return sorted
}

func leverage(rec oracle.Recommendation) float64 {
	effort := rec.Effort
	if effort <= 0 {
		effort = 1
	}
	return rec.Impact / effort
}

func allBelow(deltas []float64, threshold float64) bool {
	for _, delta := range deltas {
		if delta >= threshold {
			return false
		}
	}
	return true
}

func anyApplied(outcomes []edit.Outcome) bool {
	for _, outcome := range outcomes {
		if outcome.Result == memory.ResultApplied {
			return true
		}
	}
	return false
}

func terminalReasonFor(ctx context.Context, err error) Reason {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return ReasonCanceled
	}
	return ReasonOracleFailure
}
