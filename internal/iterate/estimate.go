package iterate

import (
	"math"

	"polish/internal/approval"
	"polish/internal/plan"
)

// Risk thresholds over the plan's recommendation impact and effort scores.
const (
	highImpactThreshold   = 7.0
	highEffortThreshold   = 6.0
	mediumEitherThreshold = 5.0
)

// Estimate buckets a plan's risk and prices it in cents. Both are pure
// functions of the plan so the preview shown at a checkpoint is
// reproducible from the decision log.
func Estimate(p *plan.ChangePlan, baseCents int) (approval.Risk, int) {
	impact := p.Recommendation.Impact
	effort := p.Recommendation.Effort

	risk := approval.RiskLow
	switch {
	case impact >= highImpactThreshold && effort >= highEffortThreshold:
		risk = approval.RiskHigh
	case impact >= mediumEitherThreshold || effort >= mediumEitherThreshold:
		risk = approval.RiskMedium
	}

	cost := int(math.Ceil(float64(baseCents) * (1 + effort/10)))
	return risk, cost
}
