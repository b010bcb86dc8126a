// Package approval suspends a run until a human decision arrives. A
// checkpoint moves Created → Pending → Resolved exactly once; decisions may
// come from any attached channel (a blocking console prompt, the HTTP
// surface, a timeout, or run cancellation) and only the first is accepted.
package approval

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"polish/internal/decisionlog"
	"polish/internal/events"
	"polish/internal/oracle"
	"polish/internal/plan"
)

// Action is the reviewer's verdict on a checkpoint.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionSkip    Action = "skip"
	ActionModify  Action = "modify"
)

// Risk buckets a plan by estimated blast radius.
type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

var (
	// ErrAlreadyResolved is returned for submissions against a checkpoint
	// that already has an accepted decision. A normal, expected outcome for
	// late or duplicate submissions.
	ErrAlreadyResolved = errors.New("checkpoint already resolved")

	// ErrAbandoned is returned for submissions against a checkpoint this
	// process no longer knows about: the run that owned it is gone.
	ErrAbandoned = errors.New("checkpoint abandoned")
)

// Request is one approval checkpoint. CheckpointID is unique per
// run+iteration+phase.
type Request struct {
	CheckpointID       string                  `json:"checkpoint_id"`
	RunID              string                  `json:"run_id"`
	Phase              string                  `json:"phase"`
	Iteration          int                     `json:"iteration"`
	Plan               *plan.ChangePlan        `json:"plan,omitempty"`
	Recommendations    []oracle.Recommendation `json:"recommendations,omitempty"`
	Risk               Risk                    `json:"risk"`
	EstimatedCostCents int                     `json:"estimated_cost_cents"`
}

// Decision is the resolved verdict for a checkpoint. Synthetic decisions
// (timeout, cancellation) carry a Reason and no reviewer feedback.
type Decision struct {
	CheckpointID string                  `json:"checkpoint_id"`
	Action       Action                  `json:"action"`
	Feedback     string                  `json:"feedback,omitempty"`
	Modified     []oracle.Recommendation `json:"modified_recommendations,omitempty"`
	Synthetic    bool                    `json:"synthetic,omitempty"`
	Reason       string                  `json:"reason,omitempty"`
}

// Channel delivers a pending request to a decision surface. Delivery is
// fire-and-forget; a channel answers by calling submit, and a late answer
// simply gets ErrAlreadyResolved.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, req Request, submit func(Decision) error)
}

type checkpoint struct {
	req      Request
	done     chan Decision
	resolved bool
	decision Decision
}

// Gate coordinates checkpoints. The zero value is not usable; use NewGate.
type Gate struct {
	log    *decisionlog.Log
	broker *events.Broker
	logger *zap.Logger

	mu          sync.Mutex
	checkpoints map[string]*checkpoint
	channels    []Channel
}

// NewGate returns a gate publishing to broker and durably appending to log.
// Both may be nil (tests, unattended runs without a decision log).
func NewGate(log *decisionlog.Log, broker *events.Broker, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		log:         log,
		broker:      broker,
		logger:      logger,
		checkpoints: make(map[string]*checkpoint),
	}
}

// Attach registers a decision channel for all future checkpoints.
func (g *Gate) Attach(ch Channel) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.channels = append(g.channels, ch)
}

// Request suspends the caller until the checkpoint resolves. A timeout of
// zero disables the deadline (unattended operation); otherwise expiry
// resolves the checkpoint with a synthetic skip. Context cancellation
// resolves it with a synthetic reject.
func (g *Gate) Request(ctx context.Context, req Request, timeout time.Duration) (Decision, error) {
	if req.CheckpointID == "" {
		return Decision{}, fmt.Errorf("checkpoint id is required")
	}

	g.mu.Lock()
	if _, exists := g.checkpoints[req.CheckpointID]; exists {
		g.mu.Unlock()
		return Decision{}, fmt.Errorf("checkpoint %s already exists", req.CheckpointID)
	}
	cp := &checkpoint{req: req, done: make(chan Decision, 1)}
	g.checkpoints[req.CheckpointID] = cp
	channels := make([]Channel, len(g.channels))
	copy(channels, g.channels)
	g.mu.Unlock()

	g.publish(events.Event{
		Type:         events.TypeApprovalRequired,
		RunID:        req.RunID,
		CheckpointID: req.CheckpointID,
		Payload:      req,
	})

	submit := func(dec Decision) error {
		dec.CheckpointID = req.CheckpointID
		return g.Submit(context.Background(), dec)
	}
	for _, ch := range channels {
		go ch.Deliver(ctx, req, submit)
	}

	var timer *time.Timer
	var expired <-chan time.Time
	if timeout > 0 {
		timer = time.NewTimer(timeout)
		expired = timer.C
		defer timer.Stop()
	}

	for {
		select {
		case dec := <-cp.done:
			return dec, nil
		case <-expired:
			g.resolveSynthetic(req.CheckpointID, ActionSkip, "timeout")
		case <-ctx.Done():
			g.resolveSynthetic(req.CheckpointID, ActionReject, "canceled")
		}
	}
}

// Submit resolves a pending checkpoint. Exactly one submission is accepted;
// the rest get ErrAlreadyResolved, and submissions for checkpoints this
// process never knew (or has since dropped) get ErrAbandoned.
func (g *Gate) Submit(ctx context.Context, dec Decision) error {
	if dec.CheckpointID == "" {
		return fmt.Errorf("checkpoint id is required")
	}
	if err := validAction(dec.Action); err != nil {
		return err
	}

	g.mu.Lock()
	cp, ok := g.checkpoints[dec.CheckpointID]
	if !ok {
		g.mu.Unlock()
		if g.hasStored(ctx, dec.CheckpointID) {
			return ErrAlreadyResolved
		}
		return ErrAbandoned
	}
	if cp.resolved {
		g.mu.Unlock()
		return ErrAlreadyResolved
	}
	cp.resolved = true
	cp.decision = dec
	// Payload is discarded at resolution; only the outcome is retained.
	req := cp.req
	cp.req = Request{CheckpointID: req.CheckpointID, RunID: req.RunID}
	g.mu.Unlock()

	g.append(ctx, req, dec)
	g.publish(events.Event{
		Type:         events.TypeApprovalResolved,
		RunID:        req.RunID,
		CheckpointID: dec.CheckpointID,
		Payload:      dec,
	})
	cp.done <- dec
	return nil
}

// Status reports whether a checkpoint is pending. ok is false for
// checkpoints this process does not know, which reconnecting clients must
// treat as abandoned.
func (g *Gate) Status(checkpointID string) (pending bool, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	cp, exists := g.checkpoints[checkpointID]
	if !exists {
		return false, false
	}
	return !cp.resolved, true
}

// Pending lists currently unresolved checkpoints.
func (g *Gate) Pending() []Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	var pending []Request
	for _, cp := range g.checkpoints {
		if !cp.resolved {
			pending = append(pending, cp.req)
		}
	}
	return pending
}

// CancelRun resolves every pending checkpoint of the run with a synthetic
// reject, unblocking the waiters.
func (g *Gate) CancelRun(runID string) {
	g.mu.Lock()
	var ids []string
	for id, cp := range g.checkpoints {
		if !cp.resolved && cp.req.RunID == runID {
			ids = append(ids, id)
		}
	}
	g.mu.Unlock()
	for _, id := range ids {
		g.resolveSynthetic(id, ActionReject, "canceled")
	}
}

func (g *Gate) resolveSynthetic(checkpointID string, action Action, reason string) {
	err := g.Submit(context.Background(), Decision{
		CheckpointID: checkpointID,
		Action:       action,
		Synthetic:    true,
		Reason:       reason,
	})
	if err != nil && !errors.Is(err, ErrAlreadyResolved) {
		g.logger.Warn("synthetic resolution failed",
			zap.String("checkpoint_id", checkpointID),
			zap.Error(err),
		)
	}
}

func (g *Gate) append(ctx context.Context, req Request, dec Decision) {
	if g.log == nil {
		return
	}
	err := g.log.Append(ctx, decisionlog.Entry{
		RunID:        req.RunID,
		CheckpointID: dec.CheckpointID,
		Action:       string(dec.Action),
		Feedback:     dec.Feedback,
	}, dec)
	if err != nil && !errors.Is(err, decisionlog.ErrAlreadyStored) {
		g.logger.Warn("decision log append failed",
			zap.String("checkpoint_id", dec.CheckpointID),
			zap.Error(err),
		)
	}
}

func (g *Gate) hasStored(ctx context.Context, checkpointID string) bool {
	if g.log == nil {
		return false
	}
	entry, err := g.log.GetByCheckpoint(ctx, checkpointID)
	return err == nil && entry != nil
}

func (g *Gate) publish(ev events.Event) {
	if g.broker != nil {
		g.broker.Publish(ev)
	}
}

func validAction(action Action) error {
	switch action {
	case ActionApprove, ActionReject, ActionSkip, ActionModify:
		return nil
	}
	return fmt.Errorf("unknown action %q", action)
}
