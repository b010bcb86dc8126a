package approval

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
)

// ConsoleChannel prompts a terminal reviewer. It is the local, synchronous
// channel: the prompt blocks until a line arrives, and a checkpoint that
// resolves elsewhere first simply discards the typed answer.
type ConsoleChannel struct {
	In     io.Reader
	Out    io.Writer
	Logger *zap.Logger
}

func (c *ConsoleChannel) Name() string {
	return "console"
}

func (c *ConsoleChannel) Deliver(ctx context.Context, req Request, submit func(Decision) error) {
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	c.printSummary(req)

	reader := bufio.NewReader(c.In)
	for {
		fmt.Fprintf(c.Out, "[%s] approve/reject/skip (a/r/s): ", req.CheckpointID)
		line, err := reader.ReadString('\n')
		if err != nil {
			logger.Debug("console prompt closed", zap.Error(err))
			return
		}
		action, ok := parseAction(line)
		if !ok {
			fmt.Fprintln(c.Out, "unrecognized answer")
			continue
		}

		dec := Decision{Action: action}
		if action == ActionReject {
			fmt.Fprint(c.Out, "feedback (optional): ")
			if feedback, err := reader.ReadString('\n'); err == nil {
				dec.Feedback = strings.TrimSpace(feedback)
			}
		}

		err = submit(dec)
		if errors.Is(err, ErrAlreadyResolved) {
			fmt.Fprintln(c.Out, "checkpoint was already resolved elsewhere")
			return
		}
		if err != nil {
			logger.Warn("console submission failed", zap.Error(err))
		}
		return
	}
}

func (c *ConsoleChannel) printSummary(req Request) {
	fmt.Fprintf(c.Out, "\napproval required: %s (run %s, %s iteration %d)\n",
		req.CheckpointID, req.RunID, req.Phase, req.Iteration)
	fmt.Fprintf(c.Out, "  risk: %s  estimated cost: %d¢\n", req.Risk, req.EstimatedCostCents)
	if req.Plan != nil {
		fmt.Fprintf(c.Out, "  recommendation: %s\n", req.Plan.Recommendation.Title)
		fmt.Fprintf(c.Out, "  strategy: %s\n", req.Plan.Strategy)
		for _, edit := range req.Plan.Edits {
			fmt.Fprintf(c.Out, "    %s:%d %s\n", edit.File, edit.LineNumber, edit.Operation)
		}
	}
}

func parseAction(line string) (Action, bool) {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "a", "approve", "y", "yes":
		return ActionApprove, true
	case "r", "reject", "n", "no":
		return ActionReject, true
	case "s", "skip":
		return ActionSkip, true
	}
	return "", false
}
