package notify

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"polish/internal/approval"
	"polish/internal/events"
)

// Notifier sends system notifications.
type Notifier struct {
	Enabled bool
}

// Send sends a system notification.
// On macOS, uses osascript to display notifications.
// On other platforms, this is a no-op.
func (n *Notifier) Send(title, message string) error {
	if !n.Enabled {
		return nil
	}

	if runtime.GOOS != "darwin" {
		// Only macOS supported for now
		return nil
	}

	return sendMacOSNotification(title, message)
}

// Watch consumes broker events until the channel closes, raising a desktop
// notification for checkpoints awaiting a decision and finished phases.
func (n *Notifier) Watch(sub <-chan events.Event) {
	for ev := range sub {
		switch ev.Type {
		case events.TypeApprovalRequired:
			title, message := FormatApprovalRequired(ev.CheckpointID, ev.Payload)
			n.Send(title, message)
		case events.TypePhaseComplete:
			title, message := FormatPhaseComplete(ev.RunID, ev.Payload)
			n.Send(title, message)
		}
	}
}

// sendMacOSNotification uses osascript to display a notification.
func sendMacOSNotification(title, message string) error {
	// Escape quotes in title and message
	title = strings.ReplaceAll(title, `"`, `\"`)
	message = strings.ReplaceAll(message, `"`, `\"`)

	script := fmt.Sprintf(`display notification "%s" with title "%s"`, message, title)
	cmd := exec.Command("osascript", "-e", script)

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("send notification: %w", err)
	}

	return nil
}

// FormatApprovalRequired formats a pending checkpoint notification.
func FormatApprovalRequired(checkpointID string, payload any) (title, message string) {
	title = "⏸ Polish Approval Required"
	if req, ok := payload.(approval.Request); ok {
		message = fmt.Sprintf("%s iteration %d, risk %s, ~%d¢", req.Phase, req.Iteration, req.Risk, req.EstimatedCostCents)
	} else {
		message = fmt.Sprintf("checkpoint %s is waiting for a decision", checkpointID)
	}
	return title, message
}

// FormatPhaseComplete formats a finished phase notification.
func FormatPhaseComplete(runID string, payload any) (title, message string) {
	title = "✅ Polish Phase Complete"
	type phaseSummary interface {
		Summary() string
	}
	if s, ok := payload.(phaseSummary); ok {
		message = s.Summary()
	} else {
		message = fmt.Sprintf("run %s finished a phase", runID)
	}
	return title, message
}
