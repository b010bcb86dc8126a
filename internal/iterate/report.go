package iterate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// RunReport is the durable summary of a full run, written under the
// workspace's artifacts/reports directory.
type RunReport struct {
	RunID      string        `json:"run_id"`
	URL        string        `json:"url"`
	StartedAt  string        `json:"started_at"`
	EndedAt    string        `json:"ended_at"`
	Phases     []PhaseResult `json:"phases"`
	FinalScore float64       `json:"final_score"`
	StoppedIn  Phase         `json:"stopped_in"`
	Reason     Reason        `json:"reason"`
}

// Seal fills the terminal fields from the last phase result.
func (r *RunReport) Seal() {
	if len(r.Phases) == 0 {
		return
	}
	last := r.Phases[len(r.Phases)-1]
	r.FinalScore = last.FinalScore
	r.StoppedIn = last.Phase
	r.Reason = last.Reason
}

// WriteReport writes the report as indented JSON to dir, named by run ID.
func WriteReport(dir string, report *RunReport) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}
	data = append(data, '\n')
	path := filepath.Join(dir, report.RunID+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}
