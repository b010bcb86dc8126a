package plan

import (
	"fmt"
	"strings"
)

// RenderNumbered prints file content with explicit 1-indexed line prefixes.
// The printed number is the planner's only valid coordinate system: edits
// must cite lines exactly as numbered here.
func RenderNumbered(f CandidateFile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "=== %s ===\n", f.Path)
	for i, line := range SplitLines(f.Content) {
		fmt.Fprintf(&b, "%d→%s\n", i+1, line)
	}
	return b.String()
}

// SplitLines splits content into lines without the trailing newline
// producing a phantom empty line.
func SplitLines(content string) []string {
	if content == "" {
		return nil
	}
	lines := strings.Split(content, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" && strings.HasSuffix(content, "\n") {
		lines = lines[:len(lines)-1]
	}
	return lines
}
