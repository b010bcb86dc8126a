package plan

import (
	"strings"
	"testing"
)

func TestRenderNumbered(t *testing.T) {
	got := RenderNumbered(CandidateFile{
		Path:    "index.html",
		Content: "<html>\n<body>\n</html>\n",
	})
	for _, want := range []string{"=== index.html ===", "1→<html>", "2→<body>", "3→</html>"} {
		if !strings.Contains(got, want) {
			t.Fatalf("rendered output missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "4→") {
		t.Fatalf("phantom line after trailing newline:\n%s", got)
	}
}

func TestSplitLines(t *testing.T) {
	tests := []struct {
		content string
		want    int
	}{
		{"", 0},
		{"one", 1},
		{"one\n", 1},
		{"one\ntwo", 2},
		{"one\ntwo\n", 2},
		{"one\n\nthree\n", 3},
	}
	for _, tt := range tests {
		if got := len(SplitLines(tt.content)); got != tt.want {
			t.Fatalf("SplitLines(%q) = %d lines, want %d", tt.content, got, tt.want)
		}
	}
}
