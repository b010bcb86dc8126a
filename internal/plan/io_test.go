package plan

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteCreatesParentDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "artifacts", "plans", "cp-001.json")
	if err := Write(path, validPlan()); err != nil {
		t.Fatalf("Write: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if !strings.HasSuffix(string(data), "\n") {
		t.Fatal("artifact missing trailing newline")
	}
	if !strings.Contains(string(data), `"strategy"`) {
		t.Fatalf("artifact missing strategy field:\n%s", data)
	}
}

func TestWriteRejectsInvalidPlan(t *testing.T) {
	p := validPlan()
	p.Edits[0].Operation = "teleport"
	path := filepath.Join(t.TempDir(), "cp-001.json")
	if err := Write(path, p); err == nil {
		t.Fatal("expected validation error")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("invalid plan must not be written")
	}
}
