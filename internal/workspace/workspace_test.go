package workspace

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveLaysOutStandardPaths(t *testing.T) {
	root := t.TempDir()
	ws, err := Resolve(root)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ws.TargetDir != filepath.Join(root, "target") {
		t.Fatalf("target dir = %s", ws.TargetDir)
	}
	if ws.PlansDir != filepath.Join(root, "artifacts", "plans") {
		t.Fatalf("plans dir = %s", ws.PlansDir)
	}
	if ws.DecisionDBPath != filepath.Join(root, "state", "decisions.sqlite") {
		t.Fatalf("decision db = %s", ws.DecisionDBPath)
	}
	if ws.MemoryDBPath != filepath.Join(root, "state", "memory.sqlite") {
		t.Fatalf("memory db = %s", ws.MemoryDBPath)
	}
	if ws.ConfigPath != filepath.Join(root, "polish.yml") {
		t.Fatalf("config path = %s", ws.ConfigPath)
	}
}

func TestResolveRejectsMissingRoot(t *testing.T) {
	if _, err := Resolve(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatal("expected error for missing root")
	}
}

func TestEnsureDirs(t *testing.T) {
	ws, err := Resolve(t.TempDir())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if err := ws.EnsureDirs(); err != nil {
		t.Fatalf("EnsureDirs: %v", err)
	}
	for _, dir := range []string{ws.ArtifactsDir, ws.ReportsDir, ws.PlansDir, ws.ScreenshotsDir, ws.StateDir} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Fatalf("dir %s not created: %v", dir, err)
		}
	}
}

func TestResolvePath(t *testing.T) {
	root := t.TempDir()
	ws, err := Resolve(root)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	got, err := ws.ResolvePath("reviews.yml")
	if err != nil {
		t.Fatalf("ResolvePath: %v", err)
	}
	if got != filepath.Join(root, "reviews.yml") {
		t.Fatalf("relative path resolved to %s", got)
	}

	abs := filepath.Join(root, "abs.yml")
	got, err = ws.ResolvePath(abs)
	if err != nil {
		t.Fatalf("ResolvePath: %v", err)
	}
	if got != abs {
		t.Fatalf("absolute path resolved to %s", got)
	}

	got, err = ws.ResolvePath("  ")
	if err != nil {
		t.Fatalf("ResolvePath: %v", err)
	}
	if got != "" {
		t.Fatalf("blank path resolved to %q", got)
	}
}
