package plan

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
}

func TestLoadCandidates(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "index.html", "<html></html>")
	writeFile(t, root, "css/app.css", "body {}")
	writeFile(t, root, "notes.txt", "not a candidate")
	writeFile(t, root, "node_modules/pkg/ui.css", "ignored")

	files, err := LoadCandidates(root, nil, 0)
	if err != nil {
		t.Fatalf("LoadCandidates: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("got %d files, want 2: %+v", len(files), files)
	}
	// Sorted by relative path.
	if files[0].Path != filepath.Join("css", "app.css") || files[1].Path != "index.html" {
		t.Fatalf("paths = %s, %s", files[0].Path, files[1].Path)
	}
	if files[1].Content != "<html></html>" {
		t.Fatalf("content = %q", files[1].Content)
	}
}

func TestLoadCandidatesHonorsCap(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"a.html", "b.html", "c.html"} {
		writeFile(t, root, name, "<p>x</p>")
	}
	files, err := LoadCandidates(root, nil, 2)
	if err != nil {
		t.Fatalf("LoadCandidates: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("got %d files, want 2", len(files))
	}
}

func TestLoadCandidatesCustomExtensions(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "page.html", "<p>x</p>")
	writeFile(t, root, "app.vue", "<template></template>")

	files, err := LoadCandidates(root, []string{".vue"}, 0)
	if err != nil {
		t.Fatalf("LoadCandidates: %v", err)
	}
	if len(files) != 1 || files[0].Path != "app.vue" {
		t.Fatalf("files = %+v", files)
	}
}
