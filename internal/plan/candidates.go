package plan

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultCandidateExtensions are the file types offered to the planner when
// no explicit list is configured.
var DefaultCandidateExtensions = []string{".html", ".htm", ".css", ".jsx", ".tsx", ".js", ".ts", ".vue", ".svelte"}

// LoadCandidates reads up to max markup and style files under root, sorted
// by path for stable prompts. Paths in the result are relative to root,
// matching the paths the executor resolves.
func LoadCandidates(root string, extensions []string, max int) ([]CandidateFile, error) {
	if len(extensions) == 0 {
		extensions = DefaultCandidateExtensions
	}
	wanted := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		wanted[strings.ToLower(ext)] = true
	}

	var paths []string
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			if name := entry.Name(); name == "node_modules" || strings.HasPrefix(name, ".") && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if wanted[strings.ToLower(filepath.Ext(path))] {
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			paths = append(paths, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	sort.Strings(paths)
	if max > 0 && len(paths) > max {
		paths = paths[:max]
	}

	files := make([]CandidateFile, 0, len(paths))
	for _, rel := range paths {
		content, err := os.ReadFile(filepath.Join(root, rel))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", rel, err)
		}
		files = append(files, CandidateFile{Path: rel, Content: string(content)})
	}
	return files, nil
}
