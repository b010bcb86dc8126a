package oracle

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// CommandCapturer shells out to a configured screenshot CLI. The command's
// argv may reference {url} and {out}; the capturer substitutes them, runs
// the command, and reads the written image back.
type CommandCapturer struct {
	// Command is the argv to run, e.g.
	// ["shot-scraper", "{url}", "-o", "{out}", "--wait", "2000"].
	Command []string
	// OutDir receives the captured images; one file per capture.
	OutDir string
	// Timeout bounds a single capture. Zero means no deadline.
	Timeout time.Duration
}

func (c *CommandCapturer) Name() string { return "command" }

func (c *CommandCapturer) Capture(ctx context.Context, url string) (Screenshot, error) {
	if len(c.Command) == 0 {
		return Screenshot{}, fmt.Errorf("capture command is required")
	}
	if c.OutDir == "" {
		return Screenshot{}, fmt.Errorf("capture output dir is required")
	}
	if err := os.MkdirAll(c.OutDir, 0o755); err != nil {
		return Screenshot{}, fmt.Errorf("create capture dir: %w", err)
	}

	outPath := filepath.Join(c.OutDir, fmt.Sprintf("capture-%s.png", time.Now().UTC().Format("20060102T150405.000Z")))

	runCtx := ctx
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	args := make([]string, 0, len(c.Command)-1)
	for _, arg := range c.Command[1:] {
		arg = strings.ReplaceAll(arg, "{url}", url)
		arg = strings.ReplaceAll(arg, "{out}", outPath)
		args = append(args, arg)
	}

	cmd := exec.CommandContext(runCtx, c.Command[0], args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return Screenshot{}, fmt.Errorf("capture command failed: %w: %s", err, strings.TrimSpace(string(output)))
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return Screenshot{}, fmt.Errorf("read captured image: %w", err)
	}
	return Screenshot{Data: data, MIME: "image/png", SourceURL: url, Path: outPath}, nil
}

// StaticCapturer serves a fixture image for every capture. Used with
// FileScorer and MockScorer for offline runs.
type StaticCapturer struct {
	Path string
}

func (c *StaticCapturer) Name() string { return "static" }

func (c *StaticCapturer) Capture(_ context.Context, url string) (Screenshot, error) {
	if c.Path == "" {
		return Screenshot{Data: []byte{}, MIME: "image/png", SourceURL: url}, nil
	}
	data, err := os.ReadFile(c.Path)
	if err != nil {
		return Screenshot{}, fmt.Errorf("read fixture image: %w", err)
	}
	return Screenshot{Data: data, MIME: "image/png", SourceURL: url, Path: c.Path}, nil
}
