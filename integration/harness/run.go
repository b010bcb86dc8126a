package harness

import (
	"bytes"
	"os"
	"os/exec"
	"testing"
)

// Result captures one polish invocation.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// RequireSuccess fails the test when the command exited non-zero, dumping
// both streams for diagnosis.
func (r Result) RequireSuccess(t *testing.T, label string) {
	t.Helper()
	if r.ExitCode != 0 {
		t.Fatalf("%s exited %d\nstdout:\n%s\nstderr:\n%s", label, r.ExitCode, r.Stdout, r.Stderr)
	}
}

// Polish runs the CLI against workspaceRoot. The workspace flag is passed
// explicitly and the process runs in a throwaway directory, so the test's
// working directory never leaks into path resolution.
func Polish(t *testing.T, binPath, workspaceRoot string, args ...string) Result {
	t.Helper()
	return PolishWithEnv(t, binPath, workspaceRoot, nil, args...)
}

// PolishWithEnv runs the CLI with extra environment variables layered over
// the test process environment.
func PolishWithEnv(t *testing.T, binPath, workspaceRoot string, env map[string]string, args ...string) Result {
	t.Helper()

	cmd := exec.Command(binPath, append([]string{"--workspace", workspaceRoot}, args...)...)
	cmd.Dir = t.TempDir()
	cmd.Env = os.Environ()
	for key, val := range env {
		cmd.Env = append(cmd.Env, key+"="+val)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	var res Result
	if err := cmd.Run(); err != nil {
		ee, ok := err.(*exec.ExitError)
		if !ok {
			t.Fatalf("run %s: %v", binPath, err)
		}
		res.ExitCode = ee.ExitCode()
	}
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	return res
}

// InitWorkspace initializes a workspace at root and fails fast on error.
func InitWorkspace(t *testing.T, binPath, root string) {
	t.Helper()
	Polish(t, binPath, root, "init").RequireSuccess(t, "polish init")
}
