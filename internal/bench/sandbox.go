package bench

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"mend/internal/validate"
)

// CommandSandbox shells out to an external harness for test execution. The
// harness receives the issue, suite, selection, and a patch file path, and
// prints a JSON object {"cases": {"test_name": bool, ...}} on stdout.
// Safe for concurrent use: each invocation gets its own patch file.
type CommandSandbox struct {
	// Command is the harness executable; invoked as:
	//   {command} --issue {issue} --suite {suite}
	// with MEND_PATCH_FILE and MEND_TESTS in the environment.
	Command string
	// Snapshots locates the repository snapshot passed via MEND_REPO_DIR.
	Snapshots *FSSnapshots
}

type harnessOutput struct {
	Cases map[string]bool `json:"cases"`
}

// RunTests applies the patch and runs the selection in the external harness.
// Harness failures are returned as errors; the caller records them as
// inconclusive verdicts.
func (s *CommandSandbox) RunTests(ctx context.Context, issue, patch string, sel validate.Selection) (*validate.Verdict, error) {
	patchFile, err := os.CreateTemp("", "mend-patch-*.diff")
	if err != nil {
		return nil, fmt.Errorf("create patch file: %w", err)
	}
	defer os.Remove(patchFile.Name())
	if _, err := patchFile.WriteString(patch); err != nil {
		patchFile.Close()
		return nil, fmt.Errorf("write patch file: %w", err)
	}
	patchFile.Close()

	cmd := exec.CommandContext(ctx, s.Command, "--issue", issue, "--suite", string(sel.Suite))
	cmd.Env = append(os.Environ(),
		"MEND_PATCH_FILE="+patchFile.Name(),
		"MEND_REPO_DIR="+s.Snapshots.RepoDir(issue),
		"MEND_TESTS="+strings.Join(sel.Tests, ","),
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("harness for %s (%s): %w: %s", issue, sel.Suite, err, firstLine(stderr.String()))
	}

	var out harnessOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return nil, fmt.Errorf("decode harness output for %s: %w", issue, err)
	}
	return &validate.Verdict{Issue: issue, Suite: sel.Suite, Cases: out.Cases}, nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
