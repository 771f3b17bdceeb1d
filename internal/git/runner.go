package git

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
)

// Result is what a finished program left behind.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Runner runs an external program. The error is non-nil only when the
// program could not be started or was interrupted; a non-zero exit is
// reported through Result.ExitCode.
type Runner interface {
	Run(ctx context.Context, program string, args []string, dir string) (Result, error)
}

// ExecRunner implements Runner with os/exec.
type ExecRunner struct{}

// Run executes program and waits for it.
func (ExecRunner) Run(ctx context.Context, program string, args []string, dir string) (Result, error) {
	cmd := exec.CommandContext(ctx, program, args...)
	cmd.Dir = dir
	// Messages are matched in English and git must never prompt.
	cmd.Env = append(os.Environ(), "LC_ALL=C", "GIT_TERMINAL_PROMPT=0")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return res, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, ctxErr
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	return res, err
}
