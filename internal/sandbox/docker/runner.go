package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
)

// CommandRunner runs a host command and reports its exit code. A non-nil
// error means the command could not be run at all.
type CommandRunner interface {
	Run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) (exitCode int, err error)
}

// ExecRunner implements CommandRunner with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) (int, error) {
	if len(args) < 1 {
		return 0, fmt.Errorf("no command provided")
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...) //nolint:gosec // arguments are built by this package
	cmd.Stdin = stdin
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return 0, err
	}
	return 0, nil
}
