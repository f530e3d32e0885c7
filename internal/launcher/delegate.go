package launcher

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
)

// Runs the tool binary as a child process and returns its exit code.
//
// This is the non-replacing counterpart of [Exec], for callers that must
// stay alive after the tool exits. The child inherits the layout's
// environment and the given streams. A non-zero exit is reported through
// the code, not as an error; err is set only when the binary could not be
// started.
func Delegate(ctx context.Context, l Layout, args []string, stdin io.Reader, stdout, stderr io.Writer) (int, error) {
	cmd := exec.CommandContext(ctx, l.Binary, args...)
	cmd.Env = Environ(l, os.Environ())
	cmd.Stdin = stdin
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	if err != nil {
		return -1, execError(l.Binary, err)
	}
	return 0, nil
}
