package launcher

import (
	"errors"
	"fmt"
	"io"
)

// Exit codes following shell conventions for commands that cannot run.
const (
	ExitNotFound      = 127
	ExitNotExecutable = 126
)

// Runs the launcher installed at executable with args.
//
// On success the process is replaced and Main never returns. Otherwise a
// one-line diagnostic is written to stderr and the exit code for the
// failure is returned.
func Main(executable string, args []string, stderr io.Writer) int {
	layout, err := Resolve(executable)
	if err == nil {
		err = Exec(layout, args)
	}

	fmt.Fprintf(stderr, "%s: %v\n", executable, err)
	return ExitCode(err)
}

// Maps a failure to start the tool onto a shell exit code.
func ExitCode(err error) int {
	if errors.Is(err, ErrBinaryNotFound) {
		return ExitNotFound
	}
	return ExitNotExecutable
}
