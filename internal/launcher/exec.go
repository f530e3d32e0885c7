package launcher

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Replaces the current process with the tool binary.
//
// args are passed through unchanged; argv[0] is the binary path. The
// binary's existence is not checked first, the OS reports it. On success
// Exec does not return.
func Exec(l Layout, args []string) error {
	argv := append([]string{l.Binary}, args...)
	err := unix.Exec(l.Binary, argv, Environ(l, os.Environ()))
	return execError(l.Binary, err)
}

// Classifies a failure to start the binary.
func execError(binary string, err error) error {
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s: %w", ErrBinaryNotFound, binary, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrExec, binary, err)
}
