package launcher

import (
	"bytes"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// When set, the test binary acts as a launcher installed at this path.
const launcherSelfEnv = "CRUXFORGE_TEST_LAUNCHER_SELF"

func TestMain(m *testing.M) {
	if self := os.Getenv(launcherSelfEnv); self != "" {
		os.Exit(Main(self, os.Args[1:], os.Stderr))
	}
	os.Exit(m.Run())
}

// Runs the test binary as a launcher placed at self and returns its output
// and exit code.
func launch(t *testing.T, self string, env []string, args ...string) (string, string, int) {
	t.Helper()
	exe, err := os.Executable()
	require.NoError(t, err)

	var stdout, stderr bytes.Buffer
	cmd := exec.Command(exe, args...)
	cmd.Env = append(append(os.Environ(), launcherSelfEnv+"="+self), env...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return stdout.String(), stderr.String(), exitErr.ExitCode()
	}
	require.NoError(t, err)
	return stdout.String(), stderr.String(), 0
}

func TestExecZeroArgsInMovedTree(t *testing.T) {
	base := t.TempDir()
	original := filepath.Join(base, "opt", "git")
	moved := filepath.Join(base, "mnt", "git")
	installTree(t, original)
	require.NoError(t, os.MkdirAll(filepath.Dir(moved), 0o755))
	require.NoError(t, os.Rename(original, moved))

	root, err := filepath.EvalSymlinks(moved)
	require.NoError(t, err)

	stdout, _, code := launch(t, filepath.Join(moved, "git"), []string{"EXIT_CODE=7", "GIT_EXEC_PATH=/stale"})
	assert.Equal(t, 7, code)
	assert.Equal(t, []string{
		"argc=0",
		"template=" + filepath.Join(root, "share", "git-core", "templates"),
		"exec=" + filepath.Join(root, "libexec", "git-core"),
	}, strings.Split(strings.TrimSpace(stdout), "\n"))
}

func TestExecForwardsArguments(t *testing.T) {
	root := t.TempDir()
	installTree(t, root)

	stdout, _, code := launch(t, filepath.Join(root, "git"), nil, "commit", "-m", "two words")
	assert.Equal(t, 0, code)
	assert.True(t, strings.HasPrefix(stdout, "argc=3\narg=commit\narg=-m\narg=two words\n"), stdout)
}

func TestExecMissingBinaryExitsNotFound(t *testing.T) {
	root := t.TempDir()
	installTree(t, root)
	require.NoError(t, os.Remove(filepath.Join(root, "bin", "git")))

	stdout, stderr, code := launch(t, filepath.Join(root, "git"), nil, "--version")
	assert.Equal(t, ExitNotFound, code)
	assert.Empty(t, stdout)
	assert.Contains(t, stderr, ErrBinaryNotFound.Error())
}

func TestExecNotExecutableExitsNotExecutable(t *testing.T) {
	root := t.TempDir()
	installTree(t, root)
	require.NoError(t, os.Chmod(filepath.Join(root, "bin", "git"), 0o644))

	_, stderr, code := launch(t, filepath.Join(root, "git"), nil)
	assert.Equal(t, ExitNotExecutable, code)
	assert.Contains(t, stderr, ErrExec.Error())
}

func TestExecUnresolvableLauncher(t *testing.T) {
	_, stderr, code := launch(t, filepath.Join(t.TempDir(), "git"), nil)
	assert.Equal(t, ExitNotExecutable, code)
	assert.Contains(t, stderr, ErrResolve.Error())
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{execError("/opt/git/bin/git", os.ErrNotExist), ExitNotFound},
		{execError("/opt/git/bin/git", os.ErrPermission), ExitNotExecutable},
		{ErrResolve, ExitNotExecutable},
	}
	for _, tt := range tests {
		if got := ExitCode(tt.err); got != tt.want {
			t.Errorf("ExitCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
