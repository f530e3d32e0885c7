package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cruciblehq/cruxforge/internal/config"
	"github.com/cruciblehq/cruxforge/internal/recipe"
	"github.com/cruciblehq/cruxforge/internal/runtime"
)

// In-memory stand-in for a container platform.
type fakeRuntime struct {
	live      map[string]*fakeEnv // Environments not yet destroyed, by ID.
	acquired  []runtime.Spec
	removed   []string // Stale IDs replaced on acquire.
	acquireFn func(spec runtime.Spec) error
	build     func(env *fakeEnv, args []string) (int, error)
	closed    bool
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{live: make(map[string]*fakeEnv)}
}

func (f *fakeRuntime) dial(context.Context, config.ContainerdConfig) (Runtime, error) {
	f.closed = false
	return f, nil
}

func (f *fakeRuntime) Acquire(_ context.Context, spec runtime.Spec) (Environment, error) {
	f.acquired = append(f.acquired, spec)
	if f.acquireFn != nil {
		if err := f.acquireFn(spec); err != nil {
			return nil, err
		}
	}
	if _, ok := f.live[spec.ID]; ok {
		f.removed = append(f.removed, spec.ID)
		delete(f.live, spec.ID)
	}
	env := &fakeEnv{rt: f, id: spec.ID, files: make(map[string]string)}
	f.live[spec.ID] = env
	return env, nil
}

func (f *fakeRuntime) Close() error {
	f.closed = true
	return nil
}

type fakeEnv struct {
	rt        *fakeRuntime
	id        string
	files     map[string]string // Container path to host source.
	copyErr   map[string]error  // Failures by container path.
	runs      [][]string
	env       []string
	destroyed bool
	destroyOK bool // Destroy received a live context.
}

func (e *fakeEnv) ID() string { return e.id }

func (e *fakeEnv) Copy(_ context.Context, hostPath, dest string) error {
	if err := e.copyErr[dest]; err != nil {
		return err
	}
	if _, err := os.Stat(hostPath); err != nil {
		return err
	}
	e.files[dest] = hostPath
	return nil
}

func (e *fakeEnv) Run(_ context.Context, args, env []string, stdout, _ io.Writer) (int, error) {
	e.runs = append(e.runs, args)
	e.env = env
	fmt.Fprintln(stdout, "building", strings.Join(args, " "))
	return e.rt.build(e, args)
}

func (e *fakeEnv) Destroy(ctx context.Context) {
	e.destroyed = true
	e.destroyOK = ctx.Err() == nil
	delete(e.rt.live, e.id)
}

// Recipe stand-in: installs a script binary printing the version.
func installScript(version string, exit int) func(*fakeEnv, []string) (int, error) {
	return func(_ *fakeEnv, args []string) (int, error) {
		dest := args[len(args)-1]
		bin := filepath.Join(dest, "bin")
		if err := os.MkdirAll(bin, 0o755); err != nil {
			return 0, err
		}
		script := fmt.Sprintf("#!/bin/sh\necho 'git version %s'\nexit %d\n", version, exit)
		if err := os.WriteFile(filepath.Join(bin, "git"), []byte(script), 0o755); err != nil {
			return 0, err
		}
		return 0, nil
	}
}

type fixture struct {
	cfg      config.Config
	rt       *fakeRuntime
	exe      string
	launcher string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	exe := filepath.Join(dir, "cruxforge")
	require.NoError(t, os.WriteFile(exe, []byte("cruxforge"), 0o755))

	launcher := filepath.Join(dir, "cruxlaunch")
	require.NoError(t, os.WriteFile(launcher, []byte("launcher v1"), 0o755))

	cfg := config.Default()
	cfg.Destination = filepath.Join(dir, "install", "git")
	cfg.Launcher.Source = launcher
	cfg.Normalize("")

	rt := newFakeRuntime()
	rt.build = installScript(cfg.Version, 0)

	return &fixture{cfg: cfg, rt: rt, exe: exe, launcher: launcher}
}

func (f *fixture) run(t *testing.T) (*Result, error) {
	t.Helper()
	return New(f.cfg, f.rt.dial, WithExecutable(f.exe), WithOutput(io.Discard)).Run(t.Context())
}

func TestRunHappyPath(t *testing.T) {
	f := newFixture(t)
	var env *fakeEnv
	build := f.rt.build
	f.rt.build = func(e *fakeEnv, args []string) (int, error) {
		env = e
		return build(e, args)
	}

	res, err := f.run(t)
	require.NoError(t, err)

	assert.Equal(t, TornDown, res.State)
	assert.Equal(t, f.cfg.Environment.Name, res.Environment)
	assert.Equal(t, "git version 2.45.2", res.Version)
	assert.Empty(t, res.Warnings)

	require.Len(t, f.rt.acquired, 1)
	spec := f.rt.acquired[0]
	assert.Equal(t, f.cfg.Environment.Name, spec.ID)
	assert.Equal(t, config.DefaultImage, spec.Image)
	assert.Equal(t, []string{f.cfg.Destination}, spec.Mounts)

	require.NotNil(t, env)
	assert.Equal(t, map[string]string{"/opt/cruxforge/cruxforge": f.exe}, env.files)
	assert.Equal(t, [][]string{{"/opt/cruxforge/cruxforge", "recipe", "2.45.2", f.cfg.Destination}}, env.runs)
	assert.Contains(t, env.env, "CRUXFORGE_TOOL=git")
	assert.True(t, slices.IsSorted(env.env))
	assert.True(t, env.destroyed)
	assert.True(t, env.destroyOK)
	assert.True(t, f.rt.closed)
	assert.Empty(t, f.rt.live)

	launcher := filepath.Join(f.cfg.Destination, "git")
	assert.Equal(t, launcher, res.Launcher)
	data, err := os.ReadFile(launcher)
	require.NoError(t, err)
	assert.Equal(t, "launcher v1", string(data))
	info, err := os.Stat(launcher)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
}

func TestRunTwiceReplacesInstallation(t *testing.T) {
	f := newFixture(t)

	_, err := f.run(t)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(f.launcher, []byte("launcher v2"), 0o755))
	f.cfg.Version = "2.46.0"
	f.rt.build = installScript("2.46.0", 0)

	res, err := f.run(t)
	require.NoError(t, err)
	assert.Equal(t, "git version 2.46.0", res.Version)

	data, err := os.ReadFile(filepath.Join(f.cfg.Destination, "git"))
	require.NoError(t, err)
	assert.Equal(t, "launcher v2", string(data))

	require.Len(t, f.rt.acquired, 2)
	assert.Equal(t, f.rt.acquired[0].ID, f.rt.acquired[1].ID)
	assert.Empty(t, f.rt.removed)
}

func TestRunReplacesStaleEnvironment(t *testing.T) {
	f := newFixture(t)
	f.rt.live[f.cfg.Environment.Name] = &fakeEnv{rt: f.rt, id: f.cfg.Environment.Name}

	_, err := f.run(t)
	require.NoError(t, err)

	assert.Equal(t, []string{f.cfg.Environment.Name}, f.rt.removed)
	assert.Empty(t, f.rt.live)
}

func TestRunRecipeFailureTearsDown(t *testing.T) {
	f := newFixture(t)
	var env *fakeEnv
	f.rt.build = func(e *fakeEnv, _ []string) (int, error) {
		env = e
		return 2, nil
	}

	res, err := f.run(t)
	require.ErrorIs(t, err, ErrBuildStep)
	assert.Contains(t, err.Error(), "code 2")
	assert.Equal(t, TornDown, res.State)
	require.NotNil(t, env)
	assert.True(t, env.destroyed)
	assert.NoFileExists(t, filepath.Join(f.cfg.Destination, "git"))
}

func TestRunProvisioningFailureTearsDown(t *testing.T) {
	f := newFixture(t)
	f.cfg.Recipe.Overrides = []config.Override{{Source: f.exe, Target: "/etc/apt/sources.list"}}
	built := false
	f.rt.build = func(*fakeEnv, []string) (int, error) {
		built = true
		return 0, nil
	}

	dial := func(context.Context, config.ContainerdConfig) (Runtime, error) {
		return &failingCopyRuntime{fakeRuntime: f.rt, target: "/etc/apt/sources.list"}, nil
	}

	res, err := New(f.cfg, dial, WithExecutable(f.exe), WithOutput(io.Discard)).Run(t.Context())
	require.ErrorIs(t, err, ErrProvisioning)
	assert.Contains(t, err.Error(), "/etc/apt/sources.list")
	assert.Equal(t, TornDown, res.State)
	assert.False(t, built)
	assert.Empty(t, f.rt.live)
}

// Runtime whose environments fail to receive one path.
type failingCopyRuntime struct {
	*fakeRuntime
	target string
}

func (r *failingCopyRuntime) Acquire(ctx context.Context, spec runtime.Spec) (Environment, error) {
	env, err := r.fakeRuntime.Acquire(ctx, spec)
	if err != nil {
		return nil, err
	}
	env.(*fakeEnv).copyErr = map[string]error{r.target: errors.New("tar extract failed")}
	return env, nil
}

func TestRunCustomScript(t *testing.T) {
	f := newFixture(t)
	script := filepath.Join(t.TempDir(), "build.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\n"), 0o755))
	f.cfg.Recipe.Script = script

	var env *fakeEnv
	build := f.rt.build
	f.rt.build = func(e *fakeEnv, args []string) (int, error) {
		env = e
		return build(e, args)
	}

	_, err := f.run(t)
	require.NoError(t, err)
	require.NotNil(t, env)
	assert.Equal(t, map[string]string{"/opt/cruxforge/recipe.sh": script}, env.files)
	assert.Equal(t, [][]string{{"/bin/sh", "/opt/cruxforge/recipe.sh", "2.45.2", f.cfg.Destination}}, env.runs)
}

func TestRunPlatformUnavailable(t *testing.T) {
	f := newFixture(t)
	dial := func(context.Context, config.ContainerdConfig) (Runtime, error) {
		return nil, errors.New("dial unix /run/containerd/containerd.sock: connect: no such file or directory")
	}

	res, err := New(f.cfg, dial, WithExecutable(f.exe)).Run(t.Context())
	require.ErrorIs(t, err, ErrPlatformUnavailable)
	assert.Equal(t, DestinationReady, res.State)
}

func TestRunAcquireFailure(t *testing.T) {
	f := newFixture(t)
	f.rt.acquireFn = func(runtime.Spec) error { return errors.New("pull access denied") }

	res, err := f.run(t)
	require.ErrorIs(t, err, ErrEnvironment)
	assert.Equal(t, DestinationReady, res.State)
}

func TestRunMissingLauncherWarns(t *testing.T) {
	f := newFixture(t)
	f.cfg.Launcher.Source = filepath.Join(t.TempDir(), "missing")

	res, err := f.run(t)
	require.NoError(t, err)
	assert.Equal(t, TornDown, res.State)
	assert.Empty(t, res.Launcher)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "missing")

	assert.NoFileExists(t, filepath.Join(f.cfg.Destination, "git"))
	assert.FileExists(t, filepath.Join(f.cfg.Destination, "bin", "git"))
}

func TestRunVerificationFailure(t *testing.T) {
	f := newFixture(t)
	f.rt.build = installScript("2.45.2", 1)

	res, err := f.run(t)
	require.ErrorIs(t, err, ErrVerification)
	assert.Equal(t, TornDown, res.State)
	assert.NoFileExists(t, filepath.Join(f.cfg.Destination, "git"))
}

func TestRunRecipeWithoutBinary(t *testing.T) {
	f := newFixture(t)
	f.rt.build = func(*fakeEnv, []string) (int, error) { return 0, nil }

	_, err := f.run(t)
	require.ErrorIs(t, err, ErrVerification)
}

func TestRunVerifiesWithInstallationEnvironment(t *testing.T) {
	f := newFixture(t)
	f.rt.build = func(_ *fakeEnv, args []string) (int, error) {
		dest := args[len(args)-1]
		bin := filepath.Join(dest, "bin")
		if err := os.MkdirAll(bin, 0o755); err != nil {
			return 0, err
		}
		script := fmt.Sprintf("#!/bin/sh\n[ \"$GIT_EXEC_PATH\" = '%s' ] || exit 3\necho \"git version $#\"\n", filepath.Join(dest, "libexec", "git-core"))
		return 0, os.WriteFile(filepath.Join(bin, "git"), []byte(script), 0o755)
	}
	t.Setenv("GIT_EXEC_PATH", "/usr/lib/git-core")

	res, err := f.run(t)
	require.NoError(t, err)
	assert.Equal(t, "git version 1", res.Version)
}

func TestRunRejectsExistingWithoutOverwrite(t *testing.T) {
	f := newFixture(t)
	_, err := f.run(t)
	require.NoError(t, err)

	f.cfg.Overwrite = false
	res, err := f.run(t)
	require.ErrorIs(t, err, ErrDestinationExists)
	assert.Equal(t, Init, res.State)
	assert.Len(t, f.rt.acquired, 1)
}

func TestRunInvalidConfiguration(t *testing.T) {
	f := newFixture(t)
	f.cfg.Destination = "relative/path"

	res, err := f.run(t)
	require.ErrorIs(t, err, ErrConfiguration)
	assert.Equal(t, Init, res.State)
	assert.Empty(t, f.rt.acquired)
	assert.NoDirExists(t, "relative")
}

func TestRunCancelledStillTearsDown(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(t.Context())

	var env *fakeEnv
	f.rt.build = func(e *fakeEnv, _ []string) (int, error) {
		env = e
		cancel()
		return 0, context.Canceled
	}

	res, err := New(f.cfg, f.rt.dial, WithExecutable(f.exe), WithOutput(io.Discard)).Run(ctx)
	require.ErrorIs(t, err, ErrBuildStep)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, TornDown, res.State)
	require.NotNil(t, env)
	assert.True(t, env.destroyed)
	assert.True(t, env.destroyOK)
}

func TestEnsureDestinationNotWritable(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root bypasses permission checks")
	}
	f := newFixture(t)
	require.NoError(t, os.MkdirAll(f.cfg.Destination, 0o755))
	require.NoError(t, os.Chmod(f.cfg.Destination, 0o555))
	t.Cleanup(func() { os.Chmod(f.cfg.Destination, 0o755) })

	err := New(f.cfg, f.rt.dial).EnsureDestination()
	assert.ErrorIs(t, err, ErrPermission)
}

func TestEnsureDestinationIdempotent(t *testing.T) {
	f := newFixture(t)
	o := New(f.cfg, f.rt.dial)

	require.NoError(t, o.EnsureDestination())
	require.NoError(t, o.EnsureDestination())
	assert.DirExists(t, f.cfg.Destination)
}

func TestRecipeEnv(t *testing.T) {
	cfg := config.Default()
	cfg.Tolerate = false
	cfg.Recipe.Jobs = 4
	cfg.Recipe.ConfigureArgs = []string{"CFLAGS=-O2 -g", "--with-curl"}
	cfg.Recipe.Env = map[string]string{
		"CRUXFORGE_JOBS": "8",
		"HTTPS_PROXY":    "http://proxy:3128",
	}

	env := recipeEnv(cfg)

	assert.True(t, slices.IsSorted(env))
	assert.Contains(t, env, "CRUXFORGE_JOBS=8")
	assert.Contains(t, env, "CRUXFORGE_TOLERATE=false")
	assert.Contains(t, env, "CRUXFORGE_OVERWRITE=true")
	assert.Contains(t, env, "CRUXFORGE_CONFIGURE_ARGS=CFLAGS=-O2 -g\n--with-curl")
	assert.Contains(t, env, "CRUXFORGE_PACKAGE_INSTALL=apt-get\ninstall\n-y\n--no-install-recommends")

	for _, entry := range env {
		if v, ok := strings.CutPrefix(entry, "CRUXFORGE_CONFIGURE_ARGS="); ok {
			assert.Equal(t, cfg.Recipe.ConfigureArgs, recipe.SplitList(v))
		}
	}
	assert.Contains(t, env, "HTTPS_PROXY=http://proxy:3128")
	assert.Contains(t, env, "DEBIAN_FRONTEND=noninteractive")
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{Init, "init"},
		{EnvironmentAcquired, "environment-acquired"},
		{TornDown, "torn-down"},
		{State(42), "state(42)"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", int(tt.state), got, tt.want)
		}
	}
}
