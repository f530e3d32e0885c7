package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/cruciblehq/cruxforge/internal/config"
	"github.com/cruciblehq/cruxforge/internal/launcher"
	"github.com/cruciblehq/cruxforge/internal/paths"
	"github.com/cruciblehq/cruxforge/internal/runtime"
)

const (

	// Directory inside the environment receiving the recipe.
	recipeDir = "/opt/cruxforge"

	// File name of a launcher found next to the running executable.
	launcherName = "cruxlaunch"
)

// Outcome of an orchestration run. Returned on failure too.
type Result struct {
	State       State    // Last state reached.
	Environment string   // Name of the build environment.
	Destination string   // Installation root.
	Binary      string   // Path of the built binary.
	Launcher    string   // Path of the installed launcher. Empty if none was installed.
	Version     string   // First line printed by the binary's --version.
	Warnings    []string // Non-fatal problems, in order.
}

// Drives one build through its environment.
type Orchestrator struct {
	cfg        config.Config
	dial       Dialer
	executable string    // Host binary provisioned as the built-in recipe.
	output     io.Writer // Recipe output.
}

// Configures an [Orchestrator].
type Option func(*Orchestrator)

// Sets the host binary provisioned as the built-in recipe. Defaults to the
// running executable.
func WithExecutable(path string) Option {
	return func(o *Orchestrator) { o.executable = path }
}

// Sets where recipe output is streamed. Defaults to stderr.
func WithOutput(w io.Writer) Option {
	return func(o *Orchestrator) { o.output = w }
}

// Creates an orchestrator for cfg. cfg should already be normalized.
func New(cfg config.Config, dial Dialer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:    cfg,
		dial:   dial,
		output: os.Stderr,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Runs the build.
//
// The destination is prepared, an environment is acquired and provisioned,
// the recipe is executed, the result is verified on the host, and the
// launcher is installed. Once the environment exists it is torn down on
// every path, including failure and cancellation. The returned result
// records the last state reached even when err is non-nil.
//
// Two runs must never target the same destination at the same time; each
// discards the other's tree.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	cfg := o.cfg
	res := &Result{
		State:       Init,
		Environment: cfg.Environment.Name,
		Destination: cfg.Destination,
		Binary:      filepath.Join(cfg.Destination, "bin", cfg.Tool),
	}

	if err := cfg.Validate(); err != nil {
		return res, err
	}

	if err := o.EnsureDestination(); err != nil {
		return res, err
	}
	o.advance(res, DestinationReady)

	rt, err := o.dial(ctx, cfg.Containerd)
	if err != nil {
		if !errors.Is(err, ErrPlatformUnavailable) {
			err = fmt.Errorf("%w: %w", ErrPlatformUnavailable, err)
		}
		return res, err
	}
	defer rt.Close()

	env, err := o.AcquireEnvironment(ctx, rt)
	if err != nil {
		return res, err
	}
	o.advance(res, EnvironmentAcquired)

	defer func() {
		o.Teardown(ctx, env)
		o.advance(res, TornDown)
	}()

	command, err := o.Provision(ctx, env)
	if err != nil {
		return res, err
	}
	o.advance(res, Provisioned)

	if err := o.Execute(ctx, env, command); err != nil {
		return res, err
	}
	o.advance(res, Executed)

	version, err := o.Verify(ctx)
	if err != nil {
		return res, err
	}
	res.Version = version
	o.advance(res, Verified)

	launcher, err := o.InstallLauncher()
	if err != nil {
		slog.Warn("launcher not installed", "error", err)
		res.Warnings = append(res.Warnings, err.Error())
	} else {
		res.Launcher = launcher
	}
	o.advance(res, LauncherInstalled)

	return res, nil
}

func (o *Orchestrator) advance(res *Result, s State) {
	slog.Debug("state", "from", res.State, "to", s)
	res.State = s
}

// Creates the destination and checks it can receive a build.
//
// Safe to repeat. Fails with [ErrPermission] when the directory is not
// writable, and with [ErrDestinationExists] when overwriting is disabled
// and a build is already installed there.
func (o *Orchestrator) EnsureDestination() error {
	dest := o.cfg.Destination

	if err := os.MkdirAll(dest, paths.DefaultDirMode); err != nil {
		if errors.Is(err, os.ErrPermission) {
			return fmt.Errorf("%w: %w", ErrPermission, err)
		}
		return fmt.Errorf("%w: %w", ErrDestination, err)
	}

	if err := unix.Access(dest, unix.W_OK); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPermission, dest, err)
	}

	binary := filepath.Join(dest, "bin", o.cfg.Tool)
	if !o.cfg.Overwrite {
		if _, err := os.Stat(binary); err == nil {
			return fmt.Errorf("%w: %s", ErrDestinationExists, binary)
		}
	}

	slog.Info("destination ready", "path", dest)
	return nil
}

// Starts a fresh build environment with the destination mounted at the
// same path inside.
func (o *Orchestrator) AcquireEnvironment(ctx context.Context, rt Runtime) (Environment, error) {
	env := o.cfg.Environment

	slog.Info("acquiring environment", "name", env.Name, "image", env.Image, "platform", env.Platform)

	e, err := rt.Acquire(ctx, runtime.Spec{
		ID:       env.Name,
		Image:    env.Image,
		Platform: env.Platform,
		Mounts:   []string{o.cfg.Destination},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEnvironment, err)
	}
	return e, nil
}

// Copies the recipe and configuration overrides into the environment.
//
// Returns the command line that runs the recipe, without its positional
// parameters.
func (o *Orchestrator) Provision(ctx context.Context, env Environment) ([]string, error) {
	var src, target string
	var command []string

	if script := o.cfg.Recipe.Script; script != "" {
		src = script
		target = path.Join(recipeDir, "recipe.sh")
		command = []string{"/bin/sh", target}
	} else {
		exe, err := o.selfExecutable()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrProvisioning, err)
		}
		src = exe
		target = path.Join(recipeDir, "cruxforge")
		command = []string{target, "recipe"}
	}

	slog.Info("provisioning recipe", "source", src, "target", target)
	if err := env.Copy(ctx, src, target); err != nil {
		return nil, fmt.Errorf("%w: recipe: %w", ErrProvisioning, err)
	}

	for _, ov := range o.cfg.Recipe.Overrides {
		slog.Info("provisioning override", "source", ov.Source, "target", ov.Target)
		if err := env.Copy(ctx, ov.Source, ov.Target); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrProvisioning, ov.Target, err)
		}
	}

	return command, nil
}

// Runs the recipe with the version and destination as its only positional
// parameters. Recipe output is streamed, never interpreted; only the exit
// code counts.
func (o *Orchestrator) Execute(ctx context.Context, env Environment, command []string) error {
	args := append(append([]string(nil), command...), o.cfg.Version, o.cfg.Destination)

	slog.Info("executing recipe", "tool", o.cfg.Tool, "version", o.cfg.Version)

	code, err := env.Run(ctx, args, recipeEnv(o.cfg), o.output, o.output)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBuildStep, err)
	}
	if code != 0 {
		return fmt.Errorf("%w: recipe exited with code %d", ErrBuildStep, code)
	}
	return nil
}

// Runs the installed binary with --version on the host and returns the
// first line it prints.
//
// The binary runs with the environment the launcher gives it, so a tree
// that only works with build-time paths baked in fails here.
func (o *Orchestrator) Verify(ctx context.Context) (string, error) {
	layout := launcher.LayoutAt(o.cfg.Destination, o.cfg.Tool)

	var out bytes.Buffer
	code, err := launcher.Delegate(ctx, layout, []string{"--version"}, nil, &out, &out)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrVerification, err)
	}
	if code != 0 {
		return "", fmt.Errorf("%w: %s --version exited with code %d (%s)", ErrVerification, layout.Binary, code, bytes.TrimSpace(out.Bytes()))
	}

	version, _, _ := strings.Cut(strings.TrimSpace(out.String()), "\n")
	slog.Info("verified", "binary", layout.Binary, "version", version)
	return version, nil
}

// Destroys the environment.
//
// Runs on a context detached from ctx's cancellation so an interrupted run
// still cleans up.
func (o *Orchestrator) Teardown(ctx context.Context, env Environment) {
	slog.Info("tearing down environment", "name", env.ID())
	env.Destroy(context.WithoutCancel(ctx))
}

// Copies the launcher to <destination>/<tool>, replacing any previous one.
//
// The copy is written beside the target and renamed into place, so an
// existing launcher is never observed half-written. Returns the installed
// path.
func (o *Orchestrator) InstallLauncher() (string, error) {
	src := o.cfg.Launcher.Source
	if src == "" {
		exe, err := o.selfExecutable()
		if err != nil {
			return "", err
		}
		src = filepath.Join(filepath.Dir(exe), launcherName)
	}

	dest := filepath.Join(o.cfg.Destination, o.cfg.Tool)
	if err := copyFileAtomic(src, dest, paths.ExecutableMode); err != nil {
		return "", fmt.Errorf("launcher %s: %w", src, err)
	}

	slog.Info("launcher installed", "path", dest)
	return dest, nil
}

func (o *Orchestrator) selfExecutable() (string, error) {
	if o.executable != "" {
		return o.executable, nil
	}
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(exe)
}

// Copies src to dest through a temporary file in dest's directory.
func copyFileAtomic(src, dest string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	_, err = io.Copy(tmp, in)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}

	if err := os.Chmod(tmp.Name(), mode); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dest)
}
