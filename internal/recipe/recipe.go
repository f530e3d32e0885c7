package recipe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	goruntime "runtime"
	"strconv"
	"strings"
)

// Archive suffixes the recipe knows how to unpack, longest first.
var archiveSuffixes = []string{".tar.gz", ".tar.xz", ".tgz", ".txz", ".tar"}

// The two free variables of a build.
type Params struct {
	Version     string // Upstream version identifier, e.g. "2.45.2".
	Destination string // Absolute installation prefix.
}

// Checks that the parameters can drive a build. Runs before any side effect.
func (p Params) Validate() error {
	if strings.TrimSpace(p.Version) == "" {
		return fmt.Errorf("%w: version is required", ErrUsage)
	}
	if strings.ContainsAny(p.Version, "/\\ \t\n") {
		return fmt.Errorf("%w: invalid version %q", ErrUsage, p.Version)
	}
	if !filepath.IsAbs(p.Destination) {
		return fmt.Errorf("%w: destination %q must be an absolute path", ErrUsage, p.Destination)
	}
	return nil
}

// Controls how the recipe builds.
type Options struct {
	Tool           string   // Upstream tool; names the archive, source directory and installed binary.
	Mirror         string   // Source archive URL template with {tool} and {version} placeholders.
	Packages       []string // Build dependencies installed with PackageInstall.
	PackageUpdate  []string // Command refreshing package indexes. Empty skips the refresh.
	PackageInstall []string // Command prefix installing packages, e.g. ["apt-get", "install", "-y"].
	ConfigureArgs  []string // Extra arguments for ./configure after --prefix.
	Jobs           int      // Parallel make jobs. Zero uses the CPU count.
	Retries        int      // Download retries after the first failure.
	Backoff        Policy   // Delay between download attempts. Zero uses [DefaultPolicy].
	WorkDir        string   // Scratch directory for the archive and source tree.
	Tolerate       bool     // Downgrade extract, compile and install failures to warnings.
	Overwrite      bool     // Discard an existing installation instead of refusing.
}

// Outcome of a recipe run.
type Result struct {
	Binary   string   // Path of the installed binary.
	Warnings []string // Tolerated step failures, in order.
}

// A single recipe step.
type step struct {
	name  string
	fatal bool // Failure aborts the recipe even when tolerance is enabled.
	fn    func(context.Context) error
}

// Shared state for one recipe run.
type run struct {
	params  Params
	opts    Options
	tc      Toolchain
	url     string // Resolved source archive URL.
	archive string // Local path of the downloaded archive.
	source  string // Directory the archive unpacks into.
}

// Executes the recipe.
//
// Steps run in strict order: dependency installation, cleanup of a previous
// run, download, extraction, configure, compile, install, and a final check
// for the installed binary. Dependency installation, cleanup, download,
// configure, and the final check are always fatal. Extraction, compile, and
// install failures are logged and skipped when opts.Tolerate is set, which
// accommodates targets whose build exits non-zero on benign warnings; the
// final check still catches a build that produced nothing.
//
// Cleanup removes the destination's contents, so the last build wins. Two
// recipes must never run against the same destination at the same time.
func Run(ctx context.Context, params Params, opts Options, tc Toolchain) (*Result, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	r, err := newRun(params, opts, tc)
	if err != nil {
		return nil, err
	}

	result := &Result{Binary: r.binary()}

	for _, s := range r.steps() {
		slog.Info("recipe step", "step", s.name)

		err := s.fn(ctx)
		if err == nil {
			continue
		}
		if s.fatal || !r.opts.Tolerate {
			return result, fmt.Errorf("%w: %s: %w", ErrStep, s.name, err)
		}

		slog.Warn("recipe step failed, continuing", "step", s.name, "error", err)
		result.Warnings = append(result.Warnings, fmt.Sprintf("%s: %v", s.name, err))
	}

	slog.Info("recipe complete", "binary", result.Binary, "warnings", len(result.Warnings))
	return result, nil
}

// Resolves derived paths and defaults.
func newRun(params Params, opts Options, tc Toolchain) (*run, error) {
	if opts.Tool == "" {
		return nil, fmt.Errorf("%w: tool is required", ErrUsage)
	}
	if opts.WorkDir == "" {
		opts.WorkDir = filepath.Join(os.TempDir(), "cruxforge")
	}
	if opts.Jobs <= 0 {
		opts.Jobs = goruntime.NumCPU()
	}
	if opts.Backoff == (Policy{}) {
		opts.Backoff = DefaultPolicy()
	}

	u := ExpandMirror(opts.Mirror, opts.Tool, params.Version)
	name, err := archiveName(u)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUsage, err)
	}

	return &run{
		params:  params,
		opts:    opts,
		tc:      tc,
		url:     u,
		archive: filepath.Join(opts.WorkDir, name),
		source:  filepath.Join(opts.WorkDir, trimArchiveSuffix(name)),
	}, nil
}

func (r *run) steps() []step {
	return []step{
		{name: "dependencies", fatal: true, fn: r.installDependencies},
		{name: "clean", fatal: true, fn: r.clean},
		{name: "download", fatal: true, fn: r.download},
		{name: "extract", fn: r.extract},
		{name: "configure", fatal: true, fn: r.configure},
		{name: "compile", fn: r.compile},
		{name: "install", fn: r.install},
		{name: "check", fatal: true, fn: r.check},
	}
}

// Path of the binary the build must produce.
func (r *run) binary() string {
	return filepath.Join(r.params.Destination, "bin", r.opts.Tool)
}

func (r *run) installDependencies(ctx context.Context) error {
	if len(r.opts.Packages) == 0 {
		return nil
	}
	if len(r.opts.PackageUpdate) > 0 {
		if err := r.tc.Run(ctx, "", r.opts.PackageUpdate...); err != nil {
			return err
		}
	}
	if len(r.opts.PackageInstall) == 0 {
		return errors.New("no package install command configured")
	}
	args := append(append([]string(nil), r.opts.PackageInstall...), r.opts.Packages...)
	return r.tc.Run(ctx, "", args...)
}

// Removes leftovers of a previous run and empties the destination.
//
// The destination directory itself is kept: inside a build environment it
// is a mount point and cannot be removed.
func (r *run) clean(_ context.Context) error {
	if !r.opts.Overwrite {
		if _, err := os.Stat(r.binary()); err == nil {
			return fmt.Errorf("%w: %s", ErrDestinationExists, r.binary())
		}
	}

	for _, p := range []string{r.archive, r.source} {
		if err := os.RemoveAll(p); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(r.opts.WorkDir, 0o755); err != nil {
		return err
	}

	return emptyDir(r.params.Destination)
}

func (r *run) download(ctx context.Context) error {
	slog.Info("downloading source", "url", r.url)
	return retry(ctx, r.opts.Backoff, r.opts.Retries, func() error {
		return r.tc.Fetch(ctx, r.url, r.archive)
	})
}

func (r *run) extract(ctx context.Context) error {
	return r.tc.Extract(ctx, r.archive, r.opts.WorkDir)
}

func (r *run) configure(ctx context.Context) error {
	args := []string{"./configure", "--prefix=" + r.params.Destination}
	args = append(args, r.opts.ConfigureArgs...)
	return r.tc.Run(ctx, r.source, args...)
}

func (r *run) compile(ctx context.Context) error {
	return r.tc.Run(ctx, r.source, "make", "-j"+strconv.Itoa(r.opts.Jobs))
}

func (r *run) install(ctx context.Context) error {
	return r.tc.Run(ctx, r.source, "make", "install")
}

func (r *run) check(_ context.Context) error {
	info, err := os.Stat(r.binary())
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMissingBinary, err)
	}
	if info.IsDir() || info.Mode().Perm()&0o111 == 0 {
		return fmt.Errorf("%w: %s is not an executable file", ErrMissingBinary, r.binary())
	}
	return nil
}

// Substitutes {tool} and {version} in a mirror URL template.
func ExpandMirror(mirror, tool, version string) string {
	return strings.NewReplacer("{tool}", tool, "{version}", version).Replace(mirror)
}

// Returns the file name of the archive a URL points at.
func archiveName(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	name := path.Base(u.Path)
	if trimArchiveSuffix(name) == name {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedArchive, name)
	}
	return name, nil
}

func trimArchiveSuffix(name string) string {
	for _, suffix := range archiveSuffixes {
		if strings.HasSuffix(name, suffix) {
			return strings.TrimSuffix(name, suffix)
		}
	}
	return name
}

// Removes everything inside dir, creating dir if it does not exist.
func emptyDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return os.MkdirAll(dir, 0o755)
	}
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}
