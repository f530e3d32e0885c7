package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	goruntime "runtime"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/opencontainers/go-digest"
	"gopkg.in/yaml.v3"

	"github.com/cruciblehq/cruxforge/internal/paths"
)

const (

	// Tool built when none is configured.
	DefaultTool = "git"

	// Upstream release built when none is configured.
	DefaultVersion = "2.45.2"

	// Base image for the disposable build environment.
	DefaultImage = "docker.io/library/debian:bookworm"

	// Source archive location. {tool} and {version} are substituted.
	DefaultMirror = "https://mirrors.edge.kernel.org/pub/software/scm/git/{tool}-{version}.tar.gz"

	// Default containerd socket address.
	DefaultContainerdAddress = "/run/containerd/containerd.sock"

	// Default containerd namespace for images and containers.
	DefaultContainerdNamespace = "cruxforge"

	// Default snapshotter for build container filesystems.
	DefaultSnapshotter = "overlayfs"

	// Scratch directory inside the build environment.
	DefaultWorkDir = "/tmp/cruxforge"

	// Download attempts after the first failure.
	DefaultRetries = 2

	// Number of hex digits of the destination digest used in environment names.
	nameDigestLength = 12
)

// Build dependencies of git on Debian-based images.
var DefaultPackages = []string{
	"ca-certificates",
	"gcc",
	"make",
	"libc6-dev",
	"libssl-dev",
	"libcurl4-openssl-dev",
	"libexpat1-dev",
	"zlib1g-dev",
	"gettext",
}

// Complete configuration of one orchestration run.
//
// The zero value is not usable; start from [Default] or [Load].
type Config struct {
	Tool        string            `yaml:"tool" toml:"tool"`               // Upstream tool name, e.g. "git".
	Version     string            `yaml:"version" toml:"version"`         // Opaque upstream version identifier.
	Destination string            `yaml:"destination" toml:"destination"` // Absolute installation root.
	Overwrite   bool              `yaml:"overwrite" toml:"overwrite"`     // Discard an existing installation instead of refusing.
	Tolerate    bool              `yaml:"tolerate_build_failures" toml:"tolerate_build_failures"`
	Environment EnvironmentConfig `yaml:"environment" toml:"environment"`
	Containerd  ContainerdConfig  `yaml:"containerd" toml:"containerd"`
	Recipe      RecipeConfig      `yaml:"recipe" toml:"recipe"`
	Launcher    LauncherConfig    `yaml:"launcher" toml:"launcher"`
}

// Disposable build environment settings.
type EnvironmentConfig struct {
	Name     string `yaml:"name" toml:"name"`         // Container ID. Derived from tool and destination when empty.
	Image    string `yaml:"image" toml:"image"`       // Registry reference or path to an OCI archive.
	Platform string `yaml:"platform" toml:"platform"` // OCI platform, e.g. "linux/amd64".
}

// Connection to the container runtime.
type ContainerdConfig struct {
	Address     string `yaml:"address" toml:"address"`
	Namespace   string `yaml:"namespace" toml:"namespace"`
	Snapshotter string `yaml:"snapshotter" toml:"snapshotter"`
}

// Build recipe settings, forwarded into the environment.
type RecipeConfig struct {
	Script         string            `yaml:"script" toml:"script"` // Custom recipe script. Empty selects the built-in recipe.
	Mirror         string            `yaml:"mirror" toml:"mirror"`
	Packages       []string          `yaml:"packages" toml:"packages"`
	PackageUpdate  []string          `yaml:"package_update" toml:"package_update"`
	PackageInstall []string          `yaml:"package_install" toml:"package_install"`
	ConfigureArgs  []string          `yaml:"configure_args" toml:"configure_args"`
	Jobs           int               `yaml:"jobs" toml:"jobs"` // Parallel make jobs; 0 uses the CPU count of the environment.
	Retries        int               `yaml:"retries" toml:"retries"`
	WorkDir        string            `yaml:"workdir" toml:"workdir"`
	Overrides      []Override        `yaml:"overrides" toml:"overrides"`
	Env            map[string]string `yaml:"env" toml:"env"`
}

// A host file or directory copied into the build environment before the
// recipe runs.
type Override struct {
	Source string `yaml:"source" toml:"source"` // Host path; relative paths resolve against the config file.
	Target string `yaml:"target" toml:"target"` // Absolute path inside the environment.
}

// Launcher installation settings.
type LauncherConfig struct {
	Source string `yaml:"source" toml:"source"` // Launcher template. Empty looks for cruxlaunch next to the running executable.
}

// Returns a configuration populated with defaults.
func Default() Config {
	return Config{
		Tool:      DefaultTool,
		Version:   DefaultVersion,
		Overwrite: true,
		Tolerate:  true,
		Environment: EnvironmentConfig{
			Image: DefaultImage,
		},
		Containerd: ContainerdConfig{
			Address:     DefaultContainerdAddress,
			Namespace:   DefaultContainerdNamespace,
			Snapshotter: DefaultSnapshotter,
		},
		Recipe: RecipeConfig{
			Mirror:         DefaultMirror,
			Packages:       append([]string(nil), DefaultPackages...),
			PackageUpdate:  []string{"apt-get", "update"},
			PackageInstall: []string{"apt-get", "install", "-y", "--no-install-recommends"},
			Retries:        DefaultRetries,
			WorkDir:        DefaultWorkDir,
		},
	}
}

// Loads a configuration file on top of the defaults.
//
// The format is chosen by extension: .yaml and .yml are YAML, .toml is TOML.
// Environment variables in the file are expanded, after loading a .env file
// from the config file's directory if one exists. An empty path yields the
// defaults. overrides run after decoding and before normalization, so
// derived fields follow them. The result is normalized but not validated.
func Load(path string, overrides ...func(*Config)) (Config, error) {
	cfg := Default()
	if path == "" {
		for _, o := range overrides {
			o(&cfg)
		}
		cfg.Normalize("")
		return cfg, nil
	}

	dir := filepath.Dir(path)
	if err := loadDotEnv(filepath.Join(dir, ".env")); err != nil {
		return Config{}, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	data = []byte(os.ExpandEnv(string(data)))

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = decodeYAML(data, &cfg)
	case ".toml":
		err = decodeTOML(data, &cfg)
	default:
		err = fmt.Errorf("unsupported config format %q", ext)
	}
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s: %w", ErrConfiguration, path, err)
	}

	for _, o := range overrides {
		o(&cfg)
	}
	cfg.Normalize(dir)
	return cfg, nil
}

// Decodes YAML strictly so that misspelled keys are reported.
func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Decodes TOML, reporting keys that match no field.
func decodeTOML(data []byte, cfg *Config) error {
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}
	return nil
}

// Loads a dotenv file without overriding variables already set. A missing
// file is not an error.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrConfiguration, path, err)
	}
	return nil
}

// Fills derived fields and canonicalizes paths.
//
// Relative override sources and recipe scripts are resolved against baseDir
// (the config file's directory, or the working directory when empty).
func (c *Config) Normalize(baseDir string) {
	c.Tool = strings.ToLower(strings.TrimSpace(c.Tool))
	c.Version = strings.TrimSpace(c.Version)

	if c.Destination == "" && c.Tool != "" {
		c.Destination = paths.Destination(c.Tool)
	}
	if c.Destination != "" {
		c.Destination = filepath.Clean(c.Destination)
	}

	if c.Environment.Platform == "" {
		c.Environment.Platform = "linux/" + goruntime.GOARCH
	}
	if c.Environment.Name == "" && c.Destination != "" {
		c.Environment.Name = EnvironmentName(c.Tool, c.Destination)
	}

	if c.Recipe.WorkDir == "" {
		c.Recipe.WorkDir = DefaultWorkDir
	}
	if c.Recipe.Script != "" {
		c.Recipe.Script = resolve(baseDir, c.Recipe.Script)
	}
	for i := range c.Recipe.Overrides {
		c.Recipe.Overrides[i].Source = resolve(baseDir, c.Recipe.Overrides[i].Source)
	}
	if c.Launcher.Source != "" {
		c.Launcher.Source = resolve(baseDir, c.Launcher.Source)
	}
}

// Checks that the configuration describes a runnable build.
//
// All failures wrap [ErrConfiguration]. Validation touches the filesystem
// only to stat files the run will read.
func (c *Config) Validate() error {
	var problems []error

	if c.Tool == "" || strings.ContainsAny(c.Tool, `/\ `) {
		problems = append(problems, fmt.Errorf("invalid tool name %q", c.Tool))
	}
	if c.Version == "" || strings.ContainsAny(c.Version, "/\\ \t\n") {
		problems = append(problems, fmt.Errorf("invalid version %q", c.Version))
	}
	if !filepath.IsAbs(c.Destination) {
		problems = append(problems, fmt.Errorf("destination %q must be an absolute path", c.Destination))
	}
	if c.Environment.Image == "" {
		problems = append(problems, errors.New("environment image is required"))
	}
	if !strings.Contains(c.Recipe.Mirror, "{version}") {
		problems = append(problems, fmt.Errorf("mirror %q has no {version} placeholder", c.Recipe.Mirror))
	}
	if c.Recipe.Jobs < 0 {
		problems = append(problems, fmt.Errorf("jobs must not be negative, got %d", c.Recipe.Jobs))
	}
	if len(c.Recipe.PackageInstall) == 0 && len(c.Recipe.Packages) > 0 {
		problems = append(problems, errors.New("packages are listed but no package_install command is set"))
	}
	if c.Recipe.Script != "" {
		if err := requireFile(c.Recipe.Script); err != nil {
			problems = append(problems, fmt.Errorf("recipe script: %w", err))
		}
	}
	for _, o := range c.Recipe.Overrides {
		if _, err := os.Stat(o.Source); err != nil {
			problems = append(problems, fmt.Errorf("override: %w", err))
		}
		if !filepath.IsAbs(o.Target) {
			problems = append(problems, fmt.Errorf("override target %q must be an absolute path", o.Target))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %w", ErrConfiguration, errors.Join(problems...))
	}
	return nil
}

// Derives the build environment name for a tool and destination.
//
// The name is stable for a destination, so a container left behind by a
// crashed run is found and replaced by the next run against the same
// destination, while runs against different destinations never collide.
func EnvironmentName(tool, destination string) string {
	d := digest.FromString(destination).Encoded()
	return fmt.Sprintf("cruxforge-%s-%s", tool, d[:nameDigestLength])
}

func resolve(baseDir, p string) string {
	if filepath.IsAbs(p) || baseDir == "" {
		return filepath.Clean(p)
	}
	return filepath.Join(baseDir, p)
}

func requireFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	return nil
}
