package internal

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

const (

	// Program name, used for logging, directory naming, and the CLI.
	Name = "cruxforge"

	// String to indicate an undefined variable
	defaultUndefined = "(undefined)"

	// String to indicate a local (non-pipeline) build
	defaultLocalBuild = "(local)"

	// Main branch name used in version strings
	mainBranch = "main"

	// Length of an abbreviated commit hash.
	shortCommit = 12
)

// Set via linker flags, e.g.
//
//	-X github.com/cruciblehq/cruxforge/internal.version=1.2.3
var (
	version   = "" // Version number (e.g., "1.2.3")
	stage     = "" // Development stage or git branch (e.g., "staging", "main")
	gitCommit = "" // Git commit hash (e.g., "a1b2c3d4")

	rawQuiet   = "false" // Whether to enable quiet mode
	rawDebug   = "false" // Whether to enable debug mode
	rawVerbose = "false" // Whether to enable verbose logging
)

// Returns the current version, without any "v" prefix, or "(undefined)".
func Version() string {
	v := strings.ToLower(strings.TrimSpace(version))
	if v == "" {
		return defaultUndefined
	}
	return strings.TrimPrefix(v, "v")
}

// Returns the development stage (the git branch the build came from), or
// "(undefined)".
func Stage() string {
	s := strings.TrimSpace(stage)
	if s == "" {
		return defaultUndefined
	}
	return strings.ToLower(s)
}

// Returns the git commit hash.
//
// Falls back to the VCS revision the Go toolchain stamped into the binary,
// abbreviated, and then to "(undefined)".
func GitCommit() string {
	if c := strings.TrimSpace(gitCommit); c != "" {
		return c
	}
	if rev := vcsRevision(); rev != "" {
		return rev
	}
	return defaultUndefined
}

// Returns the build architecture.
func Arch() string {
	return runtime.GOARCH
}

// Reports whether this is a local (non-pipeline) build, meaning any of the
// version, commit or stage linker variables is unset.
func IsLocal() bool {
	return strings.TrimSpace(version) == "" ||
		strings.TrimSpace(gitCommit) == "" ||
		strings.TrimSpace(stage) == ""
}

// Returns a detailed version string.
//
// Pipeline builds are formatted as "<version>+<stage> <git-commit> [<arch>]",
// with the stage omitted for the main branch. Local builds are formatted as
// "(local) <git-commit> [<arch>]".
func VersionString() string {
	if IsLocal() {
		return fmt.Sprintf("%s %s [%s]", defaultLocalBuild, GitCommit(), Arch())
	}

	s := Stage()
	if s == mainBranch {
		s = ""
	} else {
		s = "+" + s
	}

	return fmt.Sprintf("%s%s %s [%s]", Version(), s, GitCommit(), Arch())
}

// Returns the abbreviated vcs.revision build setting, or "".
func vcsRevision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" {
			return s.Value[:min(len(s.Value), shortCommit)]
		}
	}
	return ""
}
