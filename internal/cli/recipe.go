package cli

import (
	"context"
	"os"

	"github.com/cruciblehq/cruxforge/internal/recipe"
)

// Represents the 'cruxforge recipe' command.
//
// Takes exactly the version and destination as arguments. Options arrive
// through CRUXFORGE_* environment variables, which is how the orchestrator
// passes them into a build environment. List values are newline separated.
type RecipeCmd struct {
	Release     string `arg:"" name:"version" help:"Upstream version to build."`
	Destination string `arg:"" help:"Absolute installation prefix."`

	Tool           string `env:"CRUXFORGE_TOOL" default:"${tool}" help:"Tool to build."`
	Mirror         string `env:"CRUXFORGE_MIRROR" default:"${mirror}" help:"Source archive URL template."`
	Packages       string `env:"CRUXFORGE_PACKAGES" default:"${packages}" help:"Build dependencies to install."`
	PackageUpdate  string `env:"CRUXFORGE_PACKAGE_UPDATE" default:"${package_update}" help:"Command refreshing package indexes."`
	PackageInstall string `env:"CRUXFORGE_PACKAGE_INSTALL" default:"${package_install}" help:"Command prefix installing packages."`
	ConfigureArgs  string `env:"CRUXFORGE_CONFIGURE_ARGS" help:"Extra ./configure arguments."`
	WorkDir        string `name:"workdir" env:"CRUXFORGE_WORKDIR" default:"${workdir}" help:"Scratch directory."`
	Jobs           int    `env:"CRUXFORGE_JOBS" help:"Parallel make jobs. 0 uses the CPU count."`
	Retries        int    `env:"CRUXFORGE_RETRIES" default:"${retries}" help:"Download retries."`
	Tolerate       bool   `env:"CRUXFORGE_TOLERATE" default:"true" negatable:"" help:"Tolerate extract, compile and install failures."`
	Overwrite      bool   `env:"CRUXFORGE_OVERWRITE" default:"true" negatable:"" help:"Replace an existing installation."`
}

// Executes the recipe command.
func (c *RecipeCmd) Run(ctx context.Context) error {
	tc := &recipe.System{
		Env:    []string{"DEBIAN_FRONTEND=noninteractive"},
		Stdout: os.Stderr,
		Stderr: os.Stderr,
	}

	_, err := recipe.Run(ctx, c.params(), c.options(), tc)
	return err
}

func (c *RecipeCmd) params() recipe.Params {
	return recipe.Params{Version: c.Release, Destination: c.Destination}
}

func (c *RecipeCmd) options() recipe.Options {
	return recipe.Options{
		Tool:           c.Tool,
		Mirror:         c.Mirror,
		Packages:       recipe.SplitList(c.Packages),
		PackageUpdate:  recipe.SplitList(c.PackageUpdate),
		PackageInstall: recipe.SplitList(c.PackageInstall),
		ConfigureArgs:  recipe.SplitList(c.ConfigureArgs),
		Jobs:           c.Jobs,
		Retries:        c.Retries,
		WorkDir:        c.WorkDir,
		Tolerate:       c.Tolerate,
		Overwrite:      c.Overwrite,
	}
}
