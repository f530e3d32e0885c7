package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/mattn/go-isatty"

	"github.com/cruciblehq/cruxforge/internal"
	"github.com/cruciblehq/cruxforge/internal/config"
	"github.com/cruciblehq/cruxforge/internal/logging"
	"github.com/cruciblehq/cruxforge/internal/recipe"
)

// Command line of cruxforge.
type CLI struct {
	Quiet   bool       `short:"q" help:"Suppress informational output."`
	Verbose bool       `short:"v" help:"Enable verbose output."`
	Debug   bool       `short:"d" help:"Enable debug output."`
	Config  string     `short:"c" help:"Configuration file. Defaults to the first config.{yaml,yml,toml} in the XDG config directories." placeholder:"PATH" type:"path"`
	Build   BuildCmd   `cmd:"" default:"withargs" help:"Build the tool from source and install it with its launcher."`
	Recipe  RecipeCmd  `cmd:"" help:"Run the build recipe in the current environment."`
	Version VersionCmd `cmd:"" help:"Show version information."`
}

// Parsed command line.
var RootCmd CLI

// Parses arguments, configures logging, and runs the selected subcommand.
//
// Invalid arguments print usage and return an error wrapping [ErrUsage], so
// the process exits like any other failure.
func Execute() error {

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	parser, err := newParser(&RootCmd, kong.BindTo(ctx, (*context.Context)(nil)))
	if err != nil {
		return err
	}

	kongCtx, err := parse(parser, os.Args[1:])
	if err != nil {
		return err
	}

	configureLogger()

	return kongCtx.Run()
}

// Creates the command line parser for cli.
func newParser(cli *CLI, options ...kong.Option) (*kong.Kong, error) {
	defaults := config.Default()
	options = append([]kong.Option{
		kong.Name(internal.Name),
		kong.Description("Builds a tool from source in a disposable container and installs it into a relocatable tree."),
		kong.Vars{
			"version":         internal.VersionString(),
			"tool":            config.DefaultTool,
			"mirror":          config.DefaultMirror,
			"workdir":         config.DefaultWorkDir,
			"retries":         strconv.Itoa(config.DefaultRetries),
			"packages":        recipe.JoinList(defaults.Recipe.Packages),
			"package_update":  recipe.JoinList(defaults.Recipe.PackageUpdate),
			"package_install": recipe.JoinList(defaults.Recipe.PackageInstall),
		},
	}, options...)
	return kong.New(cli, options...)
}

// Parses args, printing usage for the selected command when they are invalid.
func parse(parser *kong.Kong, args []string) (*kong.Context, error) {
	kongCtx, err := parser.Parse(args)
	if err == nil {
		return kongCtx, nil
	}

	var parseErr *kong.ParseError
	if errors.As(err, &parseErr) && parseErr.Context != nil {
		parseErr.Context.PrintUsage(false)
	}
	return nil, fmt.Errorf("%w: %w", ErrUsage, err)
}

// Configures the global logger based on CLI flags.
func configureLogger() {
	internal.SetDebug(RootCmd.Debug || internal.IsDebug())
	internal.SetQuiet(RootCmd.Quiet || internal.IsQuiet())
	internal.SetVerbose(RootCmd.Verbose || internal.IsVerbose())

	handler, ok := slog.Default().Handler().(*logging.Handler)
	if !ok {
		return // Not our handler, nothing to configure
	}

	switch {
	case internal.IsDebug():
		handler.SetLevel(slog.LevelDebug)
	case internal.IsQuiet():
		handler.SetLevel(slog.LevelWarn)
	default:
		handler.SetLevel(slog.LevelInfo)
	}

	handler.SetVerbose(internal.IsVerbose())
	handler.SetOutput(os.Stderr, isatty.IsTerminal(os.Stderr.Fd()))
}
