package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cruciblehq/cruxforge/internal/config"
	"github.com/cruciblehq/cruxforge/internal/orchestrator"
	"github.com/cruciblehq/cruxforge/internal/paths"
)

// Represents the 'cruxforge build' command.
//
// Flags override the configuration file.
type BuildCmd struct {
	Tool        string `help:"Tool to build." placeholder:"NAME"`
	ToolVersion string `name:"tool-version" help:"Upstream version to build." placeholder:"VERSION"`
	Destination string `help:"Installation root." placeholder:"PATH" type:"path"`
	Image       string `help:"Base image reference or OCI archive path." placeholder:"IMAGE"`
	Strict      bool   `help:"Fail on any build step failure instead of tolerating benign ones."`
	NoOverwrite bool   `help:"Refuse to replace an existing installation."`
}

// Executes the build command.
func (c *BuildCmd) Run(ctx context.Context) error {
	path := RootCmd.Config
	if path == "" {
		path = paths.ConfigFile()
	}
	slog.Debug("configuration", "path", path)

	cfg, err := config.Load(path, c.apply)
	if err != nil {
		return err
	}

	res, err := orchestrator.New(cfg, orchestrator.Containerd).Run(ctx)
	if err != nil {
		return err
	}

	for _, w := range res.Warnings {
		slog.Warn(w)
	}

	slog.Info("build complete",
		"tool", cfg.Tool,
		"version", res.Version,
		"destination", res.Destination,
	)

	if res.Launcher != "" {
		fmt.Println(res.Launcher)
	} else {
		fmt.Println(res.Binary)
	}
	return nil
}

// Applies flags on top of the loaded configuration.
func (c *BuildCmd) apply(cfg *config.Config) {
	if c.Tool != "" {
		cfg.Tool = c.Tool
	}
	if c.ToolVersion != "" {
		cfg.Version = c.ToolVersion
	}
	if c.Destination != "" {
		cfg.Destination = c.Destination
	}
	if c.Image != "" {
		cfg.Environment.Image = c.Image
	}
	if c.Strict {
		cfg.Tolerate = false
	}
	if c.NoOverwrite {
		cfg.Overwrite = false
	}
}
