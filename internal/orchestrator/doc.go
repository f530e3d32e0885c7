// Package orchestrator builds a tool from source inside a disposable
// environment and installs it into a relocatable tree on the host.
//
// A run moves through a fixed sequence of states:
//
//	init → destination-ready → environment-acquired → provisioned →
//	executed → verified → launcher-installed → torn-down
//
// The destination directory is bind-mounted into the environment at the
// same path, so the prefix the build is configured with is valid on the
// host as well. The recipe (the cruxforge binary itself, or a configured
// script) is copied in and run with exactly two positional parameters, the
// version and the destination; everything else reaches it through
// CRUXFORGE_* environment variables. Only the recipe's exit code is
// inspected. Once the environment has been acquired it is destroyed on
// every path out of [Orchestrator.Run].
//
// Every step is safe to repeat. Environments are named after their
// destination, so a container left behind by a crashed run is replaced by
// the next run against the same destination. Concurrent runs against one
// destination are not supported.
//
// Example usage:
//
//	cfg, err := config.Load(path)
//	if err != nil {
//	    return err
//	}
//	res, err := orchestrator.New(cfg, orchestrator.Containerd).Run(ctx)
//	if err != nil {
//	    return err
//	}
//	fmt.Println(res.Launcher)
package orchestrator
