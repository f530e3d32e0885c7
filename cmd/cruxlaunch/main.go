package main

import (
	"fmt"
	"os"

	"github.com/cruciblehq/cruxforge/internal/launcher"
)

// The entry point for the relocatable launcher.
//
// Installed at the root of a tool tree under the tool's name. Every
// argument is forwarded to the real binary; the launcher has no flags of
// its own. On success the process is replaced and main never returns.
func main() {
	exe, err := os.Executable()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[0], err)
		os.Exit(launcher.ExitNotExecutable)
	}

	os.Exit(launcher.Main(exe, os.Args[1:], os.Stderr))
}
