// Parses flags and configures logging for cruxforge.
//
// Global flags:
//
//	-q, --quiet     Suppress informational output.
//	-v, --verbose   Enable verbose output.
//	-d, --debug     Enable debug output.
//	-c, --config    Configuration file path.
//
// Commands:
//
//	build (default)                 Build the tool and install it with its launcher.
//	recipe <version> <destination>  Run the build recipe in the current environment.
//	version                         Show version information.
//
// Flags override build-time defaults set via linker flags. After parsing, the
// global logger is reconfigured to reflect the final level and verbosity
// before the command runs.
package cli
