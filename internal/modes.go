package internal

import (
	"strconv"
	"sync/atomic"
)

// Output modes. Seeded from linker flags at startup and raised by command
// line flags once they are parsed.
var (
	quietMode   atomic.Bool
	debugMode   atomic.Bool
	verboseMode atomic.Bool
)

func init() {
	seed(&quietMode, rawQuiet)
	seed(&debugMode, rawDebug)
	seed(&verboseMode, rawVerbose)
}

// Stores a linker flag value. Unparseable values leave the mode off.
func seed(mode *atomic.Bool, raw string) {
	if v, err := strconv.ParseBool(raw); err == nil {
		mode.Store(v)
	}
}

// Enables or disables quiet mode.
func SetQuiet(enabled bool) { quietMode.Store(enabled) }

// Reports whether quiet mode is enabled.
func IsQuiet() bool { return quietMode.Load() }

// Enables or disables debug mode.
func SetDebug(enabled bool) { debugMode.Store(enabled) }

// Reports whether debug mode is enabled.
func IsDebug() bool { return debugMode.Load() }

// Enables or disables verbose output.
func SetVerbose(enabled bool) { verboseMode.Store(enabled) }

// Reports whether verbose output is enabled.
func IsVerbose() bool { return verboseMode.Load() }
