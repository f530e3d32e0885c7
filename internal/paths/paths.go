package paths

import (
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

const (

	// Name used for directory and file naming.
	appName = "cruxforge"

	// Default permission mode for directories.
	DefaultDirMode os.FileMode = 0755

	// Default permission mode for files.
	DefaultFileMode os.FileMode = 0644

	// Permission mode for installed executables.
	ExecutableMode os.FileMode = 0755
)

// Config file names searched for in the configuration directory, in order.
var configNames = []string{"config.yaml", "config.yml", "config.toml"}

// Locates the configuration file.
//
// Every XDG config directory is searched for config.yaml, config.yml and
// config.toml, in that order. Returns an empty string when none exists, in
// which case built-in defaults apply.
func ConfigFile() string {
	for _, name := range configNames {
		if p, err := xdg.SearchConfigFile(filepath.Join(appName, name)); err == nil {
			return p
		}
	}
	return ""
}

// Default installation root for a tool.
//
//	Linux:   $XDG_DATA_HOME/cruxforge/<tool> or ~/.local/share/cruxforge/<tool>
//	macOS:   ~/Library/Application Support/cruxforge/<tool>
func Destination(tool string) string {
	return filepath.Join(xdg.DataHome, appName, tool)
}
