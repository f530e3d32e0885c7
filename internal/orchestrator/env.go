package orchestrator

import (
	"maps"
	"slices"
	"strconv"

	"github.com/cruciblehq/cruxforge/internal/config"
	"github.com/cruciblehq/cruxforge/internal/recipe"
)

// Prefix of the variables carrying recipe options into the environment.
const envPrefix = "CRUXFORGE_"

// Formats the recipe options of cfg as environment entries.
//
// List options are newline separated, so arguments may contain spaces. User-supplied recipe.env entries are
// applied last and win over the derived ones. Entries are sorted by key.
func recipeEnv(cfg config.Config) []string {
	r := cfg.Recipe
	env := map[string]string{
		envPrefix + "TOOL":            cfg.Tool,
		envPrefix + "MIRROR":          r.Mirror,
		envPrefix + "PACKAGES":        recipe.JoinList(r.Packages),
		envPrefix + "PACKAGE_UPDATE":  recipe.JoinList(r.PackageUpdate),
		envPrefix + "PACKAGE_INSTALL": recipe.JoinList(r.PackageInstall),
		envPrefix + "CONFIGURE_ARGS":  recipe.JoinList(r.ConfigureArgs),
		envPrefix + "WORKDIR":         r.WorkDir,
		envPrefix + "JOBS":            strconv.Itoa(r.Jobs),
		envPrefix + "RETRIES":         strconv.Itoa(r.Retries),
		envPrefix + "TOLERATE":        strconv.FormatBool(cfg.Tolerate),
		envPrefix + "OVERWRITE":       strconv.FormatBool(cfg.Overwrite),
		"DEBIAN_FRONTEND":             "noninteractive",
	}
	maps.Copy(env, r.Env)

	keys := slices.Sorted(maps.Keys(env))
	result := make([]string, 0, len(keys))
	for _, k := range keys {
		result = append(result, k+"="+env[k])
	}
	return result
}
