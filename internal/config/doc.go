// Package config holds the settings of a cruxforge run.
//
// A [Config] starts from [Default] and is optionally overlaid with a YAML or
// TOML file via [Load]. Every knob of the build is here: the tool and
// version, the installation root, the overwrite and failure-tolerance
// policies, the container runtime connection, and the recipe inputs.
//
//	cfg, err := config.Load(paths.ConfigFile())
//	if err != nil {
//	    return err
//	}
//	if err := cfg.Validate(); err != nil {
//	    return err
//	}
package config
