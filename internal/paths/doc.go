// Provides platform-appropriate paths for cruxforge.
//
// All paths follow XDG conventions on Linux and platform-native conventions
// on macOS. The name "cruxforge" is used as the subdirectory under each base
// path. Installation trees default to a per-tool directory under the user's
// data home so a build never needs elevated privileges.
package paths
