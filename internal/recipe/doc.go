// Package recipe builds an upstream tool from a source release.
//
// The recipe runs inside the disposable build environment, invoked as
// "cruxforge recipe <version> <destination>". It installs build dependencies
// with the environment's package manager, discards any previous build,
// downloads and unpacks the source archive, and runs the classic
// configure/make/make install sequence with the destination as prefix.
//
// Compile and install failures can be tolerated (see [Options.Tolerate]);
// a build is only rejected outright when no binary was installed. The
// cleanup step empties the destination, so concurrent recipes against the
// same destination are unsafe and must be avoided by the caller.
//
// All external effects other than the filesystem go through a [Toolchain].
// [System] is the production implementation.
package recipe
