// Package launcher locates a relocated tool installation and runs it.
//
// A launcher binary sits at the root of an installation tree, named after
// the tool it fronts:
//
//	<root>/git                         launcher
//	<root>/bin/git                     real binary
//	<root>/libexec/git-core/           helper programs
//	<root>/share/git-core/templates/   repository templates
//
// Every path is derived from the launcher's own resolved location each time
// it runs, so the tree can be moved or mounted elsewhere without
// reconfiguration. The launcher sets the tool's template and exec path
// variables (GIT_TEMPLATE_DIR and GIT_EXEC_PATH for git) and then hands
// over to the real binary with its arguments untouched.
//
// Example usage:
//
//	exe, _ := os.Executable()
//	layout, err := launcher.Resolve(exe)
//	if err != nil {
//	    return err
//	}
//	return launcher.Exec(layout, os.Args[1:])
package launcher
