package launcher

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Paths of a tool installation, derived from the launcher's location.
type Layout struct {
	SelfDir     string // Installation root; the directory holding the launcher.
	Tool        string // Tool name, taken from the launcher's file name.
	Binary      string // The real binary, <root>/bin/<tool>.
	TemplateDir string // <root>/share/<tool>-core/templates.
	ExecPath    string // <root>/libexec/<tool>-core.
}

// Derives the installation layout from the launcher's path.
//
// The path is made absolute and every symlink is resolved, so a symlink to
// the launcher placed elsewhere still finds the tree the launcher lives in.
func Resolve(executable string) (Layout, error) {
	abs, err := filepath.Abs(executable)
	if err != nil {
		return Layout{}, fmt.Errorf("%w: %w", ErrResolve, err)
	}

	self, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return Layout{}, fmt.Errorf("%w: %w", ErrResolve, err)
	}

	return LayoutAt(filepath.Dir(self), filepath.Base(self)), nil
}

// Returns the layout of a tool installed under root.
func LayoutAt(root, tool string) Layout {
	core := tool + "-core"
	return Layout{
		SelfDir:     root,
		Tool:        tool,
		Binary:      filepath.Join(root, "bin", tool),
		TemplateDir: filepath.Join(root, "share", core, "templates"),
		ExecPath:    filepath.Join(root, "libexec", core),
	}
}

// Name of the variable pointing the tool at its templates.
func (l Layout) TemplateVar() string {
	return envPrefix(l.Tool) + "_TEMPLATE_DIR"
}

// Name of the variable pointing the tool at its helper programs.
func (l Layout) ExecPathVar() string {
	return envPrefix(l.Tool) + "_EXEC_PATH"
}

// Returns base with the layout's variables set.
//
// Entries already naming either variable are replaced. base itself is not
// modified.
func Environ(l Layout, base []string) []string {
	overrides := map[string]string{
		l.TemplateVar(): l.TemplateDir,
		l.ExecPathVar(): l.ExecPath,
	}

	env := make([]string, 0, len(base)+len(overrides))
	for _, entry := range base {
		k, _, _ := strings.Cut(entry, "=")
		if _, ok := overrides[k]; ok {
			continue
		}
		env = append(env, entry)
	}

	return append(env,
		l.TemplateVar()+"="+l.TemplateDir,
		l.ExecPathVar()+"="+l.ExecPath,
	)
}

// Upper-cases a tool name into an environment variable prefix.
func envPrefix(tool string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		}
		return '_'
	}, tool)
}
