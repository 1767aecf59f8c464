// Package resolve finds the real binary a shim stands in for.
//
// A shim is installed under a command's name in a directory that comes
// early in PATH. To delegate, it looks its own name up on the search path,
// drops the directory that lookup landed in (the shim's own), and looks
// the name up again. The second result is the real binary unless the shim
// is the only thing on the path by that name, in which case delegating
// would execute the shim again forever.
package resolve

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// SearchPath is an ordered list of directories to search for executables.
// It is a plain value: reducing it never touches the process environment.
type SearchPath []string

// SplitSearchPath splits a PATH value. Empty entries mean the current
// directory, as they do for shells.
func SplitSearchPath(value string) SearchPath {
	if value == "" {
		return nil
	}
	parts := filepath.SplitList(value)
	path := make(SearchPath, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			p = "."
		}
		path = append(path, p)
	}
	return path
}

// String joins the path back into PATH syntax.
func (p SearchPath) String() string {
	return strings.Join(p, string(filepath.ListSeparator))
}

// Without returns a copy of p with every entry naming dir removed.
// Entries are compared after cleaning and making them absolute, so
// "/opt/shims/" and "/opt/shims" are the same directory.
func (p SearchPath) Without(dir string) SearchPath {
	target := normalizeDir(dir)
	out := make(SearchPath, 0, len(p))
	for _, entry := range p {
		if normalizeDir(entry) != target {
			out = append(out, entry)
		}
	}
	return out
}

// Lookup returns the absolute path of the first executable called name in
// the search path.
func (p SearchPath) Lookup(name string) (string, error) {
	for _, dir := range p {
		if candidate, ok := findExecutable(dir, name); ok {
			abs, err := filepath.Abs(candidate)
			if err != nil {
				return "", err
			}
			return abs, nil
		}
	}
	return "", &NotFoundError{Name: name, Path: slices.Clone(p)}
}

func normalizeDir(dir string) string {
	if abs, err := filepath.Abs(dir); err == nil {
		return abs
	}
	return filepath.Clean(dir)
}

// NotFoundError reports that no executable by the invoked name exists on
// the search path.
type NotFoundError struct {
	Name string
	Path SearchPath
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: executable not found in search path %q", e.Name, e.Path.String())
}

// RecursionError reports that the only executable by the invoked name is
// the shim itself.
type RecursionError struct {
	Target string
	Self   string
}

func (e *RecursionError) Error() string {
	return fmt.Sprintf("%s resolves to the shim itself (%s); it must be installed as a link ahead of the real binary", e.Target, e.Self)
}

// Resolved is the outcome of a successful resolution.
type Resolved struct {
	// Path is the absolute path of the real binary.
	Path string
	// ExcludedDir is the directory dropped from the search path before the
	// second lookup.
	ExcludedDir string
}

// Resolve finds the binary that invokedPath (argv0) shadows.
// selfPath is the running shim image, as reported by os.Executable.
//
// When invokedPath contains a path separator it is taken as the first
// match without searching, the way a shell runs such names directly.
func Resolve(invokedPath, selfPath string, path SearchPath) (Resolved, error) {
	name := filepath.Base(invokedPath)

	var first string
	var err error
	if strings.ContainsRune(invokedPath, filepath.Separator) || strings.ContainsRune(invokedPath, '/') {
		first, err = filepath.Abs(invokedPath)
	} else {
		first, err = path.Lookup(name)
	}
	if err != nil {
		return Resolved{}, err
	}

	excluded := filepath.Dir(first)
	target, err := path.Without(excluded).Lookup(name)
	if err != nil {
		if sameFile(first, selfPath) {
			// Nothing but the shim answers to this name.
			return Resolved{}, &RecursionError{Target: first, Self: selfPath}
		}
		return Resolved{}, err
	}

	if sameFile(target, selfPath) {
		return Resolved{}, &RecursionError{Target: target, Self: selfPath}
	}
	return Resolved{Path: target, ExcludedDir: excluded}, nil
}

// sameFile compares paths after following symlinks. If either cannot be
// canonicalized the plain paths are compared.
func sameFile(a, b string) bool {
	ca, errA := filepath.EvalSymlinks(a)
	cb, errB := filepath.EvalSymlinks(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	if ca == cb {
		return true
	}
	// Hard links and bind mounts share an inode under different names.
	ia, errA := os.Stat(ca)
	ib, errB := os.Stat(cb)
	return errA == nil && errB == nil && os.SameFile(ia, ib)
}

