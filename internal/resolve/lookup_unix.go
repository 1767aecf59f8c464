//go:build !windows

package resolve

import (
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// findExecutable reports whether dir/name is a regular file the current
// user may execute.
func findExecutable(dir, name string) (string, bool) {
	candidate := filepath.Join(dir, name)
	info, err := os.Stat(candidate)
	if err != nil || !info.Mode().IsRegular() {
		return "", false
	}
	if info.Mode().Perm()&0111 == 0 {
		return "", false
	}
	if err := unix.Access(candidate, unix.X_OK); err != nil {
		return "", false
	}
	return candidate, true
}
