//go:build windows

package resolve

import (
	"os"
	"path/filepath"
	"strings"
)

// findExecutable tries dir/name as given and then with each PATHEXT
// extension, in PATHEXT order.
func findExecutable(dir, name string) (string, bool) {
	exts := []string{""}
	if filepath.Ext(name) == "" {
		exts = append(exts, pathExts()...)
	}
	for _, ext := range exts {
		candidate := filepath.Join(dir, name+ext)
		if info, err := os.Stat(candidate); err == nil && info.Mode().IsRegular() {
			if ext != "" || hasExecExt(name) {
				return candidate, true
			}
		}
	}
	return "", false
}

func pathExts() []string {
	v := os.Getenv("PATHEXT")
	if v == "" {
		return []string{".com", ".exe", ".bat", ".cmd"}
	}
	var exts []string
	for _, e := range strings.Split(strings.ToLower(v), ";") {
		if e == "" {
			continue
		}
		if e[0] != '.' {
			e = "." + e
		}
		exts = append(exts, e)
	}
	return exts
}

func hasExecExt(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range pathExts() {
		if e == ext {
			return true
		}
	}
	return false
}
