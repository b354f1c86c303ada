// Package filetools provides the small filesystem helpers build recipes need.
package filetools

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// Mkdir creates dir and any missing parents.
func Mkdir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

// WriteFile writes content to path, creating parent directories as needed.
func WriteFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

// AdjustPermissions adds the given permission bits to path's mode.
func AdjustPermissions(path string, add os.FileMode) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	return os.Chmod(path, info.Mode().Perm()|add)
}

// ResolvePath resolves path to its canonical absolute form, following
// symlinks.
func ResolvePath(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	return filepath.Abs(resolved)
}

// Which locates tool on the given search path (colon-separated, PATH
// semantics). It returns "" when no executable regular file is found.
func Which(tool, searchPath string) string {
	for _, dir := range strings.Split(searchPath, string(os.PathListSeparator)) {
		if dir == "" {
			continue
		}
		candidate := filepath.Join(dir, tool)
		info, err := os.Stat(candidate)
		if err != nil || info.IsDir() {
			continue
		}
		if unix.Access(candidate, unix.X_OK) == nil {
			return candidate
		}
	}
	return ""
}
