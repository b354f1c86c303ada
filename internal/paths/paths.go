// Package paths computes the default directory layout.
package paths

import (
	"path/filepath"

	"github.com/adrg/xdg"
)

// BuildRoot is where per-build source and scratch directories live.
func BuildRoot() string {
	return filepath.Join(xdg.CacheHome, "stackbuild", "build")
}

// SoftwareRoot is the installed-software tree dependency resolution queries.
func SoftwareRoot() string {
	return filepath.Join(xdg.DataHome, "stackbuild", "software")
}

// InstallDir is the default install prefix for a package version.
func InstallDir(name, version string) string {
	return filepath.Join(SoftwareRoot(), name, version)
}
