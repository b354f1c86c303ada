// Package software resolves installed software roots and versions, the way a
// modules-based HPC stack lays them out: <prefix>/<Name>/<version>/.
package software

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/mod/semver"
)

// Resolver answers "where is package X installed, and which version" queries
// for build recipes. Environment variables of the form SB_ROOT_<NAME> and
// SB_VERSION_<NAME> override the on-disk tree, which lets module systems
// inject their own resolution.
type Resolver struct {
	// Prefix is the root of the installed-software tree.
	Prefix string

	// Getenv reads environment overrides. When nil, os.Getenv is used.
	Getenv func(string) string
}

// Root returns the installation root of name, or "" when it is not installed.
func (r *Resolver) Root(name string) string {
	root, _ := r.resolve(name)
	return root
}

// Version returns the installed version of name, or "" when it is not
// installed.
func (r *Resolver) Version(name string) string {
	_, version := r.resolve(name)
	return version
}

// Have reports whether name resolves to an installation root.
func (r *Resolver) Have(name string) bool {
	return r.Root(name) != ""
}

func (r *Resolver) resolve(name string) (root, version string) {
	getenv := r.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	key := envKey(name)
	if root := getenv("SB_ROOT_" + key); root != "" {
		return root, getenv("SB_VERSION_" + key)
	}

	dir := filepath.Join(r.Prefix, name)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", ""
	}
	var versions []string
	for _, e := range entries {
		if e.IsDir() {
			versions = append(versions, e.Name())
		}
	}
	if len(versions) == 0 {
		return "", ""
	}
	sort.Slice(versions, func(i, j int) bool {
		return compareVersions(versions[i], versions[j]) < 0
	})
	latest := versions[len(versions)-1]
	return filepath.Join(dir, latest), latest
}

// compareVersions orders by semver when both versions parse as such, falling
// back to plain string comparison.
func compareVersions(a, b string) int {
	va, vb := "v"+a, "v"+b
	if semver.IsValid(va) && semver.IsValid(vb) {
		return semver.Compare(va, vb)
	}
	return strings.Compare(a, b)
}

// envKey maps a software name to its override variable suffix: uppercased,
// with anything outside [A-Z0-9] removed (cuDNN -> CUDNN, mkl-dnn -> MKLDNN).
func envKey(name string) string {
	var b strings.Builder
	for _, c := range strings.ToUpper(name) {
		if (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			b.WriteRune(c)
		}
	}
	return b.String()
}
