// Package pythonpkg is the base collaborator for recipes that install a
// Python package: interpreter discovery, site-packages layout and the shared
// sanity-check aggregation.
package pythonpkg

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/qiniu/x/log"

	"github.com/sciforge/stackbuild/pkgs/filetools"
	"github.com/sciforge/stackbuild/recipe"
)

// Package holds the Python packaging state shared by recipe steps.
type Package struct {
	// PythonCmd is the interpreter used for packaging and smoke tests.
	// When empty, Prepare resolves python3 (fallback python) on the search
	// path.
	PythonCmd string

	pylibdir string
}

// Prepare resolves the interpreter and derives the site-packages directory
// relative to the install prefix.
func (p *Package) Prepare(ctx *recipe.Context) error {
	if p.PythonCmd == "" {
		for _, candidate := range []string{"python3", "python"} {
			if path := filetools.Which(candidate, ctx.Getenv("PATH")); path != "" {
				p.PythonCmd = path
				break
			}
		}
	}
	if p.PythonCmd == "" {
		return recipe.Fatalf("failed to locate a Python interpreter on the search path")
	}
	log.Infof("using Python interpreter %s", p.PythonCmd)

	if p.pylibdir == "" {
		out, err := ctx.Run(ctx.BuildDir, p.PythonCmd+` -c 'import sys; print("%d.%d" % sys.version_info[:2])'`)
		if err != nil {
			return err
		}
		version := strings.TrimSpace(out)
		if version == "" {
			return recipe.Fatalf("failed to determine Python version via %s", p.PythonCmd)
		}
		p.pylibdir = filepath.Join("lib", "python"+version, "site-packages")
	}
	return nil
}

// PyLibDir returns the site-packages directory relative to the install
// prefix. It is only valid after Prepare.
func (p *Package) PyLibDir() string {
	return p.pylibdir
}

// SanityCheck asserts that files and dirs (relative to the install prefix)
// exist and that all commands succeed, aggregating every failure into one
// fatal error.
func (p *Package) SanityCheck(ctx *recipe.Context, files, dirs, commands []string) error {
	var failures []string

	for _, f := range files {
		full := filepath.Join(ctx.InstallDir, f)
		info, err := os.Stat(full)
		if err != nil || info.IsDir() {
			failures = append(failures, "missing file "+full)
		}
	}
	for _, d := range dirs {
		full := filepath.Join(ctx.InstallDir, d)
		info, err := os.Stat(full)
		if err != nil || !info.IsDir() {
			failures = append(failures, "missing directory "+full)
		}
	}
	for _, cmd := range commands {
		if _, err := ctx.Run(ctx.InstallDir, cmd); err != nil {
			failures = append(failures, err.Error())
		}
	}

	if len(failures) > 0 {
		return recipe.Fatalf("sanity check failed: %s", strings.Join(failures, "; "))
	}
	return nil
}
