package recipe

import (
	"os"
	"sort"

	"github.com/qiniu/x/log"

	"github.com/sciforge/stackbuild/pkgs/run"
	"github.com/sciforge/stackbuild/pkgs/software"
	"github.com/sciforge/stackbuild/pkgs/toolchain"
)

// Context carries everything a recipe step needs. Environment variables set
// through it are not applied to the process: they are collected and handed to
// every spawned command as an explicit environment, so steps stay free of
// hidden cross-step coupling.
type Context struct {
	// Name and Version identify the package being built.
	Name    string
	Version string

	// StartDir is the unpacked source tree, BuildDir the scratch/output
	// directory, InstallDir the target prefix.
	StartDir   string
	BuildDir   string
	InstallDir string

	Config    *Config
	Toolchain *toolchain.Toolchain
	Software  *software.Resolver
	Runner    *run.Runner

	env map[string]string
}

// Setenv records an environment variable for all subsequently spawned
// commands.
func (c *Context) Setenv(key, value string) {
	if c.env == nil {
		c.env = make(map[string]string)
	}
	c.env[key] = value
}

// SetenvAll records all variables, logging them in sorted key order so build
// logs are reproducible.
func (c *Context) SetenvAll(vars map[string]string) {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		log.Infof("setting %s to %q", k, vars[k])
		c.Setenv(k, vars[k])
	}
}

// Getenv returns the recorded value for key, falling back to the process
// environment.
func (c *Context) Getenv(key string) string {
	if v, ok := c.env[key]; ok {
		return v
	}
	return os.Getenv(key)
}

// PrependPath puts dir first on the context's PATH.
func (c *Context) PrependPath(dir string) {
	if cur := c.Getenv("PATH"); cur != "" {
		dir += string(os.PathListSeparator) + cur
	}
	c.Setenv("PATH", dir)
}

// Environ returns the recorded variables as "KEY=value" pairs in sorted key
// order, ready to layer over a base environment.
func (c *Context) Environ() []string {
	keys := make([]string, 0, len(c.env))
	for k := range c.env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+c.env[k])
	}
	return out
}

// Run executes command in dir with the context's environment.
func (c *Context) Run(dir, command string) (string, error) {
	return c.Runner.RunIn(dir, command, c.Environ())
}
