// Package bazel assembles Bazel build invocations.
package bazel

import "strings"

// Bazel drives Bazel-based builds. Arguments are assembled deterministically:
// startup options first, then the build verb and its options in the order
// they were configured.
type Bazel struct {
	outputBase      string
	compilationMode string
	configs         []string
	copts           []string
	subcommands     bool
	verboseFailures bool
	extraOptions    string
}

// New returns a Bazel whose build state lives under outputBase instead of the
// shared user cache.
func New(outputBase string) *Bazel {
	return &Bazel{outputBase: outputBase}
}

// CompilationMode sets --compilation_mode (e.g. "opt", "dbg").
func (b *Bazel) CompilationMode(mode string) { b.compilationMode = mode }

// Config adds a --config=<name> option.
func (b *Bazel) Config(name string) { b.configs = append(b.configs, name) }

// Copt adds a --copt compiler flag.
func (b *Bazel) Copt(flag string) { b.copts = append(b.copts, flag) }

// VerboseFailures enables --subcommands and --verbose_failures.
func (b *Bazel) VerboseFailures() {
	b.subcommands = true
	b.verboseFailures = true
}

// ExtraOptions appends free-form user-supplied build options.
func (b *Bazel) ExtraOptions(opts string) { b.extraOptions = opts }

// BuildArgs returns the full argument list for building target.
func (b *Bazel) BuildArgs(target string) []string {
	args := []string{}
	if b.outputBase != "" {
		args = append(args, "--output_base="+b.outputBase)
	}
	args = append(args, "build")
	if b.compilationMode != "" {
		args = append(args, "--compilation_mode="+b.compilationMode)
	}
	for _, c := range b.configs {
		args = append(args, "--config="+c)
	}
	if b.subcommands {
		args = append(args, "--subcommands")
	}
	if b.verboseFailures {
		args = append(args, "--verbose_failures")
	}
	for _, c := range b.copts {
		args = append(args, "--copt="+c)
	}
	if b.extraOptions != "" {
		args = append(args, b.extraOptions)
	}
	return append(args, target)
}

// BuildCommand returns the shell command line for building target.
func (b *Bazel) BuildCommand(target string) string {
	return "bazel " + strings.Join(b.BuildArgs(target), " ")
}
