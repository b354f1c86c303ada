// Package run executes external build commands through the shell.
package run

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/qiniu/x/log"
)

// tailLimit bounds how much trailing output is attached to errors.
const tailLimit = 4096

// Runner runs shell command lines for build steps. Every command receives an
// explicit environment: the base environ overlaid with the caller-provided
// variables, so nothing depends on ambient process state.
type Runner struct {
	// Dir is the default working directory for commands.
	Dir string

	// Env is the base environment. When nil, os.Environ() is used.
	Env []string

	// LogAll streams all command output to the log.
	LogAll bool

	// Exec overrides process execution; used by tests to fake commands.
	// It returns the combined output and the command's exit error, if any.
	Exec func(dir string, env []string, command string) (string, error)
}

// Run executes command in the runner's default directory.
func (r *Runner) Run(command string, env []string) (string, error) {
	return r.RunIn(r.Dir, command, env)
}

// RunIn executes command in dir with the given extra environment variables
// (each "KEY=value") layered over the base environ. A non-zero exit status is
// returned as an error carrying the trailing output.
func (r *Runner) RunIn(dir, command string, env []string) (string, error) {
	full := r.environ(env)
	if r.LogAll {
		log.Infof("running command %q in %s", command, dir)
	}

	var out string
	var err error
	if r.Exec != nil {
		out, err = r.Exec(dir, full, command)
	} else {
		out, err = r.exec(dir, full, command)
	}
	if err != nil {
		return out, fmt.Errorf("command %q failed: %w (output: %s)", command, err, tail(out))
	}
	if r.LogAll {
		log.Infof("command %q completed", command)
	}
	return out, nil
}

func (r *Runner) exec(dir string, env []string, command string) (string, error) {
	cmd := exec.Command("/bin/sh", "-c", command)
	cmd.Dir = dir
	cmd.Env = env

	var buf bytes.Buffer
	if r.LogAll {
		cmd.Stdout = io.MultiWriter(&buf, os.Stdout)
		cmd.Stderr = io.MultiWriter(&buf, os.Stderr)
	} else {
		cmd.Stdout = &buf
		cmd.Stderr = &buf
	}
	err := cmd.Run()
	return buf.String(), err
}

// environ layers env over the base environment, later entries winning.
func (r *Runner) environ(env []string) []string {
	base := r.Env
	if base == nil {
		base = os.Environ()
	}
	if len(env) == 0 {
		return base
	}
	merged := make(map[string]int, len(base))
	out := make([]string, len(base), len(base)+len(env))
	copy(out, base)
	for i, kv := range out {
		if k, _, ok := strings.Cut(kv, "="); ok {
			merged[k] = i
		}
	}
	for _, kv := range env {
		k, _, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if i, seen := merged[k]; seen {
			out[i] = kv
		} else {
			merged[k] = len(out)
			out = append(out, kv)
		}
	}
	return out
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > tailLimit {
		s = "..." + s[len(s)-tailLimit:]
	}
	return s
}
