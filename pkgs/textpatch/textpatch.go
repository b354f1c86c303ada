// Package textpatch applies ordered regex substitutions to generated
// build-tool configuration files.
package textpatch

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

// Rule is a single pattern/replacement substitution. Replacement may use
// $1-style group references.
type Rule struct {
	re   *regexp.Regexp
	repl string
}

// NewRule compiles pattern into a Rule. Use the (?m) flag for line-anchored
// patterns.
func NewRule(pattern, repl string) (Rule, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Rule{}, fmt.Errorf("compile substitution %q: %w", pattern, err)
	}
	return Rule{re: re, repl: repl}, nil
}

// MustRule is NewRule for constant patterns; it panics on a bad pattern.
func MustRule(pattern, repl string) Rule {
	r, err := NewRule(pattern, repl)
	if err != nil {
		panic(err)
	}
	return r
}

// Apply runs every rule against data in order and returns the result.
func Apply(data []byte, rules []Rule) []byte {
	for _, r := range rules {
		data = r.re.ReplaceAll(data, []byte(r.repl))
	}
	return data
}

// ApplyFile rewrites path with all rules applied, atomically replacing the
// file and preserving its mode.
func ApplyFile(path string, rules []Rule) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	patched := Apply(data, rules)

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".patch*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(patched); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Chmod(info.Mode().Perm()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
