// Package toolchain describes the active compiler toolchain for a build.
package toolchain

import "fmt"

// Family identifies a compiler family.
type Family int

const (
	GCC Family = iota
	Intel
)

func (f Family) String() string {
	switch f {
	case GCC:
		return "gcc"
	case Intel:
		return "intel"
	}
	return fmt.Sprintf("Family(%d)", int(f))
}

// ParseFamily maps a configuration string to a Family.
func ParseFamily(s string) (Family, error) {
	switch s {
	case "gcc", "GCC", "":
		return GCC, nil
	case "intel", "Intel":
		return Intel, nil
	}
	return GCC, fmt.Errorf("unknown toolchain family %q", s)
}

// Options are the toolchain-level build toggles recipes consult.
type Options struct {
	UseMPI bool `yaml:"usempi"`
	PIC    bool `yaml:"pic"`
}

// Toolchain is the descriptor handed to each recipe step.
type Toolchain struct {
	Family  Family
	Options Options

	// CC is the C compiler command (e.g. "gcc", "icc").
	CC string

	// CXXFlags are the optimization flags the toolchain compiles C++ with.
	CXXFlags string
}

// Compiler returns CC, defaulting per family when unset.
func (t *Toolchain) Compiler() string {
	if t.CC != "" {
		return t.CC
	}
	if t.Family == Intel {
		return "icc"
	}
	return "gcc"
}
