package recipe

// Flag is a feature toggle in the "0"/"1" form native build-tool configure
// scripts expect in their environment.
type Flag string

const (
	Disabled Flag = "0"
	Enabled  Flag = "1"
)

// FlagFor maps the presence of an optional dependency or toolchain option to
// the corresponding toggle value.
func FlagFor(present bool) Flag {
	if present {
		return Enabled
	}
	return Disabled
}
