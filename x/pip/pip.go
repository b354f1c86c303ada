// Package pip assembles pip packaging commands.
package pip

// InstallCommand returns the command installing wheel into prefix.
// --ignore-installed forces reinstallation: a same-numbered wheel from a
// different build must not be skipped as already satisfied.
func InstallCommand(wheel, prefix string) string {
	return "pip install --ignore-installed --prefix=" + prefix + " " + wheel
}
