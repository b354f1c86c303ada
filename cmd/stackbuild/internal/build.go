package internal

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gookit/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sciforge/stackbuild/internal/paths"
	"github.com/sciforge/stackbuild/pkgs/archive"
	"github.com/sciforge/stackbuild/pkgs/run"
	"github.com/sciforge/stackbuild/pkgs/software"
	"github.com/sciforge/stackbuild/pkgs/toolchain"
	"github.com/sciforge/stackbuild/recipe"
)

var (
	buildQuiet      bool
	buildPrefix     string
	buildInstallDir string
)

var buildCmd = &cobra.Command{
	Use:   "build [config.yaml]",
	Short: "Build a package from its build config",
	Long:  `Build runs a recipe's configure, build, test, install and sanity-check steps for the package described by the given build config.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runBuild,
}

func init() {
	buildCmd.Flags().BoolVarP(&buildQuiet, "quiet", "q", false, "Suppress command output logging")
	buildCmd.Flags().StringVar(&buildPrefix, "prefix", "", "Installed-software tree for dependency resolution")
	buildCmd.Flags().StringVar(&buildInstallDir, "installdir", "", "Install prefix for this package")
	rootCmd.AddCommand(buildCmd)
}

// buildConfig is the operator-supplied build configuration record.
type buildConfig struct {
	Name      string `yaml:"name"`
	Version   string `yaml:"version"`
	Source    string `yaml:"source"`
	Prefix    string `yaml:"prefix"`
	Toolchain struct {
		Family   string `yaml:"family"`
		CC       string `yaml:"cc"`
		CXXFlags string `yaml:"cxxflags"`
		UseMPI   bool   `yaml:"usempi"`
		PIC      bool   `yaml:"pic"`
	} `yaml:"toolchain"`
	Options map[string]any `yaml:"options"`
}

func runBuild(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read build config: %w", err)
	}
	var bc buildConfig
	if err := yaml.Unmarshal(data, &bc); err != nil {
		return fmt.Errorf("failed to parse build config: %w", err)
	}
	if bc.Name == "" || bc.Version == "" {
		return fmt.Errorf("build config must set name and version")
	}

	factory, ok := recipe.Lookup(bc.Name)
	if !ok {
		return fmt.Errorf("no recipe for %q (known recipes: %s)", bc.Name, strings.Join(recipe.Names(), ", "))
	}
	r := factory()

	cfg := recipe.NewConfig(r.Options())
	for name, value := range bc.Options {
		if err := cfg.Set(name, value); err != nil {
			return err
		}
	}

	family, err := toolchain.ParseFamily(bc.Toolchain.Family)
	if err != nil {
		return err
	}

	buildDir := filepath.Join(paths.BuildRoot(), bc.Name+"-"+bc.Version)
	if err := os.MkdirAll(buildDir, 0o755); err != nil {
		return err
	}

	startDir, err := sourceDir(bc.Source, buildDir)
	if err != nil {
		return err
	}

	prefix := bc.Prefix
	if buildPrefix != "" {
		prefix = buildPrefix
	}
	if prefix == "" {
		prefix = paths.SoftwareRoot()
	}

	installDir := buildInstallDir
	if installDir == "" {
		installDir = paths.InstallDir(bc.Name, bc.Version)
	}

	ctx := &recipe.Context{
		Name:       bc.Name,
		Version:    bc.Version,
		StartDir:   startDir,
		BuildDir:   buildDir,
		InstallDir: installDir,
		Config:     cfg,
		Toolchain: &toolchain.Toolchain{
			Family:   family,
			CC:       bc.Toolchain.CC,
			CXXFlags: bc.Toolchain.CXXFlags,
			Options: toolchain.Options{
				UseMPI: bc.Toolchain.UseMPI,
				PIC:    bc.Toolchain.PIC,
			},
		},
		Software: &software.Resolver{Prefix: prefix},
		Runner:   &run.Runner{Dir: startDir, LogAll: !buildQuiet},
	}

	if err := recipe.Run(ctx, r); err != nil {
		color.Red.Printf("build of %s %s failed: %v\n", bc.Name, bc.Version, err)
		return err
	}
	color.Green.Printf("installed %s %s to %s\n", bc.Name, bc.Version, installDir)
	return nil
}

// sourceDir resolves the configured source: a directory is used as-is, an
// archive is extracted under buildDir.
func sourceDir(source, buildDir string) (string, error) {
	if source == "" {
		return "", fmt.Errorf("build config must set source")
	}
	info, err := os.Stat(source)
	if err != nil {
		return "", fmt.Errorf("failed to stat source %s: %w", source, err)
	}
	if info.IsDir() {
		return source, nil
	}
	return archive.Extract(source, filepath.Join(buildDir, "src"))
}
