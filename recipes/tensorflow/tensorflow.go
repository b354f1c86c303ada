// Package tensorflow builds and installs TensorFlow via Bazel and a pip
// packaging step.
package tensorflow

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/qiniu/x/log"

	"github.com/sciforge/stackbuild/pkgs/filetools"
	"github.com/sciforge/stackbuild/pkgs/textpatch"
	"github.com/sciforge/stackbuild/pkgs/toolchain"
	"github.com/sciforge/stackbuild/pythonpkg"
	"github.com/sciforge/stackbuild/recipe"
	"github.com/sciforge/stackbuild/x/bazel"
	"github.com/sciforge/stackbuild/x/pip"
)

// Bazel resets the environment for sub-invocations, so $INTEL_LICENSE_FILE
// gets lost. The wrapper re-exports the license server location and include
// path before delegating to the real compiler.
// cfr. https://github.com/bazelbuild/bazel/issues/663
const intelCompilerWrapper = `#!/bin/bash
export INTEL_LICENSE_FILE='%s'
export CPATH='%s'
%s "$@"
`

const pipPackageTarget = "//tensorflow/tools/pip_package:build_pip_package"

// crosstoolTools are the binutils/GCC binaries whose /usr/bin paths are
// hardcoded in generated CROSSTOOL files.
var crosstoolTools = []string{"ar", "cpp", "dwp", "gcc", "gcov", "ld", "nm", "objcopy", "objdump", "strip"}

// TensorFlow is the build recipe for TensorFlow.
type TensorFlow struct {
	pythonpkg.Package
}

func init() {
	recipe.Register("TensorFlow", New)
}

// New returns a fresh TensorFlow recipe.
func New() recipe.Recipe {
	return &TensorFlow{}
}

// Options declares the recipe's configuration options.
func (t *TensorFlow) Options() map[string]recipe.Option {
	return recipe.MergeOptions(recipe.BaseOptions(), map[string]recipe.Option{
		// see https://developer.nvidia.com/cuda-gpus
		"cuda_compute_capabilities": {Default: []string{}, Help: "List of CUDA compute capabilities to build with"},
		"with_mkl_dnn":              {Default: true, Help: "Make TensorFlow use Intel MKL-DNN"},
	})
}

// Configure prepares the environment and runs TensorFlow's configure script
// non-interactively.
func (t *TensorFlow) Configure(ctx *recipe.Context) error {
	tmpdir, err := os.MkdirTemp("", "bazel-configure-")
	if err != nil {
		return err
	}

	if ctx.Toolchain.Family == toolchain.Intel {
		if err := t.wrapIntelCompiler(ctx, tmpdir); err != nil {
			return err
		}
	}

	if err := t.Prepare(ctx); err != nil {
		return err
	}

	ctx.SetenvAll(t.configEnvVars(ctx))

	// Keep Bazel out of the shared user cache during configuration by
	// pointing its internal invocation at a private output base.
	rule := textpatch.MustRule(`(run_shell\(\['bazel')`, "$1, '--output_base="+tmpdir+"'")
	if err := textpatch.ApplyFile(filepath.Join(ctx.StartDir, "configure.py"), []textpatch.Rule{rule}); err != nil {
		return err
	}

	_, err = ctx.Run(ctx.StartDir, "./configure </dev/null")
	return err
}

// wrapIntelCompiler synthesizes an icc wrapper script and puts it first on
// the search path.
func (t *TensorFlow) wrapIntelCompiler(ctx *recipe.Context, tmpdir string) error {
	icc := filetools.Which("icc", ctx.Getenv("PATH"))
	if icc == "" {
		return recipe.Fatalf("failed to determine path to 'icc'")
	}
	license := ctx.Getenv("INTEL_LICENSE_FILE")
	if license == "" {
		license = ctx.Getenv("LM_LICENSE_FILE")
	}

	wrapper := filepath.Join(tmpdir, "bin", "icc")
	content := fmt.Sprintf(intelCompilerWrapper, license, ctx.Getenv("CPATH"), icc)
	if err := filetools.WriteFile(wrapper, content); err != nil {
		return err
	}
	if err := filetools.AdjustPermissions(wrapper, 0o100); err != nil {
		return err
	}
	ctx.PrependPath(filepath.Dir(wrapper))
	log.Infof("using wrapper script for 'icc': %s", wrapper)
	return nil
}

// configEnvVars builds the environment controlling TensorFlow's configure
// script from the presence of the optional dependencies and toolchain
// options.
func (t *TensorFlow) configEnvVars(ctx *recipe.Context) map[string]string {
	cudaRoot := ctx.Software.Root("CUDA")
	cudnnRoot := ctx.Software.Root("cuDNN")
	jemallocRoot := ctx.Software.Root("jemalloc")
	openclRoot := ctx.Software.Root("OpenCL")

	vars := map[string]string{
		"CC_OPT_FLAGS":     ctx.Toolchain.CXXFlags,
		"MPI_HOME":         "",
		"PYTHON_BIN_PATH":  t.PythonCmd,
		"PYTHON_LIB_PATH":  filepath.Join(ctx.InstallDir, t.PyLibDir()),
		"TF_CUDA_CLANG":    string(recipe.Disabled),
		"TF_ENABLE_XLA":    string(recipe.Disabled), // XLA JIT support
		"TF_NEED_CUDA":     string(recipe.FlagFor(cudaRoot != "")),
		"TF_NEED_GCP":      string(recipe.Disabled), // Google Cloud Platform
		"TF_NEED_GDR":      string(recipe.Disabled),
		"TF_NEED_HDFS":     string(recipe.Disabled), // Hadoop File System
		"TF_NEED_JEMALLOC": string(recipe.FlagFor(jemallocRoot != "")),
		"TF_NEED_MPI":      string(recipe.FlagFor(ctx.Toolchain.Options.UseMPI)),
		"TF_NEED_OPENCL":   string(recipe.FlagFor(openclRoot != "")),
		"TF_NEED_S3":       string(recipe.Disabled), // Amazon S3 File System
		"TF_NEED_VERBS":    string(recipe.Disabled),
	}
	if cudaRoot != "" {
		vars["CUDA_TOOLKIT_PATH"] = cudaRoot
		vars["GCC_HOST_COMPILER_PATH"] = filetools.Which(ctx.Toolchain.Compiler(), ctx.Getenv("PATH"))
		vars["TF_CUDA_COMPUTE_CAPABILITIES"] = strings.Join(ctx.Config.Strings("cuda_compute_capabilities"), ",")
		vars["TF_CUDA_VERSION"] = ctx.Software.Version("CUDA")
	}
	if cudnnRoot != "" {
		vars["CUDNN_INSTALL_PATH"] = cudnnRoot
		vars["TF_CUDNN_VERSION"] = ctx.Software.Version("cuDNN")
	}
	return vars
}

// Build compiles TensorFlow and materializes the installable wheel.
func (t *TensorFlow) Build(ctx *recipe.Context) error {
	// pre-create target installation directory
	if err := filetools.Mkdir(filepath.Join(ctx.InstallDir, t.PyLibDir())); err != nil {
		return err
	}

	binutilsRoot := ctx.Software.Root("binutils")
	if binutilsRoot == "" {
		return recipe.Fatalf("failed to determine installation prefix for binutils")
	}
	binutilsBin := filepath.Join(binutilsRoot, "bin")

	gccRoot := ctx.Software.Root("GCCcore")
	gccVer := ctx.Software.Version("GCCcore")
	if gccRoot == "" {
		gccRoot = ctx.Software.Root("GCC")
		gccVer = ctx.Software.Version("GCC")
	}
	if gccRoot == "" {
		return recipe.Fatalf("failed to determine installation prefix for GCC")
	}

	gccLib64 := filepath.Join(gccRoot, "lib64")

	matches, err := doublestar.FilepathGlob(filepath.Join(gccRoot, "lib", "gcc", "*", gccVer, "include"))
	if err != nil {
		return err
	}
	if len(matches) != 1 {
		return recipe.Fatalf("failed to pinpoint location of GCC include files: %v", matches)
	}
	gccLibInc := matches[0]

	gccLibIncFixed := filepath.Join(filepath.Dir(gccLibInc), "include-fixed")
	if _, err := os.Stat(gccLibIncFixed); err != nil {
		return recipe.Fatalf("derived directory %s does not exist", gccLibIncFixed)
	}

	gccCxxInc := filepath.Join(gccRoot, "include", "c++", gccVer)
	if _, err := os.Stat(gccCxxInc); err != nil {
		return recipe.Fatalf("derived directory %s does not exist", gccCxxInc)
	}

	incPaths := []string{gccLibInc, gccLibIncFixed, gccCxxInc}
	libPaths := []string{gccLib64}

	cudaRoot := ctx.Software.Root("CUDA")
	if cudaRoot != "" {
		incPaths = append(incPaths, filepath.Join(cudaRoot, "include"))
		libPaths = append(libPaths, filepath.Join(cudaRoot, "lib64"))
	}

	rules, err := crosstoolRules(ctx, binutilsBin, incPaths, libPaths)
	if err != nil {
		return err
	}
	if err := patchCrosstoolFiles(ctx.StartDir, rules); err != nil {
		return err
	}

	tmpdir, err := os.MkdirTemp("", "bazel-build-")
	if err != nil {
		return err
	}

	bz := bazel.New(tmpdir)
	bz.CompilationMode("opt")
	bz.Config("opt")
	bz.VerboseFailures()
	if ctx.Toolchain.Options.PIC {
		bz.Copt("-fPIC")
	}
	bz.ExtraOptions(ctx.Config.String("buildopts"))
	if cudaRoot != "" {
		bz.Config("cuda")
	}
	if ctx.Config.Bool("with_mkl_dnn") {
		// this makes TensorFlow download & use mkl-dnn; using the full
		// Intel MKL doesn't work without additional effort
		bz.Config("mkl")
	}

	if _, err := ctx.Run(ctx.StartDir, bz.BuildCommand(pipPackageTarget)); err != nil {
		return err
	}

	_, err = ctx.Run(ctx.StartDir, "bazel-bin/tensorflow/tools/pip_package/build_pip_package "+ctx.BuildDir)
	return err
}

// crosstoolRules builds the substitutions fixing hardcoded binutils/GCC
// locations in generated CROSSTOOL files.
func crosstoolRules(ctx *recipe.Context, binutilsBin string, incPaths, libPaths []string) ([]textpatch.Rule, error) {
	libFlags := make([]string, len(libPaths))
	for i, p := range libPaths {
		libFlags[i] = "-L" + p + "/"
	}

	incDecls := make([]string, len(incPaths))
	for i, p := range incPaths {
		resolved, err := filetools.ResolvePath(p)
		if err != nil {
			return nil, recipe.Fatalf("failed to resolve include directory %s: %v", p, err)
		}
		incDecls[i] = `cxx_builtin_include_directory: "` + resolved + `"`
	}

	rules := []textpatch.Rule{
		textpatch.MustRule(`-B/usr/bin/`, "-B"+binutilsBin+"/ "+strings.Join(libFlags, " ")),
		textpatch.MustRule(`(?m)(cxx_builtin_include_directory:).*$`, ""),
		textpatch.MustRule(`(?m)^toolchain \{`, "toolchain {\n"+strings.Join(incDecls, "\n")),
	}

	for _, tool := range crosstoolTools {
		path := filetools.Which(tool, ctx.Getenv("PATH"))
		if path == "" {
			return nil, recipe.Fatalf("failed to determine path to '%s'", tool)
		}
		rules = append(rules, textpatch.MustRule(filepath.Join("/usr", "bin", tool), path))
	}

	if ctx.Toolchain.Options.PIC {
		// -fPIE/-pie and -fPIC are not compatible, so patch out hardcoded
		// occurrences of -fPIE & -pie
		rules = append(rules,
			textpatch.MustRule(`-fPIE`, "-fPIC"),
			textpatch.MustRule(`"-pie"`, `"-fPIC"`),
		)
	}
	return rules, nil
}

// patchCrosstoolFiles applies rules to every CROSSTOOL* file under the source
// tree.
func patchCrosstoolFiles(startDir string, rules []textpatch.Rule) error {
	matches, err := doublestar.Glob(os.DirFS(startDir), "**/CROSSTOOL*")
	if err != nil {
		return err
	}
	for _, rel := range matches {
		full := filepath.Join(startDir, rel)
		info, err := os.Stat(full)
		if err != nil {
			return err
		}
		if info.IsDir() {
			continue
		}
		log.Infof("patching %s", full)
		if err := textpatch.ApplyFile(full, rules); err != nil {
			return err
		}
	}
	return nil
}

// Test is a no-op: the upstream test suite is not reliable enough to gate
// builds on.
func (t *TensorFlow) Test(*recipe.Context) error {
	return nil
}

// Install installs the built wheel and optionally smoke-tests it with the
// bundled MNIST tutorial scripts.
func (t *TensorFlow) Install(ctx *recipe.Context) error {
	wheels, err := doublestar.FilepathGlob(filepath.Join(ctx.BuildDir, "tensorflow-"+ctx.Version+"-*.whl"))
	if err != nil {
		return err
	}
	if len(wheels) != 1 {
		return recipe.Fatalf("failed to isolate built .whl in %s: %v", ctx.BuildDir, wheels)
	}

	if _, err := ctx.Run(ctx.BuildDir, pip.InstallCommand(wheels[0], ctx.InstallDir)); err != nil {
		return err
	}

	// The MNIST scripts are part of the source tree, not the installed
	// wheel, so this cannot live in the sanity check.
	if ctx.Config.Bool("runtest") {
		pythonpath := filepath.Join(ctx.InstallDir, t.PyLibDir())
		if cur := ctx.Getenv("PYTHONPATH"); cur != "" {
			pythonpath += string(os.PathListSeparator) + cur
		}
		ctx.Setenv("PYTHONPATH", pythonpath)

		for _, script := range []string{"mnist_softmax.py", "mnist_with_summaries.py"} {
			tmpdir, err := os.MkdirTemp("", "tf-"+strings.TrimSuffix(script, ".py")+"-test-")
			if err != nil {
				return err
			}
			path := filepath.Join(ctx.StartDir, "tensorflow", "examples", "tutorials", "mnist", script)
			if _, err := ctx.Run(ctx.StartDir, t.PythonCmd+" "+path+" --data_dir "+tmpdir); err != nil {
				return err
			}
		}
	}
	return nil
}

// SanityCheck verifies the installation is minimally functional.
func (t *TensorFlow) SanityCheck(ctx *recipe.Context) error {
	files := []string{filepath.Join("bin", "tensorboard")}
	dirs := []string{t.PyLibDir()}
	commands := []string{
		t.PythonCmd + " -c 'import tensorflow'",
		// tf_should_use imports weakref.finalize, which requires
		// backports.weakref for Python < 3.4
		t.PythonCmd + " -c 'from tensorflow.python.util import tf_should_use'",
	}
	return t.Package.SanityCheck(ctx, files, dirs, commands)
}
