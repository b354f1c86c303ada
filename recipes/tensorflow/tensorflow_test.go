package tensorflow

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sciforge/stackbuild/pkgs/run"
	"github.com/sciforge/stackbuild/pkgs/software"
	"github.com/sciforge/stackbuild/pkgs/toolchain"
	"github.com/sciforge/stackbuild/recipe"
)

// commandLog is a fake runner capturing executed commands.
type commandLog struct {
	commands []string
	outputs  map[string]string
}

func (l *commandLog) exec(dir string, env []string, command string) (string, error) {
	l.commands = append(l.commands, command)
	for needle, out := range l.outputs {
		if strings.Contains(command, needle) {
			return out, nil
		}
	}
	return "", nil
}

func newContext(t *testing.T, tf *TensorFlow, prefix string) (*recipe.Context, *commandLog) {
	t.Helper()
	log := &commandLog{outputs: map[string]string{"sys.version_info": "3.6\n"}}
	cfg := recipe.NewConfig(tf.Options())
	ctx := &recipe.Context{
		Name:       "TensorFlow",
		Version:    "1.4.0",
		StartDir:   t.TempDir(),
		BuildDir:   t.TempDir(),
		InstallDir: t.TempDir(),
		Config:     cfg,
		Toolchain:  &toolchain.Toolchain{Family: toolchain.GCC},
		Software:   &software.Resolver{Prefix: prefix, Getenv: func(string) string { return "" }},
		Runner:     &run.Runner{Exec: log.exec},
	}
	return ctx, log
}

// installSoftware creates prefix/<name>/<version> plus any subdirectories.
func installSoftware(t *testing.T, prefix, name, version string, subdirs ...string) string {
	t.Helper()
	root := filepath.Join(prefix, name, version)
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, d := range subdirs {
		if err := os.MkdirAll(filepath.Join(root, d), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

// toolsDir creates executables for every CROSSTOOL tool plus extras.
func toolsDir(t *testing.T, extras ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, tool := range append(append([]string{}, crosstoolTools...), extras...) {
		if err := os.WriteFile(filepath.Join(dir, tool), []byte("#!/bin/sh\n"), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestConfigEnvVarsFeatureFlagCombos(t *testing.T) {
	for mask := 0; mask < 16; mask++ {
		cuda := mask&1 != 0
		cudnn := mask&2 != 0
		jemalloc := mask&4 != 0
		opencl := mask&8 != 0
		name := fmt.Sprintf("cuda=%v,cudnn=%v,jemalloc=%v,opencl=%v", cuda, cudnn, jemalloc, opencl)
		t.Run(name, func(t *testing.T) {
			prefix := t.TempDir()
			if cuda {
				installSoftware(t, prefix, "CUDA", "8.0.61")
			}
			if cudnn {
				installSoftware(t, prefix, "cuDNN", "6.0")
			}
			if jemalloc {
				installSoftware(t, prefix, "jemalloc", "5.0.1")
			}
			if opencl {
				installSoftware(t, prefix, "OpenCL", "2.2")
			}

			tf := &TensorFlow{}
			tf.PythonCmd = "/usr/bin/python"
			ctx, _ := newContext(t, tf, prefix)
			vars := tf.configEnvVars(ctx)

			for flag, present := range map[string]bool{
				"TF_NEED_CUDA":     cuda,
				"TF_NEED_JEMALLOC": jemalloc,
				"TF_NEED_OPENCL":   opencl,
			} {
				if got := vars[flag]; got != string(recipe.FlagFor(present)) {
					t.Errorf("%s = %q, want %q", flag, got, recipe.FlagFor(present))
				}
			}
			// Pinned-off features stay off regardless of presence.
			for _, flag := range []string{"TF_NEED_GCP", "TF_NEED_GDR", "TF_NEED_HDFS", "TF_NEED_S3", "TF_NEED_VERBS", "TF_ENABLE_XLA", "TF_CUDA_CLANG"} {
				if got := vars[flag]; got != "0" {
					t.Errorf("%s = %q, want 0", flag, got)
				}
			}
			if cudnn {
				if vars["TF_CUDNN_VERSION"] != "6.0" {
					t.Errorf("TF_CUDNN_VERSION = %q, want 6.0", vars["TF_CUDNN_VERSION"])
				}
			} else {
				for _, key := range []string{"CUDNN_INSTALL_PATH", "TF_CUDNN_VERSION"} {
					if _, ok := vars[key]; ok {
						t.Errorf("%s set without cuDNN", key)
					}
				}
			}
		})
	}
}

func TestConfigEnvVarsNoCUDAVarsWhenAbsent(t *testing.T) {
	tf := &TensorFlow{}
	tf.PythonCmd = "/usr/bin/python"
	ctx, _ := newContext(t, tf, t.TempDir())
	vars := tf.configEnvVars(ctx)
	for _, key := range []string{"CUDA_TOOLKIT_PATH", "GCC_HOST_COMPILER_PATH", "TF_CUDA_COMPUTE_CAPABILITIES", "TF_CUDA_VERSION"} {
		if _, ok := vars[key]; ok {
			t.Errorf("%s set without CUDA", key)
		}
	}
	if vars["TF_NEED_CUDA"] != "0" {
		t.Errorf("TF_NEED_CUDA = %q, want 0", vars["TF_NEED_CUDA"])
	}
}

func TestConfigEnvVarsCUDAPresent(t *testing.T) {
	prefix := t.TempDir()
	cudaRoot := installSoftware(t, prefix, "CUDA", "8.0.61")

	tf := &TensorFlow{}
	tf.PythonCmd = "/usr/bin/python"
	ctx, _ := newContext(t, tf, prefix)
	ctx.Setenv("PATH", toolsDir(t))
	if err := ctx.Config.Set("cuda_compute_capabilities", []string{"3.5", "5.2"}); err != nil {
		t.Fatal(err)
	}

	vars := tf.configEnvVars(ctx)
	if vars["CUDA_TOOLKIT_PATH"] != cudaRoot {
		t.Errorf("CUDA_TOOLKIT_PATH = %q, want %q", vars["CUDA_TOOLKIT_PATH"], cudaRoot)
	}
	if vars["TF_CUDA_COMPUTE_CAPABILITIES"] != "3.5,5.2" {
		t.Errorf("TF_CUDA_COMPUTE_CAPABILITIES = %q", vars["TF_CUDA_COMPUTE_CAPABILITIES"])
	}
	if vars["TF_CUDA_VERSION"] != "8.0.61" {
		t.Errorf("TF_CUDA_VERSION = %q", vars["TF_CUDA_VERSION"])
	}
	if !strings.HasSuffix(vars["GCC_HOST_COMPILER_PATH"], "/gcc") {
		t.Errorf("GCC_HOST_COMPILER_PATH = %q, want resolved gcc", vars["GCC_HOST_COMPILER_PATH"])
	}
}

// installGCC lays out a GCC tree the build step can derive include dirs from.
func installGCC(t *testing.T, prefix, name, version string) string {
	t.Helper()
	return installSoftware(t, prefix, name, version,
		"lib64",
		filepath.Join("lib", "gcc", "x86_64-pc-linux-gnu", version, "include"),
		filepath.Join("lib", "gcc", "x86_64-pc-linux-gnu", version, "include-fixed"),
		filepath.Join("include", "c++", version),
	)
}

func TestCrosstoolPatching(t *testing.T) {
	prefix := t.TempDir()
	installSoftware(t, prefix, "binutils", "2.28", "bin")
	installGCC(t, prefix, "GCCcore", "6.4.0")

	tf := &TensorFlow{}
	ctx, log := newContext(t, tf, prefix)
	bin := toolsDir(t)
	ctx.Setenv("PATH", bin)

	crosstool := filepath.Join(ctx.StartDir, "third_party", "toolchains")
	if err := os.MkdirAll(crosstool, 0o755); err != nil {
		t.Fatal(err)
	}
	content := strings.Join([]string{
		"toolchain {",
		`  tool_path { name: "gcc" path: "/usr/bin/gcc" }`,
		`  tool_path { name: "ld" path: "/usr/bin/ld" }`,
		`  cxx_builtin_include_directory: "/usr/lib/gcc/include"`,
		`  compiler_flag: "-B/usr/bin/"`,
		"}",
	}, "\n") + "\n"
	file := filepath.Join(crosstool, "CROSSTOOL.tpl")
	if err := os.WriteFile(file, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := tf.Build(ctx); err != nil {
		t.Fatalf("Build: %v", err)
	}

	patched, err := os.ReadFile(file)
	if err != nil {
		t.Fatal(err)
	}
	got := string(patched)
	for _, tool := range crosstoolTools {
		if strings.Contains(got, "/usr/bin/"+tool) {
			t.Errorf("patched file still references /usr/bin/%s:\n%s", tool, got)
		}
	}
	if !strings.Contains(got, filepath.Join(bin, "gcc")) {
		t.Errorf("patched file missing resolved gcc path:\n%s", got)
	}
	if strings.Contains(got, `cxx_builtin_include_directory: "/usr/lib/gcc/include"`) {
		t.Errorf("hardcoded include directory survived:\n%s", got)
	}
	if !strings.Contains(got, "include-fixed") {
		t.Errorf("derived include directories not injected:\n%s", got)
	}
	if len(log.commands) == 0 {
		t.Fatal("no build commands were run")
	}
}

func TestBuildFailsWithoutBinutils(t *testing.T) {
	prefix := t.TempDir()
	installGCC(t, prefix, "GCCcore", "6.4.0")

	tf := &TensorFlow{}
	ctx, _ := newContext(t, tf, prefix)
	ctx.Setenv("PATH", toolsDir(t))

	err := tf.Build(ctx)
	if err == nil || !strings.Contains(err.Error(), "binutils") {
		t.Fatalf("Build error = %v, want binutils resolution failure", err)
	}
}

func TestBuildFailsOnAmbiguousGCCIncludes(t *testing.T) {
	prefix := t.TempDir()
	installSoftware(t, prefix, "binutils", "2.28", "bin")
	root := installGCC(t, prefix, "GCCcore", "6.4.0")
	// A second matching target triple makes the include glob ambiguous.
	if err := os.MkdirAll(filepath.Join(root, "lib", "gcc", "x86_64-unknown-linux", "6.4.0", "include"), 0o755); err != nil {
		t.Fatal(err)
	}

	tf := &TensorFlow{}
	ctx, _ := newContext(t, tf, prefix)
	ctx.Setenv("PATH", toolsDir(t))

	err := tf.Build(ctx)
	if err == nil || !strings.Contains(err.Error(), "GCC include") {
		t.Fatalf("Build error = %v, want GCC include pinpoint failure", err)
	}
}

func TestBuildFailsOnMissingGCCIncludes(t *testing.T) {
	prefix := t.TempDir()
	installSoftware(t, prefix, "binutils", "2.28", "bin")
	installSoftware(t, prefix, "GCC", "6.4.0") // no include tree at all

	tf := &TensorFlow{}
	ctx, _ := newContext(t, tf, prefix)
	ctx.Setenv("PATH", toolsDir(t))

	err := tf.Build(ctx)
	if err == nil || !strings.Contains(err.Error(), "GCC include") {
		t.Fatalf("Build error = %v, want GCC include pinpoint failure", err)
	}
}

func TestBuildFailsOnUnresolvableTool(t *testing.T) {
	prefix := t.TempDir()
	installSoftware(t, prefix, "binutils", "2.28", "bin")
	installGCC(t, prefix, "GCCcore", "6.4.0")

	tf := &TensorFlow{}
	ctx, _ := newContext(t, tf, prefix)
	// PATH without dwp.
	dir := t.TempDir()
	for _, tool := range []string{"ar", "cpp", "gcc", "gcov", "ld", "nm", "objcopy", "objdump", "strip"} {
		if err := os.WriteFile(filepath.Join(dir, tool), []byte("#!/bin/sh\n"), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	ctx.Setenv("PATH", dir)

	err := tf.Build(ctx)
	if err == nil || !strings.Contains(err.Error(), "'dwp'") {
		t.Fatalf("Build error = %v, want dwp resolution failure", err)
	}
}

func TestBuildCommandWithCUDAAndMKLDNN(t *testing.T) {
	prefix := t.TempDir()
	installSoftware(t, prefix, "binutils", "2.28", "bin")
	installGCC(t, prefix, "GCCcore", "6.4.0")
	installSoftware(t, prefix, "CUDA", "8.0.61", "include", "lib64")

	tf := &TensorFlow{}
	ctx, log := newContext(t, tf, prefix)
	ctx.Setenv("PATH", toolsDir(t))
	ctx.Toolchain.Options.PIC = true
	if err := ctx.Config.Set("buildopts", "--jobs=8"); err != nil {
		t.Fatal(err)
	}

	if err := tf.Build(ctx); err != nil {
		t.Fatalf("Build: %v", err)
	}

	var bazelCmd string
	for _, cmd := range log.commands {
		if strings.HasPrefix(cmd, "bazel ") {
			bazelCmd = cmd
		}
	}
	if bazelCmd == "" {
		t.Fatalf("no bazel command in %v", log.commands)
	}
	for _, want := range []string{
		"--config=cuda",
		"--config=mkl",
		"--copt=-fPIC",
		"--jobs=8",
		pipPackageTarget,
	} {
		if !strings.Contains(bazelCmd, want) {
			t.Errorf("bazel command missing %q:\n%s", want, bazelCmd)
		}
	}

	last := log.commands[len(log.commands)-1]
	if !strings.HasPrefix(last, "bazel-bin/tensorflow/tools/pip_package/build_pip_package ") {
		t.Errorf("final command = %q, want build_pip_package invocation", last)
	}
}

func wheel(t *testing.T, dir, name string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte("wheel"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestInstallRequiresExactlyOneWheel(t *testing.T) {
	tf := &TensorFlow{}
	ctx, _ := newContext(t, tf, t.TempDir())

	if err := tf.Install(ctx); err == nil {
		t.Fatal("Install succeeded with no wheel")
	}

	wheel(t, ctx.BuildDir, "tensorflow-1.4.0-cp36-none-linux_x86_64.whl")
	wheel(t, ctx.BuildDir, "tensorflow-1.4.0-cp35-none-linux_x86_64.whl")
	if err := tf.Install(ctx); err == nil {
		t.Fatal("Install succeeded with two matching wheels")
	}
}

func TestInstallRunsPipAndTests(t *testing.T) {
	tf := &TensorFlow{}
	tf.PythonCmd = "/usr/bin/python"
	ctx, log := newContext(t, tf, t.TempDir())
	wheel(t, ctx.BuildDir, "tensorflow-1.4.0-cp36-none-linux_x86_64.whl")
	if err := ctx.Config.Set("runtest", true); err != nil {
		t.Fatal(err)
	}

	if err := tf.Install(ctx); err != nil {
		t.Fatalf("Install: %v", err)
	}

	if len(log.commands) != 3 {
		t.Fatalf("commands = %v, want pip install plus two test scripts", log.commands)
	}
	if !strings.Contains(log.commands[0], "pip install --ignore-installed --prefix="+ctx.InstallDir) {
		t.Errorf("pip command = %q", log.commands[0])
	}
	if !strings.Contains(log.commands[1], "mnist_softmax.py") || !strings.Contains(log.commands[1], "--data_dir") {
		t.Errorf("first test command = %q", log.commands[1])
	}
	if !strings.Contains(log.commands[2], "mnist_with_summaries.py") {
		t.Errorf("second test command = %q", log.commands[2])
	}
}

func TestConfigurePatchesConfigurePy(t *testing.T) {
	tf := &TensorFlow{}
	tf.PythonCmd = "/usr/bin/python"
	ctx, log := newContext(t, tf, t.TempDir())

	configurePy := filepath.Join(ctx.StartDir, "configure.py")
	if err := os.WriteFile(configurePy, []byte("run_shell(['bazel', 'clean'])\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := tf.Configure(ctx); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	data, err := os.ReadFile(configurePy)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "run_shell(['bazel', '--output_base=") {
		t.Errorf("configure.py not patched: %q", data)
	}

	last := log.commands[len(log.commands)-1]
	if !strings.HasPrefix(last, "./configure") {
		t.Errorf("final command = %q, want ./configure", last)
	}

	env := strings.Join(ctx.Environ(), "\n")
	for _, want := range []string{"TF_NEED_CUDA=0", "TF_NEED_JEMALLOC=0", "MPI_HOME="} {
		if !strings.Contains(env, want) {
			t.Errorf("context environment missing %q:\n%s", want, env)
		}
	}
}

func TestTestStepIsNoOp(t *testing.T) {
	tf := &TensorFlow{}
	ctx, log := newContext(t, tf, t.TempDir())
	if err := tf.Test(ctx); err != nil {
		t.Fatalf("Test: %v", err)
	}
	if len(log.commands) != 0 {
		t.Errorf("test step ran commands: %v", log.commands)
	}
}

func TestRecipeIsRegistered(t *testing.T) {
	factory, ok := recipe.Lookup("tensorflow")
	if !ok {
		t.Fatal("TensorFlow recipe not registered")
	}
	if _, ok := factory().(*TensorFlow); !ok {
		t.Error("factory does not produce a *TensorFlow")
	}
}
