package recipe

import (
	"errors"
	"testing"
)

// fakeRecipe records which steps ran and fails at a chosen step.
type fakeRecipe struct {
	ran    []string
	failAt string
}

func (f *fakeRecipe) Options() map[string]Option { return BaseOptions() }

func (f *fakeRecipe) step(name string) error {
	f.ran = append(f.ran, name)
	if f.failAt == name {
		return Fatalf("induced failure in %s", name)
	}
	return nil
}

func (f *fakeRecipe) Configure(*Context) error   { return f.step("configure") }
func (f *fakeRecipe) Build(*Context) error       { return f.step("build") }
func (f *fakeRecipe) Test(*Context) error        { return f.step("test") }
func (f *fakeRecipe) Install(*Context) error     { return f.step("install") }
func (f *fakeRecipe) SanityCheck(*Context) error { return f.step("sanity-check") }

func TestRunSequencesAllSteps(t *testing.T) {
	f := &fakeRecipe{}
	if err := Run(&Context{Name: "pkg", Version: "1.0"}, f); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []string{"configure", "build", "test", "install", "sanity-check"}
	if len(f.ran) != len(want) {
		t.Fatalf("ran %v, want %v", f.ran, want)
	}
	for i, name := range want {
		if f.ran[i] != name {
			t.Errorf("step %d = %q, want %q", i, f.ran[i], name)
		}
	}
}

func TestRunStopsAtFirstFailure(t *testing.T) {
	f := &fakeRecipe{failAt: "build"}
	err := Run(&Context{}, f)
	if err == nil {
		t.Fatal("expected failure")
	}
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("error type %T, want *Error", err)
	}
	if e.Step != "build" {
		t.Errorf("failing step = %q, want build", e.Step)
	}
	if len(f.ran) != 2 {
		t.Errorf("ran %v, want stop right after build", f.ran)
	}
}

func TestTagWrapsPlainErrors(t *testing.T) {
	e := tag("install", errors.New("boom"))
	if e.Step != "install" || e.Msg != "boom" {
		t.Errorf("tag = %+v", e)
	}
}

func TestRegistry(t *testing.T) {
	Register("TestOnly", func() Recipe { return &fakeRecipe{} })
	if _, ok := Lookup("testonly"); !ok {
		t.Error("Lookup is not case-insensitive")
	}
	if _, ok := Lookup("absent"); ok {
		t.Error("Lookup(absent) succeeded")
	}
	found := false
	for _, name := range Names() {
		if name == "testonly" {
			found = true
		}
	}
	if !found {
		t.Errorf("Names() = %v, missing testonly", Names())
	}
}

func TestFlagFor(t *testing.T) {
	if FlagFor(true) != Enabled || FlagFor(false) != Disabled {
		t.Error("FlagFor mapping broken")
	}
	if string(Enabled) != "1" || string(Disabled) != "0" {
		t.Error("flag values must be the literal strings 0 and 1")
	}
}
