package recipe

import (
	"errors"

	"github.com/qiniu/x/log"
)

// StepNames lists the lifecycle steps in execution order.
var StepNames = []string{"configure", "build", "test", "install", "sanity-check"}

// Run sequences the lifecycle steps of r, stopping at the first failure. The
// returned error is always a *Error tagged with the failing step.
func Run(ctx *Context, r Recipe) error {
	steps := []struct {
		name string
		fn   func(*Context) error
	}{
		{"configure", r.Configure},
		{"build", r.Build},
		{"test", r.Test},
		{"install", r.Install},
		{"sanity-check", r.SanityCheck},
	}
	for _, step := range steps {
		log.Infof("%s step for %s %s", step.name, ctx.Name, ctx.Version)
		if err := step.fn(ctx); err != nil {
			return tag(step.name, err)
		}
	}
	return nil
}

// tag normalizes any step error into a *Error carrying the step name.
func tag(step string, err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		if e.Step == "" {
			e.Step = step
		}
		return e
	}
	return &Error{Step: step, Msg: err.Error()}
}
