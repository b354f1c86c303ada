package recipe

import "fmt"

// Error is the fatal build error: it aborts the remaining lifecycle steps of
// the package being built and is surfaced verbatim to the operator.
type Error struct {
	// Step names the lifecycle step that failed. The orchestrator fills it
	// in when the recipe left it empty.
	Step string
	Msg  string
}

func (e *Error) Error() string {
	if e.Step != "" {
		return e.Step + " step failed: " + e.Msg
	}
	return e.Msg
}

// Fatalf creates a fatal build error.
func Fatalf(format string, args ...any) *Error {
	return &Error{Msg: fmt.Sprintf(format, args...)}
}
