package diag

import "fmt"

// Bug is a panic value for internal-invariant violations: conditions the
// compiler's own passes guarantee can't happen, as opposed to user-facing
// diagnostics (verify.Issue, irtext.ScanError/ParseError) which are returned,
// never panicked. Mirrors the teacher's errors.SentraError in shape
// (message + location-ish context) but is deliberately a narrower
// "internal bug" type rather than a user-recoverable error.
type Bug struct {
	Component string
	Message   string
}

func (b *Bug) Error() string {
	return fmt.Sprintf("katara: internal error in %s: %s", b.Component, b.Message)
}

// Raise panics with a *Bug, formatting Message like fmt.Sprintf.
func Raise(component, format string, args ...any) {
	panic(&Bug{Component: component, Message: fmt.Sprintf(format, args...)})
}
