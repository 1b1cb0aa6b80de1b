package diag

import (
	"io"
	"log"
	"os"
)

// Logger is the one process-global diagnostic sink spec §5 refers to
// (debugger state transitions, interpreter trap reports). It wraps the
// standard log package rather than a structured-logging library, matching
// that none of the example pack's compiler-adjacent code pulls one in.
type Logger struct {
	*log.Logger
}

// Default writes to stderr with no timestamp prefix, matching the teacher's
// own terse status-line texture (internal/debugger/debugger.go) rather than
// log's default date/time prefix.
var Default = NewLogger(os.Stderr)

// NewLogger builds a Logger writing to w.
func NewLogger(w io.Writer) *Logger {
	return &Logger{Logger: log.New(w, "", 0)}
}
