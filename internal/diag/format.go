package diag

import (
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"katara/internal/ir/verify"
)

var (
	errorColor = color.New(color.FgRed, color.Bold)
	fatalColor = color.New(color.FgHiRed, color.Bold, color.Underline)
)

// FormatIssues renders a verifier pass's issues one per line, coloring the
// severity tag when w is attached to a real terminal (consistent with the
// teacher's own conditional terminal handling).
func FormatIssues(w io.Writer, issues []*verify.Issue) {
	colorize := isTerminal(w)
	for _, iss := range issues {
		tag := severityTag(iss.Severity)
		if colorize {
			tag = colorFor(iss.Severity).Sprint(tag)
		}
		fmt.Fprintf(w, "%s: %s (%s)\n", tag, iss.Message, iss.Kind)
	}
}

func severityTag(s verify.Severity) string {
	if s == verify.SeverityFatal {
		return "fatal"
	}
	return "error"
}

func colorFor(s verify.Severity) *color.Color {
	if s == verify.SeverityFatal {
		return fatalColor
	}
	return errorColor
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// FormatBytes renders a byte count in human terms; C7's sanitizing heap uses
// it for the total of unfreed bytes it reports at shutdown.
func FormatBytes(n uint64) string {
	return humanize.Bytes(n)
}
