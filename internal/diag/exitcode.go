package diag

// ExitCode mirrors the driver's process exit status, one value per distinct
// failure the katara-ir command can report (grounded on the original
// katara-ir driver's cmd::katara_ir::ErrorCode enum: kNoError,
// kMoreThanOneArgument, kParseFailed, kCheckFailed).
type ExitCode int

const (
	ExitNoError ExitCode = iota
	ExitMoreThanOneArgument
	ExitParseFailed
	ExitCheckFailed
	ExitInterpretFailed
)

func (c ExitCode) String() string {
	switch c {
	case ExitNoError:
		return "no error"
	case ExitMoreThanOneArgument:
		return "more than one argument"
	case ExitParseFailed:
		return "parse failed"
	case ExitCheckFailed:
		return "check failed"
	case ExitInterpretFailed:
		return "interpret failed"
	default:
		return "unknown error"
	}
}
